package export

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/farxc/spm-results/internal/incentive/types"
	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

var ErrUnknownEncoding = errors.New("unknown csv encoding")

const (
	EncodingUTF8        = "utf-8"
	EncodingWindows1252 = "windows-1252"
	EncodingISO88591    = "iso-8859-1"
)

var charsets = map[string]encoding.Encoding{
	EncodingWindows1252: charmap.Windows1252,
	"cp1252":            charmap.Windows1252,
	EncodingISO88591:    charmap.ISO8859_1,
	"latin1":            charmap.ISO8859_1,
}

// Charset resolves an encoding name. UTF-8 (or "") resolves to nil, meaning no transcoding.
func Charset(name string) (encoding.Encoding, string, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	switch key {
	case "", EncodingUTF8, "utf8":
		return nil, EncodingUTF8, nil
	}
	enc, ok := charsets[key]
	if !ok {
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownEncoding, name)
	}
	if enc == charmap.Windows1252 {
		return enc, EncodingWindows1252, nil
	}
	return enc, EncodingISO88591, nil
}

// ContentType returns the Content-Type header for a CSV export in the named encoding.
func ContentType(name string) string {
	_, canonical, err := Charset(name)
	if err != nil {
		canonical = EncodingUTF8
	}
	return "text/csv; charset=" + canonical
}

func formatValue(f float64) string {
	if math.IsNaN(f) {
		return ""
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// formatValues replaces the float value column with its display form so the CSV
// carries "1250.5" rather than "1250.500000" and an empty cell for absent amounts.
func formatValues(df dataframe.DataFrame) dataframe.DataFrame {
	values := df.Col(types.ColValue)
	formatted := make([]string, values.Len())
	for i := 0; i < values.Len(); i++ {
		elem := values.Elem(i)
		if elem.IsNA() {
			continue
		}
		formatted[i] = formatValue(elem.Float())
	}
	return df.Mutate(series.New(formatted, series.String, types.ColValue))
}

/*
WriteCSV writes the table as comma separated values: a header row with the
column names, then one line per row in table order. Characters that do not
exist in the target charset are replaced.
*/
func WriteCSV(w io.Writer, df dataframe.DataFrame, encodingName string) error {
	enc, _, err := Charset(encodingName)
	if err != nil {
		return err
	}

	out := formatValues(df.Select(types.Columns))
	if out.Error() != nil {
		return fmt.Errorf("error preparing csv: %v", out.Error())
	}

	if enc == nil {
		return out.WriteCSV(w)
	}

	tw := transform.NewWriter(w, encoding.ReplaceUnsupported(enc.NewEncoder()))
	if err := out.WriteCSV(tw); err != nil {
		return err
	}
	return tw.Close()
}
