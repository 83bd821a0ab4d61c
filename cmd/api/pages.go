package main

import (
	"bytes"
	"embed"
	"encoding/base64"
	"html/template"
	"net/http"
	"strconv"

	"github.com/farxc/spm-results/internal/incentive"
	"github.com/farxc/spm-results/internal/incentive/export"
	"github.com/farxc/spm-results/internal/incentive/types"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageFuncs = template.FuncMap{
	"value": func(v *float64) string {
		if v == nil {
			return ""
		}
		return strconv.FormatFloat(*v, 'f', -1, 64)
	},
}

func parsePages() (*template.Template, error) {
	return template.New("pages").Funcs(pageFuncs).ParseFS(templateFS, "templates/*.html")
}

// formValues repopulates the form after a submit. The password is never echoed back.
type formValues struct {
	TenantName string
	Username   string
	PayeeID    string
	Month      string
	Encoding   string
}

type resultView struct {
	RunID    string
	Columns  []string
	Rows     []types.Row
	Missing  int
	Encoding string
	CSVFile  string
	CSVHref  template.URL
}

func (v *resultView) Empty() bool {
	return len(v.Rows) == 0
}

type pageData struct {
	Form      formValues
	Error     string
	Result    *resultView
	PageSize  int
	Encodings []string
}

func (app *application) newPageData(q types.Query) *pageData {
	return &pageData{
		Form: formValues{
			TenantName: q.TenantName,
			Username:   q.Username,
			PayeeID:    q.PayeeID,
			Month:      q.Month,
		},
		PageSize:  app.config.pageSize,
		Encodings: []string{export.EncodingUTF8, export.EncodingWindows1252, export.EncodingISO88591},
	}
}

// newResultView embeds the CSV export of the displayed table as a data URI, so
// the download holds exactly the rows on screen without another upstream run.
func newResultView(result *incentive.Result, encodingName string) (*resultView, error) {
	_, canonical, err := export.Charset(encodingName)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, result.Frame, canonical); err != nil {
		return nil, err
	}

	return &resultView{
		RunID:    result.RunID,
		Columns:  types.Columns,
		Rows:     result.Rows,
		Missing:  len(result.Missing),
		Encoding: canonical,
		CSVFile:  csvFilename(result.RunID),
		CSVHref:  template.URL("data:text/csv;charset=" + canonical + ";base64," + base64.StdEncoding.EncodeToString(buf.Bytes())),
	}, nil
}

func (app *application) renderPage(w http.ResponseWriter, r *http.Request, status int, data *pageData) {
	var buf bytes.Buffer
	if err := app.pages.ExecuteTemplate(&buf, "page.html", data); err != nil {
		app.requestLogger(r).Error("Pages", "Failed to render page: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}
