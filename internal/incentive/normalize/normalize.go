package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/farxc/spm-results/internal/incentive/types"
	"github.com/farxc/spm-results/internal/incentive/utils"
	"github.com/farxc/spm-results/internal/logger"
	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

var ErrIncompleteBatch = errors.New("collection payload missing from batch")

const (
	FieldPayee           = "payee.displayName"
	FieldPosition        = "position.displayName"
	FieldPeriod          = "period.displayName"
	FieldPipelineRunDate = "pipelineRunDate"
	FieldName            = "name"
	FieldValue           = "value.value"
	FieldCurrency        = "value.unitType.name"
)

// columns accumulates one collection's flattened values.
type columns struct {
	payee, position, period, runDate, name, currency []string
	value                                            []float64
}

func newColumns(n int) *columns {
	return &columns{
		payee:    make([]string, 0, n),
		position: make([]string, 0, n),
		period:   make([]string, 0, n),
		runDate:  make([]string, 0, n),
		name:     make([]string, 0, n),
		currency: make([]string, 0, n),
		value:    make([]float64, 0, n),
	}
}

func (c *columns) frame() dataframe.DataFrame {
	return dataframe.New(
		series.New(c.payee, series.String, types.ColPayeeID),
		series.New(c.position, series.String, types.ColPosition),
		series.New(c.period, series.String, types.ColPeriod),
		series.New(c.runDate, series.String, types.ColPipelineRunDate),
		series.New(c.name, series.String, types.ColName),
		series.New(c.value, series.Float, types.ColValue),
		series.New(c.currency, series.String, types.ColCurrency),
	)
}

// EmptyFrame returns a table with the seven result columns and no rows.
func EmptyFrame() dataframe.DataFrame {
	return newColumns(0).frame()
}

func displayName(n *types.Named) *string {
	if n == nil {
		return nil
	}
	return n.DisplayName
}

type fieldIssue struct {
	field  string
	reason string
	raw    string
}

// flatten appends one record to the columns and reports which nested fields
// were absent or could not be read.
func (c *columns) flatten(rec types.Record) []fieldIssue {
	var issues []fieldIssue
	str := func(field string, p *string) string {
		v, ok := utils.Deref(p)
		if !ok {
			issues = append(issues, fieldIssue{field: field, reason: types.ReasonMissing})
		}
		return v
	}

	c.payee = append(c.payee, str(FieldPayee, displayName(rec.Payee)))
	c.position = append(c.position, str(FieldPosition, displayName(rec.Position)))
	c.period = append(c.period, str(FieldPeriod, displayName(rec.Period)))
	c.runDate = append(c.runDate, str(FieldPipelineRunDate, rec.PipelineRunDate))
	c.name = append(c.name, str(FieldName, rec.Name))

	value := math.NaN()
	var currency *string
	var raw *json.Number
	if rec.Value != nil {
		raw = rec.Value.Value
		if rec.Value.UnitType != nil {
			currency = rec.Value.UnitType.Name
		}
	}
	if raw == nil {
		issues = append(issues, fieldIssue{field: FieldValue, reason: types.ReasonMissing})
	} else if f, err := raw.Float64(); err != nil || math.IsInf(f, 0) {
		// Out of range numbers such as 1e400 decode as json.Number but not as float64.
		issues = append(issues, fieldIssue{field: FieldValue, reason: types.ReasonUnparseable, raw: raw.String()})
	} else {
		value = f
	}
	c.value = append(c.value, value)
	c.currency = append(c.currency, str(FieldCurrency, currency))

	return issues
}

// DecodeCollection parses one raw JSON array into records.
func DecodeCollection(resource types.Resource, raw json.RawMessage) ([]types.Record, error) {
	var records []types.Record
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, &types.FetchError{Resource: resource, Kind: types.KindMalformed, Err: fmt.Errorf("decode records: %w", err)}
	}
	return records, nil
}

// TruncateRunDates cuts every pipelineRunDate cell down to its date part.
func TruncateRunDates(df dataframe.DataFrame) dataframe.DataFrame {
	dates := df.Col(types.ColPipelineRunDate).Records()
	for i, d := range dates {
		dates[i] = utils.TruncateDate(d)
	}
	return df.Mutate(series.New(dates, series.String, types.ColPipelineRunDate))
}

/*
Normalize turns the five collection payloads into one table.

Collections are concatenated in the fixed resource order with their own row
order kept. Nested objects are flattened into PayeeId, Position, Period, value
and Currency, pipelineRunDate is cut to its date part and the result is
projected onto types.Columns. A missing nested field leaves an empty cell (NaN
for value) and is reported in the returned slice instead of failing the run.
*/
func Normalize(payloads map[types.Resource]json.RawMessage, appLogger *logger.Logger) (dataframe.DataFrame, []types.MissingField, error) {
	const component = "Normalizer"

	combined := EmptyFrame()
	var missing []types.MissingField

	for _, resource := range types.Resources {
		raw, ok := payloads[resource]
		if !ok {
			return dataframe.DataFrame{}, nil, fmt.Errorf("%w: %s", ErrIncompleteBatch, resource)
		}

		records, err := DecodeCollection(resource, raw)
		if err != nil {
			return dataframe.DataFrame{}, nil, err
		}

		cols := newColumns(len(records))
		missingInCollection := 0
		for i, rec := range records {
			for _, issue := range cols.flatten(rec) {
				if issue.reason == types.ReasonUnparseable {
					appLogger.Warn(component, "Unparseable value: resource=%s row=%d field=%s raw=%s", resource, i, issue.field, issue.raw)
				}
				missing = append(missing, types.MissingField{Resource: resource, Row: i, Field: issue.field, Reason: issue.reason})
				missingInCollection++
			}
		}
		if missingInCollection > 0 {
			appLogger.Warn(component, "Records with missing fields: resource=%s records=%d missingFields=%d", resource, len(records), missingInCollection)
		}

		combined = combined.RBind(cols.frame())
		if combined.Error() != nil {
			return dataframe.DataFrame{}, nil, fmt.Errorf("error concatenating %s: %v", resource, combined.Error())
		}
		appLogger.Debug(component, "Collection normalized: resource=%s rows=%d", resource, len(records))
	}

	combined = TruncateRunDates(combined)
	if combined.Error() != nil {
		return dataframe.DataFrame{}, nil, fmt.Errorf("error truncating run dates: %v", combined.Error())
	}

	combined = combined.Select(types.Columns)
	if combined.Error() != nil {
		return dataframe.DataFrame{}, nil, fmt.Errorf("error selecting columns: %v", combined.Error())
	}

	appLogger.Info(component, "Normalization completed: rows=%d columns=%d missingFields=%d", combined.Nrow(), combined.Ncol(), len(missing))
	return combined, missing, nil
}
