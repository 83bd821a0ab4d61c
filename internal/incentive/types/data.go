package types

import (
	"encoding/json"
	"strings"
)

type Resource string

const (
	Credits      Resource = "credits"
	Measurements Resource = "measurements"
	Incentives   Resource = "incentives"
	Commissions  Resource = "commissions"
	Deposits     Resource = "deposits"
)

// Resources lists the collections in the order they are queried and concatenated.
var Resources = []Resource{Credits, Measurements, Incentives, Commissions, Deposits}

// ResourceName strips the trailing "?" that resource paths are sometimes written with.
func ResourceName(s string) Resource {
	return Resource(strings.TrimSuffix(s, "?"))
}

const (
	ColPayeeID         = "PayeeId"
	ColPosition        = "Position"
	ColPeriod          = "Period"
	ColPipelineRunDate = "pipelineRunDate"
	ColName            = "name"
	ColValue           = "value"
	ColCurrency        = "Currency"
)

// Columns is the projection of every result table, in display order.
var Columns = []string{
	ColPayeeID,
	ColPosition,
	ColPeriod,
	ColPipelineRunDate,
	ColName,
	ColValue,
	ColCurrency,
}

// Query holds the form input for one run.
type Query struct {
	TenantName string `json:"tenant_name"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	PayeeID    string `json:"payee_id"`
	Month      string `json:"month"`
}

type Named struct {
	DisplayName *string `json:"displayName"`
}

type UnitType struct {
	Name *string `json:"name"`
}

type Amount struct {
	Value    *json.Number `json:"value"`
	UnitType *UnitType    `json:"unitType"`
}

// Record is one element of a collection array as returned by the API. Every
// nested object may be absent.
type Record struct {
	Payee           *Named  `json:"payee"`
	Position        *Named  `json:"position"`
	Period          *Named  `json:"period"`
	PipelineRunDate *string `json:"pipelineRunDate"`
	Name            *string `json:"name"`
	Value           *Amount `json:"value"`
}

// Row is a normalized result row. Value is nil when the upstream record carried no amount.
type Row struct {
	PayeeID         string   `json:"PayeeId"`
	Position        string   `json:"Position"`
	Period          string   `json:"Period"`
	PipelineRunDate string   `json:"pipelineRunDate"`
	Name            string   `json:"name"`
	Value           *float64 `json:"value"`
	Currency        string   `json:"Currency"`
}

const (
	ReasonMissing     = "missing"
	ReasonUnparseable = "unparseable"
)

// MissingField records a nested field that was absent, or present but not
// usable, while flattening. The cell is left empty either way.
type MissingField struct {
	Resource Resource `json:"resource"`
	Row      int      `json:"row"`
	Field    string   `json:"field"`
	Reason   string   `json:"reason"`
}
