package client

import (
	"net/url"
	"strings"

	"github.com/farxc/spm-results/internal/incentive/types"
)

// DefaultBaseURL is the production endpoint. {tenant} is replaced with the tenant name.
const DefaultBaseURL = "https://{tenant}.callidusondemand.com/api/v2/"

const (
	expandFields = "payee,position,period"
	selectFields = "payee,period,position,pipelineRunDate,name,value"
	pageSkip     = "0"
	pageTop      = "100"
	sortOrder    = "pipelineRunDate asc"
)

type param struct {
	key   string
	value string
}

// FilterExpression builds the OData filter for one payee and period.
// Single quotes inside values are doubled as OData string literals require.
func FilterExpression(payeeID, month string) string {
	return "payee/payeeId eq '" + quoteLiteral(payeeID) + "' and period/name eq '" + quoteLiteral(month) + "'"
}

func quoteLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func queryParams(payeeID, month string) []param {
	return []param{
		{"expand", expandFields},
		{"$filter", FilterExpression(payeeID, month)},
		{"select", selectFields},
		{"skip", pageSkip},
		{"top", pageTop},
		{"orderBy", sortOrder},
		{"inlineCount", "true"},
	}
}

func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// BuildURL returns the request URL for one collection. It performs no I/O and
// never fails; parameter order is fixed.
func BuildURL(baseURL, tenant string, resource types.Resource, payeeID, month string) string {
	base := strings.ReplaceAll(baseURL, "{tenant}", tenant)
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}

	var sb strings.Builder
	sb.WriteString(base)
	sb.WriteString(url.PathEscape(string(types.ResourceName(string(resource)))))
	sb.WriteByte('?')
	for i, p := range queryParams(payeeID, month) {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(p.key)
		sb.WriteByte('=')
		sb.WriteString(escape(p.value))
	}
	return sb.String()
}
