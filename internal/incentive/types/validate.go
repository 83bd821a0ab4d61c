package types

import (
	"fmt"
	"regexp"
)

var tenantPattern = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?$`)

// Validate checks that every field is present and the tenant can be used as a subdomain.
func (q Query) Validate() error {
	fields := []struct {
		name  string
		value string
	}{
		{"tenant name", q.TenantName},
		{"username", q.Username},
		{"password", q.Password},
		{"payee id", q.PayeeID},
		{"month", q.Month},
	}
	for _, f := range fields {
		if f.value == "" {
			return fmt.Errorf("%w: %s is empty", ErrMissingField, f.name)
		}
	}

	if !tenantPattern.MatchString(q.TenantName) {
		return fmt.Errorf("%w: %q", ErrInvalidTenant, q.TenantName)
	}
	return nil
}
