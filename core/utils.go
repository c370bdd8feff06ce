package core

import (
	"strings"

	"github.com/kat-co/vala"
)

// CleanString trims all leading and trailing whitespace in `s` and optionally lowers it.
func CleanString(s string, lower ...bool) string {
	s = strings.TrimSpace(s)
	if len(lower) > 0 && lower[0] {
		return strings.ToLower(s)
	}
	return s
}

// RequireIDs checks that every named ID is set. names and ids are paired by position.
func RequireIDs(names []string, ids ...string) error {
	checks := make([]vala.Checker, 0, len(ids))
	for i, id := range ids {
		checks = append(checks, vala.StringNotEmpty(strings.TrimSpace(id), names[i]))
	}
	if err := vala.BeginValidation().Validate(checks...).Check(); err != nil {
		return NewValidationError(err)
	}
	return nil
}
