// Package validator checks the shape of mutation events before they reach
// the write coordinator. Document contents are not validated here; the
// document mapper owns that.
package validator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/ingestion"
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s:%s", field, msg))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

// ValidateMutation checks that e names a known op and carries what that op
// needs.
func ValidateMutation(e *ingestion.MutationEvent) error {
	errs := make(map[string]string)

	switch e.Op {
	case ingestion.OpIndex, ingestion.OpUpdate:
		if e.Document == nil {
			errs["document"] = fmt.Sprintf("document is required for %s", e.Op)
		}
	case ingestion.OpDelete:
		if strings.TrimSpace(e.ID) == "" {
			errs["id"] = "id is required"
		}
	case "":
		errs["op"] = "op is required"
	default:
		errs["op"] = fmt.Sprintf("unknown op %q", e.Op)
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
