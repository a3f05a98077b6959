package document

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/schema"
)

// StoredField is one stored value read back from a snapshot. Value is a
// string, float64 or bool. ArrayPositions locates the value inside arrays
// of the original document.
type StoredField struct {
	Name           string
	ArrayPositions []uint64
	Value          any
}

// Render turns the stored fields of one hit into displayable values. Object
// fields come back as the JSON text they were indexed with.
func Render(reg *schema.Registry, stored []StoredField) map[string]any {
	out := make(map[string]any, len(stored))
	grouped := make(map[string][]StoredField)
	for _, sf := range stored {
		if f, ok := reg.FieldForSource(sf.Name); ok {
			out[f.Name] = display(sf.Value)
			continue
		}
		root, _, nested := strings.Cut(sf.Name, ".")
		if f, ok := reg.Field(root); ok && f.Kind == schema.KindObject {
			continue
		}
		if nested {
			root = sf.Name
		}
		grouped[root] = append(grouped[root], sf)
	}

	for name, values := range grouped {
		sortByPosition(values)
		f, known := reg.Field(name)
		switch {
		case known && f.Kind == schema.KindTagText:
			tags := make([]string, 0, len(values))
			for _, v := range values {
				tags = append(tags, display(v.Value))
			}
			out[name] = tags
		case known && f.Kind == schema.KindInteger:
			out[name] = displayInteger(values[0].Value)
		case len(values) == 1:
			out[name] = display(values[0].Value)
		default:
			list := make([]string, 0, len(values))
			for _, v := range values {
				list = append(list, display(v.Value))
			}
			out[name] = list
		}
	}
	return out
}

func sortByPosition(values []StoredField) {
	slices.SortStableFunc(values, func(a, b StoredField) int {
		return slices.Compare(a.ArrayPositions, b.ArrayPositions)
	})
}

func display(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func displayInteger(v any) string {
	if f, ok := v.(float64); ok {
		return strconv.FormatInt(int64(f), 10)
	}
	return display(v)
}
