package engine

import (
	"net/http"
	"strings"

	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/schema"
	apperrors "github.com/Adithya-Monish-Kumar-K/nrt-search/pkg/errors"
)

// ParseQuery parses text with the bleve query-string grammar. Clauses
// without a field are expanded to a disjunction over the registry's default
// search fields; clauses naming a field outside the schema are rejected.
func ParseQuery(reg *schema.Registry, text string) (query.Query, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.New(apperrors.ErrQuerySyntax, http.StatusBadRequest, "query is empty")
	}
	q, err := query.NewQueryStringQuery(text).Parse()
	if err != nil {
		return nil, apperrors.New(apperrors.ErrQuerySyntax, http.StatusBadRequest, err.Error())
	}
	e := expander{reg: reg, paths: reg.DefaultQueryPaths()}
	return e.expand(q)
}

type expander struct {
	reg   *schema.Registry
	paths []string
}

func (e expander) expand(q query.Query) (query.Query, error) {
	var err error
	switch t := q.(type) {
	case *query.BooleanQuery:
		if t.Must != nil {
			if t.Must, err = e.expand(t.Must); err != nil {
				return nil, err
			}
		}
		if t.Should != nil {
			if t.Should, err = e.expand(t.Should); err != nil {
				return nil, err
			}
		}
		if t.MustNot != nil {
			if t.MustNot, err = e.expand(t.MustNot); err != nil {
				return nil, err
			}
		}
		return t, nil
	case *query.ConjunctionQuery:
		for i, c := range t.Conjuncts {
			if t.Conjuncts[i], err = e.expand(c); err != nil {
				return nil, err
			}
		}
		return t, nil
	case *query.DisjunctionQuery:
		for i, d := range t.Disjuncts {
			if t.Disjuncts[i], err = e.expand(d); err != nil {
				return nil, err
			}
		}
		return t, nil
	case query.FieldableQuery:
		if field := t.Field(); field != "" {
			return t, e.checkField(field)
		}
		return e.fanOut(t), nil
	default:
		return q, nil
	}
}

func (e expander) checkField(field string) error {
	if field == "_all" {
		return nil
	}
	root, _, _ := strings.Cut(field, ".")
	if _, ok := e.reg.Field(root); !ok {
		return apperrors.Newf(apperrors.ErrQuerySyntax, http.StatusBadRequest, "field %q does not exist", field)
	}
	return nil
}

// fanOut copies an unfielded text clause once per default path. Clauses that
// are not text matches keep targeting the default field.
func (e expander) fanOut(q query.FieldableQuery) query.Query {
	copies := make([]query.Query, 0, len(e.paths))
	for _, p := range e.paths {
		c := withField(q, p)
		if c == nil {
			return q
		}
		copies = append(copies, c)
	}
	if len(copies) == 1 {
		return copies[0]
	}
	return query.NewDisjunctionQuery(copies)
}

func withField(q query.FieldableQuery, field string) query.Query {
	switch t := q.(type) {
	case *query.MatchQuery:
		c := *t
		c.SetField(field)
		return &c
	case *query.MatchPhraseQuery:
		c := *t
		c.SetField(field)
		return &c
	case *query.FuzzyQuery:
		c := *t
		c.SetField(field)
		return &c
	case *query.WildcardQuery:
		c := *t
		c.SetField(field)
		return &c
	case *query.RegexpQuery:
		c := *t
		c.SetField(field)
		return &c
	case *query.PrefixQuery:
		c := *t
		c.SetField(field)
		return &c
	case *query.TermQuery:
		c := *t
		c.SetField(field)
		return &c
	default:
		return nil
	}
}
