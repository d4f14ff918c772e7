package queryir

import (
	"errors"
	"fmt"
	"regexp"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks that every identifier in the query is a plain name and
// that every predicate is well formed. It returns all problems joined.
func Validate(q Query) error {
	v := &validator{}
	v.query(q)
	return errors.Join(v.errs...)
}

type validator struct {
	errs []error
}

func (v *validator) addf(format string, args ...any) {
	v.errs = append(v.errs, fmt.Errorf(format, args...))
}

func (v *validator) ident(kind, name string) {
	if !identifier.MatchString(name) {
		v.addf("invalid %s name %q", kind, name)
	}
}

func (v *validator) query(q Query) {
	switch query := q.(type) {
	case nil:
		v.addf("nil query")
	case Select:
		v.sel(query)
	case *Select:
		v.sel(*query)
	default:
		v.addf("unsupported query type %T", q)
	}
}

func (v *validator) sel(s Select) {
	v.ident("table", s.From)
	for _, c := range s.Columns {
		v.ident("column", c)
	}
	for _, c := range s.OrderBy {
		v.ident("order column", c)
	}
	if s.Filter != nil {
		v.predicate(s.Filter)
	}
}

func (v *validator) predicate(p Predicate) {
	switch pred := p.(type) {
	case Equals:
		v.ident("column", pred.Field)
		if pred.Value == nil {
			v.addf("column %q compared to NULL", pred.Field)
		}
	case *Equals:
		v.predicate(*pred)
	case In:
		v.ident("column", pred.Field)
	case *In:
		v.predicate(*pred)
	case Between:
		v.ident("column", pred.Field)
		if pred.Low == nil || pred.High == nil {
			v.addf("column %q has an open range", pred.Field)
		}
	case *Between:
		v.predicate(*pred)
	case And:
		for _, sub := range pred.Predicates {
			v.predicate(sub)
		}
	case *And:
		v.predicate(*pred)
	case Or:
		if len(pred.Predicates) == 0 {
			v.addf("empty OR")
		}
		for _, sub := range pred.Predicates {
			v.predicate(sub)
		}
	case *Or:
		v.predicate(*pred)
	default:
		v.addf("unsupported predicate type %T", p)
	}
}
