package queryir

// Query is a sealed query node.
type Query interface {
	queryNode()
}

// Predicate is a sealed filter node.
type Predicate interface {
	predicateNode()
}

// Select reads Columns from a single table.
//
//	SELECT <columns> FROM <from> WHERE <filter> ORDER BY <orderBy>
type Select struct {
	From    string
	Columns []string
	Filter  Predicate // nil = no filter
	OrderBy []string
}

func (Select) queryNode() {}

// Equals is <field> = <value>.
type Equals struct {
	Field string
	Value any
}

func (Equals) predicateNode() {}

// In is <field> IN (<values>...).
type In struct {
	Field  string
	Values []any
}

func (In) predicateNode() {}

// Between is <low> <= <field> <= <high>.
type Between struct {
	Field string
	Low   any
	High  any
}

func (Between) predicateNode() {}

// And is a conjunction of predicates.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Or is a disjunction of predicates.
type Or struct {
	Predicates []Predicate
}

func (Or) predicateNode() {}

// Conj builds an And from the non-nil predicates. It returns nil when none
// remain and the predicate itself when only one does.
func Conj(preds ...Predicate) Predicate {
	out := make([]Predicate, 0, len(preds))
	for _, p := range preds {
		if p != nil {
			out = append(out, p)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return And{Predicates: out}
}

// Disj builds an Or from the non-nil predicates. It returns nil when none
// remain and the predicate itself when only one does.
func Disj(preds ...Predicate) Predicate {
	out := make([]Predicate, 0, len(preds))
	for _, p := range preds {
		if p != nil {
			out = append(out, p)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return Or{Predicates: out}
}
