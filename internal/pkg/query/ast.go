package query

// Node is a parsed query expression.
type Node interface {
	node()
}

// And matches when both sides match.
type And struct{ Left, Right Node }

// Or matches when either side matches.
type Or struct{ Left, Right Node }

// Not inverts Operand.
type Not struct{ Operand Node }

// Field compares a named field with Value, ignoring case. Negate turns the
// comparison into "differs or is absent".
type Field struct {
	Name   string
	Value  string
	Negate bool
}

// Text matches Value as a substring of the category, message or level.
type Text struct{ Value string }

func (And) node()   {}
func (Or) node()    {}
func (Not) node()   {}
func (Field) node() {}
func (Text) node()  {}
