package query

import (
	"errors"
	"fmt"
)

// ErrSyntax matches every *SyntaxError via errors.Is.
var ErrSyntax = errors.New("query syntax error")

// SyntaxError reports malformed input and the byte offset it was found at.
type SyntaxError struct {
	Offset int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s at offset %d: %s", ErrSyntax, e.Offset, e.Msg)
}

func (e *SyntaxError) Is(target error) bool { return target == ErrSyntax }

func syntaxError(off int, format string, args ...any) error {
	return &SyntaxError{Offset: off, Msg: fmt.Sprintf(format, args...)}
}

// Parse compiles a query. Grammar, loosest binding first:
//
//	or    = and { OR and }
//	and   = unary { AND unary }
//	unary = NOT unary | term
//	term  = "(" or ")" | quoted | word [ (":" | "!=") (word | quoted) ]
//
// A blank query returns a nil Node, which matches every record.
func Parse(input string) (Node, error) {
	toks, err := scan(input)
	if err != nil {
		return nil, err
	}
	if toks[0].kind == kindEOF {
		return nil, nil
	}

	p := &parser{toks: toks}
	n, err := p.or()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != kindEOF {
		return nil, syntaxError(t.off, "unexpected %s", t)
	}
	return n, nil
}

type parser struct {
	toks []token
	i    int
}

func (p *parser) peek() token { return p.toks[p.i] }

// next consumes one token. The trailing EOF is never consumed.
func (p *parser) next() token {
	t := p.toks[p.i]
	if t.kind != kindEOF {
		p.i++
	}
	return t
}

func (p *parser) accept(k kind) bool {
	if p.peek().kind != k {
		return false
	}
	p.i++
	return true
}

func (p *parser) or() (Node, error) {
	return p.chain(kindOr, p.and, func(l, r Node) Node { return Or{Left: l, Right: r} })
}

func (p *parser) and() (Node, error) {
	return p.chain(kindAnd, p.unary, func(l, r Node) Node { return And{Left: l, Right: r} })
}

// chain parses operand { op operand } and folds it to the left.
func (p *parser) chain(op kind, operand func() (Node, error), join func(l, r Node) Node) (Node, error) {
	left, err := operand()
	if err != nil {
		return nil, err
	}
	for p.accept(op) {
		right, err := operand()
		if err != nil {
			return nil, err
		}
		left = join(left, right)
	}
	return left, nil
}

func (p *parser) unary() (Node, error) {
	if !p.accept(kindNot) {
		return p.term()
	}
	operand, err := p.unary()
	if err != nil {
		return nil, err
	}
	return Not{Operand: operand}, nil
}

func (p *parser) term() (Node, error) {
	t := p.next()
	switch t.kind {
	case kindOpen:
		inner, err := p.or()
		if err != nil {
			return nil, err
		}
		if c := p.next(); c.kind != kindClose {
			return nil, syntaxError(c.off, "missing ')' for '(' at offset %d, got %s", t.off, c)
		}
		return inner, nil

	case kindQuoted:
		return Text{Value: t.text}, nil

	case kindWord:
		negate := false
		switch {
		case p.accept(kindColon):
		case p.accept(kindNeq):
			negate = true
		default:
			return Text{Value: t.text}, nil
		}
		v := p.next()
		if v.kind != kindWord && v.kind != kindQuoted {
			return nil, syntaxError(v.off, "%s needs a value, got %s", t.text, v)
		}
		return Field{Name: t.text, Value: v.text, Negate: negate}, nil
	}
	return nil, syntaxError(t.off, "unexpected %s", t)
}
