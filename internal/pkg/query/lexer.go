package query

import (
	"fmt"
	"strings"
	"unicode"
)

type kind uint8

const (
	kindEOF kind = iota
	kindWord
	kindQuoted
	kindColon
	kindNeq
	kindOpen
	kindClose
	kindAnd
	kindOr
	kindNot
)

var kindNames = [...]string{
	kindEOF:    "end of query",
	kindWord:   "word",
	kindQuoted: "quoted string",
	kindColon:  "':'",
	kindNeq:    "'!='",
	kindOpen:   "'('",
	kindClose:  "')'",
	kindAnd:    "AND",
	kindOr:     "OR",
	kindNot:    "NOT",
}

func (k kind) String() string { return kindNames[k] }

// keywords are matched case-insensitively.
var keywords = map[string]kind{
	"AND": kindAnd,
	"OR":  kindOr,
	"NOT": kindNot,
}

type token struct {
	kind kind
	text string
	off  int
}

func (t token) String() string {
	if t.kind == kindWord || t.kind == kindQuoted {
		return fmt.Sprintf("%s %q", t.kind, t.text)
	}
	return t.kind.String()
}

// scan splits input into tokens. The result always ends with a kindEOF
// token positioned at len(input).
func scan(input string) ([]token, error) {
	var toks []token
	for i := 0; i < len(input); {
		c := input[i]
		switch {
		case c < 0x80 && unicode.IsSpace(rune(c)):
			i++
		case c == ':':
			toks = append(toks, token{kind: kindColon, text: ":", off: i})
			i++
		case c == '(':
			toks = append(toks, token{kind: kindOpen, text: "(", off: i})
			i++
		case c == ')':
			toks = append(toks, token{kind: kindClose, text: ")", off: i})
			i++
		case c == '!':
			if !strings.HasPrefix(input[i:], "!=") {
				return nil, syntaxError(i, "'!' must be followed by '='")
			}
			toks = append(toks, token{kind: kindNeq, text: "!=", off: i})
			i += 2
		case c == '"':
			text, end, err := unquote(input, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: kindQuoted, text: text, off: i})
			i = end
		case isWordByte(c):
			j := i
			for j < len(input) && isWordByte(input[j]) {
				j++
			}
			toks = append(toks, word(input[i:j], i))
			i = j
		default:
			return nil, syntaxError(i, "unexpected character %q", c)
		}
	}
	return append(toks, token{kind: kindEOF, off: len(input)}), nil
}

func word(text string, off int) token {
	if k, ok := keywords[strings.ToUpper(text)]; ok {
		return token{kind: k, text: strings.ToUpper(text), off: off}
	}
	return token{kind: kindWord, text: text, off: off}
}

// unquote reads the double-quoted string starting at input[start] and
// returns its contents and the offset just past the closing quote. A
// backslash makes the next byte literal.
func unquote(input string, start int) (string, int, error) {
	var b strings.Builder
	for i := start + 1; i < len(input); i++ {
		switch c := input[i]; c {
		case '"':
			return b.String(), i + 1, nil
		case '\\':
			if i+1 < len(input) {
				i++
				b.WriteByte(input[i])
				continue
			}
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return "", 0, syntaxError(start, "unterminated string")
}

// isWordByte accepts ASCII letters and digits, '_', '-', '.', and every
// non-ASCII byte so UTF-8 text stays in one word.
func isWordByte(c byte) bool {
	switch {
	case c >= 0x80:
		return true
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return c == '_' || c == '-' || c == '.'
}
