package formula

import (
	"fmt"
	"unicode"

	"lmmpower/domain/core"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokTilde
	tokPlus
	tokStar
	tokColon
	tokBar
	tokLParen
	tokRParen
)

var tokenNames = map[tokenKind]string{
	tokEOF:    "end of formula",
	tokIdent:  "identifier",
	tokNumber: "number",
	tokTilde:  "'~'",
	tokPlus:   "'+'",
	tokStar:   "'*'",
	tokColon:  "':'",
	tokBar:    "'|'",
	tokLParen: "'('",
	tokRParen: "')'",
}

func (k tokenKind) String() string { return tokenNames[k] }

type token struct {
	kind tokenKind
	text string
	pos  int
}

func (t token) String() string {
	if t.kind == tokIdent || t.kind == tokNumber {
		return fmt.Sprintf("%s %q", t.kind, t.text)
	}
	return t.kind.String()
}

var symbols = map[rune]tokenKind{
	'~': tokTilde,
	'+': tokPlus,
	'*': tokStar,
	':': tokColon,
	'&': tokColon,
	'|': tokBar,
	'(': tokLParen,
	')': tokRParen,
}

func lex(src string) ([]token, error) {
	runes := []rune(src)
	var tokens []token
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_' || runes[i] == '.') {
				i++
			}
			tokens = append(tokens, token{kind: tokIdent, text: string(runes[start:i]), pos: start})
		case unicode.IsDigit(r):
			start := i
			for i < len(runes) && unicode.IsDigit(runes[i]) {
				i++
			}
			tokens = append(tokens, token{kind: tokNumber, text: string(runes[start:i]), pos: start})
		default:
			kind, ok := symbols[r]
			if !ok {
				return nil, core.NewInvalidArgumentf("formula", "unexpected character %q at offset %d", r, i)
			}
			tokens = append(tokens, token{kind: kind, text: string(r), pos: i})
			i++
		}
	}
	return append(tokens, token{kind: tokEOF, pos: len(runes)}), nil
}
