package query

import "strings"

type tokenKind int

const (
	tEOF tokenKind = iota
	tWord
	tString // double-quoted; always a literal name, never a keyword
	tOp     // = > < >= <=
	tLParen
	tRParen
	tAnd
	tNot
	tAll
	tUser
	tPath
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// keywords maps the exact spellings the grammar recognizes as operators.
// The match is intentionally not case-insensitive: "AND", "And" and "and"
// are the operator while "aND" is an ordinary tag name. This reproduces the
// original language's behavior, on which existing queries depend.
var keywords = map[string]tokenKind{
	"AND": tAnd, "And": tAnd, "and": tAnd,
	"NOT": tNot, "Not": tNot, "not": tNot,
	"ALL": tAll, "All": tAll, "all": tAll,
	"USER": tUser, "User": tUser, "user": tUser,
	"PATH": tPath, "Path": tPath, "path": tPath,
}

// isWordChar reports whether c can appear in a bare identifier.
func isWordChar(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '(', ')', '"', '=', '<', '>':
		return false
	}
	return true
}

// scan tokenizes the query text. It fails only on an unterminated string;
// everything else is some token.
func scan(text string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(text) {
		c := text[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

		case c == '(':
			toks = append(toks, token{tLParen, "(", i})
			i++

		case c == ')':
			toks = append(toks, token{tRParen, ")", i})
			i++

		case c == '"':
			end := strings.IndexByte(text[i+1:], '"')
			if end < 0 {
				return nil, &SyntaxError{Pos: i, Msg: "unterminated quoted name"}
			}
			toks = append(toks, token{tString, text[i+1 : i+1+end], i})
			i += end + 2

		case c == '=':
			toks = append(toks, token{tOp, "=", i})
			i++

		case c == '<' || c == '>':
			if i+1 < len(text) && text[i+1] == '=' {
				toks = append(toks, token{tOp, text[i : i+2], i})
				i += 2
			} else {
				toks = append(toks, token{tOp, string(c), i})
				i++
			}

		default:
			start := i
			for i < len(text) && isWordChar(text[i]) {
				i++
			}
			word := text[start:i]
			if kind, ok := keywords[word]; ok {
				toks = append(toks, token{kind, word, start})
			} else {
				toks = append(toks, token{tWord, word, start})
			}
		}
	}
	toks = append(toks, token{tEOF, "", len(text)})
	return toks, nil
}
