package query

// Parse turns query text into an expression tree. The error is a
// *SyntaxError when the text does not match the grammar.
//
// The grammar is a conjunction of terms: bare tag names (juxtaposition
// implies AND; the AND keyword is optional), NOT-negated tags, field
// comparisons, USER/PATH filters, and parenthesized sub-expressions joined
// with AND. The ALL wildcard must stand alone. A quoted name is always a
// literal tag, so `"ALL"` never means the wildcard.
func Parse(text string) (Expr, error) {
	toks, err := scan(text)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}

	// Wildcard query: ALL and nothing else.
	if p.peek().kind == tAll {
		p.next()
		if p.peek().kind != tEOF {
			return nil, &SyntaxError{Pos: p.peek().pos, Msg: "ALL cannot be combined with other terms"}
		}
		return All{}, nil
	}

	expr, err := p.parseLevel()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tEOF {
		return nil, &SyntaxError{Pos: p.peek().pos, Msg: "unexpected " + describe(p.peek())}
	}
	return expr, nil
}

type parser struct {
	toks []token
	i    int
}

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.kind != tEOF {
		p.i++
	}
	return t
}

// parseLevel parses terms until EOF or a closing parenthesis. Consecutive
// tag terms and USER/PATH filters at the same level collapse into one
// Conjunction; comparisons and parenthesized groups become separate parts.
func (p *parser) parseLevel() (Expr, error) {
	var parts []Expr
	conj := &Conjunction{}

	for {
		tok := p.peek()
		switch tok.kind {
		case tEOF, tRParen:
			if len(conj.Yes)+len(conj.No)+len(conj.Users)+len(conj.Paths) > 0 {
				parts = append(parts, conj)
			}
			if len(parts) == 0 {
				return nil, &SyntaxError{Pos: tok.pos, Msg: "empty expression"}
			}
			if len(parts) == 1 {
				return parts[0], nil
			}
			return &And{Parts: parts}, nil

		case tAnd:
			p.next() // optional between terms

		case tNot:
			p.next()
			name := p.next()
			if name.kind != tWord && name.kind != tString {
				return nil, &SyntaxError{Pos: name.pos, Msg: "expected tag name after NOT, got " + describe(name)}
			}
			conj.No = append(conj.No, TagTerm{Name: name.text, Negative: true})

		case tUser:
			p.next()
			name := p.next()
			if name.kind != tWord && name.kind != tString {
				return nil, &SyntaxError{Pos: name.pos, Msg: "expected login after USER, got " + describe(name)}
			}
			conj.Users = append(conj.Users, name.text)

		case tPath:
			p.next()
			name := p.next()
			if name.kind != tWord && name.kind != tString {
				return nil, &SyntaxError{Pos: name.pos, Msg: "expected path after PATH, got " + describe(name)}
			}
			conj.Paths = append(conj.Paths, name.text)

		case tLParen:
			open := p.next()
			sub, err := p.parseLevel()
			if err != nil {
				return nil, err
			}
			if p.peek().kind != tRParen {
				return nil, &SyntaxError{Pos: open.pos, Msg: "unclosed parenthesis"}
			}
			p.next()
			parts = append(parts, sub)

		case tWord, tString:
			name := p.next()
			if p.peek().kind == tOp {
				op := p.next()
				val := p.peek()
				if val.kind != tWord && val.kind != tString {
					return nil, &SyntaxError{Pos: val.pos, Msg: "expected comparison value, got " + describe(val)}
				}
				p.next()
				parts = append(parts, &Comparison{Field: name.text, Op: op.text, Value: val.text})
				break
			}
			conj.Yes = append(conj.Yes, TagTerm{Name: name.text})

		case tAll:
			return nil, &SyntaxError{Pos: tok.pos, Msg: "ALL cannot be combined with other terms"}

		default:
			return nil, &SyntaxError{Pos: tok.pos, Msg: "unexpected " + describe(tok)}
		}
	}
}

func describe(t token) string {
	switch t.kind {
	case tEOF:
		return "end of query"
	case tLParen:
		return "'('"
	case tRParen:
		return "')'"
	case tOp:
		return "operator '" + t.text + "'"
	default:
		return "'" + t.text + "'"
	}
}
