package cypher

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/latticedb/graphcore/pkg/errkind"
)

// Parser turns a token stream from the lexer into a Query AST via
// recursive descent. Cypher's grammar is LL(1)-ish at the clause level,
// which is what lets this stay a straightforward hand-written parser
// rather than needing a generated one.
type Parser struct {
	lex  *Lexer
	cur  Token
	next Token
}

// NewParser creates a parser over src.
func NewParser(src string) *Parser {
	p := &Parser{lex: NewLexer(src)}
	p.cur = p.lex.Next()
	p.next = p.lex.Next()
	return p
}

func (p *Parser) advance() {
	p.cur = p.next
	p.next = p.lex.Next()
}

func (p *Parser) syntaxError(format string, args ...any) error {
	return errkind.New(errkind.SyntaxError, fmt.Sprintf(format, args...))
}

func (p *Parser) expectKeyword(kw string) error {
	if p.cur.Kind != TokKeyword || p.cur.Text != kw {
		return p.syntaxError("expected %s, got %q", kw, p.cur.Text)
	}
	p.advance()
	return nil
}

func (p *Parser) expectPunct(s string) error {
	if p.cur.Kind != TokPunct || p.cur.Text != s {
		return p.syntaxError("expected %q, got %q", s, p.cur.Text)
	}
	p.advance()
	return nil
}

func (p *Parser) isKeyword(kw string) bool { return p.cur.Kind == TokKeyword && p.cur.Text == kw }
func (p *Parser) isPunct(s string) bool    { return p.cur.Kind == TokPunct && p.cur.Text == s }

// ParseQuery parses one full statement, including UNION [ALL] branches.
func (p *Parser) ParseQuery() (*Query, error) {
	q, err := p.parseSingleQuery()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("UNION") {
		p.advance()
		all := false
		if p.isKeyword("ALL") {
			all = true
			p.advance()
		}
		branch, err := p.parseSingleQuery()
		if err != nil {
			return nil, err
		}
		q.Union = append(q.Union, branch)
		q.UnionAll = all
	}
	if p.cur.Kind != TokEOF {
		return nil, p.syntaxError("unexpected trailing input at %q", p.cur.Text)
	}
	return q, nil
}

func (p *Parser) parseSingleQuery() (*Query, error) {
	q := &Query{}
	for {
		switch {
		case p.isKeyword("BEGIN"), p.isKeyword("COMMIT"), p.isKeyword("ROLLBACK"):
			kind := p.cur.Text
			p.advance()
			q.Clauses = append(q.Clauses, &TxControlClause{Kind: kind})
		case p.isKeyword("MATCH"), p.isKeyword("OPTIONAL"):
			c, err := p.parseMatch()
			if err != nil {
				return nil, err
			}
			q.Clauses = append(q.Clauses, c)
		case p.isKeyword("CREATE"):
			c, err := p.parseCreate()
			if err != nil {
				return nil, err
			}
			q.Clauses = append(q.Clauses, c)
		case p.isKeyword("DELETE"), p.isKeyword("DETACH"):
			c, err := p.parseDelete()
			if err != nil {
				return nil, err
			}
			q.Clauses = append(q.Clauses, c)
		case p.isKeyword("SET"):
			c, err := p.parseSet()
			if err != nil {
				return nil, err
			}
			q.Clauses = append(q.Clauses, c)
		case p.isKeyword("REMOVE"):
			c, err := p.parseRemove()
			if err != nil {
				return nil, err
			}
			q.Clauses = append(q.Clauses, c)
		case p.isKeyword("UNWIND"):
			c, err := p.parseUnwind()
			if err != nil {
				return nil, err
			}
			q.Clauses = append(q.Clauses, c)
		case p.isKeyword("WITH"):
			c, err := p.parseReturn(true)
			if err != nil {
				return nil, err
			}
			q.Clauses = append(q.Clauses, c)
		case p.isKeyword("RETURN"):
			c, err := p.parseReturn(false)
			if err != nil {
				return nil, err
			}
			q.Clauses = append(q.Clauses, c)
			return q, nil
		case p.isKeyword("CALL"):
			c, err := p.parseCall()
			if err != nil {
				return nil, err
			}
			q.Clauses = append(q.Clauses, c)
		default:
			return q, nil
		}
	}
}

func (p *Parser) parseMatch() (*MatchClause, error) {
	mc := &MatchClause{}
	if p.isKeyword("OPTIONAL") {
		mc.Optional = true
		p.advance()
		if err := p.expectKeyword("MATCH"); err != nil {
			return nil, err
		}
	} else {
		if err := p.expectKeyword("MATCH"); err != nil {
			return nil, err
		}
	}
	for {
		part, err := p.parsePatternPart()
		if err != nil {
			return nil, err
		}
		mc.Parts = append(mc.Parts, part)
		if p.isPunct(",") {
			p.advance()
			continue
		}
		break
	}
	if p.isKeyword("WHERE") {
		p.advance()
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		mc.Where = expr
	}
	return mc, nil
}

func (p *Parser) parseCreate() (*CreateClause, error) {
	if err := p.expectKeyword("CREATE"); err != nil {
		return nil, err
	}
	cc := &CreateClause{}
	for {
		part, err := p.parsePatternPart()
		if err != nil {
			return nil, err
		}
		cc.Parts = append(cc.Parts, part)
		if p.isPunct(",") {
			p.advance()
			continue
		}
		break
	}
	return cc, nil
}

func (p *Parser) parseDelete() (*DeleteClause, error) {
	dc := &DeleteClause{}
	if p.isKeyword("DETACH") {
		dc.Detach = true
		p.advance()
	}
	if err := p.expectKeyword("DELETE"); err != nil {
		return nil, err
	}
	for {
		if p.cur.Kind != TokIdent {
			return nil, p.syntaxError("expected variable in DELETE, got %q", p.cur.Text)
		}
		dc.Variables = append(dc.Variables, p.cur.Text)
		p.advance()
		if p.isPunct(",") {
			p.advance()
			continue
		}
		break
	}
	return dc, nil
}

func (p *Parser) parseSet() (*SetClause, error) {
	if err := p.expectKeyword("SET"); err != nil {
		return nil, err
	}
	sc := &SetClause{}
	for {
		if p.cur.Kind != TokIdent {
			return nil, p.syntaxError("expected variable in SET, got %q", p.cur.Text)
		}
		variable := p.cur.Text
		p.advance()
		if p.isPunct(":") {
			p.advance()
			if p.cur.Kind != TokIdent {
				return nil, p.syntaxError("expected label after ':' in SET")
			}
			sc.Items = append(sc.Items, SetItem{Variable: variable, Label: p.cur.Text})
			p.advance()
		} else if p.isPunct(".") {
			p.advance()
			if p.cur.Kind != TokIdent {
				return nil, p.syntaxError("expected property name after '.' in SET")
			}
			prop := p.cur.Text
			p.advance()
			if err := p.expectPunct("="); err != nil {
				return nil, err
			}
			val, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			sc.Items = append(sc.Items, SetItem{Variable: variable, Property: prop, Value: val})
		} else {
			return nil, p.syntaxError("expected '.' or ':' after variable in SET")
		}
		if p.isPunct(",") {
			p.advance()
			continue
		}
		break
	}
	return sc, nil
}

func (p *Parser) parseRemove() (*RemoveClause, error) {
	if err := p.expectKeyword("REMOVE"); err != nil {
		return nil, err
	}
	if p.cur.Kind != TokIdent {
		return nil, p.syntaxError("expected variable in REMOVE")
	}
	rc := &RemoveClause{Variable: p.cur.Text}
	p.advance()
	if p.isPunct(":") {
		p.advance()
		rc.Label = p.cur.Text
		p.advance()
	} else if p.isPunct(".") {
		p.advance()
		rc.Property = p.cur.Text
		p.advance()
	} else {
		return nil, p.syntaxError("expected '.' or ':' after variable in REMOVE")
	}
	return rc, nil
}

func (p *Parser) parseUnwind() (*UnwindClause, error) {
	if err := p.expectKeyword("UNWIND"); err != nil {
		return nil, err
	}
	expr, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("AS"); err != nil {
		return nil, err
	}
	if p.cur.Kind != TokIdent {
		return nil, p.syntaxError("expected variable after AS")
	}
	variable := p.cur.Text
	p.advance()
	return &UnwindClause{Expr: expr, Variable: variable}, nil
}

func (p *Parser) parseCall() (*CallClause, error) {
	if err := p.expectKeyword("CALL"); err != nil {
		return nil, err
	}
	if p.cur.Kind != TokIdent && p.cur.Kind != TokKeyword {
		return nil, p.syntaxError("expected procedure name after CALL")
	}
	name := p.cur.Text
	p.advance()
	for p.isPunct(".") {
		p.advance()
		name += "." + p.cur.Text
		p.advance()
	}
	cc := &CallClause{Procedure: name}
	if p.isPunct("(") {
		p.advance()
		for !p.isPunct(")") {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			cc.Args = append(cc.Args, e)
			if p.isPunct(",") {
				p.advance()
				continue
			}
			break
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
	}
	if p.isKeyword("YIELD") {
		p.advance()
		for p.cur.Kind == TokIdent {
			cc.Yield = append(cc.Yield, p.cur.Text)
			p.advance()
			if p.isPunct(",") {
				p.advance()
				continue
			}
			break
		}
	}
	return cc, nil
}

func (p *Parser) parseReturn(isWith bool) (*ReturnClause, error) {
	if isWith {
		if err := p.expectKeyword("WITH"); err != nil {
			return nil, err
		}
	} else {
		if err := p.expectKeyword("RETURN"); err != nil {
			return nil, err
		}
	}
	rc := &ReturnClause{IsWith: isWith}
	if p.isKeyword("DISTINCT") {
		rc.Distinct = true
		p.advance()
	}
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		item := ReturnItem{Expr: e}
		if p.isKeyword("AS") {
			p.advance()
			if p.cur.Kind != TokIdent {
				return nil, p.syntaxError("expected alias after AS")
			}
			item.Alias = p.cur.Text
			p.advance()
		}
		rc.Items = append(rc.Items, item)
		if p.isPunct(",") {
			p.advance()
			continue
		}
		break
	}
	if isWith && p.isKeyword("WHERE") {
		p.advance()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		rc.Where = e
	}
	if p.isKeyword("ORDER") {
		p.advance()
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			oi := OrderItem{Expr: e}
			if p.isKeyword("DESC") {
				oi.Descending = true
				p.advance()
			} else if p.isKeyword("ASC") {
				p.advance()
			}
			rc.OrderBy = append(rc.OrderBy, oi)
			if p.isPunct(",") {
				p.advance()
				continue
			}
			break
		}
	}
	if p.isKeyword("SKIP") {
		p.advance()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		rc.Skip = e
	}
	if p.isKeyword("LIMIT") {
		p.advance()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		rc.Limit = e
	}
	return rc, nil
}

// parsePatternPart parses `(a:Label)-[r:TYPE*1..3]->(b)` style chains.
func (p *Parser) parsePatternPart() (PatternPart, error) {
	var part PatternPart
	n, err := p.parseNodePattern()
	if err != nil {
		return part, err
	}
	part.Nodes = append(part.Nodes, n)

	for p.isPunct("-") || p.isPunct("<") {
		edge, err := p.parseEdgePattern()
		if err != nil {
			return part, err
		}
		part.Edges = append(part.Edges, edge)
		n, err := p.parseNodePattern()
		if err != nil {
			return part, err
		}
		part.Nodes = append(part.Nodes, n)
	}
	return part, nil
}

func (p *Parser) parseNodePattern() (NodePattern, error) {
	var n NodePattern
	if err := p.expectPunct("("); err != nil {
		return n, err
	}
	if p.cur.Kind == TokIdent {
		n.Variable = p.cur.Text
		p.advance()
	}
	for p.isPunct(":") {
		p.advance()
		if p.cur.Kind != TokIdent && p.cur.Kind != TokKeyword {
			return n, p.syntaxError("expected label name")
		}
		n.Labels = append(n.Labels, p.cur.Text)
		p.advance()
	}
	if p.isPunct("{") {
		props, err := p.parsePropertyMap()
		if err != nil {
			return n, err
		}
		n.Properties = props
	}
	if err := p.expectPunct(")"); err != nil {
		return n, err
	}
	return n, nil
}

func (p *Parser) parseEdgePattern() (EdgePattern, error) {
	var e EdgePattern
	e.Direction = DirEither

	if p.isPunct("<") {
		e.Direction = DirLeft
		p.advance()
	}
	if err := p.expectPunct("-"); err != nil {
		return e, err
	}
	if p.isPunct("[") {
		p.advance()
		if p.cur.Kind == TokIdent {
			e.Variable = p.cur.Text
			p.advance()
		}
		for p.isPunct(":") {
			p.advance()
			e.Types = append(e.Types, p.cur.Text)
			p.advance()
			for p.isPunct("|") {
				p.advance()
				e.Types = append(e.Types, p.cur.Text)
				p.advance()
			}
		}
		if p.isPunct("*") {
			p.advance()
			lo, hi := 1, -1
			hasLo := false
			if p.cur.Kind == TokInt {
				lo, _ = strconv.Atoi(p.cur.Text)
				hasLo = true
				p.advance()
			}
			if p.isPunct("..") {
				p.advance()
				if p.cur.Kind == TokInt {
					hi, _ = strconv.Atoi(p.cur.Text)
					p.advance()
				}
			} else if hasLo {
				hi = lo
			}
			e.MinHops = &lo
			if hi >= 0 {
				e.MaxHops = &hi
			}
		} else if p.isPunct("+") {
			p.advance()
			lo := 1
			e.MinHops = &lo
		}
		if p.isPunct("{") {
			props, err := p.parsePropertyMap()
			if err != nil {
				return e, err
			}
			e.Properties = props
		}
		if err := p.expectPunct("]"); err != nil {
			return e, err
		}
	}
	if err := p.expectPunct("-"); err != nil {
		return e, err
	}
	if p.isPunct(">") {
		if e.Direction == DirLeft {
			return e, p.syntaxError("relationship cannot point both directions")
		}
		e.Direction = DirRight
		p.advance()
	}
	return e, nil
}

func (p *Parser) parsePropertyMap() (map[string]Expr, error) {
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	m := make(map[string]Expr)
	for !p.isPunct("}") {
		if p.cur.Kind != TokIdent && p.cur.Kind != TokKeyword {
			return nil, p.syntaxError("expected property key")
		}
		key := p.cur.Text
		p.advance()
		if err := p.expectPunct(":"); err != nil {
			return nil, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		m[key] = val
		if p.isPunct(",") {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectPunct("}"); err != nil {
		return nil, err
	}
	return m, nil
}

// Expression parsing: precedence-climbing over OR, XOR, AND, NOT,
// comparison (incl. string operators), additive, multiplicative, unary,
// and postfix property access / function call.

var precedence = map[string]int{
	"OR": 1, "XOR": 2, "AND": 3,
	"=": 4, "<>": 4, "<": 4, ">": 4, "<=": 4, ">=": 4,
	"=~": 4, "STARTS": 4, "ENDS": 4, "CONTAINS": 4, "IN": 4,
	"+": 5, "-": 5,
	"*": 6, "/": 6, "%": 6,
}

func (p *Parser) parseExpr() (Expr, error) { return p.parseBinary(1) }

func (p *Parser) peekOperator() (string, bool) {
	if p.cur.Kind == TokPunct {
		if _, ok := precedence[p.cur.Text]; ok {
			return p.cur.Text, true
		}
		return "", false
	}
	if p.cur.Kind == TokKeyword {
		switch p.cur.Text {
		case "AND", "OR", "XOR", "IN":
			return p.cur.Text, true
		case "STARTS":
			return "STARTS WITH", true
		case "ENDS":
			return "ENDS WITH", true
		case "CONTAINS":
			return "CONTAINS", true
		}
	}
	return "", false
}

func (p *Parser) parseBinary(minPrec int) (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.peekOperator()
		if !ok {
			break
		}
		key := op
		if key == "STARTS WITH" {
			key = "STARTS"
		}
		if key == "ENDS WITH" {
			key = "ENDS"
		}
		prec := precedence[key]
		if prec < minPrec {
			break
		}
		p.advance()
		if op == "STARTS WITH" {
			if err := p.expectKeyword("WITH"); err != nil {
				return nil, err
			}
		}
		if op == "ENDS WITH" {
			if err := p.expectKeyword("WITH"); err != nil {
				return nil, err
			}
		}
		right, err := p.parseBinary(prec + 1)
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseUnary() (Expr, error) {
	if p.isKeyword("NOT") {
		p.advance()
		e, err := p.parseBinary(precedence["="])
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: "NOT", Expr: e}, nil
	}
	if p.isPunct("-") {
		p.advance()
		e, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: "-", Expr: e}, nil
	}
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() (Expr, error) {
	e, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.isPunct(".") {
		p.advance()
		if p.cur.Kind != TokIdent && p.cur.Kind != TokKeyword {
			return nil, p.syntaxError("expected property name after '.'")
		}
		v, ok := e.(*VarExpr)
		if !ok {
			return nil, p.syntaxError("property access only supported on a bound variable")
		}
		e = &PropertyExpr{Variable: v.Name, Property: p.cur.Text}
		p.advance()
	}
	if p.isKeyword("IS") {
		p.advance()
		negate := false
		if p.isKeyword("NOT") {
			negate = true
			p.advance()
		}
		if err := p.expectKeyword("NULL"); err != nil {
			return nil, err
		}
		op := "IS NULL"
		if negate {
			op = "IS NOT NULL"
		}
		e = &UnaryExpr{Op: op, Expr: e}
	}
	return e, nil
}

func (p *Parser) parsePrimary() (Expr, error) {
	switch {
	case p.cur.Kind == TokInt:
		n, _ := strconv.ParseInt(p.cur.Text, 10, 64)
		p.advance()
		return &LiteralExpr{Value: n}, nil
	case p.cur.Kind == TokFloat:
		f, _ := strconv.ParseFloat(p.cur.Text, 64)
		p.advance()
		return &LiteralExpr{Value: f}, nil
	case p.cur.Kind == TokString:
		s := p.cur.Text
		p.advance()
		return &LiteralExpr{Value: s}, nil
	case p.cur.Kind == TokParam:
		name := p.cur.Text
		p.advance()
		return &ParamExpr{Name: name}, nil
	case p.isKeyword("TRUE"):
		p.advance()
		return &LiteralExpr{Value: true}, nil
	case p.isKeyword("FALSE"):
		p.advance()
		return &LiteralExpr{Value: false}, nil
	case p.isKeyword("NULL"):
		p.advance()
		return &LiteralExpr{Value: nil}, nil
	case p.isKeyword("EXISTS"):
		return p.parseExistsSubquery()
	case p.isKeyword("COUNT"):
		return p.parseFunctionCall("count")
	case p.isPunct("("):
		p.advance()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return e, nil
	case p.isPunct("["):
		return p.parseListLiteral()
	case p.cur.Kind == TokIdent:
		name := p.cur.Text
		p.advance()
		if p.isPunct("(") {
			return p.parseFunctionCallArgs(name)
		}
		return &VarExpr{Name: name}, nil
	default:
		return nil, p.syntaxError("unexpected token %q in expression", p.cur.Text)
	}
}

func (p *Parser) parseListLiteral() (Expr, error) {
	if err := p.expectPunct("["); err != nil {
		return nil, err
	}
	list := &ListExpr{}
	for !p.isPunct("]") {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		list.Items = append(list.Items, e)
		if p.isPunct(",") {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectPunct("]"); err != nil {
		return nil, err
	}
	return list, nil
}

func (p *Parser) parseFunctionCall(name string) (Expr, error) {
	p.advance() // consume keyword used as a function name (COUNT)
	return p.parseFunctionCallArgs(name)
}

func (p *Parser) parseFunctionCallArgs(name string) (Expr, error) {
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	call := &FunctionCallExpr{Name: strings.ToLower(name)}
	if p.isKeyword("DISTINCT") {
		call.Distinct = true
		p.advance()
	}
	if p.isPunct("*") {
		p.advance()
	} else {
		for !p.isPunct(")") {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			call.Args = append(call.Args, e)
			if p.isPunct(",") {
				p.advance()
				continue
			}
			break
		}
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return call, nil
}

func (p *Parser) parseExistsSubquery() (Expr, error) {
	if err := p.expectKeyword("EXISTS"); err != nil {
		return nil, err
	}
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	part, err := p.parsePatternPart()
	if err != nil {
		return nil, err
	}
	ex := &ExistsSubqueryExpr{Part: part}
	if p.isKeyword("WHERE") {
		p.advance()
		w, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		ex.Where = w
	}
	if err := p.expectPunct("}"); err != nil {
		return nil, err
	}
	return ex, nil
}
