package va

import (
	"fmt"
	"math"

	"github.com/vamodel/valc/internal/diag"
)

// ParseError reports a syntax error with its source position.
type ParseError struct {
	Span    diag.Span
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Span, e.Message)
}

// Parse lexes and parses one source buffer.
func Parse(file, src string) (*SourceFile, error) {
	p := &parser{lex: NewLexer(file, src)}
	if err := p.next(); err != nil {
		return nil, err
	}
	sf := &SourceFile{File: file}
	for p.tok.Type != EOF {
		m, err := p.parseModule()
		if err != nil {
			return nil, err
		}
		sf.Modules = append(sf.Modules, m)
	}
	if len(sf.Modules) == 0 {
		return nil, &ParseError{Span: diag.Span{File: file, Line: 1, Col: 1}, Message: "no module declaration found"}
	}
	return sf, nil
}

type parser struct {
	lex *Lexer
	tok Token
}

func (p *parser) next() error {
	t, err := p.lex.Next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *parser) errf(format string, args ...any) error {
	return &ParseError{Span: p.tok.Span, Message: fmt.Sprintf(format, args...)}
}

func (p *parser) expect(t TokenType, what string) (Token, error) {
	if p.tok.Type != t {
		return Token{}, p.errf("expected %s, found %q", what, p.tok.Lexeme)
	}
	tok := p.tok
	if err := p.next(); err != nil {
		return Token{}, err
	}
	return tok, nil
}

func (p *parser) accept(t TokenType) (bool, error) {
	if p.tok.Type != t {
		return false, nil
	}
	return true, p.next()
}

func (p *parser) parseModule() (*Module, error) {
	start := p.tok.Span
	if _, err := p.expect(KWMODULE, "'module'"); err != nil {
		return nil, err
	}
	name, err := p.expect(IDENT, "module name")
	if err != nil {
		return nil, err
	}
	m := &Module{Name: name.Lexeme, Span: start}

	// Optional port header: module diode(a, c);
	if ok, err := p.accept(LPAREN); err != nil {
		return nil, err
	} else if ok {
		for p.tok.Type != RPAREN {
			port, err := p.expect(IDENT, "port name")
			if err != nil {
				return nil, err
			}
			m.Ports = append(m.Ports, port.Lexeme)
			if ok, err := p.accept(COMMA); err != nil {
				return nil, err
			} else if !ok {
				break
			}
		}
		if _, err := p.expect(RPAREN, "')'"); err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(SEMI, "';'"); err != nil {
		return nil, err
	}

	for p.tok.Type != KWENDMODULE {
		if p.tok.Type == EOF {
			return nil, p.errf("unexpected end of input, expected 'endmodule'")
		}
		item, err := p.parseItem()
		if err != nil {
			return nil, err
		}
		if item != nil {
			m.Items = append(m.Items, item)
		}
	}
	if err := p.next(); err != nil { // consume endmodule
		return nil, err
	}
	return m, nil
}

func (p *parser) parseItem() (Item, error) {
	switch p.tok.Type {
	case LATTR:
		// Attribute block binds to the following parameter declaration.
		unit, desc, err := p.parseAttributes()
		if err != nil {
			return nil, err
		}
		if p.tok.Type != KWPARAMETER {
			return nil, p.errf("attribute block must precede a parameter declaration")
		}
		return p.parseParameter(unit, desc)
	case KWPARAMETER:
		return p.parseParameter("", "")
	case KWINOUT, KWINPUT, KWOUTPUT:
		return p.parsePortDecl()
	case KWBRANCH:
		return p.parseBranchDecl()
	case KWREAL, KWINTEGER:
		return p.parseVarDecl()
	case KWANALOG:
		sp := p.tok.Span
		if err := p.next(); err != nil {
			return nil, err
		}
		body, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		return &AnalogBlock{Body: body, Span: sp}, nil
	case IDENT:
		return p.parseDisciplineDecl()
	default:
		return nil, p.errf("unexpected token %q in module body", p.tok.Lexeme)
	}
}

// parseAttributes handles (* unit="V", desc="..." *).
func (p *parser) parseAttributes() (unit, desc string, err error) {
	if _, err = p.expect(LATTR, "'(*'"); err != nil {
		return
	}
	for p.tok.Type != RATTR {
		var key Token
		key, err = p.expect(IDENT, "attribute name")
		if err != nil {
			return
		}
		if _, err = p.expect(ASSIGN, "'='"); err != nil {
			return
		}
		var val Token
		val, err = p.expect(STRING, "attribute string value")
		if err != nil {
			return
		}
		switch key.Lexeme {
		case "unit", "units":
			unit = val.Lexeme
		case "desc", "description", "info":
			desc = val.Lexeme
		}
		var ok bool
		if ok, err = p.accept(COMMA); err != nil {
			return
		} else if !ok {
			break
		}
	}
	_, err = p.expect(RATTR, "'*)'")
	return
}

func (p *parser) parsePortDecl() (Item, error) {
	sp := p.tok.Span
	var dir PortDir
	switch p.tok.Type {
	case KWINOUT:
		dir = PortInOut
	case KWINPUT:
		dir = PortInput
	case KWOUTPUT:
		dir = PortOutput
	}
	if err := p.next(); err != nil {
		return nil, err
	}
	names, err := p.parseNameList()
	if err != nil {
		return nil, err
	}
	return &PortDecl{Dir: dir, Names: names, Span: sp}, nil
}

func (p *parser) parseDisciplineDecl() (Item, error) {
	sp := p.tok.Span
	disc := p.tok.Lexeme
	if err := p.next(); err != nil {
		return nil, err
	}
	names, err := p.parseNameList()
	if err != nil {
		return nil, err
	}
	return &DisciplineDecl{Discipline: disc, Names: names, Span: sp}, nil
}

func (p *parser) parseNameList() ([]string, error) {
	var names []string
	for {
		tok, err := p.expect(IDENT, "identifier")
		if err != nil {
			return nil, err
		}
		names = append(names, tok.Lexeme)
		if ok, err := p.accept(COMMA); err != nil {
			return nil, err
		} else if !ok {
			break
		}
	}
	if _, err := p.expect(SEMI, "';'"); err != nil {
		return nil, err
	}
	return names, nil
}

// parseBranchDecl handles `branch (a, b) name;` and `branch (a) name;`.
func (p *parser) parseBranchDecl() (Item, error) {
	sp := p.tok.Span
	if err := p.next(); err != nil {
		return nil, err
	}
	if _, err := p.expect(LPAREN, "'('"); err != nil {
		return nil, err
	}
	hi, err := p.expect(IDENT, "node name")
	if err != nil {
		return nil, err
	}
	lo := ""
	if ok, err := p.accept(COMMA); err != nil {
		return nil, err
	} else if ok {
		loTok, err := p.expect(IDENT, "node name")
		if err != nil {
			return nil, err
		}
		lo = loTok.Lexeme
	}
	if _, err := p.expect(RPAREN, "')'"); err != nil {
		return nil, err
	}
	name, err := p.expect(IDENT, "branch name")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(SEMI, "';'"); err != nil {
		return nil, err
	}
	return &BranchDecl{Name: name.Lexeme, Hi: hi.Lexeme, Lo: lo, Span: sp}, nil
}

func (p *parser) parseDataType() (DataType, error) {
	switch p.tok.Type {
	case KWREAL:
		return TypeReal, p.next()
	case KWINTEGER:
		return TypeInteger, p.next()
	case KWSTRING:
		return TypeString, p.next()
	default:
		return 0, p.errf("expected data type, found %q", p.tok.Lexeme)
	}
}

func (p *parser) parseParameter(unit, desc string) (Item, error) {
	sp := p.tok.Span
	if err := p.next(); err != nil { // consume 'parameter'
		return nil, err
	}
	ty := TypeReal
	if p.tok.Type == KWREAL || p.tok.Type == KWINTEGER || p.tok.Type == KWSTRING {
		var err error
		if ty, err = p.parseDataType(); err != nil {
			return nil, err
		}
	}
	name, err := p.expect(IDENT, "parameter name")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(ASSIGN, "'='"); err != nil {
		return nil, err
	}
	def, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	decl := &ParamDecl{Name: name.Lexeme, Type: ty, Default: def, Unit: unit, Desc: desc, Span: sp}

	for {
		switch p.tok.Type {
		case KWFROM:
			rc, err := p.parseFromRange()
			if err != nil {
				return nil, err
			}
			decl.Ranges = append(decl.Ranges, rc)
		case KWEXCLUDE:
			sp := p.tok.Span
			if err := p.next(); err != nil {
				return nil, err
			}
			val, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			decl.Ranges = append(decl.Ranges, RangeConstraint{
				Exclude: true,
				Lo:      RangeBound{Value: val, Inclusive: true},
				Span:    sp,
			})
		default:
			if _, err := p.expect(SEMI, "';'"); err != nil {
				return nil, err
			}
			return decl, nil
		}
	}
}

// parseFromRange handles `from [a:b]`, `from (a:b]`, and the open
// bounds spelled `inf` / `-inf`.
func (p *parser) parseFromRange() (RangeConstraint, error) {
	sp := p.tok.Span
	if err := p.next(); err != nil { // consume 'from'
		return RangeConstraint{}, err
	}
	var rc RangeConstraint
	rc.Span = sp
	switch p.tok.Type {
	case LBRACKET:
		rc.Lo.Inclusive = true
	case LPAREN:
		rc.Lo.Inclusive = false
	default:
		return rc, p.errf("expected '[' or '(' after 'from'")
	}
	if err := p.next(); err != nil {
		return rc, err
	}
	lo, err := p.parseRangeBound()
	if err != nil {
		return rc, err
	}
	rc.Lo.Value, rc.Lo.Unbounded = lo.Value, lo.Unbounded
	if _, err := p.expect(COLON, "':'"); err != nil {
		return rc, err
	}
	hi, err := p.parseRangeBound()
	if err != nil {
		return rc, err
	}
	rc.Hi.Value, rc.Hi.Unbounded = hi.Value, hi.Unbounded
	switch p.tok.Type {
	case RBRACKET:
		rc.Hi.Inclusive = true
	case RPAREN:
		rc.Hi.Inclusive = false
	default:
		return rc, p.errf("expected ']' or ')' to close range")
	}
	return rc, p.next()
}

func (p *parser) parseRangeBound() (RangeBound, error) {
	// inf / -inf are contextual identifiers inside ranges.
	if p.tok.Type == IDENT && p.tok.Lexeme == "inf" {
		sp := p.tok.Span
		if err := p.next(); err != nil {
			return RangeBound{}, err
		}
		return RangeBound{Unbounded: true, Value: &NumberLit{Value: math.Inf(1), Span: sp}}, nil
	}
	if p.tok.Type == MINUS {
		sp := p.tok.Span
		save := *p.lex
		saveTok := p.tok
		if err := p.next(); err != nil {
			return RangeBound{}, err
		}
		if p.tok.Type == IDENT && p.tok.Lexeme == "inf" {
			if err := p.next(); err != nil {
				return RangeBound{}, err
			}
			return RangeBound{Unbounded: true, Value: &NumberLit{Value: math.Inf(-1), Span: sp}}, nil
		}
		*p.lex = save
		p.tok = saveTok
	}
	e, err := p.parseExpr()
	if err != nil {
		return RangeBound{}, err
	}
	return RangeBound{Value: e}, nil
}

func (p *parser) parseVarDecl() (*VarDecl, error) {
	sp := p.tok.Span
	ty, err := p.parseDataType()
	if err != nil {
		return nil, err
	}
	names, err := p.parseNameList()
	if err != nil {
		return nil, err
	}
	return &VarDecl{Type: ty, Names: names, Span: sp}, nil
}

func (p *parser) parseStmt() (Stmt, error) {
	switch p.tok.Type {
	case KWBEGIN:
		return p.parseBlock()
	case KWIF:
		return p.parseIf()
	case KWFOR:
		return p.parseFor()
	case KWWHILE:
		sp := p.tok.Span
		if err := p.next(); err != nil {
			return nil, err
		}
		cond, err := p.parseParenExpr()
		if err != nil {
			return nil, err
		}
		body, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		return &While{Cond: cond, Body: body, Span: sp}, nil
	case KWREPEAT:
		sp := p.tok.Span
		if err := p.next(); err != nil {
			return nil, err
		}
		count, err := p.parseParenExpr()
		if err != nil {
			return nil, err
		}
		body, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		return &Repeat{Count: count, Body: body, Span: sp}, nil
	case SYSIDENT:
		sp := p.tok.Span
		name := p.tok.Lexeme
		if err := p.next(); err != nil {
			return nil, err
		}
		var args []Expr
		if ok, err := p.accept(LPAREN); err != nil {
			return nil, err
		} else if ok {
			for p.tok.Type != RPAREN {
				arg, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				args = append(args, arg)
				if ok, err := p.accept(COMMA); err != nil {
					return nil, err
				} else if !ok {
					break
				}
			}
			if _, err := p.expect(RPAREN, "')'"); err != nil {
				return nil, err
			}
		}
		if _, err := p.expect(SEMI, "';'"); err != nil {
			return nil, err
		}
		return &SysCallStmt{Name: name, Args: args, Span: sp}, nil
	case IDENT:
		// V(...) <+ / I(...) <+ / assignment
		if (p.tok.Lexeme == "V" || p.tok.Lexeme == "I") && p.peekIsLParen() {
			return p.parseContribution()
		}
		return p.parseAssign()
	default:
		return nil, p.errf("unexpected token %q at statement start", p.tok.Lexeme)
	}
}

// peekIsLParen reports whether the token after the current one is '('.
// The lexer is copied so lookahead does not consume input.
func (p *parser) peekIsLParen() bool {
	save := *p.lex
	t, err := save.Next()
	return err == nil && t.Type == LPAREN
}

func (p *parser) parseBlock() (Stmt, error) {
	sp := p.tok.Span
	if err := p.next(); err != nil { // consume 'begin'
		return nil, err
	}
	blk := &Block{Span: sp}
	if ok, err := p.accept(COLON); err != nil {
		return nil, err
	} else if ok {
		label, err := p.expect(IDENT, "block label")
		if err != nil {
			return nil, err
		}
		blk.Label = label.Lexeme
	}
	// Leading declarations (only valid in named blocks per the
	// standard; accepted everywhere here, the resolver scopes them).
	for p.tok.Type == KWREAL || p.tok.Type == KWINTEGER {
		decl, err := p.parseVarDecl()
		if err != nil {
			return nil, err
		}
		blk.Decls = append(blk.Decls, decl)
	}
	for p.tok.Type != KWEND {
		if p.tok.Type == EOF {
			return nil, p.errf("unexpected end of input, expected 'end'")
		}
		s, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		blk.Stmts = append(blk.Stmts, s)
	}
	return blk, p.next()
}

func (p *parser) parseIf() (Stmt, error) {
	sp := p.tok.Span
	if err := p.next(); err != nil {
		return nil, err
	}
	cond, err := p.parseParenExpr()
	if err != nil {
		return nil, err
	}
	then, err := p.parseStmt()
	if err != nil {
		return nil, err
	}
	node := &If{Cond: cond, Then: then, Span: sp}
	if ok, err := p.accept(KWELSE); err != nil {
		return nil, err
	} else if ok {
		node.Else, err = p.parseStmt()
		if err != nil {
			return nil, err
		}
	}
	return node, nil
}

func (p *parser) parseFor() (Stmt, error) {
	sp := p.tok.Span
	if err := p.next(); err != nil {
		return nil, err
	}
	if _, err := p.expect(LPAREN, "'('"); err != nil {
		return nil, err
	}
	init, err := p.parseAssignNoSemi()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(SEMI, "';'"); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(SEMI, "';'"); err != nil {
		return nil, err
	}
	step, err := p.parseAssignNoSemi()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(RPAREN, "')'"); err != nil {
		return nil, err
	}
	body, err := p.parseStmt()
	if err != nil {
		return nil, err
	}
	return &For{Init: init, Cond: cond, Step: step, Body: body, Span: sp}, nil
}

func (p *parser) parseAssign() (Stmt, error) {
	a, err := p.parseAssignNoSemi()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(SEMI, "';'"); err != nil {
		return nil, err
	}
	return a, nil
}

func (p *parser) parseAssignNoSemi() (*Assign, error) {
	name, err := p.expect(IDENT, "variable name")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(ASSIGN, "'='"); err != nil {
		return nil, err
	}
	rhs, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return &Assign{Name: name.Lexeme, Rhs: rhs, Span: name.Span}, nil
}

func (p *parser) parseContribution() (Stmt, error) {
	sp := p.tok.Span
	access := AccessPotential
	if p.tok.Lexeme == "I" {
		access = AccessFlow
	}
	if err := p.next(); err != nil {
		return nil, err
	}
	ref, err := p.parseBranchRef()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(CONTRIB, "'<+'"); err != nil {
		return nil, err
	}
	rhs, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(SEMI, "';'"); err != nil {
		return nil, err
	}
	return &Contribution{Access: access, Ref: ref, Rhs: rhs, Span: sp}, nil
}

func (p *parser) parseBranchRef() (BranchRef, error) {
	sp := p.tok.Span
	if _, err := p.expect(LPAREN, "'('"); err != nil {
		return BranchRef{}, err
	}
	hi, err := p.expect(IDENT, "node or branch name")
	if err != nil {
		return BranchRef{}, err
	}
	ref := BranchRef{Hi: hi.Lexeme, Span: sp}
	if ok, err := p.accept(COMMA); err != nil {
		return BranchRef{}, err
	} else if ok {
		lo, err := p.expect(IDENT, "node name")
		if err != nil {
			return BranchRef{}, err
		}
		ref.Lo = lo.Lexeme
	}
	if _, err := p.expect(RPAREN, "')'"); err != nil {
		return BranchRef{}, err
	}
	return ref, nil
}

func (p *parser) parseParenExpr() (Expr, error) {
	if _, err := p.expect(LPAREN, "'('"); err != nil {
		return nil, err
	}
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(RPAREN, "')'"); err != nil {
		return nil, err
	}
	return e, nil
}

// Expression parsing, precedence climbing.

func (p *parser) parseExpr() (Expr, error) {
	return p.parseTernary()
}

func (p *parser) parseTernary() (Expr, error) {
	cond, err := p.parseBinary(0)
	if err != nil {
		return nil, err
	}
	if ok, err := p.accept(QUESTION); err != nil {
		return nil, err
	} else if !ok {
		return cond, nil
	}
	then, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(COLON, "':'"); err != nil {
		return nil, err
	}
	els, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return &Ternary{Cond: cond, Then: then, Else: els, Span: cond.ExprSpan()}, nil
}

type opInfo struct {
	prec       int
	rightAssoc bool
	name       string
}

func binaryOp(t TokenType) (opInfo, bool) {
	switch t {
	case OROR:
		return opInfo{1, false, "||"}, true
	case ANDAND:
		return opInfo{2, false, "&&"}, true
	case EQ:
		return opInfo{3, false, "=="}, true
	case NEQ:
		return opInfo{3, false, "!="}, true
	case LT:
		return opInfo{4, false, "<"}, true
	case LTE:
		return opInfo{4, false, "<="}, true
	case GT:
		return opInfo{4, false, ">"}, true
	case GTE:
		return opInfo{4, false, ">="}, true
	case PLUS:
		return opInfo{5, false, "+"}, true
	case MINUS:
		return opInfo{5, false, "-"}, true
	case STAR:
		return opInfo{6, false, "*"}, true
	case SLASH:
		return opInfo{6, false, "/"}, true
	case PERCENT:
		return opInfo{6, false, "%"}, true
	case POW:
		return opInfo{7, true, "**"}, true
	}
	return opInfo{}, false
}

func (p *parser) parseBinary(minPrec int) (Expr, error) {
	lhs, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		info, ok := binaryOp(p.tok.Type)
		if !ok || info.prec < minPrec {
			return lhs, nil
		}
		if err := p.next(); err != nil {
			return nil, err
		}
		nextMin := info.prec + 1
		if info.rightAssoc {
			nextMin = info.prec
		}
		rhs, err := p.parseBinary(nextMin)
		if err != nil {
			return nil, err
		}
		lhs = &Binary{Op: info.name, X: lhs, Y: rhs, Span: lhs.ExprSpan()}
	}
}

func (p *parser) parseUnary() (Expr, error) {
	switch p.tok.Type {
	case MINUS:
		sp := p.tok.Span
		if err := p.next(); err != nil {
			return nil, err
		}
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: "-", X: x, Span: sp}, nil
	case PLUS:
		if err := p.next(); err != nil {
			return nil, err
		}
		return p.parseUnary()
	case BANG:
		sp := p.tok.Span
		if err := p.next(); err != nil {
			return nil, err
		}
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: "!", X: x, Span: sp}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expr, error) {
	sp := p.tok.Span
	switch p.tok.Type {
	case NUMBER:
		lit := &NumberLit{Value: p.tok.Num, IsInt: p.tok.IsInt, Span: sp}
		return lit, p.next()
	case STRING:
		lit := &StringLit{Value: p.tok.Lexeme, Span: sp}
		return lit, p.next()
	case LPAREN:
		if err := p.next(); err != nil {
			return nil, err
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(RPAREN, "')'"); err != nil {
			return nil, err
		}
		return e, nil
	case SYSIDENT:
		name := p.tok.Lexeme
		if err := p.next(); err != nil {
			return nil, err
		}
		call := &SysCall{Name: name, Span: sp}
		if ok, err := p.accept(LPAREN); err != nil {
			return nil, err
		} else if ok {
			for p.tok.Type != RPAREN {
				arg, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				call.Args = append(call.Args, arg)
				if ok, err := p.accept(COMMA); err != nil {
					return nil, err
				} else if !ok {
					break
				}
			}
			if _, err := p.expect(RPAREN, "')'"); err != nil {
				return nil, err
			}
		}
		return call, nil
	case IDENT:
		name := p.tok.Lexeme
		if (name == "V" || name == "I") && p.peekIsLParen() {
			access := AccessPotential
			if name == "I" {
				access = AccessFlow
			}
			if err := p.next(); err != nil {
				return nil, err
			}
			ref, err := p.parseBranchRef()
			if err != nil {
				return nil, err
			}
			return &Probe{Access: access, Ref: ref, Span: sp}, nil
		}
		if err := p.next(); err != nil {
			return nil, err
		}
		if p.tok.Type == LPAREN {
			if err := p.next(); err != nil {
				return nil, err
			}
			call := &Call{Name: name, Span: sp}
			for p.tok.Type != RPAREN {
				arg, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				call.Args = append(call.Args, arg)
				if ok, err := p.accept(COMMA); err != nil {
					return nil, err
				} else if !ok {
					break
				}
			}
			if _, err := p.expect(RPAREN, "')'"); err != nil {
				return nil, err
			}
			return call, nil
		}
		return &Ref{Name: name, Span: sp}, nil
	default:
		return nil, p.errf("unexpected token %q in expression", p.tok.Lexeme)
	}
}
