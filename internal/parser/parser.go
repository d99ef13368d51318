// Package parser implements a recursive-descent, precedence-climbing parser
// for Regis source, producing an *ast.Program.
package parser

import (
	"fmt"
	"strconv"

	"regis/internal/ast"
	"regis/internal/diagnostics"
	"regis/internal/lexer"
	"regis/internal/token"
)

// ParseError describes a single syntactic violation: an unexpected token,
// the set of tokens that would have been accepted, and the offending span.
// LexErr marks the special case where the "unexpected token" is one the
// lexer itself already rejected (token.Illegal) — the fault started in
// tokenizing, not in the grammar, so it self-reports as a LexError rather
// than a ParseError.
type ParseError struct {
	Pos      token.Position
	Got      token.Kind
	Expected []token.Kind
	Msg      string
	LexErr   bool
}

func (e *ParseError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("%d:%d: %s", e.Pos.Line, e.Pos.Column, e.Msg)
	}
	return fmt.Sprintf("%d:%d: unexpected %s, expected one of %v", e.Pos.Line, e.Pos.Column, e.Got, e.Expected)
}

// DiagnosticKind implements diagnostics.Kinded.
func (e *ParseError) DiagnosticKind() diagnostics.Kind {
	if e.LexErr {
		return diagnostics.LexError
	}
	return diagnostics.ParseError
}

// DiagnosticPos implements diagnostics.Spanned.
func (e *ParseError) DiagnosticPos() (line, column int) { return e.Pos.Line, e.Pos.Column }

// abort is panicked to unwind the whole recursive-descent stack on the first
// syntax error; Parse recovers it so a bad source never yields a partial tree.
type abort struct{ err *ParseError }

// Parser consumes tokens from a Lexer and builds an ast.Program.
type Parser struct {
	l    *lexer.Lexer
	cur  token.Token
	peek token.Token
}

// New returns a Parser reading from l.
func New(l *lexer.Lexer) *Parser {
	p := &Parser{l: l}
	p.cur = p.l.NextToken()
	p.peek = p.l.NextToken()
	p.checkIllegal(p.cur)
	return p
}

func (p *Parser) nextToken() {
	p.cur = p.peek
	p.peek = p.l.NextToken()
	p.checkIllegal(p.cur)
}

// checkIllegal aborts the parse the moment a token.Illegal reaches p.cur,
// reporting it as a LexError (using the lexer's own recorded message) rather
// than letting it fall through to some later grammar rule's generic
// "unexpected token" ParseError.
func (p *Parser) checkIllegal(tok token.Token) {
	if tok.Kind != token.Illegal {
		return
	}
	msg := fmt.Sprintf("unexpected byte %q", tok.Lexeme)
	if errs := p.l.Errors(); len(errs) > 0 {
		msg = errs[len(errs)-1]
	}
	panic(abort{&ParseError{Pos: tok.Pos, Got: tok.Kind, Msg: msg, LexErr: true}})
}

func (p *Parser) fail(msg string, expected ...token.Kind) {
	panic(abort{&ParseError{Pos: p.cur.Pos, Got: p.cur.Kind, Expected: expected, Msg: msg}})
}

func (p *Parser) expect(k token.Kind) token.Token {
	if p.cur.Kind != k {
		p.fail(fmt.Sprintf("expected %s, got %s %q", k, p.cur.Kind, p.cur.Lexeme), k)
	}
	tok := p.cur
	p.nextToken()
	return tok
}

// Parse parses the whole token stream as a Program. It never returns a
// partial tree: on the first syntax error it returns a nil Program and the
// ParseError.
func Parse(l *lexer.Lexer) (*ast.Program, error) {
	var prog *ast.Program
	var parseErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				a, ok := r.(abort)
				if !ok {
					panic(r)
				}
				parseErr = a.err
			}
		}()
		prog = New(l).parseProgram()
	}()
	if parseErr != nil {
		return nil, parseErr
	}
	return prog, nil
}

func (p *Parser) parseProgram() *ast.Program {
	prog := &ast.Program{}
	for p.cur.Kind != token.EOF {
		prog.Statements = append(prog.Statements, p.parseStatement())
	}
	return prog
}

func (p *Parser) parseBlock() *ast.BlockStmt {
	pos := p.cur.Pos
	p.expect(token.LBrace)
	block := &ast.BlockStmt{Pos_: pos}
	for p.cur.Kind != token.RBrace && p.cur.Kind != token.EOF {
		block.Stmts = append(block.Stmts, p.parseStatement())
	}
	p.expect(token.RBrace)
	return block
}

func (p *Parser) parseParams() []ast.Param {
	p.expect(token.LParen)
	var params []ast.Param
	for p.cur.Kind != token.RParen {
		tok := p.expect(token.Ident)
		params = append(params, ast.Param{Name: tok.Lexeme, Pos_: tok.Pos})
		if p.cur.Kind == token.Comma {
			p.nextToken()
			continue
		}
		break
	}
	p.expect(token.RParen)
	return params
}

func (p *Parser) parseStatement() ast.Stmt {
	switch p.cur.Kind {
	case token.Let:
		return p.parseVarDecl(false)
	case token.Export:
		p.nextToken()
		switch p.cur.Kind {
		case token.Let:
			return p.parseVarDecl(true)
		case token.Fn:
			return p.parseFnDecl(true)
		default:
			p.fail("expected 'let' or 'fn' after 'export'", token.Let, token.Fn)
		}
	case token.Fn:
		return p.parseFnDecl(false)
	case token.If:
		return p.parseIf()
	case token.While:
		return p.parseWhile()
	case token.Loop:
		return p.parseLoop()
	case token.Return:
		return p.parseReturn()
	}
	return p.parseSimpleStatement()
}

func (p *Parser) parseVarDecl(exported bool) ast.Stmt {
	pos := p.cur.Pos
	p.nextToken() // 'let'
	name := p.expect(token.Ident)
	p.expect(token.Assign)
	value := p.parseExpr()
	p.expect(token.Semicolon)
	return &ast.VarDeclStmt{Pos_: pos, Name: name.Lexeme, Value: value, Exported: exported}
}

func (p *Parser) parseFnDecl(exported bool) ast.Stmt {
	pos := p.cur.Pos
	p.nextToken() // 'fn'
	name := p.expect(token.Ident)
	params := p.parseParams()
	var body *ast.BlockStmt
	if p.cur.Kind == token.Arrow {
		p.nextToken()
		expr := p.parseExpr()
		p.expect(token.Semicolon)
		body = &ast.BlockStmt{Pos_: expr.Pos(), Stmts: []ast.Stmt{&ast.ReturnStmt{Pos_: expr.Pos(), Value: expr}}}
	} else {
		body = p.parseBlock()
	}
	return &ast.FnDeclStmt{Pos_: pos, Name: name.Lexeme, Params: params, Body: body, Exported: exported}
}

func (p *Parser) parseIf() ast.Stmt {
	pos := p.cur.Pos
	p.nextToken() // 'if'
	cond := p.parseExpr()
	then := p.parseBlock()
	stmt := &ast.IfStmt{Pos_: pos, Cond: cond, Then: then}
	if p.cur.Kind == token.Else {
		p.nextToken()
		if p.cur.Kind == token.If {
			stmt.Else = p.parseIf()
		} else {
			stmt.Else = p.parseBlock()
		}
	}
	return stmt
}

func (p *Parser) parseWhile() ast.Stmt {
	pos := p.cur.Pos
	p.nextToken() // 'while'
	cond := p.parseExpr()
	body := p.parseBlock()
	return &ast.WhileStmt{Pos_: pos, Cond: cond, Body: body}
}

func (p *Parser) parseLoop() ast.Stmt {
	pos := p.cur.Pos
	p.nextToken() // 'loop'
	body := p.parseBlock()
	return &ast.LoopStmt{Pos_: pos, Body: body}
}

func (p *Parser) parseReturn() ast.Stmt {
	pos := p.cur.Pos
	p.nextToken() // 'return'
	if p.cur.Kind == token.Semicolon {
		p.nextToken()
		return &ast.ReturnStmt{Pos_: pos}
	}
	value := p.parseExpr()
	p.expect(token.Semicolon)
	return &ast.ReturnStmt{Pos_: pos, Value: value}
}

// parseSimpleStatement handles assignment and expression statements, which
// both start by parsing a full expression and then looking at what follows.
func (p *Parser) parseSimpleStatement() ast.Stmt {
	pos := p.cur.Pos
	expr := p.parseExpr()

	switch p.cur.Kind {
	case token.Assign:
		p.nextToken()
		value := p.parseExpr()
		p.expect(token.Semicolon)
		return p.assignStmtFor(pos, expr, value)
	case token.PlusAssign:
		ident, ok := expr.(*ast.IdentExpr)
		if !ok {
			p.fail("compound assignment target must be a plain name")
		}
		p.nextToken()
		value := p.parseExpr()
		p.expect(token.Semicolon)
		return &ast.AssignStmt{Pos_: pos, Name: ident.Name, Value: value, Compound: true}
	default:
		p.expect(token.Semicolon)
		return &ast.ExprStmt{Pos_: pos, X: expr}
	}
}

func (p *Parser) assignStmtFor(pos token.Position, target, value ast.Expr) ast.Stmt {
	switch t := target.(type) {
	case *ast.IdentExpr:
		return &ast.AssignStmt{Pos_: pos, Name: t.Name, Value: value}
	case *ast.IndexExpr:
		return &ast.IndexAssignStmt{Pos_: pos, Target: t.X, Index: t.Index, Value: value}
	case *ast.MemberExpr:
		return &ast.MemberAssignStmt{Pos_: pos, Target: t.X, Name: t.Name, Value: value}
	default:
		return &ast.GenericAssignStmt{Pos_: pos, Target: target, Value: value}
	}
}

// ---- Expressions ----

func (p *Parser) parseExpr() ast.Expr {
	return p.parseOr()
}

func (p *Parser) parseOr() ast.Expr {
	left := p.parseAnd()
	for p.cur.Kind == token.Or {
		pos := p.cur.Pos
		p.nextToken()
		right := p.parseAnd()
		left = &ast.LogicalExpr{Pos_: pos, Op: token.Or, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseAnd() ast.Expr {
	left := p.parseEquality()
	for p.cur.Kind == token.And {
		pos := p.cur.Pos
		p.nextToken()
		right := p.parseEquality()
		left = &ast.LogicalExpr{Pos_: pos, Op: token.And, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseEquality() ast.Expr {
	left := p.parseRelational()
	for p.cur.Kind == token.Eq || p.cur.Kind == token.NotEq {
		op := p.cur
		p.nextToken()
		right := p.parseRelational()
		left = &ast.BinaryExpr{Pos_: op.Pos, Op: op.Kind, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseRelational() ast.Expr {
	left := p.parseShift()
	for p.cur.Kind == token.Lt || p.cur.Kind == token.Gt || p.cur.Kind == token.Lte || p.cur.Kind == token.Gte {
		op := p.cur
		p.nextToken()
		right := p.parseShift()
		left = &ast.BinaryExpr{Pos_: op.Pos, Op: op.Kind, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseShift() ast.Expr {
	left := p.parseBitOr()
	for p.cur.Kind == token.Shl || p.cur.Kind == token.Shr {
		op := p.cur
		p.nextToken()
		right := p.parseBitOr()
		left = &ast.BinaryExpr{Pos_: op.Pos, Op: op.Kind, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseBitOr() ast.Expr {
	left := p.parseBitAnd()
	for p.cur.Kind == token.Pipe {
		op := p.cur
		p.nextToken()
		right := p.parseBitAnd()
		left = &ast.BinaryExpr{Pos_: op.Pos, Op: op.Kind, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseBitAnd() ast.Expr {
	left := p.parseAdditive()
	for p.cur.Kind == token.Amp {
		op := p.cur
		p.nextToken()
		right := p.parseAdditive()
		left = &ast.BinaryExpr{Pos_: op.Pos, Op: op.Kind, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseAdditive() ast.Expr {
	left := p.parseMultiplicative()
	for p.cur.Kind == token.Plus || p.cur.Kind == token.Minus {
		op := p.cur
		p.nextToken()
		right := p.parseMultiplicative()
		left = &ast.BinaryExpr{Pos_: op.Pos, Op: op.Kind, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseMultiplicative() ast.Expr {
	left := p.parseCoalesce()
	for p.cur.Kind == token.Star || p.cur.Kind == token.Slash {
		op := p.cur
		p.nextToken()
		right := p.parseCoalesce()
		left = &ast.BinaryExpr{Pos_: op.Pos, Op: op.Kind, Left: left, Right: right}
	}
	return left
}

// parseCoalesce binds tighter than the arithmetic tiers above it and looser
// than unary, per the precedence table: `??` sits just outside the atom
// chain, ahead of every other binary operator.
func (p *Parser) parseCoalesce() ast.Expr {
	left := p.parseUnary()
	for p.cur.Kind == token.Coalesce {
		pos := p.cur.Pos
		p.nextToken()
		right := p.parseUnary()
		left = &ast.LogicalExpr{Pos_: pos, Op: token.Coalesce, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseUnary() ast.Expr {
	switch p.cur.Kind {
	case token.Minus, token.Tilde, token.Not:
		op := p.cur
		p.nextToken()
		x := p.parseUnary()
		return &ast.UnaryExpr{Pos_: op.Pos, Op: op.Kind, X: x}
	}
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() ast.Expr {
	x := p.parseAtom()
	for {
		switch p.cur.Kind {
		case token.LParen:
			pos := p.cur.Pos
			p.nextToken()
			var args []ast.Expr
			for p.cur.Kind != token.RParen {
				args = append(args, p.parseExpr())
				if p.cur.Kind == token.Comma {
					p.nextToken()
					continue
				}
				break
			}
			p.expect(token.RParen)
			x = &ast.CallExpr{Pos_: pos, Fn: x, Args: args}
		case token.LBracket:
			pos := p.cur.Pos
			p.nextToken()
			idx := p.parseExpr()
			p.expect(token.RBracket)
			x = &ast.IndexExpr{Pos_: pos, X: x, Index: idx}
		case token.Dot:
			pos := p.cur.Pos
			p.nextToken()
			name := p.expect(token.Ident)
			x = &ast.MemberExpr{Pos_: pos, X: x, Name: name.Lexeme}
		default:
			return x
		}
	}
}

func (p *Parser) parseAtom() ast.Expr {
	tok := p.cur
	switch tok.Kind {
	case token.Int:
		p.nextToken()
		n, err := strconv.ParseInt(tok.Lexeme, 10, 64)
		if err != nil {
			p.fail(fmt.Sprintf("malformed integer literal %q", tok.Lexeme))
		}
		return &ast.IntLiteral{Pos_: tok.Pos, Value: n}
	case token.Float:
		p.nextToken()
		f, err := strconv.ParseFloat(tok.Lexeme, 64)
		if err != nil {
			p.fail(fmt.Sprintf("malformed float literal %q", tok.Lexeme))
		}
		return &ast.FloatLiteral{Pos_: tok.Pos, Value: f}
	case token.String:
		p.nextToken()
		return &ast.StringLiteral{Pos_: tok.Pos, Value: tok.Lexeme}
	case token.True:
		p.nextToken()
		return &ast.BoolLiteral{Pos_: tok.Pos, Value: true}
	case token.False:
		p.nextToken()
		return &ast.BoolLiteral{Pos_: tok.Pos, Value: false}
	case token.Null:
		p.nextToken()
		return &ast.NullLiteral{Pos_: tok.Pos}
	case token.Ident:
		p.nextToken()
		return &ast.IdentExpr{Pos_: tok.Pos, Name: tok.Lexeme}
	case token.Builtin:
		p.nextToken()
		return &ast.BuiltinExpr{Pos_: tok.Pos, Name: tok.Lexeme}
	case token.LParen:
		p.nextToken()
		x := p.parseExpr()
		p.expect(token.RParen)
		return x
	case token.LBracket:
		return p.parseListLiteral()
	case token.LBrace:
		return p.parseObjectLiteral()
	case token.Fn:
		return p.parseFuncLiteral()
	default:
		p.fail(fmt.Sprintf("unexpected token %s %q", tok.Kind, tok.Lexeme))
		return nil
	}
}

func (p *Parser) parseListLiteral() ast.Expr {
	pos := p.cur.Pos
	p.nextToken() // '['
	var elems []ast.Expr
	for p.cur.Kind != token.RBracket {
		elems = append(elems, p.parseExpr())
		if p.cur.Kind == token.Comma {
			p.nextToken()
			continue
		}
		break
	}
	p.expect(token.RBracket)
	return &ast.ListLiteral{Pos_: pos, Elems: elems}
}

func (p *Parser) parseObjectLiteral() ast.Expr {
	pos := p.cur.Pos
	p.nextToken() // '{'
	var entries []ast.ObjectEntry
	for p.cur.Kind != token.RBrace {
		var key ast.Expr
		computed := false
		switch p.cur.Kind {
		case token.LBracket:
			p.nextToken()
			key = p.parseExpr()
			p.expect(token.RBracket)
			computed = true
		case token.String:
			key = &ast.StringLiteral{Pos_: p.cur.Pos, Value: p.cur.Lexeme}
			p.nextToken()
		case token.Ident:
			key = &ast.IdentExpr{Pos_: p.cur.Pos, Name: p.cur.Lexeme}
			p.nextToken()
		default:
			p.fail("expected object key (identifier, string, or computed '[' key ']')")
		}
		p.expect(token.Colon)
		value := p.parseExpr()
		entries = append(entries, ast.ObjectEntry{Key: key, Computed: computed, Value: value})
		if p.cur.Kind == token.Comma {
			p.nextToken()
			continue
		}
		break
	}
	p.expect(token.RBrace)
	return &ast.ObjectLiteral{Pos_: pos, Entries: entries}
}

func (p *Parser) parseFuncLiteral() ast.Expr {
	pos := p.cur.Pos
	p.nextToken() // 'fn'
	name := ""
	if p.cur.Kind == token.Ident {
		name = p.cur.Lexeme
		p.nextToken()
	}
	var params []ast.Param
	if p.cur.Kind == token.LParen {
		params = p.parseParams()
	}
	var body *ast.BlockStmt
	if p.cur.Kind == token.Arrow {
		p.nextToken()
		expr := p.parseExpr()
		body = &ast.BlockStmt{Pos_: expr.Pos(), Stmts: []ast.Stmt{&ast.ReturnStmt{Pos_: expr.Pos(), Value: expr}}}
	} else {
		body = p.parseBlock()
	}
	return &ast.FuncLiteral{Pos_: pos, Name: name, Params: params, Body: body}
}
