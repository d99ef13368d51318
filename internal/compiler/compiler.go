// Package compiler lowers a parsed Regis program into bytecode: a single
// recursive pass that resolves every name (local, captured upvalue, or
// global fallback) and emits instructions as it walks the tree, rather than
// the teacher's separate two-pass resolve-then-generate pipeline. A module's
// top-level statements compile to a one-parameter Function: the caller
// passes in the exports Object to populate, `export` statements write into
// it as they run, and it is also the function's return value.
package compiler

import (
	"fmt"

	"regis/internal/ast"
	"regis/internal/bytecode"
	"regis/internal/diagnostics"
	"regis/internal/token"
)

// CompileError reports a semantic violation caught during compilation —
// something the grammar permits syntactically but that has no valid
// lowering (a duplicate local, an export outside top level, and so on).
type CompileError struct {
	Pos token.Position
	Msg string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Pos.Line, e.Pos.Column, e.Msg)
}

// DiagnosticKind implements diagnostics.Kinded.
func (e *CompileError) DiagnosticKind() diagnostics.Kind { return diagnostics.CompileError }

// DiagnosticPos implements diagnostics.Spanned.
func (e *CompileError) DiagnosticPos() (line, column int) { return e.Pos.Line, e.Pos.Column }

// abort unwinds the compile on the first CompileError, mirroring the
// parser's panic/recover pattern.
type abort struct{ err *CompileError }

func fail(pos token.Position, format string, args ...any) {
	panic(abort{&CompileError{Pos: pos, Msg: fmt.Sprintf(format, args...)}})
}

// maxSlots bounds how many locals a single function may declare and how
// many entries its upvalue table may hold. Int operands have no such limit,
// but a bound of some kind is part of the error taxonomy, so this
// implementation picks one generous enough never to bind a real program.
// The constant pool is not checked against any bound.
const maxSlots = 1 << 16

// scope is one block's local-name table. Blocks nest via parent; resolving
// a name walks outward through the chain until it falls off the top of the
// current function (at which point resolution continues in the enclosing
// function, as an upvalue, or finally as a global).
type scope struct {
	parent *scope
	names  map[string]int // name -> stack slot
}

func (s *scope) declare(pos token.Position, name string, slot int) {
	if _, dup := s.names[name]; dup {
		fail(pos, "duplicate local %q in the same block", name)
	}
	s.names[name] = slot
}

func (s *scope) resolve(name string) (slot int, ok bool) {
	for b := s; b != nil; b = b.parent {
		if slot, ok := b.names[name]; ok {
			return slot, true
		}
	}
	return 0, false
}

// funcCompiler compiles one function body (including a module's implicit
// top-level function). It chains to enclosing via the lexical nesting of
// function literals/declarations, which is exactly the chain resolveUpvalue
// walks.
type funcCompiler struct {
	enclosing   *funcCompiler
	fn          *bytecode.Function
	chunk       *bytecode.Chunk
	block       *scope // innermost live block
	top         *scope // this function's outermost block
	nextSlot    int
	isModule    bool
	modPath     string
	exportsSlot int // isModule only: local slot holding the live exports Object
}

func newFuncCompiler(enclosing *funcCompiler, name string, params []ast.Param) *funcCompiler {
	fn := &bytecode.Function{Name: name, NumParams: len(params)}
	top := &scope{names: map[string]int{}}
	fc := &funcCompiler{enclosing: enclosing, fn: fn, chunk: &fn.Chunk, block: top, top: top, nextSlot: 1}
	if enclosing != nil {
		fc.modPath = enclosing.modPath
		fn.ModulePath = enclosing.modPath
	}
	if name != "" {
		// Slot 0 always holds the closure currently executing; aliasing the
		// function's own name to it gives named function literals and
		// declarations free self-recursion with no dedicated mechanism.
		top.names[name] = 0
	}
	for _, p := range params {
		fc.declareLocal(p.Pos_, p.Name)
	}
	return fc
}

func (fc *funcCompiler) declareLocal(pos token.Position, name string) int {
	slot := fc.nextSlot
	fc.block.declare(pos, name, slot)
	fc.nextSlot++
	if fc.nextSlot > maxSlots {
		fail(pos, "too many locals in a single function")
	}
	if fc.nextSlot > fc.chunk.NumLocals {
		fc.chunk.NumLocals = fc.nextSlot
	}
	return slot
}

func (fc *funcCompiler) pushBlock() {
	fc.block = &scope{parent: fc.block, names: map[string]int{}}
}

// popBlock leaves a block, reclaiming its locals' stack slots and closing
// any upvalues that captured them. The close is unconditional rather than
// gated on "was anything actually captured" — harmless at runtime since the
// VM's close-upvalues handler is a no-op when nothing in range is open, and
// it keeps this bookkeeping out of the compiler entirely.
func (fc *funcCompiler) popBlock(pos token.Position) {
	boundary := fc.nextSlot
	for range fc.block.names {
		boundary--
	}
	if boundary < fc.nextSlot {
		fc.chunk.Emit(bytecode.OpCloseUpvalues, boundary, 0, span(pos))
		for i := fc.nextSlot - 1; i >= boundary; i-- {
			fc.chunk.Emit(bytecode.OpPop, 0, 0, span(pos))
		}
	}
	fc.nextSlot = boundary
	fc.block = fc.block.parent
}

// resolveUpvalue looks for name among fc's enclosing functions' locals (or
// their own upvalues, recursively), registering one upvalue descriptor per
// function on the chain it has to cross.
func (fc *funcCompiler) resolveUpvalue(name string) (int, bool) {
	if fc.enclosing == nil {
		return 0, false
	}
	if slot, ok := fc.enclosing.block.resolve(name); ok {
		return fc.addUpvalue(bytecode.UpvalueInfo{IsLocal: true, Index: slot}), true
	}
	if idx, ok := fc.enclosing.resolveUpvalue(name); ok {
		return fc.addUpvalue(bytecode.UpvalueInfo{IsLocal: false, Index: idx}), true
	}
	return 0, false
}

func (fc *funcCompiler) addUpvalue(info bytecode.UpvalueInfo) int {
	for i, u := range fc.chunk.Upvalues {
		if u == info {
			return i
		}
	}
	fc.chunk.Upvalues = append(fc.chunk.Upvalues, info)
	if len(fc.chunk.Upvalues) > maxSlots {
		fail(token.Position{}, "too many captured upvalues in a single function")
	}
	return len(fc.chunk.Upvalues) - 1
}

type nameKind int

const (
	nameLocal nameKind = iota
	nameUpvalue
	nameGlobal
)

func (fc *funcCompiler) resolveName(name string) (nameKind, int) {
	if slot, ok := fc.block.resolve(name); ok {
		return nameLocal, slot
	}
	if idx, ok := fc.resolveUpvalue(name); ok {
		return nameUpvalue, idx
	}
	return nameGlobal, 0
}

func span(pos token.Position) bytecode.Span {
	return bytecode.Span{Line: pos.Line, Column: pos.Column}
}

// exportsParamName names the module top-level function's sole implicit
// parameter: the exports Object the loader creates for a Loading record
// (spec §4.6 step 3) and hands in so `export` statements write into that
// same, already-shared Object rather than one built fresh at the end —
// the loader's Loading-time placeholder and the finished module's exports
// are then always the same Object, never a replacement.
const exportsParamName = "<exports>"

// Compile lowers prog into a one-parameter top-level Function a module
// loader runs, its sole parameter being the exports Object to populate.
// Its return value is that same Object. modulePath is the compiled
// module's canonical path, stamped onto every function (including nested
// closures) so @import inside them still resolves relative to the file
// they were written in.
func Compile(prog *ast.Program, modulePath string) (fn *bytecode.Function, err error) {
	defer func() {
		if r := recover(); r != nil {
			a, ok := r.(abort)
			if !ok {
				panic(r)
			}
			fn, err = nil, a.err
		}
	}()
	fc := newFuncCompiler(nil, "<module>", []ast.Param{{Name: exportsParamName}})
	fc.isModule = true
	fc.modPath = modulePath
	fc.fn.ModulePath = modulePath
	fc.exportsSlot, _ = fc.top.resolve(exportsParamName)

	for _, s := range prog.Statements {
		fc.compileStmt(s)
	}

	pos := token.Position{}
	if len(prog.Statements) > 0 {
		pos = prog.Statements[len(prog.Statements)-1].Pos()
	}
	fc.chunk.Emit(bytecode.OpLoadLocal, fc.exportsSlot, 0, span(pos))
	fc.chunk.Emit(bytecode.OpReturn, 0, 0, span(pos))

	return fc.fn, nil
}

// ---- Statements ----

func (fc *funcCompiler) compileStmt(s ast.Stmt) {
	switch s := s.(type) {
	case *ast.BlockStmt:
		fc.pushBlock()
		for _, inner := range s.Stmts {
			fc.compileStmt(inner)
		}
		fc.popBlock(s.Pos())
	case *ast.VarDeclStmt:
		fc.compileVarDecl(s)
	case *ast.FnDeclStmt:
		fc.compileFnDecl(s)
	case *ast.AssignStmt:
		fc.compileAssign(s)
	case *ast.IndexAssignStmt:
		fc.compileExpr(s.Target)
		fc.compileExpr(s.Index)
		fc.compileExpr(s.Value)
		fc.chunk.Emit(bytecode.OpIndexSet, 0, 0, span(s.Pos()))
	case *ast.MemberAssignStmt:
		fc.compileExpr(s.Target)
		fc.chunk.Emit(bytecode.OpConst, fc.chunk.AddConstString(s.Name), 0, span(s.Pos()))
		fc.compileExpr(s.Value)
		fc.chunk.Emit(bytecode.OpIndexSet, 0, 0, span(s.Pos()))
	case *ast.GenericAssignStmt:
		fail(s.Pos(), "assignment to non-assignable expression")
	case *ast.ExprStmt:
		fc.compileExpr(s.X)
		fc.chunk.Emit(bytecode.OpPop, 0, 0, span(s.Pos()))
	case *ast.IfStmt:
		fc.compileIf(s)
	case *ast.WhileStmt:
		fc.compileWhile(s)
	case *ast.LoopStmt:
		fc.compileLoop(s)
	case *ast.ReturnStmt:
		if s.Value != nil {
			fc.compileExpr(s.Value)
		} else {
			fc.chunk.Emit(bytecode.OpPushNull, 0, 0, span(s.Pos()))
		}
		fc.chunk.Emit(bytecode.OpReturn, 0, 0, span(s.Pos()))
	default:
		fail(s.Pos(), "internal: unhandled statement %T", s)
	}
}

func (fc *funcCompiler) compileVarDecl(s *ast.VarDeclStmt) {
	if s.Exported && !fc.exportAllowedHere() {
		fail(s.Pos(), "export outside top level")
	}
	fc.compileExpr(s.Value)
	if s.Exported {
		fc.chunk.Emit(bytecode.OpAssignExport, fc.exportsSlot, fc.chunk.AddConstString(s.Name), span(s.Pos()))
	}
	// The pushed value's stack position is already the new local's slot —
	// declaring it is pure bookkeeping, no store/pop instruction needed.
	fc.declareLocal(s.Pos(), s.Name)
}

func (fc *funcCompiler) exportAllowedHere() bool {
	return fc.isModule && fc.block == fc.top
}

func (fc *funcCompiler) compileFnDecl(s *ast.FnDeclStmt) {
	if s.Exported && !fc.exportAllowedHere() {
		fail(s.Pos(), "export outside top level")
	}
	nested := newFuncCompiler(fc, s.Name, s.Params)
	for _, stmt := range s.Body.Stmts {
		nested.compileStmt(stmt)
	}
	nested.chunk.Emit(bytecode.OpPushNull, 0, 0, span(s.Pos()))
	nested.chunk.Emit(bytecode.OpReturn, 0, 0, span(s.Pos()))

	idx := fc.chunk.AddConstFunc(nested.fn)
	fc.chunk.Emit(bytecode.OpMakeClosure, idx, 0, span(s.Pos()))
	if s.Exported {
		fc.chunk.Emit(bytecode.OpAssignExport, fc.exportsSlot, fc.chunk.AddConstString(s.Name), span(s.Pos()))
	}
	fc.declareLocal(s.Pos(), s.Name)
}

func (fc *funcCompiler) compileAssign(s *ast.AssignStmt) {
	kind, idx := fc.resolveName(s.Name)
	if s.Compound {
		fc.emitLoad(kind, idx, s.Name, s.Pos())
		fc.compileExpr(s.Value)
		fc.chunk.Emit(bytecode.OpAdd, 0, 0, span(s.Pos()))
	} else {
		fc.compileExpr(s.Value)
	}
	fc.emitStore(kind, idx, s.Name, s.Pos())
	fc.chunk.Emit(bytecode.OpPop, 0, 0, span(s.Pos()))
}

func (fc *funcCompiler) emitLoad(kind nameKind, idx int, name string, pos token.Position) {
	switch kind {
	case nameLocal:
		fc.chunk.Emit(bytecode.OpLoadLocal, idx, 0, span(pos))
	case nameUpvalue:
		fc.chunk.Emit(bytecode.OpLoadUpvalue, idx, 0, span(pos))
	default:
		fc.chunk.Emit(bytecode.OpLoadGlobal, fc.chunk.AddConstString(name), 0, span(pos))
	}
}

func (fc *funcCompiler) emitStore(kind nameKind, idx int, name string, pos token.Position) {
	switch kind {
	case nameLocal:
		fc.chunk.Emit(bytecode.OpStoreLocal, idx, 0, span(pos))
	case nameUpvalue:
		fc.chunk.Emit(bytecode.OpStoreUpvalue, idx, 0, span(pos))
	default:
		fc.chunk.Emit(bytecode.OpStoreGlobal, fc.chunk.AddConstString(name), 0, span(pos))
	}
}

func (fc *funcCompiler) compileIf(s *ast.IfStmt) {
	fc.compileExpr(s.Cond)
	elseJump := fc.chunk.Emit(bytecode.OpJumpIfFalse, 0, 0, span(s.Pos()))
	fc.compileStmt(s.Then)
	if s.Else != nil {
		endJump := fc.chunk.Emit(bytecode.OpJump, 0, 0, span(s.Pos()))
		fc.chunk.Code[elseJump].A = len(fc.chunk.Code)
		fc.compileStmt(s.Else)
		fc.chunk.Code[endJump].A = len(fc.chunk.Code)
	} else {
		fc.chunk.Code[elseJump].A = len(fc.chunk.Code)
	}
}

func (fc *funcCompiler) compileWhile(s *ast.WhileStmt) {
	loopStart := len(fc.chunk.Code)
	fc.compileExpr(s.Cond)
	exitJump := fc.chunk.Emit(bytecode.OpJumpIfFalse, 0, 0, span(s.Pos()))
	fc.compileStmt(s.Body)
	fc.chunk.Emit(bytecode.OpJump, loopStart, 0, span(s.Pos()))
	fc.chunk.Code[exitJump].A = len(fc.chunk.Code)
}

func (fc *funcCompiler) compileLoop(s *ast.LoopStmt) {
	loopStart := len(fc.chunk.Code)
	fc.compileStmt(s.Body)
	fc.chunk.Emit(bytecode.OpJump, loopStart, 0, span(s.Pos()))
}

// ---- Expressions ----

func (fc *funcCompiler) compileExpr(e ast.Expr) {
	switch e := e.(type) {
	case *ast.IntLiteral:
		fc.chunk.Emit(bytecode.OpConst, fc.chunk.AddConstInt(e.Value), 0, span(e.Pos()))
	case *ast.FloatLiteral:
		fc.chunk.Emit(bytecode.OpConst, fc.chunk.AddConstFloat(e.Value), 0, span(e.Pos()))
	case *ast.StringLiteral:
		fc.chunk.Emit(bytecode.OpConst, fc.chunk.AddConstString(e.Value), 0, span(e.Pos()))
	case *ast.BoolLiteral:
		if e.Value {
			fc.chunk.Emit(bytecode.OpPushTrue, 0, 0, span(e.Pos()))
		} else {
			fc.chunk.Emit(bytecode.OpPushFalse, 0, 0, span(e.Pos()))
		}
	case *ast.NullLiteral:
		fc.chunk.Emit(bytecode.OpPushNull, 0, 0, span(e.Pos()))
	case *ast.IdentExpr:
		kind, idx := fc.resolveName(e.Name)
		fc.emitLoad(kind, idx, e.Name, e.Pos())
	case *ast.BuiltinExpr:
		id, ok := bytecode.LookupBuiltin(e.Name)
		if !ok {
			fail(e.Pos(), "unknown built-in %q", e.Name)
		}
		fc.chunk.Emit(bytecode.OpLoadBuiltin, int(id), 0, span(e.Pos()))
	case *ast.ListLiteral:
		for _, el := range e.Elems {
			fc.compileExpr(el)
		}
		fc.chunk.Emit(bytecode.OpMakeList, len(e.Elems), 0, span(e.Pos()))
	case *ast.ObjectLiteral:
		for _, entry := range e.Entries {
			fc.compileObjectKey(entry)
			fc.compileExpr(entry.Value)
		}
		fc.chunk.Emit(bytecode.OpMakeObject, len(e.Entries), 0, span(e.Pos()))
	case *ast.FuncLiteral:
		fc.compileFuncLiteral(e)
	case *ast.CallExpr:
		fc.compileExpr(e.Fn)
		for _, arg := range e.Args {
			fc.compileExpr(arg)
		}
		fc.chunk.Emit(bytecode.OpCall, len(e.Args), 0, span(e.Pos()))
	case *ast.IndexExpr:
		fc.compileExpr(e.X)
		fc.compileExpr(e.Index)
		fc.chunk.Emit(bytecode.OpIndexGet, 0, 0, span(e.Pos()))
	case *ast.MemberExpr:
		fc.compileExpr(e.X)
		fc.chunk.Emit(bytecode.OpConst, fc.chunk.AddConstString(e.Name), 0, span(e.Pos()))
		fc.chunk.Emit(bytecode.OpIndexGet, 0, 0, span(e.Pos()))
	case *ast.UnaryExpr:
		fc.compileExpr(e.X)
		switch e.Op {
		case token.Minus:
			fc.chunk.Emit(bytecode.OpNeg, 0, 0, span(e.Pos()))
		case token.Tilde:
			fc.chunk.Emit(bytecode.OpBitNot, 0, 0, span(e.Pos()))
		case token.Not:
			fc.chunk.Emit(bytecode.OpNot, 0, 0, span(e.Pos()))
		default:
			fail(e.Pos(), "internal: unhandled unary operator %s", e.Op)
		}
	case *ast.BinaryExpr:
		fc.compileExpr(e.Left)
		fc.compileExpr(e.Right)
		fc.chunk.Emit(binaryOp(e.Op, e.Pos()), 0, 0, span(e.Pos()))
	case *ast.LogicalExpr:
		fc.compileLogical(e)
	default:
		fail(e.Pos(), "internal: unhandled expression %T", e)
	}
}

func (fc *funcCompiler) compileObjectKey(entry ast.ObjectEntry) {
	if entry.Computed {
		fc.compileExpr(entry.Key)
		return
	}
	switch k := entry.Key.(type) {
	case *ast.IdentExpr:
		fc.chunk.Emit(bytecode.OpConst, fc.chunk.AddConstString(k.Name), 0, span(k.Pos()))
	case *ast.StringLiteral:
		fc.chunk.Emit(bytecode.OpConst, fc.chunk.AddConstString(k.Value), 0, span(k.Pos()))
	default:
		fail(entry.Key.Pos(), "internal: unhandled static object key %T", k)
	}
}

func binaryOp(op token.Kind, pos token.Position) bytecode.OpCode {
	switch op {
	case token.Plus:
		return bytecode.OpAdd
	case token.Minus:
		return bytecode.OpSub
	case token.Star:
		return bytecode.OpMul
	case token.Slash:
		return bytecode.OpDiv
	case token.Amp:
		return bytecode.OpBitAnd
	case token.Pipe:
		return bytecode.OpBitOr
	case token.Shl:
		return bytecode.OpAppend
	case token.Shr:
		return bytecode.OpShr
	case token.Lt:
		return bytecode.OpLt
	case token.Gt:
		return bytecode.OpGt
	case token.Lte:
		return bytecode.OpLe
	case token.Gte:
		return bytecode.OpGe
	case token.Eq:
		return bytecode.OpEq
	case token.NotEq:
		return bytecode.OpNeq
	default:
		fail(pos, "internal: unhandled binary operator %s", op)
		return 0
	}
}

func (fc *funcCompiler) compileFuncLiteral(e *ast.FuncLiteral) {
	nested := newFuncCompiler(fc, e.Name, e.Params)
	for _, stmt := range e.Body.Stmts {
		nested.compileStmt(stmt)
	}
	nested.chunk.Emit(bytecode.OpPushNull, 0, 0, span(e.Pos()))
	nested.chunk.Emit(bytecode.OpReturn, 0, 0, span(e.Pos()))

	idx := fc.chunk.AddConstFunc(nested.fn)
	fc.chunk.Emit(bytecode.OpMakeClosure, idx, 0, span(e.Pos()))
}

// compileLogical implements and/or/?? short-circuiting with peek-jumps: the
// jump tests and leaves the left operand in place; only when the left
// operand does NOT decide the result do we pop it and evaluate the right.
func (fc *funcCompiler) compileLogical(e *ast.LogicalExpr) {
	fc.compileExpr(e.Left)
	var jumpOp bytecode.OpCode
	switch e.Op {
	case token.And:
		jumpOp = bytecode.OpJumpIfFalseyPeek
	case token.Or:
		jumpOp = bytecode.OpJumpIfTruthyPeek
	case token.Coalesce:
		jumpOp = bytecode.OpJumpIfNonNullPeek
	default:
		fail(e.Pos(), "internal: unhandled logical operator %s", e.Op)
	}
	shortCircuit := fc.chunk.Emit(jumpOp, 0, 0, span(e.Pos()))
	fc.chunk.Emit(bytecode.OpPop, 0, 0, span(e.Pos()))
	fc.compileExpr(e.Right)
	fc.chunk.Code[shortCircuit].A = len(fc.chunk.Code)
}
