// Package ast defines the syntax tree produced by the Regis parser.
package ast

import "regis/internal/token"

// Node is implemented by every AST node; it exposes the source position it
// starts at for diagnostics.
type Node interface {
	Pos() token.Position
}

// Program is the root of a parsed module: a flat list of top-level statements.
type Program struct {
	Statements []Stmt
}

func (p *Program) Pos() token.Position {
	if len(p.Statements) == 0 {
		return token.Position{}
	}
	return p.Statements[0].Pos()
}

// Stmt is implemented by every statement node.
type Stmt interface {
	Node
	stmtNode()
}

// Expr is implemented by every expression node.
type Expr interface {
	Node
	exprNode()
}

// Param is a single function parameter.
type Param struct {
	Name string
	Pos_ token.Position
}

func (p Param) Pos() token.Position { return p.Pos_ }

// ---- Statements ----

type BlockStmt struct {
	Pos_  token.Position
	Stmts []Stmt
}

func (s *BlockStmt) Pos() token.Position { return s.Pos_ }
func (s *BlockStmt) stmtNode()           {}

// VarDeclStmt is `let NAME = expr ;`, optionally exported.
type VarDeclStmt struct {
	Pos_     token.Position
	Name     string
	Value    Expr
	Exported bool
}

func (s *VarDeclStmt) Pos() token.Position { return s.Pos_ }
func (s *VarDeclStmt) stmtNode()           {}

// FnDeclStmt is the named function statement form `fn N(p,*) { block }` or
// `fn N(p,*) => expr ;`, optionally exported.
type FnDeclStmt struct {
	Pos_     token.Position
	Name     string
	Params   []Param
	Body     *BlockStmt
	Exported bool
}

func (s *FnDeclStmt) Pos() token.Position { return s.Pos_ }
func (s *FnDeclStmt) stmtNode()           {}

// AssignStmt is `NAME = expr ;` or `NAME += expr ;`.
type AssignStmt struct {
	Pos_     token.Position
	Name     string
	Value    Expr
	Compound bool // true for +=
}

func (s *AssignStmt) Pos() token.Position { return s.Pos_ }
func (s *AssignStmt) stmtNode()           {}

// IndexAssignStmt is `target[index] = value ;`.
type IndexAssignStmt struct {
	Pos_   token.Position
	Target Expr
	Index  Expr
	Value  Expr
}

func (s *IndexAssignStmt) Pos() token.Position { return s.Pos_ }
func (s *IndexAssignStmt) stmtNode()           {}

// MemberAssignStmt is `target.NAME = value ;`, which desugars at compile
// time to an index-assign by the constant string "NAME".
type MemberAssignStmt struct {
	Pos_   token.Position
	Target Expr
	Name   string
	Value  Expr
}

func (s *MemberAssignStmt) Pos() token.Position { return s.Pos_ }
func (s *MemberAssignStmt) stmtNode()           {}

// GenericAssignStmt is `target = value ;` for a target shape the grammar
// permits syntactically but that is never an assignable place (anything
// other than a name, an index, or a member). The parser accepts it; the
// compiler is what rejects it, since assignability is a compile-time
// concern here, not a parse-time one.
type GenericAssignStmt struct {
	Pos_   token.Position
	Target Expr
	Value  Expr
}

func (s *GenericAssignStmt) Pos() token.Position { return s.Pos_ }
func (s *GenericAssignStmt) stmtNode()           {}

type ExprStmt struct {
	Pos_ token.Position
	X    Expr
}

func (s *ExprStmt) Pos() token.Position { return s.Pos_ }
func (s *ExprStmt) stmtNode()           {}

type IfStmt struct {
	Pos_ token.Position
	Cond Expr
	Then *BlockStmt
	Else Stmt // *BlockStmt or *IfStmt, nil if absent
}

func (s *IfStmt) Pos() token.Position { return s.Pos_ }
func (s *IfStmt) stmtNode()           {}

type WhileStmt struct {
	Pos_ token.Position
	Cond Expr
	Body *BlockStmt
}

func (s *WhileStmt) Pos() token.Position { return s.Pos_ }
func (s *WhileStmt) stmtNode()           {}

// LoopStmt is `loop { block }` — an unconditional loop with no implicit
// exit; the only way out is `return`.
type LoopStmt struct {
	Pos_ token.Position
	Body *BlockStmt
}

func (s *LoopStmt) Pos() token.Position { return s.Pos_ }
func (s *LoopStmt) stmtNode()           {}

type ReturnStmt struct {
	Pos_  token.Position
	Value Expr // nil if bare `return;`
}

func (s *ReturnStmt) Pos() token.Position { return s.Pos_ }
func (s *ReturnStmt) stmtNode()           {}

// ---- Expressions ----

type IdentExpr struct {
	Pos_ token.Position
	Name string
}

func (e *IdentExpr) Pos() token.Position { return e.Pos_ }
func (e *IdentExpr) exprNode()           {}

// BuiltinExpr is a reference to a host built-in, `@name`.
type BuiltinExpr struct {
	Pos_ token.Position
	Name string
}

func (e *BuiltinExpr) Pos() token.Position { return e.Pos_ }
func (e *BuiltinExpr) exprNode()           {}

type IntLiteral struct {
	Pos_  token.Position
	Value int64
}

func (e *IntLiteral) Pos() token.Position { return e.Pos_ }
func (e *IntLiteral) exprNode()           {}

type FloatLiteral struct {
	Pos_  token.Position
	Value float64
}

func (e *FloatLiteral) Pos() token.Position { return e.Pos_ }
func (e *FloatLiteral) exprNode()           {}

type StringLiteral struct {
	Pos_  token.Position
	Value string
}

func (e *StringLiteral) Pos() token.Position { return e.Pos_ }
func (e *StringLiteral) exprNode()           {}

type BoolLiteral struct {
	Pos_  token.Position
	Value bool
}

func (e *BoolLiteral) Pos() token.Position { return e.Pos_ }
func (e *BoolLiteral) exprNode()           {}

type NullLiteral struct {
	Pos_ token.Position
}

func (e *NullLiteral) Pos() token.Position { return e.Pos_ }
func (e *NullLiteral) exprNode()           {}

type ListLiteral struct {
	Pos_  token.Position
	Elems []Expr
}

func (e *ListLiteral) Pos() token.Position { return e.Pos_ }
func (e *ListLiteral) exprNode()           {}

// ObjectEntry is one `key: value` pair of an object literal. Key is either
// an IdentExpr/StringLiteral (static key, taken as a string) or any other
// expression wrapped for a computed `[expr]` key.
type ObjectEntry struct {
	Key      Expr
	Computed bool
	Value    Expr
}

type ObjectLiteral struct {
	Pos_    token.Position
	Entries []ObjectEntry
}

func (e *ObjectLiteral) Pos() token.Position { return e.Pos_ }
func (e *ObjectLiteral) exprNode()           {}

// FuncLiteral is a function expression: named or anonymous, block- or
// arrow-bodied, possibly zero-parameter shorthand.
type FuncLiteral struct {
	Pos_   token.Position
	Name   string // optional, "" if anonymous
	Params []Param
	Body   *BlockStmt
}

func (e *FuncLiteral) Pos() token.Position { return e.Pos_ }
func (e *FuncLiteral) exprNode()           {}

type CallExpr struct {
	Pos_ token.Position
	Fn   Expr
	Args []Expr
}

func (e *CallExpr) Pos() token.Position { return e.Pos_ }
func (e *CallExpr) exprNode()           {}

type IndexExpr struct {
	Pos_  token.Position
	X     Expr
	Index Expr
}

func (e *IndexExpr) Pos() token.Position { return e.Pos_ }
func (e *IndexExpr) exprNode()           {}

// MemberExpr is `x.NAME`; the compiler desugars it to an index by the
// constant string "NAME".
type MemberExpr struct {
	Pos_ token.Position
	X    Expr
	Name string
}

func (e *MemberExpr) Pos() token.Position { return e.Pos_ }
func (e *MemberExpr) exprNode()           {}

type UnaryExpr struct {
	Pos_ token.Position
	Op   token.Kind // Minus, Tilde, Not
	X    Expr
}

func (e *UnaryExpr) Pos() token.Position { return e.Pos_ }
func (e *UnaryExpr) exprNode()           {}

type BinaryExpr struct {
	Pos_  token.Position
	Op    token.Kind
	Left  Expr
	Right Expr
}

func (e *BinaryExpr) Pos() token.Position { return e.Pos_ }
func (e *BinaryExpr) exprNode()           {}

// LogicalExpr covers `and`, `or`, `??`, which short-circuit and so are
// compiled differently from strict BinaryExpr operators.
type LogicalExpr struct {
	Pos_  token.Position
	Op    token.Kind // And, Or, Coalesce
	Left  Expr
	Right Expr
}

func (e *LogicalExpr) Pos() token.Position { return e.Pos_ }
func (e *LogicalExpr) exprNode()           {}
