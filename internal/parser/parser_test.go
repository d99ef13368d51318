package parser_test

import (
	"testing"

	"regis/internal/ast"
	"regis/internal/lexer"
	"regis/internal/parser"
)

func mustParse(t *testing.T, src string) *ast.Program {
	t.Helper()
	prog, err := parser.Parse(lexer.New(src))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	return prog
}

func TestParseSimpleProgram(t *testing.T) {
	prog := mustParse(t, `
let n = 0;
fn inc() {
  n += 1;
  return n;
}
export fn main() {
  @println(inc());
}
`)
	if len(prog.Statements) != 3 {
		t.Fatalf("expected 3 top-level statements, got %d", len(prog.Statements))
	}
	if _, ok := prog.Statements[0].(*ast.VarDeclStmt); !ok {
		t.Fatalf("expected VarDeclStmt, got %T", prog.Statements[0])
	}
	fn, ok := prog.Statements[2].(*ast.FnDeclStmt)
	if !ok {
		t.Fatalf("expected FnDeclStmt, got %T", prog.Statements[2])
	}
	if !fn.Exported || fn.Name != "main" {
		t.Fatalf("expected exported main, got %+v", fn)
	}
}

func TestParsePrecedence(t *testing.T) {
	prog := mustParse(t, `let x = 1 + 2 * 3;`)
	decl := prog.Statements[0].(*ast.VarDeclStmt)
	bin, ok := decl.Value.(*ast.BinaryExpr)
	if !ok {
		t.Fatalf("expected top-level '+', got %T", decl.Value)
	}
	if _, ok := bin.Right.(*ast.BinaryExpr); !ok {
		t.Fatalf("expected '*' nested on the right of '+', got %T", bin.Right)
	}
}

func TestParseCoalesceBindsTighterThanArithmetic(t *testing.T) {
	// Per the precedence table, `??` binds tighter than `*`, so
	// `1 * a ?? b` parses as `1 * (a ?? b)`.
	prog := mustParse(t, `let x = 1 * a ?? b;`)
	decl := prog.Statements[0].(*ast.VarDeclStmt)
	mul, ok := decl.Value.(*ast.BinaryExpr)
	if !ok {
		t.Fatalf("expected top-level '*', got %T", decl.Value)
	}
	if _, ok := mul.Right.(*ast.LogicalExpr); !ok {
		t.Fatalf("expected '??' nested on the right of '*', got %T", mul.Right)
	}
}

func TestParseIfElseIfElse(t *testing.T) {
	prog := mustParse(t, `
if a {
  return 1;
} else if b {
  return 2;
} else {
  return 3;
}
`)
	ifs, ok := prog.Statements[0].(*ast.IfStmt)
	if !ok {
		t.Fatalf("expected IfStmt, got %T", prog.Statements[0])
	}
	elseIf, ok := ifs.Else.(*ast.IfStmt)
	if !ok {
		t.Fatalf("expected nested IfStmt for else-if, got %T", ifs.Else)
	}
	if _, ok := elseIf.Else.(*ast.BlockStmt); !ok {
		t.Fatalf("expected trailing else block, got %T", elseIf.Else)
	}
}

func TestParseObjectLiteralKeys(t *testing.T) {
	prog := mustParse(t, `let o = { a: 1, "b": 2, [c]: 3 };`)
	decl := prog.Statements[0].(*ast.VarDeclStmt)
	obj, ok := decl.Value.(*ast.ObjectLiteral)
	if !ok {
		t.Fatalf("expected ObjectLiteral, got %T", decl.Value)
	}
	if len(obj.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(obj.Entries))
	}
	if obj.Entries[2].Computed != true {
		t.Fatalf("expected third entry to be a computed key")
	}
}

func TestParseIndexAndMemberAssign(t *testing.T) {
	prog := mustParse(t, `
a[0] = 1;
a.b = 2;
`)
	if _, ok := prog.Statements[0].(*ast.IndexAssignStmt); !ok {
		t.Fatalf("expected IndexAssignStmt, got %T", prog.Statements[0])
	}
	if _, ok := prog.Statements[1].(*ast.MemberAssignStmt); !ok {
		t.Fatalf("expected MemberAssignStmt, got %T", prog.Statements[1])
	}
}

func TestParseFuncLiteralShorthand(t *testing.T) {
	prog := mustParse(t, `let f = fn => 1 + 1;`)
	decl := prog.Statements[0].(*ast.VarDeclStmt)
	lit, ok := decl.Value.(*ast.FuncLiteral)
	if !ok {
		t.Fatalf("expected FuncLiteral, got %T", decl.Value)
	}
	if len(lit.Params) != 0 || len(lit.Body.Stmts) != 1 {
		t.Fatalf("unexpected shorthand body: %+v", lit)
	}
	if _, ok := lit.Body.Stmts[0].(*ast.ReturnStmt); !ok {
		t.Fatalf("expected arrow body to desugar to a return statement")
	}
}

func TestParseRejectsTrailingDotNumber(t *testing.T) {
	_, err := parser.Parse(lexer.New(`let x = 1.;`))
	if err == nil {
		t.Fatalf("expected a parse/lex error for '1.'")
	}
}

func TestParseLoopStatement(t *testing.T) {
	prog := mustParse(t, `loop { return 1; }`)
	if _, ok := prog.Statements[0].(*ast.LoopStmt); !ok {
		t.Fatalf("expected LoopStmt, got %T", prog.Statements[0])
	}
}
