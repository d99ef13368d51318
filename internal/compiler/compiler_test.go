package compiler_test

import (
	"testing"

	"regis/internal/bytecode"
	"regis/internal/compiler"
	"regis/internal/lexer"
	"regis/internal/parser"
)

func mustCompile(t *testing.T, src string) *bytecode.Function {
	t.Helper()
	prog, err := parser.Parse(lexer.New(src))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	fn, err := compiler.Compile(prog, "test")
	if err != nil {
		t.Fatalf("unexpected compile error: %v", err)
	}
	return fn
}

func countOp(fn *bytecode.Function, op bytecode.OpCode) int {
	n := 0
	for _, ins := range fn.Chunk.Code {
		if ins.Op == op {
			n++
		}
	}
	return n
}

func TestCompile_ExportBuildsExactlyExportedNames(t *testing.T) {
	fn := mustCompile(t, `
let hidden = 1;
export let a = 1;
export fn b() { return 2; }
`)
	if fn.NumParams != 1 {
		t.Fatalf("expected the module function to take the exports Object as its sole parameter, got %d", fn.NumParams)
	}
	if countOp(fn, bytecode.OpAssignExport) != 2 {
		t.Fatalf("expected exactly 2 export assignments (a, b), got %d", countOp(fn, bytecode.OpAssignExport))
	}
	last := fn.Chunk.Code[len(fn.Chunk.Code)-2]
	if last.Op != bytecode.OpLoadLocal {
		t.Fatalf("expected the function to end by loading the exports local, got %+v", last)
	}
	if fn.Chunk.Code[len(fn.Chunk.Code)-1].Op != bytecode.OpReturn {
		t.Fatalf("expected trailing OpReturn, got %+v", fn.Chunk.Code[len(fn.Chunk.Code)-1])
	}
}

func TestCompile_RecursiveFunctionSelfReferenceViaSlotZero(t *testing.T) {
	fn := mustCompile(t, `
fn fact(n) {
  if n <= 1 {
    return 1;
  }
  return n * fact(n - 1);
}
`)
	// fact's nested chunk is stored as a ConstFunc in the module's pool.
	var nested *bytecode.Function
	for _, c := range fn.Chunk.Consts {
		if c.Kind == bytecode.ConstFunc {
			nested = c.Fn
		}
	}
	if nested == nil {
		t.Fatalf("expected fact's body to be stored as a constant function")
	}
	// No upvalues: the self-call resolves to local slot 0, not a capture.
	if len(nested.Chunk.Upvalues) != 0 {
		t.Fatalf("expected no upvalues for self-recursion, got %+v", nested.Chunk.Upvalues)
	}
}

func TestCompile_NestedClosureCapturesEnclosingLocalAsUpvalue(t *testing.T) {
	fn := mustCompile(t, `
fn makeCounter() {
  let n = 0;
  fn inc() {
    n += 1;
    return n;
  }
  return inc;
}
`)
	var outer *bytecode.Function
	for _, c := range fn.Chunk.Consts {
		if c.Kind == bytecode.ConstFunc {
			outer = c.Fn
		}
	}
	if outer == nil {
		t.Fatalf("expected makeCounter to be compiled as a constant function")
	}
	var inner *bytecode.Function
	for _, c := range outer.Chunk.Consts {
		if c.Kind == bytecode.ConstFunc {
			inner = c.Fn
		}
	}
	if inner == nil {
		t.Fatalf("expected inc to be compiled as a nested constant function")
	}
	if len(inner.Chunk.Upvalues) != 1 || !inner.Chunk.Upvalues[0].IsLocal {
		t.Fatalf("expected inc to capture n as a local upvalue of makeCounter, got %+v", inner.Chunk.Upvalues)
	}
}

func TestCompile_DuplicateLocalInSameBlockIsCompileError(t *testing.T) {
	prog, err := parser.Parse(lexer.New(`
let x = 1;
let x = 2;
`))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if _, err := compiler.Compile(prog, "test"); err == nil {
		t.Fatalf("expected a compile error for duplicate local x")
	}
}

func TestCompile_ExportOutsideTopLevelIsCompileError(t *testing.T) {
	prog, err := parser.Parse(lexer.New(`
fn f() {
  export let x = 1;
}
`))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if _, err := compiler.Compile(prog, "test"); err == nil {
		t.Fatalf("expected a compile error for export outside top level")
	}
}

func TestCompile_AssignmentToNonAssignableExpressionIsCompileError(t *testing.T) {
	prog, err := parser.Parse(lexer.New(`f() = 1;`))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if _, err := compiler.Compile(prog, "test"); err == nil {
		t.Fatalf("expected a compile error for assigning to a call expression")
	}
}

func TestCompile_CoalesceEmitsPeekJumpNotRegularJump(t *testing.T) {
	fn := mustCompile(t, `let x = a ?? b;`)
	if countOp(fn, bytecode.OpJumpIfNonNullPeek) != 1 {
		t.Fatalf("expected exactly one jump-if-non-null-peek for ??")
	}
	if countOp(fn, bytecode.OpJump) != 0 || countOp(fn, bytecode.OpJumpIfFalse) != 0 {
		t.Fatalf("expected ?? to emit no regular jump or jump-if-false")
	}
}

func TestCompile_BlockExitClosesUpvaluesAndPopsLocals(t *testing.T) {
	fn := mustCompile(t, `
if true {
  let a = 1;
  let b = 2;
}
`)
	if countOp(fn, bytecode.OpCloseUpvalues) != 1 {
		t.Fatalf("expected exactly one close-upvalues at the if-block's exit")
	}
	if countOp(fn, bytecode.OpPop) < 2 {
		t.Fatalf("expected at least 2 pops reclaiming a and b's slots")
	}
}
