package vm

import (
	"context"
	"strings"
	"testing"

	"regis/internal/compiler"
	"regis/internal/lexer"
	"regis/internal/parser"
	"regis/internal/value"
)

type fakeHost struct {
	written []string
	imports map[string]value.Value
}

func (h *fakeHost) Write(s string) { h.written = append(h.written, s) }
func (h *fakeHost) Sleep(ctx context.Context, seconds float64) error {
	return ctx.Err()
}
func (h *fakeHost) Import(fromPath, target string) (value.Value, error) {
	return h.imports[target], nil
}

func run(t *testing.T, host *fakeHost, src string) value.Value {
	t.Helper()
	prog, err := parser.Parse(lexer.New(src))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	fn, err := compiler.Compile(prog, "main.regis")
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	v, err := New(host).Run(context.Background(), fn, value.Value{})
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	return v
}

func TestVM_IncrementClosureSharesUpvalueAcrossCalls(t *testing.T) {
	host := &fakeHost{}
	run(t, host, `
fn makeCounter() {
  let n = 0;
  fn inc() {
    n += 1;
    return n;
  }
  return inc;
}
let c = makeCounter();
@println(c());
@println(c());
@println(c());
`)
	got := strings.Join(host.written, "")
	if got != "1\n2\n3\n" {
		t.Fatalf("expected incrementing shared state, got %q", got)
	}
}

func TestVM_ListAppendSharesIdentity(t *testing.T) {
	host := &fakeHost{}
	run(t, host, `
fn pushInto(l) {
  l << 1;
}
let a = [];
pushInto(a);
pushInto(a);
@println(@len(a));
`)
	if got := strings.Join(host.written, ""); got != "2\n" {
		t.Fatalf("expected the callee's << to mutate the caller's list, got %q", got)
	}
}

func TestVM_ObjectMergeRightWinsOnConflict(t *testing.T) {
	host := &fakeHost{}
	run(t, host, `
let a = { x: 1, y: 2 };
let b = { y: 9, z: 3 };
let m = a + b;
@println(m.y);
@println(@len(m));
`)
	if got := strings.Join(host.written, ""); got != "9\n3\n" {
		t.Fatalf("got %q", got)
	}
}

func TestVM_StringIndexingIsUnicodeScalarAndOutOfRangeIsNull(t *testing.T) {
	host := &fakeHost{}
	run(t, host, `
let s = "hi";
@println(s[0]);
@println(s[1]);
@println(s[5]);
`)
	if got := strings.Join(host.written, ""); got != "h\ni\nnull\n" {
		t.Fatalf("got %q", got)
	}
}

func TestVM_IntArithmeticStaysIntUnlessMixedWithFloat(t *testing.T) {
	host := &fakeHost{}
	run(t, host, `
@println(1 + 2);
@println(1 + 2.0);
@println(7 / 2);
@println(7.0 / 2);
`)
	if got := strings.Join(host.written, ""); got != "3\n3.0\n3\n3.5\n" {
		t.Fatalf("got %q", got)
	}
}

func TestVM_IntDivisionByZeroIsAnError(t *testing.T) {
	host := &fakeHost{}
	prog, err := parser.Parse(lexer.New(`@println(1 / 0);`))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	fn, err := compiler.Compile(prog, "main.regis")
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	if _, err := New(host).Run(context.Background(), fn, value.Value{}); err == nil {
		t.Fatalf("expected a ZeroDivisionError")
	}
}

func TestVM_FloatDivisionByZeroIsInf(t *testing.T) {
	host := &fakeHost{}
	run(t, host, `@println(1.0 / 0.0);`)
	if got := strings.Join(host.written, ""); got != "+Inf\n" {
		t.Fatalf("got %q", got)
	}
}

func TestVM_ExportedNamesBecomeTheModuleExportsObject(t *testing.T) {
	prog, err := parser.Parse(lexer.New(`
let hidden = 1;
export let answer = 42;
`))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	fn, err := compiler.Compile(prog, "m.regis")
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	exports, err := New(&fakeHost{}).Run(context.Background(), fn, value.Value{})
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	if exports.Kind != value.KindObject || exports.Obj.Len() != 1 {
		t.Fatalf("expected a 1-entry exports object, got %v", exports)
	}
	got, ok := exports.Obj.Get(value.Str("answer"))
	if !ok || got.Int != 42 {
		t.Fatalf("expected answer=42 in exports, got %v ok=%v", got, ok)
	}
}

func TestVM_GameOfLifeNeighborCountViaCoalesceOffGrid(t *testing.T) {
	host := &fakeHost{}
	run(t, host, `
let grid = [
  [0, 1, 0],
  [0, 1, 0],
  [0, 1, 0],
];
fn cell(g, r, c) {
  let row = g[r];
  if row == null {
    return 0;
  }
  return row[c] ?? 0;
}
fn neighbors(g, r, c) {
  let n = 0;
  n += cell(g, r - 1, c - 1);
  n += cell(g, r - 1, c);
  n += cell(g, r - 1, c + 1);
  n += cell(g, r, c - 1);
  n += cell(g, r, c + 1);
  n += cell(g, r + 1, c - 1);
  n += cell(g, r + 1, c);
  n += cell(g, r + 1, c + 1);
  return n;
}
@println(neighbors(grid, 1, 1));
@println(neighbors(grid, 0, 0));
`)
	if got := strings.Join(host.written, ""); got != "2\n2\n" {
		t.Fatalf("got %q", got)
	}
}
