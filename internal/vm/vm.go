// Package vm implements Regis's stack-based bytecode interpreter: a
// flat value stack shared by every active call frame, a frame array that
// grows and shrinks with calls and returns, and a sorted list of open
// upvalues reused by slot so two closures capturing the same local share
// one cell.
package vm

import (
	"context"
	"fmt"

	"regis/internal/bytecode"
	"regis/internal/diagnostics"
	"regis/internal/value"
)

// Frame is one active function call: the closure being executed, its
// instruction pointer, and the stack index its locals start at (slot 0 of
// the frame, which always holds the closure itself).
type Frame struct {
	Clo  *value.Closure
	Fn   *bytecode.Function
	IP   int
	Base int
}

// VM is a single interpreter instance. Every module loaded into a program
// runs inside the same VM, so they share one global namespace (the
// fallback tier of name resolution) and one call stack — a closure
// captured in one module and returned across an @import boundary behaves
// exactly like any other closure.
type VM struct {
	stack        []value.Value
	frames       []Frame
	globals      map[string]value.Value
	openUpvalues []*value.Upvalue // sorted ascending by Index
	host         Host
	maxCallDepth int // 0 means unbounded
}

// New returns a VM backed by host for @print/@println/@sleep/@import.
func New(host Host) *VM {
	return &VM{
		stack:   make([]value.Value, 0, 256),
		globals: make(map[string]value.Value),
		host:    host,
	}
}

// SetMaxCallDepth bounds the interpreter's call-stack depth; a call that
// would exceed it fails instead of growing vm.frames without limit. A
// depth of 0 (the default) leaves it unbounded.
func (vm *VM) SetMaxCallDepth(depth int) { vm.maxCallDepth = depth }

func (vm *VM) push(v value.Value) { vm.stack = append(vm.stack, v) }

func (vm *VM) pop() value.Value {
	v := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return v
}

func (vm *VM) peek() value.Value { return vm.stack[len(vm.stack)-1] }

// Run executes fn (a module's top-level chunk, compiled by
// internal/compiler.Compile with its one implicit exports parameter) to
// completion, passing it exports to populate and returning that same
// Object — its identity is never replaced, only mutated, so a caller that
// captured exports before Run returns (a module mid-load, per spec §4.6's
// cyclic-import case) still sees the finished result through it. If
// exports is the zero Value, Run allocates a fresh empty Object itself.
func (vm *VM) Run(ctx context.Context, fn *bytecode.Function, exports value.Value) (value.Value, error) {
	if exports.Kind == value.KindNull {
		exports = value.NewObject(value.NewEmptyObject())
	}
	clo := &value.Closure{Fn: fn}
	vm.push(value.NewClosure(clo))
	vm.push(exports)
	framesFloor := len(vm.frames)
	if err := vm.pushFrame(clo, 1); err != nil {
		return value.Value{}, err
	}
	return vm.dispatch(ctx, framesFloor)
}

// pushFrame begins a call for clo given numArgs already pushed above it on
// the stack (the call protocol: evaluate the callee, then each argument,
// leaving them all above the callee on the stack). Locals beyond the
// parameters are NOT pre-allocated here: a `let` statement's own pushed
// initializer value occupies its slot, so the stack only grows to
// Chunk.NumLocals as execution actually reaches each declaration — a
// conditionally-declared local in a branch never taken never exists.
func (vm *VM) pushFrame(clo *value.Closure, numArgs int) error {
	fn := clo.Fn
	if numArgs != fn.NumParams {
		return diagnostics.New(diagnostics.ArityError, "%s expects %d argument(s), got %d", displayName(fn), fn.NumParams, numArgs)
	}
	if vm.maxCallDepth > 0 && len(vm.frames) >= vm.maxCallDepth {
		return fmt.Errorf("call stack exceeded max depth %d calling %s", vm.maxCallDepth, displayName(fn))
	}
	base := len(vm.stack) - numArgs - 1
	vm.frames = append(vm.frames, Frame{Clo: clo, Fn: fn, IP: 0, Base: base})
	return nil
}

func displayName(fn *bytecode.Function) string {
	if fn.Name == "" {
		return "anonymous function"
	}
	return fn.Name
}

// dispatch runs the fetch-execute loop until the frame stack drops back to
// framesFloor (the depth it was at when this call/Run began), returning the
// value the outermost of those frames returned. Any error leaving the loop
// is stamped with the span of the instruction that was executing when it
// happened, per spec §7's "spans are preserved... into an instruction→span
// map."
func (vm *VM) dispatch(ctx context.Context, framesFloor int) (result value.Value, err error) {
	var curSpan bytecode.Span
	defer func() {
		if err != nil && curSpan.Line != 0 {
			err = attachSpan(err, curSpan)
		}
	}()
	for len(vm.frames) > framesFloor {
		fr := &vm.frames[len(vm.frames)-1]
		inst := fr.Fn.Chunk.Code[fr.IP]
		if fr.IP < len(fr.Fn.Chunk.Spans) {
			curSpan = fr.Fn.Chunk.Spans[fr.IP]
		}
		fr.IP++

		switch inst.Op {
		case bytecode.OpHalt:
			return value.Value{}, diagnostics.New(diagnostics.VMHalt, "halted")

		case bytecode.OpConst:
			c := fr.Fn.Chunk.Consts[inst.A]
			switch c.Kind {
			case bytecode.ConstInt:
				vm.push(value.Int(c.Int))
			case bytecode.ConstFloat:
				vm.push(value.Float(c.Flt))
			case bytecode.ConstString:
				vm.push(value.Str(c.Str))
			}

		case bytecode.OpPushNull:
			vm.push(value.Null())
		case bytecode.OpPushTrue:
			vm.push(value.Bool(true))
		case bytecode.OpPushFalse:
			vm.push(value.Bool(false))

		case bytecode.OpLoadLocal:
			vm.push(vm.stack[fr.Base+inst.A])
		case bytecode.OpStoreLocal:
			vm.stack[fr.Base+inst.A] = vm.peek()

		case bytecode.OpLoadUpvalue:
			u := fr.Clo.Upvalues[inst.A]
			if u.IsClosed {
				vm.push(u.Closed)
			} else {
				vm.push(vm.stack[u.Index])
			}
		case bytecode.OpStoreUpvalue:
			u := fr.Clo.Upvalues[inst.A]
			v := vm.peek()
			if u.IsClosed {
				u.Closed = v
			} else {
				vm.stack[u.Index] = v
			}

		case bytecode.OpLoadGlobal:
			name := fr.Fn.Chunk.Consts[inst.A].Str
			v, ok := vm.globals[name]
			if !ok {
				return value.Value{}, diagnostics.New(diagnostics.NameError, "undefined name %q", name)
			}
			vm.push(v)
		case bytecode.OpStoreGlobal:
			name := fr.Fn.Chunk.Consts[inst.A].Str
			vm.globals[name] = vm.peek()

		case bytecode.OpLoadBuiltin:
			vm.push(value.NewBuiltin(bytecode.Builtin(inst.A)))

		case bytecode.OpMakeList:
			elems := append([]value.Value{}, vm.stack[len(vm.stack)-inst.A:]...)
			vm.stack = vm.stack[:len(vm.stack)-inst.A]
			vm.push(value.NewList(&value.List{Elems: elems}))

		case bytecode.OpMakeObject:
			n := inst.A
			pairs := vm.stack[len(vm.stack)-2*n:]
			obj := value.NewEmptyObject()
			for i := 0; i < n; i++ {
				obj.Set(pairs[2*i], pairs[2*i+1])
			}
			vm.stack = vm.stack[:len(vm.stack)-2*n]
			vm.push(value.NewObject(obj))

		case bytecode.OpAppend:
			b := vm.pop()
			a := vm.pop()
			v, err := doAppend(a, b)
			if err != nil {
				return value.Value{}, err
			}
			vm.push(v)

		case bytecode.OpIndexGet:
			idx := vm.pop()
			target := vm.pop()
			v, err := indexGet(target, idx)
			if err != nil {
				return value.Value{}, err
			}
			vm.push(v)
		case bytecode.OpIndexSet:
			val := vm.pop()
			idx := vm.pop()
			target := vm.pop()
			if err := indexSet(target, idx, val); err != nil {
				return value.Value{}, err
			}

		case bytecode.OpAdd:
			b := vm.pop()
			a := vm.pop()
			v, err := doAdd(a, b)
			if err != nil {
				return value.Value{}, err
			}
			vm.push(v)
		case bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv:
			b := vm.pop()
			a := vm.pop()
			v, err := doArith(inst.Op, a, b)
			if err != nil {
				return value.Value{}, err
			}
			vm.push(v)
		case bytecode.OpNeg:
			v, err := doNeg(vm.pop())
			if err != nil {
				return value.Value{}, err
			}
			vm.push(v)

		case bytecode.OpBitAnd, bytecode.OpBitOr, bytecode.OpShr:
			b := vm.pop()
			a := vm.pop()
			v, err := doBitwise(inst.Op, a, b)
			if err != nil {
				return value.Value{}, err
			}
			vm.push(v)
		case bytecode.OpBitNot:
			a := vm.pop()
			if a.Kind != value.KindInt {
				return value.Value{}, diagnostics.New(diagnostics.TypeError, "'~' is not defined for %s", a.Kind)
			}
			vm.push(value.Int(^a.Int))

		case bytecode.OpEq:
			b := vm.pop()
			a := vm.pop()
			vm.push(value.Bool(value.Equal(a, b)))
		case bytecode.OpNeq:
			b := vm.pop()
			a := vm.pop()
			vm.push(value.Bool(!value.Equal(a, b)))
		case bytecode.OpLt, bytecode.OpGt, bytecode.OpLe, bytecode.OpGe:
			b := vm.pop()
			a := vm.pop()
			v, err := doCompare(inst.Op, a, b)
			if err != nil {
				return value.Value{}, err
			}
			vm.push(v)
		case bytecode.OpNot:
			vm.push(value.Bool(!value.Truthy(vm.pop())))

		case bytecode.OpJump:
			if inst.A <= fr.IP {
				if err := ctx.Err(); err != nil {
					return value.Value{}, diagnostics.New(diagnostics.VMHalt, "%v", err)
				}
			}
			fr.IP = inst.A
		case bytecode.OpJumpIfFalse:
			if !value.Truthy(vm.pop()) {
				fr.IP = inst.A
			}
		case bytecode.OpJumpIfTruthyPeek:
			if value.Truthy(vm.peek()) {
				fr.IP = inst.A
			}
		case bytecode.OpJumpIfFalseyPeek:
			if !value.Truthy(vm.peek()) {
				fr.IP = inst.A
			}
		case bytecode.OpJumpIfNonNullPeek:
			if vm.peek().Kind != value.KindNull {
				fr.IP = inst.A
			}
		case bytecode.OpPop:
			vm.pop()
		case bytecode.OpDup:
			vm.push(vm.peek())

		case bytecode.OpCall:
			if err := ctx.Err(); err != nil {
				return value.Value{}, diagnostics.New(diagnostics.VMHalt, "%v", err)
			}
			numArgs := inst.A
			callee := vm.stack[len(vm.stack)-numArgs-1]
			switch callee.Kind {
			case value.KindFunction:
				if err := vm.pushFrame(callee.Clo, numArgs); err != nil {
					return value.Value{}, err
				}
			case value.KindBuiltin:
				args := append([]value.Value{}, vm.stack[len(vm.stack)-numArgs:]...)
				vm.stack = vm.stack[:len(vm.stack)-numArgs-1]
				v, err := callBuiltin(ctx, callee.Builtin, args, vm.host, fr.Fn.ModulePath)
				if err != nil {
					return value.Value{}, err
				}
				vm.push(v)
			default:
				return value.Value{}, diagnostics.New(diagnostics.TypeError, "value of kind %s is not callable", callee.Kind)
			}

		case bytecode.OpReturn:
			retVal := vm.pop()
			vm.closeUpvaluesFrom(fr.Base)
			vm.stack = vm.stack[:fr.Base]
			vm.frames = vm.frames[:len(vm.frames)-1]
			if len(vm.frames) == framesFloor {
				result = retVal
			} else {
				vm.push(retVal)
			}

		case bytecode.OpMakeClosure:
			fn := fr.Fn.Chunk.Consts[inst.A].Fn
			upvals := make([]*value.Upvalue, len(fn.Chunk.Upvalues))
			for i, desc := range fn.Chunk.Upvalues {
				if desc.IsLocal {
					upvals[i] = vm.captureUpvalue(fr.Base + desc.Index)
				} else {
					upvals[i] = fr.Clo.Upvalues[desc.Index]
				}
			}
			vm.push(value.NewClosure(&value.Closure{Fn: fn, Upvalues: upvals}))

		case bytecode.OpCloseUpvalues:
			vm.closeUpvaluesFrom(fr.Base + inst.A)

		case bytecode.OpAssignExport:
			recv := vm.stack[fr.Base+inst.A]
			key := fr.Fn.Chunk.Consts[inst.B].Str
			recv.Obj.Set(value.Str(key), vm.peek())

		default:
			return value.Value{}, diagnostics.New(diagnostics.TypeError, "unhandled opcode %d", inst.Op)
		}
	}
	return result, nil
}

// spannedErr pairs an underlying error with the source position active when
// it was raised, implementing diagnostics.Spanned so a Fault can report
// where in the source a runtime failure happened. It unwraps to the
// original error, so diagnostics.KindOf still recovers the original Kind.
type spannedErr struct {
	err          error
	line, column int
}

func (e *spannedErr) Error() string { return e.err.Error() }
func (e *spannedErr) Unwrap() error { return e.err }
func (e *spannedErr) DiagnosticPos() (line, column int) { return e.line, e.column }

func attachSpan(err error, sp bytecode.Span) error {
	return &spannedErr{err: err, line: sp.Line, column: sp.Column}
}

// captureUpvalue returns the open upvalue cell for absolute stack slot
// absIdx, creating and inserting it (keeping vm.openUpvalues sorted by
// Index) if no closure has captured that slot yet. Two closures created
// from the same enclosing local while it is still open always share the
// same cell, so writes through one are visible through the other.
func (vm *VM) captureUpvalue(absIdx int) *value.Upvalue {
	i := 0
	for i < len(vm.openUpvalues) && vm.openUpvalues[i].Index < absIdx {
		i++
	}
	if i < len(vm.openUpvalues) && vm.openUpvalues[i].Index == absIdx {
		return vm.openUpvalues[i]
	}
	u := &value.Upvalue{Index: absIdx}
	vm.openUpvalues = append(vm.openUpvalues, nil)
	copy(vm.openUpvalues[i+1:], vm.openUpvalues[i:])
	vm.openUpvalues[i] = u
	return u
}

// closeUpvaluesFrom closes every open upvalue whose captured slot is at or
// above fromAbsIdx, copying its current stack value into the cell before
// that slot is reclaimed or popped. Because openUpvalues stays sorted, the
// cells to close are a suffix of it: this walks back from the top end and
// truncates, touching only the cells it closes rather than scanning the
// whole stack or the whole open list.
func (vm *VM) closeUpvaluesFrom(fromAbsIdx int) {
	i := len(vm.openUpvalues)
	for i > 0 && vm.openUpvalues[i-1].Index >= fromAbsIdx {
		i--
	}
	for j := i; j < len(vm.openUpvalues); j++ {
		u := vm.openUpvalues[j]
		u.Closed = vm.stack[u.Index]
		u.IsClosed = true
	}
	vm.openUpvalues = vm.openUpvalues[:i]
}

// ---- operators ----

func isNumeric(v value.Value) bool { return v.Kind == value.KindInt || v.Kind == value.KindFloat }

func asFloat(v value.Value) float64 {
	if v.Kind == value.KindInt {
		return float64(v.Int)
	}
	return v.Flt
}

// doAdd implements `+`'s closed set of polymorphic cases: kind-preserving
// integer addition, promoting addition across a mixed Int/Float pair,
// string concatenation, non-mutating List concatenation, and Object merge
// (right operand's keys win on conflict).
func doAdd(a, b value.Value) (value.Value, error) {
	switch {
	case a.Kind == value.KindInt && b.Kind == value.KindInt:
		return value.Int(a.Int + b.Int), nil
	case isNumeric(a) && isNumeric(b):
		return value.Float(asFloat(a) + asFloat(b)), nil
	case a.Kind == value.KindString && b.Kind == value.KindString:
		return value.Str(a.Str + b.Str), nil
	case a.Kind == value.KindList && b.Kind == value.KindList:
		combined := append(append([]value.Value{}, a.List.Elems...), b.List.Elems...)
		return value.NewList(&value.List{Elems: combined}), nil
	case a.Kind == value.KindObject && b.Kind == value.KindObject:
		merged := value.NewEmptyObject()
		for _, e := range a.Obj.Entries() {
			merged.Set(e.Key(), e.Val())
		}
		for _, e := range b.Obj.Entries() {
			merged.Set(e.Key(), e.Val())
		}
		return value.NewObject(merged), nil
	default:
		return value.Value{}, diagnostics.New(diagnostics.TypeError, "'+' is not defined for %s and %s", a.Kind, b.Kind)
	}
}

// doAppend implements `<<`: Int shl Int (shift amount masked mod 64, since
// the source this was distilled from leaves the out-of-range behavior
// unspecified), or List append-in-place, returning the same List so chained
// `<<` reads still observe one shared identity.
func doAppend(a, b value.Value) (value.Value, error) {
	switch a.Kind {
	case value.KindInt:
		if b.Kind != value.KindInt {
			return value.Value{}, diagnostics.New(diagnostics.TypeError, "'<<' on an int requires an int right operand, got %s", b.Kind)
		}
		return value.Int(a.Int << (uint(b.Int) & 63)), nil
	case value.KindList:
		a.List.Elems = append(a.List.Elems, b)
		return a, nil
	default:
		return value.Value{}, diagnostics.New(diagnostics.TypeError, "'<<' is not defined for %s", a.Kind)
	}
}

func doArith(op bytecode.OpCode, a, b value.Value) (value.Value, error) {
	sym := map[bytecode.OpCode]string{bytecode.OpSub: "-", bytecode.OpMul: "*", bytecode.OpDiv: "/"}[op]
	if !isNumeric(a) || !isNumeric(b) {
		return value.Value{}, diagnostics.New(diagnostics.TypeError, "'%s' is not defined for %s and %s", sym, a.Kind, b.Kind)
	}
	if a.Kind == value.KindInt && b.Kind == value.KindInt {
		switch op {
		case bytecode.OpSub:
			return value.Int(a.Int - b.Int), nil
		case bytecode.OpMul:
			return value.Int(a.Int * b.Int), nil
		case bytecode.OpDiv:
			if b.Int == 0 {
				return value.Value{}, diagnostics.New(diagnostics.ZeroDivisionError, "integer division by zero")
			}
			return value.Int(a.Int / b.Int), nil
		}
	}
	af, bf := asFloat(a), asFloat(b)
	switch op {
	case bytecode.OpSub:
		return value.Float(af - bf), nil
	case bytecode.OpMul:
		return value.Float(af * bf), nil
	case bytecode.OpDiv:
		return value.Float(af / bf), nil
	}
	return value.Value{}, diagnostics.New(diagnostics.TypeError, "internal: unreachable arithmetic op")
}

func doNeg(a value.Value) (value.Value, error) {
	switch a.Kind {
	case value.KindInt:
		return value.Int(-a.Int), nil
	case value.KindFloat:
		return value.Float(-a.Flt), nil
	default:
		return value.Value{}, diagnostics.New(diagnostics.TypeError, "unary '-' is not defined for %s", a.Kind)
	}
}

func doBitwise(op bytecode.OpCode, a, b value.Value) (value.Value, error) {
	if a.Kind != value.KindInt || b.Kind != value.KindInt {
		return value.Value{}, diagnostics.New(diagnostics.TypeError, "bitwise operators require two ints, got %s and %s", a.Kind, b.Kind)
	}
	switch op {
	case bytecode.OpBitAnd:
		return value.Int(a.Int & b.Int), nil
	case bytecode.OpBitOr:
		return value.Int(a.Int | b.Int), nil
	case bytecode.OpShr:
		return value.Int(a.Int >> (uint(b.Int) & 63)), nil
	}
	return value.Value{}, diagnostics.New(diagnostics.TypeError, "internal: unreachable bitwise op")
}

func doCompare(op bytecode.OpCode, a, b value.Value) (value.Value, error) {
	cmp, ok := value.Compare(a, b)
	if !ok {
		return value.Value{}, diagnostics.New(diagnostics.TypeError, "values of kind %s and %s cannot be ordered", a.Kind, b.Kind)
	}
	switch op {
	case bytecode.OpLt:
		return value.Bool(cmp < 0), nil
	case bytecode.OpGt:
		return value.Bool(cmp > 0), nil
	case bytecode.OpLe:
		return value.Bool(cmp <= 0), nil
	case bytecode.OpGe:
		return value.Bool(cmp >= 0), nil
	}
	return value.Value{}, diagnostics.New(diagnostics.TypeError, "internal: unreachable comparison op")
}

// indexGet implements String[Int] (by Unicode scalar), List[Int], and
// Object[K]. A miss or an out-of-range index is null, never an error —
// only indexing a non-indexable kind is a TypeError.
func indexGet(target, idx value.Value) (value.Value, error) {
	switch target.Kind {
	case value.KindString:
		if idx.Kind != value.KindInt {
			return value.Null(), nil
		}
		runes := []rune(target.Str)
		if idx.Int < 0 || idx.Int >= int64(len(runes)) {
			return value.Null(), nil
		}
		return value.Str(string(runes[idx.Int])), nil
	case value.KindList:
		if idx.Kind != value.KindInt {
			return value.Null(), nil
		}
		if idx.Int < 0 || idx.Int >= int64(len(target.List.Elems)) {
			return value.Null(), nil
		}
		return target.List.Elems[idx.Int], nil
	case value.KindObject:
		if v, ok := target.Obj.Get(idx); ok {
			return v, nil
		}
		return value.Null(), nil
	default:
		return value.Value{}, diagnostics.New(diagnostics.TypeError, "value of kind %s is not indexable", target.Kind)
	}
}

// indexSet implements assignment through String[Int]=v (rejected — strings
// are immutable by value, not by identity), List[Int]=v (RangeError out of
// bounds), and Object[K]=v (always succeeds; objects grow).
func indexSet(target, idx, val value.Value) error {
	switch target.Kind {
	case value.KindList:
		if idx.Kind != value.KindInt {
			return diagnostics.New(diagnostics.TypeError, "list index must be an int, got %s", idx.Kind)
		}
		if idx.Int < 0 || idx.Int >= int64(len(target.List.Elems)) {
			return diagnostics.New(diagnostics.RangeError, "list index %d out of range (len %d)", idx.Int, len(target.List.Elems))
		}
		target.List.Elems[idx.Int] = val
		return nil
	case value.KindObject:
		target.Obj.Set(idx, val)
		return nil
	case value.KindString:
		return diagnostics.New(diagnostics.TypeError, "strings are immutable")
	default:
		return diagnostics.New(diagnostics.TypeError, "value of kind %s does not support index assignment", target.Kind)
	}
}
