// Package value implements Regis's runtime value model: a tagged union of
// by-value scalars (Null, Bool, Int, Float, String) and by-identity
// heap-allocated aggregates (List, Object, Function), plus the operators
// (equality, ordering, truthiness, `+`/`<<` polymorphism, indexing) the VM
// dispatches on them.
package value

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"regis/internal/bytecode"
)

// Kind is the runtime type tag of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindList
	KindObject
	KindFunction
	KindBuiltin
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindObject:
		return "object"
	case KindFunction:
		return "function"
	case KindBuiltin:
		return "builtin"
	default:
		return "invalid"
	}
}

// Value is the tagged-union representation of every Regis runtime value.
// Scalars are stored inline; List, Object, and Function carry a pointer to
// heap state, so Go pointer equality on those fields gives the identity
// equality the language requires.
type Value struct {
	Kind Kind
	Bool bool
	Int  int64
	Flt  float64
	Str  string
	List    *List
	Obj     *Object
	Clo     *Closure
	Builtin bytecode.Builtin
}

func Null() Value               { return Value{Kind: KindNull} }
func Bool(b bool) Value         { return Value{Kind: KindBool, Bool: b} }
func Int(i int64) Value         { return Value{Kind: KindInt, Int: i} }
func Float(f float64) Value     { return Value{Kind: KindFloat, Flt: f} }
func Str(s string) Value        { return Value{Kind: KindString, Str: s} }
func NewList(l *List) Value     { return Value{Kind: KindList, List: l} }
func NewObject(o *Object) Value { return Value{Kind: KindObject, Obj: o} }
func NewClosure(c *Closure) Value {
	return Value{Kind: KindFunction, Clo: c}
}

// NewBuiltin wraps one of the host's fixed built-in entry points as a
// first-class, callable Value — the result of evaluating `@name`.
func NewBuiltin(id bytecode.Builtin) Value {
	return Value{Kind: KindBuiltin, Builtin: id}
}

// List is a heap-allocated, mutable, ordered sequence. Its identity is the
// pointer to this struct.
type List struct {
	Elems []Value
}

// Upvalue is a shared, possibly still-open cell captured by one or more
// closures. While open (IsClosed == false), Index holds the absolute
// position of the captured slot in the VM's value stack and reads/writes
// go through that slot; once the owning frame or block exits, the VM closes
// it, at which point its current value is copied into Closed and all future
// accesses go through that copy instead.
type Upvalue struct {
	IsClosed bool
	Index    int
	Closed   Value
}

// Closure is a runtime Function value: a compiled chunk plus the upvalue
// cells it captured at creation time. Its identity is the pointer to this
// struct, matching the data model's by-identity Function variant.
type Closure struct {
	Fn       *bytecode.Function
	Upvalues []*Upvalue
}

// Object is a heap-allocated, ordered, "anything is a key" associative
// aggregate. String keys — the overwhelmingly common case for object
// literals — are resolved in O(1) via strIndex; any other key kind falls
// back to a linear scan using the language's own equality relation, per the
// design note's two-tier resolution strategy.
type Object struct {
	order    []objEntry
	strIndex map[string]int
}

type objEntry struct {
	key Value
	val Value
}

// NewEmptyObject returns a fresh Object with no entries.
func NewEmptyObject() *Object {
	return &Object{strIndex: make(map[string]int)}
}

// Len returns the number of entries in o.
func (o *Object) Len() int {
	if o == nil {
		return 0
	}
	return len(o.order)
}

// Get looks up key, returning its value and true, or the zero Value and
// false on a miss.
func (o *Object) Get(key Value) (Value, bool) {
	if o == nil {
		return Value{}, false
	}
	if key.Kind == KindString {
		if idx, ok := o.strIndex[key.Str]; ok {
			return o.order[idx].val, true
		}
		return Value{}, false
	}
	for _, e := range o.order {
		if Equal(e.key, key) {
			return e.val, true
		}
	}
	return Value{}, false
}

// Set inserts or replaces the entry for key. Existing keys keep their
// original position; new keys are appended, preserving deterministic
// iteration/rendering order.
func (o *Object) Set(key, val Value) {
	if key.Kind == KindString {
		if idx, ok := o.strIndex[key.Str]; ok {
			o.order[idx].val = val
			return
		}
		o.strIndex[key.Str] = len(o.order)
		o.order = append(o.order, objEntry{key: key, val: val})
		return
	}
	for i, e := range o.order {
		if Equal(e.key, key) {
			o.order[i].val = val
			return
		}
	}
	o.order = append(o.order, objEntry{key: key, val: val})
}

// Entries returns o's entries in deterministic insertion order. Callers
// must not mutate the returned slice.
func (o *Object) Entries() []objEntry {
	if o == nil {
		return nil
	}
	return o.order
}

func (e objEntry) Key() Value { return e.key }
func (e objEntry) Val() Value { return e.val }

// Truthy implements the language's truthiness rule: false, null, integer 0,
// and float 0.0 are falsey; everything else is truthy.
func Truthy(v Value) bool {
	switch v.Kind {
	case KindNull:
		return false
	case KindBool:
		return v.Bool
	case KindInt:
		return v.Int != 0
	case KindFloat:
		return v.Flt != 0
	default:
		return true
	}
}

// Equal implements `==`: structural for Null/Bool/String, numeric (with
// Int/Float cross-promotion) for Int/Float, identity for List/Object/
// Function, and always false across any other kind mismatch.
func Equal(a, b Value) bool {
	if a.Kind == KindInt && b.Kind == KindInt {
		return a.Int == b.Int
	}
	if isNumeric(a) && isNumeric(b) {
		return asFloat(a) == asFloat(b)
	}
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindNull:
		return true
	case KindBool:
		return a.Bool == b.Bool
	case KindString:
		return a.Str == b.Str
	case KindList:
		return a.List == b.List
	case KindObject:
		return a.Obj == b.Obj
	case KindFunction:
		return a.Clo == b.Clo
	case KindBuiltin:
		return a.Builtin == b.Builtin
	default:
		return false
	}
}

func isNumeric(v Value) bool { return v.Kind == KindInt || v.Kind == KindFloat }

func asFloat(v Value) float64 {
	if v.Kind == KindInt {
		return float64(v.Int)
	}
	return v.Flt
}

// Compare implements `< > <= >=`: numeric ordering (with promotion) and
// String↔String lexicographic-by-Unicode-scalar ordering. ok is false for
// any other operand combination.
func Compare(a, b Value) (cmp int, ok bool) {
	if isNumeric(a) && isNumeric(b) {
		af, bf := asFloat(a), asFloat(b)
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	if a.Kind == KindString && b.Kind == KindString {
		return strings.Compare(a.Str, b.Str), true
	}
	return 0, false
}

// Render writes v's canonical textual rendering (the form `@print` uses) to
// sb. Cycles within Lists/Objects are broken with an elision marker rather
// than recursing forever.
func Render(sb *strings.Builder, v Value) {
	renderValue(sb, v, map[any]bool{})
}

func renderValue(sb *strings.Builder, v Value, seen map[any]bool) {
	switch v.Kind {
	case KindNull:
		sb.WriteString("null")
	case KindBool:
		if v.Bool {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case KindInt:
		sb.WriteString(strconv.FormatInt(v.Int, 10))
	case KindFloat:
		sb.WriteString(formatFloat(v.Flt))
	case KindString:
		sb.WriteString(v.Str)
	case KindList:
		renderList(sb, v.List, seen)
	case KindObject:
		renderObject(sb, v.Obj, seen)
	case KindFunction:
		renderFunction(sb, v.Clo)
	case KindBuiltin:
		fmt.Fprintf(sb, "<builtin @%s>", v.Builtin)
	}
}

func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if strings.ContainsRune(s, '.') || math.IsInf(f, 0) || math.IsNaN(f) {
		return s
	}
	// Large or small magnitudes come back in scientific form ("1e+20")
	// with no fractional digit anywhere in them; splice .0 in ahead of
	// the exponent rather than appending after it.
	if i := strings.IndexAny(s, "eE"); i >= 0 {
		return s[:i] + ".0" + s[i:]
	}
	return s + ".0"
}

func renderList(sb *strings.Builder, l *List, seen map[any]bool) {
	if l == nil {
		sb.WriteString("[]")
		return
	}
	if seen[l] {
		sb.WriteString("[...]")
		return
	}
	seen[l] = true
	defer delete(seen, l)

	sb.WriteByte('[')
	for i, e := range l.Elems {
		if i > 0 {
			sb.WriteString(", ")
		}
		renderValue(sb, e, seen)
	}
	sb.WriteByte(']')
}

func renderObject(sb *strings.Builder, o *Object, seen map[any]bool) {
	if o == nil || o.Len() == 0 {
		sb.WriteString("{}")
		return
	}
	if seen[o] {
		sb.WriteString("{...}")
		return
	}
	seen[o] = true
	defer delete(seen, o)

	sb.WriteString("{ ")
	for i, e := range o.order {
		if i > 0 {
			sb.WriteString(", ")
		}
		if e.key.Kind == KindString && isIdentifierShaped(e.key.Str) {
			sb.WriteString(e.key.Str)
		} else {
			renderValue(sb, e.key, seen)
		}
		sb.WriteString(": ")
		renderValue(sb, e.val, seen)
	}
	sb.WriteString(" }")
}

func renderFunction(sb *strings.Builder, c *Closure) {
	name := ""
	if c != nil && c.Fn != nil {
		name = c.Fn.Name
	}
	if name == "" {
		sb.WriteString("<fn>")
		return
	}
	fmt.Fprintf(sb, "<fn %s>", name)
}

func isIdentifierShaped(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			continue
		}
		if i > 0 && r >= '0' && r <= '9' {
			continue
		}
		return false
	}
	return true
}

// String returns v's canonical rendering, as Render would produce.
func (v Value) String() string {
	var sb strings.Builder
	Render(&sb, v)
	return sb.String()
}
