package vm

import (
	"context"
	"unicode/utf8"

	"regis/internal/bytecode"
	"regis/internal/diagnostics"
	"regis/internal/value"
)

// Host provides the external services the five fixed built-ins need. The
// VM never touches a clock, a writer, or the module graph directly — that
// boundary lives here, so the dispatch loop stays testable against a fake
// Host and the real services stay swappable (host.DefaultHost wires the
// genuine os/time-backed ones).
type Host interface {
	// Write emits s (already formatted, including any trailing newline the
	// caller wants) to wherever @print/@println write.
	Write(s string)
	// Sleep blocks for seconds, or returns early with ctx's error if it is
	// canceled first.
	Sleep(ctx context.Context, seconds float64) error
	// Import resolves target relative to fromPath and returns its exports
	// Object. The VM has no notion of "a module" at all; this is the only
	// hook through which @import reaches the loader.
	Import(fromPath, target string) (value.Value, error)
}

func callBuiltin(ctx context.Context, id bytecode.Builtin, args []value.Value, host Host, fromPath string) (value.Value, error) {
	switch id {
	case bytecode.BuiltinPrint:
		if len(args) != 1 {
			return value.Value{}, diagnostics.New(diagnostics.ArityError, "@print expects 1 argument, got %d", len(args))
		}
		host.Write(args[0].String())
		return value.Null(), nil

	case bytecode.BuiltinPrintln:
		if len(args) != 1 {
			return value.Value{}, diagnostics.New(diagnostics.ArityError, "@println expects 1 argument, got %d", len(args))
		}
		host.Write(args[0].String() + "\n")
		return value.Null(), nil

	case bytecode.BuiltinLen:
		if len(args) != 1 {
			return value.Value{}, diagnostics.New(diagnostics.ArityError, "@len expects 1 argument, got %d", len(args))
		}
		switch a := args[0]; a.Kind {
		case value.KindString:
			return value.Int(int64(utf8.RuneCountInString(a.Str))), nil
		case value.KindList:
			return value.Int(int64(len(a.List.Elems))), nil
		case value.KindObject:
			return value.Int(int64(a.Obj.Len())), nil
		default:
			return value.Value{}, diagnostics.New(diagnostics.TypeError, "@len is not defined for %s", a.Kind)
		}

	case bytecode.BuiltinImport:
		if len(args) != 1 {
			return value.Value{}, diagnostics.New(diagnostics.ArityError, "@import expects 1 argument, got %d", len(args))
		}
		if args[0].Kind != value.KindString {
			return value.Value{}, diagnostics.New(diagnostics.TypeError, "@import expects a String argument, got %s", args[0].Kind)
		}
		exports, err := host.Import(fromPath, args[0].Str)
		if err != nil {
			return value.Value{}, err
		}
		return exports, nil

	case bytecode.BuiltinSleep:
		if len(args) != 1 {
			return value.Value{}, diagnostics.New(diagnostics.ArityError, "@sleep expects 1 argument, got %d", len(args))
		}
		if args[0].Kind != value.KindInt && args[0].Kind != value.KindFloat {
			return value.Value{}, diagnostics.New(diagnostics.TypeError, "@sleep expects a numeric argument, got %s", args[0].Kind)
		}
		seconds := args[0].Flt
		if args[0].Kind == value.KindInt {
			seconds = float64(args[0].Int)
		}
		if err := host.Sleep(ctx, seconds); err != nil {
			return value.Value{}, diagnostics.New(diagnostics.VMHalt, "%v", err)
		}
		return value.Null(), nil

	default:
		return value.Value{}, diagnostics.New(diagnostics.NameError, "unknown built-in id %d", id)
	}
}
