// Package diagnostics implements Regis's error taxonomy: a fixed set of
// Kinds every lex/parse/compile/runtime failure is tagged with, plus Fault,
// the run-stamped record a host (the CLI, a test harness, an embedder)
// renders for a user.
package diagnostics

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/ncruces/go-strftime"
)

// Kind tags a failure with the category spec's error taxonomy assigns it.
type Kind string

const (
	IOError           Kind = "IOError"
	LexError          Kind = "LexError"
	ParseError        Kind = "ParseError"
	CompileError      Kind = "CompileError"
	TypeError         Kind = "TypeError"
	ArityError        Kind = "ArityError"
	RangeError        Kind = "RangeError"
	ZeroDivisionError Kind = "ZeroDivisionError"
	NameError         Kind = "NameError"
	ImportError       Kind = "ImportError"
	VMHalt            Kind = "VMHalt"
)

// TypedError pairs a plain Go error with the Kind it belongs to, so a
// caller two layers up the call stack can still ask "was this a
// ZeroDivisionError?" without string-matching a message.
type TypedError struct {
	Kind Kind
	Err  error
}

func New(kind Kind, format string, args ...any) *TypedError {
	return &TypedError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

func (e *TypedError) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Err) }
func (e *TypedError) Unwrap() error { return e.Err }

// Kinded is implemented by errors that know their own taxonomy Kind without
// being wrapped in a TypedError — parser.ParseError and compiler.CompileError
// carry enough context (a source position, sometimes a lexer-detected fault)
// to classify themselves directly rather than being wrapped a second time.
type Kinded interface {
	DiagnosticKind() Kind
}

// Spanned is implemented by errors that know the source position they
// occurred at.
type Spanned interface {
	DiagnosticPos() (line, column int)
}

// KindOf extracts the Kind a TypedError or Kinded error (or a chain wrapping
// one) carries. An error that is neither reports the empty Kind.
func KindOf(err error) Kind {
	var te *TypedError
	if errors.As(err, &te) {
		return te.Kind
	}
	var k Kinded
	if errors.As(err, &k) {
		return k.DiagnosticKind()
	}
	return ""
}

// PosOf extracts the source position a Spanned error carries. ok is false if
// err (or nothing in its chain) implements Spanned.
func PosOf(err error) (line, column int, ok bool) {
	var s Spanned
	if errors.As(err, &s) {
		line, column = s.DiagnosticPos()
		return line, column, true
	}
	return 0, 0, false
}

// Fault is a single failure stamped with the run it happened in, for
// reporting to a human. Every Regis run gets its own RunID so that faults
// from concurrent or repeated runs (tests, a long-lived host embedding the
// VM) are never ambiguous about which run produced them.
type Fault struct {
	RunID   uuid.UUID
	Kind    Kind
	Message string
	Line    int
	Column  int
	At      time.Time
}

// NewFault stamps err (ideally produced via New, so Kind is populated) with
// runID, a source span, and a timestamp.
func NewFault(runID uuid.UUID, err error, line, column int, at time.Time) *Fault {
	return &Fault{
		RunID:   runID,
		Kind:    KindOf(err),
		Message: err.Error(),
		Line:    line,
		Column:  column,
		At:      at,
	}
}

func (f *Fault) Error() string { return f.String() }

// String renders a Fault the way the CLI prints an uncaught failure:
// kind and message, the span if one is known, a short run identifier, and
// a human-relative timestamp.
func (f *Fault) String() string {
	where := ""
	if f.Line > 0 {
		where = fmt.Sprintf(" at %d:%d", f.Line, f.Column)
	}
	return fmt.Sprintf("%s: %s%s (run %s, %s, %s)",
		f.Kind, f.Message, where,
		shortRunID(f.RunID),
		strftime.Format("%Y-%m-%d %H:%M:%S", f.At),
		humanize.Time(f.At),
	)
}

func shortRunID(id uuid.UUID) string {
	s := id.String()
	if len(s) <= 8 {
		return s
	}
	return s[:8]
}
