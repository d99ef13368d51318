// Package modules implements Regis's module table: the Loading/Loaded
// record machine @import is built on, per spec §4.6. Unlike the teacher's
// whole-program loader (which parses every transitively imported file up
// front and rejects any cycle it finds), this loader loads lazily, one
// canonical path at a time, on each @import call, and tolerates cycles by
// handing the in-construction exports Object (holding only the exports
// assigned so far) to whoever imports a module that is itself mid-load.
package modules

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"regis/internal/compiler"
	"regis/internal/diagnostics"
	"regis/internal/host"
	"regis/internal/lexer"
	"regis/internal/modcache"
	"regis/internal/parser"
	"regis/internal/value"
	"regis/internal/vm"
)

// Status is a Module record's position in spec §4.6's state machine.
type Status int

const (
	Loading Status = iota
	Loaded
)

// Record is one entry of the module table, keyed by canonical path in the
// Loader below.
type Record struct {
	CanonicalPath string
	Exports       value.Value
	Status        Status
}

// BaseHost is the subset of vm.Host a Loader doesn't implement itself —
// Write and Sleep pass straight through to whatever the embedder supplied.
// Loader embeds one and supplies Import itself, so a *Loader is a vm.Host
// in its own right.
type BaseHost interface {
	Write(s string)
	Sleep(ctx context.Context, seconds float64) error
}

// Loader owns the module table, and the single *vm.VM every module in the
// run executes on, for one program's lifetime. Every @import call — from
// the entry script or from any module it transitively loads — routes
// through the same Loader onto that same VM, so canonical paths are
// singleton across the whole run and, per vm.VM's own contract, every
// module shares one global namespace: a bare `x = 5;` in one module and a
// bare read of `x` from a closure some other module imported resolve
// against the same map, exactly as if both were compiled into one file.
type Loader struct {
	BaseHost
	resolver host.FileResolver
	cache    modcache.Cache
	vm       *vm.VM

	mu      sync.Mutex
	records map[string]*Record
}

// New constructs a Loader. base supplies Write/Sleep (ordinarily a
// *host.Host); resolver reads module source and canonicalizes paths; cache
// may be modcache.NullCache{} to disable compiled-chunk persistence. The
// Loader is its own vm.Host, so its one *vm.VM is built right here.
func New(base BaseHost, resolver host.FileResolver, cache modcache.Cache) *Loader {
	l := &Loader{
		BaseHost: base,
		resolver: resolver,
		cache:    cache,
		records:  make(map[string]*Record),
	}
	l.vm = vm.New(l)
	return l
}

// SetMaxCallDepth bounds the call-stack depth of the loader's one VM,
// shared by every module — including ones loaded later via @import.
func (l *Loader) SetMaxCallDepth(depth int) { l.vm.SetMaxCallDepth(depth) }

// RunEntry loads and runs the entry script: canonicalize relative to the
// process's working directory (spec §4.6 step 1's special case for the
// top-level module), then proceed exactly as an @import would.
func (l *Loader) RunEntry(ctx context.Context, path string) (value.Value, error) {
	canon, err := l.resolver.Canonicalize(".", path)
	if err != nil {
		return value.Null(), diagnostics.New(diagnostics.IOError, "resolving entry %s: %v", path, err)
	}
	return l.load(ctx, canon)
}

// Import implements vm.Host. fromPath is the ModulePath of the function
// that called @import, i.e. the importing module's own canonical path;
// target is canonicalized relative to its directory.
func (l *Loader) Import(fromPath, target string) (value.Value, error) {
	canon, err := l.resolver.Canonicalize(filepath.Dir(fromPath), target)
	if err != nil {
		return value.Null(), diagnostics.New(diagnostics.IOError, "resolving import %q from %s: %v", target, fromPath, err)
	}
	return l.load(context.Background(), canon)
}

// load implements spec §4.6's three-step contract.
func (l *Loader) load(ctx context.Context, canon string) (value.Value, error) {
	l.mu.Lock()
	if rec, ok := l.records[canon]; ok {
		// Loaded → its final exports; Loading → the same in-construction
		// Object every other participant in a cycle sees, holding whatever
		// exports the module's top level has assigned so far.
		exports := rec.Exports
		l.mu.Unlock()
		return exports, nil
	}
	rec := &Record{CanonicalPath: canon, Exports: value.NewObject(value.NewEmptyObject()), Status: Loading}
	l.records[canon] = rec
	l.mu.Unlock()

	exports, err := l.compileAndRun(ctx, canon, rec.Exports)
	if err != nil {
		l.mu.Lock()
		delete(l.records, canon)
		l.mu.Unlock()
		return value.Null(), diagnostics.New(diagnostics.ImportError, "loading %s: %v", canon, err)
	}

	// exports is rec.Exports itself, populated in place as the module's
	// top-level chunk ran — its identity never changes, only its Status,
	// so anyone holding a reference captured during Loading now sees the
	// finished module through that same Object.
	l.mu.Lock()
	rec.Status = Loaded
	l.mu.Unlock()
	return exports, nil
}

func (l *Loader) compileAndRun(ctx context.Context, canon string, exports value.Value) (value.Value, error) {
	src, err := l.resolver.Read(canon)
	if err != nil {
		return value.Null(), diagnostics.New(diagnostics.IOError, "%v", err)
	}
	hash := modcache.HashSource(src)

	fn, hit, err := l.cache.Lookup(ctx, canon, hash)
	if err != nil {
		return value.Null(), err
	}
	if !hit {
		prog, err := parser.Parse(lexer.New(string(src)))
		if err != nil {
			return value.Null(), err
		}
		fn, err = compiler.Compile(prog, canon)
		if err != nil {
			return value.Null(), err
		}
		if err := l.cache.Store(ctx, canon, hash, fn); err != nil {
			// A cache write failure never aborts the run — caching is an
			// optimization the loader can live without.
			_ = err
		}
	}

	// Every module, including ones reached only through a nested @import,
	// runs on l.vm: @import from inside a running chunk recurses through
	// Go's own call stack (dispatch -> callBuiltin -> Import -> load ->
	// compileAndRun -> Run -> dispatch again), but it is the SAME *VM the
	// whole way down, so the nested module's globals, stack and open
	// upvalues are the caller's, not a fresh, empty set.
	return l.vm.Run(ctx, fn, exports)
}

func (l *Loader) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fmt.Sprintf("modules.Loader{%d loaded}", len(l.records))
}
