package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"

	"regis/internal/config"
	"regis/internal/diagnostics"
	"regis/internal/host"
	"regis/internal/modcache"
	"regis/internal/modules"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Parse(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "regis:", err)
		return 1
	}

	cache, err := modcache.Open(cfg.CacheBackend, cfg.CacheDSN)
	if err != nil {
		fmt.Fprintln(os.Stderr, "regis:", err)
		return 1
	}
	defer cache.Close()

	h := host.DefaultHost()
	loader := modules.New(h, h.Resolver, cache)
	loader.SetMaxCallDepth(cfg.MaxCallDepth)

	_, err = loader.RunEntry(context.Background(), cfg.EntryPath)
	if err != nil {
		reportFault(h, err)
		return 1
	}
	return 0
}

// reportFault renders an uncaught failure to stderr, highlighted with ANSI
// color when stderr is an interactive terminal.
func reportFault(h *host.Host, err error) {
	line, column, _ := diagnostics.PosOf(err)
	fault := diagnostics.NewFault(uuid.New(), err, line, column, h.Clock.Now())
	if isatty.IsTerminal(os.Stderr.Fd()) {
		fmt.Fprintf(os.Stderr, "\x1b[31m%s\x1b[0m\n", fault)
		return
	}
	fmt.Fprintln(os.Stderr, fault)
}
