// Command patchcdn browses and caches the bundles of a patch CDN.
//
// Usage:
//
//	patchcdn [flags] ls [dir]
//	patchcdn [flags] cat <path>
//	patchcdn [flags] preload [dir]
//	patchcdn [flags] serve
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"github.com/meigma/patchcdn"
	"github.com/meigma/patchcdn/metrics"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// app holds the components shared by every command.
type app struct {
	cfg    *Config
	flags  *pflag.FlagSet
	logger *slog.Logger
	loader *patchcdn.BundleLoader
	index  *patchcdn.Index
	reg    *prometheus.Registry
	stdout io.Writer
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	flags := pflag.NewFlagSet("patchcdn", pflag.ContinueOnError)
	registerFlags(flags)
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(stdout, flags)
			return nil
		}
		return err
	}
	if help, _ := flags.GetBool("help"); help || flags.NArg() == 0 {
		printHelp(stdout, flags)
		return nil
	}

	configPath, _ := flags.GetString("config")
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := applyFlags(cfg, flags); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger(cfg.Log)
	s, closeStore, err := openStore(cfg.Cache, logger)
	if err != nil {
		return fmt.Errorf("opening %s store: %w", cfg.Cache.Store, err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("closing store", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	loader, err := patchcdn.NewBundleLoader(cfg.BaseURL,
		append(loaderOptions(cfg, s, logger), patchcdn.WithMetrics(m))...)
	if err != nil {
		return err
	}
	if err := loader.SetPatch(ctx, cfg.Patch); err != nil {
		return err
	}

	a := &app{
		cfg:    cfg,
		flags:  flags,
		logger: logger,
		loader: loader,
		index:  patchcdn.NewIndex(loader, patchcdn.WithIndexMetrics(m), patchcdn.WithIndexLogger(logger)),
		reg:    reg,
		stdout: stdout,
	}

	cmd, rest := flags.Arg(0), flags.Args()[1:]
	switch cmd {
	case "ls":
		return a.ls(ctx, rest)
	case "cat":
		return a.cat(ctx, rest)
	case "preload":
		return a.preload(ctx, rest)
	case "serve":
		return a.serve(ctx)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (a *app) ls(ctx context.Context, args []string) error {
	if err := a.index.LoadIndex(ctx); err != nil {
		return err
	}
	if len(args) == 0 {
		dirs, err := a.index.GetRootDirs()
		if err != nil {
			return err
		}
		for _, d := range dirs {
			fmt.Fprintln(a.stdout, d+"/")
		}
		return nil
	}
	content, err := a.index.GetDirContent(args[0])
	if err != nil {
		return err
	}
	for _, d := range content.Dirs {
		fmt.Fprintln(a.stdout, d+"/")
	}
	for _, f := range content.Files {
		fmt.Fprintln(a.stdout, f)
	}
	return nil
}

func (a *app) cat(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("cat takes exactly one path")
	}
	if err := a.index.LoadIndex(ctx); err != nil {
		return err
	}
	data, err := a.index.LoadFileContent(ctx, args[0])
	if err != nil {
		return err
	}
	_, err = a.stdout.Write(data)
	return err
}

// preload reads every data table under a directory and prints a status line
// per file. Per-file failures are reported but do not fail the command.
func (a *app) preload(ctx context.Context, args []string) error {
	dir := patchcdn.DataDir
	if len(args) > 0 {
		dir = args[0]
	}
	ext, _ := a.flags.GetString("ext")
	concurrency, _ := a.flags.GetInt("concurrency")

	if err := a.index.LoadIndex(ctx); err != nil {
		return err
	}
	paths, err := patchcdn.DataTables(a.index, dir, ext)
	if err != nil {
		return err
	}

	sizes := make([]int, len(paths))
	pos := make(map[string]int, len(paths))
	for i, p := range paths {
		pos[p] = i
	}
	results, err := patchcdn.Preload(ctx, a.index, paths,
		patchcdn.WithPreloadConcurrency(concurrency),
		patchcdn.WithPreloadVisit(func(path string, data []byte) error {
			sizes[pos[path]] = len(data)
			return nil
		}))
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tBUNDLE\tSIZE\tSTATUS")
	failed := 0
	for i, r := range results {
		bundleName := "-"
		if r.Location != nil {
			bundleName = r.Location.Bundle
		}
		status := "ok"
		if r.Err != nil {
			status = r.Err.Error()
			failed++
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", r.Path, bundleName, sizes[i], status)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	a.logger.Info("preload finished", "files", len(results), "failed", failed)
	return nil
}

func printHelp(w io.Writer, flags *pflag.FlagSet) {
	fmt.Fprintln(w, "Usage: patchcdn [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  ls [dir]        list root directories or the contents of dir")
	fmt.Fprintln(w, "  cat <path>      write a file to stdout")
	fmt.Fprintln(w, "  preload [dir]   read every data table under dir (default data)")
	fmt.Fprintln(w, "  serve           run the HTTP API")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprint(w, flags.FlagUsages())
}
