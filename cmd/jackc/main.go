// jackc compiles Jack classes into VM code.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/chazu/jackc/build"
	"github.com/chazu/jackc/manifest"
	"github.com/chazu/jackc/server"

	_ "github.com/tliron/commonlog/simple"
)

// Exit statuses.
const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
)

const (
	programName = "jackc"
	lspCommand  = "lsp"
	defaultExt  = manifest.DefaultExtension
)

func main() {
	os.Exit(run(os.Args[1:], ".", os.Stdout, os.Stderr))
}

// run executes the command line and returns the exit status. dir is where
// the manifest search starts.
func run(args []string, dir string, stdout, stderr io.Writer) int {
	if len(args) > 0 && args[0] == lspCommand {
		return runLSP(args[1:], stderr)
	}

	fs := flag.NewFlagSet(programName, flag.ContinueOnError)
	fs.SetOutput(stderr)
	verbose := fs.Bool("v", false, "Verbose output")
	debug := fs.Bool("debug", false, "Log compiler internals")
	outDir := fs.String("o", "", "Output directory (default: next to each source)")
	ext := fs.String("ext", defaultExt, "Output file extension")
	jobs := fs.Int("j", 0, "Parallel compile jobs (default: number of CPUs)")
	failFast := fs.Bool("fail-fast", false, "Stop starting new files after the first failure")
	useCache := fs.Bool("cache", false, "Skip files whose source and output are unchanged")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: jackc [options] [paths...]\n")
		fmt.Fprintf(stderr, "       jackc lsp [-v]\n\n")
		fmt.Fprintf(stderr, "Compiles each .jack file (or every .jack file in each directory) to VM code.\n")
		fmt.Fprintf(stderr, "Without paths, compiles the source dirs of the nearest %s.\n\n", manifest.FileName)
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  jackc Main.jack          # writes Main.vm next to it\n")
		fmt.Fprintf(stderr, "  jackc ./Pong -o build    # compiles Pong/*.jack into build/\n")
		fmt.Fprintf(stderr, "  jackc -cache             # incremental build of the project\n")
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	configureLogging(*verbose, *debug)

	m, err := manifest.FindAndLoad(dir)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading manifest: %v\n", err)
		return exitUsage
	}

	paths := fs.Args()
	if len(paths) == 0 {
		if m == nil {
			fs.Usage()
			return exitUsage
		}
		paths = m.SourceDirPaths()
	}

	// Manifest values first, then explicitly set flags on top.
	cfg := config{ext: defaultExt, keepGoing: true, cachePath: filepath.Join(dir, manifest.DefaultCacheFile)}
	if m != nil {
		cfg = config{
			outDir:    m.OutputDir(),
			ext:       m.Output.Extension,
			jobs:      m.Build.Jobs,
			keepGoing: m.KeepGoing(),
			cache:     m.Build.Cache,
			cachePath: m.CachePath(),
		}
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "o":
			cfg.outDir = *outDir
		case "ext":
			cfg.ext = *ext
			if !strings.HasPrefix(cfg.ext, ".") {
				cfg.ext = "." + cfg.ext
			}
		case "j":
			cfg.jobs = *jobs
		case "fail-fast":
			cfg.keepGoing = !*failFast
		case "cache":
			cfg.cache = *useCache
		}
	})

	return compile(paths, cfg, *verbose, stdout, stderr)
}

type config struct {
	outDir    string
	ext       string
	jobs      int
	keepGoing bool
	cache     bool
	cachePath string
}

func compile(paths []string, cfg config, verbose bool, stdout, stderr io.Writer) int {
	files, err := build.CollectFiles(paths)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}
	if len(files) == 0 {
		fmt.Fprintf(stderr, "No %s files found\n", build.SourceExt)
		return exitOK
	}

	jobs, err := build.Plan(files, cfg.outDir, cfg.ext)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}

	opts := build.Options{Jobs: cfg.jobs, KeepGoing: cfg.keepGoing}
	if cfg.cache {
		cache, err := build.OpenCache(cfg.cachePath)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitFailed
		}
		opts.Cache = cache
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	results, err := build.Run(ctx, jobs, opts)
	compiled, cached := 0, 0
	for _, res := range results {
		switch {
		case res.Err != nil:
			fmt.Fprintf(stderr, "Error: %v\n", res.Err)
		case res.Cached:
			cached++
			if verbose {
				fmt.Fprintf(stdout, "Up to date %s\n", res.Output)
			}
		case res.Skipped:
			if verbose {
				fmt.Fprintf(stdout, "Skipped %s\n", res.Source)
			}
		default:
			compiled++
			if verbose {
				fmt.Fprintf(stdout, "Wrote %s (%d instructions)\n", res.Output, res.Unit.Instructions)
			}
		}
	}
	if verbose {
		fmt.Fprintf(stdout, "Compiled %d files, %d up to date\n", compiled, cached)
	}

	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailed
	}
	return exitOK
}

func runLSP(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet(programName+" "+lspCommand, flag.ContinueOnError)
	fs.SetOutput(stderr)
	verbose := fs.Bool("v", false, "Verbose logging to stderr")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	configureLogging(*verbose, false)

	if err := server.NewLSP().Run(); err != nil {
		fmt.Fprintf(stderr, "Server error: %v\n", err)
		return exitFailed
	}
	return exitOK
}

// configureLogging maps the verbosity flags onto commonlog: -v raises it to
// info, -debug to debug.
func configureLogging(verbose, debug bool) {
	verbosity := 0
	switch {
	case debug:
		verbosity = 2
	case verbose:
		verbosity = 1
	}
	commonlog.Configure(verbosity, nil)
}
