// Package build drives batch compilation of Jack sources into VM files.
package build

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/jackc/compiler"
	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"
)

var log = commonlog.GetLogger("jackc.build")

// SourceExt is the extension of Jack source files.
const SourceExt = ".jack"

// ErrFailed is returned by Run when at least one file did not compile.
var ErrFailed = errors.New("compilation failed")

// Job pairs a source file with the VM file it compiles to.
type Job struct {
	Source string
	Output string
}

// Options configures a batch run.
type Options struct {
	Jobs      int    // maximum parallel compiles; < 1 means one
	KeepGoing bool   // keep compiling after a failed file
	Cache     *Cache // nil disables incremental skipping
}

// Result is the outcome of one job.
type Result struct {
	Job
	Unit    *compiler.Unit // nil when cached, skipped or failed
	Cached  bool           // output was already up to date
	Skipped bool           // never started because the batch stopped early
	Err     error
}

// CollectFiles expands paths into the list of Jack sources to compile. A
// directory contributes its own .jack files (not those of subdirectories); a
// file must carry the .jack extension. Duplicates are dropped.
func CollectFiles(paths []string) ([]string, error) {
	var files []string
	seen := map[string]bool{}
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			files = append(files, p)
		}
	}

	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("invalid path %q: %w", path, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("cannot access %q: %w", path, err)
		}

		if !info.IsDir() {
			if filepath.Ext(abs) != SourceExt {
				return nil, fmt.Errorf("%q is not a %s file", path, SourceExt)
			}
			add(abs)
			continue
		}

		entries, err := os.ReadDir(abs)
		if err != nil {
			return nil, fmt.Errorf("reading %q: %w", path, err)
		}
		for _, e := range entries {
			if !e.IsDir() && filepath.Ext(e.Name()) == SourceExt {
				add(filepath.Join(abs, e.Name()))
			}
		}
	}
	return files, nil
}

// OutputPath returns where src compiles to: next to it when outDir is empty,
// otherwise inside outDir, with the source extension replaced by ext.
func OutputPath(src, outDir, ext string) string {
	base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src)) + ext
	if outDir == "" {
		return filepath.Join(filepath.Dir(src), base)
	}
	return filepath.Join(outDir, base)
}

// Plan assigns an output path to every source. Two sources that would write
// the same output are an error.
func Plan(files []string, outDir, ext string) ([]Job, error) {
	owner := map[string]string{}
	jobs := make([]Job, 0, len(files))
	for _, src := range files {
		dst := OutputPath(src, outDir, ext)
		if prev, ok := owner[dst]; ok {
			return nil, fmt.Errorf("%s and %s would both write %s", prev, src, dst)
		}
		owner[dst] = src
		jobs = append(jobs, Job{Source: src, Output: dst})
	}
	return jobs, nil
}

// CompileFile compiles the Jack class in src and writes its VM code to dst.
// dst is only created or replaced when compilation succeeds.
func CompileFile(src, dst string) (*compiler.Unit, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return nil, err
	}
	unit, _, err := compileSource(src, data, dst)
	return unit, err
}

// compileSource compiles data into dst and returns the hash of the written
// output.
func compileSource(src string, data []byte, dst string) (*compiler.Unit, [32]byte, error) {
	var unit *compiler.Unit
	var sum [32]byte
	err := writeAtomic(dst, func(w io.Writer) error {
		h := sha256.New()
		u, err := compiler.Compile(bytes.NewReader(data), io.MultiWriter(w, h))
		if err != nil {
			return err
		}
		unit = u
		sum = digest(h)
		return nil
	})
	if err != nil {
		return nil, sum, fmt.Errorf("%s: %w", src, err)
	}
	return unit, sum, nil
}

func digest(h hash.Hash) [32]byte {
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// Run compiles every job, up to opts.Jobs at a time. Results come back in job
// order. Without KeepGoing the first failure stops new jobs from starting;
// those are reported as Skipped. The returned error wraps ErrFailed when any
// job failed.
func Run(ctx context.Context, jobs []Job, opts Options) ([]Result, error) {
	results := make([]Result, len(jobs))
	for i, job := range jobs {
		results[i] = Result{Job: job, Skipped: true}
	}

	limit := opts.Jobs
	if limit < 1 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, job := range jobs {
		i, job := i, job
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			res := runJob(job, opts.Cache)
			results[i] = res
			if res.Err != nil && !opts.KeepGoing {
				return res.Err
			}
			return nil
		})
	}
	// Job errors are already recorded in results.
	_ = g.Wait()

	if opts.Cache != nil {
		if err := opts.Cache.Save(); err != nil {
			log.Warningf("%v", err)
		}
	}

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return results, fmt.Errorf("%w: %d of %d files", ErrFailed, failed, len(jobs))
	}
	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

func runJob(job Job, cache *Cache) Result {
	res := Result{Job: job}

	data, err := os.ReadFile(job.Source)
	if err != nil {
		res.Err = err
		return res
	}
	srcHash := sha256.Sum256(data)

	if cache != nil && cache.Fresh(job.Source, job.Output, srcHash) {
		log.Debugf("up to date: %s", job.Output)
		res.Cached = true
		return res
	}

	unit, outHash, err := compileSource(job.Source, data, job.Output)
	if err != nil {
		if cache != nil {
			cache.Forget(job.Source)
		}
		res.Err = err
		return res
	}
	if cache != nil {
		cache.Record(job.Source, job.Output, srcHash, outHash)
	}
	log.Infof("compiled %s -> %s (%d instructions)", job.Source, job.Output, unit.Instructions)
	res.Unit = unit
	return res
}
