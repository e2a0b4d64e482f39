package build

import (
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"
)

func TestCacheSkipsUnchangedSources(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "Main.jack")
	writeFile(t, src, mainSource)
	jobs, err := Plan([]string{src}, "", ".vm")
	if err != nil {
		t.Fatal(err)
	}
	cachePath := filepath.Join(dir, ".jackc-cache")

	run := func() Result {
		t.Helper()
		cache, err := OpenCache(cachePath)
		if err != nil {
			t.Fatalf("OpenCache: %v", err)
		}
		results, err := Run(context.Background(), jobs, Options{Jobs: 1, Cache: cache})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		return results[0]
	}

	if res := run(); res.Cached {
		t.Fatal("first run reported cached")
	}
	if res := run(); !res.Cached {
		t.Error("second run recompiled an unchanged source")
	}

	// Changed source: miss.
	writeFile(t, src, `class Main { function int main() { return 1; } }`)
	if res := run(); res.Cached {
		t.Error("changed source reported cached")
	}
	if res := run(); !res.Cached {
		t.Error("run after recompiling the change was not cached")
	}

	// Tampered output: miss, and the output is restored.
	writeFile(t, jobs[0].Output, "garbage\n")
	if res := run(); res.Cached {
		t.Error("tampered output reported cached")
	}
	if got := readFile(t, jobs[0].Output); got == "garbage\n" {
		t.Error("tampered output not rewritten")
	}

	// Deleted output: miss.
	if err := os.Remove(jobs[0].Output); err != nil {
		t.Fatal(err)
	}
	if res := run(); res.Cached {
		t.Error("missing output reported cached")
	}
}

func TestCacheForgetsFailedSources(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "Main.jack")
	dst := filepath.Join(dir, "Main.vm")
	writeFile(t, src, mainSource)

	cache, err := OpenCache(filepath.Join(dir, ".jackc-cache"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Run(context.Background(), []Job{{src, dst}}, Options{Cache: cache}); err != nil {
		t.Fatal(err)
	}
	if cache.Len() != 1 {
		t.Fatalf("Len = %d, want 1", cache.Len())
	}

	writeFile(t, src, `class Main {`)
	if _, err := Run(context.Background(), []Job{{src, dst}}, Options{Cache: cache}); err == nil {
		t.Fatal("expected failure")
	}
	if cache.Len() != 0 {
		t.Errorf("Len = %d after failure, want 0", cache.Len())
	}
}

func TestOpenCacheDiscardsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".jackc-cache")
	writeFile(t, path, "\xff\x00 not cbor")

	cache, err := OpenCache(path)
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	if cache.Len() != 0 {
		t.Errorf("Len = %d, want 0", cache.Len())
	}
}

func TestCacheSaveIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	save := func(path string) []byte {
		c, err := OpenCache(path)
		if err != nil {
			t.Fatal(err)
		}
		for _, name := range []string{"b", "a", "c"} {
			c.Record(name+".jack", name+".vm", sha256.Sum256([]byte(name)), sha256.Sum256([]byte(name+"out")))
		}
		if err := c.Save(); err != nil {
			t.Fatalf("Save: %v", err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		return data
	}

	first := save(filepath.Join(dir, "one"))
	second := save(filepath.Join(dir, "two"))
	if string(first) != string(second) {
		t.Error("cache encoding is not canonical")
	}

	c, err := OpenCache(filepath.Join(dir, "one"))
	if err != nil {
		t.Fatal(err)
	}
	if c.Len() != 3 {
		t.Errorf("reloaded Len = %d, want 3", c.Len())
	}
}
