package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func runCLI(t *testing.T, dir string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr strings.Builder
	code := run(args, dir, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestCompileSingleFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "Main.jack")
	writeFile(t, src, `class Main { function void main() { return; } }`)

	code, stdout, stderr := runCLI(t, dir, "-v", src)
	if code != exitOK {
		t.Fatalf("exit = %d, stderr = %s", code, stderr)
	}
	data, err := os.ReadFile(filepath.Join(dir, "Main.vm"))
	if err != nil {
		t.Fatalf("Main.vm not written: %v", err)
	}
	if string(data) != "function Main.main 0\npush constant 0\nreturn\n" {
		t.Errorf("Main.vm = %q", data)
	}
	if !strings.Contains(stdout, "Wrote ") {
		t.Errorf("verbose output missing: %q", stdout)
	}
}

func TestCompileDirectoryReportsEveryFailure(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "Good.jack"), `class Good { function void f() { return; } }`)
	writeFile(t, filepath.Join(dir, "Bad.jack"), `class Bad { function void f() { return } }`)
	writeFile(t, filepath.Join(dir, "Worse.jack"), `class Worse {`)

	code, _, stderr := runCLI(t, dir, dir)
	if code != exitFailed {
		t.Fatalf("exit = %d, want %d", code, exitFailed)
	}
	for _, name := range []string{"Bad.jack", "Worse.jack"} {
		if !strings.Contains(stderr, name) {
			t.Errorf("stderr does not mention %s:\n%s", name, stderr)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "Good.vm")); err != nil {
		t.Errorf("Good.vm missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "Bad.vm")); !os.IsNotExist(err) {
		t.Error("Bad.vm written for a failed file")
	}
}

func TestUsageErrors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "notes.txt"), "")

	tests := []struct {
		name string
		args []string
	}{
		{"no paths and no manifest", nil},
		{"not a jack file", []string{filepath.Join(dir, "notes.txt")}},
		{"missing path", []string{filepath.Join(dir, "missing.jack")}},
		{"unknown flag", []string{"-nope"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if code, _, _ := runCLI(t, dir, tc.args...); code != exitUsage {
				t.Errorf("exit = %d, want %d", code, exitUsage)
			}
		})
	}
}

func TestManifestDrivesBuild(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "jack.toml"), `
[project]
name = "demo"

[source]
dirs = ["src"]

[output]
dir = "out"

[build]
cache = true
`)
	writeFile(t, filepath.Join(dir, "src", "Main.jack"), `class Main { function void main() { return; } }`)

	code, _, stderr := runCLI(t, dir)
	if code != exitOK {
		t.Fatalf("exit = %d, stderr = %s", code, stderr)
	}
	if _, err := os.Stat(filepath.Join(dir, "out", "Main.vm")); err != nil {
		t.Errorf("out/Main.vm missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".jackc-cache")); err != nil {
		t.Errorf("cache file missing: %v", err)
	}

	code, stdout, _ := runCLI(t, dir, "-v")
	if code != exitOK {
		t.Fatalf("second run exit = %d", code)
	}
	if !strings.Contains(stdout, "Up to date") {
		t.Errorf("second run recompiled: %q", stdout)
	}
}

func TestFlagsOverrideManifest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "jack.toml"), "[output]\ndir = \"out\"\n")
	src := filepath.Join(dir, "src", "Main.jack")
	writeFile(t, src, `class Main { function void main() { return; } }`)

	alt := filepath.Join(dir, "alt")
	code, _, stderr := runCLI(t, dir, "-o", alt, "-ext", "hvm", src)
	if code != exitOK {
		t.Fatalf("exit = %d, stderr = %s", code, stderr)
	}
	if _, err := os.Stat(filepath.Join(alt, "Main.hvm")); err != nil {
		t.Errorf("alt/Main.hvm missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "out")); !os.IsNotExist(err) {
		t.Error("manifest output dir used despite -o")
	}
}
