// Package manifest handles jack.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
)

// FileName is the name of the project manifest.
const FileName = "jack.toml"

// Defaults applied by Load.
const (
	DefaultSourceDir = "src"
	DefaultExtension = ".vm"
	DefaultCacheFile = ".jackc-cache"
)

// Manifest represents a jack.toml project configuration.
type Manifest struct {
	Project Project `toml:"project"`
	Source  Source  `toml:"source"`
	Output  Output  `toml:"output"`
	Build   Build   `toml:"build"`

	// Dir is the directory containing the jack.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name string `toml:"name"`
}

// Source configures source file locations.
type Source struct {
	Dirs []string `toml:"dirs"`
}

// Output configures where VM files are written. An empty Dir writes each
// output next to its source.
type Output struct {
	Dir       string `toml:"dir"`
	Extension string `toml:"extension"`
}

// Build configures the batch driver.
type Build struct {
	Jobs      int   `toml:"jobs"`
	KeepGoing *bool `toml:"keep-going"`
	Cache     bool  `toml:"cache"`
}

// Load parses a jack.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return m, nil
}

// Parse decodes manifest text and applies defaults. Dir is left empty.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}

	// Defaults
	if len(m.Source.Dirs) == 0 {
		m.Source.Dirs = []string{DefaultSourceDir}
	}
	if m.Output.Extension == "" {
		m.Output.Extension = DefaultExtension
	}
	if !strings.HasPrefix(m.Output.Extension, ".") {
		m.Output.Extension = "." + m.Output.Extension
	}
	if m.Build.Jobs < 0 {
		return nil, fmt.Errorf("build.jobs must not be negative, got %d", m.Build.Jobs)
	}
	if m.Build.Jobs == 0 {
		m.Build.Jobs = runtime.GOMAXPROCS(0)
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find a jack.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// KeepGoing reports whether a batch continues after a failed file. It is
// true unless the manifest turns it off.
func (m *Manifest) KeepGoing() bool {
	return m.Build.KeepGoing == nil || *m.Build.KeepGoing
}

// SourceDirPaths returns absolute paths for the configured source directories.
func (m *Manifest) SourceDirPaths() []string {
	var paths []string
	for _, d := range m.Source.Dirs {
		paths = append(paths, m.resolve(d))
	}
	return paths
}

// OutputDir returns the absolute output directory, or "" when outputs are
// written next to their sources.
func (m *Manifest) OutputDir() string {
	if m.Output.Dir == "" {
		return ""
	}
	return m.resolve(m.Output.Dir)
}

// CachePath returns the path to the build cache file.
func (m *Manifest) CachePath() string {
	return filepath.Join(m.Dir, DefaultCacheFile)
}

func (m *Manifest) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}
