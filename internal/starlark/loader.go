package starlark

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"go.starlark.net/starlark"

	"github.com/leapstack-labs/leapsim/internal/registry"
	"github.com/leapstack-labs/leapsim/pkg/process"
)

// collectorKey is the thread-local slot holding the definitions of the
// file being executed.
const collectorKey = "leapsim.collector"

type collector struct {
	defs []*process.Definition
}

// Loader scans a directory for .star files and loads the processes they
// define.
type Loader struct {
	dir    string
	logger *slog.Logger
	pool   *ThreadPool
}

// NewLoader creates a new process loader for the specified directory.
func NewLoader(dir string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	l := &Loader{dir: dir, logger: logger}
	l.pool = NewThreadPool(0, func(thread *starlark.Thread, msg string) {
		l.logger.Debug(msg, "thread", thread.Name)
	})
	return l
}

// Dir returns the directory scanned by Load.
func (l *Loader) Dir() string { return l.dir }

// LoadedFile holds the processes defined by one .star file.
type LoadedFile struct {
	// Path is the path of the .star file
	Path string

	// Definitions in the order process() was called
	Definitions []*process.Definition
}

// Load scans the processes directory and loads all .star files in
// lexical order. A missing directory yields no files.
func (l *Loader) Load() ([]*LoadedFile, error) {
	info, err := os.Stat(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to access processes directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("processes path is not a directory: %s", l.dir)
	}

	files, err := filepath.Glob(filepath.Join(l.dir, "*.star"))
	if err != nil {
		return nil, fmt.Errorf("failed to scan processes directory: %w", err)
	}

	var loaded []*LoadedFile
	for _, file := range files {
		lf, err := l.LoadFile(file)
		if err != nil {
			return nil, err
		}
		loaded = append(loaded, lf)
	}
	return loaded, nil
}

// LoadFile executes a single .star file and returns the processes it
// defines.
func (l *Loader) LoadFile(path string) (*LoadedFile, error) {
	content, err := os.ReadFile(path) //nolint:gosec // G304: path is a .star file from the processes directory
	if err != nil {
		return nil, &LoadError{File: path, Message: fmt.Sprintf("failed to read file: %v", err)}
	}

	c := &collector{}
	thread := &starlark.Thread{
		Name: "load:" + filepath.Base(path),
		Print: func(_ *starlark.Thread, msg string) {
			l.logger.Debug(msg, "file", path)
		},
	}
	thread.SetLocal(collectorKey, c)

	if _, err := starlark.ExecFile(thread, path, content, l.Predeclared()); err != nil { //nolint:staticcheck // SA1019: will migrate to ExecFileOptions later
		return nil, &LoadError{File: path, Message: fmt.Sprintf("Starlark execution error: %v", err)}
	}

	seen := make(map[string]bool, len(c.defs))
	for _, def := range c.defs {
		if seen[def.Name()] {
			return nil, &LoadError{File: path, Message: fmt.Sprintf("process %q is defined twice", def.Name())}
		}
		seen[def.Name()] = true
	}

	l.logger.Debug("loaded process file", "file", path, "processes", len(c.defs))
	return &LoadedFile{Path: path, Definitions: c.defs}, nil
}

// LoadInto loads the directory and registers every process with reg,
// keyed by its file. Definitions previously registered from a file are
// replaced and those of files that no longer exist are dropped. It
// returns the number of processes registered.
func (l *Loader) LoadInto(reg *registry.Registry) (int, error) {
	files, err := l.Load()
	if err != nil {
		return 0, err
	}

	present := make(map[string]bool, len(files))
	for _, f := range files {
		present[f.Path] = true
	}
	for _, source := range reg.Sources() {
		if filepath.Dir(source) == filepath.Clean(l.dir) && !present[source] {
			l.logger.Debug("dropping processes of removed file", "file", source)
			reg.RemoveSource(source)
		}
	}

	count := 0
	for _, f := range files {
		reg.RemoveSource(f.Path)
		for _, def := range f.Definitions {
			if err := reg.Register(def, f.Path); err != nil {
				return count, &LoadError{File: f.Path, Message: err.Error()}
			}
			count++
		}
	}
	return count, nil
}

// LoadError represents an error loading a process file.
type LoadError struct {
	File    string
	Message string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("processes/%s: %s", filepath.Base(e.File), e.Message)
}
