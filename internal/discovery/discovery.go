// Package discovery finds the notebooks that are test documents.
//
// A file is a test document when its path matches the test pattern and it
// parses as a notebook with at least one code cell.
package discovery

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/nbcheck/internal/notebook"
)

// DefaultPattern selects notebooks with "test" or "Test" in their path.
const DefaultPattern = `.*[Tt]est.*\.ipynb$`

// EnvPattern is the environment variable that overrides DefaultPattern.
const EnvPattern = "NBCHECK_TESTMATCH"

// PatternFromEnv returns $NBCHECK_TESTMATCH, or DefaultPattern when unset.
func PatternFromEnv() string {
	if p, ok := os.LookupEnv(EnvPattern); ok && p != "" {
		return p
	}
	return DefaultPattern
}

// Matcher decides which files are test documents.
//
// Thread-safety: Matcher is safe for concurrent use.
type Matcher struct {
	pattern string
	re      *regexp.Regexp
	logger  *slog.Logger
}

// NewMatcher compiles pattern; an empty pattern means DefaultPattern. The
// pattern must match from the start of the path. A nil logger discards
// output.
func NewMatcher(pattern string, logger *slog.Logger) (*Matcher, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	re, err := regexp.Compile(`^(?:` + pattern + `)`)
	if err != nil {
		return nil, fmt.Errorf("invalid test pattern %q: %w", pattern, err)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Matcher{pattern: pattern, re: re, logger: logger}, nil
}

// Pattern returns the pattern as given (or the default).
func (m *Matcher) Pattern() string {
	return m.pattern
}

// Match reports whether path matches the test pattern. The file is not read.
func (m *Matcher) Match(path string) bool {
	return m.re.MatchString(path)
}

// WantFile reports whether path is a test document: it matches the pattern
// and parses as a notebook with at least one code cell. Files that fail to
// parse are logged and not wanted.
func (m *Matcher) WantFile(path string) bool {
	m.logger.Debug("considering", "path", path)

	if !m.Match(path) {
		return false
	}

	doc, err := notebook.Load(path)
	if err != nil {
		m.logger.Info("could not be parsed as a notebook", "path", path, "error", err)
		return false
	}
	if !notebook.HasCodeCells(doc) {
		m.logger.Info("no code cells", "path", path)
		return false
	}
	return true
}

// Discover walks roots and returns the test documents below them, sorted.
//
// A root may be a file or a directory. Directories whose name starts with
// "." (such as .ipynb_checkpoints and .git) are not entered. Candidates are
// checked concurrently; the result order does not depend on timing.
func (m *Matcher) Discover(ctx context.Context, roots ...string) ([]string, error) {
	candidates, err := m.candidates(roots)
	if err != nil {
		return nil, err
	}

	wanted := make([]bool, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, path := range candidates {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			wanted[i] = m.WantFile(path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var files []string
	for i, path := range candidates {
		if wanted[i] {
			files = append(files, path)
		}
	}
	slices.Sort(files)
	return files, nil
}

// candidates lists the files under roots whose path matches the pattern,
// without duplicates.
func (m *Matcher) candidates(roots []string) ([]string, error) {
	seen := map[string]bool{}
	var files []string
	add := func(path string) {
		if m.Match(path) && !seen[path] {
			seen[path] = true
			files = append(files, path)
		}
	}

	for _, root := range roots {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("discovering notebooks: %w", err)
		}
		if !info.IsDir() {
			add(root)
			continue
		}

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != root && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			add(path)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("discovering notebooks in %s: %w", root, err)
		}
	}
	return files, nil
}
