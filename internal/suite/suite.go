// Package suite builds the ordered list of tests for a run, either by walking a
// test tree or from an explicit list file.
package suite

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mattn/go-zglob"

	"github.com/h2oai/h2o-3-sub001/internal/job"
	"github.com/h2oai/h2o-3-sub001/internal/model"
)

// FailedListName is the re-run list written into the results directory.
const FailedListName = "failed.txt"

// Options selects which tests a run executes.
type Options struct {
	// Root is the test tree to walk. List entries are resolved against it.
	Root string

	// TestList, when set, replaces the walk. Entries keep their file order
	// and bypass the size and tag filters.
	TestList string

	// ExcludeList names tests to drop, by path or base name.
	ExcludeList string

	// Sizes keeps only tests of these sizes. Empty keeps all.
	Sizes []model.Size

	// OnlyNoPass keeps only NOPASS tests.
	OnlyNoPass bool

	// NoInternal drops INTERNAL tests.
	NoInternal bool
}

// Test is one discovered test and its classification.
type Test struct {
	Path  string
	Class job.Classification
}

// Discover returns the tests to run in dispatch order.
func Discover(opts Options) ([]Test, error) {
	var (
		tests []Test
		err   error
	)
	if opts.TestList != "" {
		tests, err = fromList(opts)
	} else {
		tests, err = walk(opts)
	}
	if err != nil {
		return nil, err
	}

	if opts.ExcludeList == "" {
		return tests, nil
	}
	excluded, err := ReadList(opts.ExcludeList)
	if err != nil {
		return nil, fmt.Errorf("exclude list: %w", err)
	}
	return exclude(tests, excluded, opts.Root), nil
}

// walk finds every classifiable file under Root, sorted by path.
func walk(opts Options) ([]Test, error) {
	root := opts.Root
	if root == "" {
		root = "."
	}
	if _, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("test root: %w", err)
	}

	paths, err := zglob.Glob(filepath.Join(root, "**", "*"))
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(paths)

	var tests []Test
	for _, path := range paths {
		class, ok := job.Classify(path)
		if !ok || !opts.keep(class) {
			continue
		}
		if fi, err := os.Stat(path); err != nil || fi.IsDir() {
			continue
		}
		tests = append(tests, Test{Path: path, Class: class})
	}
	return tests, nil
}

func (o Options) keep(c job.Classification) bool {
	if len(o.Sizes) > 0 {
		found := false
		for _, s := range o.Sizes {
			if s == c.Size {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if o.OnlyNoPass && !c.Has(model.TagNoPass) {
		return false
	}
	if o.NoInternal && c.Has(model.TagInternal) {
		return false
	}
	return true
}

func fromList(opts Options) ([]Test, error) {
	entries, err := ReadList(opts.TestList)
	if err != nil {
		return nil, fmt.Errorf("test list: %w", err)
	}

	tests := make([]Test, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for _, entry := range entries {
		path := resolve(entry, opts.Root)
		if seen[path] {
			continue
		}
		seen[path] = true

		class, ok := job.Classify(path)
		if !ok {
			return nil, fmt.Errorf("test list %s: %s is not a recognised test", opts.TestList, entry)
		}
		tests = append(tests, Test{Path: path, Class: class})
	}
	return tests, nil
}

// resolve keeps absolute and already-reachable entries as given; anything else
// is taken relative to root.
func resolve(entry, root string) string {
	if filepath.IsAbs(entry) || root == "" {
		return entry
	}
	if _, err := os.Stat(entry); err == nil {
		return entry
	}
	return filepath.Join(root, entry)
}

func exclude(tests []Test, excluded []string, root string) []Test {
	drop := make(map[string]bool, 2*len(excluded))
	for _, e := range excluded {
		drop[filepath.Clean(e)] = true
		drop[filepath.Clean(resolve(e, root))] = true
	}

	kept := tests[:0]
	for _, t := range tests {
		if drop[filepath.Clean(t.Path)] || drop[filepath.Base(t.Path)] {
			continue
		}
		kept = append(kept, t)
	}
	return kept
}

// ReadList reads one entry per line, skipping blank lines and # comments.
func ReadList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entries = append(entries, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return entries, nil
}

// ParseSizes parses a comma separated size filter such as "s,m,xl".
func ParseSizes(s string) ([]model.Size, error) {
	var sizes []model.Size
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		size, ok := model.ParseSize(part)
		if !ok {
			return nil, fmt.Errorf("unknown test size %q", part)
		}
		sizes = append(sizes, size)
	}
	return sizes, nil
}
