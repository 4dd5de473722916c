package job

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/h2oai/h2o-3-sub001/internal/model"
)

// Classification is what a test file name says about the test.
type Classification struct {
	Kind model.Kind
	Lang model.Lang
	Size model.Size
	Tags []model.Tag
}

// Has reports whether the classification carries tag.
func (c Classification) Has(tag model.Tag) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Tolerable reports whether a failure of this test is tolerated in the
// aggregate result.
func (c Classification) Tolerable() bool {
	return c.Has(model.TagNoPass) || c.Has(model.TagNoFeature)
}

var allTags = []model.Tag{model.TagNoPass, model.TagNoFeature, model.TagInternal}

// Classify maps a test file path to its classification using the naming
// conventions of the test tree. It returns false for files that are not tests.
func Classify(path string) (Classification, bool) {
	base := filepath.Base(path)

	var c Classification
	switch ext := filepath.Ext(base); ext {
	case ".R":
		c.Lang = model.LangR
		switch {
		case strings.HasPrefix(base, "runit_"):
			c.Kind = model.KindUnit
		case strings.HasPrefix(base, "rdemo."):
			c.Kind = model.KindDemo
		case strings.HasPrefix(base, "rbooklet."):
			c.Kind = model.KindBooklet
		default:
			return Classification{}, false
		}
	case ".py":
		c.Lang = model.LangPython
		switch {
		case strings.HasPrefix(base, "pyunit_"):
			c.Kind = model.KindUnit
		case strings.HasPrefix(base, "pydemo_"):
			c.Kind = model.KindDemo
		case strings.HasPrefix(base, "pybooklet."):
			c.Kind = model.KindBooklet
		default:
			return Classification{}, false
		}
	case ".ipynb":
		c.Lang = model.LangPython
		c.Kind = model.KindNotebook
	case ".js":
		if !strings.HasPrefix(base, "test") && !strings.Contains(base, "_jstest") {
			return Classification{}, false
		}
		c.Lang = model.LangJS
		c.Kind = model.KindBrowserTest
	default:
		return Classification{}, false
	}

	c.Size = sizeOf(base)
	for _, tag := range allTags {
		if strings.Contains(base, string(tag)) {
			c.Tags = append(c.Tags, tag)
		}
	}
	return c, true
}

// sizeOf checks xlarge before large since one contains the other.
func sizeOf(base string) model.Size {
	lower := strings.ToLower(base)
	switch {
	case strings.Contains(lower, "xlarge"):
		return model.SizeXLarge
	case strings.Contains(lower, "large"):
		return model.SizeLarge
	case strings.Contains(lower, "medium"):
		return model.SizeMedium
	default:
		return model.SizeSmall
	}
}

// Slug turns a path into a file-name-safe token: every rune outside
// [A-Za-z0-9.-] becomes an underscore. When that replaces anything, a short
// hash of the original path is inserted before the extension so that paths
// differing only in replaced runes (a/b_c.py, a_b/c.py) stay distinct.
func Slug(path string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			return r
		default:
			return '_'
		}
	}, path)
	if safe == path {
		return safe
	}
	ext := filepath.Ext(safe)
	return fmt.Sprintf("%s-%08x%s", strings.TrimSuffix(safe, ext), uint32(xxhash.Sum64String(path)), ext)
}
