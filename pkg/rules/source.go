package rules

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/getmockd/mockproxy/internal/document"
)

// LoadFunc reads and parses a rule list.
type LoadFunc func() (*RuleSet, error)

// IsGlob reports whether a rule path is a glob pattern rather than a single file.
func IsGlob(path string) bool {
	return strings.ContainsAny(path, "*?[{")
}

// FileSource returns a LoadFunc reading rules from a file. If path is a glob
// (e.g. "rules.d/*.json" or "rules/**/*.yaml") every matching file is read in
// lexical order and the lists are concatenated, so file order then in-file
// order decides precedence.
func FileSource(path string) LoadFunc {
	return func() (*RuleSet, error) {
		if !IsGlob(path) {
			list, err := readRuleFile(path)
			if err != nil {
				return nil, err
			}
			return compileList(list, path)
		}

		files, err := doublestar.FilepathGlob(path, doublestar.WithFilesOnly())
		if err != nil {
			return nil, &ConfigLoadError{Source: path, Err: fmt.Errorf("%w: bad pattern: %v", ErrUnreadable, err)}
		}
		if len(files) == 0 {
			return nil, &ConfigLoadError{Source: path, Err: fmt.Errorf("%w: no files match", ErrNotFound)}
		}
		sort.Strings(files)

		var all []Rule
		for _, file := range files {
			list, err := readRuleFile(file)
			if err != nil {
				return nil, err
			}
			all = append(all, list...)
		}
		return compileList(all, path)
	}
}

func compileList(list []Rule, source string) (*RuleSet, error) {
	set, errs := compile(list, source)
	if len(errs) > 0 {
		return nil, &ConfigLoadError{Source: source, Err: errs}
	}
	return set, nil
}

// readRuleFile reads one rule file and decodes its records.
func readRuleFile(path string) ([]Rule, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &ConfigLoadError{Source: path, Err: ErrNotFound}
		}
		return nil, &ConfigLoadError{Source: path, Err: fmt.Errorf("%w: %v", ErrUnreadable, err)}
	}
	if info.IsDir() {
		return nil, &ConfigLoadError{Source: path, Err: fmt.Errorf("%w: is a directory", ErrUnreadable)}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigLoadError{Source: path, Err: fmt.Errorf("%w: %v", ErrUnreadable, err)}
	}

	list, err := decodeRules(data, document.FormatFromPath(path))
	if err != nil {
		return nil, &ConfigLoadError{Source: path, Err: err}
	}
	for i := range list {
		list[i].Source = path
	}
	return list, nil
}

// BaseDir returns the directory relative mock paths should resolve against for
// a rule path: the file's directory, or the static prefix of a glob.
func BaseDir(path string) string {
	if IsGlob(path) {
		base, _ := doublestar.SplitPattern(filepath.ToSlash(path))
		return filepath.FromSlash(base)
	}
	return filepath.Dir(path)
}
