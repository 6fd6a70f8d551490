package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/c360studio/proconnect/registration"
)

// expandPaths resolves each argument to files. Plain paths must exist; glob
// patterns (with ** support) must match at least one regular file. Results keep
// argument order, matches of one pattern are sorted, and duplicates are dropped.
func expandPaths(args []string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	add := func(p string) {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		if !seen[abs] {
			seen[abs] = true
			out = append(out, p)
		}
	}

	for _, arg := range args {
		if arg == "" {
			continue
		}
		if !containsGlob(arg) {
			info, err := os.Stat(arg)
			if err != nil {
				return nil, fmt.Errorf("attachment %s: %w", arg, err)
			}
			if info.IsDir() {
				return nil, fmt.Errorf("attachment %s is a directory", arg)
			}
			add(arg)
			continue
		}

		matches, err := doublestar.FilepathGlob(arg)
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", arg, err)
		}
		slices.Sort(matches)
		n := 0
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil || info.IsDir() {
				continue
			}
			add(m)
			n++
		}
		if n == 0 {
			return nil, fmt.Errorf("no files match pattern: %s", arg)
		}
	}
	return out, nil
}

// containsGlob checks if a pattern contains glob characters.
func containsGlob(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}

// loadAttachments expands args and sniffs every resulting file.
func loadAttachments(args []string) ([]*registration.Attachment, error) {
	paths, err := expandPaths(args)
	if err != nil {
		return nil, err
	}
	files := make([]*registration.Attachment, 0, len(paths))
	for _, p := range paths {
		a, err := registration.LoadAttachment(p)
		if err != nil {
			return nil, err
		}
		files = append(files, a)
	}
	return files, nil
}

// loadAttachment loads one optional file; an empty path yields nil.
func loadAttachment(path string) (*registration.Attachment, error) {
	if path == "" {
		return nil, nil
	}
	return registration.LoadAttachment(path)
}
