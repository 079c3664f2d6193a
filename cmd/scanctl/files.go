package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"apex-guard/internal/security"
)

var (
	defaultIncludes = []string{"**/*.{js,jsx,ts,tsx,mjs,cjs,py,go,java,kt,rb,php,cs,rs,c,cc,cpp,h,swift,scala,sh}"}
	defaultExcludes = []string{"**/node_modules/**", "**/.git/**", "**/vendor/**", "**/dist/**", "**/*.min.js"}
)

// fileSet selects source files under a set of roots.
type fileSet struct {
	includes []string
	excludes []string
}

func newFileSet(includes, excludes []string) (*fileSet, error) {
	for _, p := range append(append([]string{}, includes...), excludes...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid glob pattern %q", p)
		}
	}
	return &fileSet{includes: includes, excludes: excludes}, nil
}

func (s *fileSet) excluded(rel string) bool {
	for _, p := range s.excludes {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// collect expands roots into sorted, de-duplicated paths. Explicit file
// arguments are taken as-is; directories are walked with the include globs.
func (s *fileSet) collect(roots []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		p = filepath.Clean(p)
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	for _, root := range roots {
		info, err := os.Stat(root)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			add(root)
			continue
		}

		fsys := os.DirFS(root)
		for _, pattern := range s.includes {
			matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
			if err != nil {
				return nil, fmt.Errorf("glob %s in %s: %w", pattern, root, err)
			}
			for _, rel := range matches {
				if s.excluded(rel) {
					continue
				}
				add(filepath.Join(root, filepath.FromSlash(rel)))
			}
		}
	}

	sort.Strings(out)
	return out, nil
}

// readBatch loads files for scanning. Unreadable files are left out of the
// batch and returned in errs.
func readBatch(paths []string) (files []security.BatchFile, errs map[string]error) {
	errs = make(map[string]error)
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			errs[p] = err
			continue
		}
		files = append(files, security.BatchFile{Path: filepath.ToSlash(p), Content: string(data)})
	}
	return files, errs
}
