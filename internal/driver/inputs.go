package driver

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// inputExts are the unit extensions picked up from directories.
var inputExts = []string{".ll", ".bc"}

func isInput(path string) bool {
	if strings.Contains(filepath.Base(path), ".chiabi.") {
		return false
	}
	ext := filepath.Ext(path)
	for _, e := range inputExts {
		if ext == e {
			return true
		}
	}
	return false
}

// CollectInputs expands directories into the units they contain, sorted,
// and keeps explicit files as given. Outputs of earlier runs are skipped
// when walking directories.
func CollectInputs(args []string) ([]string, error) {
	var files []string
	seen := make(map[string]bool)
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			files = append(files, p)
		}
	}
	for _, arg := range args {
		st, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", arg, err)
		}
		if !st.IsDir() {
			add(arg)
			continue
		}
		var found []string
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && isInput(path) {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		sort.Strings(found)
		for _, p := range found {
			add(p)
		}
	}
	return files, nil
}
