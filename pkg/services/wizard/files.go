package wizard

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"mytonstorage-dashboard/pkg/models"
)

// CollectFiles expands paths into regular files. A directory contributes everything below it, named
// relative to its parent so the directory itself ends up in the bag.
func CollectFiles(paths []string, limits Limits) ([]models.FileInfo, error) {
	var files []models.FileInfo
	seen := map[string]struct{}{}

	add := func(path, name string, size int64) error {
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		if _, ok := seen[abs]; ok {
			return nil
		}
		seen[abs] = struct{}{}

		files = append(files, models.FileInfo{
			Name: filepath.ToSlash(name),
			Path: abs,
			Size: uint64(size),
		})

		// stop walking huge trees early, the final check happens below
		if limits.MaxFiles > 0 && len(files) > limits.MaxFiles {
			return models.ErrTooManyFiles
		}

		return nil
	}

	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}

		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %q: %w", p, err)
		}

		if !info.IsDir() {
			if err := add(p, info.Name(), info.Size()); err != nil {
				return nil, err
			}
			continue
		}

		root := filepath.Dir(filepath.Clean(p))
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.Type().IsRegular() {
				return nil
			}

			fi, err := d.Info()
			if err != nil {
				return err
			}

			name, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}

			return add(path, name, fi.Size())
		})
		if err != nil {
			return nil, err
		}
	}

	if err := limits.Files(files); err != nil {
		return nil, err
	}

	slices.SortFunc(files, func(a, b models.FileInfo) int {
		return strings.Compare(a.Name, b.Name)
	})

	return files, nil
}
