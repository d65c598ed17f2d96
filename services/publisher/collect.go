package publisher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	ignore "github.com/sabhiram/go-gitignore"
)

// IgnoreFileName is an optional gitignore-style file at the project root.
const IgnoreFileName = ".dpcignore"

// IgnoredDirs are never descended into, wherever they appear below the root.
var IgnoredDirs = map[string]struct{}{
	".github":     {},
	".git":        {},
	".idea":       {},
	".vscode":     {},
	"__pycache__": {},
	"venv":        {},
	".venv":       {},
}

// CollectOptions tunes the local scan.
type CollectOptions struct {
	// DisableIgnoreFile skips loading IgnoreFileName.
	DisableIgnoreFile bool
}

// Collect walks root and returns one FileResource per file. A symlinked root
// is followed, as are symlinks to regular files; symlinked directories are not
// descended into. Names and paths stay relative to root as given.
func Collect(ctx context.Context, root string, opts CollectOptions) ([]*FileResource, error) {
	if root == "" {
		root = "."
	}
	walkRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, fmt.Errorf("resolve project path: %w", err)
	}
	info, err := os.Stat(walkRoot)
	if err != nil {
		return nil, fmt.Errorf("stat project path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project path %q is not a directory", root)
	}

	var matcher *ignore.GitIgnore
	if !opts.DisableIgnoreFile {
		matcher, err = loadIgnoreFile(root)
		if err != nil {
			return nil, err
		}
	}

	var resources []*FileResource
	err = filepath.WalkDir(walkRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if path == walkRoot {
			return nil
		}

		rel, err := filepath.Rel(walkRoot, path)
		if err != nil {
			return fmt.Errorf("relative path for %q: %w", path, err)
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if _, skip := IgnoredDirs[d.Name()]; skip {
				return filepath.SkipDir
			}
			if matcher != nil && matcher.MatchesPath(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			target, err := os.Stat(path)
			if err != nil {
				return fmt.Errorf("follow symlink %q: %w", rel, err)
			}
			if !target.Mode().IsRegular() {
				return nil
			}
		} else if !d.Type().IsRegular() {
			return nil
		}
		if matcher != nil && matcher.MatchesPath(rel) {
			return nil
		}

		resources = append(resources, &FileResource{Name: rel, Path: filepath.Join(root, filepath.FromSlash(rel))})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resources, nil
}

func loadIgnoreFile(root string) (*ignore.GitIgnore, error) {
	path := filepath.Join(root, IgnoreFileName)
	matcher, err := ignore.CompileIgnoreFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", IgnoreFileName, err)
	}
	return matcher, nil
}
