package wrap

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const backupSuffix = ".bkp"

// FileExists reports whether the named file exists.
func FileExists(filename string) bool {
	if _, err := os.Stat(filename); err != nil {
		return !os.IsNotExist(err)
	}
	return true
}

// fileWithinDir returns true if the provided filePath is within the given directory.
func fileWithinDir(filePath, dirPath string) (bool, error) {
	absFile, err := filepath.Abs(filePath)
	if err != nil {
		return false, err
	}
	absDir, err := filepath.Abs(dirPath)
	if err != nil {
		return false, err
	}

	rel, err := filepath.Rel(filepath.Clean(absDir), filepath.Clean(absFile))
	if err != nil {
		return false, err
	}
	rel = filepath.ToSlash(rel)
	return rel != ".." && !strings.HasPrefix(rel, "../"), nil
}

// CopyFile copies the contents of src to dst, keeping the permission bits of src.
func CopyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

// writeFileReplace writes data next to path and renames it into place so readers never observe a partial module.
func writeFileReplace(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		_ = os.Remove(tmpName)
		return err
	} else if err := os.Chmod(tmpName, perm); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// backupFile copies path to path.bkp unless a backup already exists. An existing backup holds the original module
// from the first in place run, so it is never overwritten by a rewritten one.
func backupFile(path string) (string, error) {
	backup := path + backupSuffix
	if FileExists(backup) {
		return backup, nil
	} else if err := CopyFile(path, backup); err != nil {
		return "", fmt.Errorf("backup %s: %w", path, err)
	}
	return backup, nil
}

// findPages walks pagesDir and returns every page module, sorted.
func findPages(pagesDir string, extensions []string) ([]string, error) {
	var pages []string
	err := filepath.WalkDir(pagesDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		} else if d.IsDir() {
			if skipPageDir(pagesDir, path) {
				return filepath.SkipDir
			}
			return nil
		} else if isPageFile(path, extensions) {
			pages = append(pages, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(pages)
	return pages, nil
}

// skipPageDir reports directories under pagesDir that hold no pages. The top level api directory holds route
// handlers rather than pages.
func skipPageDir(pagesDir, dir string) bool {
	if dir == pagesDir {
		return false
	}
	name := filepath.Base(dir)
	return strings.HasPrefix(name, ".") || name == "node_modules" || (name == "api" && filepath.Dir(dir) == pagesDir)
}

// isPageFile reports if path names a page module. Hidden files and type declaration files are never pages.
func isPageFile(path string, extensions []string) bool {
	name := filepath.Base(path)
	ext := filepath.Ext(name)
	if strings.HasPrefix(name, ".") || strings.HasSuffix(strings.TrimSuffix(name, ext), ".d") {
		return false
	}
	return slices.Contains(extensions, ext)
}
