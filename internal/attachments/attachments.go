// Package attachments manages the year/month receipt file tree that sits
// next to the ledger database. Merge and restore never delete or overwrite
// a local file; they only copy missing ones in and remap paths written by
// another machine.
package attachments

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// treeMarker is the directory name the attachment root carries on every
// installation; donor paths are rebased at this component.
const treeMarker = "attachments"

// EnsureBase creates the attachment root if it is missing.
func EnsureBase(base string) error {
	return os.MkdirAll(base, 0o755)
}

// NameIndex maps file names to their full path anywhere under base. First
// occurrence wins, matching the donor's lookup order closely enough for a
// tree without duplicate names.
func NameIndex(base string) map[string]string {
	index := make(map[string]string)
	filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		name := d.Name()
		if _, taken := index[name]; !taken {
			index[name] = path
		}
		return nil
	})
	return index
}

// MapPath remaps an attachment path written by another machine into the
// local tree. It first rebases the path's tail (after the tree marker)
// under the local root; if that file does not exist it falls back to a
// filename-only match anywhere in the tree. ok is false when neither
// candidate exists; callers keep whatever path they already have.
func MapPath(path, base string, index map[string]string) (string, bool) {
	parts := strings.Split(filepath.ToSlash(path), "/")
	for i, part := range parts {
		if !strings.EqualFold(part, treeMarker) {
			continue
		}
		candidate := filepath.Join(append([]string{base}, parts[i+1:]...)...)
		if fileExists(candidate) {
			return candidate, true
		}
		break
	}

	if name := filepath.Base(filepath.FromSlash(path)); name != "" && name != "." {
		if candidate, found := index[name]; found {
			return candidate, true
		}
	}
	return "", false
}

// CopyTree copies every file under srcBase into dstBase at the same
// relative path, skipping files that already exist locally.
func CopyTree(srcBase, dstBase string) error {
	if _, err := os.Stat(srcBase); os.IsNotExist(err) {
		return nil
	}
	return filepath.WalkDir(srcBase, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(srcBase, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dstBase, rel)
		if fileExists(target) {
			return nil
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
