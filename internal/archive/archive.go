// Package archive packs the ledger database and the attachment tree into a
// zip bundle and unpacks such bundles again. The database file sits at the
// bundle root as db.sqlite; attachments mirror their year/month layout
// under attachments/.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	dbEntryName    = "db.sqlite"
	attachmentsDir = "attachments"
)

// Create writes a bundle of the database file and, optionally, every file
// under attachmentsBase to outputPath.
func Create(dbPath, attachmentsBase string, includeAttachments bool, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)

	if err := addFile(zw, dbPath, dbEntryName); err != nil {
		zw.Close()
		return err
	}

	if includeAttachments {
		if _, statErr := os.Stat(attachmentsBase); statErr == nil {
			err := filepath.WalkDir(attachmentsBase, func(path string, d fs.DirEntry, walkErr error) error {
				if walkErr != nil || d.IsDir() {
					return walkErr
				}
				rel, relErr := filepath.Rel(attachmentsBase, path)
				if relErr != nil {
					return relErr
				}
				entry := filepath.ToSlash(filepath.Join(attachmentsDir, rel))
				return addFile(zw, path, entry)
			})
			if err != nil {
				zw.Close()
				return err
			}
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize archive: %w", err)
	}
	return nil
}

// Extract unpacks a bundle into destDir: the database ends up at
// destDir/db.sqlite, attachments under destDir/attachments. Entries that
// would escape destDir are rejected.
func Extract(archivePath, destDir string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer zr.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}

	for _, f := range zr.File {
		target := filepath.Join(destDir, filepath.FromSlash(f.Name))
		if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry %q escapes extraction directory", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := extractFile(f, target); err != nil {
			return err
		}
	}
	return nil
}

// Restore applies a bundle to the live locations: the current database is
// kept as a .bak copy before being replaced, and attachment files are
// copied in without deleting anything already present.
func Restore(archivePath, dbPath, attachmentsBase string) error {
	scratch, err := os.MkdirTemp("", "tillbook-restore-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(scratch)

	if err := Extract(archivePath, scratch); err != nil {
		return err
	}

	restoredDB := filepath.Join(scratch, dbEntryName)
	if _, err := os.Stat(restoredDB); err == nil {
		if _, err := os.Stat(dbPath); err == nil {
			bak := strings.TrimSuffix(dbPath, filepath.Ext(dbPath)) + ".bak"
			if err := copyFile(dbPath, bak); err != nil {
				return fmt.Errorf("back up current database: %w", err)
			}
		}
		if err := copyFile(restoredDB, dbPath); err != nil {
			return fmt.Errorf("replace database: %w", err)
		}
	}

	restoredAttachments := filepath.Join(scratch, attachmentsDir)
	if _, err := os.Stat(restoredAttachments); err == nil {
		if err := os.MkdirAll(attachmentsBase, 0o755); err != nil {
			return err
		}
		err := filepath.WalkDir(restoredAttachments, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil || d.IsDir() {
				return walkErr
			}
			rel, relErr := filepath.Rel(restoredAttachments, path)
			if relErr != nil {
				return relErr
			}
			target := filepath.Join(attachmentsBase, rel)
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			return copyFile(path, target)
		})
		if err != nil {
			return fmt.Errorf("restore attachments: %w", err)
		}
	}

	return nil
}

// ExtractToScratch unpacks a bundle into a fresh temp directory and returns
// the scratch database and attachment locations. The caller owns cleanup.
func ExtractToScratch(archivePath, prefix string) (scratchDir, dbPath, attachmentsPath string, err error) {
	scratchDir, err = os.MkdirTemp("", prefix)
	if err != nil {
		return "", "", "", err
	}
	if err = Extract(archivePath, scratchDir); err != nil {
		os.RemoveAll(scratchDir)
		return "", "", "", err
	}
	return scratchDir, filepath.Join(scratchDir, dbEntryName), filepath.Join(scratchDir, attachmentsDir), nil
}

func addFile(zw *zip.Writer, path, entryName string) error {
	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer in.Close()

	w, err := zw.Create(entryName)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, in); err != nil {
		return fmt.Errorf("archive %s: %w", entryName, err)
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	in, err := f.Open()
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
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
