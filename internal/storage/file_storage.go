package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// partSuffix separates a file name from the index of one downloaded part.
const partSuffix = ".part"

// FileStorage provides methods to manage files below a root directory.
// Relative names resolve against the root; absolute names are used as given.
type FileStorage struct {
	dir string
}

// NewFileStorage creates a new FileStorage instance with the given directory.
// A relative directory is made absolute against the working directory, so paths
// returned by Path can be handed to another FileStorage unchanged.
func NewFileStorage(dir string) *FileStorage {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = filepath.Clean(dir)
	}
	return &FileStorage{dir: abs}
}

// Dir returns the root directory.
func (s *FileStorage) Dir() string {
	return s.dir
}

// Path resolves name against the root directory.
func (s *FileStorage) Path(name string) string {
	if filepath.IsAbs(name) {
		return filepath.Clean(name)
	}
	return filepath.Join(s.dir, name)
}

// CreateFile creates a new file, and any missing parent directories, in the storage directory.
func (s *FileStorage) CreateFile(filename string) (*os.File, error) {
	path := s.Path(filename)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	return os.Create(path)
}

// OpenFile opens an existing file with the specified flags (e.g., read, write).
func (s *FileStorage) OpenFile(filename string, flags int) (*os.File, error) {
	return os.OpenFile(s.Path(filename), flags, 0644)
}

// FileExists checks whether a file exists in the storage directory.
func (s *FileStorage) FileExists(filename string) bool {
	_, err := os.Stat(s.Path(filename))
	return err == nil
}

// GetFileSize returns the size of the file in bytes.
func (s *FileStorage) GetFileSize(filename string) (int64, error) {
	info, err := os.Stat(s.Path(filename))
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// WriteFile writes the given data to a file with the specified filename.
func (s *FileStorage) WriteFile(filename string, data []byte) error {
	path := s.Path(filename)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// PartName returns the name of part index of fileName inside dir.
func PartName(dir, fileName string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("%s%s%03d", fileName, partSuffix, index))
}

// ListParts returns the downloaded parts of fileName inside dir in part order.
func (s *FileStorage) ListParts(dir, fileName string) ([]string, error) {
	entries, err := os.ReadDir(s.Path(dir))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}

	prefix := fileName + partSuffix
	var parts []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		parts = append(parts, filepath.Join(dir, e.Name()))
	}
	sort.Strings(parts)
	return parts, nil
}

// MergeFiles concatenates parts in order into dst. The result is written to a
// temporary file first, so dst either holds the full merge or is left untouched.
func (s *FileStorage) MergeFiles(ctx context.Context, dst string, parts []string) (int64, error) {
	if len(parts) == 0 {
		return 0, fmt.Errorf("merge %s: no parts", dst)
	}

	dstPath := s.Path(dst)
	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return 0, fmt.Errorf("create destination directory: %w", err)
	}

	tmpPath := dstPath + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("create merge file: %w", err)
	}

	var total int64
	for _, part := range parts {
		if err := ctx.Err(); err != nil {
			out.Close()
			os.Remove(tmpPath)
			return total, err
		}
		n, err := appendFile(out, s.Path(part))
		total += n
		if err != nil {
			out.Close()
			os.Remove(tmpPath)
			return total, fmt.Errorf("append %s: %w", part, err)
		}
	}

	if err := out.Close(); err != nil {
		os.Remove(tmpPath)
		return total, fmt.Errorf("close merge file: %w", err)
	}
	if err := os.Rename(tmpPath, dstPath); err != nil {
		os.Remove(tmpPath)
		return total, fmt.Errorf("rename merge file: %w", err)
	}
	return total, nil
}

func appendFile(dst *os.File, path string) (int64, error) {
	src, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer src.Close()
	return io.Copy(dst, src)
}

// RemoveFiles deletes the given files, ignoring ones already gone.
func (s *FileStorage) RemoveFiles(names []string) error {
	for _, name := range names {
		if err := os.Remove(s.Path(name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", name, err)
		}
	}
	return nil
}

// DeleteAllFilesFromDirectory removes dir and everything below it. A missing
// directory is not an error. The storage root itself is never removed.
func (s *FileStorage) DeleteAllFilesFromDirectory(dir string) error {
	path := s.Path(dir)
	if path == s.dir || path == string(filepath.Separator) || strings.TrimSpace(dir) == "" {
		return fmt.Errorf("refusing to delete storage root %q", path)
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("delete directory %s: %w", dir, err)
	}
	return nil
}
