package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func makeTempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "filestorage_test_*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() {
		os.RemoveAll(dir)
	})
	return dir
}

func TestFileStorage_CreateAndExists(t *testing.T) {
	dir := makeTempDir(t)
	fs := NewFileStorage(dir)

	f, err := fs.CreateFile("test.txt")
	if err != nil {
		t.Fatalf("CreateFile error: %v", err)
	}
	f.Close()

	if !fs.FileExists("test.txt") {
		t.Errorf("expected file to exist after creation")
	}
}

func TestFileStorage_WriteAndSize(t *testing.T) {
	dir := makeTempDir(t)
	fs := NewFileStorage(dir)

	data := []byte("hello world")
	if err := fs.WriteFile("data.txt", data); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}

	size, err := fs.GetFileSize("data.txt")
	if err != nil {
		t.Fatalf("GetFileSize error: %v", err)
	}

	if size != int64(len(data)) {
		t.Errorf("expected size %d, got %d", len(data), size)
	}
}

func TestFileStorage_OpenFileAppend(t *testing.T) {
	dir := makeTempDir(t)
	fs := NewFileStorage(dir)

	if err := fs.WriteFile("append.txt", []byte("part1")); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}

	f, err := fs.OpenFile("append.txt", os.O_WRONLY|os.O_APPEND)
	if err != nil {
		t.Fatalf("OpenFile error: %v", err)
	}

	if _, err := f.Write([]byte("part2")); err != nil {
		t.Fatalf("append write error: %v", err)
	}
	f.Close()

	content, err := os.ReadFile(filepath.Join(dir, "append.txt"))
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}

	if string(content) != "part1part2" {
		t.Errorf("expected 'part1part2', got %q", string(content))
	}
}

func TestFileStorage_FileExistsFalse(t *testing.T) {
	dir := makeTempDir(t)
	fs := NewFileStorage(dir)

	if fs.FileExists("no_such_file.txt") {
		t.Errorf("expected FileExists to return false for non-existing file")
	}
}

func TestFileStorage_CreateFileMakesParents(t *testing.T) {
	dir := makeTempDir(t)
	fs := NewFileStorage(dir)

	f, err := fs.CreateFile(filepath.Join("show", "season", "ep.mkv"))
	if err != nil {
		t.Fatalf("CreateFile error: %v", err)
	}
	f.Close()

	if !fs.FileExists("show/season/ep.mkv") {
		t.Errorf("expected nested file to exist")
	}
}

func TestFileStorage_ListAndMergeParts(t *testing.T) {
	dir := makeTempDir(t)
	fs := NewFileStorage(dir)

	// written out of order on purpose
	for i, chunk := range []string{"one-", "two-", "three"} {
		if err := fs.WriteFile(PartName("work", "movie.mkv", 2-i), []byte(chunk)); err != nil {
			t.Fatalf("WriteFile error: %v", err)
		}
	}
	if err := fs.WriteFile(filepath.Join("work", "other.mkv.part000"), []byte("x")); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}

	parts, err := fs.ListParts("work", "movie.mkv")
	if err != nil {
		t.Fatalf("ListParts error: %v", err)
	}
	if len(parts) != 3 {
		t.Fatalf("expected 3 parts, got %d: %v", len(parts), parts)
	}

	dst := filepath.Join(makeTempDir(t), "media", "movie.mkv")
	n, err := fs.MergeFiles(context.Background(), dst, parts)
	if err != nil {
		t.Fatalf("MergeFiles error: %v", err)
	}

	content, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	if string(content) != "threetwo-one-" {
		t.Errorf("unexpected merge result %q", content)
	}
	if n != int64(len(content)) {
		t.Errorf("expected %d merged bytes, got %d", len(content), n)
	}
	if _, err := os.Stat(dst + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("expected temporary merge file to be gone")
	}
}

func TestFileStorage_MergeWithoutParts(t *testing.T) {
	fs := NewFileStorage(makeTempDir(t))

	if _, err := fs.MergeFiles(context.Background(), "out.mkv", nil); err == nil {
		t.Errorf("expected error when merging no parts")
	}
}

func TestFileStorage_ListPartsMissingDirectory(t *testing.T) {
	fs := NewFileStorage(makeTempDir(t))

	parts, err := fs.ListParts("missing", "movie.mkv")
	if err != nil {
		t.Fatalf("ListParts error: %v", err)
	}
	if len(parts) != 0 {
		t.Errorf("expected no parts, got %v", parts)
	}
}

func TestFileStorage_DeleteAllFilesFromDirectory(t *testing.T) {
	dir := makeTempDir(t)
	fs := NewFileStorage(dir)

	if err := fs.WriteFile("job/a/part", []byte("a")); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}
	if err := fs.WriteFile("keep.txt", []byte("k")); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}

	if err := fs.DeleteAllFilesFromDirectory("job"); err != nil {
		t.Fatalf("DeleteAllFilesFromDirectory error: %v", err)
	}
	if fs.FileExists("job") {
		t.Errorf("expected directory to be removed")
	}
	if !fs.FileExists("keep.txt") {
		t.Errorf("expected sibling file to survive")
	}

	if err := fs.DeleteAllFilesFromDirectory("job"); err != nil {
		t.Errorf("deleting a missing directory should succeed, got %v", err)
	}
	if err := fs.DeleteAllFilesFromDirectory(""); err == nil {
		t.Errorf("expected refusal to delete the storage root")
	}
}

func TestFileStorage_RelativeRootIsAbsolute(t *testing.T) {
	base := makeTempDir(t)
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd error: %v", err)
	}
	if err := os.Chdir(base); err != nil {
		t.Fatalf("Chdir error: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	fs := NewFileStorage("./storage/media")

	want := filepath.Join(base, "storage", "media")
	if fs.Dir() != want {
		t.Errorf("expected root %q, got %q", want, fs.Dir())
	}
	if got := fs.Path("a/b.mkv"); got != filepath.Join(want, "a", "b.mkv") {
		t.Errorf("unexpected path %q", got)
	}
	other := NewFileStorage("./storage/downloads")
	if got := other.Path(fs.Path("a/b.mkv")); got != filepath.Join(want, "a", "b.mkv") {
		t.Errorf("resolved path changed in another storage: %q", got)
	}
}
