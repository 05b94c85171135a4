package ingest

import (
	"fmt"
	"os"
	"path/filepath"

	"pixelmind/internal/fsutil"
)

// ReadFile loads a file from disk as a Blob, declaring its type from the
// extension or, failing that, from its content.
func ReadFile(path string) (Blob, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Blob{}, fmt.Errorf("read %s: %w", path, err)
	}
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	return Blob{
		Name: filepath.Base(path),
		MIME: fsutil.MIMEType(path, head),
		Data: data,
	}, nil
}

// ReadFiles loads several files, stopping at the first read error.
func ReadFiles(paths []string) ([]Blob, error) {
	blobs := make([]Blob, 0, len(paths))
	for _, p := range paths {
		b, err := ReadFile(p)
		if err != nil {
			return nil, err
		}
		blobs = append(blobs, b)
	}
	return blobs, nil
}

// ReadDir loads every image file found under dir in path order.
func ReadDir(dir string) ([]Blob, error) {
	files, err := fsutil.ListImages(dir)
	if err != nil {
		return nil, err
	}
	return ReadFiles(files)
}
