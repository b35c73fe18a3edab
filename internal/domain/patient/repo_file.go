package patient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

type fileStore struct {
	path string
}

// NewFileStore returns a Store that keeps the collection in a single JSON file.
// A missing file reads as an empty collection.
func NewFileStore(path string) Store {
	return &fileStore{path: path}
}

func (s *fileStore) Load(_ context.Context) (Collection, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Collection{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrStorage, s.path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrStorage, s.path, err)
	}
	return decodeCollection(data)
}

// Save rewrites the whole document through a temp file and rename so a reader
// never sees a partially written file.
func (s *fileStore) Save(_ context.Context, c Collection) error {
	data, err := encodeCollection(c)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp file in %s: %v", ErrStorage, dir, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write %s: %v", ErrStorage, tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", ErrStorage, tmpName, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("%w: replace %s: %v", ErrStorage, s.path, err)
	}
	return nil
}
