package blob

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalFilesystem stores blobs as plain files below a base folder
type LocalFilesystem struct {
	baseFolder string
}

// NewLocalFilesystem returns a new LocalFilesystem rooted at baseFolder.
// The folder gets created if it does not exist yet.
func NewLocalFilesystem(baseFolder string) (*LocalFilesystem, error) {
	if err := os.MkdirAll(baseFolder, 0700); err != nil {
		return nil, err
	}
	return &LocalFilesystem{baseFolder: baseFolder}, nil
}

func (f *LocalFilesystem) path(key string) (string, error) {
	if strings.Contains(key, "..") || strings.ContainsRune(key, os.PathSeparator) {
		return "", fmt.Errorf("invalid key '%s'", key)
	}
	return filepath.Join(f.baseFolder, key), nil
}

// Store writes data under key
func (f *LocalFilesystem) Store(key string, data []byte) error {
	filePath, err := f.path(key)
	if err != nil {
		return err
	}
	return os.WriteFile(filePath, data, 0600)
}

// Open opens the file stored under key
func (f *LocalFilesystem) Open(key string) (io.ReadCloser, error) {
	filePath, err := f.path(key)
	if err != nil {
		return nil, err
	}
	return os.Open(filePath)
}

// Delete deletes the key file
func (f *LocalFilesystem) Delete(key string) error {
	filePath, err := f.path(key)
	if err != nil {
		return err
	}
	return os.Remove(filePath)
}
