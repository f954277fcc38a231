package storage

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

const readDirBatch = 32

// OSFS implements FS on the host filesystem. Root is only used for the
// capacity query; operation paths are absolute.
type OSFS struct {
	Root string
}

func NewOSFS(root string) OSFS {
	return OSFS{Root: root}
}

// ListDirectory reports entries in the order the OS enumerates them.
func (o OSFS) ListDirectory(path string, onEntry func(Entry), onError func(string)) {
	dir, err := os.Open(filepath.FromSlash(path))
	if err != nil {
		onError(errnoText(err))
		return
	}
	defer dir.Close()

	for {
		entries, err := dir.ReadDir(readDirBatch)
		for _, d := range entries {
			onEntry(Entry{Kind: kindOf(d.Type()), Path: path, Name: d.Name()})
		}
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			onError(errnoText(err))
			return
		}
	}
}

func (o OSFS) EnsurePath(path string) error {
	return os.MkdirAll(filepath.Dir(filepath.FromSlash(path)), 0o755)
}

func (o OSFS) Open(path string) (io.ReadCloser, error) {
	return os.Open(filepath.FromSlash(path))
}

func (o OSFS) Create(path string) (io.WriteCloser, error) {
	return os.OpenFile(filepath.FromSlash(path), os.O_TRUNC|os.O_WRONLY|os.O_CREATE, 0o644)
}

func (o OSFS) Remove(path string) error {
	return os.Remove(filepath.FromSlash(path))
}

func (o OSFS) Rename(from, to string) error {
	return os.Rename(filepath.FromSlash(from), filepath.FromSlash(to))
}

func (o OSFS) Capacity() (Capacity, error) {
	return statCapacity(filepath.FromSlash(o.Root))
}

func kindOf(mode fs.FileMode) Kind {
	switch {
	case mode.IsDir():
		return KindDirectory
	case mode.IsRegular():
		return KindFile
	default:
		return KindOther
	}
}
