package storage

import (
	"errors"
	"io"
	"io/fs"
	"os"
)

// Kind classifies a directory entry.
type Kind int

const (
	KindOther Kind = iota
	KindFile
	KindDirectory
)

// Marker is the one-character listing prefix for the kind.
func (k Kind) Marker() string {
	switch k {
	case KindFile:
		return "F"
	case KindDirectory:
		return "D"
	default:
		return "?"
	}
}

// Entry is one directory entry reported by FS.ListDirectory.
// Path is the listed directory, not the entry itself.
type Entry struct {
	Kind Kind
	Path string
	Name string
}

// Capacity is the filesystem geometry used for free/total space reporting.
type Capacity struct {
	FreeClusters      uint64
	TotalClusters     uint64
	SectorsPerCluster uint64
	SectorSize        uint64
}

func (c Capacity) FreeBytes() uint64 {
	return c.FreeClusters * c.SectorsPerCluster * c.SectorSize
}

func (c Capacity) TotalBytes() uint64 {
	return c.TotalClusters * c.SectorsPerCluster * c.SectorSize
}

// FS is the filesystem collaborator consumed by Session. Paths are slash
// separated and already joined with the storage root.
type FS interface {
	ListDirectory(path string, onEntry func(Entry), onError func(string))
	// EnsurePath creates every missing parent directory of path.
	EnsurePath(path string) error
	Open(path string) (io.ReadCloser, error)
	// Create opens path for writing, truncating existing contents.
	Create(path string) (io.WriteCloser, error)
	Remove(path string) error
	Rename(from, to string) error
	Capacity() (Capacity, error)
}

var ErrCapacityUnsupported = errors.New("storage: capacity query unsupported on this platform")

// errnoText reduces an OS error to its errno description, the way strerror
// would print it.
func errnoText(err error) string {
	if err == nil {
		return ""
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return pathErr.Err.Error()
	}
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		return linkErr.Err.Error()
	}
	return err.Error()
}
