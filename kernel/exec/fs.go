package exec

import (
	"kcore/kernel"
	"strings"
)

var (
	// ErrNotFound is returned when a path component does not exist.
	ErrNotFound = &kernel.Error{Module: "exec", Message: "no such file or directory"}

	// ErrNotDir is returned when a non-final path component is not a
	// directory.
	ErrNotDir = &kernel.Error{Module: "exec", Message: "not a directory"}

	// ErrNotRegular is returned when the final path component is not a
	// regular file.
	ErrNotRegular = &kernel.Error{Module: "exec", Message: "not a regular file"}

	errNoFilesystem = &kernel.Error{Module: "exec", Message: "no filesystem registered"}

	// activeFS serves executable lookups.
	activeFS Filesystem
)

// Filesystem resolves absolute paths to file contents.
type Filesystem interface {
	// Lookup returns the contents of the regular file at path.
	Lookup(path string) ([]byte, *kernel.Error)
}

// SetFilesystem registers the filesystem used by CreateUserTask.
func SetFilesystem(fs Filesystem) {
	activeFS = fs
}

type fsNode struct {
	dir      bool
	data     []byte
	children map[string]*fsNode
}

// StaticFS is an in-memory, read-only tree of files such as the contents of
// an initial ramdisk. The zero value is an empty filesystem.
type StaticFS struct {
	root fsNode
}

// AddFile stores data at the absolute path, creating any missing parent
// directories. It fails with ErrNotDir if a parent is a file.
func (fs *StaticFS) AddFile(path string, data []byte) *kernel.Error {
	node, err := fs.mkdirAll(path, false)
	if err != nil {
		return err
	}
	node.data = data
	return nil
}

// AddDir creates the directory at the absolute path and any missing parents.
func (fs *StaticFS) AddDir(path string) *kernel.Error {
	_, err := fs.mkdirAll(path, true)
	return err
}

// Lookup implements Filesystem.
func (fs *StaticFS) Lookup(path string) ([]byte, *kernel.Error) {
	node, err := fs.resolve(path)
	if err != nil {
		return nil, err
	}

	if node.dir {
		return nil, ErrNotRegular
	}
	return node.data, nil
}

func (fs *StaticFS) resolve(path string) (*fsNode, *kernel.Error) {
	parts, ok := splitPath(path)
	if !ok {
		return nil, ErrNotFound
	}

	node := fs.rootNode()
	for _, part := range parts {
		if !node.dir {
			return nil, ErrNotDir
		}

		next, exists := node.children[part]
		if !exists {
			return nil, ErrNotFound
		}
		node = next
	}

	return node, nil
}

func (fs *StaticFS) mkdirAll(path string, dir bool) (*fsNode, *kernel.Error) {
	parts, ok := splitPath(path)
	if !ok || len(parts) == 0 {
		return nil, ErrNotFound
	}

	node := fs.rootNode()
	for i, part := range parts {
		if !node.dir {
			return nil, ErrNotDir
		}

		next, exists := node.children[part]
		if !exists {
			next = &fsNode{dir: dir || i < len(parts)-1}
			if node.children == nil {
				node.children = make(map[string]*fsNode)
			}
			node.children[part] = next
		}
		node = next
	}

	if node.dir != dir {
		if dir {
			return nil, ErrNotDir
		}
		return nil, ErrNotRegular
	}

	return node, nil
}

func (fs *StaticFS) rootNode() *fsNode {
	fs.root.dir = true
	return &fs.root
}

// splitPath returns the non-empty components of an absolute path.
func splitPath(path string) ([]string, bool) {
	if !strings.HasPrefix(path, "/") {
		return nil, false
	}

	var parts []string
	for _, part := range strings.Split(path, "/") {
		switch part {
		case "", ".":
		default:
			parts = append(parts, part)
		}
	}
	return parts, true
}
