package project

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
)

var (
	// ErrInvalidProject is returned by Open for a bad root or source folder.
	ErrInvalidProject = errors.New("invalid project")
	// ErrUnresolvable means a path does not name a resource of the project.
	ErrUnresolvable = errors.New("path does not resolve to a project resource")
	// ErrOffsetOutOfRange means an offset lies beyond the end of a module.
	ErrOffsetOutOfRange = errors.New("offset out of range")
	// ErrNotPython means the resource is not a Python module.
	ErrNotPython = errors.New("resource is not a python module")
)

// Model is what the request loop and the providers call through.
type Model interface {
	// Root returns the canonical project root.
	Root() string
	// Resolve maps an absolute or root-relative path to a Resource.
	Resolve(path string) (Resource, error)
	// Module returns the current parsed snapshot of a resource.
	Module(ctx context.Context, res Resource) (*Module, error)
}

// Resource identifies one file of the project.
type Resource struct {
	// Path is the canonical absolute path with symlinks resolved.
	Path string
	// Rel is the slash-separated path relative to the project root.
	Rel string
}

// Change is the complete proposed contents of one resource.
type Change struct {
	Resource    Resource
	NewContents string
}

// Changeset is the ordered result of one provider invocation.
type Changeset struct {
	Description string
	Changes     []Change
}

// Module is an immutable parsed snapshot of a Python file.
type Module struct {
	Resource Resource
	Source   []byte
	Tree     *sitter.Tree
	ModTime  time.Time
	Size     int64
}

// RootNode returns the module node of the syntax tree.
func (m *Module) RootNode() *sitter.Node {
	return m.Tree.RootNode()
}

// Text returns the source text covered by n.
func (m *Module) Text(n *sitter.Node) string {
	return string(m.Source[n.StartByte():n.EndByte()])
}

// ByteOffset converts a character offset into a byte offset into Source.
// The offset equal to the character length (end of file) is valid.
func (m *Module) ByteOffset(offset int) (int, error) {
	if offset < 0 {
		return 0, fmt.Errorf("%w: negative offset %d", ErrOffsetOutOfRange, offset)
	}
	b := 0
	for i := 0; i < offset; i++ {
		if b >= len(m.Source) {
			return 0, fmt.Errorf("%w: %d is past the end of %s (%d characters)",
				ErrOffsetOutOfRange, offset, m.Resource.Rel, utf8.RuneCount(m.Source))
		}
		_, size := utf8.DecodeRune(m.Source[b:])
		b += size
	}
	return b, nil
}
