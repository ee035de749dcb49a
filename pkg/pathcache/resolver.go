package pathcache

import (
	"errors"
	"path/filepath"
)

// ErrEmptyPath is returned when resolving an empty path.
var ErrEmptyPath = errors.New("empty path")

// Resolver resolves a path to its absolute, symlink-free form.
type Resolver interface {
	Resolve(path string) (string, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(path string) (string, error)

// Resolve calls f(path).
func (f ResolverFunc) Resolve(path string) (string, error) { return f(path) }

type osResolver struct{}

// NewOSResolver returns a Resolver backed by the local filesystem. It fails
// for paths that do not exist, like realpath(3).
func NewOSResolver() Resolver {
	return osResolver{}
}

func (osResolver) Resolve(path string) (string, error) {
	if path == "" {
		return "", ErrEmptyPath
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}
