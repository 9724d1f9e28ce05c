// Package storage keeps staged file bytes on disk, one subdirectory per owner
// identifier under a configured root.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrExists      = errors.New("storage: name already exists")
	ErrInvalidName = errors.New("storage: invalid name")
)

type Disk struct {
	root string
}

func NewDisk(root string) (*Disk, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("abs %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", abs, err)
	}
	return &Disk{root: abs}, nil
}

func (d *Disk) Root() string { return d.root }

func (d *Disk) path(owner, name string) (string, error) {
	for _, part := range []string{owner, name} {
		if part == "" || part == "." || part == ".." || strings.ContainsAny(part, `/\`) {
			return "", fmt.Errorf("%w: %q", ErrInvalidName, part)
		}
	}
	return filepath.Join(d.root, owner, name), nil
}

// Exists has the naming.ExistsFunc shape so it can feed the resolver.
func (d *Disk) Exists(_ context.Context, owner, name string) (bool, error) {
	p, err := d.path(owner, name)
	if err != nil {
		return false, err
	}
	_, err = os.Lstat(p)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// Create reserves name atomically (O_EXCL). A concurrent writer that lost the
// race gets ErrExists and must resolve a new name.
func (d *Disk) Create(owner, name string) (*os.File, error) {
	p, err := d.path(owner, name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", filepath.Dir(p), err)
	}
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrExists, name)
		}
		return nil, err
	}
	return f, nil
}

func (d *Disk) Open(owner, name string) (*os.File, error) {
	p, err := d.path(owner, name)
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}

func (d *Disk) Remove(owner, name string) error {
	p, err := d.path(owner, name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Move renames from to to without clobbering an existing file. It returns
// ErrExists when to is already taken.
func (d *Disk) Move(owner, from, to string) error {
	src, err := d.path(owner, from)
	if err != nil {
		return err
	}
	dst, err := d.path(owner, to)
	if err != nil {
		return err
	}
	if err := os.Link(src, dst); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrExists, to)
		}
		return err
	}
	return os.Remove(src)
}
