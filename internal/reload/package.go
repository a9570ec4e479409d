package reload

import (
	"errors"
	"fmt"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
)

var ErrInvalidPackage = errors.New("invalid package")

// Package identifies one watched source directory. ID is the cleaned
// absolute root and is what every component keys its state on.
type Package struct {
	ID   string
	Name string
	Root string
}

func (p Package) String() string {
	if p.Name == "" {
		return p.ID
	}
	return p.Name
}

func (p Package) IsZero() bool {
	return p.ID == ""
}

// NewPackage resolves root to an absolute directory and checks that it holds
// a main package, which is what the plugin build mode requires.
func NewPackage(root string) (Package, error) {
	if strings.TrimSpace(root) == "" {
		return Package{}, fmt.Errorf("%w: root is required", ErrInvalidPackage)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return Package{}, fmt.Errorf("%w: %v", ErrInvalidPackage, err)
	}
	abs = filepath.Clean(abs)
	info, err := os.Stat(abs)
	if err != nil {
		return Package{}, fmt.Errorf("%w: %v", ErrInvalidPackage, err)
	}
	if !info.IsDir() {
		return Package{}, fmt.Errorf("%w: %s is not a directory", ErrInvalidPackage, abs)
	}
	name, err := mainPackageName(abs)
	if err != nil {
		return Package{}, err
	}
	return Package{ID: abs, Name: name, Root: abs}, nil
}

// mainPackageName returns the directory name when at least one non-test Go
// file declares package main.
func mainPackageName(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPackage, err)
	}
	fset := token.NewFileSet()
	sawGo := false
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		sawGo = true
		file, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.PackageClauseOnly)
		if err != nil {
			continue
		}
		if file.Name != nil && file.Name.Name == "main" {
			return filepath.Base(dir), nil
		}
	}
	if !sawGo {
		return "", fmt.Errorf("%w: no Go files in %s", ErrInvalidPackage, dir)
	}
	return "", fmt.Errorf("%w: %s is not a main package", ErrInvalidPackage, dir)
}
