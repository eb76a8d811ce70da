// Package testutil holds test helpers that keep the package layering honest.
package testutil

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// AssertNoDirectImports fails t when a non-test .go file in dir imports a
// path matched by forbidden. Build tags are not evaluated.
func AssertNoDirectImports(t testing.TB, dir string, forbidden func(importPath string) bool, reason string) {
	t.Helper()
	viols, err := ImportViolations(dir, forbidden)
	if err != nil {
		t.Fatalf("scan %s: %v", dir, err)
	}
	if len(viols) > 0 {
		t.Fatalf("forbidden imports (%s):\n%s", reason, strings.Join(viols, "\n"))
	}
}

// ImportViolations lists "path (in file)" for every forbidden import in the
// non-test .go files of dir.
func ImportViolations(dir string, forbidden func(importPath string) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	var viols []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		f, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		for _, imp := range f.Imports {
			p := strings.Trim(imp.Path.Value, `"`)
			if forbidden(p) {
				viols = append(viols, p+" (in "+name+")")
			}
		}
	}
	return viols, nil
}

// StorageImport matches the storage drivers and the table and blob facades.
func StorageImport(path string) bool {
	return strings.Contains(path, "/internal/infra/") ||
		strings.HasSuffix(path, "/internal/table") ||
		strings.HasSuffix(path, "/internal/blob")
}

// DriverImport matches concrete storage drivers only.
func DriverImport(path string) bool {
	return strings.Contains(path, "/internal/infra/")
}

// TransportImport matches the HTTP layer and the command packages.
func TransportImport(path string) bool {
	return strings.HasSuffix(path, "/internal/web") || strings.Contains(path, "/cmd/")
}
