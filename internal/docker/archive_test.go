package docker

import (
	"archive/tar"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func TestTarDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "Dockerfile"), "FROM alpine\n")
	mustWrite(t, filepath.Join(dir, "src", "main.go"), "package main\n")
	mustWrite(t, filepath.Join(dir, ".git", "HEAD"), "ref: refs/heads/main\n")
	mustWrite(t, filepath.Join(dir, "web", "node_modules", "x.js"), "x")

	rc := tarDir(dir)
	defer rc.Close()

	contents := map[string]string{}
	var names []string
	tr := tar.NewReader(rc)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		names = append(names, hdr.Name)
		if hdr.Typeflag == tar.TypeReg {
			data, err := io.ReadAll(tr)
			if err != nil {
				t.Fatalf("read %s: %v", hdr.Name, err)
			}
			contents[hdr.Name] = string(data)
		}
	}
	sort.Strings(names)

	want := []string{"Dockerfile", "src/", "src/main.go", "web/"}
	if len(names) != len(want) {
		t.Fatalf("Expected entries %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Entry %d: expected %q, got %q", i, want[i], names[i])
		}
	}
	if contents["src/main.go"] != "package main\n" {
		t.Errorf("Unexpected content for src/main.go: %q", contents["src/main.go"])
	}
}

func TestTarDir_MissingSource(t *testing.T) {
	t.Parallel()

	rc := tarDir(filepath.Join(t.TempDir(), "missing"))
	defer rc.Close()

	if _, err := io.ReadAll(rc); err == nil {
		t.Error("Expected error for missing source directory")
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}
