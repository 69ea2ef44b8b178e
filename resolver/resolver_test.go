package resolver

import (
	"os"
	"path/filepath"
	"testing"
)

func setupTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	dirs := []string{"var/log/nginx", "var/log/app", "etc"}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(root, d), 0755); err != nil {
			t.Fatal(err)
		}
	}
	files := map[string]string{
		"var/log/nginx/access.log": "x",
		"var/log/app/app.log":      "x",
		"var/log/app/app.txt":      "x",
		"etc/passwd":               "x",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(root, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func TestExpand_RecursiveLogGlob(t *testing.T) {
	root := setupTree(t)
	matches, err := Expand(root, "/var/log/**/*.log", DefaultOptions())
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}

	got := make(map[string]bool)
	for _, m := range matches {
		got[m.Path] = true
		if m.Ino == 0 {
			t.Errorf("match %q has zero inode", m.Path)
		}
	}

	want := []string{"var/log/nginx/access.log", "var/log/app/app.log"}
	for _, w := range want {
		if !got[w] {
			t.Errorf("expected match %q, got %v", w, got)
		}
	}
	if got["var/log/app/app.txt"] {
		t.Error("app.txt should not match *.log")
	}
}

func TestExpand_DepthCapLimitsDescent(t *testing.T) {
	root := t.TempDir()
	deep := filepath.Join(root, "a/b/c/d/e")
	if err := os.MkdirAll(deep, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(deep, "target.log"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	matches, err := Expand(root, "/**/*.log", Options{MaxDepth: 1})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("expected no matches within a depth cap of 1, got %v", matches)
	}
}

func TestSingle_Resolve(t *testing.T) {
	root := setupTree(t)
	var s Single
	dev, ino, err := s.Resolve(root, "etc/passwd")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ino == 0 {
		t.Error("expected non-zero inode")
	}
	_ = dev
}
