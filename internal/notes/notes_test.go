package notes

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestReadMissingFile(t *testing.T) {
	f := NewFile(filepath.Join(t.TempDir(), "notes.md"))

	content, err := f.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if content != "" {
		t.Errorf("expected empty content, got %q", content)
	}
}

func TestUpdateSectionCreatesFile(t *testing.T) {
	f := NewFile(filepath.Join(t.TempDir(), "notes.md"))

	if err := f.UpdateSection("overview", "An e-commerce warehouse."); err != nil {
		t.Fatalf("UpdateSection failed: %v", err)
	}

	content, err := f.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !strings.Contains(content, "## overview") {
		t.Errorf("expected the section heading, got %q", content)
	}
	if !strings.Contains(content, "An e-commerce warehouse.") {
		t.Errorf("expected the section body, got %q", content)
	}
}

func TestUpdateSectionReplaces(t *testing.T) {
	f := NewFile(filepath.Join(t.TempDir(), "notes.md"))

	if err := f.UpdateSection("key_tables", "old body"); err != nil {
		t.Fatalf("UpdateSection failed: %v", err)
	}
	if err := f.UpdateSection("key_tables", "new body"); err != nil {
		t.Fatalf("UpdateSection failed: %v", err)
	}

	content, _ := f.Read()
	if strings.Contains(content, "old body") {
		t.Error("old body should have been replaced")
	}
	if !strings.Contains(content, "new body") {
		t.Error("new body missing")
	}
	if strings.Count(content, "## key_tables") != 1 {
		t.Error("section heading duplicated")
	}
}

func TestUpdateSectionPreservesOthers(t *testing.T) {
	f := NewFile(filepath.Join(t.TempDir(), "notes.md"))

	if err := f.UpdateSection("overview", "the overview"); err != nil {
		t.Fatalf("UpdateSection failed: %v", err)
	}
	if err := f.UpdateSection("relationships", "orders join products"); err != nil {
		t.Fatalf("UpdateSection failed: %v", err)
	}

	content, _ := f.Read()
	if !strings.Contains(content, "the overview") || !strings.Contains(content, "orders join products") {
		t.Errorf("sections lost on update: %q", content)
	}

	// Fixed sections render in their canonical order.
	if strings.Index(content, "## overview") > strings.Index(content, "## relationships") {
		t.Error("sections out of order")
	}
}

func TestUpdateUnknownSection(t *testing.T) {
	f := NewFile(filepath.Join(t.TempDir(), "notes.md"))

	if err := f.UpdateSection("scratchpad", "x"); err == nil {
		t.Fatal("expected an error for an unknown section")
	}
}

func TestNoTempFilesLeftBehind(t *testing.T) {
	dir := t.TempDir()
	f := NewFile(filepath.Join(dir, "notes.md"))

	if err := f.UpdateSection("notes", "body"); err != nil {
		t.Fatalf("UpdateSection failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "notes.md" {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Errorf("unexpected directory contents: %v", names)
	}
}
