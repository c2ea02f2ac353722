// Package notes maintains the analyst's working notes file, a small
// markdown document with a fixed set of sections that the model reads
// for orientation and updates as it learns about the warehouse.
package notes

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Sections is the fixed section layout. Updates outside this set are
// rejected so the file cannot grow arbitrary structure.
var Sections = []string{
	"overview",
	"key_tables",
	"relationships",
	"common_patterns",
	"notes",
}

// File is a notes document backed by a single path on disk.
type File struct {
	path string
	mu   sync.Mutex
}

// NewFile creates a handle for the notes file at path. The file itself
// is created lazily on the first update.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the backing file path.
func (f *File) Path() string { return f.path }

// ValidSection reports whether name is one of the fixed sections.
func ValidSection(name string) bool {
	for _, s := range Sections {
		if s == name {
			return true
		}
	}
	return false
}

// SectionList returns the fixed section names joined for error messages.
func SectionList() string {
	return strings.Join(Sections, ", ")
}

// Read returns the full notes document, or "" if none exists yet.
func (f *File) Read() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read notes: %w", err)
	}
	return string(data), nil
}

// UpdateSection replaces the named section's body, appending the section
// if the document does not contain it yet.
func (f *File) UpdateSection(section, content string) error {
	if !ValidSection(section) {
		return fmt.Errorf("unknown notes section %q (valid: %s)", section, SectionList())
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read notes: %w", err)
	}

	sections := parseSections(string(data))
	sections[section] = strings.TrimSpace(content)

	return f.writeAtomic(renderSections(sections))
}

// parseSections splits a document into section name -> body. Content
// before the first heading and headings outside the fixed set are kept
// under their own keys so nothing is lost on rewrite.
func parseSections(doc string) map[string]string {
	sections := make(map[string]string)
	current := ""
	var body []string

	flush := func() {
		text := strings.TrimSpace(strings.Join(body, "\n"))
		if current != "" || text != "" {
			sections[current] = text
		}
		body = body[:0]
	}

	for _, line := range strings.Split(doc, "\n") {
		if name, ok := strings.CutPrefix(line, "## "); ok {
			flush()
			current = strings.TrimSpace(name)
			continue
		}
		body = append(body, line)
	}
	flush()
	return sections
}

// renderSections writes fixed sections in order, then any extra headings
// the document may have accumulated.
func renderSections(sections map[string]string) string {
	var b strings.Builder

	if pre, ok := sections[""]; ok && pre != "" {
		b.WriteString(pre)
		b.WriteString("\n\n")
	}

	written := map[string]bool{"": true}
	for _, name := range Sections {
		body, ok := sections[name]
		if !ok {
			continue
		}
		written[name] = true
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", name, body)
	}

	var extras []string
	for name := range sections {
		if !written[name] {
			extras = append(extras, name)
		}
	}
	sort.Strings(extras)
	for _, name := range extras {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", name, sections[name])
	}

	return strings.TrimSpace(b.String()) + "\n"
}

// writeAtomic writes content via a temp file and rename so a crash never
// leaves a half-written notes file.
func (f *File) writeAtomic(content string) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create notes directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".notes-*.md")
	if err != nil {
		return fmt.Errorf("failed to create temp notes file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write notes: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync notes: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close notes: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("failed to replace notes: %w", err)
	}
	return nil
}
