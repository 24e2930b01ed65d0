// Package manifest parses the DATA.INI-style archive manifest: plain text,
// trimmed lines, `;` and `#` comments, `[section]` headers, and `key =
// value` pairs within a section. The `[data]` section's integer keys order
// the archive list (`0=a.grf`, `1=b.grf`, ...); an optional
// `[cache]`/`[resolver]` section carries the configuration envelope keys
// from §6. It is grounded on bufio.Scanner-based line parsing, the same
// idiom holo-build's manifest reader and cue-lang-cue's config loaders both
// reach for ahead of a full INI library — justified in DESIGN.md since this
// grammar is a narrow, spec-defined subset (no nesting, no interpolation,
// no type coercion beyond what §6 enumerates) that a general-purpose INI
// parser would not simplify.
package manifest

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// Section is one parsed `[name]` block: an ordered list of key/value pairs,
// duplicates by key removed with the first occurrence kept (§4.9 "duplicates
// removed preserving order").
type Section struct {
	Name string
	keys []string
	vals map[string]string
}

// Get returns the value for key within the section, and whether it was
// present.
func (s *Section) Get(key string) (string, bool) {
	v, ok := s.vals[key]
	return v, ok
}

// Keys returns the section's keys in first-seen order.
func (s *Section) Keys() []string {
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}

func (s *Section) set(key, value string) {
	if s.vals == nil {
		s.vals = make(map[string]string)
	}
	if _, exists := s.vals[key]; exists {
		return
	}
	s.keys = append(s.keys, key)
	s.vals[key] = value
}

// Document is a fully parsed manifest: its sections, keyed by name.
type Document struct {
	sections map[string]*Section
}

// Section returns the named section, or nil if the manifest has none by
// that name (sections not referenced by §4.9/§6 are ignored, not errors).
func (d *Document) Section(name string) *Section {
	return d.sections[name]
}

// Parse reads r as a DATA.INI-style document.
func Parse(r io.Reader) (*Document, error) {
	doc := &Document{sections: make(map[string]*Section)}
	cur := ""

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			cur = strings.TrimSpace(line[1 : len(line)-1])
			if _, ok := doc.sections[cur]; !ok {
				doc.sections[cur] = &Section{Name: cur}
			}
			continue
		}
		if cur == "" {
			return nil, fmt.Errorf("manifest: line %d: key/value outside any section", lineNo)
		}
		eq := strings.IndexByte(line, '=')
		if eq < 0 {
			return nil, fmt.Errorf("manifest: line %d: missing '=': %q", lineNo, line)
		}
		key := strings.TrimSpace(line[:eq])
		value := strings.TrimSpace(line[eq+1:])
		doc.sections[cur].set(key, value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	return doc, nil
}

// ArchiveList returns the `[data]` section's filenames in priority order:
// its keys are parsed as integers and sorted numerically (§4.9 "numbered
// n=filename.grf pairs"; §9 design note recommends treating them as an
// ordered list rather than a sparse integer-indexed array).
func (d *Document) ArchiveList() ([]string, error) {
	sec := d.Section("data")
	if sec == nil {
		return nil, nil
	}

	type indexed struct {
		n    int
		name string
	}
	entries := make([]indexed, 0, len(sec.keys))
	for _, k := range sec.keys {
		n, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("manifest: [data] key %q is not an integer index", k)
		}
		entries = append(entries, indexed{n: n, name: sec.vals[k]})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].n < entries[j].n })

	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.name
	}
	return out, nil
}
