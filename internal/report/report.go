// Package report renders the final symbol table twice — alphabetically and
// numerically by value — as the upstream tool's print_symbols does (see
// original_source/link.cpp), either as plain text or, per SPEC_FULL.md
// §4.7, as YAML via gopkg.in/yaml.v3.
package report

import (
	"fmt"
	"io"
	"sort"

	"github.com/ksherlock/merlin-utils/internal/symtab"
	"gopkg.in/yaml.v3"
)

// Format selects the rendering.
type Format int

const (
	Text Format = iota
	YAML
)

// entry is one reported symbol; exported fields so yaml.v3 can marshal it
// with lowercase keys via the struct tags below.
type entry struct {
	Name     string `yaml:"name"`
	Value    uint32 `yaml:"value"`
	Segment  int    `yaml:"segment"`
	Absolute bool   `yaml:"absolute"`
	EXD      bool   `yaml:"exd"`
}

// document is the YAML report's top-level shape.
type document struct {
	ByName  []entry `yaml:"by_name"`
	ByValue []entry `yaml:"by_value"`
}

// Write renders the defined symbols in syms to w in the given format.
func Write(w io.Writer, syms *symtab.Table, format Format) error {
	all := syms.All()
	var entries []entry
	for _, s := range all {
		if !s.Defined {
			continue
		}
		entries = append(entries, entry{Name: s.Name, Value: s.Value, Segment: s.Segment, Absolute: s.Absolute, EXD: s.EXD})
	}
	if len(entries) == 0 {
		return nil
	}

	byName := append([]entry(nil), entries...)
	sort.SliceStable(byName, func(i, j int) bool { return byName[i].Name < byName[j].Name })

	byValue := append([]entry(nil), entries...)
	sort.SliceStable(byValue, func(i, j int) bool { return byValue[i].Value < byValue[j].Value })

	switch format {
	case YAML:
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(document{ByName: byName, ByValue: byValue})
	default:
		writeTextSection(w, byName)
		fmt.Fprintln(w)
		writeTextSection(w, byValue)
		return nil
	}
}

func writeTextSection(w io.Writer, entries []entry) {
	for _, e := range entries {
		fmt.Fprintf(w, "%-20s: $%06x\n", e.Name, e.Value)
	}
}
