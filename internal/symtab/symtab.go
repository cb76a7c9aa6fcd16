// Package symtab implements the linker's global symbol table: a
// name-to-id bijection over an arena of dense-indexed symbols, plus the
// script-local shadow table used by the `=`/EQU/GEQ/KBD/POS/LEN opcodes.
//
// Symbols are never handed out as durable pointers outside the package —
// callers hold an ID and look it up again, since the backing slice can grow
// (and reallocate) as new external references are interned during decoding.
package symtab

import "fmt"

// Scope bitmask, matching spec §4.1: bit 0 assembler-visible (unused here),
// bit 1 linker-global, bit 2 script-local.
const (
	ScopeAssembler = 1 << 0
	ScopeLinker    = 1 << 1
	ScopeScript    = 1 << 2

	ScopeEQU = ScopeAssembler
	ScopeEQ  = ScopeScript
	ScopeGEQ = ScopeAssembler | ScopeLinker | ScopeScript
	ScopeKBD = ScopeAssembler | ScopeLinker | ScopeScript
	ScopePOS = ScopeLinker
	ScopeLEN = ScopeLinker
	ScopeD   = ScopeAssembler | ScopeLinker | ScopeScript // -D on the CLI
)

// ID is a dense, stable index into the symbol arena. Zero is never valid.
type ID int

// Symbol is the global symbol record described in spec §3.
type Symbol struct {
	Name       string
	File       string // defining file, for diagnostics
	Value      uint32 // 24-bit value
	ID         ID
	Segment    int // 1-based; 0 = absolute or undefined
	RefCount   int
	Absolute   bool
	Defined    bool
	EXD        bool // direct-page external-definition flag
}

// Table owns the symbol arena and the name maps: linker-global, script-local,
// and an internal dedup ledger that is not itself a visibility sink. It is
// the concrete "arena+index" design from spec §9.
type Table struct {
	syms       []Symbol        // index 0 unused; IDs are 1-based
	globalByName map[string]ID // linker-global name -> id (a visibility sink)
	localByName  map[string]ID // script-local shadow, see spec §3 "Script state" (a visibility sink)
	allByName    map[string]ID // every interned name -> id, regardless of scope; never consulted for visibility
}

// New returns an empty table.
func New() *Table {
	return &Table{
		syms:         make([]Symbol, 1), // sentinel at index 0
		globalByName: make(map[string]ID),
		localByName:  make(map[string]ID),
		allByName:    make(map[string]ID),
	}
}

// internID returns the arena id for name, allocating a fresh slot the first
// time any caller (Find or Define) interns it. This is pure bookkeeping —
// it never makes name visible to FindLocal or a scope-gated Find lookup;
// only applyScope does that.
func (t *Table) internID(name string) ID {
	if id, ok := t.allByName[name]; ok {
		return id
	}
	id := ID(len(t.syms))
	t.syms = append(t.syms, Symbol{Name: name, ID: id})
	t.allByName[name] = id
	return id
}

// Find returns the global symbol named name, inserting a fresh undefined
// one when insert is true and no such symbol exists. It mirrors
// find_symbol() in original_source/link.cpp: a name reached through Find
// (not Define) is always linker-global, e.g. an external reference
// encountered while decoding a REL unit.
func (t *Table) Find(name string, insert bool) (ID, bool) {
	if id, ok := t.globalByName[name]; ok {
		return id, true
	}
	if !insert {
		return 0, false
	}
	id := t.internID(name)
	t.globalByName[name] = id
	return id, true
}

// Get returns a copy of the symbol for id. Panics on an invalid id — ids
// are only ever produced by this package, so an invalid one is a bug in
// the caller, not user input.
func (t *Table) Get(id ID) Symbol {
	return t.syms[id]
}

// Ref returns a pointer to the live symbol for id, valid only until the
// next call to Find/Define (which may grow the arena). The REL decoder
// uses it to set a symbol's EXD flag in place; read-only callers should
// prefer Get.
func (t *Table) Ref(id ID) *Symbol {
	return &t.syms[id]
}

// IncRef bumps the reference count for id — called whenever a relocation
// names the symbol.
func (t *Table) IncRef(id ID) {
	t.syms[id].RefCount++
}

// DuplicateConflict is returned by Define when a re-declaration disagrees
// with the existing binding (different absolute/value pair). Per spec
// §4.1 this is a warning, not fatal: the first binding wins.
type DuplicateConflict struct {
	Name     string
	Existing Symbol
	Proposed Symbol
}

func (e *DuplicateConflict) Error() string {
	return fmt.Sprintf("%s previously defined (%s)", e.Name, e.Existing.File)
}

// Define records a definition for name with the given value, scope
// bitmask, and absoluteness. scope selects which of the three sinks
// (assembler/linker/script) record the binding; segment is 0 for absolute
// symbols. A conflicting re-declaration returns a *DuplicateConflict
// (still recorded as a warning-level condition by the caller) while
// leaving the original binding intact.
func (t *Table) Define(name string, value uint32, absolute bool, segment int, file string, scope int) (ID, error) {
	id := t.internID(name)
	sym := &t.syms[id]

	if sym.Defined {
		if sym.Absolute == absolute && sym.Value == value {
			// identical re-declaration: silently accepted
			t.applyScope(name, id, scope)
			return id, nil
		}
		return id, &DuplicateConflict{Name: name, Existing: *sym, Proposed: Symbol{
			Name: name, Value: value, Absolute: absolute, Segment: segment, File: file,
		}}
	}

	sym.Defined = true
	sym.Absolute = absolute
	sym.Value = value
	sym.Segment = segment
	sym.File = file
	t.applyScope(name, id, scope)
	return id, nil
}

func (t *Table) applyScope(name string, id ID, scope int) {
	if scope&ScopeLinker != 0 {
		t.globalByName[name] = id
	}
	if scope&ScopeScript != 0 {
		t.localByName[name] = id
	}
}

// FindLocal resolves name against the script-local shadow table only
// (used by EQ/EQU lookups, which must not see linker-global symbols unless
// EXT explicitly copied them in — spec §4.4 "EXT").
func (t *Table) FindLocal(name string) (ID, bool) {
	id, ok := t.localByName[name]
	return id, ok
}

// CopyGlobalToLocal implements EXT label: it requires an already-defined
// absolute global symbol and mirrors it into the script-local table.
func (t *Table) CopyGlobalToLocal(name string) error {
	id, ok := t.globalByName[name]
	if !ok {
		return fmt.Errorf("EXT: %q is not a defined global symbol", name)
	}
	sym := t.syms[id]
	if !sym.Defined || !sym.Absolute {
		return fmt.Errorf("EXT: %q is not a defined absolute symbol", name)
	}
	t.localByName[name] = id
	return nil
}

// All returns every symbol in insertion order (excluding the sentinel),
// for the alphabetical/numeric report.
func (t *Table) All() []Symbol {
	return append([]Symbol(nil), t.syms[1:]...)
}

// Len returns the number of interned symbols (excluding the sentinel).
func (t *Table) Len() int { return len(t.syms) - 1 }
