package script

import (
	"os"
	"path/filepath"

	"github.com/ksherlock/merlin-utils/internal/symtab"
)

// SearchLibraries implements spec §4.6: after all explicit LNKs, for every
// symbol referenced but still undefined, look for a file named "dir/name"
// (no extension) under each registered library directory and, if its
// metadata marks it a REL unit, decode it. Newly discovered undefined
// symbols extend the search set — spec §9's "Library search re-entrancy"
// note requires index-based iteration here, since Syms.All() is a
// snapshot but new symbols are interned into the live table mid-loop.
func (in *Interpreter) SearchLibraries() error {
	if len(in.LibraryDirs) == 0 {
		return nil
	}

	seen := make(map[string]bool)
	for i := 0; ; i++ {
		undefined := in.collectUndefined(seen)
		if len(undefined) == 0 {
			break
		}
		progressed := false
		for _, name := range undefined {
			seen[name] = true
			if in.resolveFromLibrary(name) {
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}
	return nil
}

// collectUndefined scans the live symbol table by index (not a cached
// slice) so growth during a prior pass is visible on the next one.
func (in *Interpreter) collectUndefined(seen map[string]bool) []string {
	var out []string
	for i := 1; i <= in.Syms.Len(); i++ {
		sym := in.Syms.Get(symtab.ID(i))
		if !sym.Defined && sym.RefCount > 0 && !seen[sym.Name] {
			out = append(out, sym.Name)
		}
	}
	return out
}

// resolveFromLibrary searches each registered directory for name (no
// extension), decoding the first REL-typed match found. It reports
// whether a unit was decoded.
func (in *Interpreter) resolveFromLibrary(name string) bool {
	for _, dir := range in.LibraryDirs {
		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		if !isRELFile(path) {
			continue
		}
		if err := in.decodeUnit(path); err != nil {
			if in.Log != nil {
				in.Log.Warn("library search: failed to decode candidate", "path", path, "error", err)
			}
			continue
		}
		return true
	}
	return false
}

// isRELFile reports whether path's metadata marks it a REL unit
// (file-type 0xf8, per spec §4.2). ProDOS/GS-OS file types have no
// native representation on this platform's filesystems, so this treats
// any regular, readable file as a candidate — the real upstream's
// filesystem-specific metadata check is the out-of-scope collaborator
// named in spec §1.
func isRELFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
