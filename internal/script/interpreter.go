// interpreter.go implements the opcode contracts from spec §4.4: it walks
// the Line stream produced by Scan, maintains DO/ELS/FIN state, and calls
// into the REL decoder, resolver, and container writers as each opcode
// requires.
package script

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ksherlock/merlin-utils/internal/filetype"
	"github.com/ksherlock/merlin-utils/internal/linkerr"
	"github.com/ksherlock/merlin-utils/internal/omfio"
	"github.com/ksherlock/merlin-utils/internal/omfobj"
	"github.com/ksherlock/merlin-utils/internal/rel"
	"github.com/ksherlock/merlin-utils/internal/resolve"
	"github.com/ksherlock/merlin-utils/internal/segment"
	"github.com/ksherlock/merlin-utils/internal/symtab"
	"github.com/ksherlock/merlin-utils/internal/unitio"
)

// postEndOpcodes is the small set honored once END has been seen (spec
// §4.4: "Once END is seen, only a small set of post-end opcodes ... is
// honored").
var postEndOpcodes = map[string]bool{
	"END": true, "CMD": true, "PFX": true, "DAT": true,
	"RES": true, "RID": true, "RTY": true, "RAT": true, "FIL": true,
}

// UnitLoader opens a REL unit's bytes for decoding: code length ("aux
// type") plus the raw unit bytes. Production callers read this from the
// file's metadata and an unitio.Reader; tests can substitute a fixed pair.
type UnitLoader func(path string) (codeLen int, data []byte, err error)

// Interpreter executes one link-script run, threading the symbol table,
// segment manager, and script State explicitly (the "LinkContext" design
// from SPEC_FULL.md §3, resolving spec §9's "Global state" note).
type Interpreter struct {
	Syms  *symtab.Table
	Segs  *segment.Manager
	State *State
	Log   *slog.Logger

	LoadUnit UnitLoader
	IsTTY    func() bool
	Stdin    io.Reader
	Stdout   io.Writer

	WorkDir     string
	LibraryDirs []string

	BinWriter omfio.ContainerWriter
	OMFWriter omfio.ContainerWriter

	lastUnitLen int // bytes added by the most recent LNK/IMP, for LEN
}

// New returns an Interpreter ready to run, with sensible production
// defaults for the ambient collaborators.
func New(syms *symtab.Table, logger *slog.Logger) *Interpreter {
	return &Interpreter{
		Syms:      syms,
		Segs:      segment.NewManager(),
		State:     NewState(),
		Log:       logger,
		Stdin:     os.Stdin,
		Stdout:    os.Stdout,
		WorkDir:   ".",
		BinWriter: omfio.BinWriter{},
		OMFWriter: omfio.Writer{},
		LoadUnit:  defaultUnitLoader,
	}
}

// defaultUnitLoader reads a REL unit via the memory-mapped reader (spec
// §5); the code length comes from the file's ProDOS aux-type metadata in
// the original tool, which is unavailable on this platform, so we treat
// the whole mapped file as code bytes with the relocation/label streams
// appended (callers that have real aux-type metadata should pass a
// narrower UnitLoader).
func defaultUnitLoader(path string) (int, []byte, error) {
	r, err := unitio.Open(path)
	if err != nil {
		return 0, nil, err
	}
	defer r.Close()
	data, err := unitio.ReadAll(r)
	if err != nil {
		return 0, nil, err
	}
	return len(data), data, nil
}

// Run executes every line, stopping early if the script-error budget
// (spec §6: "ten errors abort the run") is exhausted.
func (in *Interpreter) Run(lines []Line) error {
	for _, line := range lines {
		if in.State.ErrorCount >= linkerr.MaxScriptErr {
			return linkerr.Wrap(linkerr.ScriptError, "too many script errors (%d)", in.State.ErrorCount)
		}
		if in.State.End && !postEndOpcodes[line.Op] {
			continue
		}
		if !in.State.Active() && !isControlOp(line.Op) {
			continue
		}
		if err := in.exec(line); err != nil {
			in.countError(line, err)
			if in.State.ErrorCount >= linkerr.MaxScriptErr {
				return linkerr.Wrap(linkerr.ScriptError, "too many script errors (%d)", in.State.ErrorCount)
			}
		}
	}
	return nil
}

func isControlOp(op string) bool {
	return op == "DO" || op == "ELS" || op == "FIN"
}

func (in *Interpreter) countError(line Line, err error) {
	in.State.ErrorCount++
	if in.Log != nil {
		in.Log.Warn("script error", "line", line.Num, "op", line.Op, "error", err)
	}
}

func (in *Interpreter) exec(line Line) error {
	switch line.Op {
	case "DO":
		v := line.Cursor.Next()
		return in.State.Do(v.present && (v.num != 0))
	case "ELS":
		return in.State.Els()
	case "FIN":
		return in.State.Fin()

	case "LKV":
		v := line.Cursor.Next()
		if !v.present || v.num > 3 {
			return fmt.Errorf("LKV: expected 0..3")
		}
		in.State.LKV = int(v.num)
		return nil

	case "VER":
		v := line.Cursor.Next()
		if !v.present || v.num != 2 {
			return fmt.Errorf("VER: only version 2 is supported")
		}
		in.State.Ver = int(v.num)
		return nil

	case "TYP":
		v := line.Cursor.Next()
		if !v.present {
			return fmt.Errorf("TYP: missing operand")
		}
		ft, ok := ParseFileType(v.str)
		if !ok && v.isNum {
			ft, ok = uint16(v.num), true
		}
		if !ok {
			return fmt.Errorf("TYP: unrecognized file type %q", v.str)
		}
		in.State.FType = ft
		return nil

	case "ADR":
		v := line.Cursor.Next()
		if !v.present {
			return fmt.Errorf("ADR: missing operand")
		}
		in.State.AType = v.num
		return nil

	case "ORG":
		v := line.Cursor.Next()
		if !v.present {
			return fmt.Errorf("ORG: missing operand")
		}
		in.State.Org = v.num
		in.State.AType = v.num
		return nil

	case "KND":
		v := line.Cursor.Next()
		if !v.present {
			return fmt.Errorf("KND: missing operand")
		}
		in.Segs.Current().Kind = segment.Kind(v.num)
		return nil

	case "ALI":
		v := line.Cursor.Next()
		if !v.present || (v.num != 0 && v.num&(v.num-1) != 0) {
			return linkerr.Wrap(linkerr.Invariant, "ALI: must be 0 or a power of two")
		}
		in.Segs.Current().Align = v.num
		return nil

	case "DS":
		v := line.Cursor.Next()
		if !v.present {
			return fmt.Errorf("DS: missing operand")
		}
		in.Segs.Current().Reserve += int(v.num)
		return nil

	case "LNK":
		return in.opLNK(line)

	case "IMP":
		return in.opIMP(line)

	case "SAV":
		return in.opSAV(line)

	case "END":
		in.State.End = true
		if in.State.LKV == 2 {
			in.Segs.DropEmptyTrailing()
		}
		if in.State.SaveFile != "" {
			return in.writeOutput(in.State.SaveFile)
		}
		return nil

	case "EQ":
		return in.define(line, symtab.ScopeEQ)
	case "EQU":
		return in.define(line, symtab.ScopeEQU)
	case "GEQ":
		return in.define(line, symtab.ScopeGEQ)

	case "KBD":
		return in.opKBD(line)

	case "POS":
		return in.opPOS(line)

	case "LEN":
		return in.opLEN(line)

	case "EXT":
		v := line.Cursor.Next()
		if !v.present {
			return fmt.Errorf("EXT: missing operand")
		}
		return in.Syms.CopyGlobalToLocal(v.str)

	case "PFX":
		path, ok := line.Cursor.Path()
		if !ok {
			return fmt.Errorf("PFX: missing path")
		}
		in.WorkDir = filepath.Join(in.WorkDir, path)
		return nil

	case "OVR":
		v := line.Cursor.Next()
		if !v.present {
			return fmt.Errorf("OVR: missing operand")
		}
		in.State.OverwritePolicy = int(int32(v.num))
		return nil

	case "FAS":
		in.State.FastLink = true
		if in.Log != nil {
			in.Log.Debug("FAS: fast-link optimization requested (no-op)")
		}
		return nil

	case "DAT":
		fmt.Fprintln(in.Stdout, time.Now().Format("Mon Jan  2 15:04:05 2006"))
		return nil

	// Parsed-but-inert per spec §9's open question and SPEC_FULL.md §4.4.
	case "PUT", "IF", "ASM", "CMD", "RES", "RID", "RTY", "RAT", "FIL":
		return nil

	default:
		return fmt.Errorf("unknown opcode %q", line.Op)
	}
}

func (in *Interpreter) define(line Line, scope int) error {
	name := line.Label
	if name == "" {
		v := line.Cursor.Next()
		name = v.str
	}
	v := line.Cursor.Next()
	if name == "" || !v.present {
		return fmt.Errorf("%s: missing name or value", line.Op)
	}
	_, err := in.Syms.Define(name, v.num, true, 0, in.State.SaveFile, scope)
	if err != nil {
		if in.Log != nil {
			in.Log.Warn("symbol conflict", "name", name, "error", err)
		}
		return nil // warning only; first binding wins
	}
	return nil
}

func (in *Interpreter) opLNK(line Line) error {
	if in.State.End {
		return fmt.Errorf("LNK after END")
	}
	path, ok := line.Cursor.Path()
	if !ok {
		return fmt.Errorf("LNK: missing path")
	}
	return in.decodeUnit(filepath.Join(in.WorkDir, path))
}

// DecodeFile decodes one REL unit from disk into the current segment —
// the entry point direct-file mode (spec §6, no link script) uses for
// each argv input, reusing the same LoadUnit/Decode path as LNK.
func (in *Interpreter) DecodeFile(path string) error {
	return in.decodeUnit(path)
}

func (in *Interpreter) decodeUnit(path string) error {
	codeLen, data, err := in.LoadUnit(path)
	if err != nil {
		return linkerr.Wrap(linkerr.MissingInput, "%s: %v", path, err)
	}
	before := len(in.Segs.Current().Payload)
	tail := data
	if codeLen <= len(data) {
		tail = data[codeLen:]
	}
	codeBytes := data
	if codeLen <= len(data) {
		codeBytes = data[:codeLen]
	}
	if _, err := rel.Decode(in.Syms, in.Segs.Current(), path, codeBytes, codeLen, tail); err != nil {
		return err
	}
	after := len(in.Segs.Current().Payload)
	in.lastUnitLen = after - before
	in.State.PosVar += in.lastUnitLen
	in.State.LenVar = in.lastUnitLen
	return nil
}

func (in *Interpreter) opIMP(line Line) error {
	path, ok := line.Cursor.Path()
	if !ok {
		return fmt.Errorf("IMP: missing path")
	}
	full := filepath.Join(in.WorkDir, path)
	data, err := os.ReadFile(full)
	if err != nil {
		return linkerr.Wrap(linkerr.MissingInput, "%s: %v", full, err)
	}
	n := in.Segs.Current().Append(data)
	in.lastUnitLen = len(data)
	in.State.PosVar += len(data)
	in.State.LenVar = len(data)
	_ = n

	name := sanitizeSymbolName(filepath.Base(path))
	_, err = in.Syms.Define(name, uint32(len(in.Segs.Current().Payload)-len(data)), false, in.Segs.Current().Number, full, symtab.ScopeLinker)
	return err
}

// sanitizeSymbolName maps a path basename into a symbol name per spec
// §4.4's IMP contract: non-alphanumerics become '_', letters upper-cased.
func sanitizeSymbolName(base string) string {
	out := make([]byte, len(base))
	for i := 0; i < len(base); i++ {
		c := base[i]
		switch {
		case c >= 'a' && c <= 'z':
			out[i] = c - 'a' + 'A'
		case (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9'):
			out[i] = c
		default:
			out[i] = '_'
		}
	}
	return string(out)
}

func (in *Interpreter) opSAV(line Line) error {
	path, ok := line.Cursor.Path()
	if !ok {
		return fmt.Errorf("SAV: missing path")
	}
	if in.State.SaveFile == "" {
		in.State.SaveFile = path
		in.State.LoadName = filepath.Base(path)
	}

	switch in.State.LKV {
	case 0, 1:
		if err := in.writeOutput(path); err != nil {
			return err
		}
		in.Segs.Reset()
		return nil
	case 2:
		in.Segs.New(in.State.LoadName)
		return nil
	case 3:
		if err := in.writeOMFObject(path); err != nil {
			return err
		}
		in.Segs.Reset()
		return nil
	default:
		return fmt.Errorf("SAV: unsupported LKV %d", in.State.LKV)
	}
}

// checkOverwrite implements OVR's narrow real effect (SPEC_FULL.md §4.4):
// OvrNone refuses to clobber an existing file; OvrAll and the OvrOff
// default both allow it.
func (in *Interpreter) checkOverwrite(path string) error {
	if in.State.OverwritePolicy != OvrNone {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		return linkerr.Wrap(linkerr.Invariant, "SAV: %s already exists and OVR forbids overwriting it", path)
	}
	return nil
}

func (in *Interpreter) writeOutput(path string) error {
	if err := in.checkOverwrite(path); err != nil {
		return err
	}
	undef, err := resolve.Resolve(in.Syms, in.Segs.All(), resolve.Options{})
	if err != nil {
		return err
	}
	if len(undef) > 0 {
		return linkerr.Wrap(linkerr.Unresolved, "%d unresolved symbol(s) at write time", len(undef))
	}
	var w omfio.ContainerWriter = in.OMFWriter
	if in.State.LKV == 0 {
		w = in.BinWriter
	}
	if err := w.Write(path, in.Segs.All()); err != nil {
		return linkerr.Wrap(linkerr.IOFailure, "%v", err)
	}
	return filetype.Set(context.Background(), in.Log, path, in.State.FType, in.State.AType)
}

func (in *Interpreter) writeOMFObject(path string) error {
	if err := in.checkOverwrite(path); err != nil {
		return err
	}
	_, err := resolve.Resolve(in.Syms, in.Segs.All(), resolve.Options{AllowUnresolved: true})
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return linkerr.Wrap(linkerr.IOFailure, "%v", err)
	}
	defer f.Close()
	for _, seg := range in.Segs.All() {
		if _, err := f.Write(omfobj.Emit(in.Syms, seg)); err != nil {
			return linkerr.Wrap(linkerr.IOFailure, "%v", err)
		}
	}
	return filetype.Set(context.Background(), in.Log, path, in.State.FType, in.State.AType)
}

func (in *Interpreter) opKBD(line Line) error {
	name := line.Label
	if name == "" {
		v := line.Cursor.Next()
		name = v.str
	}
	if name == "" {
		return fmt.Errorf("KBD: missing name")
	}
	if _, ok := in.Syms.FindLocal(name); ok {
		return nil // already script-local defined
	}

	var value uint32
	if in.IsTTY != nil && in.IsTTY() {
		fmt.Fprintf(in.Stdout, "%s? ", name)
		reader := bufio.NewReader(in.Stdin)
		text, _ := reader.ReadString('\n')
		if v, err := parseNumber(strings.TrimSpace(text)); err == nil {
			value = v
		}
	}
	_, err := in.Syms.Define(name, value, true, 0, in.State.SaveFile, symtab.ScopeKBD)
	return err
}

func (in *Interpreter) opPOS(line Line) error {
	v := line.Cursor.Next()
	if !v.present {
		in.State.PosVar = 0
		return nil
	}
	_, err := in.Syms.Define(v.str, uint32(in.State.PosVar), true, 0, in.State.SaveFile, symtab.ScopePOS)
	return err
}

func (in *Interpreter) opLEN(line Line) error {
	v := line.Cursor.Next()
	if !v.present {
		return fmt.Errorf("LEN: missing label")
	}
	_, err := in.Syms.Define(v.str, uint32(in.State.LenVar), true, 0, in.State.SaveFile, symtab.ScopeLEN)
	return err
}
