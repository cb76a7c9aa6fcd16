// Package omfobj implements linker version 3 (LKV 3): REL→OMF-object mode
// (spec §4.5). Instead of producing a loadable image, it runs the resolver
// with unresolved externals allowed and emits a single record stream that
// interleaves literal data, GEQU/GLOBAL declarations, and EXPR relocation
// records in offset order.
//
// The record opcodes here are a self-contained subset chosen to satisfy
// spec §8 property 7 (the stream reconstructs the original payload when
// GLOBAL/EXPR records are stripped) — byte-for-byte compatibility with the
// real Apple IIgs OMF encoder is explicitly out of scope (spec §1), so the
// opcode values are local constants, not the upstream tool's.
package omfobj

import (
	"encoding/binary"
	"sort"

	"github.com/ksherlock/merlin-utils/internal/segment"
	"github.com/ksherlock/merlin-utils/internal/symtab"
)

// Record opcodes.
const (
	opEND    = 0x00
	opLCONST = 0xf2 // + u32 length + raw bytes
	opGEQU   = 0xe2 // + pname + lenAttr(0) + 'G' + u32 value
	opGLOBAL = 0xe8 // + pname + lenAttr(0) + 'N' + public(0)
	opEXPR   = 0xe1 // + size byte + postfix expr + terminator

	exprLabel  = 0x83 // + pname, external label reference
	exprConst  = 0x81 // + u32, push constant
	exprAddr   = 0x87 // + u32, relocatable address
	exprAdd    = 0x01 // binary add of top two
	exprRShift = 0x07 // binary arithmetic right shift
	exprEnd    = 0x00
)

const dataOpcodeMax = 0xdf

// breakpoint collects what sits at one payload offset, so Emit can write
// the GLOBAL records first and then a single EXPR: the unresolved
// relocation's if there is one, otherwise the resolved relocation's.
type breakpoint struct {
	offset   int
	globals  []symtab.ID
	unres    *segment.Pending
	resolved *resolvedAt
}

type resolvedAt struct {
	size  segment.RelocSize
	value uint32
}

// Emit renders seg's payload as an OMF-object record stream. syms supplies
// symbol names/values; seg must already have been resolved with
// resolve.Options{AllowUnresolved: true}.
func Emit(syms *symtab.Table, seg *segment.Segment) []byte {
	var out []byte

	// Step 1: one GEQU per globally-defined absolute symbol.
	for _, sym := range syms.All() {
		if sym.Defined && sym.Absolute {
			out = append(out, opGEQU)
			out = append(out, pascalString(sym.Name)...)
			out = append(out, 0) // length-attr
			out = append(out, 'G')
			out = append(out, u32le(sym.Value)...)
		}
	}

	breaks := collectBreakpoints(syms, seg)

	prev := 0
	for _, bp := range breaks {
		if bp.offset > prev {
			out = append(out, encodeData(seg.Payload[prev:bp.offset])...)
		}
		for _, id := range bp.globals {
			sym := syms.Get(id)
			out = append(out, opGLOBAL)
			out = append(out, pascalString(sym.Name)...)
			out = append(out, 0) // length-attr
			out = append(out, 'N')
			out = append(out, 0) // public flag
		}
		advance := bp.offset
		if bp.unres != nil {
			sym := syms.Get(bp.unres.Target)
			out = append(out, encodeExpr(int(bp.unres.Size), exprOperand{label: sym.Name}, bp.unres.Addend, bp.unres.Shift)...)
			advance = bp.offset + int(bp.unres.Size)
		} else if bp.resolved != nil {
			out = append(out, encodeExpr(int(bp.resolved.size), exprOperand{addr: bp.resolved.value}, 0, 0)...)
			advance = bp.offset + int(bp.resolved.size)
		}
		prev = advance
	}
	if prev < len(seg.Payload) {
		out = append(out, encodeData(seg.Payload[prev:])...)
	}

	out = append(out, opEND)
	return out
}

type exprOperand struct {
	label string // if non-empty, exprLabel form
	addr  uint32 // else exprAddr form
}

func encodeExpr(size int, operand exprOperand, addend uint32, shift int8) []byte {
	var body []byte
	if operand.label != "" {
		body = append(body, exprLabel)
		body = append(body, pascalString(operand.label)...)
	} else {
		body = append(body, exprAddr)
		body = append(body, u32le(operand.addr)...)
	}
	if addend != 0 {
		body = append(body, exprConst)
		body = append(body, u32le(addend)...)
		body = append(body, exprAdd)
	}
	if shift != 0 {
		body = append(body, exprConst)
		body = append(body, u32le(uint32(int32(shift)))...)
		body = append(body, exprRShift)
	}
	body = append(body, exprEnd)

	out := []byte{opEXPR, byte(size)}
	out = append(out, body...)
	return out
}

func encodeData(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	if len(b) <= dataOpcodeMax {
		out := make([]byte, 0, 1+len(b))
		out = append(out, byte(len(b)))
		out = append(out, b...)
		return out
	}
	out := make([]byte, 0, 5+len(b))
	out = append(out, opLCONST)
	out = append(out, u32le(uint32(len(b)))...)
	out = append(out, b...)
	return out
}

func collectBreakpoints(syms *symtab.Table, seg *segment.Segment) []breakpoint {
	byOffset := make(map[int]*breakpoint)
	order := func(off int) *breakpoint {
		bp, ok := byOffset[off]
		if !ok {
			bp = &breakpoint{offset: off}
			byOffset[off] = bp
		}
		return bp
	}

	for _, sym := range syms.All() {
		if sym.Defined && !sym.Absolute && sym.Segment == seg.Number {
			order(int(sym.Value)).globals = append(order(int(sym.Value)).globals, sym.ID)
		}
	}
	for _, r := range seg.Unresolved {
		p := r
		order(r.Offset).unres = &p
	}
	for _, r := range seg.Intra {
		order(r.Offset).resolved = &resolvedAt{size: r.Size, value: r.Value}
	}

	offsets := make([]int, 0, len(byOffset))
	for off := range byOffset {
		offsets = append(offsets, off)
	}
	sort.Ints(offsets)

	out := make([]breakpoint, 0, len(offsets))
	for _, off := range offsets {
		bp := byOffset[off]
		sort.Slice(bp.globals, func(i, j int) bool {
			return syms.Get(bp.globals[i]).Name < syms.Get(bp.globals[j]).Name
		})
		out = append(out, *bp)
	}
	return out
}

func pascalString(s string) []byte {
	out := make([]byte, 0, 1+len(s))
	out = append(out, byte(len(s)))
	out = append(out, s...)
	return out
}

func u32le(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}
