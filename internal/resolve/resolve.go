// Package resolve implements the resolver (spec §4.3): it folds each
// segment's pending external relocations into either constant fixups
// (written directly into the payload), intra-segment relocations, or
// inter-segment relocations, once all units have been decoded.
//
// It generalizes the teacher's relocate() phase
// (gmofishsauce-wut4/lang/yld/linker.go), which only ever resolved against
// two fixed sections with two instruction-encoding patch shapes, into the
// REL spec's symbol-table-driven sum type over four relocation kinds.
package resolve

import (
	"encoding/binary"
	"sort"

	"github.com/ksherlock/merlin-utils/internal/linkerr"
	"github.com/ksherlock/merlin-utils/internal/segment"
	"github.com/ksherlock/merlin-utils/internal/symtab"
)

// Options controls resolver behavior.
type Options struct {
	// AllowUnresolved, when true, retains pending relocations whose
	// target is still undefined instead of erroring (used by the
	// REL→OMF-object emitter, linker version 3).
	AllowUnresolved bool
}

// Resolve processes every segment's pending list, in place, against syms.
// With opts.AllowUnresolved it returns the target of every relocation
// retained as unresolved; without it, the first undefined target is
// returned as an Unresolved error and the list is empty.
func Resolve(syms *symtab.Table, segs []*segment.Segment, opts Options) ([]symtab.ID, error) {
	var stillUndefined []symtab.ID

	for _, seg := range segs {
		var remaining []segment.Pending
		for _, p := range seg.Pending {
			sym := syms.Get(p.Target)
			if !sym.Defined {
				if opts.AllowUnresolved {
					seg.Unresolved = append(seg.Unresolved, p)
					stillUndefined = append(stillUndefined, p.Target)
					continue
				}
				return nil, linkerr.Wrap(linkerr.Unresolved, "undefined symbol %q", sym.Name)
			}

			switch {
			case sym.Absolute:
				if err := applyFixup(seg, p, sym.Value); err != nil {
					return nil, err
				}

			case sym.Segment == seg.Number:
				seg.Intra = append(seg.Intra, segment.IntraReloc{
					Size:   p.Size,
					Offset: p.Offset,
					Shift:  p.Shift,
					Value:  p.Addend + sym.Value,
				})

			default:
				seg.Inter = append(seg.Inter, segment.InterReloc{
					Size:      p.Size,
					Offset:    p.Offset,
					Shift:     p.Shift,
					TargetSeg: sym.Segment,
					TargetOff: p.Addend + sym.Value,
				})
			}
		}
		seg.Pending = remaining

		if err := seg.CheckBankSize(); err != nil {
			return nil, linkerr.Wrap(linkerr.Invariant, "%v", err)
		}

		sortRelocs(seg)
	}

	return stillUndefined, nil
}

// applyFixup computes value+addend, arithmetic-right-shifts by |shift|
// (shift is stored unsigned-in-an-int8 but interpreted as signed — spec §9
// warns against unsigned negation here), and writes size little-endian
// bytes into the payload at offset. No relocation record is emitted.
func applyFixup(seg *segment.Segment, p segment.Pending, symValue uint32) error {
	v := int64(symValue) + int64(p.Addend)
	if p.Shift < 0 {
		v >>= uint(-int(p.Shift))
	} else if p.Shift > 0 {
		v <<= uint(p.Shift)
	}
	value := uint32(v)

	if p.Offset+int(p.Size) > len(seg.Payload) {
		return linkerr.Wrap(linkerr.Malformed, "fixup at +0x%x out of bounds in segment %q", p.Offset, seg.Name)
	}

	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, value)
	copy(seg.Payload[p.Offset:p.Offset+int(p.Size)], buf[:p.Size])
	return nil
}

// sortRelocs orders the intra/inter/unresolved lists by ascending offset,
// per spec §4.3 ("After resolution the ... lists are each sorted").
func sortRelocs(seg *segment.Segment) {
	sort.SliceStable(seg.Intra, func(i, j int) bool { return seg.Intra[i].Offset < seg.Intra[j].Offset })
	sort.SliceStable(seg.Inter, func(i, j int) bool { return seg.Inter[i].Offset < seg.Inter[j].Offset })
	sort.SliceStable(seg.Unresolved, func(i, j int) bool { return seg.Unresolved[i].Offset < seg.Unresolved[j].Offset })
}
