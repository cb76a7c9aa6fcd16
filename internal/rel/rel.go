// Package rel implements the REL decoder (spec §4.2): it consumes a single
// relocatable unit's label and relocation record streams and folds them
// into a growing segment, producing pending external relocations and
// resolved intra-segment relocations.
//
// It follows the same "fixed header, then typed record streams" shape as
// the teacher's WOF reader (gmofishsauce-wut4/lang/yld/reader.go), but the
// REL record grammar itself — variable-length label records, the
// SYMBOL_EXTERNAL/ENTRY/ABSOLUTE flag bits, and the standard/shift-extension
// relocation records — is grounded in original_source/rel.h and
// original_source/link.cpp's process_labels/process_reloc.
package rel

import (
	"fmt"

	"github.com/ksherlock/merlin-utils/internal/linkerr"
	"github.com/ksherlock/merlin-utils/internal/segment"
	"github.com/ksherlock/merlin-utils/internal/symtab"
)

// Label record flag bits, from original_source/rel.h.
const (
	symbolAbsolute = 0x20
	symbolEntry    = 0x40
	symbolExternal = 0x80
)

// Relocation record flag bits, from original_source/rel.h.
const (
	flagExternal = 0x10
	flag3Byte    = 0x20
	flag2Byte    = 0x80
	flagShiftExt = 0xff
)

// Shift-extension sub-flags.
const (
	shift16_1     = 0xd0
	shift8_2      = 0xd1
	shift8_1      = 0xd3
	shiftExternal = 0x04
)

// dsFillPending marks "record the fill byte k|0x0100 and stop" in the
// decoder's internal bookkeeping — the 0x0100 bit distinguishes "no fill
// requested" (ds_fill unset) from fill byte 0x00.
const dsFillPending = 0x0100

// Cookie is the ephemeral per-unit decoding context from spec §3.
type Cookie struct {
	SourceFile string
	Remap      []symtab.ID // unit-local external index -> global symbol id
	Begin      int         // offset where this unit's bytes start in the segment
	End        int         // Begin + unit code length
	DSFill     int         // -1 if unset, else 0x100|fillByte
}

// Decode parses one REL unit (code bytes followed by a relocation stream
// then a label stream, spec §4.2) into seg, starting at the segment's
// current payload length. codeLen is the unit's "aux type" (out-of-band
// code length per spec §4.2).
//
// Decoding proceeds in the two passes spec §4.2 describes: the relocation
// stream is scanned first only to find the label stream's start; labels
// are processed fully (interning externals eagerly so relocations can look
// them up); then the relocation stream is decoded for real.
func Decode(syms *symtab.Table, seg *segment.Segment, sourceFile string, codeBytes []byte, codeLen int, tail []byte) (*Cookie, error) {
	if codeLen < 0 || codeLen > len(codeBytes) {
		return nil, linkerr.Wrap(linkerr.Malformed, "%s: code length %d exceeds supplied bytes (%d)", sourceFile, codeLen, len(codeBytes))
	}

	cookie := &Cookie{SourceFile: sourceFile, DSFill: -1}
	cookie.Begin = seg.Append(codeBytes[:codeLen])
	cookie.End = cookie.Begin + codeLen

	relocStream, labelStream, err := splitStreams(tail)
	if err != nil {
		return nil, linkerr.Wrap(linkerr.Malformed, "%s: %v", sourceFile, err)
	}

	if err := decodeLabels(syms, cookie, seg.Number, labelStream); err != nil {
		return nil, linkerr.Wrap(linkerr.Malformed, "%v", err)
	}

	fill, err := decodeRelocs(syms, seg, cookie, relocStream)
	if err != nil {
		return nil, linkerr.Wrap(linkerr.Malformed, "%v", err)
	}
	cookie.DSFill = fill

	if cookie.DSFill >= 0 {
		seg.PadTo256(byte(cookie.DSFill & 0xff))
	}

	if err := seg.CheckBankSize(); err != nil {
		return cookie, linkerr.Wrap(linkerr.Invariant, "%v", err)
	}

	return cookie, nil
}

// splitStreams scans the relocation-record stream just far enough to find
// its 0x00 terminator (without interpreting the records), then returns
// both the full relocation stream and the label stream that follows it.
// This mirrors original_source/link.cpp's process_unit, which does the
// same "skip, then decode" two-pass split.
func splitStreams(tail []byte) (relocStream, labelStream []byte, err error) {
	i := 0
	for {
		if i >= len(tail) {
			return nil, nil, fmt.Errorf("truncated relocation stream")
		}
		if tail[i] == 0x00 {
			i++
			break
		}
		if i+4 > len(tail) {
			return nil, nil, fmt.Errorf("truncated relocation record")
		}
		if tail[i] == flagShiftExt {
			if i+8 > len(tail) {
				return nil, nil, fmt.Errorf("truncated shift-extension relocation record")
			}
			i += 8
		} else {
			i += 4
		}
	}
	return tail[:i], tail[i:], nil
}

// decodeLabels processes the label-record stream (spec §4.2.1), eagerly
// interning external declarations into cookie.Remap and recording entry
// definitions. Relative entries are defined in segment segNum.
func decodeLabels(syms *symtab.Table, cookie *Cookie, segNum int, data []byte) error {
	for {
		if len(data) == 0 {
			return fmt.Errorf("%s: truncated label stream", cookie.SourceFile)
		}
		flag := data[0]
		if flag == 0 {
			return nil
		}
		length := int(flag & 0x1f)
		if length == 0 {
			return fmt.Errorf("%s: zero-length label record with nonzero flag 0x%02x", cookie.SourceFile, flag)
		}
		if len(data) < 1+length+3 {
			return fmt.Errorf("%s: truncated label record", cookie.SourceFile)
		}
		name := string(data[1 : 1+length])
		value := uint32(data[1+length]) | uint32(data[2+length])<<8 | uint32(data[3+length])<<16
		data = data[1+length+3:]

		kind := flag &^ 0x1f
		switch kind {
		case symbolExternal:
			isEXD := value&0x800000 != 0
			idx := value & 0x7fff
			id, _ := syms.Find(name, true)
			if int(idx)+1 > len(cookie.Remap) {
				grown := make([]symtab.ID, idx+1)
				copy(grown, cookie.Remap)
				cookie.Remap = grown
			}
			cookie.Remap[idx] = id
			if isEXD {
				syms.Ref(id).EXD = true
			}

		case symbolEntry:
			defValue := value - 0x8000 + uint32(cookie.Begin)
			if _, err := syms.Define(name, defValue, false, segNum, cookie.SourceFile, symtab.ScopeLinker); err != nil {
				// warning only: first definition wins (spec §4.1)
				continue
			}

		case symbolEntry | symbolAbsolute:
			if _, err := syms.Define(name, value, true, 0, cookie.SourceFile, symtab.ScopeLinker); err != nil {
				continue
			}

		default:
			return fmt.Errorf("%s: bad label flag 0x%02x", cookie.SourceFile, flag)
		}
	}
}

// decodeRelocs processes the relocation-record stream (spec §4.2.2),
// reading inline addends from the already-copied segment payload (and
// zeroing them), and returns the requested DS-fill value (-1 if none).
func decodeRelocs(syms *symtab.Table, seg *segment.Segment, cookie *Cookie, data []byte) (int, error) {
	dsFill := -1
	for {
		if len(data) == 0 {
			return dsFill, fmt.Errorf("%s: truncated relocation stream", cookie.SourceFile)
		}
		flag := data[0]
		if flag == 0 {
			return dsFill, nil
		}
		if len(data) < 4 {
			return dsFill, fmt.Errorf("%s: truncated relocation record", cookie.SourceFile)
		}
		offset := int(data[1]) | int(data[2])<<8
		x := data[3]
		data = data[4:]

		if flag == flagShiftExt {
			if len(data) < 4 {
				return dsFill, fmt.Errorf("%s: truncated shift-extension record", cookie.SourceFile)
			}
			subFlag := data[0]
			addend := uint32(data[1]) | uint32(data[2])<<8 | uint32(data[3])<<16
			data = data[4:]
			addend -= 0x8000

			var size segment.RelocSize
			var shift int8
			switch subFlag &^ shiftExternal {
			case shift16_1:
				size, shift = 1, -16
			case shift8_2:
				size, shift = 2, -8
			case shift8_1:
				size, shift = 1, -8
			default:
				return dsFill, fmt.Errorf("%s: bad shift-extension sub-flag 0x%02x", cookie.SourceFile, subFlag)
			}
			external := subFlag&shiftExternal != 0

			if err := emitReloc(syms, seg, cookie, external, size, cookie.Begin+offset, addend, shift, x); err != nil {
				return dsFill, err
			}
			continue
		}

		if flag == 0xc0 {
			dsFill = int(x) | dsFillPending
			return dsFill, nil
		}

		if flag&0x40 != 0 && flag != 0xc0 {
			// 0x40: "value is already shifted" -- rejected per spec §9's
			// open question (untested interaction with DDB in the source).
			return dsFill, linkerr.Wrap(linkerr.Malformed, "%s: unsupported pre-shifted relocation flag 0x%02x", cookie.SourceFile, flag)
		}

		if flag&(flag2Byte|flag3Byte) == (flag2Byte | flag3Byte) {
			// DDB: inline big-endian 2-byte value, expands to two 1-byte relocs.
			absOff := cookie.Begin + offset
			if absOff+2 > len(seg.Payload) {
				return dsFill, linkerr.Wrap(linkerr.Malformed, "%s: DDB relocation out of bounds", cookie.SourceFile)
			}
			hi := seg.Payload[absOff]
			lo := seg.Payload[absOff+1]
			addend := uint32(hi)<<8 | uint32(lo)
			seg.Payload[absOff] = 0
			seg.Payload[absOff+1] = 0

			external := flag&flagExternal != 0
			if err := emitReloc(syms, seg, cookie, external, 1, absOff, addend, -8, x); err != nil {
				return dsFill, err
			}
			if err := emitReloc(syms, seg, cookie, external, 1, absOff+1, addend, 0, x); err != nil {
				return dsFill, err
			}
			continue
		}

		var size segment.RelocSize
		switch flag & (flag2Byte | flag3Byte) {
		case 0:
			size = 1
		case flag3Byte:
			size = 3
		case flag2Byte:
			size = 2
		default:
			return dsFill, fmt.Errorf("%s: bad relocation size flag 0x%02x", cookie.SourceFile, flag)
		}
		external := flag&flagExternal != 0

		absOff := cookie.Begin + offset
		if absOff+int(size) > len(seg.Payload) {
			return dsFill, linkerr.Wrap(linkerr.Malformed, "%s: relocation at +0x%x out of bounds", cookie.SourceFile, offset)
		}
		var addend uint32
		for i := int(size) - 1; i >= 0; i-- {
			addend = addend<<8 | uint32(seg.Payload[absOff+i])
		}
		for i := 0; i < int(size); i++ {
			seg.Payload[absOff+i] = 0
		}
		if size > 1 {
			addend -= 0x8000
		}

		if err := emitReloc(syms, seg, cookie, external, size, absOff, addend, 0, x); err != nil {
			return dsFill, err
		}
	}
}

// emitReloc records a single decoded relocation: external references
// become pending (remapped through cookie.Remap, bumping the target's
// reference count); non-external references are resolved immediately as
// intra-segment relocations at absOff whose value is addend plus
// cookie.Begin.
func emitReloc(syms *symtab.Table, seg *segment.Segment, cookie *Cookie, external bool, size segment.RelocSize, absOff int, addend uint32, shift int8, localIdx byte) error {
	if external {
		idx := int(localIdx)
		if idx >= len(cookie.Remap) {
			return linkerr.Wrap(linkerr.Malformed, "%s: external relocation references undeclared local index %d", cookie.SourceFile, idx)
		}
		target := cookie.Remap[idx]
		syms.IncRef(target)
		seg.Pending = append(seg.Pending, segment.Pending{
			Size:   size,
			Offset: absOff,
			Addend: addend,
			Shift:  shift,
			Target: target,
		})
		return nil
	}
	seg.Intra = append(seg.Intra, segment.IntraReloc{
		Size:   size,
		Offset: absOff,
		Shift:  shift,
		Value:  addend + uint32(cookie.Begin),
	})
	return nil
}
