// Package omfio implements the two out-of-scope "external collaborator"
// writers named in spec §1: the binary (non-OMF) writer and a simplified
// OMF container writer. Neither claims full Apple IIgs OMF v2 conformance
// (that belongs to the real, out-of-scope OMF encoder); they exist so the
// script interpreter's SAV/END opcodes have something real to call end to
// end. The little-endian header-then-payload shape follows the teacher's
// own writers (gmofishsauce-wut4/lang/yld/output.go writeExecutable,
// gmofishsauce-wut4/asm/output.go writeOutput/writeU16).
package omfio

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/ksherlock/merlin-utils/internal/segment"
)

// ContainerWriter is the interface the script interpreter and direct-file
// CLI mode call through, so the out-of-scope writer is swappable.
type ContainerWriter interface {
	Write(path string, segs []*segment.Segment) error
}

// BinWriter concatenates segment payloads in segment-number order with no
// container at all (LKV 0).
type BinWriter struct{}

func (BinWriter) Write(path string, segs []*segment.Segment) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()
	for _, s := range segs {
		if _, err := f.Write(s.Payload); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}
	return nil
}

// magicOMF is a local magic number for the simplified container; it does
// not correspond to any real Apple IIgs OMF signature.
const magicOMF = 0x4f4d46 // "OMF" packed into 3 bytes, little-endian-friendly

// Writer emits the simplified single/multi-segment OMF subset used for
// LKV 1/2 (spec §4.4 SAV semantics): a header record followed by one
// DATA+RELOC+INTERSEG block per segment, terminated by END.
type Writer struct{}

func (Writer) Write(path string, segs []*segment.Segment) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	if err := writeU32(f, magicOMF); err != nil {
		return err
	}
	if err := writeU16(f, uint16(len(segs))); err != nil {
		return err
	}

	for _, s := range segs {
		if err := writeSegment(f, s); err != nil {
			return fmt.Errorf("writing segment %q: %w", s.Name, err)
		}
	}

	_, err = f.Write([]byte{0x00}) // END
	return err
}

func writeSegment(f *os.File, s *segment.Segment) error {
	name := padName(s.Name)
	if _, err := f.Write(name[:]); err != nil {
		return err
	}
	if err := writeU16(f, uint16(s.Kind)); err != nil {
		return err
	}
	if err := writeU32(f, s.Align); err != nil {
		return err
	}
	if err := writeU32(f, uint32(len(s.Payload))); err != nil {
		return err
	}
	if _, err := f.Write(s.Payload); err != nil {
		return err
	}
	if err := writeU16(f, uint16(len(s.Intra))); err != nil {
		return err
	}
	for _, r := range s.Intra {
		if err := writeU32(f, uint32(r.Offset)); err != nil {
			return err
		}
		if err := writeU32(f, r.Value); err != nil {
			return err
		}
		if _, err := f.Write([]byte{byte(r.Size), byte(r.Shift)}); err != nil {
			return err
		}
	}
	if err := writeU16(f, uint16(len(s.Inter))); err != nil {
		return err
	}
	for _, r := range s.Inter {
		if err := writeU32(f, uint32(r.Offset)); err != nil {
			return err
		}
		if err := writeU16(f, uint16(r.TargetSeg)); err != nil {
			return err
		}
		if err := writeU32(f, r.TargetOff); err != nil {
			return err
		}
		if _, err := f.Write([]byte{byte(r.Size), byte(r.Shift)}); err != nil {
			return err
		}
	}
	return nil
}

// padName space-pads/truncates a segment or load name to 10 bytes, per
// spec §3's Segment attribute description.
func padName(name string) [10]byte {
	var out [10]byte
	for i := range out {
		out[i] = ' '
	}
	copy(out[:], name)
	return out
}

func writeU16(f *os.File, v uint16) error {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	_, err := f.Write(b)
	return err
}

func writeU32(f *os.File, v uint32) error {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	_, err := f.Write(b)
	return err
}
