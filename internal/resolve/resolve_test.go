package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksherlock/merlin-utils/internal/segment"
	"github.com/ksherlock/merlin-utils/internal/symtab"
)

func TestResolve_AbsoluteFixupWritesBytes(t *testing.T) {
	syms := symtab.New()
	id, err := syms.Define("Foo", 0x001234, true, 0, "a.rel", symtab.ScopeLinker)
	require.NoError(t, err)

	seg := segment.New(1, "")
	seg.Append(make([]byte, 3))
	seg.Pending = append(seg.Pending, segment.Pending{Size: 2, Offset: 0, Target: id})

	undef, err := Resolve(syms, []*segment.Segment{seg}, Options{})
	require.NoError(t, err)
	assert.Empty(t, undef)
	assert.Equal(t, byte(0x34), seg.Payload[0])
	assert.Equal(t, byte(0x12), seg.Payload[1])
	assert.Empty(t, seg.Pending)
}

func TestResolve_ArithmeticRightShift(t *testing.T) {
	syms := symtab.New()
	id, err := syms.Define("Bank", 0x7fffff, true, 0, "a.rel", symtab.ScopeLinker)
	require.NoError(t, err)

	seg := segment.New(1, "")
	seg.Append(make([]byte, 1))
	seg.Pending = append(seg.Pending, segment.Pending{Size: 1, Offset: 0, Target: id, Shift: -16})

	_, err = Resolve(syms, []*segment.Segment{seg}, Options{})
	require.NoError(t, err)
	// 0x7fffff >> 16 = 0x7f
	assert.Equal(t, byte(0x7f), seg.Payload[0])
}

func TestResolve_IntraSegment(t *testing.T) {
	syms := symtab.New()
	seg := segment.New(1, "")
	id, err := syms.Define("Label", 10, false, 1, "a.rel", symtab.ScopeLinker)
	require.NoError(t, err)
	seg.Pending = append(seg.Pending, segment.Pending{Size: 2, Offset: 4, Target: id, Addend: 0})

	undef, err := Resolve(syms, []*segment.Segment{seg}, Options{})
	require.NoError(t, err)
	assert.Empty(t, undef)
	require.Len(t, seg.Intra, 1)
	assert.Equal(t, uint32(10), seg.Intra[0].Value)
}

func TestResolve_InterSegment(t *testing.T) {
	syms := symtab.New()
	segA := segment.New(1, "")
	segB := segment.New(2, "")
	id, err := syms.Define("Other", 20, false, 2, "b.rel", symtab.ScopeLinker)
	require.NoError(t, err)
	segA.Pending = append(segA.Pending, segment.Pending{Size: 2, Offset: 0, Target: id})

	_, err = Resolve(syms, []*segment.Segment{segA, segB}, Options{})
	require.NoError(t, err)
	require.Len(t, segA.Inter, 1)
	assert.Equal(t, 2, segA.Inter[0].TargetSeg)
	assert.Equal(t, uint32(20), segA.Inter[0].TargetOff)
}

func TestResolve_UndefinedErrorsByDefault(t *testing.T) {
	syms := symtab.New()
	seg := segment.New(1, "")
	id, _ := syms.Find("Missing", true)
	seg.Pending = append(seg.Pending, segment.Pending{Size: 1, Offset: 0, Target: id})

	_, err := Resolve(syms, []*segment.Segment{seg}, Options{})
	assert.Error(t, err)
}

func TestResolve_AllowUnresolvedRetainsPending(t *testing.T) {
	syms := symtab.New()
	seg := segment.New(1, "")
	id, _ := syms.Find("Missing", true)
	seg.Pending = append(seg.Pending, segment.Pending{Size: 1, Offset: 0, Target: id})

	undef, err := Resolve(syms, []*segment.Segment{seg}, Options{AllowUnresolved: true})
	require.NoError(t, err)
	assert.Equal(t, []symtab.ID{id}, undef)
	require.Len(t, seg.Unresolved, 1)
}

func TestResolve_SortsByOffset(t *testing.T) {
	syms := symtab.New()
	seg := segment.New(1, "")
	idA, _ := syms.Define("A", 1, false, 1, "a.rel", symtab.ScopeLinker)
	idB, _ := syms.Define("B", 2, false, 1, "a.rel", symtab.ScopeLinker)
	seg.Pending = append(seg.Pending,
		segment.Pending{Size: 1, Offset: 10, Target: idB},
		segment.Pending{Size: 1, Offset: 2, Target: idA},
	)

	_, err := Resolve(syms, []*segment.Segment{seg}, Options{})
	require.NoError(t, err)
	require.Len(t, seg.Intra, 2)
	assert.Equal(t, 2, seg.Intra[0].Offset)
	assert.Equal(t, 10, seg.Intra[1].Offset)
}
