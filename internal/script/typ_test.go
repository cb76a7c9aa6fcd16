package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFileType_Mnemonic(t *testing.T) {
	v, ok := ParseFileType("bin")
	require.True(t, ok)
	assert.Equal(t, uint16(0x06), v)
}

func TestParseFileType_Numeric(t *testing.T) {
	v, ok := ParseFileType("$b3")
	require.True(t, ok)
	assert.Equal(t, uint16(0xb3), v)
}

func TestParseFileType_Unknown(t *testing.T) {
	_, ok := ParseFileType("nope")
	assert.False(t, ok)
}

func TestParseFileType_OutOfRange(t *testing.T) {
	_, ok := ParseFileType("$1ff")
	assert.False(t, ok)
}

func TestParseDefine_NoValueDefaultsToOne(t *testing.T) {
	name, v, err := ParseDefine("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, "DEBUG", name)
	assert.Equal(t, uint32(1), v)
}

func TestParseDefine_HexValue(t *testing.T) {
	name, v, err := ParseDefine("BASE=$C000")
	require.NoError(t, err)
	assert.Equal(t, "BASE", name)
	assert.Equal(t, uint32(0xC000), v)
}

func TestParseDefine_BinaryValue(t *testing.T) {
	_, v, err := ParseDefine("FLAGS=%101")
	require.NoError(t, err)
	assert.Equal(t, uint32(5), v)
}

func TestParseDefine_0xPrefix(t *testing.T) {
	_, v, err := ParseDefine("ADDR=0x2000")
	require.NoError(t, err)
	assert.Equal(t, uint32(0x2000), v)
}

func TestParseDefine_DecimalValue(t *testing.T) {
	_, v, err := ParseDefine("COUNT=42")
	require.NoError(t, err)
	assert.Equal(t, uint32(42), v)
}

func TestParseDefine_BadDigitErrors(t *testing.T) {
	_, _, err := ParseDefine("X=$ZZ")
	assert.Error(t, err)
}
