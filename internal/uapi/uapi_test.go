package uapi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalHeaderRoundTrip(t *testing.T) {
	h := &OpHeader{
		Code:   OpWrite,
		Err:    -5,
		Offset: 128,
		Len:    64,
		Flags:  FlagTmpfile,
		SBID:   1,
		InoID:  2,
		Ino2ID: 3,
	}

	buf := MarshalHeader(h)
	require.Len(t, buf, HeaderSize)

	got, err := UnmarshalHeader(buf)
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestUnmarshalHeaderShortBufferErrors(t *testing.T) {
	_, err := UnmarshalHeader(make([]byte, HeaderSize-1))
	require.ErrorIs(t, err, ErrShortBuffer)
}

func TestPutHeaderWritesInPlace(t *testing.T) {
	h := &OpHeader{Code: OpRead, SBID: 42}
	buf := make([]byte, HeaderSize)
	PutHeader(buf, h)

	got, err := UnmarshalHeader(buf)
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestOpCodeStringKnownAndUnknown(t *testing.T) {
	require.Equal(t, "STATFS", OpStatfs.String())
	require.Equal(t, "READ", OpRead.String())
	require.Equal(t, "UNKNOWN", OpCode(999).String())
}

func TestAllOpCodesExcludesSentinel(t *testing.T) {
	codes := AllOpCodes()
	for _, c := range codes {
		require.NotEqual(t, "UNKNOWN", c.String(), "op code %d has no name entry", c)
	}
	require.Contains(t, codes, OpNull)
	require.Contains(t, codes, OpBreak)
	require.NotContains(t, codes, opCodeCount)
}

func TestMountEventFlagConstantsDistinct(t *testing.T) {
	require.NotEqual(t, FlagTmpfile, FlagLookupRace)
}
