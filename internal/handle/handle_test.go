package handle

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIssueStartsAtOneAndIsMonotonic(t *testing.T) {
	tbl := NewTable[string]()
	a := tbl.Issue("a")
	b := tbl.Issue("b")
	require.Equal(t, uint64(1), a)
	require.Equal(t, uint64(2), b)
}

func TestLookupReturnsIssuedValue(t *testing.T) {
	tbl := NewTable[string]()
	tok := tbl.Issue("payload")

	v, ok := tbl.Lookup(tok)
	require.True(t, ok)
	require.Equal(t, "payload", v)
}

func TestLookupZeroTokenIsNeverFound(t *testing.T) {
	tbl := NewTable[string]()
	tbl.Issue("a")

	_, ok := tbl.Lookup(0)
	require.False(t, ok)
}

func TestReleaseForgetsToken(t *testing.T) {
	tbl := NewTable[string]()
	tok := tbl.Issue("a")
	require.Equal(t, 1, tbl.Len())

	tbl.Release(tok)
	require.Equal(t, 0, tbl.Len())

	_, ok := tbl.Lookup(tok)
	require.False(t, ok)
}

func TestReleaseTwiceIsNoOp(t *testing.T) {
	tbl := NewTable[string]()
	tok := tbl.Issue("a")
	tbl.Release(tok)
	require.NotPanics(t, func() { tbl.Release(tok) })
	require.Equal(t, 0, tbl.Len())
}

func TestTokensAreNeverReusedAfterRelease(t *testing.T) {
	tbl := NewTable[int]()
	a := tbl.Issue(1)
	tbl.Release(a)
	b := tbl.Issue(2)
	require.NotEqual(t, a, b)
}
