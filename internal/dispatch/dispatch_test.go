package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wubo009/zufs-zus/backend/pmemsim"
	"github.com/wubo009/zufs-zus/internal/handle"
	"github.com/wubo009/zufs-zus/internal/interfaces"
	"github.com/wubo009/zufs-zus/internal/uapi"
)

type identityTranslator struct{}

func (identityTranslator) Translate(zOffset uint64) (uint64, error) { return zOffset, nil }

func newTestDispatcher(t *testing.T) (*Dispatcher, uint64) {
	t.Helper()
	mounts := handle.NewTable[*Mount]()
	fs := pmemsim.New("pmemsim")
	sbi, sb, ino, err := fs.Mount(context.Background(), 1, identityTranslator{})
	require.NoError(t, err)
	sbID := mounts.Issue(&Mount{SBI: sbi, SB: sb, Inode: ino})
	return New(mounts, nil), sbID
}

func TestDispatchUnknownOpCodeReturnsNotSupported(t *testing.T) {
	d, sbID := newTestDispatcher(t)
	hdr := &uapi.OpHeader{Code: uapi.OpCode(999), SBID: sbID}
	out := d.Dispatch(context.Background(), hdr, nil)
	require.Equal(t, normalize(ENOTSUP), out.Err)
}

func TestDispatchUnknownSBIDReturnsInval(t *testing.T) {
	d, _ := newTestDispatcher(t)
	hdr := &uapi.OpHeader{Code: uapi.OpStatfs, SBID: 9999}
	out := d.Dispatch(context.Background(), hdr, nil)
	require.Equal(t, normalize(EINVAL), out.Err)
}

func newInodePayload(t *testing.T, name string) []byte {
	t.Helper()
	return append(encodeAttrs(interfaces.Attrs{Mode: 0o644}), []byte(name)...)
}

func TestDispatchNewInodeLookupRoundTrip(t *testing.T) {
	d, sbID := newTestDispatcher(t)
	ctx := context.Background()

	newHdr := &uapi.OpHeader{Code: uapi.OpNewInode, SBID: sbID, InoID: 1}
	out := d.Dispatch(ctx, newHdr, newInodePayload(t, "file.txt"))
	require.Zero(t, out.Err)
	ino := out.Ino2ID
	require.NotZero(t, ino)

	lookupHdr := &uapi.OpHeader{Code: uapi.OpLookup, SBID: sbID, InoID: 1}
	out = d.Dispatch(ctx, lookupHdr, []byte("file.txt"))
	require.Zero(t, out.Err)
	require.Equal(t, ino, out.Ino2ID)
}

// TestDispatchLookupSpecials covers spec.md §8's S5 scenario: "." and
// ".." resolve without a back-end name lookup, and a missing name
// (back-end returns ino 0) maps to ENOENT rather than a false success.
func TestDispatchLookupSpecials(t *testing.T) {
	d, sbID := newTestDispatcher(t)
	ctx := context.Background()

	newHdr := &uapi.OpHeader{Code: uapi.OpNewInode, SBID: sbID, InoID: 1}
	out := d.Dispatch(ctx, newHdr, append(encodeAttrs(interfaces.Attrs{Mode: modeDirForTest}), []byte("dir")...))
	require.Zero(t, out.Err)
	dirIno := out.Ino2ID

	dot := d.Dispatch(ctx, &uapi.OpHeader{Code: uapi.OpLookup, SBID: sbID, InoID: dirIno}, []byte("."))
	require.Zero(t, dot.Err)
	require.Equal(t, dirIno, dot.Ino2ID)

	dotdot := d.Dispatch(ctx, &uapi.OpHeader{Code: uapi.OpLookup, SBID: sbID, InoID: dirIno}, []byte(".."))
	require.Zero(t, dotdot.Err)
	require.Equal(t, uint64(1), dotdot.Ino2ID)

	missing := d.Dispatch(ctx, &uapi.OpHeader{Code: uapi.OpLookup, SBID: sbID, InoID: dirIno}, []byte("nope"))
	require.Equal(t, normalize(ENOENT), missing.Err)
}

// modeDirForTest mirrors pmemsim's unexported modeDir bit so this test
// can create a directory inode without reaching into the back-end.
const modeDirForTest uint32 = 1 << 14

func TestDispatchReadWriteRoundTrip(t *testing.T) {
	d, sbID := newTestDispatcher(t)
	ctx := context.Background()

	newHdr := &uapi.OpHeader{Code: uapi.OpNewInode, SBID: sbID, InoID: 1}
	out := d.Dispatch(ctx, newHdr, newInodePayload(t, "data.bin"))
	require.Zero(t, out.Err)
	ino := out.Ino2ID

	payload := []byte("hello")
	writeHdr := &uapi.OpHeader{Code: uapi.OpWrite, SBID: sbID, InoID: ino, Offset: 0, Len: uint32(len(payload))}
	out = d.Dispatch(ctx, writeHdr, payload)
	require.Zero(t, out.Err)
	require.Equal(t, uint32(len(payload)), out.Len)

	buf := make([]byte, len(payload))
	readHdr := &uapi.OpHeader{Code: uapi.OpRead, SBID: sbID, InoID: ino, Offset: 0, Len: uint32(len(buf))}
	out = d.Dispatch(ctx, readHdr, buf)
	require.Zero(t, out.Err)
	require.Equal(t, payload, buf)
}

func TestDispatchPanicRecoversToEIO(t *testing.T) {
	mounts := handle.NewTable[*Mount]()
	sbID := mounts.Issue(nil) // looking up mnt.SB on a nil *Mount panics inside the handler
	d := New(mounts, nil)

	hdr := &uapi.OpHeader{Code: uapi.OpStatfs, SBID: sbID}
	out := d.Dispatch(context.Background(), hdr, nil)
	require.Equal(t, normalize(EIO), out.Err)
}

func TestDispatchTableCoversEveryOpCode(t *testing.T) {
	d := New(handle.NewTable[*Mount](), nil)
	for _, code := range uapi.AllOpCodes() {
		idx := int(code)
		require.Less(t, idx, opCodeTableSize, "op code %s has no table slot", code)
		require.NotNil(t, d.table[idx], "op code %s has a nil handler", code)
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	for _, errno := range []int32{0, 5, -5, 95} {
		once := normalize(errno)
		twice := normalize(once)
		require.Equal(t, once, twice)
	}
}
