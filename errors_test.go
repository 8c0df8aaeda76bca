package zus

import (
	"errors"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStructuredError(t *testing.T) {
	err := NewError("NEW_INODE", ErrCodeInvalidParameters, "invalid mode bits")

	require.Equal(t, "NEW_INODE", err.Op)
	require.Equal(t, ErrCodeInvalidParameters, err.Code)
	require.Equal(t, "zus: invalid mode bits (op=NEW_INODE)", err.Error())
}

func TestErrorWithErrno(t *testing.T) {
	err := NewErrorWithErrno("RECEIVE_MOUNT", ErrCodePermissionDenied, syscall.EPERM)

	require.Equal(t, syscall.EPERM, err.Errno)
	require.Equal(t, ErrCodePermissionDenied, err.Code)
}

func TestSuperblockError(t *testing.T) {
	err := NewSuperblockError("LOOKUP", 7, ErrCodeSuperblockBusy, "superblock in use")

	require.EqualValues(t, 7, err.SBID)
	require.Equal(t, "zus: superblock in use (op=LOOKUP)", err.Error())
}

func TestChannelError(t *testing.T) {
	err := NewChannelError("WAIT_FOR_OP", 42, 1, ErrCodeIOError, "channel stalled")

	require.EqualValues(t, 42, err.SBID)
	require.Equal(t, 1, err.Chan)
}

func TestWrapError(t *testing.T) {
	inner := syscall.ENOENT
	err := WrapError("EVICT_INODE", inner)

	require.Equal(t, ErrCodeSuperblockNotFound, err.Code)
	require.Equal(t, syscall.ENOENT, err.Errno)
	require.True(t, errors.Is(err, syscall.ENOENT))
}

func TestErrorIsByCode(t *testing.T) {
	a := NewError("X", ErrCodeTimeout, "timed out")
	b := &Error{Code: ErrCodeTimeout}
	require.True(t, errors.Is(a, b), "errors with matching Code should satisfy errors.Is")

	c := &Error{Code: ErrCodeIOError}
	require.False(t, errors.Is(a, c), "errors with differing Code should not satisfy errors.Is")
}

func TestIsCode(t *testing.T) {
	err := NewError("TEST", ErrCodeTimeout, "operation timed out")

	require.True(t, IsCode(err, ErrCodeTimeout))
	require.False(t, IsCode(err, ErrCodeIOError))
	require.False(t, IsCode(nil, ErrCodeTimeout))
}

func TestIsErrno(t *testing.T) {
	err := NewErrorWithErrno("TEST", ErrCodeIOError, syscall.EIO)

	require.True(t, IsErrno(err, syscall.EIO))
	require.False(t, IsErrno(err, syscall.EPERM))
	require.False(t, IsErrno(nil, syscall.EIO))
}

func TestErrnoMapping(t *testing.T) {
	testCases := []struct {
		errno    syscall.Errno
		expected ErrCode
	}{
		{syscall.ENOENT, ErrCodeSuperblockNotFound},
		{syscall.EBUSY, ErrCodeSuperblockBusy},
		{syscall.EINVAL, ErrCodeInvalidParameters},
		{syscall.EPERM, ErrCodePermissionDenied},
		{syscall.ENOMEM, ErrCodeInsufficientMemory},
		{syscall.ETIMEDOUT, ErrCodeTimeout},
		{syscall.ENOSYS, ErrCodeKernelNotSupported},
	}

	for _, tc := range testCases {
		require.Equal(t, tc.expected, mapErrnoToCode(tc.errno))
	}
}
