package sdnotify

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNotifyIsNoOpWithoutSocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	require.NoError(t, Notify("READY=1"))
}

func TestNotifyWritesStateToSocket(t *testing.T) {
	dir := t.TempDir()
	sockPath := dir + "/notify.sock"

	laddr := &net.UnixAddr{Name: sockPath, Net: "unixgram"}
	conn, err := net.ListenUnixgram("unixgram", laddr)
	require.NoError(t, err)
	defer conn.Close()

	t.Setenv("NOTIFY_SOCKET", sockPath)

	errC := make(chan error, 1)
	go func() { errC <- Ready() }()

	buf := make([]byte, 64)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "READY=1", string(buf[:n]))

	require.NoError(t, <-errC)
}

func TestStoppingAndStatusFormatState(t *testing.T) {
	dir := t.TempDir()
	sockPath := dir + "/notify.sock"

	laddr := &net.UnixAddr{Name: sockPath, Net: "unixgram"}
	conn, err := net.ListenUnixgram("unixgram", laddr)
	require.NoError(t, err)
	defer conn.Close()

	t.Setenv("NOTIFY_SOCKET", sockPath)

	go Stopping()
	buf := make([]byte, 64)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "STOPPING=1", string(buf[:n]))

	go Status("draining")
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err = conn.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "STATUS=draining", string(buf[:n]))
}
