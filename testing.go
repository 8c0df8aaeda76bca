package zus

import (
	"context"
	"fmt"
	"sync"

	"github.com/wubo009/zufs-zus/internal/interfaces"
)

// MockFilesystem provides an in-memory implementation of
// interfaces.Filesystem for testing. Of the optional capabilities it
// implements StatfsCapable, FreeInodeCapable, DentryCapable, IOCapable and
// SyncCapable only; the dispatcher applies its defaults to the rest. It
// tracks method calls for verification, the same role the teacher's
// MockBackend plays for the block-device Backend interface.
type MockFilesystem struct {
	mu sync.RWMutex

	name    string
	inodes  map[uint64]map[string]uint64 // parent ino -> name -> child ino
	data    map[uint64][]byte
	nextIno uint64
	mounted bool

	lookupCalls   int
	newInodeCalls int
	readCalls     int
	writeCalls    int
	syncCalls     int
}

// NewMockFilesystem creates a mock filesystem with the given
// registration name. The root inode is always 1.
func NewMockFilesystem(name string) *MockFilesystem {
	return &MockFilesystem{
		name:    name,
		inodes:  map[uint64]map[string]uint64{1: {}},
		data:    make(map[uint64][]byte),
		nextIno: 2,
	}
}

func (m *MockFilesystem) Name() string { return m.name }

func (m *MockFilesystem) Mount(ctx context.Context, sbID uint64, pmem interfaces.PmemTranslator) (any, interfaces.SuperblockOps, interfaces.InodeOps, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mounted = true
	return m, m, m, nil
}

func (m *MockFilesystem) Unmount(ctx context.Context, sbi any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mounted = false
	return nil
}

func (m *MockFilesystem) Lookup(ctx context.Context, sbi any, parentIno uint64, name string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookupCalls++

	children, ok := m.inodes[parentIno]
	if !ok {
		return 0, fmt.Errorf("mockfs: no such directory %d", parentIno)
	}
	ino, ok := children[name]
	if !ok {
		return 0, fmt.Errorf("mockfs: %q not found under %d", name, parentIno)
	}
	return ino, nil
}

func (m *MockFilesystem) NewInode(ctx context.Context, sbi any, parentIno uint64, name string, attrs interfaces.Attrs, tmpfile bool) (uint64, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.newInodeCalls++

	ino := m.nextIno
	m.nextIno++
	m.inodes[ino] = map[string]uint64{}
	m.data[ino] = make([]byte, attrs.Size)

	if !tmpfile {
		if _, ok := m.inodes[parentIno]; !ok {
			return 0, 0, fmt.Errorf("mockfs: no such directory %d", parentIno)
		}
		m.inodes[parentIno][name] = ino
	}
	return ino, ino, nil
}

func (m *MockFilesystem) FreeInode(ctx context.Context, sbi any, ino uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inodes, ino)
	delete(m.data, ino)
	return nil
}

func (m *MockFilesystem) AddDentry(ctx context.Context, sbi any, parentIno, childIno uint64, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.inodes[parentIno]; !ok {
		return fmt.Errorf("mockfs: no such directory %d", parentIno)
	}
	m.inodes[parentIno][name] = childIno
	return nil
}

func (m *MockFilesystem) RemoveDentry(ctx context.Context, sbi any, parentIno, childIno uint64, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inodes[parentIno], name)
	return nil
}

func (m *MockFilesystem) ReadAt(ctx context.Context, sbi any, ino uint64, p []byte, off uint64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readCalls++

	buf, ok := m.data[ino]
	if !ok || off >= uint64(len(buf)) {
		return 0, nil
	}
	return copy(p, buf[off:]), nil
}

func (m *MockFilesystem) WriteAt(ctx context.Context, sbi any, ino uint64, p []byte, off uint64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeCalls++

	buf, ok := m.data[ino]
	if !ok {
		return 0, fmt.Errorf("mockfs: no such inode %d", ino)
	}
	end := off + uint64(len(p))
	if end > uint64(len(buf)) {
		grown := make([]byte, end)
		copy(grown, buf)
		buf = grown
		m.data[ino] = buf
	}
	return copy(buf[off:], p), nil
}

func (m *MockFilesystem) Sync(ctx context.Context, sbi any, ino uint64, off, length uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncCalls++
	return nil
}

func (m *MockFilesystem) Statfs(ctx context.Context, sbi any) (interfaces.StatfsResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return interfaces.StatfsResult{
		BlockSize:   4096,
		TotalInodes: uint64(len(m.inodes)),
		FreeInodes:  1 << 20,
	}, nil
}

// IsMounted reports whether Mount has run without a matching Unmount.
func (m *MockFilesystem) IsMounted() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mounted
}

// CallCounts returns the number of times each tracked method has been
// called, for test assertions.
func (m *MockFilesystem) CallCounts() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]int{
		"lookup":    m.lookupCalls,
		"new_inode": m.newInodeCalls,
		"read":      m.readCalls,
		"write":     m.writeCalls,
		"sync":      m.syncCalls,
	}
}

// Compile-time interface checks
var (
	_ interfaces.Filesystem     = (*MockFilesystem)(nil)
	_ interfaces.SuperblockOps  = (*MockFilesystem)(nil)
	_ interfaces.InodeOps       = (*MockFilesystem)(nil)
	_ interfaces.StatfsCapable  = (*MockFilesystem)(nil)
	_ interfaces.FreeInodeCapable = (*MockFilesystem)(nil)
	_ interfaces.DentryCapable  = (*MockFilesystem)(nil)
	_ interfaces.IOCapable      = (*MockFilesystem)(nil)
	_ interfaces.SyncCapable    = (*MockFilesystem)(nil)
)
