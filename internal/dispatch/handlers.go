package dispatch

import (
	"bytes"
	"context"
	"encoding/binary"

	"github.com/wubo009/zufs-zus/internal/interfaces"
	"github.com/wubo009/zufs-zus/internal/uapi"
)

// attrsWireSize is the fixed-width encoding of interfaces.Attrs
// (Mode, UID, GID uint32; Size uint64; Rdev uint32) that precedes the
// name in a NEW_INODE payload.
const attrsWireSize = 24

func decodeAttrs(buf []byte) interfaces.Attrs {
	if len(buf) < attrsWireSize {
		return interfaces.Attrs{}
	}
	return interfaces.Attrs{
		Mode: binary.LittleEndian.Uint32(buf[0:4]),
		UID:  binary.LittleEndian.Uint32(buf[4:8]),
		GID:  binary.LittleEndian.Uint32(buf[8:12]),
		Size: binary.LittleEndian.Uint64(buf[12:20]),
		Rdev: binary.LittleEndian.Uint32(buf[20:24]),
	}
}

func encodeAttrs(a interfaces.Attrs) []byte {
	buf := make([]byte, attrsWireSize)
	binary.LittleEndian.PutUint32(buf[0:4], a.Mode)
	binary.LittleEndian.PutUint32(buf[4:8], a.UID)
	binary.LittleEndian.PutUint32(buf[8:12], a.GID)
	binary.LittleEndian.PutUint64(buf[12:20], a.Size)
	binary.LittleEndian.PutUint32(buf[20:24], a.Rdev)
	return buf
}

// splitPayloadPair decodes a NUL-separated pair of fields (the two
// names RENAME carries, or the name/value pair XATTR_SET carries) out
// of one payload buffer.
func splitPayloadPair(payload []byte) (string, []byte) {
	if idx := bytes.IndexByte(payload, 0); idx >= 0 {
		return string(payload[:idx]), payload[idx+1:]
	}
	return string(payload), nil
}

func handleStatfs(ctx context.Context, d *Dispatcher, hdr *uapi.OpHeader, payload []byte) *uapi.OpHeader {
	mnt, ok := d.lookupMount(hdr.SBID)
	if !ok {
		return replyErr(hdr, EINVAL)
	}
	cap, ok := mnt.SB.(interfaces.StatfsCapable)
	if !ok {
		return replyErr(hdr, ENOTSUP)
	}
	if _, err := cap.Statfs(ctx, mnt.SBI); err != nil {
		return replyErr(hdr, EIO)
	}
	return replyOK(hdr)
}

func handleNewInode(ctx context.Context, d *Dispatcher, hdr *uapi.OpHeader, payload []byte) *uapi.OpHeader {
	mnt, ok := d.lookupMount(hdr.SBID)
	if !ok {
		return replyErr(hdr, EINVAL)
	}
	tmpfile := hdr.Flags&uapi.FlagTmpfile != 0
	attrs := decodeAttrs(payload)
	var name string
	if len(payload) > attrsWireSize {
		name = string(payload[attrsWireSize:])
	}
	ino, _, err := mnt.Inode.NewInode(ctx, mnt.SBI, hdr.InoID, name, attrs, tmpfile)
	if err != nil {
		return replyErr(hdr, EIO)
	}
	out := replyOK(hdr)
	out.Ino2ID = ino
	return out
}

func handleFreeInode(ctx context.Context, d *Dispatcher, hdr *uapi.OpHeader, payload []byte) *uapi.OpHeader {
	mnt, ok := d.lookupMount(hdr.SBID)
	if !ok {
		return replyErr(hdr, EINVAL)
	}
	cap, ok := mnt.Inode.(interfaces.FreeInodeCapable)
	if !ok {
		return replyOK(hdr) // nothing to free is not an error
	}
	if err := cap.FreeInode(ctx, mnt.SBI, hdr.InoID); err != nil {
		return replyErr(hdr, EIO)
	}
	return replyOK(hdr)
}

func handleEvictInode(ctx context.Context, d *Dispatcher, hdr *uapi.OpHeader, payload []byte) *uapi.OpHeader {
	mnt, ok := d.lookupMount(hdr.SBID)
	if !ok {
		return replyErr(hdr, EINVAL)
	}
	if hdr.Flags&uapi.FlagLookupRace != 0 {
		return replyOK(hdr) // a racing lookup revived the inode; leave it live
	}
	cap, ok := mnt.Inode.(interfaces.EvictInodeCapable)
	if !ok {
		return replyOK(hdr)
	}
	if err := cap.EvictInode(ctx, mnt.SBI, hdr.InoID); err != nil {
		return replyErr(hdr, EIO)
	}
	return replyOK(hdr)
}

func handleLookup(ctx context.Context, d *Dispatcher, hdr *uapi.OpHeader, payload []byte) *uapi.OpHeader {
	mnt, ok := d.lookupMount(hdr.SBID)
	if !ok {
		return replyErr(hdr, EINVAL)
	}
	name := string(payload)

	var ino uint64
	var err error
	switch name {
	case ".":
		// "." always resolves to the directory itself: parent ii (spec.md
		// §4.7 LOOKUP row).
		ino = hdr.InoID
	case "..":
		cap, ok := mnt.SB.(interfaces.ParentCapable)
		if !ok {
			return replyErr(hdr, ENOTSUP)
		}
		ino, err = cap.Parent(ctx, mnt.SBI, hdr.InoID)
	default:
		ino, err = mnt.SB.Lookup(ctx, mnt.SBI, hdr.InoID, name)
	}
	if err != nil {
		return replyErr(hdr, ENOENT)
	}
	if ino == 0 {
		return replyErr(hdr, ENOENT)
	}
	out := replyOK(hdr)
	out.Ino2ID = ino
	return out
}

func handleAddDentry(ctx context.Context, d *Dispatcher, hdr *uapi.OpHeader, payload []byte) *uapi.OpHeader {
	mnt, ok := d.lookupMount(hdr.SBID)
	if !ok {
		return replyErr(hdr, EINVAL)
	}
	cap, ok := mnt.Inode.(interfaces.DentryCapable)
	if !ok {
		return replyErr(hdr, ENOTSUP)
	}
	if err := cap.AddDentry(ctx, mnt.SBI, hdr.InoID, hdr.Ino2ID, string(payload)); err != nil {
		return replyErr(hdr, EIO)
	}
	return replyOK(hdr)
}

func handleRemoveDentry(ctx context.Context, d *Dispatcher, hdr *uapi.OpHeader, payload []byte) *uapi.OpHeader {
	mnt, ok := d.lookupMount(hdr.SBID)
	if !ok {
		return replyErr(hdr, EINVAL)
	}
	cap, ok := mnt.Inode.(interfaces.DentryCapable)
	if !ok {
		return replyErr(hdr, ENOTSUP)
	}
	if err := cap.RemoveDentry(ctx, mnt.SBI, hdr.InoID, hdr.Ino2ID, string(payload)); err != nil {
		return replyErr(hdr, EIO)
	}
	return replyOK(hdr)
}

func handleRename(ctx context.Context, d *Dispatcher, hdr *uapi.OpHeader, payload []byte) *uapi.OpHeader {
	mnt, ok := d.lookupMount(hdr.SBID)
	if !ok {
		return replyErr(hdr, EINVAL)
	}
	cap, ok := mnt.SB.(interfaces.RenameCapable)
	if !ok {
		return replyErr(hdr, ENOTSUP)
	}
	oldName, rest := splitPayloadPair(payload)
	newName := string(rest)
	if err := cap.Rename(ctx, mnt.SBI, hdr.InoID, hdr.Ino2ID, oldName, newName, hdr.Flags); err != nil {
		return replyErr(hdr, EIO)
	}
	return replyOK(hdr)
}

func handleReaddir(ctx context.Context, d *Dispatcher, hdr *uapi.OpHeader, payload []byte) *uapi.OpHeader {
	mnt, ok := d.lookupMount(hdr.SBID)
	if !ok {
		return replyErr(hdr, EINVAL)
	}
	cap, ok := mnt.Inode.(interfaces.ReaddirCapable)
	if !ok {
		return replyErr(hdr, ENOTSUP)
	}
	off := 0
	next, err := cap.Readdir(ctx, mnt.SBI, hdr.InoID, uint64(hdr.Offset), func(e interfaces.DirEntry) bool {
		n := copy(payload[off:], e.Name)
		off += n
		return off < len(payload)
	})
	if err != nil {
		return replyErr(hdr, EIO)
	}
	out := replyOK(hdr)
	out.Offset = uint32(next)
	out.Len = uint32(off)
	return out
}

func handleClone(ctx context.Context, d *Dispatcher, hdr *uapi.OpHeader, payload []byte) *uapi.OpHeader {
	mnt, ok := d.lookupMount(hdr.SBID)
	if !ok {
		return replyErr(hdr, EINVAL)
	}
	cap, ok := mnt.Inode.(interfaces.CloneCapable)
	if !ok {
		return replyErr(hdr, ENOTSUP)
	}
	if err := cap.Clone(ctx, mnt.SBI, hdr.InoID, hdr.Ino2ID, 0, 0, uint64(hdr.Len)); err != nil {
		return replyErr(hdr, EIO)
	}
	return replyOK(hdr)
}

func handleCopy(ctx context.Context, d *Dispatcher, hdr *uapi.OpHeader, payload []byte) *uapi.OpHeader {
	mnt, ok := d.lookupMount(hdr.SBID)
	if !ok {
		return replyErr(hdr, EINVAL)
	}
	cap, ok := mnt.Inode.(interfaces.CopyCapable)
	if !ok {
		return replyErr(hdr, ENOTSUP)
	}
	n, err := cap.Copy(ctx, mnt.SBI, hdr.InoID, hdr.Ino2ID, 0, 0, uint64(hdr.Len))
	if err != nil {
		return replyErr(hdr, EIO)
	}
	out := replyOK(hdr)
	out.Len = uint32(n)
	return out
}

func handlePreRead(ctx context.Context, d *Dispatcher, hdr *uapi.OpHeader, payload []byte) *uapi.OpHeader {
	mnt, ok := d.lookupMount(hdr.SBID)
	if !ok {
		return replyErr(hdr, EINVAL)
	}
	cap, ok := mnt.Inode.(interfaces.PreReadCapable)
	if !ok {
		return replyErr(hdr, ENOTSUP)
	}
	if err := cap.PreRead(ctx, mnt.SBI, hdr.InoID, uint64(hdr.Offset), uint64(hdr.Len)); err != nil {
		return replyErr(hdr, EIO)
	}
	return replyOK(hdr)
}

func handleGetBlock(ctx context.Context, d *Dispatcher, hdr *uapi.OpHeader, payload []byte) *uapi.OpHeader {
	mnt, ok := d.lookupMount(hdr.SBID)
	if !ok {
		return replyErr(hdr, EINVAL)
	}
	cap, ok := mnt.Inode.(interfaces.GetBlockCapable)
	if !ok {
		return replyErr(hdr, EIO)
	}
	mapping, err := cap.GetBlock(ctx, mnt.SBI, hdr.InoID, uint64(hdr.Offset), uint64(hdr.Len))
	if err != nil {
		return replyErr(hdr, EIO)
	}
	out := replyOK(hdr)
	out.Offset = uint32(mapping.PhysOffset)
	out.Len = uint32(mapping.Length)
	return out
}

func handlePutBlock(ctx context.Context, d *Dispatcher, hdr *uapi.OpHeader, payload []byte) *uapi.OpHeader {
	mnt, ok := d.lookupMount(hdr.SBID)
	if !ok {
		return replyErr(hdr, EINVAL)
	}
	cap, ok := mnt.Inode.(interfaces.PutBlockCapable)
	if !ok {
		return replyOK(hdr) // nothing to release back is not an error
	}
	mapping := interfaces.BlockMapping{PhysOffset: uint64(hdr.Offset), Length: uint64(hdr.Len)}
	if err := cap.PutBlock(ctx, mnt.SBI, hdr.InoID, mapping); err != nil {
		return replyErr(hdr, EIO)
	}
	return replyOK(hdr)
}

func handleMmapClose(ctx context.Context, d *Dispatcher, hdr *uapi.OpHeader, payload []byte) *uapi.OpHeader {
	mnt, ok := d.lookupMount(hdr.SBID)
	if !ok {
		return replyErr(hdr, EINVAL)
	}
	cap, ok := mnt.Inode.(interfaces.MmapCloseCapable)
	if !ok {
		return replyOK(hdr)
	}
	if err := cap.MmapClose(ctx, mnt.SBI, hdr.InoID); err != nil {
		return replyErr(hdr, EIO)
	}
	return replyOK(hdr)
}

func handleGetSymlink(ctx context.Context, d *Dispatcher, hdr *uapi.OpHeader, payload []byte) *uapi.OpHeader {
	mnt, ok := d.lookupMount(hdr.SBID)
	if !ok {
		return replyErr(hdr, EINVAL)
	}
	cap, ok := mnt.Inode.(interfaces.SymlinkCapable)
	if !ok {
		return replyErr(hdr, ENOTSUP)
	}
	zOffset, err := cap.GetSymlink(ctx, mnt.SBI, hdr.InoID)
	if err != nil {
		return replyErr(hdr, EIO)
	}
	out := replyOK(hdr)
	out.Offset = uint32(zOffset)
	return out
}

func handleSetattr(ctx context.Context, d *Dispatcher, hdr *uapi.OpHeader, payload []byte) *uapi.OpHeader {
	mnt, ok := d.lookupMount(hdr.SBID)
	if !ok {
		return replyErr(hdr, EINVAL)
	}
	cap, ok := mnt.Inode.(interfaces.SetattrCapable)
	if !ok {
		return replyOK(hdr)
	}
	if err := cap.Setattr(ctx, mnt.SBI, hdr.InoID, hdr.Flags, uint64(hdr.Len)); err != nil {
		return replyErr(hdr, EIO)
	}
	return replyOK(hdr)
}

func handleSync(ctx context.Context, d *Dispatcher, hdr *uapi.OpHeader, payload []byte) *uapi.OpHeader {
	mnt, ok := d.lookupMount(hdr.SBID)
	if !ok {
		return replyErr(hdr, EINVAL)
	}
	cap, ok := mnt.Inode.(interfaces.SyncCapable)
	if !ok {
		return replyOK(hdr) // a back-end with no durability boundary has nothing to flush
	}
	if err := cap.Sync(ctx, mnt.SBI, hdr.InoID, uint64(hdr.Offset), uint64(hdr.Len)); err != nil {
		return replyErr(hdr, EIO)
	}
	return replyOK(hdr)
}

func handleFallocate(ctx context.Context, d *Dispatcher, hdr *uapi.OpHeader, payload []byte) *uapi.OpHeader {
	mnt, ok := d.lookupMount(hdr.SBID)
	if !ok {
		return replyErr(hdr, EINVAL)
	}
	cap, ok := mnt.Inode.(interfaces.FallocateCapable)
	if !ok {
		return replyErr(hdr, ENOTSUP)
	}
	if err := cap.Fallocate(ctx, mnt.SBI, hdr.InoID, uint64(hdr.Offset), uint64(hdr.Len)); err != nil {
		return replyErr(hdr, EIO)
	}
	return replyOK(hdr)
}

func handleLlseek(ctx context.Context, d *Dispatcher, hdr *uapi.OpHeader, payload []byte) *uapi.OpHeader {
	mnt, ok := d.lookupMount(hdr.SBID)
	if !ok {
		return replyErr(hdr, EINVAL)
	}
	cap, ok := mnt.Inode.(interfaces.LlseekCapable)
	if !ok {
		return replyErr(hdr, ENOTSUP)
	}
	pos, err := cap.Llseek(ctx, mnt.SBI, hdr.InoID, uint64(hdr.Offset), int(hdr.Flags))
	if err != nil {
		return replyErr(hdr, EINVAL)
	}
	out := replyOK(hdr)
	out.Offset = uint32(pos)
	return out
}

func handleIoctl(ctx context.Context, d *Dispatcher, hdr *uapi.OpHeader, payload []byte) *uapi.OpHeader {
	mnt, ok := d.lookupMount(hdr.SBID)
	if !ok {
		return replyErr(hdr, EINVAL)
	}
	cap, ok := mnt.Inode.(interfaces.IoctlCapable)
	if !ok {
		return replyErr(hdr, ENOTTY)
	}
	if err := cap.Ioctl(ctx, mnt.SBI, hdr.InoID, hdr.Flags, uint64(hdr.Offset)); err != nil {
		return replyErr(hdr, EIO)
	}
	return replyOK(hdr)
}

func handleXattrGet(ctx context.Context, d *Dispatcher, hdr *uapi.OpHeader, payload []byte) *uapi.OpHeader {
	mnt, ok := d.lookupMount(hdr.SBID)
	if !ok {
		return replyErr(hdr, EINVAL)
	}
	cap, ok := mnt.Inode.(interfaces.XattrCapable)
	if !ok {
		return replyErr(hdr, ENOTSUP)
	}
	value, err := cap.GetXattr(ctx, mnt.SBI, hdr.InoID, string(payload))
	if err != nil {
		return replyErr(hdr, ENOENT)
	}
	out := replyOK(hdr)
	out.Len = uint32(copy(payload, value))
	return out
}

func handleXattrSet(ctx context.Context, d *Dispatcher, hdr *uapi.OpHeader, payload []byte) *uapi.OpHeader {
	mnt, ok := d.lookupMount(hdr.SBID)
	if !ok {
		return replyErr(hdr, EINVAL)
	}
	cap, ok := mnt.Inode.(interfaces.XattrCapable)
	if !ok {
		return replyErr(hdr, ENOTSUP)
	}
	name, value := splitPayloadPair(payload)
	if err := cap.SetXattr(ctx, mnt.SBI, hdr.InoID, name, value); err != nil {
		return replyErr(hdr, EIO)
	}
	return replyOK(hdr)
}

func handleXattrList(ctx context.Context, d *Dispatcher, hdr *uapi.OpHeader, payload []byte) *uapi.OpHeader {
	mnt, ok := d.lookupMount(hdr.SBID)
	if !ok {
		return replyErr(hdr, EINVAL)
	}
	cap, ok := mnt.Inode.(interfaces.XattrCapable)
	if !ok {
		return replyErr(hdr, ENOTSUP)
	}
	names, err := cap.ListXattr(ctx, mnt.SBI, hdr.InoID)
	if err != nil {
		return replyErr(hdr, EIO)
	}
	off := 0
	for _, n := range names {
		off += copy(payload[off:], n+"\x00")
	}
	out := replyOK(hdr)
	out.Len = uint32(off)
	return out
}
