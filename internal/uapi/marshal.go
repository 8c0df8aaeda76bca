package uapi

import "encoding/binary"

// MarshalHeader encodes an OpHeader into its wire form using the
// kernel-shim's native byte order (little-endian), the same
// field-by-field approach the teacher's control-command marshaling uses
// rather than relying on unsafe struct-layout casts across the relay
// boundary.
func MarshalHeader(h *OpHeader) []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.Code))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.Err))
	binary.LittleEndian.PutUint32(buf[8:12], h.Offset)
	binary.LittleEndian.PutUint32(buf[12:16], h.Len)
	binary.LittleEndian.PutUint32(buf[16:20], h.Flags)
	binary.LittleEndian.PutUint64(buf[20:28], h.SBID)
	binary.LittleEndian.PutUint64(buf[28:36], h.InoID)
	binary.LittleEndian.PutUint64(buf[36:44], h.Ino2ID)
	return buf
}

// UnmarshalHeader decodes an OpHeader from its wire form.
func UnmarshalHeader(buf []byte) (*OpHeader, error) {
	if len(buf) < HeaderSize {
		return nil, ErrShortBuffer
	}
	return &OpHeader{
		Code:   OpCode(binary.LittleEndian.Uint32(buf[0:4])),
		Err:    int32(binary.LittleEndian.Uint32(buf[4:8])),
		Offset: binary.LittleEndian.Uint32(buf[8:12]),
		Len:    binary.LittleEndian.Uint32(buf[12:16]),
		Flags:  binary.LittleEndian.Uint32(buf[16:20]),
		SBID:   binary.LittleEndian.Uint64(buf[20:28]),
		InoID:  binary.LittleEndian.Uint64(buf[28:36]),
		Ino2ID: binary.LittleEndian.Uint64(buf[36:44]),
	}, nil
}

// PutHeader writes h in place into buf (which must be at least
// HeaderSize long), for the zero-copy op-buffer mapping case where the
// worker writes its result directly back into shared memory.
func PutHeader(buf []byte, h *OpHeader) {
	copy(buf, MarshalHeader(h))
}

// shortBufferError is defined here (rather than imported) to keep this leaf
// package dependency-free besides encoding/binary.
type shortBufferError string

func (e shortBufferError) Error() string { return string(e) }

// ErrShortBuffer is returned when a wire buffer is smaller than the
// structure being decoded from it.
const ErrShortBuffer = shortBufferError("uapi: buffer too short")
