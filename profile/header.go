// Package profile implements the three on-disk binary profile formats
// compiled by protecc and consumed by bpf-manager's in-kernel matchers:
// path ("PROT"), network ("PRNT"), and mount ("PRMT"). Each shares a
// magic+version preamble and is encoded with a fixed little-endian layout
// via encoding/binary; no schema library is warranted for a format this
// small and this performance-sensitive to decode from a BPF-adjacent path.
package profile

import (
	"encoding/binary"

	cerrors "github.com/chef-project/containerv/errors"
)

// Magic identifies which of the three profile formats a buffer holds.
type Magic [4]byte

var (
	MagicPath    = Magic{'P', 'R', 'O', 'T'}
	MagicNetwork = Magic{'P', 'R', 'N', 'T'}
	MagicMount   = Magic{'P', 'R', 'M', 'T'}
)

const headerPreambleSize = 8 // magic(4) + versionMajor(2) + versionMinor(2)

// preamble is the magic+version prefix shared by every profile format.
type preamble struct {
	Magic        Magic
	VersionMajor uint16
	VersionMinor uint16
}

func readPreamble(data []byte, want Magic, maxMajor uint16) (preamble, []byte, error) {
	if len(data) < headerPreambleSize {
		return preamble{}, nil, cerrors.Wrap(cerrors.ErrProfileTruncated, cerrors.InvalidProfile, "decode")
	}
	var p preamble
	copy(p.Magic[:], data[0:4])
	p.VersionMajor = binary.LittleEndian.Uint16(data[4:6])
	p.VersionMinor = binary.LittleEndian.Uint16(data[6:8])

	if p.Magic != want {
		return preamble{}, nil, cerrors.Wrap(cerrors.ErrBadMagic, cerrors.InvalidProfile, "decode")
	}
	if p.VersionMajor > maxMajor {
		return preamble{}, nil, cerrors.Wrap(cerrors.ErrUnsupportedVersion, cerrors.InvalidProfile, "decode")
	}
	return p, data[headerPreambleSize:], nil
}

func putPreamble(buf []byte, magic Magic, major, minor uint16) {
	copy(buf[0:4], magic[:])
	binary.LittleEndian.PutUint16(buf[4:6], major)
	binary.LittleEndian.PutUint16(buf[6:8], minor)
}

// need fails decode with ErrProfileTruncated when fewer than n bytes remain.
func need(data []byte, n int) error {
	if len(data) < n {
		return cerrors.Wrap(cerrors.ErrProfileTruncated, cerrors.InvalidProfile, "decode")
	}
	return nil
}

// OffsetAny is the all-ones string-table offset meaning "match any";
// readString maps it to the empty string.
const OffsetAny uint32 = 0xFFFFFFFF

func readString(blob []byte, off uint32) (string, error) {
	if off == OffsetAny {
		return "", nil
	}
	if int(off) > len(blob) {
		return "", cerrors.Wrap(cerrors.ErrOffsetOutOfBounds, cerrors.InvalidProfile, "decode")
	}
	rest := blob[off:]
	i := 0
	for i < len(rest) && rest[i] != 0 {
		i++
	}
	if i == len(rest) {
		return "", cerrors.Wrap(cerrors.ErrOffsetOutOfBounds, cerrors.InvalidProfile, "decode")
	}
	return string(rest[:i]), nil
}

// stringTable accumulates NUL-terminated strings and returns each
// caller's offset, deduplicating identical entries.
type stringTable struct {
	blob   []byte
	offset map[string]uint32
}

func newStringTable() *stringTable {
	return &stringTable{offset: make(map[string]uint32)}
}

func (t *stringTable) put(s string) uint32 {
	if s == "" {
		return OffsetAny
	}
	if off, ok := t.offset[s]; ok {
		return off
	}
	off := uint32(len(t.blob))
	t.blob = append(t.blob, s...)
	t.blob = append(t.blob, 0)
	t.offset[s] = off
	return off
}
