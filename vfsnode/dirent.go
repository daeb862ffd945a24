package vfsnode

import "encoding/binary"

// EncodeDirents serializes entries into the on-wire directory-listing
// format from spec.md §8 scenario 5: each record is inode (LE32),
// record length (LE16), name length (LE16), then the name bytes,
// packed contiguously with no padding between records.
func EncodeDirents(entries []Dirent) []byte {
	var out []byte
	for _, e := range entries {
		nameLen := len(e.Name)
		recLen := 4 + 2 + 2 + nameLen
		rec := make([]byte, recLen)
		binary.LittleEndian.PutUint32(rec[0:4], uint32(e.ID.index))
		binary.LittleEndian.PutUint16(rec[4:6], uint16(recLen))
		binary.LittleEndian.PutUint16(rec[6:8], uint16(nameLen))
		copy(rec[8:], e.Name)
		out = append(out, rec...)
	}
	return out
}
