package fixedpoint

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// LUT artifact layout constants.
const (
	LUTVersion       uint16 = 1
	LUTEntrySizeBits uint32 = 64
	lutHeaderSize           = 16
	lutFooterSize           = sha256.Size
	maxLUTArtifact          = lutHeaderSize + math.MaxUint16*8 + lutFooterSize
)

// LUTMagic identifies an evidence lookup-table artifact.
var LUTMagic = [4]byte{'E', 'V', 'L', 'T'}

var (
	ErrBadMagic           = errors.New("fixedpoint: lut magic mismatch")
	ErrUnsupportedVersion = errors.New("fixedpoint: unsupported lut version")
	ErrChecksumMismatch   = errors.New("fixedpoint: lut checksum mismatch")
	ErrTruncated          = errors.New("fixedpoint: lut artifact truncated")
	ErrEntrySize          = errors.New("fixedpoint: unsupported lut entry size")
	ErrTooManyEntries     = errors.New("fixedpoint: lut has too many entries")
)

// LUT is an ordered table of signed 64-bit entries. Tables consumed as
// weights store Q16.16 raw values in each entry.
type LUT struct {
	Entries []int64
}

// NewQ16LUT builds a table of Q16 raw values from float samples.
func NewQ16LUT(values []float64) LUT {
	entries := make([]int64, len(values))
	for i, v := range values {
		entries[i] = int64(FromFloat(v))
	}
	return LUT{Entries: entries}
}

// Len returns the number of entries.
func (l LUT) Len() int { return len(l.Entries) }

// Q16At returns entry i interpreted as a Q16 value. Out-of-range indices
// clamp to the nearest end; an empty table yields 0.
func (l LUT) Q16At(i int) Q16 {
	if len(l.Entries) == 0 {
		return 0
	}
	if i < 0 {
		i = 0
	}
	if i >= len(l.Entries) {
		i = len(l.Entries) - 1
	}
	return saturateInt(l.Entries[i])
}

// MarshalBinary encodes the table as a checksummed artifact:
// header(16) || entries(N×8, big-endian) || sha256(header||entries).
func (l LUT) MarshalBinary() ([]byte, error) {
	if len(l.Entries) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d", ErrTooManyEntries, len(l.Entries))
	}
	buf := make([]byte, lutHeaderSize+len(l.Entries)*8, lutHeaderSize+len(l.Entries)*8+lutFooterSize)
	copy(buf[0:4], LUTMagic[:])
	binary.BigEndian.PutUint16(buf[4:6], LUTVersion)
	binary.BigEndian.PutUint16(buf[6:8], uint16(len(l.Entries)))
	binary.BigEndian.PutUint32(buf[8:12], LUTEntrySizeBits)
	binary.BigEndian.PutUint32(buf[12:16], 0)
	for i, e := range l.Entries {
		binary.BigEndian.PutUint64(buf[lutHeaderSize+i*8:], uint64(e))
	}
	sum := sha256.Sum256(buf)
	return append(buf, sum[:]...), nil
}

// UnmarshalBinary decodes an artifact produced by MarshalBinary. The
// checksum is verified before any entry is trusted.
func (l *LUT) UnmarshalBinary(data []byte) error {
	if len(data) < lutHeaderSize+lutFooterSize {
		return ErrTruncated
	}
	if !bytes.Equal(data[0:4], LUTMagic[:]) {
		return ErrBadMagic
	}
	if v := binary.BigEndian.Uint16(data[4:6]); v != LUTVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}
	count := int(binary.BigEndian.Uint16(data[6:8]))
	if bits := binary.BigEndian.Uint32(data[8:12]); bits != LUTEntrySizeBits {
		return fmt.Errorf("%w: %d bits", ErrEntrySize, bits)
	}
	bodyEnd := lutHeaderSize + count*8
	if len(data) != bodyEnd+lutFooterSize {
		return fmt.Errorf("%w: have %d bytes, want %d", ErrTruncated, len(data), bodyEnd+lutFooterSize)
	}
	sum := sha256.Sum256(data[:bodyEnd])
	if !bytes.Equal(sum[:], data[bodyEnd:]) {
		return ErrChecksumMismatch
	}
	entries := make([]int64, count)
	for i := range entries {
		entries[i] = int64(binary.BigEndian.Uint64(data[lutHeaderSize+i*8:]))
	}
	l.Entries = entries
	return nil
}

// WriteLUT writes the artifact for l to w.
func WriteLUT(w io.Writer, l LUT) error {
	data, err := l.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write lut: %w", err)
	}
	return nil
}

// ReadLUT reads and verifies an artifact from r.
func ReadLUT(r io.Reader) (LUT, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxLUTArtifact+1))
	if err != nil {
		return LUT{}, fmt.Errorf("read lut: %w", err)
	}
	if len(data) > maxLUTArtifact {
		return LUT{}, fmt.Errorf("%w: artifact exceeds %d bytes", ErrTooManyEntries, maxLUTArtifact)
	}
	var l LUT
	if err := l.UnmarshalBinary(data); err != nil {
		return LUT{}, err
	}
	return l, nil
}

// Lookup treats the entries as evenly spaced Q16 samples over [0, 1] and
// linearly interpolates at x. x outside [0, 1] clamps to the end samples.
func (l LUT) Lookup(x Q16) Q16 {
	n := len(l.Entries)
	switch {
	case n == 0:
		return 0
	case n == 1 || x <= 0:
		return l.Q16At(0)
	case x >= One:
		return l.Q16At(n - 1)
	}
	// Position in sample units, still Q16.
	pos := int64(x) * int64(n-1)
	i := int(pos >> fracBits)
	frac := Q16(pos & (int64(One) - 1))
	lo, hi := l.Q16At(i), l.Q16At(i+1)
	return lo.Add(hi.Sub(lo).Mul(frac))
}
