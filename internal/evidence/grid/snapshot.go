package grid

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/capture.evidence/internal/evidence/mass"
)

// Snapshot encoding: magic "EVGS", u16 version, u32 cell count, then one
// fixed-order record per cell. All integers are big-endian; masses are the
// IEEE-754 bit patterns, so equal grids encode to equal bytes everywhere.
const (
	SnapshotVersion uint16 = 1
	maxPatchIDLen          = math.MaxUint16
	minRecordLen           = 64
)

var snapshotMagic = [4]byte{'E', 'V', 'G', 'S'}

var (
	ErrSnapshotMagic   = errors.New("grid: snapshot magic mismatch")
	ErrSnapshotVersion = errors.New("grid: unsupported snapshot version")
	ErrSnapshotCorrupt = errors.New("grid: snapshot truncated or corrupt")
)

// EncodeCells writes cells in the given order.
func EncodeCells(cells []GridCell) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(snapshotMagic[:])
	putU16(&buf, SnapshotVersion)
	putU32(&buf, uint32(len(cells)))
	for i := range cells {
		c := &cells[i]
		if len(c.PatchID) > maxPatchIDLen {
			return nil, fmt.Errorf("encode cell %s: patch id is %d bytes", c.Key, len(c.PatchID))
		}
		putU64(&buf, c.Key.Morton)
		buf.WriteByte(c.Key.Level)
		putU16(&buf, uint16(len(c.PatchID)))
		buf.WriteString(c.PatchID)
		putU32(&buf, uint32(c.Coord.X))
		putU32(&buf, uint32(c.Coord.Y))
		putU32(&buf, uint32(c.Coord.Z))
		putU64(&buf, math.Float64bits(c.Mass.Occupied))
		putU64(&buf, math.Float64bits(c.Mass.Free))
		putU64(&buf, math.Float64bits(c.Mass.Unknown))
		buf.WriteByte(byte(c.Confidence))
		putU32(&buf, c.ViewMask)
		putU32(&buf, c.ObservationCount)
		putU64(&buf, uint64(c.LastUpdateNanos))
	}
	return buf.Bytes(), nil
}

// DecodeCells parses an EncodeCells payload.
func DecodeCells(data []byte) ([]GridCell, error) {
	if len(data) < 10 {
		return nil, ErrSnapshotCorrupt
	}
	hdr, r := data[:10], bytes.NewReader(data[10:])
	if !bytes.Equal(hdr[:4], snapshotMagic[:]) {
		return nil, ErrSnapshotMagic
	}
	if v := binary.BigEndian.Uint16(hdr[4:6]); v != SnapshotVersion {
		return nil, fmt.Errorf("%w: %d", ErrSnapshotVersion, v)
	}
	n := binary.BigEndian.Uint32(hdr[6:10])
	// Every record is at least minRecordLen bytes; reject counts the payload
	// cannot hold before allocating.
	if uint64(n)*minRecordLen > uint64(r.Len()) {
		return nil, ErrSnapshotCorrupt
	}
	cells := make([]GridCell, 0, n)
	for i := uint32(0); i < n; i++ {
		var c GridCell
		var fixed [11]byte
		if err := binary.Read(r, binary.BigEndian, &fixed); err != nil {
			return nil, fmt.Errorf("%w: cell %d: %v", ErrSnapshotCorrupt, i, err)
		}
		c.Key = SpatialKey{Morton: binary.BigEndian.Uint64(fixed[0:8]), Level: fixed[8]}
		id := make([]byte, binary.BigEndian.Uint16(fixed[9:11]))
		if _, err := readFull(r, id); err != nil {
			return nil, fmt.Errorf("%w: cell %d: %v", ErrSnapshotCorrupt, i, err)
		}
		c.PatchID = string(id)
		var rec struct {
			X, Y, Z          int32
			O, F, U          uint64
			Confidence       uint8
			ViewMask         uint32
			ObservationCount uint32
			LastUpdateNanos  int64
		}
		if err := binary.Read(r, binary.BigEndian, &rec); err != nil {
			return nil, fmt.Errorf("%w: cell %d: %v", ErrSnapshotCorrupt, i, err)
		}
		c.Coord = Coord{X: rec.X, Y: rec.Y, Z: rec.Z}
		c.Mass = mass.Mass{
			Occupied: math.Float64frombits(rec.O),
			Free:     math.Float64frombits(rec.F),
			Unknown:  math.Float64frombits(rec.U),
		}
		c.Confidence = Confidence(rec.Confidence)
		c.ViewMask = rec.ViewMask
		c.ObservationCount = rec.ObservationCount
		c.LastUpdateNanos = rec.LastUpdateNanos
		cells = append(cells, c)
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrSnapshotCorrupt, r.Len())
	}
	return cells, nil
}

// Digest returns the SHA-256 of the canonical encoding of cells.
func Digest(cells []GridCell) ([32]byte, error) {
	data, err := EncodeCells(cells)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(data), nil
}

func readFull(r *bytes.Reader, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if r.Len() < len(p) {
		return 0, fmt.Errorf("need %d bytes, have %d", len(p), r.Len())
	}
	return r.Read(p)
}

func putU16(b *bytes.Buffer, v uint16) {
	var t [2]byte
	binary.BigEndian.PutUint16(t[:], v)
	b.Write(t[:])
}

func putU32(b *bytes.Buffer, v uint32) {
	var t [4]byte
	binary.BigEndian.PutUint32(t[:], v)
	b.Write(t[:])
}

func putU64(b *bytes.Buffer, v uint64) {
	var t [8]byte
	binary.BigEndian.PutUint64(t[:], v)
	b.Write(t[:])
}
