package hash

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// Builder builds a canonical byte sequence then hashes it with sha256.
//
// Encoding rules:
//   - Fixed-width integers: big-endian
//   - Bytes/string: u32(len) big-endian + bytes
//
// Used for idempotency/dedup keys and canonical coupon hashing, so the same
// inputs always produce the same digest across processes.
type Builder struct {
	b []byte
}

func NewBuilder() *Builder { return &Builder{b: make([]byte, 0, 128)} }

func (d *Builder) Reset() { d.b = d.b[:0] }

func (d *Builder) PutU64(v uint64) *Builder {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	d.b = append(d.b, buf[:]...)
	return d
}

func (d *Builder) PutI64(v int64) *Builder { return d.PutU64(uint64(v)) }

// PutBytes appends: u32(len) + bytes
func (d *Builder) PutBytes(p []byte) *Builder {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(len(p)))
	d.b = append(d.b, buf[:]...)
	d.b = append(d.b, p...)
	return d
}

func (d *Builder) PutString(s string) *Builder { return d.PutBytes([]byte(s)) }

func (d *Builder) Sum() [32]byte { return sha256.Sum256(d.b) }

func (d *Builder) SumHex() string {
	s := d.Sum()
	return hex.EncodeToString(s[:])
}

// HexSum is sha256 of a raw string, hex-encoded. This is the coupon hash
// function: stable and collision-resistant per source coupon.
func HexSum(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// ShortSeal is the leading 8 hex chars of sha256(input), the short integrity
// token attached to featurized transactions.
func ShortSeal(input string) string {
	return HexSum(input)[:8]
}
