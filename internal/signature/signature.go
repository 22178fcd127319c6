// Package signature computes bounded-cost content signatures for files, used
// to tell apart same-named files whose bytes differ.
package signature

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/blake2b"
)

// DefaultThreshold is the size up to which a file is hashed in full.
const DefaultThreshold int64 = 4 * 1024

// Signer hashes files. Files no larger than the threshold are hashed whole;
// larger files hash the first and last half-threshold bytes plus the size.
type Signer struct {
	threshold int64
}

// Option configures a Signer.
type Option func(*Signer)

// WithThreshold overrides the full-hash threshold. Values below 2 are ignored.
func WithThreshold(n int64) Option {
	return func(s *Signer) {
		if n >= 2 {
			s.threshold = n
		}
	}
}

// New creates a Signer.
func New(opts ...Option) *Signer {
	s := &Signer{threshold: DefaultThreshold}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Threshold returns the full-hash threshold in bytes.
func (s *Signer) Threshold() int64 {
	return s.threshold
}

// Compute returns the hex-encoded signature of the file at path.
func (s *Signer) Compute(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("signature of %s: not a regular file", path)
	}

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", fmt.Errorf("init hash: %w", err)
	}

	size := info.Size()
	if size <= s.threshold {
		if _, err := io.Copy(h, f); err != nil {
			return "", fmt.Errorf("hash %s: %w", path, err)
		}
		return hex.EncodeToString(h.Sum(nil)), nil
	}

	half := s.threshold / 2
	buf := make([]byte, half)

	if _, err := io.ReadFull(f, buf); err != nil {
		return "", fmt.Errorf("read head of %s: %w", path, err)
	}
	h.Write(buf)

	if _, err := f.ReadAt(buf, size-half); err != nil && err != io.EOF {
		return "", fmt.Errorf("read tail of %s: %w", path, err)
	}
	h.Write(buf)

	var sizeBuf [8]byte
	binary.BigEndian.PutUint64(sizeBuf[:], uint64(size))
	h.Write(sizeBuf[:])

	return hex.EncodeToString(h.Sum(nil)), nil
}

var defaultSigner = New()

// Compute signs path with the default threshold.
func Compute(path string) (string, error) {
	return defaultSigner.Compute(path)
}
