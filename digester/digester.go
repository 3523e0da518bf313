package digester

import (
	"crypto/sha1" //nolint:gosec // B2 content checksums are SHA-1
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
)

// DefaultBlockSize is the read size used when Config.BlockSize
// is zero.
const DefaultBlockSize = 4096

// ErrUnavailable marks a computation that produced no digest.
// Callers must not substitute an empty or zero digest.
var ErrUnavailable = errors.New("digest unavailable")

// Config holds the settings of a Digester.
type Config struct {
	// BlockSize is the number of bytes read and fed to the
	// hash primitive per step. Zero selects
	// DefaultBlockSize. It is fixed for the lifetime of
	// the Digester.
	BlockSize int

	// NewHash builds a fresh hash primitive for each
	// computation. Defaults to SHA-1.
	NewHash func() hash.Hash
}

// Digester computes file digests block by block.
type Digester struct {
	blockSize int
	newHash   func() hash.Hash
}

// blockHasher drives a hash primitive one block at a time.
// The last block goes through TransformFinalBlock, which
// returns the finalized digest.
type blockHasher interface {
	TransformBlock(p []byte)
	TransformFinalBlock(p []byte) []byte
}

type hashBlocks struct {
	h hash.Hash
}

// hash.Hash.Write never returns an error.
func (hb hashBlocks) TransformBlock(p []byte) {
	_, _ = hb.h.Write(p)
}

func (hb hashBlocks) TransformFinalBlock(p []byte) []byte {
	_, _ = hb.h.Write(p)

	return hb.h.Sum(nil)
}

// New validates cfg and returns a Digester.
func New(cfg Config) (*Digester, error) {
	const errCtx = "creating digester"

	if cfg.BlockSize < 0 {
		return nil, fmt.Errorf(
			"%s: block size must be positive, got %d",
			errCtx, cfg.BlockSize,
		)
	}

	if cfg.BlockSize == 0 {
		cfg.BlockSize = DefaultBlockSize
	}

	if cfg.NewHash == nil {
		cfg.NewHash = sha1.New
	}

	return &Digester{
		blockSize: cfg.BlockSize,
		newHash:   cfg.NewHash,
	}, nil
}

// BlockSize returns the block size fixed at construction.
func (d *Digester) BlockSize() int {
	return d.blockSize
}

// Calculate returns the lowercase hex digest of the file at
// path. Any I/O failure yields an error wrapping
// ErrUnavailable and an empty result.
func (d *Digester) Calculate(path string) (result string, retErr error) {
	const errCtx = "calculating digest"

	fi, err := os.Open(path) //nolint:gosec // path is caller-provided by design
	if err != nil {
		return "", fmt.Errorf("%s: %w: %w", errCtx, ErrUnavailable, err)
	}

	defer func() {
		if closeErr := fi.Close(); closeErr != nil && retErr == nil {
			result = ""
			retErr = fmt.Errorf(
				"%s: %w: %w", errCtx, ErrUnavailable, closeErr,
			)
		}
	}()

	sum, err := digestBlocks(
		fi, d.blockSize, hashBlocks{h: d.newHash()},
	)
	if err != nil {
		return "", fmt.Errorf("%s: %w: %w", errCtx, ErrUnavailable, err)
	}

	return hex.EncodeToString(sum), nil
}

// CalculateDigest computes the SHA-1 hex digest of the file
// at path using DefaultBlockSize.
func CalculateDigest(path string) (string, error) {
	return defaultDigester.Calculate(path)
}

var defaultDigester = &Digester{
	blockSize: DefaultBlockSize,
	newHash:   sha1.New,
}

// digestBlocks reads r one block ahead of the block being
// hashed. When the lookahead read comes back empty the
// current block is the last one and is fed as final. An
// empty stream produces a single empty final block.
func digestBlocks(
	r io.Reader,
	blockSize int,
	bh blockHasher,
) ([]byte, error) {
	cur := make([]byte, blockSize)
	ahead := make([]byte, blockSize)

	curN, err := readBlock(r, cur)
	if err != nil {
		return nil, err
	}

	for {
		aheadN, err := readBlock(r, ahead)
		if err != nil {
			return nil, err
		}

		if aheadN == 0 {
			return bh.TransformFinalBlock(cur[:curN]), nil
		}

		bh.TransformBlock(cur[:curN])

		cur, ahead = ahead, cur
		curN = aheadN
	}
}

// readBlock fills buf unless the stream ends first. It
// returns 0 only once the stream is exhausted.
func readBlock(r io.Reader, buf []byte) (int, error) {
	n, err := io.ReadFull(r, buf)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return n, nil
	}

	if err != nil {
		return 0, fmt.Errorf("reading block: %w", err)
	}

	return n, nil
}
