// Package chunker splits a file into fixed-size blocks for UDP transfer and
// computes the chunk-checksum map used to resume a partial transfer. Block
// indices are 1-based throughout, matching the wire protocol's
// Datagram.BlockIndex.
//
// The checksum substitutes xxhash64 (github.com/cespare/xxhash/v2) for the
// xxh3-64 named in the original protocol notes: both are non-cryptographic
// 64-bit hashes used only to detect whether a locally-held chunk matches the
// remote file, and xxhash64 is the hash already vendored by this module's
// dependency tree.
package chunker

import (
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"

	"github.com/flowline-labs/tsunamigo/internal/errs"
)

// BlockCount returns ceil(fileSize/blockSize), the number of blocks a file of
// fileSize bytes splits into at the given blockSize. It fails with an
// Overflow error if the block count would not fit in a uint32, since
// BlockCount is carried on the wire as a uint32 (FileRequestSuccess).
func BlockCount(fileSize uint64, blockSize uint32) (uint32, error) {
	if blockSize == 0 {
		return 0, errs.New(errs.Config, "block size must be non-zero")
	}
	if fileSize == 0 {
		return 0, nil
	}
	count := (fileSize + uint64(blockSize) - 1) / uint64(blockSize)
	if count > uint64(^uint32(0)) {
		return 0, errs.New(errs.Overflow, fmt.Sprintf("block count %d exceeds uint32 range", count))
	}
	return uint32(count), nil
}

// File wraps an *os.File for block-addressed reads during a send.
type File struct {
	f          *os.File
	fileSize   uint64
	blockSize  uint32
	blockCount uint32
}

// Open opens path and derives its block geometry at the given blockSize.
func Open(path string, blockSize uint32) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.File, "open "+path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errs.Wrap(errs.File, "stat "+path, err)
	}
	size := uint64(info.Size())
	count, err := BlockCount(size, blockSize)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &File{f: f, fileSize: size, blockSize: blockSize, blockCount: count}, nil
}

// Close releases the underlying file descriptor.
func (c *File) Close() error { return c.f.Close() }

// Size returns the file size in bytes.
func (c *File) Size() uint64 { return c.fileSize }

// BlockSize returns the configured block size.
func (c *File) BlockSize() uint32 { return c.blockSize }

// BlockCount returns the number of blocks the file splits into.
func (c *File) BlockCount() uint32 { return c.blockCount }

// blockLen returns the length in bytes of block index (1-based), which is
// blockSize for every block but the last, which may be shorter.
func (c *File) blockLen(index uint32) (int, error) {
	if index == 0 || index > c.blockCount {
		return 0, errs.New(errs.Protocol, fmt.Sprintf("block index %d out of range [1,%d]", index, c.blockCount))
	}
	if index < c.blockCount {
		return int(c.blockSize), nil
	}
	last := c.fileSize - uint64(c.blockCount-1)*uint64(c.blockSize)
	return int(last), nil
}

// ReadBlock reads block index (1-based) into buf, which must be at least
// BlockSize() bytes. It returns the slice of buf actually populated: every
// block but the last fills buf entirely; the last block may be shorter and
// callers must not assume zero-padding.
func (c *File) ReadBlock(index uint32, buf []byte) ([]byte, error) {
	n, err := c.blockLen(index)
	if err != nil {
		return nil, err
	}
	if len(buf) < n {
		return nil, errs.New(errs.Protocol, fmt.Sprintf("buffer too small for block %d: have %d, need %d", index, len(buf), n))
	}
	off := int64(index-1) * int64(c.blockSize)
	if _, err := c.f.ReadAt(buf[:n], off); err != nil && err != io.EOF {
		return nil, errs.Wrap(errs.File, fmt.Sprintf("read block %d", index), err)
	}
	return buf[:n], nil
}

// DeriveChunkGeometry computes the chunk grouping both sides agree on from
// FileRequestSuccess alone, without further negotiation: chunk_blocks =
// (file_size >> 8) / block_size, clamped to at least 1 block, so a file
// smaller than 256 block-size units gets one-block chunks.
func DeriveChunkGeometry(fileSize uint64, blockSize uint32) (chunkBlocks uint32, err error) {
	if blockSize == 0 {
		return 0, errs.New(errs.Config, "block size must be non-zero")
	}
	cb := (fileSize >> 8) / uint64(blockSize)
	if cb == 0 {
		cb = 1
	}
	if cb > uint64(^uint32(0)) {
		return 0, errs.New(errs.Overflow, fmt.Sprintf("derived chunk block count %d exceeds uint32 range", cb))
	}
	return uint32(cb), nil
}

// DeriveChunkChecksums derives the chunk geometry per DeriveChunkGeometry and
// returns the resulting checksum map, matching what both sides would compute
// independently from the negotiated file_size/block_size alone.
func (c *File) DeriveChunkChecksums() (checksums []uint64, chunkBlocks, lastChunkBlocks uint32, err error) {
	chunkBlocks, err = DeriveChunkGeometry(c.fileSize, c.blockSize)
	if err != nil {
		return nil, 0, 0, err
	}
	checksums, lastChunkBlocks, err = c.ChunkChecksums(chunkBlocks)
	if err != nil {
		return nil, 0, 0, err
	}
	return checksums, chunkBlocks, lastChunkBlocks, nil
}

// ChunkChecksums groups the file's blocks into chunks of chunkBlocks blocks
// each (the final chunk may hold fewer) and returns one xxhash64 checksum per
// chunk, computed over the concatenated bytes of the blocks in that chunk.
// lastChunkBlocks reports the block count of the final chunk so the caller
// can reconstruct chunk boundaries without re-deriving them from file size.
func (c *File) ChunkChecksums(chunkBlocks uint32) (checksums []uint64, lastChunkBlocks uint32, err error) {
	if chunkBlocks == 0 {
		return nil, 0, errs.New(errs.Config, "chunk block count must be non-zero")
	}
	if c.blockCount == 0 {
		return nil, 0, nil
	}
	numChunks := (c.blockCount + chunkBlocks - 1) / chunkBlocks
	checksums = make([]uint64, 0, numChunks)
	buf := make([]byte, c.blockSize)

	start := uint32(1)
	for start <= c.blockCount {
		end := start + chunkBlocks - 1
		if end > c.blockCount {
			end = c.blockCount
		}
		h := xxhash.New()
		for i := start; i <= end; i++ {
			block, rerr := c.ReadBlock(i, buf)
			if rerr != nil {
				return nil, 0, rerr
			}
			if _, werr := h.Write(block); werr != nil {
				return nil, 0, errs.Wrap(errs.File, "hash chunk", werr)
			}
		}
		checksums = append(checksums, h.Sum64())
		lastChunkBlocks = end - start + 1
		start = end + 1
	}
	return checksums, lastChunkBlocks, nil
}

// ChecksumBlock returns the xxhash64 checksum of a single in-memory block,
// used by the receiver to verify an already-downloaded region before
// deciding whether it can be skipped on a resumed transfer.
func ChecksumBlock(b []byte) uint64 {
	return xxhash.Sum64(b)
}
