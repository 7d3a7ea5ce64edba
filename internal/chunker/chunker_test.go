package chunker

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "payload.bin")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestBlockCountExact(t *testing.T) {
	got, err := BlockCount(1024, 256)
	if err != nil {
		t.Fatal(err)
	}
	if got != 4 {
		t.Errorf("BlockCount = %d, want 4", got)
	}
}

func TestBlockCountRoundsUp(t *testing.T) {
	got, err := BlockCount(1000, 256)
	if err != nil {
		t.Fatal(err)
	}
	if got != 4 {
		t.Errorf("BlockCount = %d, want 4", got)
	}
}

func TestBlockCountZeroSize(t *testing.T) {
	got, err := BlockCount(0, 256)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0 {
		t.Errorf("BlockCount = %d, want 0", got)
	}
}

func TestBlockCountRejectsZeroBlockSize(t *testing.T) {
	if _, err := BlockCount(100, 0); err == nil {
		t.Fatal("expected error for zero block size")
	}
}

func TestOpenAndReadBlocks(t *testing.T) {
	data := make([]byte, 1000)
	for i := range data {
		data[i] = byte(i)
	}
	path := writeTempFile(t, data)

	f, err := Open(path, 256)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if f.BlockCount() != 4 {
		t.Fatalf("BlockCount() = %d, want 4", f.BlockCount())
	}

	buf := make([]byte, f.BlockSize())
	b1, err := f.ReadBlock(1, buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(b1) != 256 {
		t.Errorf("block 1 length = %d, want 256", len(b1))
	}

	b4, err := f.ReadBlock(4, buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(b4) != 232 { // 1000 - 3*256
		t.Errorf("final block length = %d, want 232", len(b4))
	}
}

func TestReadBlockOutOfRange(t *testing.T) {
	path := writeTempFile(t, make([]byte, 100))
	f, err := Open(path, 50)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	buf := make([]byte, 50)
	if _, err := f.ReadBlock(0, buf); err == nil {
		t.Fatal("expected error for block index 0")
	}
	if _, err := f.ReadBlock(f.BlockCount()+1, buf); err == nil {
		t.Fatal("expected error for block index past end")
	}
}

func TestChunkChecksumsDeterministic(t *testing.T) {
	data := make([]byte, 900)
	for i := range data {
		data[i] = byte(i * 7)
	}
	path := writeTempFile(t, data)

	f, err := Open(path, 100)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	sums1, last1, err := f.ChunkChecksums(3)
	if err != nil {
		t.Fatal(err)
	}
	sums2, last2, err := f.ChunkChecksums(3)
	if err != nil {
		t.Fatal(err)
	}
	if len(sums1) != len(sums2) || last1 != last2 {
		t.Fatal("ChunkChecksums is not deterministic across calls")
	}
	for i := range sums1 {
		if sums1[i] != sums2[i] {
			t.Errorf("chunk %d checksum differs across calls: %d vs %d", i, sums1[i], sums2[i])
		}
	}
	// 900 bytes / 100-byte blocks = 9 blocks, grouped 3 at a time = 3 chunks,
	// each holding exactly 3 blocks.
	if len(sums1) != 3 {
		t.Fatalf("got %d chunks, want 3", len(sums1))
	}
	if last1 != 3 {
		t.Errorf("last chunk block count = %d, want 3", last1)
	}
}

func TestChunkChecksumsDetectsDifference(t *testing.T) {
	pathA := writeTempFile(t, []byte("aaaaaaaaaa"))
	pathB := writeTempFile(t, []byte("bbbbbbbbbb"))

	fa, err := Open(pathA, 5)
	if err != nil {
		t.Fatal(err)
	}
	defer fa.Close()
	fb, err := Open(pathB, 5)
	if err != nil {
		t.Fatal(err)
	}
	defer fb.Close()

	sumsA, _, err := fa.ChunkChecksums(1)
	if err != nil {
		t.Fatal(err)
	}
	sumsB, _, err := fb.ChunkChecksums(1)
	if err != nil {
		t.Fatal(err)
	}
	for i := range sumsA {
		if sumsA[i] == sumsB[i] {
			t.Errorf("chunk %d checksums collided for different content", i)
		}
	}
}

func TestChunkChecksumsRejectsZero(t *testing.T) {
	path := writeTempFile(t, make([]byte, 10))
	f, err := Open(path, 5)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, _, err := f.ChunkChecksums(0); err == nil {
		t.Fatal("expected error for zero chunk block count")
	}
}

func TestDeriveChunkGeometrySmallFileClampsToOne(t *testing.T) {
	cb, err := DeriveChunkGeometry(1000, 256)
	if err != nil {
		t.Fatal(err)
	}
	if cb != 1 {
		t.Errorf("DeriveChunkGeometry = %d, want 1 for a file well under 256 block-size units", cb)
	}
}

func TestDeriveChunkGeometryRejectsZeroBlockSize(t *testing.T) {
	if _, err := DeriveChunkGeometry(1000, 0); err == nil {
		t.Fatal("expected error for zero block size")
	}
}

func TestDeriveChunkChecksumsAgreesWithExplicitGeometry(t *testing.T) {
	data := make([]byte, 900)
	path := writeTempFile(t, data)
	f, err := Open(path, 100)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	derived, chunkBlocks, lastChunkBlocks, err := f.DeriveChunkChecksums()
	if err != nil {
		t.Fatal(err)
	}
	explicit, explicitLast, err := f.ChunkChecksums(chunkBlocks)
	if err != nil {
		t.Fatal(err)
	}
	if lastChunkBlocks != explicitLast || len(derived) != len(explicit) {
		t.Fatalf("derived geometry disagrees with explicit: %v/%d vs %v/%d", derived, lastChunkBlocks, explicit, explicitLast)
	}
}

func TestChecksumBlockMatchesChunkChecksumForSingleBlockChunk(t *testing.T) {
	data := []byte("0123456789")
	path := writeTempFile(t, data)
	f, err := Open(path, 10)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	sums, _, err := f.ChunkChecksums(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(sums) != 1 {
		t.Fatalf("got %d chunks, want 1", len(sums))
	}
	if sums[0] != ChecksumBlock(data) {
		t.Errorf("chunk checksum %d != block checksum %d", sums[0], ChecksumBlock(data))
	}
}
