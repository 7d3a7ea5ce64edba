package sender

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/flowline-labs/tsunamigo/internal/blockstatus"
	"github.com/flowline-labs/tsunamigo/internal/chunker"
	"github.com/flowline-labs/tsunamigo/internal/pacing"
	"github.com/flowline-labs/tsunamigo/internal/wire"
)

func testFile(t *testing.T, size int, blockSize uint32) *chunker.File {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i)
	}
	path := filepath.Join(t.TempDir(), "payload.bin")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := chunker.Open(path, blockSize)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func testPacer(t *testing.T) *pacing.Controller {
	t.Helper()
	p, err := pacing.New(256, 1_000_000, 1000, wire.Fraction{Num: 2, Den: 1}, wire.Fraction{Num: 9, Den: 10})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestEmitsOriginalBlocksInOrder(t *testing.T) {
	f := testFile(t, 1000, 256) // 4 blocks
	l := New(f, testPacer(t))
	buf := make([]byte, f.BlockSize())

	for want := uint32(1); want <= f.BlockCount(); want++ {
		d, err := l.NextDatagram(buf)
		if err != nil {
			t.Fatal(err)
		}
		if d.BlockIndex != want || d.BlockType != wire.BlockOriginal {
			t.Fatalf("datagram %d: got index=%d type=%v, want index=%d type=ORIGINAL", want, d.BlockIndex, d.BlockType, want)
		}
		if l.Status().Get(want) != blockstatus.SentOriginal {
			t.Errorf("block %d status = %v, want SentOriginal", want, l.Status().Get(want))
		}
	}
}

func TestDrainsToEndAfterAllOriginalsSent(t *testing.T) {
	f := testFile(t, 256, 256) // exactly 1 block
	l := New(f, testPacer(t))
	buf := make([]byte, f.BlockSize())

	if _, err := l.NextDatagram(buf); err != nil {
		t.Fatal(err)
	}
	d, err := l.NextDatagram(buf)
	if err != nil {
		t.Fatal(err)
	}
	if d.BlockType != wire.BlockEnd {
		t.Fatalf("got block type %v, want BlockEnd", d.BlockType)
	}
	if !l.Draining() {
		t.Fatal("expected Draining() to be true once fresh blocks are exhausted")
	}
}

func TestRetransmitTakesPriorityOverFresh(t *testing.T) {
	f := testFile(t, 1000, 256)
	l := New(f, testPacer(t))
	buf := make([]byte, f.BlockSize())

	if _, err := l.NextDatagram(buf); err != nil { // sends block 1
		t.Fatal(err)
	}
	if err := l.ApplyControl(wire.Retransmit(1)); err != nil {
		t.Fatal(err)
	}
	d, err := l.NextDatagram(buf)
	if err != nil {
		t.Fatal(err)
	}
	if d.BlockIndex != 1 || d.BlockType != wire.BlockRetransmission {
		t.Fatalf("got index=%d type=%v, want retransmission of block 1", d.BlockIndex, d.BlockType)
	}
	// next fresh block should resume at 2, unaffected by the retransmit.
	d, err = l.NextDatagram(buf)
	if err != nil {
		t.Fatal(err)
	}
	if d.BlockIndex != 2 || d.BlockType != wire.BlockOriginal {
		t.Fatalf("got index=%d type=%v, want fresh block 2", d.BlockIndex, d.BlockType)
	}
}

func TestRetransmitDeduplicated(t *testing.T) {
	f := testFile(t, 1000, 256)
	l := New(f, testPacer(t))
	if err := l.ApplyControl(wire.Retransmit(3)); err != nil {
		t.Fatal(err)
	}
	if err := l.ApplyControl(wire.Retransmit(3)); err != nil {
		t.Fatal(err)
	}
	if len(l.retransmit) != 1 {
		t.Fatalf("retransmit queue length = %d, want 1 after duplicate Retransmit(3)", len(l.retransmit))
	}
}

func TestRetransmitIgnoredForDoneBlock(t *testing.T) {
	f := testFile(t, 256, 256)
	l := New(f, testPacer(t))
	l.status.Set(1, blockstatus.Done)
	if err := l.ApplyControl(wire.Retransmit(1)); err != nil {
		t.Fatal(err)
	}
	if len(l.retransmit) != 0 {
		t.Fatal("expected Retransmit on a Done block to be ignored")
	}
}

func TestApplyControlRejectsOutOfRangeRetransmit(t *testing.T) {
	f := testFile(t, 1000, 256)
	l := New(f, testPacer(t))
	for _, b := range []uint32{0, l.status.Count() + 1} {
		if err := l.ApplyControl(wire.Retransmit(b)); err == nil {
			t.Fatalf("ApplyControl(Retransmit(%d)) = nil, want a Protocol error", b)
		}
	}
}

func TestApplyControlRejectsOutOfRangeRestartAt(t *testing.T) {
	f := testFile(t, 1000, 256)
	l := New(f, testPacer(t))
	for _, b := range []uint32{0, l.status.Count() + 1} {
		if err := l.ApplyControl(wire.RestartAt(b)); err == nil {
			t.Fatalf("ApplyControl(RestartAt(%d)) = nil, want a Protocol error", b)
		}
	}
}

func TestApplyRetransmitManySkipsOutOfRangeIndices(t *testing.T) {
	f := testFile(t, 1000, 256)
	l := New(f, testPacer(t))
	l.ApplyRetransmitMany([]uint32{0, 2, l.status.Count() + 1})
	if len(l.retransmit) != 1 || l.retransmit[0] != 2 {
		t.Fatalf("retransmit queue = %v, want [2]", l.retransmit)
	}
}

func TestApplyRetransmitManyExpandsToIndividualEnqueues(t *testing.T) {
	f := testFile(t, 1000, 256)
	l := New(f, testPacer(t))
	l.status.Set(2, blockstatus.Done)
	l.ApplyRetransmitMany([]uint32{1, 2, 3, 3})
	if len(l.retransmit) != 2 {
		t.Fatalf("retransmit queue length = %d, want 2 (block 2 done, block 3 deduplicated)", len(l.retransmit))
	}
	if l.retransmit[0] != 1 || l.retransmit[1] != 3 {
		t.Fatalf("retransmit queue = %v, want [1 3]", l.retransmit)
	}
}

func TestRestartAtRewindsAndDowngrades(t *testing.T) {
	f := testFile(t, 1000, 256) // 4 blocks
	l := New(f, testPacer(t))
	buf := make([]byte, f.BlockSize())

	for i := 0; i < 4; i++ { // send all 4 as fresh
		if _, err := l.NextDatagram(buf); err != nil {
			t.Fatal(err)
		}
	}
	l.status.Set(1, blockstatus.Done) // block 1 completed; must survive restart
	if err := l.ApplyControl(wire.RestartAt(2)); err != nil {
		t.Fatal(err)
	}
	if l.status.Get(1) != blockstatus.Done {
		t.Error("RestartAt downgraded a Done block")
	}
	for b := uint32(2); b <= 4; b++ {
		if l.status.Get(b) != blockstatus.Unsent {
			t.Errorf("block %d status = %v, want Unsent after RestartAt(2)", b, l.status.Get(b))
		}
	}
	d, err := l.NextDatagram(buf)
	if err != nil {
		t.Fatal(err)
	}
	if d.BlockIndex != 2 {
		t.Fatalf("next fresh after RestartAt(2) = block %d, want 2", d.BlockIndex)
	}
}

func TestRestartAtDropsQueuedRetransmitsAtOrBeyond(t *testing.T) {
	f := testFile(t, 1000, 256)
	l := New(f, testPacer(t))
	if err := l.ApplyControl(wire.Retransmit(2)); err != nil {
		t.Fatal(err)
	}
	if err := l.ApplyControl(wire.Retransmit(4)); err != nil {
		t.Fatal(err)
	}
	if err := l.ApplyControl(wire.RestartAt(3)); err != nil {
		t.Fatal(err)
	}
	if len(l.retransmit) != 1 || l.retransmit[0] != 2 {
		t.Fatalf("retransmit queue after RestartAt(3) = %v, want [2]", l.retransmit)
	}
}

func TestEndTransmissionSetsDone(t *testing.T) {
	f := testFile(t, 256, 256)
	l := New(f, testPacer(t))
	if l.Done() {
		t.Fatal("fresh loop reported Done")
	}
	if err := l.ApplyControl(wire.EndTransmission()); err != nil {
		t.Fatal(err)
	}
	if !l.Done() {
		t.Fatal("expected Done() after EndTransmission")
	}
}

func TestSubmitErrorRateDrivesPacer(t *testing.T) {
	f := testFile(t, 256, 256)
	pacer := testPacer(t)
	l := New(f, pacer)
	start := pacer.IPD()
	if err := l.ApplyControl(wire.SubmitErrorRate(5000)); err != nil {
		t.Fatal(err)
	}
	if pacer.IPD() <= start {
		t.Errorf("IPD after high-loss sample = %d, want greater than %d", pacer.IPD(), start)
	}
}
