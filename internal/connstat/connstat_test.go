package connstat

import (
	"net"
	"testing"
)

func TestWrapTracksBytesAndLifecycle(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()

	var events []string
	w := Wrap(a, func(c *Conn, state string) { events = append(events, state) })

	if len(events) != 1 || events[0] != "open" {
		t.Fatalf("events after Wrap = %v, want [open]", events)
	}

	done := make(chan struct{})
	go func() {
		buf := make([]byte, 5)
		b.Read(buf)
		close(done)
	}()

	n, err := w.Write([]byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	<-done
	if n != 5 || w.TxBytes != 5 {
		t.Fatalf("Write tracked %d bytes, TxBytes=%d, want 5/5", n, w.TxBytes)
	}

	go func() { b.Write([]byte("world")) }()
	buf := make([]byte, 5)
	n, err = w.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 || w.RxBytes != 5 {
		t.Fatalf("Read tracked %d bytes, RxBytes=%d, want 5/5", n, w.RxBytes)
	}

	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 || events[1] != "close" {
		t.Fatalf("events after Close = %v, want [open close]", events)
	}
	if w.ClosedAt == 0 {
		t.Error("expected ClosedAt to be set")
	}
}

func TestWarningsEmptyWithoutTCPInfo(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	w := Wrap(a, nil)
	if len(w.Warnings()) != 0 {
		t.Fatalf("Warnings() = %v, want empty (net.Pipe has no TCP_INFO)", w.Warnings())
	}
}
