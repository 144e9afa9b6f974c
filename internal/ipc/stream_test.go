package ipc

import (
	"context"
	"testing"
)

func TestOfferAcceptsUntilFull(t *testing.T) {
	s := NewRingStream("1001", 2)
	if got := s.Offer(context.Background(), []byte("a")); got != Accepted {
		t.Fatalf("offer 1 = %v, want accepted", got)
	}
	if got := s.Offer(context.Background(), []byte("b")); got != Accepted {
		t.Fatalf("offer 2 = %v, want accepted", got)
	}
	if got := s.Offer(context.Background(), []byte("c")); got != WouldBlock {
		t.Fatalf("offer 3 = %v, want would_block", got)
	}
}

func TestOfferNeverBlocks(t *testing.T) {
	s := NewRingStream("1001", 1)
	s.Offer(context.Background(), []byte("fill"))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			s.Offer(context.Background(), []byte("x"))
		}
		close(done)
	}()
	<-done
}

func TestCloseRejectsFurtherOffers(t *testing.T) {
	s := NewRingStream("1001", 4)
	_ = s.Close()
	if got := s.Offer(context.Background(), []byte("a")); got != Closed {
		t.Fatalf("offer after close = %v, want closed", got)
	}
}

func TestDrainReturnsAcceptedPayloads(t *testing.T) {
	s := NewRingStream("1001", 4)
	s.Offer(context.Background(), []byte("a"))
	s.Offer(context.Background(), []byte("b"))

	got := s.Drain(10)
	if len(got) != 2 {
		t.Fatalf("drained %d payloads, want 2", len(got))
	}
}

func TestRegistryOpenCachesByName(t *testing.T) {
	r := NewRegistry("/dev/shm/trading-gateway-test", 8)
	s1 := r.Open("1001")
	s2 := r.Open("1001")
	if s1 != s2 {
		t.Fatal("expected the same stream instance for repeated Open calls")
	}
	s3 := r.Open("1002")
	if s3 == s1 {
		t.Fatal("expected a distinct stream for a different name")
	}
}
