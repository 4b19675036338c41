package portpool

import "testing"

func TestAcquireReleaseNoLeak(t *testing.T) {
	p := New(20001, 20010)

	for i := 0; i < 100; i++ {
		port, err := p.Acquire()
		if err != nil {
			t.Fatalf("Acquire failed on iteration %d: %v", i, err)
		}
		p.Release(port)
	}

	if inUse := p.InUse(); inUse != 0 {
		t.Fatalf("expected 0 ports in use after release cycles, got %d", inUse)
	}
}

func TestAcquireExhaustion(t *testing.T) {
	p := New(20001, 20002)

	if _, err := p.Acquire(); err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	if _, err := p.Acquire(); err != nil {
		t.Fatalf("second Acquire failed: %v", err)
	}
	if _, err := p.Acquire(); err == nil {
		t.Fatal("expected exhaustion error on third Acquire")
	}
}

func TestAcquirePairReleasesOnPartialFailure(t *testing.T) {
	p := New(20001, 20001)

	if _, _, err := p.AcquirePair(); err == nil {
		t.Fatal("expected AcquirePair to fail with only one port available")
	}
	if inUse := p.InUse(); inUse != 0 {
		t.Fatalf("expected partial reservation to be released, got %d in use", inUse)
	}
}

func TestReleaseUngrantedIsNoOp(t *testing.T) {
	p := New(20001, 20010)
	p.Release(20005)
	if inUse := p.InUse(); inUse != 0 {
		t.Fatalf("expected 0 in use, got %d", inUse)
	}
}

func TestDistinctPortsAcrossAcquire(t *testing.T) {
	p := New(20001, 20010)
	seen := map[int]bool{}
	for i := 0; i < 5; i++ {
		port, err := p.Acquire()
		if err != nil {
			t.Fatalf("Acquire failed: %v", err)
		}
		if seen[port] {
			t.Fatalf("port %d granted twice concurrently", port)
		}
		seen[port] = true
	}
}
