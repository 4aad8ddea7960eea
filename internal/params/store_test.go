package params

import (
	"sync"
	"testing"
)

// TestWriteKeepsSequenceEven verifies the counter advances by two per write.
func TestWriteKeepsSequenceEven(t *testing.T) {
	s := New(Record{})

	for i := 1; i <= 3; i++ {
		s.Write(func(r *Record) { r.Command = float64(i) })
		if got := s.Seq(); got != uint32(2*i) {
			t.Errorf("After write %d: expected seq %d, got %d", i, 2*i, got)
		}
	}

	snap := s.Snapshot()
	if !snap.Fresh() {
		t.Errorf("Snapshot at rest should be fresh: %+v", snap)
	}
	if snap.Command != 3 {
		t.Errorf("Expected Command 3, got %v", snap.Command)
	}
}

// TestSnapshotFreshness verifies the acceptance rule on the observed sequence pair.
func TestSnapshotFreshness(t *testing.T) {
	tests := []struct {
		name       string
		seq1, seq2 uint32
		fresh      bool
	}{
		{"even equal", 4, 4, true},
		{"zero", 0, 0, true},
		{"odd equal", 5, 5, false},
		{"changed", 4, 6, false},
		{"odd to even", 5, 6, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := Snapshot{Seq1: tt.seq1, Seq2: tt.seq2}
			if snap.Fresh() != tt.fresh {
				t.Errorf("Fresh()=%v, want %v", snap.Fresh(), tt.fresh)
			}
		})
	}
}

// TestPushSampleShiftsHistory verifies Vn2←Vn1←Vn←new.
func TestPushSampleShiftsHistory(t *testing.T) {
	s := New(Record{Speed: 85})

	s.Write(PushSample(60, 88))
	s.Write(PushSample(55, 90))

	snap := s.Snapshot()
	if snap.Speed != 90 || snap.Speed1 != 88 || snap.Speed2 != 85 {
		t.Errorf("Unexpected history: Vn=%v Vn1=%v Vn2=%v", snap.Speed, snap.Speed1, snap.Speed2)
	}
	if snap.Distance != 55 {
		t.Errorf("Expected distance 55, got %v", snap.Distance)
	}
}

// TestConcurrentWritersNeverTear verifies readers only see whole records.
func TestConcurrentWritersNeverTear(t *testing.T) {
	s := New(Record{})

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(v float64) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				s.Write(func(r *Record) {
					r.Speed = v
					r.Speed1 = v
					r.Speed2 = v
				})
			}
		}(float64(w))
	}

	for i := 0; i < 1000; i++ {
		snap := s.Snapshot()
		if !snap.Fresh() {
			t.Fatalf("Snapshot under lock must be fresh: %+v", snap)
		}
		if snap.Speed != snap.Speed1 || snap.Speed1 != snap.Speed2 {
			t.Fatalf("Torn record: %+v", snap.Record)
		}
	}
	wg.Wait()

	if s.Seq() != 4*500*2 {
		t.Errorf("Expected seq %d, got %d", 4*500*2, s.Seq())
	}
}
