// Package params holds the shared parameter record of the ACC pipeline.
//
// The record is reachable only through Store.Write and Store.Snapshot. Writers
// bump a sequence counter to odd before mutating and back to even after, so a
// reader can detect a torn or in-progress record by comparing the counter
// before and after its copy. A rejected snapshot is not retried; the caller
// skips the cycle.
package params

import "sync"

// Record is the shared parameter record.
type Record struct {
	Enabled bool // ACC enable flag (mirrors the supervisor state)

	K1, K2, K3 float64 // control gains

	CruiseSpeed float64 // Vcruise
	TargetSpeed float64 // Vset, the current speed reference
	MinDistance float64 // Xset, minimum safe distance
	SpeedStep   float64 // deltaV, speed reduction per cycle when too close

	Distance float64 // Xn, latest distance sample

	Speed  float64 // Vn
	Speed1 float64 // Vn1
	Speed2 float64 // Vn2

	Command float64 // dMn, latest manipulated output
}

// Snapshot is a copy of the record with the sequence values observed around it.
type Snapshot struct {
	Seq1, Seq2 uint32
	Record
}

// Fresh reports whether the snapshot was taken while no write was in progress.
func (s Snapshot) Fresh() bool {
	return s.Seq1 == s.Seq2 && s.Seq1%2 == 0
}

// Store guards the record with a mutex and a sequence counter.
type Store struct {
	mu  sync.Mutex
	seq uint32
	rec Record
}

// New creates a store holding initial at sequence 0.
func New(initial Record) *Store {
	return &Store{rec: initial}
}

// Write applies mutate to the record inside the odd/even sequence bracket.
func (s *Store) Write(mutate func(*Record)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	mutate(&s.rec)
	s.seq++
}

// Snapshot copies the record, recording the sequence before and after.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{Seq1: s.seq}
	snap.Record = s.rec
	snap.Seq2 = s.seq
	return snap
}

// Seq returns the current sequence value.
func (s *Store) Seq() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Reset replaces the whole record.
func (s *Store) Reset(rec Record) {
	s.Write(func(r *Record) { *r = rec })
}

// PushSample shifts the speed history and stores a new distance sample.
func PushSample(distance, speed float64) func(*Record) {
	return func(r *Record) {
		r.Speed2 = r.Speed1
		r.Speed1 = r.Speed
		r.Speed = speed
		r.Distance = distance
	}
}
