package hotholes

import (
	"reflect"
	"testing"
)

func TestRanker_KeepsTopK(t *testing.T) {
	r := New(5)
	for i := 1; i <= 6; i++ {
		r.AddHole(int64(i), float64(i*10))
	}

	want := []Hole{{6, 60}, {5, 50}, {4, 40}, {3, 30}, {2, 20}}
	if got := r.Holes(); !reflect.DeepEqual(got, want) {
		t.Errorf("Holes() = %v, want %v", got, want)
	}
}

func TestRanker_RejectsBelowMinimum(t *testing.T) {
	r := New(2)
	r.AddHole(1, 10)
	r.AddHole(2, 20)

	if r.AddHole(3, 10) {
		t.Error("Expected hotness equal to the minimum to be rejected when full")
	}
	if r.AddHole(4, 5) {
		t.Error("Expected lower hotness to be rejected when full")
	}
	if !r.AddHole(5, 15) {
		t.Error("Expected higher hotness to be kept")
	}

	want := []Hole{{2, 20}, {5, 15}}
	if got := r.Holes(); !reflect.DeepEqual(got, want) {
		t.Errorf("Holes() = %v, want %v", got, want)
	}
}

func TestRanker_FullTableKeepsIncumbentOnTie(t *testing.T) {
	r := New(2)
	r.AddHole(50, 20)
	r.AddHole(60, 10)

	if r.AddHole(5, 10) {
		t.Error("Expected an equal-hotness newcomer to be rejected even with a lower PID")
	}
	want := []Hole{{50, 20}, {60, 10}}
	if got := r.Holes(); !reflect.DeepEqual(got, want) {
		t.Errorf("Holes() = %v, want %v", got, want)
	}
}

func TestRanker_TieBreakLowerPID(t *testing.T) {
	r := New(3)
	r.AddHole(30, 1)
	r.AddHole(10, 1)
	r.AddHole(20, 1)

	want := []Hole{{10, 1}, {20, 1}, {30, 1}}
	if got := r.Holes(); !reflect.DeepEqual(got, want) {
		t.Errorf("Holes() = %v, want %v", got, want)
	}
}

func TestRanker_UpdatesExistingPID(t *testing.T) {
	r := New(3)
	r.AddHole(1, 10)
	r.AddHole(2, 20)
	r.AddHole(1, 30)

	if r.Len() != 2 {
		t.Fatalf("Expected no duplicate entries, got %d", r.Len())
	}
	if got := r.Holes()[0]; got.PID != 1 || got.Hotness != 30 {
		t.Errorf("Expected pid 1 with hotness 30 on top, got %+v", got)
	}
}

func TestNew_DefaultCapacity(t *testing.T) {
	r := New(0)
	for i := 0; i < 10; i++ {
		r.AddHole(int64(i), float64(i))
	}
	if r.Len() != DefaultCapacity {
		t.Errorf("Expected %d holes, got %d", DefaultCapacity, r.Len())
	}
}
