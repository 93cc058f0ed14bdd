package backoff

import (
	"testing"
	"time"
)

func TestBudget_Exhausts(t *testing.T) {
	b := New(3, 0, 0)
	for i := 1; i <= 3; i++ {
		if _, ok := b.Next(); !ok {
			t.Fatalf("attempt %d refused", i)
		}
	}
	if _, ok := b.Next(); ok {
		t.Fatal("fourth attempt should be refused")
	}
	if b.Used() != 3 {
		t.Fatalf("Used = %d, want 3", b.Used())
	}
}

func TestBudget_ZeroMax(t *testing.T) {
	if _, ok := New(0, time.Second, time.Minute).Next(); ok {
		t.Fatal("zero budget should refuse immediately")
	}
}

func TestBudget_Delays(t *testing.T) {
	b := New(10, time.Second, 5*time.Second)
	want := []time.Duration{1, 2, 4, 5, 5}
	for i, w := range want {
		d, ok := b.Next()
		if !ok {
			t.Fatalf("attempt %d refused", i+1)
		}
		if d != w*time.Second {
			t.Fatalf("attempt %d delay = %v, want %v", i+1, d, w*time.Second)
		}
	}
}

func TestBudget_Reset(t *testing.T) {
	b := New(2, time.Second, time.Minute)
	b.Next()
	b.Next()
	if _, ok := b.Next(); ok {
		t.Fatal("budget should be exhausted")
	}
	b.Reset()
	if b.Used() != 0 {
		t.Fatalf("Used = %d after Reset, want 0", b.Used())
	}
	d, ok := b.Next()
	if !ok || d != time.Second {
		t.Fatalf("Next after Reset = %v, %v; want 1s, true", d, ok)
	}
}
