package server

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBackoff_DoublesAndCapsAtMax(t *testing.T) {
	b := newBackoff(time.Millisecond, 4*time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if err := b.Sleep(ctx); err != nil {
			t.Fatalf("Sleep: %v", err)
		}
	}
	if b.Current() != 4*time.Millisecond {
		t.Errorf("Current = %v, want the cap", b.Current())
	}

	b.Reset()
	if b.Current() != time.Millisecond {
		t.Errorf("Current after Reset = %v, want the initial delay", b.Current())
	}
}

func TestBackoff_SleepReturnsOnCancel(t *testing.T) {
	b := newBackoff(time.Hour, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := b.Sleep(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Sleep = %v, want context.Canceled", err)
	}
}
