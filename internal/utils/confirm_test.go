package utils

import (
	"context"
	"testing"
	"time"
)

func TestConfirmApproved(t *testing.T) {
	confirms := NewConfirmations()

	go func() {
		time.Sleep(10 * time.Millisecond)
		if !confirms.Resolve("m1", "u1", true) {
			t.Errorf("resolve should find waiter")
		}
	}()

	if result := confirms.Await(context.Background(), "m1", "u1", time.Second); result != ConfirmApproved {
		t.Fatalf("expected approved, got %v", result)
	}
}

func TestConfirmTimeout(t *testing.T) {
	confirms := NewConfirmations()
	if result := confirms.Await(context.Background(), "m1", "u1", 20*time.Millisecond); result != ConfirmTimeout {
		t.Fatalf("expected timeout, got %v", result)
	}
	if confirms.Resolve("m1", "u1", true) {
		t.Fatalf("late resolve must find nothing")
	}
}

func TestConfirmWrongActorIgnored(t *testing.T) {
	confirms := NewConfirmations()

	go func() {
		time.Sleep(10 * time.Millisecond)
		if confirms.Resolve("m1", "intruder", true) {
			t.Errorf("other actors must not resolve")
		}
		confirms.Resolve("m1", "u1", false)
	}()

	if result := confirms.Await(context.Background(), "m1", "u1", time.Second); result != ConfirmRejected {
		t.Fatalf("expected rejected, got %v", result)
	}
}
