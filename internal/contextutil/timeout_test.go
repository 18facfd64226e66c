package contextutil

import (
	"context"
	"testing"
	"time"
)

func TestWithTimeout_NilParent_NoTimeoutReturnsNonNilContext(t *testing.T) {
	ctx, cancel := WithTimeout(nil, 0)
	t.Cleanup(cancel)
	if ctx == nil {
		t.Fatalf("expected non-nil context")
	}
	if err := ctx.Err(); err != nil {
		t.Fatalf("expected nil Err, got %v", err)
	}
}

func TestWithStep_EarlierDeadlineWins(t *testing.T) {
	overall := time.Now().Add(50 * time.Millisecond)
	ctx, cancel := WithStep(context.Background(), time.Hour, overall)
	defer cancel()
	dl, ok := ctx.Deadline()
	if !ok || !dl.Equal(overall) {
		t.Fatalf("expected overall deadline %v, got %v (ok=%v)", overall, dl, ok)
	}

	ctx2, cancel2 := WithStep(context.Background(), 10*time.Millisecond, time.Now().Add(time.Hour))
	defer cancel2()
	dl2, _ := ctx2.Deadline()
	if time.Until(dl2) > time.Second {
		t.Fatalf("expected step deadline to win, got %v", dl2)
	}
}

func TestWithStep_Unbounded(t *testing.T) {
	ctx, cancel := WithStep(nil, 0, time.Time{})
	defer cancel()
	if _, ok := ctx.Deadline(); ok {
		t.Fatalf("expected no deadline")
	}
}

func TestWithStep_Expires(t *testing.T) {
	ctx, cancel := WithStep(context.Background(), 5*time.Millisecond, time.Time{})
	defer cancel()
	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("step context did not expire")
	}
	if ctx.Err() != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded, got %v", ctx.Err())
	}
}
