package queue

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestEnqueueRunsJobsInFifoOrder(t *testing.T) {
	q := New()
	defer q.Close()

	var order []int
	done := make(chan struct{})

	h1 := Enqueue(q, func(ctx context.Context) (int, error) {
		order = append(order, 1)
		return 1, nil
	}, "")
	h2 := Enqueue(q, func(ctx context.Context) (int, error) {
		order = append(order, 2)
		close(done)
		return 2, nil
	}, "")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := h1.Wait(ctx); err != nil {
		t.Fatalf("h1.Wait() error = %v", err)
	}
	if _, err := h2.Wait(ctx); err != nil {
		t.Fatalf("h2.Wait() error = %v", err)
	}

	<-done
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("execution order = %v, want [1 2]", order)
	}
}

func TestWaitReturnsValueAndError(t *testing.T) {
	q := New()
	defer q.Close()

	wantErr := errors.New("boom")
	h := Enqueue(q, func(ctx context.Context) (string, error) {
		return "", wantErr
	}, "")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := h.Wait(ctx)
	if !errors.Is(err, wantErr) {
		t.Fatalf("Wait() error = %v, want %v", err, wantErr)
	}
	if got := h.Status(); got != StatusFailed {
		t.Fatalf("Status() = %v, want failed", got)
	}
}

func TestCancelAllRemovesPendingJobsBeforeTheyRun(t *testing.T) {
	q := New()
	defer q.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	h0 := Enqueue(q, func(ctx context.Context) (int, error) {
		close(started)
		<-block
		return 0, nil
	}, "")

	ran := false
	h1 := Enqueue(q, func(ctx context.Context) (int, error) {
		ran = true
		return 1, nil
	}, "")

	<-started // h0 is now running, h1 is pending
	q.CancelAll()
	close(block)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	h0.Wait(ctx)

	if got := h1.Status(); got != StatusCancelled {
		t.Fatalf("pending job Status() after CancelAll = %v, want cancelled", got)
	}
	if ran {
		t.Fatalf("cancelled pending job executed, want it skipped entirely")
	}
}

func TestHandleCancelRemovesPendingJobBeforeItRuns(t *testing.T) {
	q := New()
	defer q.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	h0 := Enqueue(q, func(ctx context.Context) (int, error) {
		close(started)
		<-block
		return 0, nil
	}, "")

	ran := false
	h1 := Enqueue(q, func(ctx context.Context) (int, error) {
		ran = true
		return 1, nil
	}, "")

	<-started // h0 is now running, h1 is pending
	h1.Cancel()
	close(block)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	h0.Wait(ctx)

	if got := h1.Status(); got != StatusCancelled {
		t.Fatalf("pending job Status() after Cancel = %v, want cancelled", got)
	}
	if ran {
		t.Fatalf("cancelled pending job executed, want it skipped entirely")
	}
	if got := q.GetPendingCount(); got != 0 {
		t.Fatalf("GetPendingCount() after cancelling the only pending job = %d, want 0", got)
	}
}

func TestGetPendingCount(t *testing.T) {
	q := New()
	defer q.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	Enqueue(q, func(ctx context.Context) (int, error) {
		close(started)
		<-block
		return 0, nil
	}, "")
	Enqueue(q, func(ctx context.Context) (int, error) { return 0, nil }, "")
	Enqueue(q, func(ctx context.Context) (int, error) { return 0, nil }, "")

	<-started
	if got := q.GetPendingCount(); got != 2 {
		t.Fatalf("GetPendingCount() = %d, want 2", got)
	}
	close(block)
}

func TestWaitForIdleBlocksUntilQueueDrains(t *testing.T) {
	q := New()
	defer q.Close()

	Enqueue(q, func(ctx context.Context) (int, error) {
		time.Sleep(20 * time.Millisecond)
		return 0, nil
	}, "")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := q.WaitForIdle(ctx); err != nil {
		t.Fatalf("WaitForIdle() error = %v", err)
	}
	if got := q.GetPendingCount(); got != 0 {
		t.Fatalf("GetPendingCount() after idle = %d, want 0", got)
	}
}

func TestGetStatusUnknownForUnseenID(t *testing.T) {
	q := New()
	defer q.Close()
	if got := q.GetStatus("never-enqueued"); got != StatusUnknown {
		t.Fatalf("GetStatus(unseen) = %v, want unknown", got)
	}
}
