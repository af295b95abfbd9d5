package middleware_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/emberline/stoker/id"
	"github.com/emberline/stoker/job"
	"github.com/emberline/stoker/middleware"
)

func testJob() *job.Job {
	return &job.Job{ID: id.NewTaskID(), Name: "test-task", State: job.StateRunning}
}

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) middleware.Middleware {
		return func(ctx context.Context, _ *job.Job, next middleware.Handler) error {
			order = append(order, name+":before")
			err := next(ctx)
			order = append(order, name+":after")
			return err
		}
	}

	chain := middleware.Chain(mw("outer"), mw("inner"))
	err := chain(context.Background(), testJob(), func(context.Context) error {
		order = append(order, "handler")
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	want := []string{"outer:before", "inner:before", "handler", "inner:after", "outer:after"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestChain_Empty(t *testing.T) {
	chain := middleware.Chain()
	called := false
	err := chain(context.Background(), testJob(), func(context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("empty chain: err=%v called=%v", err, called)
	}
}

func TestChain_PropagatesError(t *testing.T) {
	sentinel := errors.New("boom")
	chain := middleware.Chain(
		func(ctx context.Context, _ *job.Job, next middleware.Handler) error {
			return next(ctx)
		},
	)
	err := chain(context.Background(), testJob(), func(context.Context) error {
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want %v", err, sentinel)
	}
}

func TestTimeout_DeadlineExceeded(t *testing.T) {
	mw := middleware.Timeout(10 * time.Millisecond)
	err := mw(context.Background(), testJob(), func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
}

func TestTimeout_Disabled(t *testing.T) {
	mw := middleware.Timeout(0)
	err := mw(context.Background(), testJob(), func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); ok {
			t.Error("deadline set despite zero timeout")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}
