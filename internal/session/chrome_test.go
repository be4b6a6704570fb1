package session

import (
	"context"
	"testing"
	"time"
)

func TestMergeDeadline_CarriesCallerDeadline(t *testing.T) {
	callerCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	merged, mergedCancel := mergeDeadline(context.Background(), callerCtx)
	defer mergedCancel()

	want, _ := callerCtx.Deadline()
	got, ok := merged.Deadline()
	if !ok {
		t.Fatal("merged context has no deadline")
	}
	if !got.Equal(want) {
		t.Errorf("deadline = %v, want %v", got, want)
	}
}

func TestMergeDeadline_CarriesCallerCancellation(t *testing.T) {
	callerCtx, cancel := context.WithCancel(context.Background())
	merged, mergedCancel := mergeDeadline(context.Background(), callerCtx)
	defer mergedCancel()

	cancel()
	select {
	case <-merged.Done():
	case <-time.After(time.Second):
		t.Fatal("merged context must end with the caller")
	}
}

func TestMergeDeadline_CarriesTaskCancellation(t *testing.T) {
	taskCtx, cancel := context.WithCancel(context.Background())
	merged, mergedCancel := mergeDeadline(taskCtx, context.Background())
	defer mergedCancel()

	cancel()
	select {
	case <-merged.Done():
	case <-time.After(time.Second):
		t.Fatal("merged context must end with the task context")
	}
}
