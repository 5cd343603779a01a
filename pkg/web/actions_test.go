package web

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestActionCompletes(t *testing.T) {
	r := NewRegistry()
	a := r.Launch("test", func(_ context.Context, progress func(float64)) (any, error) {
		progress(50)
		return "done", nil
	})
	a.Wait()

	v := a.View()
	if v.Status != ActionCompleted {
		t.Errorf("status = %q, want completed", v.Status)
	}
	if v.Progress != 100 {
		t.Errorf("progress = %v, want 100", v.Progress)
	}
	if v.Result != "done" {
		t.Errorf("result = %v, want %q", v.Result, "done")
	}
	if v.Ended == nil {
		t.Error("terminated action has no end time")
	}
}

func TestActionFails(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("boom")
	a := r.Launch("test", func(context.Context, func(float64)) (any, error) {
		return nil, boom
	})
	a.Wait()

	v := a.View()
	if v.Status != ActionFailed {
		t.Errorf("status = %q, want failed", v.Status)
	}
	if v.Error != "boom" {
		t.Errorf("error = %q, want %q", v.Error, "boom")
	}
}

func TestActionCancel(t *testing.T) {
	r := NewRegistry()
	started := make(chan struct{})
	a := r.Launch("test", func(ctx context.Context, _ func(float64)) (any, error) {
		close(started)
		<-ctx.Done()
		return "partial", nil
	})
	<-started

	if !r.Cancel(a.View().ID) {
		t.Fatal("Cancel reported unknown ID")
	}
	a.Wait()

	v := a.View()
	if v.Status != ActionCancelled {
		t.Errorf("status = %q, want cancelled", v.Status)
	}
	// A clean cooperative stop still delivers its partial result.
	if v.Result != "partial" {
		t.Errorf("result = %v, want partial result preserved", v.Result)
	}
}

func TestCancelUnknownAction(t *testing.T) {
	r := NewRegistry()
	if r.Cancel("nope") {
		t.Error("Cancel reported success for unknown ID")
	}
}

func TestRegistryListOrdersByStart(t *testing.T) {
	r := NewRegistry()
	first := r.Launch("first", func(context.Context, func(float64)) (any, error) {
		return nil, nil
	})
	first.Wait()
	time.Sleep(time.Millisecond)
	second := r.Launch("second", func(context.Context, func(float64)) (any, error) {
		return nil, nil
	})
	second.Wait()

	views := r.List()
	if len(views) != 2 {
		t.Fatalf("got %d actions, want 2", len(views))
	}
	if views[0].Name != "first" || views[1].Name != "second" {
		t.Errorf("order = [%s %s], want [first second]", views[0].Name, views[1].Name)
	}
}

func TestProgressIgnoredAfterTermination(t *testing.T) {
	r := NewRegistry()
	var report func(float64)
	a := r.Launch("test", func(_ context.Context, progress func(float64)) (any, error) {
		report = progress
		return nil, nil
	})
	a.Wait()

	report(7)
	if v := a.View(); v.Progress != 100 {
		t.Errorf("progress = %v, want 100 untouched by late reports", v.Progress)
	}
}
