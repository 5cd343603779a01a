package camera

import (
	"context"
	"testing"
	"time"
)

func TestSimZeroConfigStreams(t *testing.T) {
	cam := NewSim(Config{})
	if err := cam.StartStream(); err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer cam.StopStream()

	r := cam.Stream().NewReader()
	defer r.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	frame, err := r.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(frame) == 0 {
		t.Fatal("empty frame from zero-config sim camera")
	}
}

func TestSimStartStopIdempotent(t *testing.T) {
	cam := NewSim(DefaultConfig())
	if err := cam.StartStream(); err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	if err := cam.StartStream(); err != nil {
		t.Fatalf("second StartStream: %v", err)
	}
	if !cam.Streaming() {
		t.Fatal("not streaming after StartStream")
	}
	if err := cam.StopStream(); err != nil {
		t.Fatalf("StopStream: %v", err)
	}
	if err := cam.StopStream(); err != nil {
		t.Fatalf("second StopStream: %v", err)
	}
	if cam.Streaming() {
		t.Fatal("still streaming after StopStream")
	}
}
