package stage

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// fakeBoard answers Sangaboard commands from a canned reply function. Replies
// are queued before the driver reads, so the line scanner never sees EOF on a
// healthy exchange.
type fakeBoard struct {
	wrote  []string
	reply  func(cmd string) []string
	buf    bytes.Buffer
	closed bool
}

func (b *fakeBoard) Write(p []byte) (int, error) {
	cmd := strings.TrimSpace(string(p))
	b.wrote = append(b.wrote, cmd)
	for _, line := range b.reply(cmd) {
		b.buf.WriteString(line + "\n")
	}
	return len(p), nil
}

func (b *fakeBoard) Read(p []byte) (int, error) { return b.buf.Read(p) }

func (b *fakeBoard) Close() error {
	b.closed = true
	return nil
}

func TestSangaPosition(t *testing.T) {
	board := &fakeBoard{reply: func(cmd string) []string {
		if cmd == "p?" {
			return []string{"", "1000 -200 3"}
		}
		t.Fatalf("unexpected command %q", cmd)
		return nil
	}}
	s := newSanga(board)

	pos, err := s.Position()
	if err != nil {
		t.Fatalf("Position: %v", err)
	}
	if want := (Position{X: 1000, Y: -200, Z: 3}); pos != want {
		t.Fatalf("position = %+v, want %+v", pos, want)
	}
}

func TestSangaPositionBadReply(t *testing.T) {
	board := &fakeBoard{reply: func(string) []string {
		return []string{"whoops"}
	}}
	s := newSanga(board)

	if _, err := s.Position(); !errors.Is(err, ErrBoard) {
		t.Fatalf("err = %v, want ErrBoard", err)
	}
}

func TestSangaMoveRelEncoding(t *testing.T) {
	board := &fakeBoard{reply: func(cmd string) []string {
		return []string{"done."}
	}}
	s := newSanga(board)

	if err := s.MoveRel(context.Background(), Position{X: 10, Y: -20, Z: 30}); err != nil {
		t.Fatalf("MoveRel: %v", err)
	}
	if len(board.wrote) != 1 || board.wrote[0] != "mr 10 -20 30" {
		t.Fatalf("wrote %q, want [\"mr 10 -20 30\"]", board.wrote)
	}
}

func TestSangaMoveRelBoardError(t *testing.T) {
	board := &fakeBoard{reply: func(string) []string {
		return []string{"error: endstop hit"}
	}}
	s := newSanga(board)

	if err := s.MoveRel(context.Background(), Position{Z: 100}); !errors.Is(err, ErrBoard) {
		t.Fatalf("err = %v, want ErrBoard", err)
	}
}

func TestSangaMoveAbsQueriesThenMoves(t *testing.T) {
	board := &fakeBoard{reply: func(cmd string) []string {
		if cmd == "p?" {
			return []string{"100 100 100"}
		}
		return []string{"done."}
	}}
	s := newSanga(board)

	if err := s.MoveAbs(context.Background(), Position{X: 150, Y: 50, Z: 100}); err != nil {
		t.Fatalf("MoveAbs: %v", err)
	}
	want := []string{"p?", "mr 50 -50 0"}
	if len(board.wrote) != len(want) {
		t.Fatalf("wrote %q, want %q", board.wrote, want)
	}
	for i := range want {
		if board.wrote[i] != want[i] {
			t.Fatalf("wrote[%d] = %q, want %q", i, board.wrote[i], want[i])
		}
	}
}

func TestSangaConcurrentPositionQueuesBehindMove(t *testing.T) {
	board := &fakeBoard{reply: func(cmd string) []string {
		if strings.HasPrefix(cmd, "mr") {
			time.Sleep(30 * time.Millisecond) // board still stepping
			return []string{"done."}
		}
		return []string{"0 300 0"}
	}}
	s := newSanga(board)

	done := make(chan error, 1)
	go func() {
		done <- s.MoveRel(context.Background(), Position{Y: 300})
	}()
	time.Sleep(5 * time.Millisecond)

	pos, err := s.Position()
	if err != nil {
		t.Fatalf("Position during move: %v", err)
	}
	if want := (Position{Y: 300}); pos != want {
		t.Fatalf("position = %+v, want %+v", pos, want)
	}
	if err := <-done; err != nil {
		t.Fatalf("MoveRel: %v", err)
	}
	want := []string{"mr 0 300 0", "p?"}
	if len(board.wrote) != len(want) {
		t.Fatalf("wrote %q, want %q", board.wrote, want)
	}
	for i := range want {
		if board.wrote[i] != want[i] {
			t.Fatalf("wrote[%d] = %q, want %q", i, board.wrote[i], want[i])
		}
	}
}

func TestSangaClose(t *testing.T) {
	board := &fakeBoard{reply: func(string) []string { return nil }}
	s := newSanga(board)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !board.closed {
		t.Fatal("port not closed")
	}
}
