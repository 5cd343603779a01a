package stage

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/openstage/go-microscope/internal/log"
	"github.com/openstage/go-microscope/pkg/lock"
)

// ErrBoard is returned (wrapped) when the Sangaboard reports an error or
// answers a query with something unparseable.
var ErrBoard = errors.New("stage: board error")

// Sanga drives a Sangaboard motor controller over its line-oriented serial
// protocol: relative moves with "mr x y z", position queries with "p?".
// Absolute moves are synthesized by querying the position first, since the
// board itself only accepts relative motion.
type Sanga struct {
	// mu serializes command/reply exchanges: the board answers one command
	// at a time on one line discipline, so a position poll arriving while a
	// move is waiting for "done." must queue behind it.
	mu      sync.Mutex
	port    io.ReadWriteCloser
	scanner *bufio.Scanner
	lk      *lock.Lock
}

var _ Stage = (*Sanga)(nil)

func newSanga(port io.ReadWriteCloser) *Sanga {
	return &Sanga{
		port:    port,
		scanner: bufio.NewScanner(port),
		lk:      lock.New("stage"),
	}
}

// OpenSanga opens the board on the named serial port.
func OpenSanga(portName string) (*Sanga, error) {
	mode := &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("stage: open %s: %w", portName, err)
	}
	if err := port.SetReadTimeout(2 * time.Second); err != nil {
		port.Close()
		return nil, fmt.Errorf("stage: set read timeout: %w", err)
	}

	s := newSanga(port)

	// The board prints a banner on connect; a version query both drains it
	// and confirms we are talking to a Sangaboard.
	version, err := s.query("version")
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("stage: no response from board on %s: %w", portName, err)
	}
	log.Info("connected to stage", "port", portName, "board", version)
	return s, nil
}

func (s *Sanga) Position() (Position, error) {
	resp, err := s.query("p?")
	if err != nil {
		return Position{}, err
	}
	var p Position
	if _, err := fmt.Sscanf(resp, "%d %d %d", &p.X, &p.Y, &p.Z); err != nil {
		return Position{}, fmt.Errorf("%w: bad position reply %q", ErrBoard, resp)
	}
	return p, nil
}

func (s *Sanga) MoveRel(_ context.Context, delta Position) error {
	// Moves block until the board replies "done.": the serial exchange is
	// the natural boundary, there is no mid-move interruption.
	resp, err := s.query(fmt.Sprintf("mr %d %d %d", delta.X, delta.Y, delta.Z))
	if err != nil {
		return err
	}
	if !strings.HasPrefix(resp, "done") {
		return fmt.Errorf("%w: move reply %q", ErrBoard, resp)
	}
	return nil
}

func (s *Sanga) MoveAbs(ctx context.Context, pos Position) error {
	cur, err := s.Position()
	if err != nil {
		return err
	}
	return s.MoveRel(ctx, pos.Sub(cur))
}

func (s *Sanga) Lock() *lock.Lock { return s.lk }
func (s *Sanga) Simulated() bool  { return false }

func (s *Sanga) Close() error {
	return s.port.Close()
}

// query writes one command line and returns the first non-empty reply line.
// The whole exchange is atomic with respect to other queries.
func (s *Sanga) query(cmd string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.port.Write([]byte(cmd + "\n")); err != nil {
		return "", fmt.Errorf("stage: write %q: %w", cmd, err)
	}
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line != "" {
			return line, nil
		}
	}
	if err := s.scanner.Err(); err != nil {
		return "", fmt.Errorf("stage: read reply to %q: %w", cmd, err)
	}
	return "", fmt.Errorf("%w: no reply to %q", ErrBoard, cmd)
}
