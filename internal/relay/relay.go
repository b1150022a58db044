// Package relay copies bytes between two duplex streams until either side closes.
package relay

import (
	"errors"
	"fmt"
	"io"

	"github.com/benmeehan/traffic-capture/internal/constants"
)

// Direction names one half of a relay.
type Direction string

const (
	AToB Direction = "a->b"
	BToA Direction = "b->a"
)

// RelayIOError reports a read or write failure on one side of a relay.
type RelayIOError struct {
	Op        string // "read" or "write"
	Direction Direction
	Err       error
}

func (e *RelayIOError) Error() string {
	return fmt.Sprintf("relay %s %s failed: %v", e.Direction, e.Op, e.Err)
}

func (e *RelayIOError) Unwrap() error { return e.Err }

// Stats holds the number of bytes moved in each direction.
type Stats struct {
	AToB int64
	BToA int64
}

type result struct {
	direction Direction
	written   int64
	err       error
}

// Relay copies data between a and b in fixed-size chunks until one side reaches
// end-of-stream or fails. Both streams are closed before Relay returns.
// An orderly close returns a nil error.
func Relay(a, b io.ReadWriteCloser) (Stats, error) {
	done := make(chan result, 2)

	go pump(b, a, AToB, done)
	go pump(a, b, BToA, done)

	first := <-done
	a.Close()
	b.Close()
	second := <-done

	var stats Stats
	for _, r := range []result{first, second} {
		if r.direction == AToB {
			stats.AToB = r.written
		} else {
			stats.BToA = r.written
		}
	}

	// the second pump fails on the streams we just closed
	return stats, first.err
}

// pump reads from src into a fixed chunk buffer and writes every chunk to dst.
func pump(dst io.Writer, src io.Reader, direction Direction, done chan<- result) {
	buf := make([]byte, constants.RelayChunkSize)
	var written int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			w, werr := dst.Write(buf[:n])
			written += int64(w)
			if werr == nil && w != n {
				werr = io.ErrShortWrite
			}
			if werr != nil {
				done <- result{direction, written, &RelayIOError{Op: "write", Direction: direction, Err: werr}}
				return
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				rerr = nil
			} else {
				rerr = &RelayIOError{Op: "read", Direction: direction, Err: rerr}
			}
			done <- result{direction, written, rerr}
			return
		}
	}
}
