package logx

import (
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/term"
)

// Spinner is a minimal waiting indicator printed to stderr while a remote
// call is in flight. On a non-TTY it stays silent. Cancel is idempotent and
// safe to call from another goroutine; the session manager cancels the
// spinner before relaying the first streamed chunk.
type Spinner struct {
	stop chan struct{}
	once sync.Once
}

// NewSpinner starts the indicator.
func NewSpinner() *Spinner {
	s := &Spinner{stop: make(chan struct{})}

	if !term.IsTerminal(int(os.Stderr.Fd())) {
		return s
	}

	go func() {
		frames := []string{"|", "/", "-", "\\"}
		ticker := time.NewTicker(150 * time.Millisecond)
		defer ticker.Stop()

		i := 0
		for {
			select {
			case <-s.stop:
				fmt.Fprint(os.Stderr, "\r \r")
				return
			case <-ticker.C:
				fmt.Fprintf(os.Stderr, "\r%s", frames[i%len(frames)])
				i++
			}
		}
	}()
	return s
}

// Cancel stops the indicator and clears its output.
func (s *Spinner) Cancel() {
	s.once.Do(func() { close(s.stop) })
}
