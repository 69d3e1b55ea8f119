// Package ucitest provides a scripted in-process fake UCI engine for
// tests that need real engine traffic without engine binaries.
package ucitest

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
)

// GoFunc writes the info/bestmove lines for one "go" command.
type GoFunc func(cmd string, out io.Writer)

// FakeEngine speaks the engine side of UCI over in-memory pipes: it
// answers uci with uciok, isready with readyok, and delegates go
// commands to the configured GoFunc.
type FakeEngine struct {
	stdin  *io.PipeReader
	stdout *io.PipeWriter

	mu       sync.Mutex
	received []string
	onGo     GoFunc
	onStop   GoFunc
}

// New starts a fake engine and returns it together with the write end
// of its stdin and the read end of its stdout, ready for uci.Attach.
func New(onGo GoFunc) (*FakeEngine, io.WriteCloser, io.Reader) {
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	fe := &FakeEngine{stdin: stdinR, stdout: stdoutW, onGo: onGo}
	go fe.run()
	return fe, stdinW, stdoutR
}

func (fe *FakeEngine) run() {
	scanner := bufio.NewScanner(fe.stdin)
	for scanner.Scan() {
		cmd := scanner.Text()
		fe.mu.Lock()
		fe.received = append(fe.received, cmd)
		fe.mu.Unlock()

		switch {
		case cmd == "uci":
			fmt.Fprintln(fe.stdout, "id name faketest 1.0")
			fmt.Fprintln(fe.stdout, "option name MultiPV type spin default 1 min 1 max 500")
			fmt.Fprintln(fe.stdout, "uciok")
		case cmd == "isready":
			fmt.Fprintln(fe.stdout, "readyok")
		case cmd == "stop":
			fe.mu.Lock()
			onStop := fe.onStop
			fe.mu.Unlock()
			if onStop != nil {
				onStop(cmd, fe.stdout)
			}
		case strings.HasPrefix(cmd, "go"):
			if fe.onGo != nil {
				fe.onGo(cmd, fe.stdout)
			}
		case cmd == "quit":
			fe.stdout.Close()
			return
		}
	}
	fe.stdout.Close()
}

// OnStop installs the handler invoked for "stop" commands. A fake with
// no handler ignores stop, like a wedged engine.
func (fe *FakeEngine) OnStop(fn GoFunc) {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	fe.onStop = fn
}

// Commands returns every line received so far, oldest first.
func (fe *FakeEngine) Commands() []string {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return append([]string(nil), fe.received...)
}

// Crash closes stdout mid-conversation, simulating a dying subprocess.
func (fe *FakeEngine) Crash() {
	fe.stdout.Close()
}
