package uci

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	handshakeTimeout = 10 * time.Second
	readyTimeout     = 10 * time.Second

	defaultSearchTimeout = 30 * time.Second
	// After the search cap we send "stop" and give the engine this long
	// to emit its forced bestmove before we kill it.
	defaultStopGrace = 5 * time.Second

	lineBuffer = 512
)

var (
	ErrNotReady      = errors.New("uci: engine not ready")
	ErrEngineDead    = errors.New("uci: engine process died")
	ErrSearchTimeout = errors.New("uci: search timed out")
	ErrBadLimits     = errors.New("uci: exactly one of nodes, depth, movetime must be set")
)

// Option is a single "setoption name K value V" pair.
type Option struct {
	Name  string
	Value string
}

// Limits bounds a search. Exactly one field must be set.
type Limits struct {
	Nodes    int64
	Depth    int
	MoveTime time.Duration
}

// Position is the position to search. When Moves is non-empty the engine
// is fed "position startpos moves …" so it keeps threefold-repetition and
// fifty-move context; otherwise "position fen …". FEN always describes
// the position being searched and supplies the side to move.
type Position struct {
	FEN   string
	Moves []string
}

// Engine owns one UCI subprocess. Commands and searches are single-flight;
// the pool's busy flag guarantees at most one caller at a time.
type Engine struct {
	ID   int
	Kind Kind

	path string
	log  *slog.Logger

	cmd   *exec.Cmd
	stdin io.WriteCloser

	lines    chan string
	dead     chan struct{}
	deadOnce sync.Once

	// searchTimeout and stopGrace carry the default cap; tests shorten
	// them to drive the stop/kill path.
	searchTimeout time.Duration
	stopGrace     time.Duration

	ready atomic.Bool
	busy  atomic.Bool
}

// New resolves the binary for the current platform and returns an
// unstarted engine. Start must be called before any other operation.
func New(id int, kind Kind, binaryDir string) (*Engine, error) {
	path, err := BinaryPath(binaryDir, kind)
	if err != nil {
		return nil, err
	}
	return &Engine{
		ID:            id,
		Kind:          kind,
		path:          path,
		log:           slog.With("component", "uci", "kind", kind.String(), "engine", id),
		lines:         make(chan string, lineBuffer),
		dead:          make(chan struct{}),
		searchTimeout: defaultSearchTimeout,
		stopGrace:     defaultStopGrace,
	}, nil
}

// Start spawns the subprocess, attaches the line readers and runs the
// UCI handshake. The engine is ready once "uciok" arrives.
func (e *Engine) Start() error {
	cmd := exec.Command(e.path)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("uci: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("uci: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("uci: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("uci: spawn %s: %w", e.path, err)
	}
	e.cmd = cmd
	e.stdin = stdin

	go e.readLoop(stdout)
	go e.drainStderr(stderr)
	go func() {
		// Reap the child so it never lingers as a zombie.
		err := cmd.Wait()
		e.markDead()
		if err != nil {
			e.log.Warn("engine exited", "error", err)
		}
	}()

	return e.handshake()
}

// Attach wires an engine to the stdin/stdout of an externally managed
// process and runs the UCI handshake. Stop only closes the pipes in
// this mode; the caller owns process termination.
func Attach(id int, kind Kind, stdin io.WriteCloser, stdout io.Reader) (*Engine, error) {
	e := &Engine{
		ID:            id,
		Kind:          kind,
		log:           slog.With("component", "uci", "kind", kind.String(), "engine", id),
		lines:         make(chan string, lineBuffer),
		dead:          make(chan struct{}),
		searchTimeout: defaultSearchTimeout,
		stopGrace:     defaultStopGrace,
	}
	e.stdin = stdin
	go e.readLoop(stdout)
	if err := e.handshake(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) handshake() error {
	if err := e.send("uci"); err != nil {
		return err
	}
	if err := e.waitFor("uciok", handshakeTimeout); err != nil {
		e.kill()
		return fmt.Errorf("uci: handshake: %w", err)
	}
	e.ready.Store(true)
	e.log.Info("engine ready", "path", e.path)
	return nil
}

func (e *Engine) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		select {
		case e.lines <- line:
		default:
			// Nobody is consuming and the buffer is full; this is
			// inter-search chatter we can drop.
		}
	}
	e.markDead()
}

func (e *Engine) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		e.log.Debug("engine stderr", "line", scanner.Text())
	}
}

func (e *Engine) markDead() {
	e.deadOnce.Do(func() {
		e.ready.Store(false)
		close(e.dead)
	})
}

// Ready reports whether the handshake completed and the process is alive.
func (e *Engine) Ready() bool { return e.ready.Load() }

// Busy reports whether a search is in flight. The pool flips this flag
// on acquire/release.
func (e *Engine) Busy() bool { return e.busy.Load() }

// SetBusy is called by the pool while handing the engine out.
func (e *Engine) SetBusy(b bool) { e.busy.Store(b) }

// Dead is closed when the subprocess exits or its stdout reaches EOF.
func (e *Engine) Dead() <-chan struct{} { return e.dead }

func (e *Engine) send(cmd string) error {
	select {
	case <-e.dead:
		return ErrEngineDead
	default:
	}
	if _, err := io.WriteString(e.stdin, cmd+"\n"); err != nil {
		e.markDead()
		return fmt.Errorf("%w: %v", ErrEngineDead, err)
	}
	return nil
}

// waitFor discards lines until one starting with the sentinel arrives.
func (e *Engine) waitFor(sentinel string, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case line := <-e.lines:
			if strings.HasPrefix(line, sentinel) {
				return nil
			}
		case <-e.dead:
			return ErrEngineDead
		case <-timer.C:
			return fmt.Errorf("timed out waiting for %q", sentinel)
		}
	}
}

// drainStale flushes lines left over from a previous command exchange.
func (e *Engine) drainStale() {
	for {
		select {
		case <-e.lines:
		default:
			return
		}
	}
}

// Configure sends each option and synchronizes on isready/readyok.
func (e *Engine) Configure(opts []Option) error {
	if !e.ready.Load() {
		return ErrNotReady
	}
	e.drainStale()
	for _, o := range opts {
		if err := e.send(fmt.Sprintf("setoption name %s value %s", o.Name, o.Value)); err != nil {
			return err
		}
	}
	if err := e.send("isready"); err != nil {
		return err
	}
	return e.waitFor("readyok", readyTimeout)
}

// Search runs one search and returns the top multiPV candidates in the
// engine's multipv order, normalized to white's perspective. Info lines
// are deduped per multipv slot, latest retained. The 30-second cap sends
// "stop" and waits for the forced bestmove; an engine that will not stop
// is killed.
func (e *Engine) Search(pos Position, multiPV int, lim Limits) ([]Candidate, error) {
	if !e.ready.Load() {
		return nil, ErrNotReady
	}
	goCmd, err := goCommand(lim)
	if err != nil {
		return nil, err
	}

	e.drainStale()
	if err := e.send("ucinewgame"); err != nil {
		return nil, err
	}
	if err := e.send(positionCommand(pos)); err != nil {
		return nil, err
	}
	if err := e.send(goCmd); err != nil {
		return nil, err
	}

	byPV := make(map[int]Candidate)
	timer := time.NewTimer(e.searchTimeout)
	defer timer.Stop()

collect:
	for {
		select {
		case line := <-e.lines:
			if c, ok := parseInfoLine(line); ok {
				byPV[c.MultiPV] = c
				continue
			}
			if strings.HasPrefix(line, "bestmove") {
				break collect
			}
		case <-e.dead:
			return nil, ErrEngineDead
		case <-timer.C:
			if err := e.send("stop"); err != nil {
				return nil, ErrSearchTimeout
			}
			if err := e.waitFor("bestmove", e.stopGrace); err != nil {
				// The engine ignored stop; it cannot be trusted to be
				// idle, so terminate it. The pool removes dead engines.
				e.kill()
			}
			return nil, ErrSearchTimeout
		}
	}

	black := blackToMove(pos.FEN)
	out := make([]Candidate, 0, multiPV)
	for pv := 1; pv <= multiPV; pv++ {
		if c, ok := byPV[pv]; ok {
			out = append(out, normalizeToWhite(c, black))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].MultiPV < out[j].MultiPV })
	if len(out) == 0 {
		return nil, fmt.Errorf("uci: search produced no principal variation")
	}
	return out, nil
}

// Stop asks the engine to quit and then kills the subprocess.
func (e *Engine) Stop() {
	e.ready.Store(false)
	_ = e.send("quit")
	// Give quit a moment to land before the hard kill.
	select {
	case <-e.dead:
	case <-time.After(500 * time.Millisecond):
	}
	e.kill()
}

func (e *Engine) kill() {
	e.markDead()
	if e.cmd != nil && e.cmd.Process != nil {
		_ = e.cmd.Process.Kill()
	}
}

func positionCommand(pos Position) string {
	if len(pos.Moves) > 0 {
		return "position startpos moves " + strings.Join(pos.Moves, " ")
	}
	return "position fen " + pos.FEN
}

func goCommand(lim Limits) (string, error) {
	set := 0
	if lim.Nodes > 0 {
		set++
	}
	if lim.Depth > 0 {
		set++
	}
	if lim.MoveTime > 0 {
		set++
	}
	if set != 1 {
		return "", ErrBadLimits
	}
	switch {
	case lim.Nodes > 0:
		return fmt.Sprintf("go nodes %d", lim.Nodes), nil
	case lim.Depth > 0:
		return fmt.Sprintf("go depth %d", lim.Depth), nil
	default:
		return fmt.Sprintf("go movetime %d", lim.MoveTime.Milliseconds()), nil
	}
}
