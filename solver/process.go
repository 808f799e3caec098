package solver

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/ethbmc/ethbmc/log"
)

// process wraps one long-lived solver subprocess, spoken to incrementally
// over stdin/stdout. A single process is owned exclusively by one worker
// goroutine at a time.
type process struct {
	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Reader
	backend Backend
	logger  *log.Logger

	// initialized records whether set-logic has been issued on this
	// subprocess; SMT-LIB allows it only once per session, so it is sent
	// lazily on the first query and again after every restart.
	initialized bool
}

func startProcess(backend Backend) (*process, error) {
	cmd := exec.Command(backend.BinaryName(), smtlibArgs(backend)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("solver: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("solver: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("solver: start %s: %w", backend.BinaryName(), err)
	}
	return &process{
		cmd: cmd, stdin: stdin, stdout: bufio.NewReader(stdout), backend: backend,
		logger: log.Default().Module("solver"),
	}, nil
}

// smtlibArgs returns the flags needed to put each backend into
// SMT-LIB-2.0-over-stdin interactive mode.
func smtlibArgs(b Backend) []string {
	switch b {
	case BackendZ3:
		return []string{"-in", "-smt2"}
	case BackendBoolector:
		return []string{"--smt2", "-i"}
	default: // yices-smt2
		return []string{"--incremental"}
	}
}

// restart kills and relaunches the subprocess, used after a hard timeout
// or a protocol desync.
func (p *process) restart() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.restartLocked()
}

// checkSat sends a query body (declarations + assertions, ending in
// "(check-sat)") inside a fresh (push 1)/(pop 1) frame and reads back the
// verdict, skipping any diagnostic lines the solver prints first. It honors
// ctx cancellation/deadline by racing the blocking read against ctx.Done
// and restarting the process on timeout. With keepFrame the assertion
// frame is left on the stack so the caller can issue get-value commands;
// it must call release() when done.
func (p *process) checkSat(ctx context.Context, body string, keepFrame bool) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		if _, err := io.WriteString(p.stdin, "(set-logic QF_ABV)\n"); err != nil {
			return ResultUnknown, fmt.Errorf("solver: write set-logic: %w", err)
		}
		p.initialized = true
	}
	if _, err := io.WriteString(p.stdin, "(push 1)\n"+body); err != nil {
		return ResultUnknown, fmt.Errorf("solver: write query: %w", err)
	}

	type readResult struct {
		line string
		err  error
	}
	ch := make(chan readResult, 1)
	go func() {
		for {
			line, err := p.stdout.ReadString('\n')
			if err != nil {
				ch <- readResult{"", err}
				return
			}
			switch strings.TrimSpace(line) {
			case "sat", "unsat", "unknown":
				ch <- readResult{line, nil}
				return
			}
			// Anything else (blank line, (error ...) diagnostics) is skipped;
			// a stream that never produces a verdict is cut off by ctx below.
		}
	}()

	select {
	case <-ctx.Done():
		p.logger.Warn("solver query timed out, restarting process", "backend", p.backend.String())
		if err := p.restartLocked(); err != nil {
			return ResultUnknown, err
		}
		return ResultUnknown, nil
	case r := <-ch:
		if r.err != nil {
			return ResultUnknown, fmt.Errorf("solver: read response: %w", r.err)
		}
		if !keepFrame {
			if _, err := io.WriteString(p.stdin, "(pop 1)\n"); err != nil {
				return parseSatLine(r.line), fmt.Errorf("solver: write pop: %w", err)
			}
		}
		return parseSatLine(r.line), nil
	}
}

// release pops the assertion frame a checkSat(..., keepFrame=true) left on
// the solver stack. Harmless after a restart (the solver prints an error
// the next query's read loop skips).
func (p *process) release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = io.WriteString(p.stdin, "(pop 1)\n")
}

// getValue sends a single "(get-value (term))" command against an already
// sat-checked incremental session and returns the raw response line, for
// model extraction (solver/model.go). Must only be called right after
// checkSat returned ResultSat on the same process: get-value is undefined
// once the assertion stack has moved on.
func (p *process) getValue(ctx context.Context, term string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	query := fmt.Sprintf("(get-value (%s))\n", term)
	if _, err := io.WriteString(p.stdin, query); err != nil {
		return "", fmt.Errorf("solver: write get-value: %w", err)
	}

	type readResult struct {
		line string
		err  error
	}
	ch := make(chan readResult, 1)
	go func() {
		line, err := p.stdout.ReadString('\n')
		ch <- readResult{line, err}
	}()

	select {
	case <-ctx.Done():
		p.logger.Warn("solver get-value timed out, restarting process", "backend", p.backend.String())
		if err := p.restartLocked(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("solver: get-value timed out")
	case r := <-ch:
		if r.err != nil {
			return "", fmt.Errorf("solver: read get-value response: %w", r.err)
		}
		return r.line, nil
	}
}

// restartLocked assumes p.mu is already held.
func (p *process) restartLocked() error {
	if p.cmd != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
		_ = p.cmd.Wait()
	}
	np, err := startProcess(p.backend)
	if err != nil {
		return err
	}
	p.cmd, p.stdin, p.stdout = np.cmd, np.stdin, np.stdout
	p.initialized = false
	return nil
}

func parseSatLine(line string) Result {
	line = strings.TrimSpace(line)
	switch line {
	case "sat":
		return ResultSat
	case "unsat":
		return ResultUnsat
	default:
		return ResultUnknown
	}
}

func (p *process) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil && p.cmd.Process != nil {
		_ = p.stdin.Close()
		_ = p.cmd.Process.Kill()
		_ = p.cmd.Wait()
	}
}

// withTimeout is a small helper so callers can build a per-query context
// without importing context/time themselves at every call site.
func withTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, d)
}
