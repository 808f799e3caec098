// Package explore implements the path explorer: a worklist over
// ExecutionStates that drives the symbolic interpreter (symbolic/interp),
// applies loop/call/depth bounds, and asks the property checker
// (symbolic/check) whether each terminal leaf is an attacker-win state.
package explore

import (
	"context"
	"encoding/hex"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ethbmc/ethbmc/crypto"
	"github.com/ethbmc/ethbmc/log"
	"github.com/ethbmc/ethbmc/metrics"
	"github.com/ethbmc/ethbmc/solver"
	"github.com/ethbmc/ethbmc/symbolic/check"
	"github.com/ethbmc/ethbmc/symbolic/disasm"
	"github.com/ethbmc/ethbmc/symbolic/env"
	"github.com/ethbmc/ethbmc/symbolic/expr"
	"github.com/ethbmc/ethbmc/symbolic/interp"
	"github.com/ethbmc/ethbmc/symbolic/smem"
)

// Strategy selects how the worklist picks its next state.
type Strategy uint8

const (
	DFS Strategy = iota
	BFS
	CoverageGuided
)

// Config holds the per-run exploration knobs.
type Config struct {
	Interp      interp.Config
	CallBound   int
	Strategy    Strategy
	WallClock   time.Duration // <= 0 disables the cap
	Parallelism int           // states advanced concurrently per round
	StopOnFirst bool          // stop at the first satisfiable goal
	Check       check.Config
}

// Exact gas semantics are not enforced; these defaults only keep the
// symbolic gas and call depth from being entirely unbounded.
const (
	defaultMaxGas       = 10_000_000
	defaultMaxCallDepth = 1024
)

// Witness pairs a discovered attacker-win goal with the leaf state (and its
// path constraints) that satisfies it, plus the concrete model the validator replays
// against.
type Witness struct {
	Query check.Query
	Model solver.Model
}

// Engine owns one analysis: the environment, the victim's disassembled
// program, coverage tracking, and the solver pool used both for JUMPI
// pre-pruning and for the authoritative per-leaf goal checks.
type Engine struct {
	env      *env.Env
	pool     *solver.Pool
	coverage *disasm.Coverage
	cfg      Config
	logger   *log.Logger
	sat      interp.SatChecker
}

// New constructs an explorer over e (already populated with attacker and
// victim accounts, see symbolic/env) backed by pool for satisfiability
// checks.
func New(e *env.Env, pool *solver.Pool, cfg Config) *Engine {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	if cfg.Interp.MaxGas == 0 {
		cfg.Interp.MaxGas = defaultMaxGas
	}
	if cfg.Interp.MaxDepth == 0 {
		cfg.Interp.MaxDepth = defaultMaxCallDepth
	}
	return &Engine{
		env:      e,
		pool:     pool,
		coverage: disasm.NewCoverage(),
		cfg:      cfg,
		logger:   log.Default().Module("explorer"),
		sat:      poolSatChecker{pool},
	}
}

type poolSatChecker struct{ pool *solver.Pool }

func (p poolSatChecker) IsSatisfiable(constraints []*expr.BVal) bool {
	// Unknown is treated as satisfiable for pre-pruning purposes: dropping
	// a branch the solver could not decide would risk discarding a real
	// counterexample.
	return p.pool.CheckSat(context.Background(), constraints) != solver.ResultUnsat
}

// node is one worklist entry plus the key used for coverage-guided scoring.
type node struct {
	state   *interp.ExecutionState
	codeKey string
}

// Run drives exploration from the victim's entry point across up to
// cfg.CallBound attacker transactions, stopping when bounds/wall-clock
// expire or, with cfg.StopOnFirst, as soon as any attacker-win witness is
// found.
func (e *Engine) Run(ctx context.Context) ([]Witness, error) {
	var deadline time.Time
	if e.cfg.WallClock > 0 {
		deadline = time.Now().Add(e.cfg.WallClock)
	}

	victim := e.env.Account(e.env.VictimID)
	program := disasm.Disassemble(victim.Code)
	codeKey := hex.EncodeToString(crypto.Keccak256(victim.Code))
	e.coverage.Register(codeKey, program)

	worklist := []node{e.newAttackerCallNode(program, codeKey)}

	var witnesses []Witness
	for tx := 0; tx < e.cfg.CallBound && len(worklist) > 0; tx++ {
		survivors, found, err := e.drainWorklist(ctx, worklist, deadline)
		if err != nil {
			return witnesses, err
		}
		witnesses = append(witnesses, found...)
		if len(found) > 0 && e.cfg.StopOnFirst {
			return witnesses, nil
		}
		if tx+1 >= e.cfg.CallBound {
			break
		}
		e.env.NextBlock()
		worklist = e.continueFromSurvivors(survivors, program, codeKey)
		if len(worklist) == 0 {
			break
		}
	}
	return witnesses, nil
}

// newAttackerCallNode builds the initial ExecutionState for one attacker
// transaction into the victim, fresh memory, and one call frame.
func (e *Engine) newAttackerCallNode(program *disasm.Program, codeKey string) node {
	tx := e.env.NewAttackerTx(e.env.VictimID)
	// Gas is modeled symbolically but coarsely bounded.
	e.env.AddConstraint(expr.Comparison(expr.OpLe, tx.Gas, expr.ConstUint64(e.cfg.Interp.MaxGas, 256)))
	frame := &interp.CallFrame{
		AccountID: e.env.VictimID, CallerID: e.env.AttackerID,
		Program: program, Transaction: tx,
	}
	s := &interp.ExecutionState{
		Env:          e.env,
		Memory:       smem.Fresh(smem.KindMemory, "tx_memory"),
		Callstack:    []*interp.CallFrame{frame},
		LoopCounters: make(map[uint64]int),
		GasRemaining: tx.Gas,
	}
	return node{state: s, codeKey: codeKey}
}

// continueFromSurvivors derives a fresh attacker transaction into the
// victim from each surviving (successfully Returned/Stopped) terminal
// state of the previous round. Each survivor's
// balance/storage overlay is committed to the shared Env immediately before
// its transaction is derived, so the new transaction's "callvalue <=
// sender.balance" constraint and the new call frame's storage both start
// from that survivor's own ending state rather than another survivor's.
func (e *Engine) continueFromSurvivors(survivors []*interp.ExecutionState, program *disasm.Program, codeKey string) []node {
	var out []node
	for _, survivor := range survivors {
		survivor.CommitOverlay()
		out = append(out, e.newAttackerCallNode(program, codeKey))
	}
	return out
}

// drainWorklist runs every state in worklist to a terminal leaf, checking
// each leaf against the configured goals. It returns the surviving
// (Return/Stop) leaves usable as the basis for a further attacker
// transaction, and any witnesses found.
func (e *Engine) drainWorklist(ctx context.Context, worklist []node, deadline time.Time) ([]*interp.ExecutionState, []Witness, error) {
	var survivors []*interp.ExecutionState
	var witnesses []Witness

	for len(worklist) > 0 {
		if !deadline.IsZero() && time.Now().After(deadline) {
			e.logger.Warn("wall-clock cap reached, stopping exploration")
			break
		}
		metrics.WorklistDepth.Set(int64(len(worklist)))

		batch, rest := e.selectBatch(worklist)
		worklist = rest

		g, gctx := errgroup.WithContext(ctx)
		advanced := make([][]node, len(batch))
		for i, n := range batch {
			i, n := i, n
			g.Go(func() error {
				advanced[i] = e.advance(gctx, n)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return survivors, witnesses, err
		}

		for _, succs := range advanced {
			for _, n := range succs {
				if n.state.Halted == nil {
					worklist = append(worklist, n)
					continue
				}
				metrics.StatesExplored.Inc()
				switch n.state.Halted.Kind {
				case interp.HaltReturn, interp.HaltStop:
					survivors = append(survivors, n.state)
				}
				for _, q := range check.Candidates(n.state, e.cfg.Check) {
					res, model, err := e.pool.Solve(ctx, q.Constraints, e.env.WitnessTerms())
					if err != nil {
						e.logger.Warn("witness model extraction failed", "goal", q.Goal, "err", err)
						continue
					}
					if res == solver.ResultSat {
						witnesses = append(witnesses, Witness{Query: q, Model: model})
					}
				}
			}
		}
		if len(witnesses) > 0 && e.cfg.StopOnFirst {
			break
		}
	}
	return survivors, witnesses, nil
}

// advance steps a single state until it either halts (optionally resuming
// at the caller per interp.ResolveCallReturn, in which case it keeps
// stepping) or forks into more than one successor, returning the resulting
// worklist entries.
func (e *Engine) advance(ctx context.Context, n node) []node {
	s := n.state
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		e.coverage.Mark(n.codeKey, s.PC)

		succs := interp.Step(s, e.cfg.Interp, e.sat)

		if len(succs) != 1 {
			out := make([]node, 0, len(succs))
			for _, ns := range succs {
				out = append(out, node{state: ns, codeKey: n.codeKey})
			}
			return out
		}

		next := succs[0]
		if next.Halted == nil {
			s = next
			continue
		}
		resumed, cont := interp.ResolveCallReturn(next)
		if !cont {
			return []node{{state: next, codeKey: n.codeKey}}
		}
		s = resumed
	}
}

// selectBatch pops up to cfg.Parallelism nodes from worklist according to
// cfg.Strategy, returning (batch, remainder).
func (e *Engine) selectBatch(worklist []node) ([]node, []node) {
	n := e.cfg.Parallelism
	if n > len(worklist) {
		n = len(worklist)
	}
	switch e.cfg.Strategy {
	case BFS:
		return worklist[:n], worklist[n:]
	case CoverageGuided:
		sorted := append([]node(nil), worklist...)
		sort.SliceStable(sorted, func(i, j int) bool {
			iUncovered := !e.coverage.IsCovered(sorted[i].codeKey, sorted[i].state.PC)
			jUncovered := !e.coverage.IsCovered(sorted[j].codeKey, sorted[j].state.PC)
			if iUncovered != jUncovered {
				return iUncovered // uncovered-next states sort first
			}
			return len(sorted[i].state.Constraints) < len(sorted[j].state.Constraints)
		})
		chosen := sorted[:n]
		remaining := worklist
		for _, c := range chosen {
			remaining = removeOne(remaining, c.state)
		}
		return chosen, remaining
	default: // DFS
		last := len(worklist) - n
		return worklist[last:], worklist[:last]
	}
}

func removeOne(list []node, target *interp.ExecutionState) []node {
	for i, n := range list {
		if n.state == target {
			return append(append([]node(nil), list[:i]...), list[i+1:]...)
		}
	}
	return list
}
