// Package interp implements the symbolic EVM interpreter: one opcode
// step at a time over the expression DAG (symbolic/expr) and symbolic
// memory (symbolic/smem), producing either a single successor state or, at
// a JUMPI whose condition is not constant, two.
package interp

import (
	"fmt"

	"github.com/ethbmc/ethbmc/core/vm"
	"github.com/ethbmc/ethbmc/symbolic/disasm"
	"github.com/ethbmc/ethbmc/symbolic/env"
	"github.com/ethbmc/ethbmc/symbolic/expr"
	"github.com/ethbmc/ethbmc/symbolic/smem"
)

const maxStackDepth = 1024

// HaltKind classifies how a path terminated.
type HaltKind uint8

const (
	HaltNone HaltKind = iota
	HaltStop
	HaltReturn
	HaltRevert
	HaltSelfDestruct
	HaltInvalidOp
	HaltOutOfBounds
	HaltSolverUnknown
)

func (h HaltKind) String() string {
	switch h {
	case HaltStop:
		return "stop"
	case HaltReturn:
		return "return"
	case HaltRevert:
		return "revert"
	case HaltSelfDestruct:
		return "selfdestruct"
	case HaltInvalidOp:
		return "invalid-op"
	case HaltOutOfBounds:
		return "out-of-bounds"
	case HaltSolverUnknown:
		return "solver-unknown"
	default:
		return "none"
	}
}

// Halt records the terminal condition of a path.
type Halt struct {
	Kind          HaltKind
	ReturnOffset  *expr.BVal
	ReturnLength  *expr.BVal
	Beneficiary   *expr.BVal // SelfDestruct target
	Err           error
}

// CallFrame is one entry in the symbolic call stack, tracking what to
// resume once the callee frame halts.
type CallFrame struct {
	AccountID    env.AccountId // executing account (code context)
	CallerID     env.AccountId
	Program      *disasm.Program
	ReturnPC     uint64
	RetOffset    *expr.BVal
	RetLength    *expr.BVal
	IsStatic     bool
	Transaction  *env.Transaction

	// Balance snapshots taken at call time, restored on Revert/InvalidOp/
	// OutOfBounds: a reverted call rolls back any value transfer made for
	// that call.
	CallerBalanceBefore *expr.BVal
	CalleeBalanceBefore *expr.BVal

	// CallerMemory is the caller's memory MVal at call time, restored (with
	// the callee's return data spliced in at RetOffset) when the frame pops.
	CallerMemory *smem.MVal
}

// ExecutionState is one path's complete symbolic state.
type ExecutionState struct {
	Env   *env.Env
	PC    uint64
	Stack []*expr.BVal

	Memory     *smem.MVal
	Returndata *smem.MVal

	Callstack []*CallFrame

	GasRemaining *expr.BVal

	Constraints []*expr.BVal

	Halted *Halt

	// LoopCounters tracks, per back-edge target PC, how many times this path
	// has taken that JUMPI back-edge. Exceeding Config.LoopBound drops the
	// path (unrolling cap).
	LoopCounters map[uint64]int

	CallDepth int

	// AcctBalance/AcctStorage overlay the Env's shared Account.Balance/
	// Storage for this path only. Every account's ground truth starts out
	// in the (process-wide, cross-path) *env.Account; a path that mutates an
	// account's balance or storage (SSTORE, a value-bearing CALL,
	// SELFDESTRUCT) records the new value here instead of on the shared
	// Account, so a sibling path forked at an earlier JUMPI never observes
	// it. Balance/Storage fall back to the Account's field when the map has
	// no entry, keeping account state path-local the same way Memory/
	// Storage MVals already do for memory/calldata.
	AcctBalance map[env.AccountId]*expr.BVal
	AcctStorage map[env.AccountId]*smem.MVal
}

// Balance returns id's current balance on this path: the override recorded
// by an earlier SSTORE/CALL/SELFDESTRUCT on this path, or the Env's shared
// (initial, or previous-round) balance if this path never touched it.
func (s *ExecutionState) Balance(id env.AccountId) *expr.BVal {
	if b, ok := s.AcctBalance[id]; ok {
		return b
	}
	return s.Env.Account(id).Balance
}

// SetBalance records id's balance as of this path, without touching any
// other path's view of the same account.
func (s *ExecutionState) SetBalance(id env.AccountId, b *expr.BVal) {
	if s.AcctBalance == nil {
		s.AcctBalance = make(map[env.AccountId]*expr.BVal)
	}
	s.AcctBalance[id] = b
}

// Storage returns id's current storage MVal on this path, falling back to
// the Env's shared (initial) storage if this path never wrote it.
func (s *ExecutionState) Storage(id env.AccountId) *smem.MVal {
	if m, ok := s.AcctStorage[id]; ok {
		return m
	}
	return s.Env.Account(id).Storage
}

// SetStorage records id's storage MVal as of this path.
func (s *ExecutionState) SetStorage(id env.AccountId, m *smem.MVal) {
	if s.AcctStorage == nil {
		s.AcctStorage = make(map[env.AccountId]*smem.MVal)
	}
	s.AcctStorage[id] = m
}

// CommitOverlay writes this path's balance/storage overlay back onto the
// shared Env's Account structs. Used by the explorer when it picks one surviving
// terminal state as the basis for the next attacker transaction: every
// later round derived from that survivor should see its ending balances and
// storage as the new starting point, not the pre-fork values every sibling
// path that didn't survive still shares.
func (s *ExecutionState) CommitOverlay() {
	for id, b := range s.AcctBalance {
		s.Env.Account(id).Balance = b
	}
	for id, m := range s.AcctStorage {
		s.Env.Account(id).Storage = m
	}
}

// Current returns the call frame currently executing.
func (s *ExecutionState) Current() *CallFrame {
	return s.Callstack[len(s.Callstack)-1]
}

// CurrentAccount returns the account whose code is executing.
func (s *ExecutionState) CurrentAccount() *env.Account {
	return s.Env.Account(s.Current().AccountID)
}

// Push pushes a value, returning an OutOfBounds halt if the stack would
// exceed 1024 entries.
func (s *ExecutionState) Push(v *expr.BVal) bool {
	if len(s.Stack) >= maxStackDepth {
		s.Halted = &Halt{Kind: HaltOutOfBounds, Err: fmt.Errorf("stack overflow")}
		return false
	}
	s.Stack = append(s.Stack, v)
	return true
}

// Pop pops a value, returning an OutOfBounds halt on underflow.
func (s *ExecutionState) Pop() (*expr.BVal, bool) {
	if len(s.Stack) == 0 {
		s.Halted = &Halt{Kind: HaltOutOfBounds, Err: fmt.Errorf("stack underflow")}
		return nil, false
	}
	v := s.Stack[len(s.Stack)-1]
	s.Stack = s.Stack[:len(s.Stack)-1]
	return v, true
}

// Peek returns the n-th item from the top (0 = top) without popping.
func (s *ExecutionState) Peek(n int) (*expr.BVal, bool) {
	idx := len(s.Stack) - 1 - n
	if idx < 0 {
		s.Halted = &Halt{Kind: HaltOutOfBounds, Err: fmt.Errorf("stack underflow")}
		return nil, false
	}
	return s.Stack[idx], true
}

// Fork produces an independent copy of the state suitable for the other
// JUMPI branch: the stack slice, constraint slice, and loop-counter map are
// copied (cheap — they hold pointers into the shared, immutable DAG), but
// Memory/storage MVals are shared by reference since MVals are themselves
// immutable/copy-on-write.
func (s *ExecutionState) Fork() *ExecutionState {
	cp := *s
	cp.Stack = append([]*expr.BVal(nil), s.Stack...)
	cp.Constraints = append([]*expr.BVal(nil), s.Constraints...)
	cp.LoopCounters = make(map[uint64]int, len(s.LoopCounters))
	for k, v := range s.LoopCounters {
		cp.LoopCounters[k] = v
	}
	cp.Callstack = append([]*CallFrame(nil), s.Callstack...)
	if s.AcctBalance != nil {
		cp.AcctBalance = make(map[env.AccountId]*expr.BVal, len(s.AcctBalance))
		for k, v := range s.AcctBalance {
			cp.AcctBalance[k] = v
		}
	}
	if s.AcctStorage != nil {
		cp.AcctStorage = make(map[env.AccountId]*smem.MVal, len(s.AcctStorage))
		for k, v := range s.AcctStorage {
			cp.AcctStorage[k] = v
		}
	}
	return &cp
}

// CodeOp reads the byte at index n of the account's code, or 0 (STOP) if
// out of bounds, matching concrete EVM semantics at code end.
func CodeOp(code []byte, n uint64) vm.OpCode {
	if n < uint64(len(code)) {
		return vm.OpCode(code[n])
	}
	return vm.STOP
}
