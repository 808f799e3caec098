package interp

import (
	"github.com/ethbmc/ethbmc/symbolic/expr"
	"github.com/ethbmc/ethbmc/symbolic/smem"
)

// ResolveCallReturn inspects a halted state with more than one call frame
// and, if the halt is one that should return control to the caller rather
// than terminate the whole path, pops the frame and continues execution
// there. It returns the (possibly mutated, same-pointer) state and whether
// the path should keep running: false means s.Halted is the path's true
// terminal condition and the explorer should treat it as a leaf.
//
// Revert/InvalidOp/OutOfBounds roll back the balance transfer recorded at
// call time: a reverted call restores any value transfer made within it,
// matching EVM semantics.
func ResolveCallReturn(s *ExecutionState) (*ExecutionState, bool) {
	if s.Halted == nil || len(s.Callstack) <= 1 {
		return s, false
	}
	switch s.Halted.Kind {
	case HaltReturn, HaltRevert, HaltInvalidOp, HaltOutOfBounds:
	default:
		// Stop/SelfDestruct/SolverUnknown also end the overall path, even at
		// call depth > 0: this engine does not model resuming the caller
		// after a callee STOPs with an implicit empty-success return, since
		// distinguishing that from a genuine top-level halt would require
		// tracking more per-frame state than the goal predicates need.
		return s, false
	}

	frame := s.Callstack[len(s.Callstack)-1]
	success := s.Halted.Kind == HaltReturn

	if !success && frame.CallerBalanceBefore != nil {
		s.SetBalance(frame.CallerID, frame.CallerBalanceBefore)
		s.SetBalance(frame.AccountID, frame.CalleeBalanceBefore)
	}

	calleeMemory := s.Memory
	callerMemory := frame.CallerMemory
	if success && s.Halted.ReturnLength != nil && frame.RetLength.IsConst() && frame.RetLength.Value.Sign() > 0 {
		callerMemory = smem.Copy(callerMemory, calleeMemory, s.Halted.ReturnOffset, frame.RetOffset, frame.RetLength)
	}
	s.Returndata = calleeMemory
	s.Memory = callerMemory

	s.Callstack = s.Callstack[:len(s.Callstack)-1]
	s.CallDepth--
	s.PC = frame.ReturnPC
	s.Halted = nil

	successFlag := expr.ConstUint64(0, 1)
	if success {
		successFlag = expr.ConstUint64(1, 1)
	}
	s.Push(expr.Zext(successFlag, 256))
	return s, true
}
