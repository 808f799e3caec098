// Package check implements the property checker: the set of built-in
// attacker-win goal predicates over terminal states, and the translation of
// a matching terminal state into a solver query.
package check

import (
	"github.com/ethbmc/ethbmc/symbolic/expr"
	"github.com/ethbmc/ethbmc/symbolic/interp"
	"github.com/ethbmc/ethbmc/symbolic/smem"
)

// Goal identifies which built-in attacker-win predicate a Query targets.
type Goal uint8

const (
	GoalEtherTheft Goal = iota
	GoalOwnershipHijack
	GoalDestructibility
	GoalAssertionViolation
)

func (g Goal) String() string {
	switch g {
	case GoalEtherTheft:
		return "ether-theft"
	case GoalOwnershipHijack:
		return "ownership-hijack"
	case GoalDestructibility:
		return "destructibility"
	case GoalAssertionViolation:
		return "assertion-violation"
	default:
		return "unknown"
	}
}

// Query is one candidate attacker-win condition derived from a terminal
// state: the full path condition (state constraints plus env global
// constraints) conjoined with the goal predicate, ready to hand to the solver pool.
type Query struct {
	Goal        Goal
	State       *interp.ExecutionState
	Constraints []*expr.BVal // path constraints plus the goal predicate

	// OwnerSlot is carried alongside a GoalOwnershipHijack query so the validator can
	// re-read the same storage slot after concrete replay without needing
	// its own copy of the front-end's owner-slot hint.
	OwnerSlot *expr.BVal
}

// Config selects which goals are checked and supplies goal-specific hints
// (owner slot, assertion PCs) that a fully automatic front end cannot infer
// from bytecode alone.
type Config struct {
	CheckEtherTheft      bool
	CheckOwnershipHijack bool
	CheckDestructibility bool
	CheckAssertions      bool
	OwnerSlot            *expr.BVal // nil disables ownership-hijack
	AssertionRevertPCs   map[uint64]bool
}

// DefaultConfig enables the theft and destructibility goals; ownership
// hijack and assertion violation require input hints and are opt-in.
func DefaultConfig() Config {
	return Config{CheckEtherTheft: true, CheckDestructibility: true}
}

// Candidates inspects a terminal (halted) state and returns zero or more
// goal queries worth submitting to the solver pool. A state satisfying
// several goals at once (e.g. both draining ether and self-destructing)
// yields one Query per matching goal.
func Candidates(s *interp.ExecutionState, cfg Config) []Query {
	if s.Halted == nil {
		return nil
	}
	pathConstraints := fullPathConstraints(s)
	var out []Query

	if cfg.CheckEtherTheft {
		attacker := s.Env.Account(s.Env.AttackerID)
		won := expr.Comparison(expr.OpLt, attacker.InitialBalance, s.Balance(attacker.ID))
		out = append(out, Query{
			Goal: GoalEtherTheft, State: s,
			Constraints: append(append([]*expr.BVal(nil), pathConstraints...), boolAsConstraint(won)),
		})
	}

	if cfg.CheckOwnershipHijack && cfg.OwnerSlot != nil {
		victim := s.Env.Account(s.Env.VictimID)
		attacker := s.Env.Account(s.Env.AttackerID)
		ownerVal := smem.Read256(s.Storage(victim.ID), cfg.OwnerSlot, nil, nil)
		hijacked := expr.Comparison(expr.OpEq, ownerVal, expr.Zext(attacker.Addr, 256))
		out = append(out, Query{
			Goal: GoalOwnershipHijack, State: s, OwnerSlot: cfg.OwnerSlot,
			Constraints: append(append([]*expr.BVal(nil), pathConstraints...), boolAsConstraint(hijacked)),
		})
	}

	if cfg.CheckDestructibility && s.Halted.Kind == interp.HaltSelfDestruct {
		victim := s.Env.Account(s.Env.VictimID)
		if s.CurrentAccount().ID == victim.ID {
			out = append(out, Query{Goal: GoalDestructibility, State: s, Constraints: pathConstraints})
		}
	}

	if cfg.CheckAssertions && s.Halted.Kind == interp.HaltRevert && len(cfg.AssertionRevertPCs) > 0 {
		if cfg.AssertionRevertPCs[s.PC] {
			out = append(out, Query{Goal: GoalAssertionViolation, State: s, Constraints: pathConstraints})
		}
	}

	return out
}

// fullPathConstraints concatenates the state's own branch constraints
// with the environment's accumulated global constraints.
func fullPathConstraints(s *interp.ExecutionState) []*expr.BVal {
	out := make([]*expr.BVal, 0, len(s.Constraints)+len(s.Env.GlobalConstraints))
	out = append(out, s.Env.GlobalConstraints...)
	out = append(out, s.Constraints...)
	return out
}

// boolAsConstraint lifts a 256-bit zero-extended boolean (as produced by
// the interpreter's comparison opcodes) back to a genuine 1-bit Bool term
// suitable for conjunction with other path constraints.
func boolAsConstraint(v *expr.BVal) *expr.BVal {
	if v.Width == 1 {
		return v
	}
	return expr.Comparison(expr.OpEq, v, expr.ConstUint64(1, v.Width))
}
