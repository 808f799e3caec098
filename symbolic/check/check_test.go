package check

import (
	"testing"

	"github.com/ethbmc/ethbmc/symbolic/env"
	"github.com/ethbmc/ethbmc/symbolic/expr"
	"github.com/ethbmc/ethbmc/symbolic/interp"
	"github.com/ethbmc/ethbmc/symbolic/smem"
)

func reset() {
	expr.ResetGlobalTable()
	smem.ResetIDCounter()
}

func newHaltedState(e *env.Env, halt *interp.Halt) *interp.ExecutionState {
	return &interp.ExecutionState{
		Env:       e,
		Callstack: []*interp.CallFrame{{AccountID: e.VictimID}},
		Halted:    halt,
	}
}

func TestCandidatesSkipsUnhaltedState(t *testing.T) {
	reset()
	e := env.New()
	e.NewAttackerAccount()
	e.NewVictimAccount([20]byte{1}, nil, expr.ConstUint64(0, 256))
	s := &interp.ExecutionState{Env: e, Callstack: []*interp.CallFrame{{AccountID: e.VictimID}}}
	if got := Candidates(s, DefaultConfig()); got != nil {
		t.Fatalf("expected no candidates for a non-terminal state, got %v", got)
	}
}

func TestCandidatesEtherTheftIncludesPathAndGoal(t *testing.T) {
	reset()
	e := env.New()
	e.NewAttackerAccount()
	e.NewVictimAccount([20]byte{1}, nil, expr.ConstUint64(100, 256))
	s := newHaltedState(e, &interp.Halt{Kind: interp.HaltReturn})

	qs := Candidates(s, DefaultConfig())
	var found bool
	for _, q := range qs {
		if q.Goal == GoalEtherTheft {
			found = true
			if len(q.Constraints) == 0 {
				t.Fatalf("expected ether-theft query to carry constraints")
			}
		}
	}
	if !found {
		t.Fatalf("expected an ether-theft candidate from DefaultConfig, got %v", qs)
	}
}

func TestCandidatesDestructibilityOnlyWhenVictimSelfDestructs(t *testing.T) {
	reset()
	e := env.New()
	e.NewAttackerAccount()
	e.NewVictimAccount([20]byte{1}, nil, expr.ConstUint64(0, 256))

	notVictim := newHaltedState(e, &interp.Halt{Kind: interp.HaltSelfDestruct})
	notVictim.Callstack = []*interp.CallFrame{{AccountID: e.AttackerID}}
	for _, q := range Candidates(notVictim, DefaultConfig()) {
		if q.Goal == GoalDestructibility {
			t.Fatalf("did not expect destructibility candidate when the attacker, not the victim, self-destructs")
		}
	}

	victimDestructs := newHaltedState(e, &interp.Halt{Kind: interp.HaltSelfDestruct})
	var sawDestruct bool
	for _, q := range Candidates(victimDestructs, DefaultConfig()) {
		if q.Goal == GoalDestructibility {
			sawDestruct = true
		}
	}
	if !sawDestruct {
		t.Fatalf("expected destructibility candidate when the victim self-destructs")
	}
}

func TestCandidatesAssertionViolationRequiresConfiguredPC(t *testing.T) {
	reset()
	e := env.New()
	e.NewAttackerAccount()
	e.NewVictimAccount([20]byte{1}, nil, expr.ConstUint64(0, 256))
	s := newHaltedState(e, &interp.Halt{Kind: interp.HaltRevert})
	s.PC = 42

	cfg := DefaultConfig()
	cfg.CheckAssertions = true
	cfg.AssertionRevertPCs = map[uint64]bool{7: true}
	for _, q := range Candidates(s, cfg) {
		if q.Goal == GoalAssertionViolation {
			t.Fatalf("did not expect an assertion-violation candidate at an unlisted PC")
		}
	}

	cfg.AssertionRevertPCs = map[uint64]bool{42: true}
	var saw bool
	for _, q := range Candidates(s, cfg) {
		if q.Goal == GoalAssertionViolation {
			saw = true
		}
	}
	if !saw {
		t.Fatalf("expected an assertion-violation candidate at a listed revert PC")
	}
}
