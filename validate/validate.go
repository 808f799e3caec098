// Package validate implements the concrete validator: it replays a
// counterexample the symbolic engine believes wins a goal through a
// deterministic concrete EVM (core/vm + core/state), confirming the goal
// actually holds under real bytecode semantics before it is reported.
//
// A solver model can satisfy an over-approximation the symbolic engine
// made (the uninterpreted KECCAK axiom, a havoc'd external-call return
// value) without the goal
// being reachable by any real transaction. It is the gate that turns a
// "satisfiable" witness into a reportable one: it owns no goal logic of its
// own, only a concrete replay and a before/after comparison against the
// same predicate symbolic/check already evaluated.
package validate

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethbmc/ethbmc/core/state"
	"github.com/ethbmc/ethbmc/core/types"
	"github.com/ethbmc/ethbmc/core/vm"
	"github.com/ethbmc/ethbmc/metrics"
	"github.com/ethbmc/ethbmc/symbolic/check"
	"github.com/ethbmc/ethbmc/symbolic/env"
	"github.com/ethbmc/ethbmc/symbolic/explore"
	"github.com/ethbmc/ethbmc/symbolic/expr"
	"github.com/ethbmc/ethbmc/symbolic/smem"
)

// ConcreteTx is one transaction of a counterexample, fully concretized from
// the witness's solver model, in replay order.
type ConcreteTx struct {
	From, To types.Address
	Value    *big.Int
	Gas      uint64
	Calldata []byte
}

// AccountDiff reports one account's concrete balance movement and
// self-destruct status over the whole replay, for the human-readable report
// handed back to the CLI.
type AccountDiff struct {
	Address        types.Address
	BalanceBefore  *big.Int
	BalanceAfter   *big.Int
	SelfDestructed bool
}

// Report is the outcome of concretely replaying one Witness.
type Report struct {
	Goal     check.Goal
	Accepted bool
	Reason   string // populated when Accepted is false
	Witness  []ConcreteTx
	Accounts []AccountDiff
}

// Validate concretizes w against e's account set using w's solver model,
// seeds a MemoryStateDB with every account's initial balance/code/storage,
// replays the attacker's transaction sequence through a fresh vm.EVM in
// order, and checks whether the goal w.Query.Goal targets is reached
// concretely. A rejected Report means the witness was a false positive of
// the symbolic over-approximation; the caller should log it and keep
// exploring rather than abort the whole analysis.
func Validate(e *env.Env, w explore.Witness) (*Report, error) {
	lookup := w.Model.Value

	db := state.NewMemoryStateDB()
	addrOf := make(map[env.AccountId]types.Address, len(e.Accounts()))
	before := make(map[types.Address]*big.Int, len(e.Accounts()))

	for _, acc := range e.Accounts() {
		addr := concreteAddress(acc.Addr, lookup)
		addrOf[acc.ID] = addr

		db.CreateAccount(addr)
		bal := expr.Eval(acc.InitialBalance, lookup)
		db.AddBalance(addr, bal)
		before[addr] = new(big.Int).Set(bal)

		if len(acc.Code) > 0 {
			db.SetCode(addr, acc.Code)
		}
		for slotHex, val := range acc.ConcreteStorage {
			db.SetState(addr, types.HexToHash(slotHex), types.BytesToHash(val.Bytes()))
		}
	}

	report := &Report{Goal: w.Query.Goal}

	var lastErr error
	round := 0
	for _, tx := range e.Transactions {
		if tx.Caller != e.AttackerID {
			// Internal/output transactions (symbolic external calls the victim
			// itself made) are not replayed directly: the concrete EVM
			// reproduces their effect by actually executing the victim's CALL
			// opcode when the attacker transaction above runs.
			continue
		}

		from, to := addrOf[tx.Caller], addrOf[tx.To]
		value := expr.Eval(tx.CallValue, lookup)
		gas := expr.Eval(tx.Gas, lookup).Uint64()
		if gas < minReplayGas {
			// Gas is only coarsely modeled symbolically, so the solver is
			// free to pick an amount too small to run anything; replay with
			// a workable floor instead.
			gas = minReplayGas
		}
		calldata := concreteCalldata(tx, lookup)

		report.Witness = append(report.Witness, ConcreteTx{
			From: from, To: to, Value: value, Gas: gas, Calldata: calldata,
		})

		blockCtx := concreteBlockContext(blockForRound(e, round), lookup)
		round++
		evm := vm.NewEVMWithState(blockCtx, vm.TxContext{Origin: from, GasPrice: big.NewInt(0)}, vm.Config{}, db)
		_, _, err := evm.Call(from, to, calldata, gas, value)
		lastErr = err
		// The next transaction's SSTORE original values are this one's result.
		db.Commit()
	}

	for _, acc := range e.Accounts() {
		addr := addrOf[acc.ID]
		report.Accounts = append(report.Accounts, AccountDiff{
			Address:        addr,
			BalanceBefore:  before[addr],
			BalanceAfter:   db.GetBalance(addr),
			SelfDestructed: db.HasSelfDestructed(addr),
		})
	}

	checkGoal(report, e, w, db, addrOf, lastErr)
	if report.Accepted {
		metrics.ValidatorConfirmed.Inc()
	} else {
		metrics.ValidatorDiscarded.Inc()
	}
	return report, nil
}

// minReplayGas is the floor applied to each replayed transaction's gas
// allowance; symbolic gas is bounded only coarsely, so a model's literal
// gas value can be arbitrarily small.
const minReplayGas = 8_000_000

// blockForRound returns the block the round-th attacker transaction
// executed under; the explorer calls Env.NextBlock() once per round after the first,
// so round i's block is Blocks[i] when present and the final block
// otherwise (a round past the modeled chain depth, which cannot happen for
// a witness the explorer actually produced).
func blockForRound(e *env.Env, round int) *env.Block {
	if round < len(e.Blocks) {
		return e.Blocks[round]
	}
	return e.Blocks[len(e.Blocks)-1]
}

func checkGoal(report *Report, e *env.Env, w explore.Witness, db *state.MemoryStateDB, addrOf map[env.AccountId]types.Address, lastErr error) {
	switch w.Query.Goal {
	case check.GoalEtherTheft:
		attacker := addrOf[e.AttackerID]
		diff := diffFor(report, attacker)
		if diff.BalanceAfter.Cmp(diff.BalanceBefore) > 0 {
			report.Accepted = true
			return
		}
		report.Reason = "attacker balance did not increase under concrete replay"

	case check.GoalOwnershipHijack:
		victim := addrOf[e.VictimID]
		attacker := addrOf[e.AttackerID]
		if w.Query.OwnerSlot == nil {
			report.Reason = "no owner slot configured"
			return
		}
		slot := expr.Eval(w.Query.OwnerSlot, w.Model.Value)
		owner := db.GetState(victim, types.BytesToHash(slot.Bytes()))
		if owner == types.BytesToHash(attacker.Bytes()) {
			report.Accepted = true
			return
		}
		report.Reason = "owner slot does not hold the attacker's address after replay"

	case check.GoalDestructibility:
		victim := addrOf[e.VictimID]
		if db.HasSelfDestructed(victim) {
			report.Accepted = true
			return
		}
		report.Reason = "victim did not self-destruct under concrete replay"

	case check.GoalAssertionViolation:
		if lastErr != nil && errors.Is(lastErr, vm.ErrExecutionReverted) {
			report.Accepted = true
			return
		}
		report.Reason = "final transaction did not revert under concrete replay"

	default:
		report.Reason = fmt.Sprintf("unknown goal %v", w.Query.Goal)
	}
}

func diffFor(report *Report, addr types.Address) AccountDiff {
	for _, d := range report.Accounts {
		if d.Address == addr {
			return d
		}
	}
	return AccountDiff{Address: addr, BalanceBefore: big.NewInt(0), BalanceAfter: big.NewInt(0)}
}

func concreteAddress(addr *expr.BVal, lookup func(*expr.BVal) (*big.Int, bool)) types.Address {
	return types.BytesToAddress(expr.Eval(addr, lookup).Bytes())
}

func concreteCalldata(tx *env.Transaction, lookup func(*expr.BVal) (*big.Int, bool)) []byte {
	size := expr.Eval(tx.CalldataSize, lookup).Uint64()
	if size > uint64(env.MaxWitnessCalldataBytes) {
		size = uint64(env.MaxWitnessCalldataBytes)
	}
	out := make([]byte, size)
	for i := range out {
		off := expr.ConstUint64(uint64(i), 256)
		byteVal := smem.Read8(tx.Calldata, off, nil, nil)
		out[i] = byte(expr.Eval(byteVal, lookup).Uint64())
	}
	return out
}

func concreteBlockContext(b *env.Block, lookup func(*expr.BVal) (*big.Int, bool)) vm.BlockContext {
	blockHash := types.BytesToHash(expr.Eval(b.BlockHash, lookup).Bytes())
	return vm.BlockContext{
		GetHash:     func(uint64) types.Hash { return blockHash },
		BlockNumber: expr.Eval(b.Number, lookup),
		Time:        expr.Eval(b.Timestamp, lookup).Uint64(),
		Coinbase:    types.BytesToAddress(expr.Eval(b.Coinbase, lookup).Bytes()),
		GasLimit:    expr.Eval(b.GasLimit, lookup).Uint64(),
		BaseFee:     big.NewInt(0),
		PrevRandao:  types.BytesToHash(expr.Eval(b.Difficulty, lookup).Bytes()),
	}
}
