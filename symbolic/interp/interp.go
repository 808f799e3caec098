package interp

import (
	"math/big"

	"github.com/ethbmc/ethbmc/core/vm"
	"github.com/ethbmc/ethbmc/crypto"
	"github.com/ethbmc/ethbmc/metrics"
	"github.com/ethbmc/ethbmc/symbolic/disasm"
	"github.com/ethbmc/ethbmc/symbolic/env"
	"github.com/ethbmc/ethbmc/symbolic/expr"
	"github.com/ethbmc/ethbmc/symbolic/smem"
)

// Config holds the per-run interpreter tuning knobs.
type Config struct {
	LoopBound int
	MaxDepth  int
	MaxGas    uint64
}

// SatChecker is the lightweight pre-pruning hook the explorer supplies:
// given a constraint set, report whether it is satisfiable. The interpreter uses it
// only to decide whether a JUMPI successor is worth pushing to the
// worklist; the authoritative SAT check for a completed leaf happens in the
// solver pool via the property checker.
type SatChecker interface {
	IsSatisfiable(constraints []*expr.BVal) bool
}

// Step executes exactly one opcode of s in place and returns the resulting
// successor state(s): a single-element slice for every opcode except a
// JUMPI with a non-constant condition, which returns up to two. The taken
// branch is first and the fall-through last, so a LIFO worklist explores
// the false/fall-through branch first.
func Step(s *ExecutionState, cfg Config, sat SatChecker) []*ExecutionState {
	frame := s.Current()
	op := CodeOp(frame.Program.Code, s.PC)

	switch {
	case op == vm.STOP:
		s.Halted = &Halt{Kind: HaltStop}
		return []*ExecutionState{s}
	case op == vm.ADD, op == vm.SUB, op == vm.MUL, op == vm.DIV, op == vm.SDIV,
		op == vm.MOD, op == vm.SMOD, op == vm.AND, op == vm.OR, op == vm.XOR,
		op == vm.SHL, op == vm.SHR:
		return stepBinArith(s, op)
	case op == vm.SAR:
		return stepSar(s)
	case op == vm.EXP:
		return stepExp(s)
	case op == vm.LT, op == vm.GT, op == vm.SLT, op == vm.SGT, op == vm.EQ:
		return stepCompare(s, op)
	case op == vm.ISZERO:
		return stepIsZero(s)
	case op == vm.NOT:
		return stepNot(s)
	case op == vm.ADDMOD, op == vm.MULMOD:
		return stepTriArith(s, op)
	case op == vm.BYTE:
		return stepByte(s)
	case op == vm.SIGNEXTEND:
		return stepSignExtend(s)
	case op == vm.KECCAK256:
		return stepSha3(s)
	case op == vm.POP:
		s.Pop()
		return advance(s)
	case op.IsPush():
		return stepPush(s, op, frame.Program)
	case op >= vm.DUP1 && op <= vm.DUP16:
		return stepDup(s, int(op-vm.DUP1))
	case op >= vm.SWAP1 && op <= vm.SWAP16:
		return stepSwap(s, int(op-vm.SWAP1)+1)
	case op == vm.MLOAD:
		return stepMload(s)
	case op == vm.MSTORE:
		return stepMstore(s)
	case op == vm.MSTORE8:
		return stepMstore8(s)
	case op == vm.MSIZE:
		s.Push(expr.ConstUint64(0, 256))
		return advance(s)
	case op == vm.MCOPY:
		return stepMcopy(s)
	case op == vm.SLOAD:
		return stepSload(s)
	case op == vm.SSTORE:
		return stepSstore(s)
	case op == vm.JUMP:
		return stepJump(s, frame.Program)
	case op == vm.JUMPI:
		return stepJumpi(s, cfg, sat, frame.Program)
	case op == vm.JUMPDEST:
		return advance(s)
	case op == vm.PC:
		s.Push(expr.ConstUint64(s.PC, 256))
		return advance(s)
	case op == vm.GAS:
		s.Push(s.GasRemaining)
		return advance(s)
	case op == vm.ADDRESS:
		s.Push(zext160(s.CurrentAccount().Addr))
		return advance(s)
	case op == vm.CALLER:
		s.Push(zext160(s.Env.Account(frame.CallerID).Addr))
		return advance(s)
	case op == vm.ORIGIN:
		s.Push(zext160(s.Env.Account(frame.Transaction.Origin).Addr))
		return advance(s)
	case op == vm.CALLVALUE:
		s.Push(frame.Transaction.CallValue)
		return advance(s)
	case op == vm.CALLDATASIZE:
		s.Push(frame.Transaction.CalldataSize)
		return advance(s)
	case op == vm.CALLDATALOAD:
		return stepCalldataload(s)
	case op == vm.CALLDATACOPY:
		return stepCalldatacopy(s)
	case op == vm.CODESIZE:
		s.Push(expr.ConstUint64(uint64(len(frame.Program.Code)), 256))
		return advance(s)
	case op == vm.CODECOPY:
		return stepCodecopy(s)
	case op == vm.RETURNDATASIZE:
		s.Push(expr.Var(expr.FreshName("returndatasize"), 256))
		return advance(s)
	case op == vm.RETURNDATACOPY:
		return stepReturndatacopy(s)
	case op == vm.BALANCE:
		return stepBalance(s)
	case op == vm.SELFBALANCE:
		s.Push(s.Balance(s.CurrentAccount().ID))
		return advance(s)
	case op == vm.EXTCODESIZE, op == vm.EXTCODEHASH:
		return stepExtcode(s, op)
	case op == vm.TIMESTAMP:
		s.Push(s.Env.CurrentBlock().Timestamp)
		return advance(s)
	case op == vm.NUMBER:
		s.Push(s.Env.CurrentBlock().Number)
		return advance(s)
	case op == vm.COINBASE:
		s.Push(zext160(s.Env.CurrentBlock().Coinbase))
		return advance(s)
	case op == vm.GASPRICE:
		s.Push(s.Env.CurrentBlock().GasPrice)
		return advance(s)
	case op == vm.GASLIMIT:
		s.Push(s.Env.CurrentBlock().GasLimit)
		return advance(s)
	case op == vm.CHAINID:
		s.Push(s.Env.CurrentBlock().ChainID)
		return advance(s)
	case op == vm.PREVRANDAO:
		s.Push(expr.Var(expr.FreshName("prevrandao"), 256))
		return advance(s)
	case op == vm.BASEFEE:
		s.Push(expr.Var(expr.FreshName("basefee"), 256))
		return advance(s)
	case op == vm.BLOCKHASH:
		s.Pop()
		s.Push(s.Env.CurrentBlock().BlockHash)
		return advance(s)
	case op >= vm.LOG0 && op <= vm.LOG4:
		return stepLog(s, int(op-vm.LOG0))
	case op == vm.RETURN:
		return stepReturnOrRevert(s, HaltReturn)
	case op == vm.REVERT:
		return stepReturnOrRevert(s, HaltRevert)
	case op == vm.SELFDESTRUCT:
		return stepSelfdestruct(s)
	case op == vm.CALL, op == vm.CALLCODE, op == vm.DELEGATECALL, op == vm.STATICCALL:
		return stepCall(s, op, cfg)
	case op == vm.CREATE, op == vm.CREATE2:
		return stepCreate(s, op)
	case op == vm.TLOAD:
		s.Pop()
		s.Push(expr.Var(expr.FreshName("tload"), 256))
		return advance(s)
	case op == vm.TSTORE:
		s.Pop()
		s.Pop()
		return advance(s)
	default:
		s.Halted = &Halt{Kind: HaltInvalidOp}
		return []*ExecutionState{s}
	}
}

func advance(s *ExecutionState) []*ExecutionState {
	if s.Halted != nil {
		return []*ExecutionState{s}
	}
	s.PC++
	return []*ExecutionState{s}
}

func zext160(addr *expr.BVal) *expr.BVal {
	if addr.Width >= 256 {
		return addr
	}
	return expr.Zext(addr, 256)
}

// binOp pops the top two stack values and pushes f(x, y), where x was the
// stack top, matching the EVM's µs[0]/µs[1] operand order.
func binOp(s *ExecutionState, f func(x, y *expr.BVal) *expr.BVal) []*ExecutionState {
	x, ok := s.Pop()
	if !ok {
		return []*ExecutionState{s}
	}
	y, ok := s.Pop()
	if !ok {
		return []*ExecutionState{s}
	}
	s.Push(f(x, y))
	return advance(s)
}

func stepBinArith(s *ExecutionState, op vm.OpCode) []*ExecutionState {
	var eop expr.Op
	switch op {
	case vm.ADD:
		eop = expr.OpAdd
	case vm.SUB:
		eop = expr.OpSub
	case vm.MUL:
		eop = expr.OpMul
	case vm.DIV:
		eop = expr.OpUdiv
	case vm.SDIV:
		eop = expr.OpSdiv
	case vm.MOD:
		eop = expr.OpUmod
	case vm.SMOD:
		eop = expr.OpSmod
	case vm.AND:
		eop = expr.OpAnd
	case vm.OR:
		eop = expr.OpOr
	case vm.XOR:
		eop = expr.OpXor
	}
	if op == vm.SHL || op == vm.SHR {
		// Shifts take the shift amount on top and the value beneath it.
		eop = expr.OpShl
		if op == vm.SHR {
			eop = expr.OpLshr
		}
		return binOp(s, func(shift, value *expr.BVal) *expr.BVal {
			return expr.Binary(eop, value, shift)
		})
	}
	return binOp(s, func(x, y *expr.BVal) *expr.BVal { return expr.Binary(eop, x, y) })
}

func stepSar(s *ExecutionState) []*ExecutionState {
	// Shift amount on top, value beneath, like SHL/SHR.
	return binOp(s, func(shift, value *expr.BVal) *expr.BVal {
		return expr.Binary(expr.OpAshr, value, shift)
	})
}

// stepExp folds constant exponents by repeated squaring at DAG level;
// a symbolic exponent has no finite bit-vector encoding, so it degrades to
// a fresh unconstrained value (sound: the result is over-approximated, and
// any witness still passes through the validator's concrete replay).
func stepExp(s *ExecutionState) []*ExecutionState {
	return binOp(s, func(base, exponent *expr.BVal) *expr.BVal {
		if exponent.IsConst() && exponent.Value.IsUint64() && exponent.Value.Uint64() <= 256 {
			result := expr.ConstUint64(1, 256)
			sq := base
			for e := exponent.Value.Uint64(); e > 0; e >>= 1 {
				if e&1 == 1 {
					result = expr.Binary(expr.OpMul, result, sq)
				}
				sq = expr.Binary(expr.OpMul, sq, sq)
			}
			return result
		}
		return expr.Var(expr.FreshName("exp"), 256)
	})
}

func stepCompare(s *ExecutionState, op vm.OpCode) []*ExecutionState {
	return binOp(s, func(x, y *expr.BVal) *expr.BVal {
		var cond *expr.BVal
		switch op {
		case vm.LT:
			cond = expr.Comparison(expr.OpLt, x, y)
		case vm.GT:
			cond = expr.Comparison(expr.OpLt, y, x)
		case vm.SLT:
			cond = expr.Comparison(expr.OpSlt, x, y)
		case vm.SGT:
			cond = expr.Comparison(expr.OpSlt, y, x)
		case vm.EQ:
			cond = expr.Comparison(expr.OpEq, x, y)
		}
		return expr.Zext(cond, 256)
	})
}

func stepIsZero(s *ExecutionState) []*ExecutionState {
	a, ok := s.Pop()
	if !ok {
		return []*ExecutionState{s}
	}
	cond := expr.Comparison(expr.OpEq, a, expr.ConstUint64(0, a.Width))
	s.Push(expr.Zext(cond, 256))
	return advance(s)
}

func stepNot(s *ExecutionState) []*ExecutionState {
	a, ok := s.Pop()
	if !ok {
		return []*ExecutionState{s}
	}
	s.Push(expr.Unary(expr.OpNot, a))
	return advance(s)
}

func stepTriArith(s *ExecutionState, op vm.OpCode) []*ExecutionState {
	x, ok := s.Pop()
	if !ok {
		return []*ExecutionState{s}
	}
	y, ok := s.Pop()
	if !ok {
		return []*ExecutionState{s}
	}
	m, ok := s.Pop()
	if !ok {
		return []*ExecutionState{s}
	}
	var addMul expr.Op
	if op == vm.ADDMOD {
		addMul = expr.OpAdd
	} else {
		addMul = expr.OpMul
	}
	sum := expr.Binary(addMul, x, y)
	s.Push(expr.Binary(expr.OpUmod, sum, m))
	return advance(s)
}

func stepByte(s *ExecutionState) []*ExecutionState {
	i, ok := s.Pop()
	if !ok {
		return []*ExecutionState{s}
	}
	x, ok := s.Pop()
	if !ok {
		return []*ExecutionState{s}
	}
	if i.IsConst() && i.Value.Cmp(big.NewInt(32)) < 0 {
		n := i.Value.Uint64()
		hi := uint32(255 - 8*n)
		lo := hi - 7
		s.Push(expr.Zext(expr.Extract(x, hi, lo), 256))
	} else {
		s.Push(expr.Var(expr.FreshName("byte_oob"), 256))
	}
	return advance(s)
}

func stepSignExtend(s *ExecutionState) []*ExecutionState {
	b, ok := s.Pop()
	if !ok {
		return []*ExecutionState{s}
	}
	x, ok := s.Pop()
	if !ok {
		return []*ExecutionState{s}
	}
	if b.IsConst() && b.Value.Cmp(big.NewInt(31)) <= 0 {
		bits := uint32(b.Value.Uint64()+1) * 8
		truncated := expr.Extract(x, bits-1, 0)
		s.Push(expr.Sext(truncated, 256))
	} else {
		s.Push(x)
	}
	return advance(s)
}

func stepPush(s *ExecutionState, op vm.OpCode, p *disasm.Program) []*ExecutionState {
	inst, _ := p.At(s.PC)
	v := new(big.Int).SetBytes(inst.Immediate)
	// Immediate bytes cut off by the end of the code read as zeros on the right.
	if missing := int(op-vm.PUSH1) + 1 - len(inst.Immediate); missing > 0 {
		v.Lsh(v, uint(8*missing))
	}
	s.Push(expr.Const(v, 256))
	s.PC += 1 + uint64(len(inst.Immediate))
	return []*ExecutionState{s}
}

func stepDup(s *ExecutionState, n int) []*ExecutionState {
	v, ok := s.Peek(n)
	if !ok {
		return []*ExecutionState{s}
	}
	s.Push(v)
	return advance(s)
}

func stepSwap(s *ExecutionState, n int) []*ExecutionState {
	top := len(s.Stack) - 1
	other := top - n
	if other < 0 {
		s.Halted = &Halt{Kind: HaltOutOfBounds}
		return []*ExecutionState{s}
	}
	s.Stack[top], s.Stack[other] = s.Stack[other], s.Stack[top]
	return advance(s)
}

func stepMload(s *ExecutionState) []*ExecutionState {
	off, ok := s.Pop()
	if !ok {
		return []*ExecutionState{s}
	}
	s.Push(smem.Read256(s.Memory, off, nil, nil))
	return advance(s)
}

func stepMstore(s *ExecutionState) []*ExecutionState {
	off, ok := s.Pop()
	if !ok {
		return []*ExecutionState{s}
	}
	val, ok := s.Pop()
	if !ok {
		return []*ExecutionState{s}
	}
	s.Memory = smem.Write256(s.Memory, off, val)
	return advance(s)
}

func stepMstore8(s *ExecutionState) []*ExecutionState {
	off, ok := s.Pop()
	if !ok {
		return []*ExecutionState{s}
	}
	val, ok := s.Pop()
	if !ok {
		return []*ExecutionState{s}
	}
	b := expr.Extract(val, 7, 0)
	s.Memory = smem.Write8(s.Memory, off, b)
	return advance(s)
}

func stepMcopy(s *ExecutionState) []*ExecutionState {
	dst, ok := s.Pop()
	if !ok {
		return []*ExecutionState{s}
	}
	src, ok := s.Pop()
	if !ok {
		return []*ExecutionState{s}
	}
	length, ok := s.Pop()
	if !ok {
		return []*ExecutionState{s}
	}
	s.Memory = smem.Copy(s.Memory, s.Memory, src, dst, length)
	return advance(s)
}

func stepSload(s *ExecutionState) []*ExecutionState {
	key, ok := s.Pop()
	if !ok {
		return []*ExecutionState{s}
	}
	acc := s.CurrentAccount()
	s.Push(smem.Read256(s.Storage(acc.ID), key, nil, nil))
	return advance(s)
}

func stepSstore(s *ExecutionState) []*ExecutionState {
	if s.Current().IsStatic {
		s.Halted = &Halt{Kind: HaltRevert}
		return []*ExecutionState{s}
	}
	key, ok := s.Pop()
	if !ok {
		return []*ExecutionState{s}
	}
	val, ok := s.Pop()
	if !ok {
		return []*ExecutionState{s}
	}
	acc := s.CurrentAccount()
	s.SetStorage(acc.ID, smem.Write256(s.Storage(acc.ID), key, val))
	return advance(s)
}

func stepSha3(s *ExecutionState) []*ExecutionState {
	off, ok := s.Pop()
	if !ok {
		return []*ExecutionState{s}
	}
	length, ok := s.Pop()
	if !ok {
		return []*ExecutionState{s}
	}
	marker := sha3Marker(s.Memory, off, length)
	// Fully concrete content hashes concretely: Solidity mapping-slot
	// addressing (keccak of a constant key and base slot) must resolve to
	// the same digest the concrete replay computes, or symbolic storage
	// reads and the replay would disagree on which slot was touched.
	if marker.IsConst() && length.IsConst() && length.Value.IsUint64() {
		buf := make([]byte, length.Value.Uint64())
		marker.Value.FillBytes(buf)
		s.Push(expr.Const(new(big.Int).SetBytes(crypto.Keccak256(buf)), 256))
		return advance(s)
	}
	s.Push(expr.Hash(marker))
	return advance(s)
}

// sha3Marker builds the expression that identifies *what* is being hashed,
// so that two SHA3 calls over syntactically identical content share the
// same interned Hash node (the distinct-on-distinct-content half of the
// hash axiom). For a constant, bounded length it concatenates
// the actual bytes read; for a symbolic length, or one above 4096, it falls
// back to a fresh opaque variable, which shares with nothing and so never
// mis-shares distinct content.
func sha3Marker(m *smem.MVal, off, length *expr.BVal) *expr.BVal {
	if length.IsConst() && length.Value.IsUint64() && length.Value.Uint64() <= 4096 {
		n := length.Value.Uint64()
		if n == 0 {
			return expr.ConstUint64(0, 8)
		}
		content := smem.Read8(m, off, nil, nil)
		for i := uint64(1); i < n; i++ {
			idx := expr.Binary(expr.OpAdd, off, expr.ConstUint64(i, 256))
			content = expr.Concat(content, smem.Read8(m, idx, nil, nil))
		}
		return content
	}
	return expr.Var(expr.FreshName("sha3_opaque"), 256)
}

func stepCalldataload(s *ExecutionState) []*ExecutionState {
	off, ok := s.Pop()
	if !ok {
		return []*ExecutionState{s}
	}
	s.Push(smem.Read256(s.Current().Transaction.Calldata, off, nil, nil))
	return advance(s)
}

func stepCalldatacopy(s *ExecutionState) []*ExecutionState {
	dst, ok := s.Pop()
	if !ok {
		return []*ExecutionState{s}
	}
	off, ok := s.Pop()
	if !ok {
		return []*ExecutionState{s}
	}
	length, ok := s.Pop()
	if !ok {
		return []*ExecutionState{s}
	}
	s.Memory = smem.Copy(s.Memory, s.Current().Transaction.Calldata, off, dst, length)
	return advance(s)
}

func stepReturndatacopy(s *ExecutionState) []*ExecutionState {
	dst, ok := s.Pop()
	if !ok {
		return []*ExecutionState{s}
	}
	off, ok := s.Pop()
	if !ok {
		return []*ExecutionState{s}
	}
	length, ok := s.Pop()
	if !ok {
		return []*ExecutionState{s}
	}
	// Before any call has populated the return buffer, reads come from a
	// fresh unconstrained array, matching the havoc treatment of unknown
	// external effects.
	if s.Returndata == nil {
		s.Returndata = smem.Fresh(smem.KindReturndata, "returndata")
	}
	s.Memory = smem.Copy(s.Memory, s.Returndata, off, dst, length)
	return advance(s)
}

func stepCodecopy(s *ExecutionState) []*ExecutionState {
	dst, ok := s.Pop()
	if !ok {
		return []*ExecutionState{s}
	}
	off, ok := s.Pop()
	if !ok {
		return []*ExecutionState{s}
	}
	length, ok := s.Pop()
	if !ok {
		return []*ExecutionState{s}
	}
	code := smem.Fresh(smem.KindData, "code")
	_ = off
	_ = length
	s.Memory = smem.Copy(s.Memory, code, off, dst, length)
	return advance(s)
}

func stepBalance(s *ExecutionState) []*ExecutionState {
	addr, ok := s.Pop()
	if !ok {
		return []*ExecutionState{s}
	}
	if acc, ok := s.Env.AccountByAddr(expr.Extract(addr, 159, 0)); ok {
		s.Push(s.Balance(acc.ID))
	} else {
		s.Push(expr.Var(expr.FreshName("ext_balance"), 256))
	}
	return advance(s)
}

func stepExtcode(s *ExecutionState, op vm.OpCode) []*ExecutionState {
	addr, ok := s.Pop()
	if !ok {
		return []*ExecutionState{s}
	}
	acc, found := s.Env.AccountByAddr(expr.Extract(addr, 159, 0))
	switch op {
	case vm.EXTCODESIZE:
		if found {
			s.Push(expr.ConstUint64(uint64(len(acc.Code)), 256))
		} else {
			s.Push(expr.Var(expr.FreshName("ext_codesize"), 256))
		}
	case vm.EXTCODEHASH:
		if found && len(acc.Code) == 0 {
			s.Push(expr.ConstUint64(0, 256))
		} else {
			s.Push(expr.Var(expr.FreshName("ext_codehash"), 256))
		}
	}
	return advance(s)
}

func stepLog(s *ExecutionState, topics int) []*ExecutionState {
	if _, ok := s.Pop(); !ok { // offset
		return []*ExecutionState{s}
	}
	if _, ok := s.Pop(); !ok { // length
		return []*ExecutionState{s}
	}
	for i := 0; i < topics; i++ {
		if _, ok := s.Pop(); !ok {
			return []*ExecutionState{s}
		}
	}
	return advance(s)
}

func stepJump(s *ExecutionState, p *disasm.Program) []*ExecutionState {
	dest, ok := s.Pop()
	if !ok {
		return []*ExecutionState{s}
	}
	if !dest.IsConst() {
		s.Halted = &Halt{Kind: HaltInvalidOp}
		return []*ExecutionState{s}
	}
	target := dest.Value.Uint64()
	if !p.IsJumpdest(target) {
		s.Halted = &Halt{Kind: HaltInvalidOp}
		return []*ExecutionState{s}
	}
	s.PC = target
	return []*ExecutionState{s}
}

// stepJumpi implements the conditional-jump fork: constant conditions
// take the unique branch; otherwise two
// successors are produced, each pre-pruned via sat before being handed
// back (a branch pruned as unsatisfiable is left out of the result).
func stepJumpi(s *ExecutionState, cfg Config, sat SatChecker, p *disasm.Program) []*ExecutionState {
	dest, ok := s.Pop()
	if !ok {
		return []*ExecutionState{s}
	}
	cond, ok := s.Pop()
	if !ok {
		return []*ExecutionState{s}
	}
	if cond.IsConst() {
		if cond.Value.Sign() != 0 {
			return stepJump(forceJumpState(s, dest), p)
		}
		s.PC++
		return []*ExecutionState{s}
	}
	if !dest.IsConst() {
		s.Halted = &Halt{Kind: HaltInvalidOp}
		return []*ExecutionState{s}
	}
	target := dest.Value.Uint64()
	if !p.IsJumpdest(target) {
		s.Halted = &Halt{Kind: HaltInvalidOp}
		return []*ExecutionState{s}
	}

	jumpiPC := s.PC

	trueState := s.Fork()
	trueState.Constraints = append(trueState.Constraints, expr.Comparison(expr.OpLt, expr.ConstUint64(0, cond.Width), cond))

	falseState := s
	falseState.Constraints = append(falseState.Constraints, expr.Comparison(expr.OpEq, cond, expr.ConstUint64(0, cond.Width)))
	falseState.PC++

	if cfg.LoopBound > 0 && target <= jumpiPC {
		trueState.LoopCounters[target]++
		if trueState.LoopCounters[target] > cfg.LoopBound {
			metrics.StatesPruned.Inc()
			return onlyIfSat([]*ExecutionState{falseState}, sat)
		}
	}
	trueState.PC = target

	// Ordered so a LIFO worklist pops the false/fall-through branch first;
	// the fixed order keeps runs reproducible for coverage reporting.
	return onlyIfSat([]*ExecutionState{trueState, falseState}, sat)
}

func onlyIfSat(states []*ExecutionState, sat SatChecker) []*ExecutionState {
	if sat == nil {
		return states
	}
	out := states[:0]
	for _, st := range states {
		if sat.IsSatisfiable(st.Constraints) {
			out = append(out, st)
		} else {
			metrics.StatesPruned.Inc()
		}
	}
	return out
}

func forceJumpState(s *ExecutionState, dest *expr.BVal) *ExecutionState {
	s.Push(dest)
	return s
}

func stepReturnOrRevert(s *ExecutionState, kind HaltKind) []*ExecutionState {
	off, ok := s.Pop()
	if !ok {
		return []*ExecutionState{s}
	}
	length, ok := s.Pop()
	if !ok {
		return []*ExecutionState{s}
	}
	s.Halted = &Halt{Kind: kind, ReturnOffset: off, ReturnLength: length}
	return []*ExecutionState{s}
}

func stepSelfdestruct(s *ExecutionState) []*ExecutionState {
	if s.Current().IsStatic {
		s.Halted = &Halt{Kind: HaltRevert}
		return []*ExecutionState{s}
	}
	addr, ok := s.Pop()
	if !ok {
		return []*ExecutionState{s}
	}
	acc := s.CurrentAccount()
	acc.SelfDestructed = true
	// The whole balance moves to the beneficiary.
	if ben := s.Env.ExternalAccount(expr.Extract(addr, 159, 0)); ben.ID != acc.ID {
		s.SetBalance(ben.ID, expr.Binary(expr.OpAdd, s.Balance(ben.ID), s.Balance(acc.ID)))
		s.SetBalance(acc.ID, expr.ConstUint64(0, 256))
	}
	s.Halted = &Halt{Kind: HaltSelfDestruct, Beneficiary: addr}
	return []*ExecutionState{s}
}

func stepCreate(s *ExecutionState, op vm.OpCode) []*ExecutionState {
	if _, ok := s.Pop(); !ok { // value
		return []*ExecutionState{s}
	}
	if _, ok := s.Pop(); !ok { // offset
		return []*ExecutionState{s}
	}
	if _, ok := s.Pop(); !ok { // length
		return []*ExecutionState{s}
	}
	if op == vm.CREATE2 {
		if _, ok := s.Pop(); !ok { // salt
			return []*ExecutionState{s}
		}
	}
	// Deployment is not executed symbolically; the result address is a
	// fresh unconstrained value and the new account is registered without
	// code, the same treatment an unknown external call target gets.
	created := expr.Var(expr.FreshName("created_addr"), 160)
	s.Env.ExternalAccount(created)
	s.Push(zext160(created))
	return advance(s)
}

// stepCall dispatches CALL/CALLCODE/DELEGATECALL/STATICCALL: known
// targets with code get a pushed call frame; everything else
// becomes a symbolic external call (havoc'd return data, recorded as an
// output transaction, balance transferred conservatively).
func stepCall(s *ExecutionState, op vm.OpCode, cfg Config) []*ExecutionState {
	if _, ok := s.Pop(); !ok { // gas
		return []*ExecutionState{s}
	}
	addr, ok := s.Pop()
	if !ok {
		return []*ExecutionState{s}
	}
	var value *expr.BVal = expr.ConstUint64(0, 256)
	if op == vm.CALL || op == vm.CALLCODE {
		value, ok = s.Pop()
		if !ok {
			return []*ExecutionState{s}
		}
	}
	argsOff, ok := s.Pop()
	if !ok {
		return []*ExecutionState{s}
	}
	argsLen, ok := s.Pop()
	if !ok {
		return []*ExecutionState{s}
	}
	retOff, ok := s.Pop()
	if !ok {
		return []*ExecutionState{s}
	}
	retLen, ok := s.Pop()
	if !ok {
		return []*ExecutionState{s}
	}

	if s.CallDepth >= cfg.MaxDepth && cfg.MaxDepth > 0 {
		s.Push(expr.ConstUint64(0, 256))
		return advance(s)
	}

	calldata := smem.Fresh(smem.KindCalldata, "call_args")
	calldata = smem.Copy(calldata, s.Memory, argsOff, expr.ConstUint64(0, 256), argsLen)

	callee, found := s.Env.AccountByAddr(expr.Extract(addr, 159, 0))
	if found && len(callee.Code) > 0 {
		// Known target with code: push a new frame. For DELEGATECALL and
		// CALLCODE the callee's code runs against the *caller's* storage and
		// balance, so the executing account stays the current one; only the
		// program changes.
		caller := s.CurrentAccount()
		execID := callee.ID
		callerID := s.Current().AccountID
		callValue := value
		if op == vm.DELEGATECALL || op == vm.CALLCODE {
			execID = caller.ID
			if op == vm.DELEGATECALL {
				// msg.sender and msg.value are inherited from the current frame.
				callerID = s.Current().CallerID
				callValue = s.Current().Transaction.CallValue
			}
		}
		tx := &env.Transaction{
			Caller: callerID, Origin: s.Current().Transaction.Origin,
			To: execID, CallValue: callValue,
			Calldata:     calldata,
			CalldataSize: argsLen,
		}
		frame := &CallFrame{
			AccountID: execID, CallerID: callerID,
			Program: disasm.Disassemble(callee.Code), ReturnPC: s.PC + 1,
			RetOffset: retOff, RetLength: retLen,
			IsStatic: op == vm.STATICCALL || s.Current().IsStatic, Transaction: tx,
			CallerMemory: s.Memory,
		}
		if op == vm.CALL {
			// Only a plain CALL moves value; snapshot both balances so a
			// reverting callee can roll the transfer back.
			callerBefore, calleeBefore := s.Balance(caller.ID), s.Balance(callee.ID)
			frame.CallerBalanceBefore, frame.CalleeBalanceBefore = callerBefore, calleeBefore
			s.SetBalance(caller.ID, expr.Binary(expr.OpSub, callerBefore, value))
			s.SetBalance(callee.ID, expr.Binary(expr.OpAdd, calleeBefore, value))
		}
		s.Callstack = append(s.Callstack, frame)
		s.CallDepth++
		s.Memory = smem.Fresh(smem.KindMemory, "callee_memory")
		s.PC = 0
		return []*ExecutionState{s}
	}

	// Unknown target or codeless account: symbolic external call. Havoc the
	// return buffer, transfer the value for a value-bearing CALL, and record
	// the outward transaction so the report shows where funds went. The
	// target may be attacker-controlled (its address is unconstrained), so
	// this is also where the hijack model's reentry surface originates: the explorer
	// covers it by appending further attacker transactions rather than by
	// executing unknown code here.
	target := s.Env.ExternalAccount(expr.Extract(addr, 159, 0))
	if op == vm.CALL {
		caller := s.CurrentAccount()
		s.SetBalance(caller.ID, expr.Binary(expr.OpSub, s.Balance(caller.ID), value))
		s.SetBalance(target.ID, expr.Binary(expr.OpAdd, s.Balance(target.ID), value))
	}
	s.Env.NewOutputTx(s.Current().AccountID, target.ID, value, calldata)
	s.Returndata = smem.Fresh(smem.KindReturndata, "returndata")
	if retLen.IsConst() && retLen.Value.Sign() > 0 {
		s.Memory = smem.Copy(s.Memory, s.Returndata, expr.ConstUint64(0, 256), retOff, retLen)
	}
	success := expr.Var(expr.FreshName("call_success"), 1)
	s.Push(expr.Zext(success, 256))
	return advance(s)
}
