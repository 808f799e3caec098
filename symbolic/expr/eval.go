package expr

import "math/big"

// Eval concretely evaluates v given a partial assignment, as used by the
// concrete validator to turn a solver model into the literal inputs a
// counterexample replays with. lookup is consulted at every node before recursing structurally, so
// a model that only pins leaf Vars (the common case: a solver model) works
// the same as one that also pins compound Select/Hash subterms (needed
// because those have no other way to resolve without replaying through
// symbolic memory or SMT).
//
// A Var or Select/Hash node lookup misses default to zero, matching the
// EVM's own treatment of an untouched storage slot or unconstrained input
// byte: the solver left it free, so any concrete value the path condition
// permits is a valid witness, and zero always is one.
func Eval(v *BVal, lookup func(*BVal) (*big.Int, bool)) *big.Int {
	if val, ok := lookup(v); ok {
		return foldMask(new(big.Int).And(val, fullMask(v.Width)))
	}
	switch v.Op {
	case OpConst:
		return new(big.Int).Set(v.Value)
	case OpVar, OpSelect, OpHash:
		return big.NewInt(0)
	case OpAdd, OpSub, OpMul, OpUdiv, OpSdiv, OpUmod, OpSmod,
		OpAnd, OpOr, OpXor, OpShl, OpLshr, OpAshr, OpConcat:
		a := Eval(v.Args[0], lookup)
		b := Eval(v.Args[1], lookup)
		return evalBin(v.Op, v.Width, v.Args[0].Width, v.Args[1].Width, a, b)
	case OpEq, OpLt, OpSlt, OpLe:
		a := Eval(v.Args[0], lookup)
		b := Eval(v.Args[1], lookup)
		return evalCmp(v.Op, v.Args[0].Width, a, b)
	case OpNot:
		return fullMask(v.Width).Xor(fullMask(v.Width), Eval(v.Args[0], lookup))
	case OpNeg:
		return mask(v.Width, new(big.Int).Neg(Eval(v.Args[0], lookup)))
	case OpExtract:
		a := Eval(v.Args[0], lookup)
		return mask(v.Width, new(big.Int).Rsh(a, uint(v.Lo)))
	case OpZext:
		return Eval(v.Args[0], lookup)
	case OpSext:
		a := Eval(v.Args[0], lookup)
		aw := v.Args[0].Width
		signBit := new(big.Int).Lsh(big.NewInt(1), uint(aw-1))
		if a.Cmp(signBit) >= 0 {
			a = new(big.Int).Sub(a, new(big.Int).Lsh(big.NewInt(1), uint(aw)))
		}
		return mask(v.Width, a)
	case OpIte:
		cond := Eval(v.Args[0], lookup)
		if cond.Sign() != 0 {
			return Eval(v.Args[1], lookup)
		}
		return Eval(v.Args[2], lookup)
	default:
		return big.NewInt(0)
	}
}

func fullMask(width uint32) *big.Int {
	return new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), uint(width)), big.NewInt(1))
}

func mask(width uint32, v *big.Int) *big.Int {
	return new(big.Int).And(v, fullMask(width))
}

func evalBin(op Op, width, aw, bw uint32, a, b *big.Int) *big.Int {
	switch op {
	case OpAdd:
		return mask(width, new(big.Int).Add(a, b))
	case OpSub:
		return mask(width, new(big.Int).Sub(a, b))
	case OpMul:
		return mask(width, new(big.Int).Mul(a, b))
	case OpUdiv:
		if b.Sign() == 0 {
			return big.NewInt(0)
		}
		return new(big.Int).Div(a, b)
	case OpSdiv:
		if b.Sign() == 0 {
			return big.NewInt(0)
		}
		as, bs := toSigned(aw, a), toSigned(bw, b)
		q := new(big.Int).Quo(as, bs)
		return mask(width, q)
	case OpUmod:
		if b.Sign() == 0 {
			return big.NewInt(0)
		}
		return new(big.Int).Mod(a, b)
	case OpSmod:
		if b.Sign() == 0 {
			return big.NewInt(0)
		}
		as, bs := toSigned(aw, a), toSigned(bw, b)
		r := new(big.Int).Rem(as, bs)
		return mask(width, r)
	case OpAnd:
		return new(big.Int).And(a, b)
	case OpOr:
		return new(big.Int).Or(a, b)
	case OpXor:
		return new(big.Int).Xor(a, b)
	case OpShl:
		return mask(width, new(big.Int).Lsh(a, uint(b.Uint64())))
	case OpLshr:
		return new(big.Int).Rsh(a, uint(b.Uint64()))
	case OpAshr:
		as := toSigned(aw, a)
		return mask(width, new(big.Int).Rsh(as, uint(b.Uint64())))
	case OpConcat:
		return mask(width, new(big.Int).Or(new(big.Int).Lsh(a, uint(bw)), b))
	default:
		return big.NewInt(0)
	}
}

func evalCmp(op Op, aw uint32, a, b *big.Int) *big.Int {
	var result bool
	switch op {
	case OpEq:
		result = a.Cmp(b) == 0
	case OpLt:
		result = a.Cmp(b) < 0
	case OpLe:
		result = a.Cmp(b) <= 0
	case OpSlt:
		result = toSigned(aw, a).Cmp(toSigned(aw, b)) < 0
	}
	if result {
		return big.NewInt(1)
	}
	return big.NewInt(0)
}

func toSigned(width uint32, v *big.Int) *big.Int {
	signBit := new(big.Int).Lsh(big.NewInt(1), uint(width-1))
	if v.Cmp(signBit) < 0 {
		return new(big.Int).Set(v)
	}
	return new(big.Int).Sub(v, new(big.Int).Lsh(big.NewInt(1), uint(width)))
}
