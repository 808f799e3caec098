package expr

import "math/big"

// optimizationsEnabled gates constant folding and trivial-identity rewrites.
// --disable-optimizations flips this off so every rewrite always emits the
// full general-case node, which is occasionally useful for debugging a
// divergence between the optimized and unoptimized encodings of the same
// query.
var optimizationsEnabled = true

// SetOptimizationsEnabled toggles constant folding / trivial-identity
// rewriting process-wide. Mirrors the --disable-optimizations /
// --all-optimizations CLI flags.
func SetOptimizationsEnabled(on bool) { optimizationsEnabled = on }

// OptimizationsEnabled reports the current setting; the symbolic memory
// layer consults it to decide whether syntactic write-equality shortcuts
// apply or every read emits its full Ite expansion.
func OptimizationsEnabled() bool { return optimizationsEnabled }

func binKey(op Op, a, b *BVal) string {
	return string(rune(op)) + ":" + a.Name + "#" + itoa(a.hash) + ":" + itoa(b.hash)
}

func itoa(h uint64) string {
	// Cheap uint64->string without importing strconv at call sites repeatedly.
	if h == 0 {
		return "0"
	}
	buf := make([]byte, 0, 20)
	for h > 0 {
		buf = append(buf, byte('0'+h%10))
		h /= 10
	}
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf)
}

func mkBin(op Op, width uint32, a, b *BVal) *BVal {
	key := binKey(op, a, b) + ":" + itoa(uint64(width))
	return intern(key, func() *BVal {
		return &BVal{Op: op, Width: width, Args: []*BVal{a, b}, hash: structHash(key)}
	})
}

func mkUn(op Op, width uint32, a *BVal, hi, lo uint32) *BVal {
	key := binKey(op, a, a) + ":" + itoa(uint64(width)) + ":" + itoa(uint64(hi)) + ":" + itoa(uint64(lo))
	return intern(key, func() *BVal {
		return &BVal{Op: op, Width: width, Args: []*BVal{a}, Hi: hi, Lo: lo, hash: structHash(key)}
	})
}

// binFold attempts constant folding for a two-operand integer op. Returns
// nil if either operand is not a Const or the op has no integer fold.
func binFold(op Op, width uint32, a, b *BVal) *BVal {
	if !optimizationsEnabled || !a.IsConst() || !b.IsConst() {
		return nil
	}
	var r *big.Int
	switch op {
	case OpAdd:
		r = new(big.Int).Add(a.Value, b.Value)
	case OpSub:
		r = new(big.Int).Sub(a.Value, b.Value)
	case OpMul:
		r = new(big.Int).Mul(a.Value, b.Value)
	case OpUdiv:
		if b.Value.Sign() == 0 {
			return Const(big.NewInt(0), width)
		}
		r = new(big.Int).Div(a.Value, b.Value)
	case OpUmod:
		if b.Value.Sign() == 0 {
			return Const(big.NewInt(0), width)
		}
		r = new(big.Int).Mod(a.Value, b.Value)
	case OpAnd:
		r = new(big.Int).And(a.Value, b.Value)
	case OpOr:
		r = new(big.Int).Or(a.Value, b.Value)
	case OpXor:
		r = new(big.Int).Xor(a.Value, b.Value)
	case OpShl:
		r = new(big.Int).Lsh(a.Value, uint(b.Value.Uint64()))
	case OpLshr:
		r = new(big.Int).Rsh(a.Value, uint(b.Value.Uint64()))
	default:
		return nil
	}
	return Const(r, width)
}

// Binary constructs a two-operand node, folding constants and applying a
// handful of cheap trivial identities before falling back to a general node.
func Binary(op Op, a, b *BVal) *BVal {
	width := a.Width
	if b.Width > width {
		width = b.Width
	}
	if folded := binFold(op, width, a, b); folded != nil {
		return folded
	}
	if optimizationsEnabled {
		if v := trivialIdentity(op, a, b); v != nil {
			return v
		}
	}
	return mkBin(op, width, a, b)
}

// trivialIdentity implements the cheap rewrites called out in the DAG's
// design: x^x=0, x&x=x, x|x=x, ite folding handled separately in Ite.
func trivialIdentity(op Op, a, b *BVal) *BVal {
	if a == b {
		switch op {
		case OpXor, OpSub:
			return Const(big.NewInt(0), a.Width)
		case OpAnd, OpOr:
			return a
		case OpEq, OpLe:
			return Const(big.NewInt(1), 1)
		}
	}
	if b.IsConst() && b.Value.Sign() == 0 {
		switch op {
		case OpAdd, OpOr, OpXor, OpShl, OpLshr:
			return a
		case OpAnd:
			return Const(big.NewInt(0), a.Width)
		}
	}
	return nil
}

// Comparison builds a boolean-width (1-bit) comparison node.
func Comparison(op Op, a, b *BVal) *BVal {
	if optimizationsEnabled && a.IsConst() && b.IsConst() {
		var result, known bool
		switch op {
		case OpEq:
			result, known = a.Value.Cmp(b.Value) == 0, true
		case OpLt:
			result, known = a.Value.Cmp(b.Value) < 0, true
		case OpLe:
			result, known = a.Value.Cmp(b.Value) <= 0, true
		case OpSlt:
			result, known = asSigned(a).Cmp(asSigned(b)) < 0, true
		}
		if known {
			if result {
				return Const(big.NewInt(1), 1)
			}
			return Const(big.NewInt(0), 1)
		}
	}
	return mkBin(op, 1, a, b)
}

// asSigned reinterprets a constant's unsigned value as a two's-complement
// signed integer at the constant's own width.
func asSigned(v *BVal) *big.Int {
	signBit := new(big.Int).Lsh(big.NewInt(1), uint(v.Width-1))
	if v.Value.Cmp(signBit) < 0 {
		return v.Value
	}
	return new(big.Int).Sub(v.Value, new(big.Int).Lsh(big.NewInt(1), uint(v.Width)))
}

// Unary builds a single-operand node (Not, Neg).
func Unary(op Op, a *BVal) *BVal {
	if optimizationsEnabled && a.IsConst() {
		var r *big.Int
		switch op {
		case OpNot:
			r = foldMask(new(big.Int).Not(a.Value))
		case OpNeg:
			r = foldMask(new(big.Int).Neg(a.Value))
		}
		if r != nil {
			return Const(r, a.Width)
		}
	}
	return mkUn(op, a.Width, a, 0, 0)
}

// Extract returns bits [hi:lo] (inclusive, 0-indexed from LSB) of a.
func Extract(a *BVal, hi, lo uint32) *BVal {
	width := hi - lo + 1
	if optimizationsEnabled {
		if hi == a.Width-1 && lo == 0 {
			return a // extracting the whole value is a no-op
		}
		if a.IsConst() {
			shifted := new(big.Int).Rsh(a.Value, uint(lo))
			return Const(shifted, width)
		}
		// Extracting exactly the pre-extension bits of a zero/sign
		// extension recovers the original value. Address round-trips
		// (CALLER pushes zext160(addr), CALL extracts bits 159:0 back)
		// depend on this to keep account-by-address lookups pointer-exact.
		if (a.Op == OpZext || a.Op == OpSext) && lo == 0 && hi == a.Args[0].Width-1 {
			return a.Args[0]
		}
		// Masking with a constant whose covered bits are all ones is a
		// no-op under the extract (Solidity's and(addr, 2^160-1) cleanup).
		if a.Op == OpAnd {
			if x := extractThroughMask(a, hi, lo); x != nil {
				return Extract(x, hi, lo)
			}
		}
	}
	return mkUn(OpExtract, width, a, hi, lo)
}

// extractThroughMask returns the non-constant operand of an And whose
// constant operand has every bit in [lo,hi] set, or nil when the rewrite
// does not apply.
func extractThroughMask(a *BVal, hi, lo uint32) *BVal {
	x, c := a.Args[0], a.Args[1]
	if x.IsConst() {
		x, c = c, x
	}
	if !c.IsConst() || x.IsConst() {
		return nil
	}
	ones := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), uint(hi-lo+1)), big.NewInt(1))
	window := new(big.Int).And(new(big.Int).Rsh(c.Value, uint(lo)), ones)
	if window.Cmp(ones) != 0 {
		return nil
	}
	return x
}

// Concat joins hi:lo into a single wider value, hi occupying the most
// significant bits.
func Concat(hi, lo *BVal) *BVal {
	if optimizationsEnabled && hi.Op == OpExtract && lo.Op == OpExtract && hi.Args[0] == lo.Args[0] &&
		hi.Lo == lo.Hi+1 {
		// concat(extract(x,hi,mid+1), extract(x,mid,lo)) == extract(x,hi,lo)
		return Extract(hi.Args[0], hi.Hi, lo.Lo)
	}
	width := hi.Width + lo.Width
	if optimizationsEnabled && hi.IsConst() && lo.IsConst() {
		r := new(big.Int).Lsh(hi.Value, uint(lo.Width))
		r.Or(r, lo.Value)
		return Const(r, width)
	}
	return mkBin(OpConcat, width, hi, lo)
}

// Zext zero-extends a to the given total width.
func Zext(a *BVal, width uint32) *BVal {
	if width <= a.Width {
		return a
	}
	if optimizationsEnabled && a.IsConst() {
		return Const(new(big.Int).Set(a.Value), width)
	}
	return mkUn(OpZext, width, a, 0, 0)
}

// Sext sign-extends a to the given total width.
func Sext(a *BVal, width uint32) *BVal {
	if width <= a.Width {
		return a
	}
	if optimizationsEnabled && a.IsConst() {
		v := new(big.Int).Set(a.Value)
		signBit := new(big.Int).Lsh(big.NewInt(1), uint(a.Width-1))
		if v.Cmp(signBit) >= 0 {
			ext := new(big.Int).Lsh(big.NewInt(1), uint(width))
			full := new(big.Int).Lsh(big.NewInt(1), uint(a.Width))
			v.Sub(v, full)
			v.Add(v, ext)
		}
		return Const(v, width)
	}
	return mkUn(OpSext, width, a, 0, 0)
}

// Ite builds an if-then-else node; folds when cond is a Const, or when both
// branches are the same node.
func Ite(cond, a, b *BVal) *BVal {
	if optimizationsEnabled {
		if cond.IsConst() {
			if cond.Value.Sign() != 0 {
				return a
			}
			return b
		}
		if a == b {
			return a
		}
	}
	key := "ite:" + itoa(cond.hash) + ":" + itoa(a.hash) + ":" + itoa(b.hash)
	return intern(key, func() *BVal {
		return &BVal{Op: OpIte, Width: a.Width, Args: []*BVal{cond, a, b}, hash: structHash(key)}
	})
}

// Select builds an array-read node: select(array, index).
func Select(array, index *BVal, width uint32) *BVal {
	key := "sel:" + itoa(array.hash) + ":" + itoa(index.hash)
	return intern(key, func() *BVal {
		return &BVal{Op: OpSelect, Width: width, Args: []*BVal{array, index}, hash: structHash(key)}
	})
}

// Hash builds an uninterpreted-function node representing SHA3 over a
// memory range. marker is an opaque node (typically built by the caller
// from the memory's MVal id, offset, and length) used only for DAG sharing;
// the actual distinct-on-distinct-content axiom is enforced by the solver
// encoding, not here.
func Hash(marker *BVal) *BVal {
	key := "hash:" + itoa(marker.hash)
	return intern(key, func() *BVal {
		return &BVal{Op: OpHash, Width: 256, Args: []*BVal{marker}, hash: structHash(key)}
	})
}
