// Package expr implements the hash-consed bit-vector/boolean expression DAG
// that underlies every symbolic value the interpreter manipulates. Structural
// equality implies pointer identity: two terms built from the same op and
// the same operand pointers always resolve to the same *BVal, which keeps
// later SMT-LIB encoding cheap and lets path-constraint lists be compared by
// pointer rather than by deep structural walk.
package expr

import (
	"fmt"
	"math/big"
	"sync"
)

// Op identifies the kind of a BVal node.
type Op uint8

const (
	OpConst Op = iota
	OpVar
	// Binary arithmetic/bitwise/comparison ops.
	OpAdd
	OpSub
	OpMul
	OpUdiv
	OpSdiv
	OpUmod
	OpSmod
	OpAnd
	OpOr
	OpXor
	OpShl
	OpLshr
	OpAshr
	OpEq
	OpLt
	OpSlt
	OpLe
	OpConcat
	// Unary ops.
	OpNot
	OpNeg
	OpExtract
	OpZext
	OpSext
	// Ternary.
	OpIte
	// Array theory.
	OpSelect
	// Uninterpreted hash over a memory range.
	OpHash
)

var opNames = map[Op]string{
	OpConst: "const", OpVar: "var",
	OpAdd: "add", OpSub: "sub", OpMul: "mul", OpUdiv: "udiv", OpSdiv: "sdiv",
	OpUmod: "umod", OpSmod: "smod", OpAnd: "and", OpOr: "or", OpXor: "xor",
	OpShl: "shl", OpLshr: "lshr", OpAshr: "ashr", OpEq: "eq", OpLt: "lt",
	OpSlt: "slt", OpLe: "le", OpConcat: "concat",
	OpNot: "not", OpNeg: "neg", OpExtract: "extract", OpZext: "zext", OpSext: "sext",
	OpIte: "ite", OpSelect: "select", OpHash: "hash",
}

func (o Op) String() string {
	if n, ok := opNames[o]; ok {
		return n
	}
	return "unknown"
}

// mask256 is used to keep constant folding within 256-bit arithmetic.
var mask256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// BVal is an immutable node in the expression DAG. Width is in bits; for
// bit-vector terms it is always > 0, for boolean terms (Eq/Lt/Slt/Le) it is
// implicitly 1 and callers treat a nonzero value as true.
type BVal struct {
	Op    Op
	Width uint32

	// Const
	Value *big.Int

	// Var
	Name string

	// N-ary operands, interpretation depends on Op:
	//   BinOp: [a, b]
	//   UnOp:  [a]  (Extract additionally uses Hi/Lo, Zext/Sext use Width)
	//   Ite:   [cond, a, b]
	//   Select:[array, index]
	//   Hash:  [memory-range marker encoded by caller]
	Args []*BVal

	Hi, Lo uint32 // Extract bounds

	hash uint64 // structural hash, computed once at construction
}

// table is the process-wide hash-consing intern table. Reset between
// independent analyses via ResetGlobalTable so unit tests do not
// bleed state into one another.
type table struct {
	mu      sync.Mutex
	entries map[string]*BVal
	fresh   map[string]uint64
}

func newTable() *table {
	return &table{
		entries: make(map[string]*BVal),
		fresh:   make(map[string]uint64),
	}
}

var (
	defaultMu    sync.Mutex
	defaultTable = newTable()
)

// ResetGlobalTable discards all interned terms and fresh-name counters.
// explore.New does not call it; the table is reset only where a caller does
// so (the tests call it before building each case's environment). Terms and
// names created before a reset remain valid, but the restarted counters can
// hand out those same names again.
func ResetGlobalTable() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultTable = newTable()
}

func current() *table {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultTable
}

// FreshName returns a unique name for the given prefix, e.g. "calldata" ->
// "calldata_0", "calldata_1", .... Used by the environment to keep solver
// variables unique across paths that otherwise look structurally identical.
func FreshName(prefix string) string {
	t := current()
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.fresh[prefix]
	t.fresh[prefix] = n + 1
	return fmt.Sprintf("%s_%d", prefix, n)
}

// intern returns the canonical pointer for a node with the given key,
// constructing it via build if not already present.
func intern(key string, build func() *BVal) *BVal {
	t := current()
	t.mu.Lock()
	defer t.mu.Unlock()
	if v, ok := t.entries[key]; ok {
		return v
	}
	v := build()
	t.entries[key] = v
	return v
}

func foldMask(v *big.Int) *big.Int {
	return new(big.Int).And(v, mask256)
}

// Const returns the interned constant node for the given value at the given
// width (in bits). The value is reduced modulo 2^width.
func Const(value *big.Int, width uint32) *BVal {
	m := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), uint(width)), big.NewInt(1))
	v := new(big.Int).And(value, m)
	key := fmt.Sprintf("c:%d:%s", width, v.String())
	return intern(key, func() *BVal {
		return &BVal{Op: OpConst, Width: width, Value: v, hash: structHash(key)}
	})
}

// ConstUint64 is a convenience constructor for small constants.
func ConstUint64(v uint64, width uint32) *BVal {
	return Const(new(big.Int).SetUint64(v), width)
}

// Var returns the interned symbolic variable node with the given name and
// width. Two calls with the same name/width return the same pointer:
// callers that need distinct variables must pass distinct names, typically
// obtained from FreshName.
func Var(name string, width uint32) *BVal {
	key := fmt.Sprintf("v:%d:%s", width, name)
	return intern(key, func() *BVal {
		return &BVal{Op: OpVar, Width: width, Name: name, hash: structHash(key)}
	})
}

func structHash(key string) uint64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(key); i++ {
		h ^= uint64(key[i])
		h *= 1099511628211
	}
	return h
}

// IsConst reports whether v is a Const node.
func (v *BVal) IsConst() bool { return v.Op == OpConst }

// Hash returns the node's 64-bit structural hash.
func (v *BVal) Hash() uint64 { return v.hash }

// String renders a debug s-expression form, not an SMT-LIB term.
func (v *BVal) String() string {
	switch v.Op {
	case OpConst:
		return v.Value.String()
	case OpVar:
		return v.Name
	case OpExtract:
		return fmt.Sprintf("(extract %d %d %s)", v.Hi, v.Lo, v.Args[0])
	default:
		s := "(" + v.Op.String()
		for _, a := range v.Args {
			s += " " + a.String()
		}
		return s + ")"
	}
}
