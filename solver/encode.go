// Package solver implements the SMT-solver coordination layer: a pool
// of worker goroutines, each driving one long-lived solver subprocess over
// the text-mode SMT-LIB 2.0 protocol, with per-query timeouts and a bounded
// result cache. Each query is encoded in full inside its own push/pop frame;
// a constraint prefix shared by sibling queries is re-encoded and re-sent for
// every query, not kept on the solver between them.
package solver

import (
	"fmt"
	"strings"

	"github.com/ethbmc/ethbmc/symbolic/expr"
)

// Backend names the SMT solver binary flavor; only the SMT-LIB dialect
// (bit-vector width declarations, array theory sort names) differs between
// them, so the engine stays solver-agnostic.
type Backend int

const (
	BackendYices2 Backend = iota
	BackendZ3
	BackendBoolector
)

func (b Backend) String() string {
	switch b {
	case BackendZ3:
		return "z3"
	case BackendBoolector:
		return "boolector"
	default:
		return "yices2"
	}
}

// BinaryName returns the conventional executable name for the backend.
func (b Backend) BinaryName() string {
	switch b {
	case BackendZ3:
		return "z3"
	case BackendBoolector:
		return "boolector"
	default:
		return "yices-smt2"
	}
}

// ParseBackend maps a --solver flag value to a Backend.
func ParseBackend(name string) (Backend, error) {
	switch name {
	case "z3":
		return BackendZ3, nil
	case "boolector":
		return BackendBoolector, nil
	case "yices2", "":
		return BackendYices2, nil
	default:
		return 0, fmt.Errorf("solver: unknown backend %q", name)
	}
}

// encoder accumulates the SMT-LIB declaration and assertion text for one
// formula, numbering distinct variables and Hash/Select subterms only once
// even if they are shared across many constraints (the DAG already
// guarantees pointer-identity sharing; encoder just has to avoid emitting a
// duplicate declare-fun for the same pointer).
type encoder struct {
	sb       strings.Builder
	declared map[*expr.BVal]bool
	names    map[*expr.BVal]string
	counter  int
}

func newEncoder() *encoder {
	return &encoder{declared: make(map[*expr.BVal]bool), names: make(map[*expr.BVal]string)}
}

// Encode renders constraints as a standalone SMT-LIB2 script: logic,
// declarations, assertions, and a trailing (check-sat). QF_ABV is used
// unconditionally since every theory this engine needs (fixed-size
// bit-vectors plus arrays for symbolic memory) fits it across all three
// backends.
func Encode(constraints []*expr.BVal) string {
	return "(set-logic QF_ABV)\n" + encodeBody(constraints)
}

// encodeBody renders declarations, assertions, and (check-sat) without the
// set-logic preamble. A long-lived worker process issues set-logic once and
// then runs each query's body inside its own (push 1)/(pop 1) frame, so
// re-declaring the same symbols across queries stays legal.
func encodeBody(constraints []*expr.BVal) string {
	e := newEncoder()
	for _, c := range constraints {
		e.declare(c)
	}
	for _, c := range constraints {
		e.sb.WriteString("(assert ")
		e.sb.WriteString(e.boolTerm(c))
		e.sb.WriteString(")\n")
	}
	e.sb.WriteString("(check-sat)\n")
	return e.sb.String()
}

// renderTerm renders a single BVal as a bare SMT-LIB term, using a fresh,
// throwaway encoder. Safe for Var/Const/arithmetic/Select terms (the only
// shapes model extraction ever asks to concretize): it must not be used on a subtree
// containing OpHash, since hash constants are numbered per-encoder and a
// throwaway encoder's numbering would not match the declarations already
// asserted on the live solver process.
func renderTerm(v *expr.BVal) string {
	e := newEncoder()
	return e.term(v)
}

func (e *encoder) declare(v *expr.BVal) {
	if e.declared[v] {
		return
	}
	e.declared[v] = true
	switch v.Op {
	case expr.OpVar:
		e.sb.WriteString(fmt.Sprintf("(declare-fun %s () (_ BitVec %d))\n", sanitize(v.Name), v.Width))
	case expr.OpSelect:
		// The array operand of Select is itself a Var acting as the array
		// base; declare it with Array sort instead of BitVec.
		arr := v.Args[0]
		if !e.declared[arr] {
			e.declared[arr] = true
			e.sb.WriteString(fmt.Sprintf("(declare-fun %s () (Array (_ BitVec 256) (_ BitVec 8)))\n", sanitize(arr.Name)))
		}
		e.declare(v.Args[1])
	case expr.OpHash:
		// Assign and declare the opaque hash constant now, while we are still
		// in the declaration section; rendering it later mid-assertion would
		// splice a declare-fun into the middle of an (assert ...) form. The
		// marker subterm itself never appears in the emitted script, so it
		// needs no declarations of its own.
		e.hashConst(v)
	default:
		for _, a := range v.Args {
			e.declare(a)
		}
	}
}

func sanitize(name string) string {
	return strings.NewReplacer("#", "_", "(", "_", ")", "_").Replace(name)
}

// term renders v as an SMT-LIB s-expression. Comparisons produce Bool terms
// (suitable directly under assert); everything else produces a BitVec
// term.
func (e *encoder) term(v *expr.BVal) string {
	switch v.Op {
	case expr.OpConst:
		return fmt.Sprintf("(_ bv%s %d)", v.Value.String(), v.Width)
	case expr.OpVar:
		return sanitize(v.Name)
	case expr.OpAdd:
		return e.bin("bvadd", v)
	case expr.OpSub:
		return e.bin("bvsub", v)
	case expr.OpMul:
		return e.bin("bvmul", v)
	case expr.OpUdiv:
		return e.bin("bvudiv", v)
	case expr.OpSdiv:
		return e.bin("bvsdiv", v)
	case expr.OpUmod:
		return e.bin("bvurem", v)
	case expr.OpSmod:
		return e.bin("bvsrem", v)
	case expr.OpAnd:
		return e.bin("bvand", v)
	case expr.OpOr:
		return e.bin("bvor", v)
	case expr.OpXor:
		return e.bin("bvxor", v)
	case expr.OpShl:
		return e.bin("bvshl", v)
	case expr.OpLshr:
		return e.bin("bvlshr", v)
	case expr.OpAshr:
		return e.bin("bvashr", v)
	case expr.OpConcat:
		return e.bin("concat", v)
	case expr.OpEq:
		return e.bin("=", v)
	case expr.OpLt:
		return e.bin("bvult", v)
	case expr.OpSlt:
		return e.bin("bvslt", v)
	case expr.OpLe:
		return e.bin("bvule", v)
	case expr.OpNot:
		return fmt.Sprintf("(bvnot %s)", e.bv(v.Args[0]))
	case expr.OpNeg:
		return fmt.Sprintf("(bvneg %s)", e.bv(v.Args[0]))
	case expr.OpExtract:
		return fmt.Sprintf("((_ extract %d %d) %s)", v.Hi, v.Lo, e.bv(v.Args[0]))
	case expr.OpZext:
		delta := v.Width - v.Args[0].Width
		return fmt.Sprintf("((_ zero_extend %d) %s)", delta, e.bv(v.Args[0]))
	case expr.OpSext:
		delta := v.Width - v.Args[0].Width
		return fmt.Sprintf("((_ sign_extend %d) %s)", delta, e.bv(v.Args[0]))
	case expr.OpIte:
		return fmt.Sprintf("(ite %s %s %s)", e.boolTerm(v.Args[0]), e.bv(v.Args[1]), e.bv(v.Args[2]))
	case expr.OpSelect:
		return fmt.Sprintf("(select %s %s)", e.term(v.Args[0]), e.bv(v.Args[1]))
	case expr.OpHash:
		// Uninterpreted: modeled as an opaque declared constant per distinct
		// marker subterm, since SMT-LIB has no native "hash of a bitvector"
		// function; the distinct-on-distinct-content obligation is the
		// caller's responsibility (symbolic/interp builds the marker so that
		// syntactically distinct content produces syntactically distinct
		// Hash nodes, which this encoding then keeps as distinct constants).
		return e.hashConst(v)
	default:
		return fmt.Sprintf(";; unsupported op %s", v.Op)
	}
}

func (e *encoder) hashConst(v *expr.BVal) string {
	if n, ok := e.names[v]; ok {
		return n
	}
	e.counter++
	n := fmt.Sprintf("hash_%d", e.counter)
	e.names[v] = n
	e.sb.WriteString(fmt.Sprintf("(declare-fun %s () (_ BitVec 256))\n", n))
	return n
}

func (e *encoder) bin(sym string, v *expr.BVal) string {
	a, b := v.Args[0], v.Args[1]
	// Width mismatches between operands are zero-extended to the wider
	// width; the interpreter already keeps widths aligned in the normal
	// case, this is defense for hand-built constraint trees in tests.
	aw, bw := a.Width, b.Width
	as, bs := e.bv(a), e.bv(b)
	if aw < bw {
		as = fmt.Sprintf("((_ zero_extend %d) %s)", bw-aw, as)
	} else if bw < aw {
		bs = fmt.Sprintf("((_ zero_extend %d) %s)", aw-bw, bs)
	}
	return fmt.Sprintf("(%s %s %s)", sym, as, bs)
}

// isBoolNode reports whether v renders as an SMT Bool rather than a BitVec:
// comparison nodes map to =/bvult/bvslt/bvule, all of which produce Bool.
func isBoolNode(v *expr.BVal) bool {
	switch v.Op {
	case expr.OpEq, expr.OpLt, expr.OpSlt, expr.OpLe:
		return true
	}
	return false
}

// bv renders v as a BitVec term for contexts (arithmetic operands, ite
// branches) that require one, reifying Bool comparison nodes into their
// 1-bit bitvector reading so the DAG's width-1 convention survives
// translation.
func (e *encoder) bv(v *expr.BVal) string {
	if isBoolNode(v) {
		return fmt.Sprintf("(ite %s (_ bv1 1) (_ bv0 1))", e.term(v))
	}
	return e.term(v)
}

// boolTerm renders v as a Bool term for contexts (assert, ite condition)
// that require one. Comparison nodes already are Bool; anything else is
// compared against a nonzero bitvector.
func (e *encoder) boolTerm(v *expr.BVal) string {
	if isBoolNode(v) {
		return e.term(v)
	}
	return fmt.Sprintf("(distinct %s (_ bv0 %d))", e.bv(v), v.Width)
}
