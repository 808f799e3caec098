// Package smem implements the versioned, copy-on-write symbolic array store
// (MVal) used for EVM memory, calldata, returndata, and per-account storage.
// Every write produces a new MVal whose parent points at the prior version;
// forking a path is therefore O(1) since the new state simply keeps the old
// MVal pointer until it performs its own write.
package smem

import (
	"fmt"
	"sync"

	"github.com/ethbmc/ethbmc/symbolic/expr"
)

// Kind identifies what an MVal logically represents.
type Kind uint8

const (
	KindMemory Kind = iota
	KindCalldata
	KindReturndata
	KindStorage
	KindData
)

func (k Kind) String() string {
	switch k {
	case KindMemory:
		return "memory"
	case KindCalldata:
		return "calldata"
	case KindReturndata:
		return "returndata"
	case KindStorage:
		return "storage"
	case KindData:
		return "data"
	default:
		return "unknown"
	}
}

type opKind uint8

const (
	opFresh opKind = iota
	opWrite8
	opWrite256
	opCopy
)

// MVal is an identifier into the process-wide memory table: an immutable
// node describing one write (or the fresh base) layered on top of a parent.
type MVal struct {
	id     uint64
	kind   Kind
	parent *MVal
	op     opKind

	// Fresh
	name string

	// Write8 / Write256
	index *expr.BVal
	value *expr.BVal

	// Copy
	src              *MVal
	srcOff, dstOff   *expr.BVal
	length           *expr.BVal
}

// Id returns the MVal's unique identifier, stable within one analysis.
func (m *MVal) Id() uint64 { return m.id }

// Kind returns what this memory logically represents.
func (m *MVal) Kind() Kind { return m.kind }

// Name returns the fresh base's name, walking up the parent chain if m
// itself is a write/copy node. Empty if no Fresh node is found (should not
// happen for well-formed chains).
func (m *MVal) Name() string {
	for cur := m; cur != nil; cur = cur.parent {
		if cur.op == opFresh {
			return cur.name
		}
	}
	return ""
}

var idCounter struct {
	mu  sync.Mutex
	cur uint64
}

func nextID() uint64 {
	idCounter.mu.Lock()
	defer idCounter.mu.Unlock()
	idCounter.cur++
	return idCounter.cur
}

// ResetIDCounter restarts MVal id allocation. Call alongside
// expr.ResetGlobalTable at the start of a fresh analysis.
func ResetIDCounter() {
	idCounter.mu.Lock()
	defer idCounter.mu.Unlock()
	idCounter.cur = 0
}

// Fresh creates a new base array of the given kind with a process-unique
// name derived from namePrefix. The array is conceptually unbounded,
// addressed by a 256-bit index.
func Fresh(kind Kind, namePrefix string) *MVal {
	return &MVal{id: nextID(), kind: kind, op: opFresh, name: expr.FreshName(namePrefix)}
}

// Write8 returns a new MVal representing m with a single byte written at
// index.
func Write8(m *MVal, index, b *expr.BVal) *MVal {
	return &MVal{id: nextID(), kind: m.kind, parent: m, op: opWrite8, index: index, value: b}
}

// Write256 returns a new MVal representing m with a 32-byte word written at
// index (big-endian, as EVM memory/storage addresses words).
func Write256(m *MVal, index, word *expr.BVal) *MVal {
	return &MVal{id: nextID(), kind: m.kind, parent: m, op: opWrite256, index: index, value: word}
}

// Copy returns a new MVal representing dst with length bytes copied from
// src starting at srcOff into dst starting at dstOff. The copy is recorded
// symbolically and only materialized (as a chain of byte writes) when read.
func Copy(dst, src *MVal, srcOff, dstOff, length *expr.BVal) *MVal {
	return &MVal{
		id: nextID(), kind: dst.kind, parent: dst, op: opCopy,
		src: src, srcOff: srcOff, dstOff: dstOff, length: length,
	}
}

// Read8 reads a single byte at index, synthesizing an Ite chain for any
// writes whose index cannot be proven equal or disjoint syntactically.
// equalFn/disjointFn let a caller resolve writes beyond syntactic equality;
// passing nil, as every caller in this module does, falls back to
// syntactic-only resolution.
func Read8(m *MVal, index *expr.BVal, equalFn, disjointFn func(a, b *expr.BVal) bool) *expr.BVal {
	return read(m, index, equalFn, disjointFn)
}

// Read256 reads a 32-byte big-endian word at index by reading 32
// consecutive bytes and concatenating them.
func Read256(m *MVal, index *expr.BVal, equalFn, disjointFn func(a, b *expr.BVal) bool) *expr.BVal {
	var words []*expr.BVal
	for i := 0; i < 32; i++ {
		off := expr.Binary(expr.OpAdd, index, expr.ConstUint64(uint64(i), 256))
		words = append(words, Read8(m, off, equalFn, disjointFn))
	}
	result := words[0]
	for i := 1; i < len(words); i++ {
		result = expr.Concat(result, words[i])
	}
	return result
}

func syntacticEq(a, b *expr.BVal) bool { return a == b }

func neverEq(a, b *expr.BVal) bool { return false }

func read(m *MVal, index *expr.BVal, equalFn, disjointFn func(a, b *expr.BVal) bool) *expr.BVal {
	if equalFn == nil {
		equalFn = syntacticEq
	}
	if !expr.OptimizationsEnabled() {
		// With optimizations disabled every read emits the full Ite
		// expansion; no equality or disjointness shortcut applies.
		equalFn = neverEq
		disjointFn = nil
	}
	switch m.op {
	case opFresh:
		base := expr.Var(m.name, 256)
		return expr.Select(base, index, 8)
	case opWrite8:
		if equalFn(m.index, index) {
			return m.value
		}
		if disjointFn != nil && disjointFn(m.index, index) {
			return read(m.parent, index, equalFn, disjointFn)
		}
		cond := expr.Comparison(expr.OpEq, m.index, index)
		return expr.Ite(cond, m.value, read(m.parent, index, equalFn, disjointFn))
	case opWrite256:
		// A Write256 at base covers [base, base+31]. Decompose into the byte
		// this read actually wants via a per-byte Ite against the 32-wide
		// window, falling back to the parent outside it.
		offset := expr.Binary(expr.OpSub, index, m.index)
		inWindow := expr.Comparison(expr.OpLe, offset, expr.ConstUint64(31, 256))
		belowBase := expr.Comparison(expr.OpLt, index, m.index)
		hit := expr.Binary(expr.OpAnd, inWindow, expr.Unary(expr.OpNot, belowBase))
		byteFromWord := extractByteFromWord(m.value, offset)
		return expr.Ite(hit, byteFromWord, read(m.parent, index, equalFn, disjointFn))
	case opCopy:
		// index is in dst's address space. If it falls in [dstOff,
		// dstOff+length) it maps to src at (index - dstOff + srcOff).
		rel := expr.Binary(expr.OpSub, index, m.dstOff)
		inRange := expr.Comparison(expr.OpLt, rel, m.length)
		belowStart := expr.Comparison(expr.OpLt, index, m.dstOff)
		hit := expr.Binary(expr.OpAnd, inRange, expr.Unary(expr.OpNot, belowStart))
		srcIndex := expr.Binary(expr.OpAdd, m.srcOff, rel)
		fromSrc := read(m.src, srcIndex, equalFn, disjointFn)
		return expr.Ite(hit, fromSrc, read(m.parent, index, equalFn, disjointFn))
	default:
		panic(fmt.Sprintf("smem: unknown op kind %d", m.op))
	}
}

// extractByteFromWord pulls the byte at the given offset (0-31, 0 = most
// significant byte, matching EVM's big-endian word layout) out of a 256-bit
// word using Extract. offset is expected to already be range-checked by the
// caller (read's opWrite256 branch only uses byteFromWord under `hit`).
func extractByteFromWord(word *expr.BVal, offset *expr.BVal) *expr.BVal {
	if offset.IsConst() {
		o := offset.Value.Uint64()
		hi := uint32(255 - 8*o)
		lo := hi - 7
		return expr.Extract(word, hi, lo)
	}
	// Non-constant offset: build the full 32-way Ite selector. This only
	// arises for symbolic MCOPY/CALLDATACOPY destinations, which is rare
	// enough that a flat 32-arm chain is acceptable.
	result := expr.Extract(word, 7, 0)
	for i := 31; i >= 0; i-- {
		hi := uint32(255 - 8*i)
		lo := hi - 7
		byteI := expr.Extract(word, hi, lo)
		cond := expr.Comparison(expr.OpEq, offset, expr.ConstUint64(uint64(i), 256))
		result = expr.Ite(cond, byteI, result)
	}
	return result
}
