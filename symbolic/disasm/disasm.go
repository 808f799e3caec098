// Package disasm decodes raw EVM bytecode into a linear instruction stream
// and tracks per-program-counter basic-block coverage across an analysis, as
// consumed by the coverage-guided exploration strategy in symbolic/explore.
package disasm

import (
	"sync"

	"github.com/ethbmc/ethbmc/core/vm"
)

// Instruction is one decoded opcode, with its immediate push data if any.
type Instruction struct {
	PC        uint64
	Op        vm.OpCode
	Immediate []byte // push data, nil for non-PUSH opcodes
}

// Program is the decoded form of a contract's bytecode.
type Program struct {
	Code         []byte
	Instructions []Instruction
	// byPC maps a byte offset to its Instruction index, for opcodes that
	// start at that offset (push-data bytes have no entry).
	byPC map[uint64]int
	// jumpdests is the set of valid JUMPDEST positions.
	jumpdests map[uint64]bool
}

// Disassemble decodes code into a Program. Malformed trailing PUSH data
// (a PUSH at the very end of the code missing some or all of its
// immediate bytes) is tolerated per EVM semantics: the missing bytes are
// treated as implicit zero padding, matching how a concrete EVM executes
// truncated deployed bytecode.
func Disassemble(code []byte) *Program {
	p := &Program{
		Code:      code,
		byPC:      make(map[uint64]int),
		jumpdests: make(map[uint64]bool),
	}
	for i := uint64(0); i < uint64(len(code)); {
		op := vm.OpCode(code[i])
		inst := Instruction{PC: i, Op: op}
		if op.IsPush() {
			n := int(op-vm.PUSH1) + 1
			end := i + 1 + uint64(n)
			if end > uint64(len(code)) {
				end = uint64(len(code))
			}
			inst.Immediate = append([]byte(nil), code[i+1:end]...)
			p.byPC[i] = len(p.Instructions)
			p.Instructions = append(p.Instructions, inst)
			i += 1 + uint64(n)
			continue
		}
		if op == vm.JUMPDEST {
			p.jumpdests[i] = true
		}
		p.byPC[i] = len(p.Instructions)
		p.Instructions = append(p.Instructions, inst)
		i++
	}
	return p
}

// At returns the instruction starting at pc, or false if pc does not start
// a valid instruction (mid-push-data or out of bounds).
func (p *Program) At(pc uint64) (Instruction, bool) {
	idx, ok := p.byPC[pc]
	if !ok {
		return Instruction{}, false
	}
	return p.Instructions[idx], true
}

// IsJumpdest reports whether pc is a valid JUMPDEST target.
func (p *Program) IsJumpdest(pc uint64) bool {
	return p.jumpdests[pc]
}

// Len returns the number of decoded instructions.
func (p *Program) Len() int { return len(p.Instructions) }

// Coverage tracks, per contract code hash, the set of covered program
// counters across an entire exploration run. Safe for concurrent use by
// multiple exploring goroutines.
type Coverage struct {
	mu      sync.Mutex
	covered map[string]map[uint64]bool
	total   map[string]int
}

// NewCoverage creates an empty coverage tracker.
func NewCoverage() *Coverage {
	return &Coverage{
		covered: make(map[string]map[uint64]bool),
		total:   make(map[string]int),
	}
}

// Register records the total number of instructions in a program under key
// (typically the contract's code hash, hex-encoded), so Ratio can report a
// percentage before any coverage has been observed.
func (c *Coverage) Register(key string, p *Program) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.covered[key]; !ok {
		c.covered[key] = make(map[uint64]bool)
	}
	c.total[key] = p.Len()
}

// Mark records that pc was reached under the given key.
func (c *Coverage) Mark(key string, pc uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.covered[key]
	if !ok {
		set = make(map[uint64]bool)
		c.covered[key] = set
	}
	set[pc] = true
}

// IsCovered reports whether pc has been reached under key.
func (c *Coverage) IsCovered(key string, pc uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.covered[key][pc]
}

// Ratio returns the fraction of registered instructions reached so far for
// key, in [0,1]. Returns 0 if key was never registered.
func (c *Coverage) Ratio(key string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.total[key]
	if total == 0 {
		return 0
	}
	return float64(len(c.covered[key])) / float64(total)
}
