package solver

import (
	"context"
	"fmt"
	"math/big"
	"regexp"

	"github.com/ethbmc/ethbmc/symbolic/expr"
)

// Model maps a term (by pointer identity, matching the expression DAG's
// hash-consing) to the concrete value a satisfying assignment gave it, as
// consumed by the concrete validator when replaying a counterexample.
type Model map[*expr.BVal]*big.Int

// Value looks up v's concrete value, returning (nil, false) if Solve was
// never asked to extract it, or the solver left it unconstrained.
func (m Model) Value(v *expr.BVal) (*big.Int, bool) {
	n, ok := m[v]
	return n, ok
}

// Solve checks satisfiability of constraints and, if sat, extracts a
// concrete value for every term in terms. It bypasses the worker pool's
// dispatch queue and talks to one worker's process directly: check-sat
// followed by get-value is a two-step protocol that must run against the
// same live solver instance, back to back, inside one query's timeout.
//
// terms may be Var nodes or compound terms built from them (e.g. a Select
// read of a symbolic calldata byte); they must not contain an OpHash
// subterm, since hash constants are numbered per-encode and renderTerm's
// throwaway encoder would not reproduce the numbering already asserted on
// the live process.
func (p *Pool) Solve(ctx context.Context, constraints []*expr.BVal, terms []*expr.BVal) (Result, Model, error) {
	if len(p.workers) == 0 {
		return ResultUnknown, nil, fmt.Errorf("solver: pool has no workers")
	}
	proc := p.workers[0]
	qctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()

	res, err := proc.checkSat(qctx, encodeBody(constraints), true)
	defer proc.release()
	if err != nil || res != ResultSat {
		return res, nil, err
	}

	model := make(Model, len(terms))
	for _, t := range terms {
		line, err := proc.getValue(qctx, renderTerm(t))
		if err != nil {
			return res, model, err
		}
		if v := extractLiteral(line); v != nil {
			model[t] = v
		}
	}
	return res, model, nil
}

// literalRe matches the one SMT-LIB literal a single-term get-value response
// line carries, in any of the three common spellings: Z3/boolector hex,
// boolector binary, or yices's "(_ bvN W)" form.
var literalRe = regexp.MustCompile(`#x[0-9a-fA-F]+|#b[01]+|\(_\s*bv(\d+)\s+\d+\)`)

func extractLiteral(line string) *big.Int {
	m := literalRe.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	lit := m[0]
	switch {
	case len(lit) > 2 && lit[:2] == "#x":
		v, ok := new(big.Int).SetString(lit[2:], 16)
		if ok {
			return v
		}
	case len(lit) > 2 && lit[:2] == "#b":
		v, ok := new(big.Int).SetString(lit[2:], 2)
		if ok {
			return v
		}
	default:
		if m[1] != "" {
			v, ok := new(big.Int).SetString(m[1], 10)
			if ok {
				return v
			}
		}
	}
	return nil
}
