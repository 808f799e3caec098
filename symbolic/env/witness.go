package env

import (
	"github.com/ethbmc/ethbmc/symbolic/expr"
	"github.com/ethbmc/ethbmc/symbolic/smem"
)

// MaxWitnessCalldataBytes bounds how many leading calldata bytes the
// validator asks the solver to concretize per transaction. A 4-byte
// selector plus four 32-byte ABI words covers the usual payload shapes;
// bytes beyond this are left to Eval's zero-default, which is sound (they were
// unconstrained, so zero is as valid a witness value as any other).
const MaxWitnessCalldataBytes = 4 + 32*4

// WitnessTerms collects every term the concrete validator needs a value
// for to replay the transaction sequence: the attacker's address, each
// transaction's callvalue/gas/calldata bytes, and each block's symbolic
// fields. Passed to solver.Pool.Solve alongside the winning query's
// constraints.
func (e *Env) WitnessTerms() []*expr.BVal {
	var terms []*expr.BVal
	add := func(vs ...*expr.BVal) {
		for _, v := range vs {
			// Output transactions recorded by the interpreter carry no gas
			// field; skip whatever a transaction kind leaves unset.
			if v != nil {
				terms = append(terms, v)
			}
		}
	}
	add(e.Account(e.AttackerID).Addr)

	for _, tx := range e.Transactions {
		add(tx.CallValue, tx.Gas, tx.CalldataSize)
		if tx.Caller != e.AttackerID {
			continue // internal calls replay implicitly, their bytes are not inputs
		}
		for i := 0; i < MaxWitnessCalldataBytes; i++ {
			off := expr.ConstUint64(uint64(i), 256)
			add(smem.Read8(tx.Calldata, off, nil, nil))
		}
	}

	for _, b := range e.Blocks {
		add(b.Number, b.Timestamp, b.GasPrice, b.GasLimit,
			b.Difficulty, b.Coinbase, b.ChainID, b.BlockHash)
	}

	return terms
}
