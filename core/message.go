package core

import (
	"math/big"

	"github.com/ethbmc/ethbmc/core/types"
)

// Message is a single concrete call prepared for EVM execution. It mirrors
// the explorer's own symbolic Transaction (caller, origin, to, gas,
// callvalue, calldata) with every field concrete. The concrete validator
// does not build Messages; it calls vm.EVM.Call directly.
type Message struct {
	From     types.Address
	Origin   types.Address  // tx.origin, distinct from From when replaying an internal call
	To       *types.Address // nil for contract creation
	Value    *big.Int
	GasLimit uint64
	Data     []byte
}
