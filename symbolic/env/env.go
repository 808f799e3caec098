// Package env implements the symbolic environment model: accounts,
// transactions, blocks, and the global constraint list they are built
// under. It is the entry point that turns a parsed YAML input state into
// the initial set of symbolic accounts the interpreter runs against.
package env

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethbmc/ethbmc/symbolic/expr"
	"github.com/ethbmc/ethbmc/symbolic/smem"
)

// AccountId identifies an account within an Env. Accounts are never
// destroyed; SELFDESTRUCT is represented as a logical-delete flag so that
// cross-references by id stay valid for the remainder of the path.
type AccountId uint64

// Account is a symbolic Ethereum account: an address, a balance, a storage
// array, and (if it has code) the contract's bytecode and owner hint.
type Account struct {
	ID      AccountId
	Name    string
	Addr    *expr.BVal
	Balance *expr.BVal
	Storage *smem.MVal

	// Mappings holds per-slot-prefix nested storage arrays (Solidity mapping
	// simulation), keyed by the mapping's base slot constant so repeated
	// accesses to the same mapping share one symbolic array.
	Mappings map[string]*smem.MVal

	Code     []byte
	CodeSize uint64
	Owner    *expr.BVal // nil if no owner hint was supplied

	// Initial snapshots, kept for balance-conservation and diff reporting.
	InitialBalance *expr.BVal
	InitialStorage *smem.MVal

	// ConcreteStorage holds the already-concrete slot/value pairs the input
	// loader wrote into Storage (hex slot -> value), kept alongside the
	// symbolic array so the validator can seed a concrete StateDB directly without
	// needing a solver model for values that were never symbolic to begin
	// with.
	ConcreteStorage map[string]*big.Int

	Constraints []*expr.BVal

	SelfDestructed bool
}

// Transaction is one symbolic call into the environment.
type Transaction struct {
	ID           uint64
	Caller       AccountId
	Origin       AccountId
	To           AccountId
	Gas          *expr.BVal
	CallValue    *expr.BVal
	Calldata     *smem.MVal
	CalldataSize *expr.BVal
	Constraints  []*expr.BVal
}

// Block is the symbolic block context a transaction (or sequence of
// transactions, each in its own Block per NextBlock) executes under.
type Block struct {
	Number     *expr.BVal
	Timestamp  *expr.BVal
	GasPrice   *expr.BVal
	GasLimit   *expr.BVal
	Difficulty *expr.BVal
	Coinbase   *expr.BVal
	ChainID    *expr.BVal
	BlockHash  *expr.BVal
}

// Env owns every account, the address->id index, the transaction/block
// history, and the accumulated global constraint list that every path
// must remain consistent with (e.g. "callvalue <= sender.balance" added by
// each NewAttackerTx).
type Env struct {
	// mu guards the account map, address index, and transaction log: the
	// explorer advances states in parallel, and a symbolic external call on
	// one path registers accounts/output transactions while sibling paths
	// read the same tables.
	mu          sync.RWMutex
	accounts    map[AccountId]*Account
	addrIndex   map[string]AccountId
	nextAccount AccountId
	nextTx      uint64

	Transactions []*Transaction
	Blocks       []*Block

	GlobalConstraints []*expr.BVal

	AttackerID AccountId
	VictimID   AccountId
}

// New creates an empty environment with one genesis Block (number/timestamp
// fixed at construction; NextBlock advances both for each subsequent
// attacker transaction).
func New() *Env {
	e := &Env{
		accounts:  make(map[AccountId]*Account),
		addrIndex: make(map[string]AccountId),
	}
	e.Blocks = append(e.Blocks, &Block{
		Number:     expr.Var(expr.FreshName("block_number"), 256),
		Timestamp:  expr.Var(expr.FreshName("block_timestamp"), 256),
		GasPrice:   expr.Var(expr.FreshName("gasprice"), 256),
		GasLimit:   expr.Var(expr.FreshName("gaslimit"), 256),
		Difficulty: expr.Var(expr.FreshName("difficulty"), 256),
		Coinbase:   expr.Var(expr.FreshName("coinbase"), 160),
		ChainID:    expr.ConstUint64(1, 256),
		BlockHash:  expr.Var(expr.FreshName("blockhash"), 256),
	})
	return e
}

// CurrentBlock returns the block the next transaction will execute under.
func (e *Env) CurrentBlock() *Block {
	return e.Blocks[len(e.Blocks)-1]
}

// NextBlock appends a new block with strictly greater number and timestamp
// than the current one, and fresh gasprice/gaslimit symbols, matching how
// the path explorer advances the chain between attacker transactions in a
// multi-transaction sequence.
func (e *Env) NextBlock() *Block {
	prev := e.CurrentBlock()
	one := expr.ConstUint64(1, 256)
	b := &Block{
		Number:     expr.Binary(expr.OpAdd, prev.Number, one),
		Timestamp:  expr.Binary(expr.OpAdd, prev.Timestamp, expr.Var(expr.FreshName("block_delta"), 256)),
		GasPrice:   expr.Var(expr.FreshName("gasprice"), 256),
		GasLimit:   expr.Var(expr.FreshName("gaslimit"), 256),
		Difficulty: prev.Difficulty,
		Coinbase:   prev.Coinbase,
		ChainID:    prev.ChainID,
		BlockHash:  expr.Var(expr.FreshName("blockhash"), 256),
	}
	e.AddConstraint(expr.Comparison(expr.OpLt, prev.Number, b.Number))
	e.AddConstraint(expr.Comparison(expr.OpLt, prev.Timestamp, b.Timestamp))
	e.Blocks = append(e.Blocks, b)
	return b
}

// newAccount allocates an id and registers the account's address in the
// index. addr must already be a concrete-or-symbolic BVal of width 160.
func (e *Env) newAccount(name string, addr, balance *expr.BVal, code []byte) *Account {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.newAccountLocked(name, addr, balance, code)
}

func (e *Env) newAccountLocked(name string, addr, balance *expr.BVal, code []byte) *Account {
	id := e.nextAccount
	e.nextAccount++
	a := &Account{
		ID:             id,
		Name:           name,
		Addr:           addr,
		Balance:        balance,
		Storage:        smem.Fresh(smem.KindStorage, name+"_storage"),
		Mappings:       make(map[string]*smem.MVal),
		Code:           code,
		CodeSize:       uint64(len(code)),
		InitialBalance: balance,
	}
	a.InitialStorage = a.Storage
	e.accounts[id] = a
	e.addrIndex[addrKey(addr)] = id
	return a
}

func addrKey(addr *expr.BVal) string {
	if addr.IsConst() {
		return "c:" + addr.Value.String()
	}
	return fmt.Sprintf("s:%p", addr)
}

// NewAttackerAccount creates the attacker EOA with a fresh symbolic address
// and a fresh (unconstrained, later bounded by a startup constraint) initial
// balance.
func (e *Env) NewAttackerAccount() *Account {
	addr := expr.Var(expr.FreshName("attacker_addr"), 160)
	bal := expr.Var(expr.FreshName("attacker_balance"), 256)
	a := e.newAccount("attacker", addr, bal, nil)
	e.AttackerID = a.ID
	return a
}

// NewVictimAccount creates the designated victim contract at the given
// concrete address with the given deployed code.
func (e *Env) NewVictimAccount(addr [20]byte, code []byte, balance *expr.BVal) *Account {
	a := e.newAccount("victim", expr.Const(new(big.Int).SetBytes(addr[:]), 160), balance, code)
	e.VictimID = a.ID
	return a
}

// NewAccount creates any other input-state account (neither attacker nor
// victim): another contract, another EOA the victim may interact with, etc.
func (e *Env) NewAccount(name string, addr [20]byte, code []byte, balance *expr.BVal) *Account {
	return e.newAccount(name, expr.Const(new(big.Int).SetBytes(addr[:]), 160), balance, code)
}

// Account looks an account up by id.
func (e *Env) Account(id AccountId) *Account {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.accounts[id]
}

// AccountByAddr looks an account up by its (concrete) address, returning
// false if no account with that exact address was registered. Symbolic
// addresses (the attacker account before a concrete model is known) are
// never found by this lookup; the interpreter falls back to treating the
// target as unknown/external when this misses.
func (e *Env) AccountByAddr(addr *expr.BVal) (*Account, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	id, ok := e.addrIndex[addrKey(addr)]
	if !ok {
		return nil, false
	}
	return e.accounts[id], true
}

// Accounts returns every account currently registered, in id order.
func (e *Env) Accounts() []*Account {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Account, 0, len(e.accounts))
	for id := AccountId(0); id < e.nextAccount; id++ {
		if a, ok := e.accounts[id]; ok {
			out = append(out, a)
		}
	}
	return out
}

// ExternalAccount returns the account registered for addr, creating a
// codeless one with a fresh unconstrained balance if none exists. Used by
// the interpreter when a CALL targets an address outside the input state:
// the fresh balance havocs whatever the chain may hold at that address,
// and the registration gives NewOutputTx a stable id to record the
// outward transfer against.
func (e *Env) ExternalAccount(addr *expr.BVal) *Account {
	e.mu.Lock()
	defer e.mu.Unlock()
	if id, ok := e.addrIndex[addrKey(addr)]; ok {
		return e.accounts[id]
	}
	return e.newAccountLocked(expr.FreshName("external"), addr, expr.Var(expr.FreshName("external_balance"), 256), nil)
}

// AddConstraint appends a constraint to the environment's global list,
// which every path must remain consistent with regardless of which branch
// it took (e.g. "callvalue <= sender.balance" at transaction entry).
func (e *Env) AddConstraint(c *expr.BVal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.GlobalConstraints = append(e.GlobalConstraints, c)
}

// NewAttackerTx creates a transaction from the attacker to the given
// recipient, with a fresh symbolic calldata/callvalue/gas, enforcing
// callvalue <= caller.balance and rebinding both balances around the
// transfer so value is conserved.
func (e *Env) NewAttackerTx(to AccountId) *Transaction {
	e.mu.Lock()
	defer e.mu.Unlock()
	caller := e.accounts[e.AttackerID]
	callee := e.accounts[to]

	callvalue := expr.Var(expr.FreshName("callvalue"), 256)
	e.GlobalConstraints = append(e.GlobalConstraints, expr.Comparison(expr.OpLe, callvalue, caller.Balance))

	caller.Balance = expr.Binary(expr.OpSub, caller.Balance, callvalue)
	callee.Balance = expr.Binary(expr.OpAdd, callee.Balance, callvalue)

	calldataSize := expr.Var(expr.FreshName("calldatasize"), 256)
	tx := &Transaction{
		ID:           e.nextTx,
		Caller:       e.AttackerID,
		Origin:       e.AttackerID,
		To:           to,
		Gas:          expr.Var(expr.FreshName("gas"), 256),
		CallValue:    callvalue,
		Calldata:     smem.Fresh(smem.KindCalldata, fmt.Sprintf("calldata_tx%d", e.nextTx)),
		CalldataSize: calldataSize,
	}
	e.nextTx++
	e.Transactions = append(e.Transactions, tx)
	return tx
}

// NewOutputTx records a symbolic external call the victim (or any
// already-modeled contract) made outward to an address without known
// code. It does not mutate balances itself; the interpreter performs the
// transfer at the call site.
func (e *Env) NewOutputTx(caller, to AccountId, callvalue *expr.BVal, calldata *smem.MVal) *Transaction {
	e.mu.Lock()
	defer e.mu.Unlock()
	tx := &Transaction{
		ID:        e.nextTx,
		Caller:    caller,
		Origin:    caller,
		To:        to,
		CallValue: callvalue,
		Calldata:  calldata,
	}
	e.nextTx++
	e.Transactions = append(e.Transactions, tx)
	return tx
}
