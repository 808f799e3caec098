package env

import (
	"math/big"
	"testing"

	"github.com/ethbmc/ethbmc/symbolic/expr"
	"github.com/ethbmc/ethbmc/symbolic/smem"
)

func reset() {
	expr.ResetGlobalTable()
	smem.ResetIDCounter()
}

func TestNewAttackerAndVictimGetDistinctIDs(t *testing.T) {
	reset()
	e := New()
	attacker := e.NewAttackerAccount()
	var addr [20]byte
	addr[19] = 0x42
	victim := e.NewVictimAccount(addr, []byte{0x00}, expr.ConstUint64(100, 256))

	if attacker.ID == victim.ID {
		t.Fatalf("expected distinct account ids")
	}
	if e.AttackerID != attacker.ID || e.VictimID != victim.ID {
		t.Fatalf("expected Env to track attacker/victim ids")
	}
}

func TestAccountByAddrFindsConcreteAccount(t *testing.T) {
	reset()
	e := New()
	var addr [20]byte
	addr[19] = 0x7
	victim := e.NewVictimAccount(addr, nil, expr.ConstUint64(0, 256))

	got, ok := e.AccountByAddr(expr.Const(new(big.Int).SetBytes(addr[:]), 160))
	if !ok || got.ID != victim.ID {
		t.Fatalf("expected to find the victim account by its concrete address")
	}
}

func TestNewAttackerTxConservesBalance(t *testing.T) {
	reset()
	e := New()
	attacker := e.NewAttackerAccount()
	var addr [20]byte
	victim := e.NewVictimAccount(addr, []byte{0x00}, expr.ConstUint64(500, 256))

	oldAttackerBal := attacker.Balance
	oldVictimBal := victim.Balance

	tx := e.NewAttackerTx(victim.ID)
	if tx.Caller != attacker.ID {
		t.Fatalf("expected tx caller to be the attacker")
	}

	// sender.balance == old_sender.balance - callvalue
	wantSender := expr.Binary(expr.OpSub, oldAttackerBal, tx.CallValue)
	if attacker.Balance != wantSender {
		t.Fatalf("expected sender balance to be rebound to old-balance minus callvalue")
	}
	wantReceiver := expr.Binary(expr.OpAdd, oldVictimBal, tx.CallValue)
	if victim.Balance != wantReceiver {
		t.Fatalf("expected receiver balance to be rebound to old-balance plus callvalue")
	}

	if len(e.GlobalConstraints) != 1 {
		t.Fatalf("expected exactly one global constraint (callvalue <= balance), got %d", len(e.GlobalConstraints))
	}
}

func TestExternalAccountRegistersOnceAndFindsExisting(t *testing.T) {
	reset()
	e := New()
	attacker := e.NewAttackerAccount()

	// An address already known to the env resolves to its account.
	if got := e.ExternalAccount(attacker.Addr); got.ID != attacker.ID {
		t.Fatalf("expected ExternalAccount to find the attacker by its address node")
	}

	// An unknown address registers a codeless account exactly once.
	unknown := expr.Var("unknown_target", 160)
	first := e.ExternalAccount(unknown)
	if first.Code != nil {
		t.Fatalf("expected a freshly registered external account to carry no code")
	}
	second := e.ExternalAccount(unknown)
	if first.ID != second.ID {
		t.Fatalf("expected repeated lookups of the same address to return the same account")
	}
}

func TestNextBlockAdvancesNumberAndTimestamp(t *testing.T) {
	reset()
	e := New()
	b0 := e.CurrentBlock()
	b1 := e.NextBlock()
	if b1.Number == b0.Number {
		t.Fatalf("expected NextBlock to produce a distinct block number expression")
	}
	if e.CurrentBlock() != b1 {
		t.Fatalf("expected CurrentBlock to return the most recently appended block")
	}
}
