package main

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ethbmc/ethbmc/core/types"
	"github.com/ethbmc/ethbmc/symbolic/check"
	"github.com/ethbmc/ethbmc/symbolic/env"
	"github.com/ethbmc/ethbmc/symbolic/expr"
	"github.com/ethbmc/ethbmc/symbolic/smem"
)

// yamlInput is the shape of the input file: `victim` plus a `state` map
// of address -> account, extended with `assertion_pcs` naming the REVERT
// sites the assertion-violation goal should treat as checked assertions
// (a plain hint rather than a test-harness integration).
type yamlInput struct {
	Victim       string                 `yaml:"victim"`
	State        map[string]yamlAccount `yaml:"state"`
	AssertionPCs []uint64               `yaml:"assertion_pcs"`
}

type yamlAccount struct {
	Balance string            `yaml:"balance"`
	Nonce   string            `yaml:"nonce"`
	Code    string            `yaml:"code"`
	Storage map[string]string `yaml:"storage"`
	Owner   string            `yaml:"owner"`
}

// LoadInput reads and parses path into a freshly-populated symbolic Env plus
// the goal-checking Config the owner/assertion hints imply. Every error
// path returns a wrapped error; the caller turns any non-nil error into
// exit code 1.
func LoadInput(path string) (*env.Env, check.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, check.Config{}, fmt.Errorf("reading input file: %w", err)
	}

	var in yamlInput
	if err := yaml.Unmarshal(data, &in); err != nil {
		return nil, check.Config{}, fmt.Errorf("parsing YAML input: %w", err)
	}

	victimAddr, err := parseAddress(in.Victim)
	if err != nil {
		return nil, check.Config{}, fmt.Errorf("victim address: %w", err)
	}

	e := env.New()
	e.NewAttackerAccount()

	cfg := check.DefaultConfig()
	if len(in.AssertionPCs) > 0 {
		cfg.CheckAssertions = true
		cfg.AssertionRevertPCs = make(map[uint64]bool, len(in.AssertionPCs))
		for _, pc := range in.AssertionPCs {
			cfg.AssertionRevertPCs[pc] = true
		}
	}

	var foundVictim bool
	for addrHex, acct := range in.State {
		addr, err := parseAddress(addrHex)
		if err != nil {
			return nil, check.Config{}, fmt.Errorf("account address %q: %w", addrHex, err)
		}
		balance, err := parseBigInt(acct.Balance)
		if err != nil {
			return nil, check.Config{}, fmt.Errorf("account %s balance: %w", addrHex, err)
		}
		code, err := parseHexOptional(acct.Code)
		if err != nil {
			return nil, check.Config{}, fmt.Errorf("account %s code: %w", addrHex, err)
		}

		var a *env.Account
		if addr == victimAddr {
			a = e.NewVictimAccount([20]byte(addr), code, expr.Const(balance, 256))
			foundVictim = true
		} else {
			a = e.NewAccount(addrHex, [20]byte(addr), code, expr.Const(balance, 256))
		}

		if err := applyStorage(a, acct.Storage); err != nil {
			return nil, check.Config{}, fmt.Errorf("account %s storage: %w", addrHex, err)
		}

		if acct.Owner != "" {
			slot, err := parseBigInt(acct.Owner)
			if err != nil {
				return nil, check.Config{}, fmt.Errorf("account %s owner slot %q: %w", addrHex, acct.Owner, err)
			}
			cfg.OwnerSlot = expr.Const(slot, 256)
			cfg.CheckOwnershipHijack = true
		}
	}

	if !foundVictim {
		return nil, check.Config{}, fmt.Errorf("victim address %s not present in state map", in.Victim)
	}

	return e, cfg, nil
}

// applyStorage writes every slot/value pair into both the account's
// symbolic Storage array (so interpreted SLOADs see it) and its
// ConcreteStorage map (so the validator can seed a concrete StateDB without a solver
// model for values that were never symbolic).
func applyStorage(a *env.Account, storage map[string]string) error {
	if len(storage) == 0 {
		return nil
	}
	a.ConcreteStorage = make(map[string]*big.Int, len(storage))
	for slotHex, valHex := range storage {
		slot, err := parseBigInt(slotHex)
		if err != nil {
			return fmt.Errorf("slot %q: %w", slotHex, err)
		}
		val, err := parseBigInt(valHex)
		if err != nil {
			return fmt.Errorf("value %q for slot %q: %w", valHex, slotHex, err)
		}
		a.Storage = smem.Write256(a.Storage, expr.Const(slot, 256), expr.Const(val, 256))
		a.ConcreteStorage[fmt.Sprintf("0x%x", slot)] = val
	}
	a.InitialStorage = a.Storage
	return nil
}

func parseAddress(s string) (types.Address, error) {
	b, err := parseHex(s)
	if err != nil {
		return types.Address{}, err
	}
	if len(b) > types.AddressLength {
		return types.Address{}, fmt.Errorf("address %q longer than 20 bytes", s)
	}
	return types.BytesToAddress(b), nil
}

// parseHexOptional treats an empty string as "no code"/"no data", for the
// optional `code` field.
func parseHexOptional(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return parseHex(s)
}

func parseHex(s string) ([]byte, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return nil, fmt.Errorf("expected 0x-prefixed hex string, got %q", s)
	}
	h := s[2:]
	if len(h)%2 == 1 {
		h = "0" + h
	}
	b, err := hex.DecodeString(h)
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", s, err)
	}
	return b, nil
}

// parseBigInt accepts either a hex (0x-prefixed) or decimal integer
// string.
func parseBigInt(s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		n, ok := new(big.Int).SetString(s[2:], 16)
		if !ok {
			return nil, fmt.Errorf("invalid hex integer %q", s)
		}
		return n, nil
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return n, nil
}
