package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
)

// flagSet wraps flag.FlagSet to add support for uint64 flags (the
// standard flag package has no uint64 kind of its own).
type flagSet struct {
	*flag.FlagSet
}

// newCustomFlagSet creates a flagSet with ContinueOnError behavior, so a bad
// flag is reported to the caller rather than terminating the process
// directly (run() turns it into exit code 1).
func newCustomFlagSet(name string) *flagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	return &flagSet{FlagSet: fs}
}

// Uint64Var defines a uint64 flag.
func (fs *flagSet) Uint64Var(p *uint64, name string, value uint64, usage string) {
	fs.FlagSet.Var(&uint64Value{p: p}, name, usage)
	*p = value
}

type uint64Value struct {
	p *uint64
}

func (v *uint64Value) String() string {
	if v.p == nil {
		return "0"
	}
	return strconv.FormatUint(*v.p, 10)
}

func (v *uint64Value) Set(s string) error {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid uint64 value %q", s)
	}
	*v.p = n
	return nil
}

// cliConfig holds every CLI knob.
type cliConfig struct {
	Input                string
	Solver               string
	Cores                uint64
	SolverTimeoutMS      uint64
	LoopBound            uint64
	CallBound            uint64
	JSON                 bool
	DisableOptimizations bool
	AllOptimizations     bool
}

func defaultCLIConfig() cliConfig {
	return cliConfig{
		Solver:          "yices2",
		Cores:           0, // 0 means "logical cpus", resolved in main
		SolverTimeoutMS: 120000,
		LoopBound:       5,
		CallBound:       3,
	}
}

// parseFlags parses args into a cliConfig. Returns the config, whether the
// caller should exit immediately, and the exit code to use if so.
func parseFlags(args []string) (cliConfig, bool, int) {
	cfg := defaultCLIConfig()
	fs := newCustomFlagSet("ethbmc")
	fs.StringVar(&cfg.Solver, "solver", cfg.Solver, "SMT backend: z3, boolector, yices2")
	fs.Uint64Var(&cfg.Cores, "cores", cfg.Cores, "worker count (0 = logical cpus)")
	fs.Uint64Var(&cfg.SolverTimeoutMS, "solver-timeout", cfg.SolverTimeoutMS, "per-query cap in milliseconds")
	fs.Uint64Var(&cfg.LoopBound, "loop-bound", cfg.LoopBound, "per-PC back-edge cap")
	fs.Uint64Var(&cfg.CallBound, "call-bound", cfg.CallBound, "transactions in sequence")
	fs.BoolVar(&cfg.JSON, "json", cfg.JSON, "JSON output, no log to stdout")
	fs.BoolVar(&cfg.DisableOptimizations, "disable-optimizations", cfg.DisableOptimizations, "disable DAG/memory optimizations")
	fs.BoolVar(&cfg.AllOptimizations, "all-optimizations", cfg.AllOptimizations, "enable every optimization (default)")

	if err := fs.Parse(args); err != nil {
		return cfg, true, 1
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "ethbmc: missing required INPUT argument")
		return cfg, true, 1
	}
	cfg.Input = fs.Arg(0)
	return cfg, false, 0
}

// validate enforces the CLI-level invariants:
// --disable-optimizations and --all-optimizations are mutually exclusive,
// reported as an input error (exit 1) rather than a panic.
func (c cliConfig) validate() error {
	if c.DisableOptimizations && c.AllOptimizations {
		return fmt.Errorf("--disable-optimizations and --all-optimizations are mutually exclusive")
	}
	switch c.Solver {
	case "z3", "boolector", "yices2":
	default:
		return fmt.Errorf("unknown --solver %q: must be one of z3, boolector, yices2", c.Solver)
	}
	if c.Input == "" {
		return fmt.Errorf("INPUT is required")
	}
	return nil
}
