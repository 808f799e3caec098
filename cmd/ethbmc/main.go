// Command ethbmc is the CLI entry point for the EthBMC bounded model
// checker: it loads a YAML input state, explores attacker transaction
// sequences against the named victim contract (symbolic/explore),
// concretely validates every candidate witness (validate), and reports the
// result as either a human-readable summary or a single JSON object.
//
// Usage:
//
//	ethbmc [flags] INPUT
//
// Flags:
//
//	--solver {z3,boolector,yices2}  SMT backend (default yices2)
//	--cores N                      worker count (default logical cpus)
//	--solver-timeout MS            per-query cap (default 120000)
//	--loop-bound N                 per-PC back-edge cap (default 5)
//	--call-bound N                 transactions in sequence (default 3)
//	--json                         JSON output, no log to stdout
//	--disable-optimizations / --all-optimizations
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/ethbmc/ethbmc/log"
	"github.com/ethbmc/ethbmc/metrics"
	"github.com/ethbmc/ethbmc/solver"
	"github.com/ethbmc/ethbmc/symbolic/expr"
	"github.com/ethbmc/ethbmc/symbolic/explore"
	"github.com/ethbmc/ethbmc/symbolic/interp"
	"github.com/ethbmc/ethbmc/validate"
)

// Process exit codes.
const (
	exitOK                = 0
	exitInputError        = 1
	exitSolverUnavailable = 2
	exitInternalInvariant = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, exit, code := parseFlags(args)
	if exit {
		return code
	}
	if err := cfg.validate(); err != nil {
		fmt.Fprintf(os.Stderr, "ethbmc: %v\n", err)
		return exitInputError
	}

	logger, closeLog, err := setupLogging(cfg.JSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ethbmc: setting up logging: %v\n", err)
		return exitInputError
	}
	defer closeLog()
	log.SetDefault(logger)

	expr.SetOptimizationsEnabled(!cfg.DisableOptimizations)

	e, checkCfg, err := LoadInput(cfg.Input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ethbmc: %v\n", err)
		return exitInputError
	}

	backend := parseBackend(cfg.Solver)
	cores := int(cfg.Cores)
	if cores <= 0 {
		cores = runtime.NumCPU()
	}
	pool, err := solver.NewPool(backend, cores, time.Duration(cfg.SolverTimeoutMS)*time.Millisecond, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ethbmc: starting solver pool: %v\n", err)
		return exitSolverUnavailable
	}
	defer pool.Close()

	explCfg := explore.Config{
		Interp:      interp.Config{LoopBound: int(cfg.LoopBound)},
		CallBound:   int(cfg.CallBound),
		Strategy:    explore.CoverageGuided,
		Parallelism: cores,
		StopOnFirst: true,
		Check:       checkCfg,
	}

	engine := explore.New(e, pool, explCfg)
	witnesses, err := engine.Run(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "ethbmc: exploration failed: %v\n", err)
		return exitInternalInvariant
	}

	var reports []*validate.Report
	for _, w := range witnesses {
		r, err := validate.Validate(e, w)
		if err != nil {
			logger.Warn("concrete validation failed", "goal", w.Query.Goal, "err", err)
			continue
		}
		if !r.Accepted {
			// Validator divergence: log and discard the candidate; the
			// analysis continues.
			logger.Info("witness rejected by concrete replay", "goal", r.Goal, "reason", r.Reason)
			continue
		}
		reports = append(reports, r)
	}

	if cfg.JSON {
		printJSON(reports)
	} else {
		printHuman(reports)
	}

	// At trace level, dump the run's solver/explorer/validator counters in
	// Prometheus text format so a run can be profiled from its logs.
	if levelFromEnv(os.Getenv("LOG_LEVEL")) <= levelTrace {
		if err := metrics.WriteText(os.Stderr, metrics.DefaultRegistry, "ethbmc"); err != nil {
			logger.Warn("writing metrics dump", "err", err)
		}
	}
	return exitOK
}

func parseBackend(s string) solver.Backend {
	switch s {
	case "z3":
		return solver.BackendZ3
	case "boolector":
		return solver.BackendBoolector
	default:
		return solver.BackendYices2
	}
}

// setupLogging builds the process-wide logger: LOG_LEVEL in
// {info,debug,trace} (default info), always writing to log/evmse.log,
// additionally to stderr unless --json suppresses it.
func setupLogging(jsonMode bool) (*log.Logger, func(), error) {
	level := levelFromEnv(os.Getenv("LOG_LEVEL"))

	if err := os.MkdirAll("log", 0o755); err != nil {
		return nil, func() {}, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join("log", "evmse.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, func() {}, fmt.Errorf("opening log file: %w", err)
	}

	var w io.Writer = f
	if !jsonMode {
		w = io.MultiWriter(f, os.Stderr)
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	logger := log.NewWithHandler(handler)
	return logger, func() { f.Close() }, nil
}

// levelTrace sits below Debug; the standard library has no built-in trace
// level.
const levelTrace = slog.Level(-8)

func levelFromEnv(v string) slog.Level {
	switch v {
	case "debug":
		return slog.LevelDebug
	case "trace":
		return levelTrace
	default:
		return slog.LevelInfo
	}
}

func printJSON(reports []*validate.Report) {
	type txJSON struct {
		From     string `json:"from"`
		To       string `json:"to"`
		Value    string `json:"value"`
		Gas      uint64 `json:"gas"`
		Calldata string `json:"calldata"`
	}
	type accountJSON struct {
		Address        string `json:"address"`
		BalanceBefore  string `json:"balance_before"`
		BalanceAfter   string `json:"balance_after"`
		SelfDestructed bool   `json:"self_destructed,omitempty"`
	}
	type reportJSON struct {
		Goal       string        `json:"goal"`
		Witness    []txJSON      `json:"witness"`
		FinalState []accountJSON `json:"final_state"`
	}
	out := make([]reportJSON, 0, len(reports))
	for _, r := range reports {
		rj := reportJSON{Goal: r.Goal.String()}
		for _, tx := range r.Witness {
			rj.Witness = append(rj.Witness, txJSON{
				From: tx.From.Hex(), To: tx.To.Hex(),
				Value: tx.Value.String(), Gas: tx.Gas,
				Calldata: fmt.Sprintf("0x%x", tx.Calldata),
			})
		}
		for _, d := range r.Accounts {
			rj.FinalState = append(rj.FinalState, accountJSON{
				Address:        d.Address.Hex(),
				BalanceBefore:  d.BalanceBefore.String(),
				BalanceAfter:   d.BalanceAfter.String(),
				SelfDestructed: d.SelfDestructed,
			})
		}
		out = append(out, rj)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(out)
}

func printHuman(reports []*validate.Report) {
	if len(reports) == 0 {
		fmt.Println("no counterexample found")
		return
	}
	for _, r := range reports {
		fmt.Printf("GOAL REACHED: %s\n", r.Goal)
		for i, tx := range r.Witness {
			fmt.Printf("  tx[%d] %s -> %s value=%s gas=%d calldata=0x%x\n",
				i, tx.From.Hex(), tx.To.Hex(), tx.Value, tx.Gas, tx.Calldata)
		}
		for _, d := range r.Accounts {
			fmt.Printf("  %s balance %s -> %s%s\n", d.Address.Hex(), d.BalanceBefore, d.BalanceAfter,
				selfDestructSuffix(d.SelfDestructed))
		}
	}
}

func selfDestructSuffix(destructed bool) string {
	if destructed {
		return " (self-destructed)"
	}
	return ""
}
