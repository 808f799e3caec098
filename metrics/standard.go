package metrics

// Pre-defined metrics for EthBMC. All metrics live in DefaultRegistry so
// they are globally accessible without passing a registry around.

var (
	// ---- Solver pool metrics ----

	// SolverDispatched counts check-sat queries submitted to the pool.
	SolverDispatched = DefaultRegistry.Counter("solver.dispatched")
	// SolverSat counts queries that returned sat.
	SolverSat = DefaultRegistry.Counter("solver.sat")
	// SolverUnsat counts queries that returned unsat.
	SolverUnsat = DefaultRegistry.Counter("solver.unsat")
	// SolverUnknown counts queries that returned unknown (timeout or
	// solver error).
	SolverUnknown = DefaultRegistry.Counter("solver.unknown")
	// SolverCacheHits counts queries answered from the result cache without
	// dispatching to a worker.
	SolverCacheHits = DefaultRegistry.Counter("solver.cache_hits")
	// SolverQueryLatency records per-query wall-clock time in milliseconds.
	SolverQueryLatency = DefaultRegistry.Histogram("solver.query_latency_ms")

	// ---- Path explorer metrics ----

	// StatesExplored counts terminal states the explorer has produced.
	StatesExplored = DefaultRegistry.Counter("explorer.states_explored")
	// StatesPruned counts successor states dropped by pre-pruning or bound
	// enforcement before being added to the worklist.
	StatesPruned = DefaultRegistry.Counter("explorer.states_pruned")
	// WorklistDepth tracks the current number of suspended states awaiting
	// exploration.
	WorklistDepth = DefaultRegistry.Gauge("explorer.worklist_depth")

	// ---- Concrete validator metrics ----

	// ValidatorConfirmed counts witnesses that replayed successfully against
	// concrete EVM semantics.
	ValidatorConfirmed = DefaultRegistry.Counter("validator.confirmed")
	// ValidatorDiscarded counts witnesses discarded because concrete replay
	// diverged from the symbolic goal; such candidates are logged and
	// dropped while the analysis continues.
	ValidatorDiscarded = DefaultRegistry.Counter("validator.discarded")
)
