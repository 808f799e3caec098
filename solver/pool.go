package solver

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ethbmc/ethbmc/log"
	"github.com/ethbmc/ethbmc/metrics"
	"github.com/ethbmc/ethbmc/symbolic/expr"
)

// Result is the outcome of one check-sat query.
type Result int

const (
	ResultUnknown Result = iota
	ResultSat
	ResultUnsat
)

func (r Result) String() string {
	switch r {
	case ResultSat:
		return "sat"
	case ResultUnsat:
		return "unsat"
	default:
		return "unknown"
	}
}

// query is one unit of work submitted to the pool.
type query struct {
	ctx         context.Context
	constraints []*expr.BVal
	resultCh    chan<- Result
}

// Pool is a fixed-size set of solver workers, each owning one subprocess,
// drawing queries from a shared buffered channel: any free worker picks up
// the next query.
type Pool struct {
	backend Backend
	timeout time.Duration
	jobs    chan query
	cache   *lru.Cache[uint64, Result]
	logger  *log.Logger

	workers []*process
	wg      sync.WaitGroup

	mu           sync.Mutex
	dispatched   int
	satCount     int
	unsatCount   int
	unknownCount int
	cacheHits    int
}

// NewPool starts `count` workers, each with its own solver subprocess, and
// a bounded LRU result cache of cacheSize entries.
func NewPool(backend Backend, count int, timeout time.Duration, cacheSize int) (*Pool, error) {
	if count <= 0 {
		count = 1
	}
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	cache, err := lru.New[uint64, Result](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("solver: create cache: %w", err)
	}
	p := &Pool{
		backend: backend,
		timeout: timeout,
		jobs:    make(chan query, count*4),
		cache:   cache,
		logger:  log.Default().Module("solver"),
	}
	for i := 0; i < count; i++ {
		proc, err := startProcess(backend)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("solver: start worker %d: %w", i, err)
		}
		p.workers = append(p.workers, proc)
		p.wg.Add(1)
		go p.runWorker(proc)
	}
	return p, nil
}

func (p *Pool) runWorker(proc *process) {
	defer p.wg.Done()
	for q := range p.jobs {
		body := encodeBody(q.constraints)
		res, err := proc.checkSat(q.ctx, body, false)
		if err != nil {
			// Retry once with a fresh process; a second failure marks the
			// query Unknown and the analysis continues.
			if rerr := proc.restart(); rerr == nil {
				res, err = proc.checkSat(q.ctx, body, false)
			}
		}
		if err != nil {
			p.logger.Error("solver query failed", "err", err)
			res = ResultUnknown
		}
		q.resultCh <- res
	}
}

// CheckSat submits constraints for satisfiability checking with a per-call
// timeout, returning the cached result if an identical formula (by
// canonical hash) was already checked.
func (p *Pool) CheckSat(ctx context.Context, constraints []*expr.BVal) Result {
	key := formulaHash(constraints)
	if r, ok := p.cache.Get(key); ok {
		p.mu.Lock()
		p.cacheHits++
		p.mu.Unlock()
		metrics.SolverCacheHits.Inc()
		return r
	}

	qctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()

	resultCh := make(chan Result, 1)
	p.jobs <- query{ctx: qctx, constraints: constraints, resultCh: resultCh}

	timer := metrics.NewTimer(metrics.SolverQueryLatency)
	res := <-resultCh
	timer.Stop()

	p.cache.Add(key, res)

	p.mu.Lock()
	p.dispatched++
	switch res {
	case ResultSat:
		p.satCount++
	case ResultUnsat:
		p.unsatCount++
	default:
		p.unknownCount++
	}
	p.mu.Unlock()
	metrics.SolverDispatched.Inc()
	switch res {
	case ResultSat:
		metrics.SolverSat.Inc()
	case ResultUnsat:
		metrics.SolverUnsat.Inc()
	default:
		metrics.SolverUnknown.Inc()
	}

	return res
}

// Stats returns a snapshot of dispatch counters, used for the final report
// and for tests.
type Stats struct {
	Dispatched, Sat, Unsat, Unknown, CacheHits int
}

// Stats returns a point-in-time snapshot of the pool's query counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Dispatched: p.dispatched, Sat: p.satCount, Unsat: p.unsatCount,
		Unknown: p.unknownCount, CacheHits: p.cacheHits,
	}
}

// Close shuts down every worker subprocess. Safe to call once after all
// CheckSat calls have returned.
func (p *Pool) Close() {
	close(p.jobs)
	p.wg.Wait()
	for _, w := range p.workers {
		w.close()
	}
}

// formulaHash computes a canonical 64-bit hash of an ordered constraint
// list by combining each constraint's own structural hash (FNV-1a style,
// matching expr.BVal.Hash's construction) in order.
func formulaHash(constraints []*expr.BVal) uint64 {
	var h uint64 = 14695981039346656037
	for _, c := range constraints {
		h ^= c.Hash()
		h *= 1099511628211
	}
	return h
}
