package view

import (
	"context"
	"sync"
	"time"

	"github.com/Financial-Times/go-logger/v2"
	tidUtils "github.com/Financial-Times/transactionid-utils-go"
	metrics "github.com/rcrowley/go-metrics"

	"github.com/openmrs/ocl-concepts-api/concept"
	"github.com/openmrs/ocl-concepts-api/mapper"
	"github.com/openmrs/ocl-concepts-api/query"
	"github.com/openmrs/ocl-concepts-api/store"
)

const StaleDiscardedMetric = "concepts.stale.discarded"

// Request carries everything a concepts retrieval depends on.
type Request struct {
	Scope  string
	Params query.Params
}

func (r Request) Fingerprint() string {
	return r.Params.Fingerprint(r.Scope)
}

// Store is the state a list view reads, plus the command that refreshes it.
type Store interface {
	Snapshot(ctx context.Context, key string) (store.Snapshot, error)
	// DispatchRetrieve starts a retrieval and returns without waiting for it.
	DispatchRetrieve(ctx context.Context, key string, req Request) (uint64, error)
	// Await blocks until the latest retrieval dispatched for key has finished,
	// or ctx is done.
	Await(ctx context.Context, key string) error
}

type flight struct {
	seq  uint64
	done chan struct{}
}

// ConceptsStore fetches concepts from the OCL API and commits the adapted
// result to a backend. Results of superseded retrievals are discarded.
type ConceptsStore struct {
	backend   store.Backend
	api       concept.ReadAPI
	timeout   time.Duration
	log       *logger.UPPLogger
	discarded metrics.Counter

	mu       sync.Mutex
	inflight map[string]*flight
}

func NewConceptsStore(backend store.Backend, api concept.ReadAPI, timeout time.Duration, registry metrics.Registry, log *logger.UPPLogger) *ConceptsStore {
	return &ConceptsStore{
		backend:   backend,
		api:       api,
		timeout:   timeout,
		log:       log,
		discarded: metrics.GetOrRegisterCounter(StaleDiscardedMetric, registry),
		inflight:  make(map[string]*flight),
	}
}

func (s *ConceptsStore) Snapshot(ctx context.Context, key string) (store.Snapshot, error) {
	return s.backend.Load(ctx, key)
}

func (s *ConceptsStore) DispatchRetrieve(ctx context.Context, key string, req Request) (uint64, error) {
	seq, err := s.backend.Begin(ctx, key, req.Fingerprint())
	if err != nil {
		return 0, err
	}

	f := &flight{seq: seq, done: make(chan struct{})}
	s.mu.Lock()
	s.inflight[key] = f
	s.mu.Unlock()

	// The retrieval outlives the request that triggered it, but keeps its
	// transaction id and credentials.
	retrieveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	go func() {
		defer cancel()
		defer s.finish(key, f)
		s.retrieve(retrieveCtx, key, seq, req)
	}()
	return seq, nil
}

func (s *ConceptsStore) retrieve(ctx context.Context, key string, seq uint64, req Request) {
	tid, _ := tidUtils.GetTransactionIDFromContext(ctx)
	retrieveLog := s.log.WithTransactionID(tid).WithField("key", key).WithField("seq", seq)

	state := store.State{Seq: seq}
	page, err := s.api.ListConcepts(ctx, req.Scope, req.Params)
	if err != nil {
		retrieveLog.WithError(err).Warn("Concepts retrieval failed")
		state.Errors = err.Error()
	} else {
		state.Concepts = mapper.ToConcepts(page.Concepts)
		state.NumFound = page.NumFound
	}
	state.FetchedAt = time.Now().UTC()

	committed, err := s.backend.Commit(context.WithoutCancel(ctx), key, state)
	if err != nil {
		retrieveLog.WithError(err).Error("Failed to store retrieved concepts")
		return
	}
	if !committed {
		s.discarded.Inc(1)
		retrieveLog.Debug("Discarding concepts of a superseded retrieval")
		return
	}
	retrieveLog.WithField("count", len(state.Concepts)).Debug("Concepts retrieval committed")
}

func (s *ConceptsStore) finish(key string, f *flight) {
	close(f.done)
	s.mu.Lock()
	if s.inflight[key] == f {
		delete(s.inflight, key)
	}
	s.mu.Unlock()
}

func (s *ConceptsStore) Await(ctx context.Context, key string) error {
	s.mu.Lock()
	f, ok := s.inflight[key]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
