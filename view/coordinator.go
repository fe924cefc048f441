package view

import (
	"context"
	"sync"
	"time"

	"github.com/Financial-Times/go-logger/v2"
	"github.com/cespare/xxhash/v2"
	tidUtils "github.com/Financial-Times/transactionid-utils-go"

	"github.com/openmrs/ocl-concepts-api/query"
	"github.com/openmrs/ocl-concepts-api/store"
)

// Resolved is the outcome of a Sync.
type Resolved struct {
	Request    Request
	Dispatched bool
	Seq        uint64
}

// lockStripes bounds the number of mutexes serialising Sync. Keys sharing a
// stripe are serialised together.
const lockStripes = 256

// Coordinator issues a retrieval whenever the retrieval-affecting parameters
// of a view change. Navigations that resolve to the same parameters reuse
// the state already in the store.
type Coordinator struct {
	store           Store
	maxAge          time.Duration
	retrieveTimeout time.Duration
	log             *logger.UPPLogger
	now             func() time.Time

	locks [lockStripes]sync.Mutex
}

// NewCoordinator returns a Coordinator. A committed result older than maxAge
// is retrieved again on the next Sync; maxAge <= 0 keeps results until the
// parameters change. A retrieval still pending after retrieveTimeout is
// considered abandoned and is issued again; retrieveTimeout <= 0 waits for
// it indefinitely.
func NewCoordinator(s Store, maxAge time.Duration, retrieveTimeout time.Duration, log *logger.UPPLogger) *Coordinator {
	return &Coordinator{
		store:           s,
		maxAge:          maxAge,
		retrieveTimeout: retrieveTimeout,
		log:             log,
		now:             time.Now,
	}
}

// Sync resolves the parameters of loc and dispatches a retrieval for key if needed.
func (c *Coordinator) Sync(ctx context.Context, key string, loc Location) (Resolved, error) {
	req := Request{Scope: loc.Path, Params: query.Parse(loc.RawQuery)}

	lock := c.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	snapshot, err := c.store.Snapshot(ctx, key)
	if err != nil {
		return Resolved{Request: req}, err
	}
	if c.upToDate(snapshot, req.Fingerprint()) {
		return Resolved{Request: req, Seq: snapshot.Issued}, nil
	}

	seq, err := c.store.DispatchRetrieve(ctx, key, req)
	if err != nil {
		return Resolved{Request: req}, err
	}

	tid, _ := tidUtils.GetTransactionIDFromContext(ctx)
	c.log.WithTransactionID(tid).WithField("key", key).WithField("seq", seq).Debug("Dispatched concepts retrieval")
	return Resolved{Request: req, Dispatched: true, Seq: seq}, nil
}

func (c *Coordinator) upToDate(snapshot store.Snapshot, fingerprint string) bool {
	if snapshot.Issued == 0 || snapshot.Fingerprint != fingerprint {
		return false
	}
	if snapshot.Loading() {
		return c.retrieveTimeout <= 0 || c.now().Sub(snapshot.IssuedAt) < c.retrieveTimeout
	}
	if snapshot.Failed() {
		return false
	}
	return c.maxAge <= 0 || c.now().Sub(snapshot.FetchedAt) < c.maxAge
}

func (c *Coordinator) lockFor(key string) *sync.Mutex {
	return &c.locks[xxhash.Sum64String(key)%lockStripes]
}
