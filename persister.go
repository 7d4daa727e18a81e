package storedmap

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vsetec/storedmap/backend"
	"github.com/vsetec/storedmap/codec"
)

// Fault reports a persist job that failed in the background. Async
// failures never surface to the mutator that caused them; they are
// delivered on Store.Faults and logged. The core does not retry.
type Fault struct {
	Category string
	Key      string
	Err      error
}

type jobKey struct {
	index string
	key   string
}

// job is one unit of write-behind work for a key. While a job sits
// undispatched it may be superseded in place: a burst of mutations
// to one key yields exactly one physical write of the final state.
type job struct {
	key    jobKey
	holder *holder
	remove bool
	record backend.Record

	// queued reports whether the job sits in the dispatch channel,
	// guarded by the persister's mutex. At most one job per key is
	// undispatched and at most one is in flight; a job created
	// while another is in flight is held back and queued when the
	// in-flight one completes, which preserves per-key write order.
	queued bool

	// gen counts in-place supersessions, guarded by the persister's
	// mutex. The reject path consults it: a non-zero count means a
	// later mutator was told its state is accepted.
	gen int

	// remaining counts the completion callbacks yet to fire
	remaining int32
}

// persister is the write-behind engine: it decouples mutation
// latency from backend write latency while preserving per-key
// order. Mutators enqueue; a bounded worker pool dispatches to the
// backend. Cross-key ordering is unspecified.
type persister struct {
	store  *Store
	logger *zap.Logger
	block  bool

	queue  chan *job
	faults chan Fault
	group  errgroup.Group

	mu       sync.Mutex
	closed   bool
	pending  map[jobKey]*job
	inflight map[jobKey]*job

	// jobs counts accepted jobs through to completion so shutdown
	// can guarantee none is lost silently
	jobs sync.WaitGroup
}

func newPersister(store *Store, workers, queueSize int, block bool) *persister {
	p := &persister{
		store:    store,
		logger:   store.logger.With(zap.String("component", "persister")),
		block:    block,
		queue:    make(chan *job, queueSize),
		faults:   make(chan Fault, 1024),
		pending:  map[jobKey]*job{},
		inflight: map[jobKey]*job{},
	}

	for i := 0; i < workers; i++ {
		p.group.Go(p.work)
	}

	return p
}

// enqueue schedules the holder's current state for persistence. If
// an undispatched job for the key exists it is superseded by the
// new state instead of queueing a second write.
func (p *persister) enqueue(h *holder) error {
	cat := h.category
	state := h.snapshot()

	k := jobKey{index: cat.indexName, key: h.key}

	var record backend.Record

	if !state.removed {
		payload, err := p.store.codec.Marshal(envelope{
			Content:      state.content,
			Tags:         state.tags,
			SecondaryKey: state.secondaryKey,
			Sorter:       state.sorter,
		})

		if err != nil {
			return wrapError("could not encode document", err)
		}

		record = backend.Record{
			Key:          h.key,
			Index:        cat.indexName,
			Payload:      payload,
			View:         state.content,
			Locales:      codec.LocaleNames(cat.Locales()),
			Sorter:       state.sorter,
			Tags:         codec.DefaultTags(state.tags),
			SecondaryKey: state.secondaryKey,
		}
	}

	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()

		return ErrClosed
	}

	if undispatched := p.pending[k]; undispatched != nil {
		undispatched.record = record
		undispatched.remove = state.removed
		undispatched.gen++
		p.mu.Unlock()

		return nil
	}

	j := &job{key: k, holder: h, remove: state.removed, record: record, remaining: 2}
	cat.retain(h)
	p.pending[k] = j
	p.jobs.Add(1)

	dispatchNow := p.inflight[k] == nil

	if dispatchNow {
		j.queued = true
	}

	p.mu.Unlock()

	if !dispatchNow {
		return nil
	}

	if p.block {
		p.queue <- j

		return nil
	}

	select {
	case p.queue <- j:
		return nil
	default:
	}

	return p.reject(j)
}

// reject undoes a job whose non-blocking dispatch found the queue
// full. A job superseded while the capacity check ran was already
// accepted with a nil return to the superseding mutator, so it must
// not be dropped: it is pushed in the background instead.
func (p *persister) reject(j *job) error {
	p.mu.Lock()

	if j.gen != 0 {
		p.mu.Unlock()

		go func() { p.queue <- j }()

		return nil
	}

	if p.pending[j.key] == j {
		delete(p.pending, j.key)
	}

	p.mu.Unlock()
	j.holder.category.release(j.holder)
	p.jobs.Done()

	return ErrQueueFull
}

func (p *persister) work() error {
	for j := range p.queue {
		p.dispatch(j)
	}

	return nil
}

func (p *persister) dispatch(j *job) {
	p.mu.Lock()

	if p.pending[j.key] == j {
		delete(p.pending, j.key)
	}

	p.inflight[j.key] = j
	p.mu.Unlock()

	conn := p.store.conn

	if j.remove {
		conn.Remove(j.key.key, j.key.index, func(err error) {
			p.primaryDone(j, err)
		})
		conn.ClearSecondary(j.key.key, j.key.index, func(err error) {
			p.secondaryDone(j, err)
		})

		return
	}

	conn.Put(j.record, func(err error) {
		p.primaryDone(j, err)
	}, func(err error) {
		p.secondaryDone(j, err)
	})
}

// primaryDone handles the primary-durability callback: it clears
// the holder's dirty state unless the job was superseded since
// dispatch, in which case the newer state keeps the holder dirty
func (p *persister) primaryDone(j *job, err error) {
	if err != nil {
		p.fault(j, err)
	} else {
		p.mu.Lock()
		superseded := p.pending[j.key] != nil
		p.mu.Unlock()

		if !superseded {
			j.holder.markClean()
		}
	}

	p.complete(j)
}

// secondaryDone handles the secondary-durability callback: it
// settles the secondary-key cache against the now-durable index
// state. A superseded job must not touch the cache: the newer state
// may have removed the document or moved it to another group, and
// re-inserting the stale entry would leave it served forever.
func (p *persister) secondaryDone(j *job, err error) {
	if err != nil {
		p.fault(j, err)
	} else if !j.remove && j.record.SecondaryKey != "" {
		p.mu.Lock()
		superseded := p.pending[j.key] != nil
		p.mu.Unlock()

		if !superseded {
			j.holder.category.cacheSecondaryKey(j.key.key, j.record.SecondaryKey)
		}
	}

	p.complete(j)
}

func (p *persister) complete(j *job) {
	if atomic.AddInt32(&j.remaining, -1) > 0 {
		return
	}

	var next *job

	p.mu.Lock()
	delete(p.inflight, j.key)

	if n := p.pending[j.key]; n != nil && !n.queued {
		n.queued = true
		next = n
	}

	p.mu.Unlock()

	if next != nil {
		// Never stall a backend completion callback on queue
		// capacity.
		select {
		case p.queue <- next:
		default:
			go func() { p.queue <- next }()
		}
	}

	j.holder.category.release(j.holder)
	p.jobs.Done()
}

func (p *persister) fault(j *job, err error) {
	fault := Fault{Category: j.holder.category.name, Key: j.key.key, Err: err}

	p.logger.Error("background persist failed",
		zap.String("key", fault.Key),
		zap.String("category", fault.Category),
		zap.Bool("remove", j.remove),
		zap.Error(err))

	select {
	case p.faults <- fault:
	default:
		p.logger.Warn("fault channel full, report dropped",
			zap.String("key", fault.Key),
			zap.String("category", fault.Category))
	}
}

// stop refuses new jobs, waits for every accepted job to complete,
// then releases the workers. It runs exactly once, from Store
// close; the connection is still open until stop returns.
func (p *persister) stop() {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()

		return
	}

	p.closed = true
	p.mu.Unlock()

	p.jobs.Wait()
	close(p.queue)
	p.group.Wait()
	close(p.faults)
}
