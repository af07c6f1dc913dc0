// Package notifier owns the authoritative snapshot for every state key and
// turns committed mutations into persistence and broadcast work.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"taskboard/domain"
	"taskboard/storage"
)

// ErrClosed is returned by Apply once Close has been called.
var ErrClosed = errors.New("notifier: closed")

const tracerName = "taskboard/notifier"

// Store is the persistence collaborator. Load reports storage.ErrNotFound
// for a key that has never been saved.
type Store interface {
	Load(ctx context.Context, key string) (domain.AppState, error)
	Save(ctx context.Context, key string, s domain.AppState) error
}

// Publisher is the transport collaborator.
type Publisher interface {
	Publish(ctx context.Context, d domain.ChangeDescriptor) error
}

type Config struct {
	Workers        int
	Buffer         int
	HandoffTimeout time.Duration
	LoadTimeout    time.Duration
	SaveTimeout    time.Duration
	PublishTimeout time.Duration
	SaveRetries    int
	RetryInitial   time.Duration
	RetryMax       time.Duration
	// Seed builds the state a key starts with when nothing is stored.
	Seed func(now time.Time) domain.AppState
}

func DefaultConfig() Config {
	return Config{
		Workers:        8,
		Buffer:         1024,
		HandoffTimeout: 15 * time.Millisecond,
		LoadTimeout:    10 * time.Second,
		SaveTimeout:    10 * time.Second,
		PublishTimeout: 5 * time.Second,
		SaveRetries:    3,
		RetryInitial:   200 * time.Millisecond,
		RetryMax:       5 * time.Second,
		Seed:           domain.DefaultState,
	}
}

// Outcome is the result of Apply. On a rejected command State is still the
// last valid snapshot, so callers can keep rendering it.
type Outcome struct {
	State   domain.AppState
	Change  domain.Change
	Version uint64
}

type entry struct {
	mu      sync.Mutex
	state   domain.AppState
	version uint64

	saveMu sync.Mutex
	saved  uint64
}

type job struct {
	key   string
	entry *entry
	state domain.AppState
	desc  domain.ChangeDescriptor
}

type Notifier struct {
	engine domain.Engine
	store  Store
	pub    Publisher
	logger *log.Logger
	cfg    Config
	now    func() time.Time
	tracer trace.Tracer

	mutations *prometheus.CounterVec
	failures  *prometheus.CounterVec

	loads singleflight.Group

	mu      sync.Mutex
	entries map[string]*entry

	dispatchMu sync.RWMutex
	queues     []chan job
	closed     bool
	wg         sync.WaitGroup
}

type Option func(*Notifier)

// WithRegisterer registers the notifier's counters with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(n *Notifier) {
		reg.MustRegister(n.mutations, n.failures)
	}
}

// WithClock replaces the clock used for descriptor timestamps and seeding.
func WithClock(now func() time.Time) Option {
	return func(n *Notifier) { n.now = now }
}

func New(engine domain.Engine, store Store, pub Publisher, logger *log.Logger, cfg Config, opts ...Option) *Notifier {
	if logger == nil {
		panic("notifier.New: logger is nil")
	}
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = def.Buffer
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = def.LoadTimeout
	}
	if cfg.SaveTimeout <= 0 {
		cfg.SaveTimeout = def.SaveTimeout
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = def.PublishTimeout
	}
	if cfg.SaveRetries < 0 {
		cfg.SaveRetries = 0
	}
	if cfg.Seed == nil {
		cfg.Seed = def.Seed
	}
	if pub == nil {
		pub = discard{}
	}
	n := &Notifier{
		engine:  engine,
		store:   store,
		pub:     pub,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
		tracer:  otel.Tracer(tracerName),
		entries: map[string]*entry{},
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskboard_mutations_total",
			Help: "Mutation commands applied, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskboard_dispatch_failures_total",
			Help: "Snapshots that could not be saved or descriptors that could not be published.",
		}, []string{"stage"}),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Start launches the dispatch workers. Without Start every job is processed
// inline by Apply.
func (n *Notifier) Start() {
	n.dispatchMu.Lock()
	defer n.dispatchMu.Unlock()
	if n.queues != nil || n.closed {
		return
	}
	n.queues = make([]chan job, n.cfg.Workers)
	for i := range n.queues {
		n.queues[i] = make(chan job, n.cfg.Buffer)
		n.wg.Add(1)
		go n.worker(i, n.queues[i])
	}
	n.logger.Infof("notifier started, workers: %d, buffer: %d, handoff: %v", n.cfg.Workers, n.cfg.Buffer, n.cfg.HandoffTimeout)
}

// Close stops accepting commands, drains queued jobs and waits for the
// workers, or until ctx is done.
func (n *Notifier) Close(ctx context.Context) error {
	n.dispatchMu.Lock()
	if n.closed {
		n.dispatchMu.Unlock()
		return nil
	}
	n.closed = true
	for _, q := range n.queues {
		close(q)
	}
	n.dispatchMu.Unlock()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notifier: drain: %w", ctx.Err())
	}
}

func (n *Notifier) isClosed() bool {
	n.dispatchMu.RLock()
	defer n.dispatchMu.RUnlock()
	return n.closed
}

// Snapshot returns the current snapshot and version for key, loading it on
// first access.
func (n *Notifier) Snapshot(ctx context.Context, key string) (domain.AppState, uint64, error) {
	e, err := n.entry(ctx, key)
	if err != nil {
		return domain.AppState{}, 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, e.version, nil
}

// Apply runs cmd against the latest snapshot of key and commits the result.
// Rejections and no-ops are neither persisted nor published.
func (n *Notifier) Apply(ctx context.Context, key, actor string, cmd domain.Command) (Outcome, error) {
	if n.isClosed() {
		return Outcome{}, ErrClosed
	}
	kind := "unknown"
	if cmd != nil {
		kind = string(cmd.Kind())
	}
	ctx, span := n.tracer.Start(ctx, "notifier.apply", trace.WithAttributes(
		attribute.String("taskboard.kind", kind),
		attribute.String("taskboard.state_key", key),
	))
	defer span.End()

	e, err := n.entry(ctx, key)
	if err != nil {
		n.mutations.WithLabelValues(kind, "load_failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		return Outcome{}, err
	}

	e.mu.Lock()
	res, err := n.engine.Apply(e.state, cmd)
	if err != nil {
		out := Outcome{State: e.state, Version: e.version}
		e.mu.Unlock()
		n.mutations.WithLabelValues(kind, "rejected").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "rejected")
		return out, err
	}
	if res.Change.NoOp {
		out := Outcome{State: e.state, Change: res.Change, Version: e.version}
		e.mu.Unlock()
		n.mutations.WithLabelValues(kind, "noop").Inc()
		span.SetAttributes(attribute.Bool("taskboard.noop", true))
		span.SetStatus(codes.Ok, "")
		return out, nil
	}
	e.state = res.State
	e.version++
	j := job{
		key:   key,
		entry: e,
		state: res.State,
		desc:  res.Change.Describe(key, actor, e.version, n.now()),
	}
	queued := n.enqueue(j)
	out := Outcome{State: res.State, Change: res.Change, Version: e.version}
	e.mu.Unlock()

	if !queued {
		n.process(j)
	}
	n.mutations.WithLabelValues(kind, "applied").Inc()
	span.SetAttributes(attribute.Int64("taskboard.version", int64(out.Version)))
	span.SetStatus(codes.Ok, "")
	return out, nil
}

func (n *Notifier) entry(ctx context.Context, key string) (*entry, error) {
	n.mu.Lock()
	e := n.entries[key]
	n.mu.Unlock()
	if e != nil {
		return e, nil
	}
	v, err, _ := n.loads.Do(key, func() (any, error) {
		n.mu.Lock()
		if e := n.entries[key]; e != nil {
			n.mu.Unlock()
			return e, nil
		}
		n.mu.Unlock()

		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.cfg.LoadTimeout)
		defer cancel()
		s, err := n.store.Load(lctx, key)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			s = n.cfg.Seed(n.now())
			n.logger.WithField("stateKey", key).Debug("seeding new state")
		case err != nil:
			return nil, fmt.Errorf("load state %q: %w", key, err)
		}
		e := &entry{state: s}
		n.mu.Lock()
		n.entries[key] = e
		n.mu.Unlock()
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*entry), nil
}

func shard(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

// enqueue hands j to its shard, waiting up to the handoff timeout for room.
// It reports false when the caller must process j itself.
func (n *Notifier) enqueue(j job) bool {
	n.dispatchMu.RLock()
	defer n.dispatchMu.RUnlock()
	if n.closed || len(n.queues) == 0 {
		return false
	}
	q := n.queues[shard(j.key, len(n.queues))]
	select {
	case q <- j:
		return true
	default:
	}
	if n.cfg.HandoffTimeout <= 0 {
		return false
	}
	timer := time.NewTimer(n.cfg.HandoffTimeout)
	defer timer.Stop()
	select {
	case q <- j:
		return true
	case <-timer.C:
		n.logger.WithField("stateKey", j.key).Warn("dispatch queue full, processing inline")
		return false
	}
}

func (n *Notifier) worker(id int, jobs <-chan job) {
	defer n.wg.Done()
	for j := range jobs {
		n.process(j)
	}
}

// process saves the job's snapshot unless a newer version is already stored,
// then publishes its descriptor. Neither failure touches the in-memory state.
func (n *Notifier) process(j job) {
	fields := log.Fields{"stateKey": j.key, "version": j.desc.Version, "kind": j.desc.Kind}

	e := j.entry
	e.saveMu.Lock()
	if j.desc.Version > e.saved {
		if err := n.saveWithRetry(j); err != nil {
			n.failures.WithLabelValues("save").Inc()
			n.logger.WithFields(fields).WithError(err).Error("persist failed")
		} else {
			e.saved = j.desc.Version
		}
	}
	e.saveMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), n.cfg.PublishTimeout)
	defer cancel()
	if err := n.pub.Publish(ctx, j.desc); err != nil {
		n.failures.WithLabelValues("publish").Inc()
		n.logger.WithFields(fields).WithError(err).Error("publish failed")
	}
}

func (n *Notifier) saveWithRetry(j job) error {
	var err error
	for attempt := 0; attempt <= n.cfg.SaveRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(exponentialBackoff(attempt, n.cfg.RetryInitial, n.cfg.RetryMax))
		}
		ctx, cancel := context.WithTimeout(context.Background(), n.cfg.SaveTimeout)
		err = n.store.Save(ctx, j.key, j.state)
		cancel()
		if err == nil {
			return nil
		}
		n.logger.WithFields(log.Fields{"stateKey": j.key, "attempt": attempt + 1}).WithError(err).Debug("save attempt failed")
	}
	return err
}

type discard struct{}

func (discard) Publish(context.Context, domain.ChangeDescriptor) error { return nil }
