package instance

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/quailyquaily/peergate/internal/fsstore"
	"github.com/quailyquaily/peergate/internal/retryutil"
	"github.com/quailyquaily/peergate/internal/worker"
	"github.com/quailyquaily/peergate/netclient"
	"github.com/quailyquaily/peergate/wfengine"
)

const (
	defaultReconnectDelay = 5 * time.Second
	connectTimeout        = 30 * time.Second
	defaultQueueSize      = 64
	defaultMaxConcurrency = 8
	pairingCodeFilename   = "pairing-code.txt"
)

// InboundHandler consumes one inbound message for an instance. The manager
// guarantees per-instance ordering; handlers for distinct instances run
// concurrently up to the manager's concurrency cap.
type InboundHandler func(ctx context.Context, cfg Config, conn netclient.Conn, msg netclient.Message)

type ManagerOptions struct {
	Logger         *slog.Logger
	Store          *Store
	Dialer         netclient.Dialer
	Engine         *wfengine.Client
	SessionsDir    string
	ReconnectDelay time.Duration
	QueueSize      int
	MaxConcurrency int
}

// Manager owns the instance-id to runtime-connection mapping and drives
// lifecycle transitions from connection events. Lifecycle operations for the
// same instance id are serialized by a per-id lock; operations across ids
// are independent.
type Manager struct {
	logger         *slog.Logger
	store          *Store
	dialer         netclient.Dialer
	engine         *wfengine.Client
	sessionsDir    string
	reconnectDelay time.Duration
	queueSize      int

	inbound InboundHandler

	sem     chan struct{}
	runCtx  context.Context
	stopRun context.CancelFunc

	mu      sync.Mutex
	entries map[string]*entry
	opLocks map[string]*sync.Mutex
	genSeq  uint64
}

type entry struct {
	gen             uint64
	conn            netclient.Conn
	state           State
	jobs            chan netclient.Message
	cancelJobs      context.CancelFunc
	cancelReconnect func()
}

func NewManager(opts ManagerOptions) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	engine := opts.Engine
	if engine == nil {
		engine = wfengine.NewClient()
	}
	delay := opts.ReconnectDelay
	if delay <= 0 {
		delay = defaultReconnectDelay
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	maxConc := opts.MaxConcurrency
	if maxConc <= 0 {
		maxConc = defaultMaxConcurrency
	}
	runCtx, stopRun := context.WithCancel(context.Background())
	return &Manager{
		logger:         logger,
		store:          opts.Store,
		dialer:         opts.Dialer,
		engine:         engine,
		sessionsDir:    opts.SessionsDir,
		reconnectDelay: delay,
		queueSize:      queueSize,
		sem:            make(chan struct{}, maxConc),
		runCtx:         runCtx,
		stopRun:        stopRun,
		entries:        map[string]*entry{},
		opLocks:        map[string]*sync.Mutex{},
	}
}

// SetInboundHandler wires the message router. Call before any instance is
// initialized.
func (m *Manager) SetInboundHandler(h InboundHandler) { m.inbound = h }

func (m *Manager) lockFor(instanceID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.opLocks[instanceID]
	if !ok {
		lock = &sync.Mutex{}
		m.opLocks[instanceID] = lock
	}
	return lock
}

// Create validates and persists a new instance config, probes the workflow
// engine, and initializes the connection.
func (m *Manager) Create(ctx context.Context, cfg Config) (Config, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	lock := m.lockFor(cfg.InstanceID)
	lock.Lock()
	defer lock.Unlock()

	if _, found, err := m.store.Load(cfg.InstanceID); err != nil {
		return Config{}, err
	} else if found {
		return Config{}, fmt.Errorf("%w: %s", ErrConflict, cfg.InstanceID)
	}
	if err := m.engine.Probe(ctx, cfg.Workflow.BaseURL); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	now := time.Now().UTC()
	cfg.Status = StateCreated
	cfg.Created = now
	if err := m.store.Save(cfg); err != nil {
		return Config{}, err
	}
	if err := m.initLocked(ctx, cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Init builds the runtime connection for an already-persisted instance.
func (m *Manager) Init(ctx context.Context, instanceID string) error {
	lock := m.lockFor(instanceID)
	lock.Lock()
	defer lock.Unlock()
	cfg, found, err := m.store.Load(instanceID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrNotFound, instanceID)
	}
	return m.initLocked(ctx, cfg)
}

func (m *Manager) initLocked(ctx context.Context, cfg Config) error {
	id := cfg.InstanceID
	m.teardownEntry(ctx, id)

	m.mu.Lock()
	m.genSeq++
	gen := m.genSeq
	m.mu.Unlock()

	conn, err := m.dialer.Dial(ctx, netclient.DialOptions{
		InstanceID: id,
		SessionDir: m.sessionDir(id),
		Handlers: netclient.Handlers{
			OnQR:            func(code string) { m.applyEvent(id, gen, EventQR{Code: code}) },
			OnAuthenticated: func() { m.applyEvent(id, gen, EventAuthenticated{}) },
			OnAuthFailure:   func(reason string) { m.applyEvent(id, gen, EventAuthFailure{Reason: reason}) },
			OnReady:         func() { m.applyEvent(id, gen, EventReady{}) },
			OnDisconnected:  func(reason string) { m.applyEvent(id, gen, EventDisconnected{Reason: reason}) },
			OnMessage:       func(msg netclient.Message) { m.enqueueInbound(id, gen, msg) },
		},
	})
	if err != nil {
		return fmt.Errorf("init instance %s: %w", id, err)
	}

	jobsCtx, cancelJobs := context.WithCancel(m.runCtx)
	e := &entry{
		gen:        gen,
		conn:       conn,
		state:      StateInitializing,
		jobs:       make(chan netclient.Message, m.queueSize),
		cancelJobs: cancelJobs,
	}
	m.mu.Lock()
	m.entries[id] = e
	m.mu.Unlock()

	worker.Start(worker.StartOptions[netclient.Message]{
		Ctx:    jobsCtx,
		Sem:    m.sem,
		Jobs:   e.jobs,
		Handle: func(ctx context.Context, msg netclient.Message) { m.handleInbound(ctx, id, gen, msg) },
	})

	// Connection is asynchronous; failures surface as a disconnect event so
	// the usual reconnect path applies.
	go func() {
		connectCtx, cancel := context.WithTimeout(m.runCtx, connectTimeout)
		defer cancel()
		if err := conn.Connect(connectCtx); err != nil {
			m.logger.Warn("instance_connect_error", "instance_id", id, "error", err.Error())
			m.applyEvent(id, gen, EventDisconnected{Reason: err.Error()})
		}
	}()

	m.logger.Info("instance_initializing", "instance_id", id)
	return nil
}

func (m *Manager) applyEvent(instanceID string, gen uint64, ev Event) {
	m.mu.Lock()
	e := m.entries[instanceID]
	if e == nil || e.gen != gen {
		m.mu.Unlock()
		return
	}
	next, effects := Transition(e.state, ev)
	prev := e.state
	e.state = next
	conn := e.conn
	m.mu.Unlock()

	if prev != next {
		m.logger.Info("instance_state_changed", "instance_id", instanceID, "from", string(prev), "to", string(next))
	}

	for _, effect := range effects {
		switch effect {
		case EffectPersistPairingCode:
			qr, ok := ev.(EventQR)
			if !ok {
				continue
			}
			if err := fsstore.WriteTextAtomic(m.pairingCodePath(instanceID), qr.Code, fsstore.FileOptions{}); err != nil {
				m.logger.Warn("pairing_code_write_error", "instance_id", instanceID, "error", err.Error())
			}
		case EffectDeletePairingCode:
			if err := fsstore.Remove(m.pairingCodePath(instanceID)); err != nil {
				m.logger.Warn("pairing_code_delete_error", "instance_id", instanceID, "error", err.Error())
			}
		case EffectPersistStatus:
			m.persistStatus(instanceID, next)
		case EffectScheduleReconnect:
			cancel := retryutil.AsyncRetry(m.logger, "instance_connect", m.reconnectDelay, connectTimeout, func(ctx context.Context) error {
				m.markInitializing(instanceID, gen)
				if err := conn.Connect(ctx); err != nil {
					// Feed the failure back through the event loop so the
					// disconnect -> reconnect cycle keeps going.
					m.applyEvent(instanceID, gen, EventDisconnected{Reason: err.Error()})
					return err
				}
				return nil
			})
			m.mu.Lock()
			if cur := m.entries[instanceID]; cur != nil && cur.gen == gen {
				cur.cancelReconnect = cancel
			} else {
				cancel()
			}
			m.mu.Unlock()
		}
	}
}

func (m *Manager) markInitializing(instanceID string, gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.entries[instanceID]; e != nil && e.gen == gen && e.state == StateDisconnected {
		e.state = StateInitializing
	}
}

func (m *Manager) persistStatus(instanceID string, status State) {
	cfg, found, err := m.store.Load(instanceID)
	if err != nil || !found {
		if err != nil {
			m.logger.Warn("status_persist_load_error", "instance_id", instanceID, "error", err.Error())
		}
		return
	}
	cfg.Status = status
	if err := m.store.Save(cfg); err != nil {
		m.logger.Warn("status_persist_save_error", "instance_id", instanceID, "error", err.Error())
	}
}

func (m *Manager) enqueueInbound(instanceID string, gen uint64, msg netclient.Message) {
	m.mu.Lock()
	e := m.entries[instanceID]
	if e == nil || e.gen != gen {
		m.mu.Unlock()
		return
	}
	jobs := e.jobs
	m.mu.Unlock()
	if !worker.TryEnqueue(m.runCtx, jobs, msg) {
		m.logger.Warn("inbound_queue_full", "instance_id", instanceID, "from", msg.From)
	}
}

func (m *Manager) handleInbound(ctx context.Context, instanceID string, gen uint64, msg netclient.Message) {
	handler := m.inbound
	if handler == nil {
		return
	}
	cfg, found, err := m.store.Load(instanceID)
	if err != nil || !found {
		if err != nil {
			m.logger.Warn("inbound_config_load_error", "instance_id", instanceID, "error", err.Error())
		}
		return
	}
	m.mu.Lock()
	e := m.entries[instanceID]
	if e == nil || e.gen != gen {
		m.mu.Unlock()
		return
	}
	conn := e.conn
	m.mu.Unlock()
	handler(ctx, cfg, conn, msg)
}

// Destroy tears down the runtime connection (best effort) and persists
// status DESTROYED unconditionally.
func (m *Manager) Destroy(ctx context.Context, instanceID string) error {
	lock := m.lockFor(instanceID)
	lock.Lock()
	defer lock.Unlock()

	m.teardownEntry(ctx, instanceID)
	m.persistStatus(instanceID, StateDestroyed)
	m.logger.Info("instance_destroyed", "instance_id", instanceID)
	return nil
}

func (m *Manager) teardownEntry(ctx context.Context, instanceID string) {
	m.mu.Lock()
	e := m.entries[instanceID]
	delete(m.entries, instanceID)
	m.mu.Unlock()
	if e == nil {
		return
	}
	if e.cancelReconnect != nil {
		e.cancelReconnect()
	}
	e.cancelJobs()
	if err := e.conn.Close(ctx); err != nil {
		m.logger.Warn("instance_close_error", "instance_id", instanceID, "error", err.Error())
	}
}

// Restart tears the connection down and initializes again with the current
// persisted config.
func (m *Manager) Restart(ctx context.Context, instanceID string) error {
	lock := m.lockFor(instanceID)
	lock.Lock()
	defer lock.Unlock()
	cfg, found, err := m.store.Load(instanceID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrNotFound, instanceID)
	}
	m.teardownEntry(ctx, instanceID)
	return m.initLocked(ctx, cfg)
}

// UpdateConfig applies an update to a persisted instance. InstanceID and
// Created are immutable; a changed remoteWorkflowConfig restarts the
// connection.
func (m *Manager) UpdateConfig(ctx context.Context, instanceID string, incoming Config) (Config, error) {
	lock := m.lockFor(instanceID)
	lock.Lock()
	defer lock.Unlock()

	existing, found, err := m.store.Load(instanceID)
	if err != nil {
		return Config{}, err
	}
	if !found {
		return Config{}, fmt.Errorf("%w: %s", ErrNotFound, instanceID)
	}

	incoming.InstanceID = existing.InstanceID
	incoming.Created = existing.Created
	incoming.Status = existing.Status
	incoming.Normalize()
	if err := incoming.Validate(); err != nil {
		return Config{}, err
	}
	workflowChanged := incoming.Workflow != existing.Workflow
	if err := m.store.Save(incoming); err != nil {
		return Config{}, err
	}
	if workflowChanged {
		m.teardownEntry(ctx, instanceID)
		if err := m.initLocked(ctx, incoming); err != nil {
			return Config{}, err
		}
	}
	return incoming, nil
}

// Delete removes the instance entirely: runtime connection, persisted
// config, and session artifacts.
func (m *Manager) Delete(ctx context.Context, instanceID string) error {
	if _, found, err := m.store.Load(instanceID); err != nil {
		return err
	} else if !found {
		return fmt.Errorf("%w: %s", ErrNotFound, instanceID)
	}
	if err := m.Destroy(ctx, instanceID); err != nil {
		return err
	}
	lock := m.lockFor(instanceID)
	lock.Lock()
	defer lock.Unlock()
	if err := m.store.Delete(instanceID); err != nil {
		return err
	}
	if err := os.RemoveAll(m.sessionDir(instanceID)); err != nil {
		m.logger.Warn("session_dir_remove_error", "instance_id", instanceID, "error", err.Error())
	}
	return nil
}

// Config loads the persisted config for an instance.
func (m *Manager) Config(instanceID string) (Config, error) {
	cfg, found, err := m.store.Load(instanceID)
	if err != nil {
		return Config{}, err
	}
	if !found {
		return Config{}, fmt.Errorf("%w: %s", ErrNotFound, instanceID)
	}
	return cfg, nil
}

// Configs lists every persisted config.
func (m *Manager) Configs() []Config {
	cfgs, errs := m.store.List()
	for _, err := range errs {
		m.logger.Warn("config_list_error", "error", err.Error())
	}
	return cfgs
}

func (m *Manager) IsInitialized(instanceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[instanceID] != nil
}

// GetState reports the lifecycle state, NOT_INITIALIZED when no runtime
// entry exists.
func (m *Manager) GetState(instanceID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.entries[instanceID]; e != nil {
		return e.state
	}
	return StateNotInitialized
}

// ListActive snapshots the ids with a live runtime entry.
func (m *Manager) ListActive() []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Conn returns the live connection handle for an instance.
func (m *Manager) Conn(instanceID string) (netclient.Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.entries[instanceID]; e != nil {
		return e.conn, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotInitialized, instanceID)
}

// PairingCode returns the persisted one-time pairing code, if any.
func (m *Manager) PairingCode(instanceID string) (string, bool, error) {
	return fsstore.ReadText(m.pairingCodePath(instanceID))
}

func (m *Manager) sessionDir(instanceID string) string {
	stem, err := fsstore.SanitizeKey(instanceID)
	if err != nil {
		stem = "_"
	}
	return filepath.Join(m.sessionsDir, stem)
}

func (m *Manager) pairingCodePath(instanceID string) string {
	return filepath.Join(m.sessionDir(instanceID), pairingCodeFilename)
}

// Shutdown cancels pending reconnect timers and closes every connection.
// Persisted statuses are left as-is so instances resume after a restart of
// the process.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.teardownEntry(ctx, id)
	}
	m.stopRun()
}

// InitAll initializes every persisted instance that is not destroyed; used
// at process start to resume sessions.
func (m *Manager) InitAll(ctx context.Context) {
	for _, cfg := range m.Configs() {
		if cfg.Status == StateDestroyed {
			continue
		}
		if err := m.Init(ctx, cfg.InstanceID); err != nil {
			m.logger.Warn("instance_init_error", "instance_id", cfg.InstanceID, "error", err.Error())
		}
	}
}
