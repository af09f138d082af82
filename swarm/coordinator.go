package swarm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/hupe1980/swarmmesh/core"
	"github.com/hupe1980/swarmmesh/eventbus"
	"github.com/hupe1980/swarmmesh/logging"
)

var (
	// ErrUnknownSwarm is returned when an operation references a swarm the
	// state store has no record of.
	ErrUnknownSwarm = errors.New("unknown swarm")
	// ErrInvalidTransition is returned for lifecycle operations that are not
	// legal from the swarm's current state (pausing an inactive swarm,
	// resuming a non-suspended one, terminating twice).
	ErrInvalidTransition = errors.New("invalid swarm lifecycle transition")
	// ErrMissingCollaborator is returned by New when a required collaborator
	// is absent.
	ErrMissingCollaborator = errors.New("missing required collaborator")
)

// Event names carried in the "event" field of published swarm events.
const (
	EventSwarmCreated    = "SWARM_CREATED"
	EventStateChanged    = "STATE_CHANGED"
	EventSwarmTerminated = "SWARM_TERMINATED"
)

// Collaborators bundles the external services a Coordinator requires. Making
// them an explicit set (rather than optional fields) turns "this coordinator
// has no team manager" into a construction-time error instead of a runtime
// surprise. StateStore may be nil; it defaults to the in-memory store.
type Collaborators struct {
	StateStore StateStore
	Team       TeamManager
	Resources  ResourceManager
	Strategy   StrategyAnalyzer
	Monitor    MetacognitiveMonitor
}

// Options holds dependency overrides passed to New().
type Options struct {
	// Clock drives the lifecycle tickers. Tests substitute a mock clock.
	Clock clock.Clock
	// Logger provides structured logging. Defaults to NoOp.
	Logger logging.Logger
	// ApplyAdaptation is the hook invoked for strategy adaptations. The
	// descriptor is opaque; its effect is swarm-specific and externally
	// defined. Optional.
	ApplyAdaptation AdaptationFunc
}

// Coordinator supervises active swarms. All mutable state (the swarm context
// cache and its tickers) is owned by the instance and guarded by one mutex;
// construct one per process or per test. Public methods are safe for
// concurrent use.
type Coordinator struct {
	bus             *eventbus.Bus
	store           StateStore
	team            TeamManager
	resources       ResourceManager
	strategy        StrategyAnalyzer
	monitor         MetacognitiveMonitor
	clock           clock.Clock
	logger          logging.Logger
	applyAdaptation AdaptationFunc

	mu     sync.Mutex
	swarms map[string]*activeSwarm
}

// activeSwarm pairs a live swarm context with its lifecycle ticker. The entry
// exists in the coordinator's table exactly while the ticker runs.
type activeSwarm struct {
	context *Context
	config  Config
	ticker  *clock.Ticker
	stop    chan struct{}
}

// New constructs a Coordinator. The bus and all collaborators except the
// state store are required.
func New(bus *eventbus.Bus, collab Collaborators, optFns ...func(o *Options)) (*Coordinator, error) {
	if bus == nil {
		return nil, fmt.Errorf("event bus: %w", ErrMissingCollaborator)
	}
	if collab.Team == nil {
		return nil, fmt.Errorf("team manager: %w", ErrMissingCollaborator)
	}
	if collab.Resources == nil {
		return nil, fmt.Errorf("resource manager: %w", ErrMissingCollaborator)
	}
	if collab.Strategy == nil {
		return nil, fmt.Errorf("strategy analyzer: %w", ErrMissingCollaborator)
	}
	if collab.Monitor == nil {
		return nil, fmt.Errorf("metacognitive monitor: %w", ErrMissingCollaborator)
	}

	opts := Options{
		Clock:  clock.New(),
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	store := collab.StateStore
	if store == nil {
		store = NewInMemoryStateStore()
	}

	return &Coordinator{
		bus:             bus,
		store:           store,
		team:            collab.Team,
		resources:       collab.Resources,
		strategy:        collab.Strategy,
		monitor:         collab.Monitor,
		clock:           opts.Clock,
		logger:          opts.Logger,
		applyAdaptation: opts.ApplyAdaptation,
		swarms:          make(map[string]*activeSwarm),
	}, nil
}

// CreateParams configures a new swarm.
type CreateParams struct {
	Name string
	Goal string
	// InitialTeam, when set, forms a team before the lifecycle starts.
	InitialTeam *TeamFormation
}

// CreateSwarm allocates an id, persists the initial record, caches the
// in-memory context, optionally forms a team, emits SWARM_CREATED and starts
// the lifecycle (PLANNING transition + adaptation-interval loop). Config
// overrides are applied on top of DefaultConfig.
func (c *Coordinator) CreateSwarm(ctx context.Context, params CreateParams, cfgFns ...func(cfg *Config)) (string, error) {
	id := core.NewID()
	cfg := DefaultConfig()
	for _, fn := range cfgFns {
		fn(&cfg)
	}
	now := time.Now().UTC()

	rec := Record{
		ID:      id,
		Name:    params.Name,
		Goal:    params.Goal,
		State:   StateForming,
		Config:  cfg,
		Created: now,
		Updated: now,
	}
	if err := c.store.CreateSwarm(ctx, id, rec); err != nil {
		return "", fmt.Errorf("failed to persist swarm: %w", err)
	}

	if params.InitialTeam != nil {
		if err := c.team.FormTeam(ctx, id, *params.InitialTeam); err != nil {
			return "", fmt.Errorf("failed to form initial team: %w", err)
		}
	}

	c.publishSwarmEvent(ctx, EventSwarmCreated, id, StateForming, map[string]any{"name": params.Name, "goal": params.Goal})

	if err := c.transition(ctx, id, StatePlanning); err != nil {
		return "", err
	}

	sctx := &Context{
		SwarmID:   id,
		Goal:      params.Goal,
		Knowledge: Knowledge{Facts: map[string]any{}},
	}
	c.startLoop(id, sctx, cfg)

	c.logger.Info("swarm created id=%s name=%q goal=%q interval=%s", id, params.Name, params.Goal, cfg.AdaptationInterval)
	return id, nil
}

// PauseSwarm stops the lifecycle ticker, drops the in-memory context and
// transitions the persisted record to SUSPENDED. Pausing a swarm without an
// active loop is an invalid transition.
func (c *Coordinator) PauseSwarm(ctx context.Context, id string) error {
	if !c.stopLoop(id) {
		return fmt.Errorf("pause swarm %s: not active: %w", id, ErrInvalidTransition)
	}
	return c.transition(ctx, id, StateSuspended)
}

// ResumeSwarm transitions a suspended swarm back to EXECUTING and restarts
// its lifecycle loop. Resuming a swarm that is not suspended (never started,
// active, or terminated) is an invalid transition.
func (c *Coordinator) ResumeSwarm(ctx context.Context, id string) error {
	c.mu.Lock()
	_, active := c.swarms[id]
	c.mu.Unlock()
	if active {
		return fmt.Errorf("resume swarm %s: already active: %w", id, ErrInvalidTransition)
	}

	rec, err := c.store.GetSwarm(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load swarm %s: %w", id, err)
	}
	if rec == nil {
		return fmt.Errorf("resume swarm %s: %w", id, ErrUnknownSwarm)
	}
	if rec.State != StateSuspended {
		return fmt.Errorf("resume swarm %s from state %s: %w", id, rec.State, ErrInvalidTransition)
	}

	if err := c.transition(ctx, id, StateExecuting); err != nil {
		return err
	}

	sctx := &Context{
		SwarmID:   id,
		Goal:      rec.Goal,
		Knowledge: Knowledge{Facts: map[string]any{}},
	}
	c.startLoop(id, sctx, rec.Config)
	return nil
}

// TerminateSwarm transitions the swarm to COMPLETED, stops its lifecycle
// loop, evicts the context and emits SWARM_TERMINATED. Terminating an already
// completed swarm is an invalid transition.
func (c *Coordinator) TerminateSwarm(ctx context.Context, id string) error {
	rec, err := c.store.GetSwarm(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load swarm %s: %w", id, err)
	}
	if rec == nil {
		return fmt.Errorf("terminate swarm %s: %w", id, ErrUnknownSwarm)
	}
	if rec.State == StateCompleted {
		return fmt.Errorf("terminate swarm %s: already completed: %w", id, ErrInvalidTransition)
	}

	c.stopLoop(id)

	if err := c.transition(ctx, id, StateCompleted); err != nil {
		return err
	}
	c.publishSwarmEvent(ctx, EventSwarmTerminated, id, StateCompleted, nil)
	c.logger.Info("swarm terminated id=%s", id)
	return nil
}

// Swarms returns the ids of all swarms with an active lifecycle loop.
func (c *Coordinator) Swarms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.swarms))
	for id := range c.swarms {
		ids = append(ids, id)
	}
	return ids
}

// SwarmContext returns a snapshot of the live in-memory context for an active
// swarm. The second return value is false when the swarm has no active loop.
func (c *Coordinator) SwarmContext(id string) (Context, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sw, ok := c.swarms[id]
	if !ok {
		return Context{}, false
	}
	return snapshotContext(sw.context), true
}

// startLoop registers the swarm context together with its ticker so the
// cache-iff-timer invariant holds from the first instant.
func (c *Coordinator) startLoop(id string, sctx *Context, cfg Config) {
	c.mu.Lock()
	sw := &activeSwarm{
		context: sctx,
		config:  cfg,
		ticker:  c.clock.Ticker(cfg.AdaptationInterval),
		stop:    make(chan struct{}),
	}
	c.swarms[id] = sw
	c.mu.Unlock()

	go c.runLifecycle(id, sw)
}

// stopLoop atomically stops the ticker and drops the context. Reports whether
// a loop was active.
func (c *Coordinator) stopLoop(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	sw, ok := c.swarms[id]
	if !ok {
		return false
	}
	sw.ticker.Stop()
	close(sw.stop)
	delete(c.swarms, id)
	return true
}

// runLifecycle runs one OODA cycle per tick. Completion is checked against
// the persisted record, not the cache, to catch externally-driven completion;
// a failed cycle ends early but the next tick still fires.
func (c *Coordinator) runLifecycle(id string, sw *activeSwarm) {
	logger := c.logger
	if sl, ok := logger.(*logging.SwarmLogger); ok {
		logger = sl.WithSwarm(id, "")
	}

	for {
		select {
		case <-sw.stop:
			return
		case <-sw.ticker.C:
			rec, err := c.store.GetSwarm(context.Background(), id)
			if err != nil {
				logger.Warn("lifecycle state check failed swarm_id=%s: %v", id, err)
				continue
			}
			if rec == nil || rec.State == StateCompleted {
				c.stopLoop(id)
				logger.Info("lifecycle self-terminated swarm_id=%s", id)
				return
			}
			if err := c.runCycle(context.Background(), id); err != nil {
				logger.Error("OODA cycle failed swarm_id=%s: %v", id, err)
			}
		}
	}
}

// transition updates the persisted state and publishes STATE_CHANGED.
func (c *Coordinator) transition(ctx context.Context, id string, newState State) error {
	if err := c.store.UpdateSwarmState(ctx, id, newState); err != nil {
		return fmt.Errorf("failed to update swarm %s state: %w", id, err)
	}
	c.publishSwarmEvent(ctx, EventStateChanged, id, newState, nil)
	return nil
}

func (c *Coordinator) publishSwarmEvent(ctx context.Context, name, swarmID string, state State, extra map[string]any) {
	data := map[string]any{
		"event":   name,
		"swarmId": swarmID,
		"state":   string(state),
	}
	for k, v := range extra {
		data[k] = v
	}
	if err := c.bus.Publish(ctx, eventbus.NewEvent("swarm/events", data)); err != nil {
		c.logger.Warn("swarm event publish failed event=%s swarm_id=%s: %v", name, swarmID, err)
	}
}

func snapshotContext(sctx *Context) Context {
	snap := *sctx
	snap.Knowledge.Facts = make(map[string]any, len(sctx.Knowledge.Facts))
	for k, v := range sctx.Knowledge.Facts {
		snap.Knowledge.Facts[k] = v
	}
	snap.Knowledge.Insights = append([]string(nil), sctx.Knowledge.Insights...)
	snap.Knowledge.Decisions = append([]*Decision(nil), sctx.Knowledge.Decisions...)
	snap.Progress.Milestones = append([]string(nil), sctx.Progress.Milestones...)
	return snap
}
