package swarm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/swarmmesh/core"
	"github.com/hupe1980/swarmmesh/eventbus"
)

// stubTeam is a TeamManager recording formations and scoring consensus from a
// fixed table (unknown descriptions score 1.0).
type stubTeam struct {
	mu        sync.Mutex
	agents    []core.BotParticipant
	formed    []TeamFormation
	consensus map[string]float64
}

var _ TeamManager = (*stubTeam)(nil)

func (s *stubTeam) GetTeam(_ context.Context, _ string) (Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Team{Agents: s.agents}, nil
}

func (s *stubTeam) FormTeam(_ context.Context, _ string, formation TeamFormation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.formed = append(s.formed, formation)
	return nil
}

func (s *stubTeam) GetConsensus(_ context.Context, _ string, descriptions []string) (ConsensusOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	results := make([]ConsensusResult, 0, len(descriptions))
	for _, d := range descriptions {
		score, ok := s.consensus[d]
		if !ok {
			score = 1.0
		}
		results = append(results, ConsensusResult{Description: d, Score: score})
	}
	return ConsensusOutcome{Results: results}, nil
}

func (s *stubTeam) formations() []TeamFormation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TeamFormation(nil), s.formed...)
}

type allocation struct {
	category string
	amount   int64
}

type stubResources struct {
	mu     sync.Mutex
	status ResourceStatus
	allocs []allocation
}

var _ ResourceManager = (*stubResources)(nil)

func (s *stubResources) GetResourceStatus(_ context.Context, _ string) (ResourceStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, nil
}

func (s *stubResources) AllocateResources(_ context.Context, _ string, category string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allocs = append(s.allocs, allocation{category: category, amount: amount})
	return nil
}

func (s *stubResources) allocations() []allocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]allocation(nil), s.allocs...)
}

type stubStrategy struct {
	mu        sync.Mutex
	analysis  SituationAnalysis
	decisions []*Decision
}

var _ StrategyAnalyzer = (*stubStrategy)(nil)

func (s *stubStrategy) AnalyzeSituation(_ context.Context, _ SituationInput) (SituationAnalysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.analysis, nil
}

func (s *stubStrategy) GenerateDecisions(_ context.Context, _ DecisionInput) ([]*Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	decisions := s.decisions
	s.decisions = nil // One batch only; later cycles decide nothing.
	return decisions, nil
}

type stubMonitor struct {
	reflection Reflection
}

var _ MetacognitiveMonitor = (*stubMonitor)(nil)

func (s *stubMonitor) AnalyzePerformance(_ context.Context, _ ReflectionInput) (Reflection, error) {
	return s.reflection, nil
}

type swarmEvent struct {
	name  string
	state string
}

func collectSwarmEvents(bus *eventbus.Bus) (func() []swarmEvent, func()) {
	var mu sync.Mutex
	var events []swarmEvent
	id := bus.Subscribe([]string{"swarm/events"}, func(_ context.Context, ev eventbus.Event) error {
		mu.Lock()
		defer mu.Unlock()
		name, _ := ev.Data["event"].(string)
		state, _ := ev.Data["state"].(string)
		events = append(events, swarmEvent{name: name, state: state})
		return nil
	}, eventbus.SubscribeOptions{})

	snapshot := func() []swarmEvent {
		mu.Lock()
		defer mu.Unlock()
		return append([]swarmEvent(nil), events...)
	}
	return snapshot, func() { bus.Unsubscribe(id) }
}

func testCollaborators() (Collaborators, *stubTeam, *stubResources, *stubStrategy, *InMemoryStateStore) {
	team := &stubTeam{consensus: map[string]float64{}}
	resources := &stubResources{status: ResourceStatus{TotalBudget: 1000, UsedBudget: 100}}
	strategy := &stubStrategy{}
	store := NewInMemoryStateStore()
	collab := Collaborators{
		StateStore: store,
		Team:       team,
		Resources:  resources,
		Strategy:   strategy,
		Monitor:    &stubMonitor{},
	}
	return collab, team, resources, strategy, store
}

func startedBus(t *testing.T) *eventbus.Bus {
	t.Helper()
	bus := eventbus.New()
	bus.Start()
	t.Cleanup(bus.Stop)
	return bus
}

func TestNew_RequiresCollaborators(t *testing.T) {
	collab, _, _, _, _ := testCollaborators()

	_, err := New(nil, collab)
	assert.ErrorIs(t, err, ErrMissingCollaborator)

	bus := startedBus(t)
	for _, tt := range []struct {
		name   string
		mutate func(c *Collaborators)
	}{
		{"team manager", func(c *Collaborators) { c.Team = nil }},
		{"resource manager", func(c *Collaborators) { c.Resources = nil }},
		{"strategy analyzer", func(c *Collaborators) { c.Strategy = nil }},
		{"metacognitive monitor", func(c *Collaborators) { c.Monitor = nil }},
	} {
		t.Run(tt.name, func(t *testing.T) {
			broken := collab
			tt.mutate(&broken)
			_, err := New(bus, broken)
			require.ErrorIs(t, err, ErrMissingCollaborator)
			assert.Contains(t, err.Error(), tt.name)
		})
	}
}

func TestNew_StateStoreDefaultsToInMemory(t *testing.T) {
	collab, _, _, _, _ := testCollaborators()
	collab.StateStore = nil

	c, err := New(startedBus(t), collab)
	require.NoError(t, err)
	assert.NotNil(t, c.store)
}

func TestCoordinator_CreateSwarm(t *testing.T) {
	bus := startedBus(t)
	events, _ := collectSwarmEvents(bus)
	collab, team, _, _, store := testCollaborators()

	c, err := New(bus, collab)
	require.NoError(t, err)

	id, err := c.CreateSwarm(context.Background(), CreateParams{
		Name:        "alpha",
		Goal:        "ship the release",
		InitialTeam: &TeamFormation{Roles: []string{"researcher", "critic"}, Size: 2},
	}, func(cfg *Config) {
		cfg.ConsensusThreshold = 0.9
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	// Persisted record reflects the lifecycle start and the config override.
	rec, err := store.GetSwarm(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StatePlanning, rec.State)
	assert.Equal(t, 0.9, rec.Config.ConsensusThreshold)
	assert.Equal(t, 10, rec.Config.MaxAgents)

	// The initial team was formed before the loop started.
	require.Len(t, team.formations(), 1)
	assert.Equal(t, 2, team.formations()[0].Size)

	// The lifecycle loop is registered.
	assert.Contains(t, c.Swarms(), id)
	sctx, ok := c.SwarmContext(id)
	require.True(t, ok)
	assert.Equal(t, "ship the release", sctx.Goal)

	require.Eventually(t, func() bool {
		names := map[string]bool{}
		for _, ev := range events() {
			names[ev.name] = true
		}
		return names[EventSwarmCreated] && names[EventStateChanged]
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCoordinator_PauseAndResume(t *testing.T) {
	bus := startedBus(t)
	collab, _, _, _, store := testCollaborators()

	c, err := New(bus, collab)
	require.NoError(t, err)

	id, err := c.CreateSwarm(context.Background(), CreateParams{Name: "alpha", Goal: "g"})
	require.NoError(t, err)

	require.NoError(t, c.PauseSwarm(context.Background(), id))
	assert.Empty(t, c.Swarms())
	_, ok := c.SwarmContext(id)
	assert.False(t, ok)

	rec, err := store.GetSwarm(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StateSuspended, rec.State)

	// Pausing again is an invalid transition.
	assert.ErrorIs(t, c.PauseSwarm(context.Background(), id), ErrInvalidTransition)

	require.NoError(t, c.ResumeSwarm(context.Background(), id))
	assert.Contains(t, c.Swarms(), id)

	rec, err = store.GetSwarm(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StateExecuting, rec.State)

	// Resuming an active swarm is an invalid transition.
	assert.ErrorIs(t, c.ResumeSwarm(context.Background(), id), ErrInvalidTransition)
}

func TestCoordinator_ResumeUnknownSwarm(t *testing.T) {
	collab, _, _, _, _ := testCollaborators()
	c, err := New(startedBus(t), collab)
	require.NoError(t, err)

	assert.ErrorIs(t, c.ResumeSwarm(context.Background(), "no-such-swarm"), ErrUnknownSwarm)
}

func TestCoordinator_Terminate(t *testing.T) {
	bus := startedBus(t)
	events, _ := collectSwarmEvents(bus)
	collab, _, _, _, store := testCollaborators()

	c, err := New(bus, collab)
	require.NoError(t, err)

	id, err := c.CreateSwarm(context.Background(), CreateParams{Name: "alpha", Goal: "g"})
	require.NoError(t, err)

	require.NoError(t, c.TerminateSwarm(context.Background(), id))
	assert.Empty(t, c.Swarms())

	rec, err := store.GetSwarm(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, rec.State)

	// Terminating a completed swarm is an invalid transition; an unknown one
	// is a different error.
	assert.ErrorIs(t, c.TerminateSwarm(context.Background(), id), ErrInvalidTransition)
	assert.ErrorIs(t, c.TerminateSwarm(context.Background(), "no-such-swarm"), ErrUnknownSwarm)

	require.Eventually(t, func() bool {
		for _, ev := range events() {
			if ev.name == EventSwarmTerminated && ev.state == string(StateCompleted) {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCoordinator_OODACycle(t *testing.T) {
	bus := startedBus(t)
	mock := clock.NewMock()
	collab, team, resources, strategy, _ := testCollaborators()

	team.agents = []core.BotParticipant{{ID: "bot-1", Role: "worker"}}
	strategy.analysis = SituationAnalysis{
		Facts:    map[string]any{"phase": "ramp-up"},
		Insights: []string{"budget is healthy"},
	}
	strategy.decisions = []*Decision{
		{
			Kind:        DecisionAllocateResources,
			Description: "allocate compute",
			Allocation:  &ResourceAllocation{Category: "compute", Amount: 250},
		},
		{
			Kind:        DecisionEmitEvent,
			Description: "announce progress",
			Event:       &EventEmission{EventType: "swarm/progress"},
		},
	}
	team.consensus = map[string]float64{
		"allocate compute":  0.95,
		"announce progress": 0.2, // Below the 0.7 default threshold.
	}
	collab.Monitor = &stubMonitor{reflection: Reflection{Learnings: []string{"allocate earlier next time"}}}

	c, err := New(bus, collab, func(o *Options) {
		o.Clock = mock
	})
	require.NoError(t, err)

	id, err := c.CreateSwarm(context.Background(), CreateParams{Name: "alpha", Goal: "g"})
	require.NoError(t, err)

	mock.Add(DefaultConfig().AdaptationInterval)

	// The reflect learning lands last; once it is visible the whole cycle ran.
	require.Eventually(t, func() bool {
		sctx, ok := c.SwarmContext(id)
		if !ok {
			return false
		}
		for _, insight := range sctx.Knowledge.Insights {
			if insight == "allocate earlier next time" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	sctx, ok := c.SwarmContext(id)
	require.True(t, ok)

	// Orient merged facts and insights; reflect appended its learning.
	assert.Equal(t, "ramp-up", sctx.Knowledge.Facts["phase"])
	assert.Contains(t, sctx.Knowledge.Insights, "budget is healthy")
	assert.Contains(t, sctx.Knowledge.Insights, "allocate earlier next time")

	// Only the decision above the consensus threshold was executed.
	require.Len(t, resources.allocations(), 1)
	assert.Equal(t, allocation{category: "compute", amount: 250}, resources.allocations()[0])

	byDescription := map[string]*Decision{}
	for _, d := range sctx.Knowledge.Decisions {
		byDescription[d.Description] = d
	}
	approved := byDescription["allocate compute"]
	require.NotNil(t, approved)
	assert.Equal(t, "executed", approved.Outcome)
	assert.Equal(t, 0.95, approved.Consensus)
	assert.NotEmpty(t, approved.ID)

	dropped := byDescription["announce progress"]
	require.NotNil(t, dropped)
	assert.Empty(t, dropped.Outcome)
}

func TestCoordinator_AdaptStrategyDecisionUsesHook(t *testing.T) {
	bus := startedBus(t)
	mock := clock.NewMock()
	collab, _, _, strategy, _ := testCollaborators()

	strategy.decisions = []*Decision{{
		Kind:        DecisionAdaptStrategy,
		Description: "tighten review loop",
		Adaptation:  &StrategyAdaptation{Descriptor: map[string]any{"review_every": 2}},
	}}

	var mu sync.Mutex
	var applied []map[string]any
	c, err := New(bus, collab, func(o *Options) {
		o.Clock = mock
		o.ApplyAdaptation = func(_ context.Context, _ string, adaptation map[string]any) error {
			mu.Lock()
			defer mu.Unlock()
			applied = append(applied, adaptation)
			return nil
		}
	})
	require.NoError(t, err)

	_, err = c.CreateSwarm(context.Background(), CreateParams{Name: "alpha", Goal: "g"})
	require.NoError(t, err)

	mock.Add(DefaultConfig().AdaptationInterval)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(applied) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, applied[0]["review_every"])
}

func TestCoordinator_LifecycleSelfTerminatesOnCompletedRecord(t *testing.T) {
	bus := startedBus(t)
	mock := clock.NewMock()
	collab, _, _, _, store := testCollaborators()

	c, err := New(bus, collab, func(o *Options) {
		o.Clock = mock
	})
	require.NoError(t, err)

	id, err := c.CreateSwarm(context.Background(), CreateParams{Name: "alpha", Goal: "g"})
	require.NoError(t, err)
	require.Contains(t, c.Swarms(), id)

	// Completion driven externally through the shared store.
	require.NoError(t, store.UpdateSwarmState(context.Background(), id, StateCompleted))

	mock.Add(DefaultConfig().AdaptationInterval)

	require.Eventually(t, func() bool {
		return len(c.Swarms()) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
