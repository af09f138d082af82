package swarm

import (
	"context"
	"time"

	"github.com/hupe1980/swarmmesh/core"
)

// State is a swarm lifecycle state.
type State string

const (
	// StateForming is the initial state while the swarm is being assembled.
	StateForming State = "FORMING"
	// StatePlanning is entered once the swarm record is persisted and the
	// lifecycle loop starts.
	StatePlanning State = "PLANNING"
	// StateExecuting is the active goal-pursuit state.
	StateExecuting State = "EXECUTING"
	// StateSuspended is entered by pausing; resume returns to EXECUTING.
	StateSuspended State = "SUSPENDED"
	// StateCompleted is terminal.
	StateCompleted State = "COMPLETED"
)

// Config tunes a swarm's behavior. Zero-valued fields fall back to defaults
// when merged in CreateSwarm.
type Config struct {
	MaxAgents            int           `json:"max_agents"`
	MinAgents            int           `json:"min_agents"`
	ConsensusThreshold   float64       `json:"consensus_threshold"`
	DecisionTimeout      time.Duration `json:"decision_timeout"`
	AdaptationInterval   time.Duration `json:"adaptation_interval"`
	ResourceOptimization bool          `json:"resource_optimization"`
	LearningEnabled      bool          `json:"learning_enabled"`
}

// DefaultConfig returns the fixed swarm defaults.
func DefaultConfig() Config {
	return Config{
		MaxAgents:            10,
		MinAgents:            1,
		ConsensusThreshold:   0.7,
		DecisionTimeout:      30 * time.Second,
		AdaptationInterval:   60 * time.Second,
		ResourceOptimization: true,
		LearningEnabled:      true,
	}
}

// Record is the persisted swarm state held by the external StateStore,
// decoupled from the coordinator's in-memory context cache.
type Record struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Goal    string    `json:"goal"`
	State   State     `json:"state"`
	Config  Config    `json:"config"`
	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`
}

// Progress tracks goal advancement across cycles.
type Progress struct {
	TasksCompleted int      `json:"tasks_completed"`
	TasksTotal     int      `json:"tasks_total"`
	Milestones     []string `json:"milestones,omitempty"`
	CurrentPhase   string   `json:"current_phase,omitempty"`
}

// Knowledge accumulates what the swarm has learned. Facts merge
// last-write-wins per key; insights and decisions only append.
type Knowledge struct {
	Facts     map[string]any `json:"facts"`
	Insights  []string       `json:"insights,omitempty"`
	Decisions []*Decision    `json:"decisions,omitempty"`
}

// Context is the live in-memory state of an active swarm, mutated every OODA
// cycle. It exists exactly while the swarm's lifecycle ticker is active.
type Context struct {
	SwarmID   string    `json:"swarm_id"`
	Goal      string    `json:"goal"`
	Progress  Progress  `json:"progress"`
	Knowledge Knowledge `json:"knowledge"`
}

// DecisionKind discriminates the Decision tagged union.
type DecisionKind string

const (
	// DecisionAllocateResources moves budget to a resource category.
	DecisionAllocateResources DecisionKind = "allocate_resources"
	// DecisionFormTeam requests a (re-)formation of the swarm's team.
	DecisionFormTeam DecisionKind = "form_team"
	// DecisionExecuteRoutine dispatches an execution request into the
	// conversation pipeline.
	DecisionExecuteRoutine DecisionKind = "execute_routine"
	// DecisionAdaptStrategy applies an opaque strategy adaptation.
	DecisionAdaptStrategy DecisionKind = "adapt_strategy"
	// DecisionEmitEvent publishes a generic event on the bus.
	DecisionEmitEvent DecisionKind = "emit_event"
)

// ResourceAllocation is the payload of DecisionAllocateResources.
type ResourceAllocation struct {
	Category string `json:"category"`
	Amount   int64  `json:"amount"`
}

// TeamFormation is the payload of DecisionFormTeam.
type TeamFormation struct {
	Roles []string `json:"roles,omitempty"`
	Size  int      `json:"size,omitempty"`
}

// RoutineExecution is the payload of DecisionExecuteRoutine.
type RoutineExecution struct {
	RoutineID string         `json:"routine_id"`
	Input     map[string]any `json:"input,omitempty"`
}

// StrategyAdaptation is the payload of DecisionAdaptStrategy. The descriptor
// is opaque to this core; its effect is swarm/domain-specific.
type StrategyAdaptation struct {
	Descriptor map[string]any `json:"descriptor,omitempty"`
}

// EventEmission is the payload of DecisionEmitEvent.
type EventEmission struct {
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data,omitempty"`
}

// Decision is a tagged union produced by the strategy collaborator; exactly
// the payload field matching Kind is set. Decisions are mutable log records:
// Act writes the execution outcome back onto them.
type Decision struct {
	ID          string       `json:"id"`
	Kind        DecisionKind `json:"kind"`
	Description string       `json:"description"`

	Allocation *ResourceAllocation `json:"allocation,omitempty"`
	Formation  *TeamFormation      `json:"formation,omitempty"`
	Routine    *RoutineExecution   `json:"routine,omitempty"`
	Adaptation *StrategyAdaptation `json:"adaptation,omitempty"`
	Event      *EventEmission      `json:"event,omitempty"`

	Timestamp time.Time `json:"timestamp"`
	Consensus float64   `json:"consensus,omitempty"`
	Outcome   string    `json:"outcome,omitempty"` // "executed" or "failed: <message>"
}

// AgentReport is one agent's status contribution to an observation.
type AgentReport struct {
	AgentID        string         `json:"agent_id"`
	Role           string         `json:"role,omitempty"`
	Status         string         `json:"status,omitempty"`
	TasksCompleted int            `json:"tasks_completed,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}

// ResourceStatus is the budget position of a swarm.
type ResourceStatus struct {
	TotalBudget int64            `json:"total_budget"`
	UsedBudget  int64            `json:"used_budget"`
	Allocations map[string]int64 `json:"allocations,omitempty"` // Per agent or category
}

// Observation is the immutable snapshot assembled by the Observe phase for a
// single cycle.
type Observation struct {
	SwarmID      string             `json:"swarm_id"`
	At           time.Time          `json:"at"`
	AgentReports []AgentReport      `json:"agent_reports,omitempty"`
	Resources    ResourceStatus     `json:"resources"`
	Performance  map[string]float64 `json:"performance,omitempty"`
}

// Team is the current set of agents working for a swarm.
type Team struct {
	Agents []core.BotParticipant `json:"agents"`
}

// ConsensusResult scores one decision description.
type ConsensusResult struct {
	Description string  `json:"description"`
	Score       float64 `json:"score"`
}

// ConsensusOutcome is the team's verdict over a batch of decisions.
type ConsensusOutcome struct {
	Results   []ConsensusResult `json:"results"`
	Threshold float64           `json:"threshold"`
}

// SituationInput feeds the Orient phase.
type SituationInput struct {
	Goal        string      `json:"goal"`
	Observation Observation `json:"observation"`
	Knowledge   Knowledge   `json:"knowledge"`
	Progress    Progress    `json:"progress"`
}

// SituationAnalysis is the Orient phase's output: facts merge into the
// knowledge map, insights append.
type SituationAnalysis struct {
	Facts    map[string]any `json:"facts,omitempty"`
	Insights []string       `json:"insights,omitempty"`
}

// DecisionInput constrains candidate decision generation.
type DecisionInput struct {
	Goal            string        `json:"goal"`
	Knowledge       Knowledge     `json:"knowledge"`
	RemainingBudget int64         `json:"remaining_budget"`
	TimeLimit       time.Duration `json:"time_limit"`
}

// ReflectionInput feeds the Reflect phase.
type ReflectionInput struct {
	SwarmID   string         `json:"swarm_id"`
	Decisions []*Decision    `json:"decisions,omitempty"`
	Progress  Progress       `json:"progress"`
	Resources ResourceStatus `json:"resources"`
}

// Reflection is the metacognitive monitor's output. Adaptations are opaque
// descriptors handed to the adaptation hook.
type Reflection struct {
	Learnings   []string         `json:"learnings,omitempty"`
	Adaptations []map[string]any `json:"adaptations,omitempty"`
}

// StateStore is the external persistent swarm state collaborator. A nil
// record return (without error) means the swarm is unknown.
type StateStore interface {
	CreateSwarm(ctx context.Context, id string, rec Record) error
	GetSwarm(ctx context.Context, id string) (*Record, error)
	UpdateSwarmState(ctx context.Context, id string, newState State) error
}

// TeamManager is the external team collaborator.
type TeamManager interface {
	GetTeam(ctx context.Context, swarmID string) (Team, error)
	FormTeam(ctx context.Context, swarmID string, formation TeamFormation) error
	GetConsensus(ctx context.Context, swarmID string, decisionDescriptions []string) (ConsensusOutcome, error)
}

// ResourceManager is the external budget collaborator.
type ResourceManager interface {
	GetResourceStatus(ctx context.Context, swarmID string) (ResourceStatus, error)
	AllocateResources(ctx context.Context, swarmID, category string, amount int64) error
}

// StrategyAnalyzer is the external strategy collaborator driving Orient and
// Decide.
type StrategyAnalyzer interface {
	AnalyzeSituation(ctx context.Context, input SituationInput) (SituationAnalysis, error)
	GenerateDecisions(ctx context.Context, input DecisionInput) ([]*Decision, error)
}

// MetacognitiveMonitor is the external reflection collaborator.
type MetacognitiveMonitor interface {
	AnalyzePerformance(ctx context.Context, input ReflectionInput) (Reflection, error)
}

// AdaptationFunc applies an opaque adaptation descriptor to a swarm. The
// effect is swarm/domain-specific and externally defined.
type AdaptationFunc func(ctx context.Context, swarmID string, adaptation map[string]any) error
