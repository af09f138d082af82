package swarm

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/swarmmesh/core"
	"github.com/hupe1980/swarmmesh/eventbus"
)

// decisionTimeLimit is the fixed horizon the Decide phase hands to the
// strategy collaborator.
const decisionTimeLimit = 5 * time.Minute

// runCycle executes one OODA cycle for an active swarm. Any failure,
// including a collaborator panic, ends the cycle early; the next scheduled
// tick still fires.
func (c *Coordinator) runCycle(ctx context.Context, swarmID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panicked: %v", r)
		}
	}()

	c.mu.Lock()
	sw, ok := c.swarms[swarmID]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	sctx := sw.context
	cfg := sw.config
	c.mu.Unlock()

	start := c.clock.Now()

	obs, err := c.observe(ctx, sctx)
	if err != nil {
		return fmt.Errorf("observe: %w", err)
	}
	if err := c.orient(ctx, sctx, obs); err != nil {
		return fmt.Errorf("orient: %w", err)
	}
	approved, err := c.decide(ctx, sctx, cfg, obs)
	if err != nil {
		return fmt.Errorf("decide: %w", err)
	}
	c.act(ctx, sctx, approved)
	if err := c.reflect(ctx, sctx, obs, approved); err != nil {
		return fmt.Errorf("reflect: %w", err)
	}

	c.logger.Info("OODA cycle completed swarm_id=%s decisions=%d duration=%s", swarmID, len(approved), c.clock.Since(start))
	return nil
}

// observe gathers per-agent reports, resource status and performance metrics
// into an immutable snapshot for this cycle only.
func (c *Coordinator) observe(ctx context.Context, sctx *Context) (Observation, error) {
	team, err := c.team.GetTeam(ctx, sctx.SwarmID)
	if err != nil {
		return Observation{}, fmt.Errorf("failed to get team: %w", err)
	}
	reports := make([]AgentReport, 0, len(team.Agents))
	for _, agent := range team.Agents {
		reports = append(reports, AgentReport{AgentID: agent.ID, Role: agent.Role, Status: "active"})
	}

	resources, err := c.resources.GetResourceStatus(ctx, sctx.SwarmID)
	if err != nil {
		return Observation{}, fmt.Errorf("failed to get resource status: %w", err)
	}

	performance := map[string]float64{}
	c.mu.Lock()
	if sctx.Progress.TasksTotal > 0 {
		performance["task_completion"] = float64(sctx.Progress.TasksCompleted) / float64(sctx.Progress.TasksTotal)
	}
	c.mu.Unlock()
	if resources.TotalBudget > 0 {
		performance["budget_utilization"] = float64(resources.UsedBudget) / float64(resources.TotalBudget)
	}

	return Observation{
		SwarmID:      sctx.SwarmID,
		At:           c.clock.Now(),
		AgentReports: reports,
		Resources:    resources,
		Performance:  performance,
	}, nil
}

// orient feeds the situation to the strategy collaborator and merges the
// returned facts (last-write-wins per key) and insights (append-only) into
// the swarm's knowledge.
func (c *Coordinator) orient(ctx context.Context, sctx *Context, obs Observation) error {
	c.mu.Lock()
	input := SituationInput{
		Goal:        sctx.Goal,
		Observation: obs,
		Knowledge:   snapshotContext(sctx).Knowledge,
		Progress:    sctx.Progress,
	}
	c.mu.Unlock()

	analysis, err := c.strategy.AnalyzeSituation(ctx, input)
	if err != nil {
		return fmt.Errorf("situation analysis failed: %w", err)
	}

	c.mu.Lock()
	for k, v := range analysis.Facts {
		sctx.Knowledge.Facts[k] = v
	}
	sctx.Knowledge.Insights = append(sctx.Knowledge.Insights, analysis.Insights...)
	c.mu.Unlock()
	return nil
}

// decide asks the strategy collaborator for candidate decisions constrained
// by remaining budget and the fixed time limit, logs every candidate into the
// knowledge decision log, then filters by team consensus. Decisions below the
// configured threshold are dropped, not retried this cycle.
func (c *Coordinator) decide(ctx context.Context, sctx *Context, cfg Config, obs Observation) ([]*Decision, error) {
	c.mu.Lock()
	input := DecisionInput{
		Goal:            sctx.Goal,
		Knowledge:       snapshotContext(sctx).Knowledge,
		RemainingBudget: obs.Resources.TotalBudget - obs.Resources.UsedBudget,
		TimeLimit:       decisionTimeLimit,
	}
	c.mu.Unlock()

	candidates, err := c.strategy.GenerateDecisions(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("decision generation failed: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	descriptions := make([]string, len(candidates))
	now := c.clock.Now()
	c.mu.Lock()
	for i, d := range candidates {
		if d.ID == "" {
			d.ID = core.NewID()
		}
		d.Timestamp = now
		descriptions[i] = d.Description
		sctx.Knowledge.Decisions = append(sctx.Knowledge.Decisions, d)
	}
	c.mu.Unlock()

	consensus, err := c.team.GetConsensus(ctx, sctx.SwarmID, descriptions)
	if err != nil {
		return nil, fmt.Errorf("consensus failed: %w", err)
	}

	scores := make(map[string]float64, len(consensus.Results))
	for _, r := range consensus.Results {
		scores[r.Description] = r.Score
	}

	var approved []*Decision
	for _, d := range candidates {
		score := scores[d.Description]
		d.Consensus = score
		if score >= cfg.ConsensusThreshold {
			approved = append(approved, d)
		} else {
			c.logger.Debug("decision dropped below consensus threshold swarm_id=%s decision=%q score=%.2f", sctx.SwarmID, d.Description, score)
		}
	}
	return approved, nil
}

// act executes each approved decision by kind, recording the outcome on the
// decision record itself. One decision's failure does not block the rest.
func (c *Coordinator) act(ctx context.Context, sctx *Context, approved []*Decision) {
	for _, d := range approved {
		err := c.execute(ctx, sctx.SwarmID, d)
		c.mu.Lock()
		if err != nil {
			d.Outcome = "failed: " + err.Error()
		} else {
			d.Outcome = "executed"
		}
		c.mu.Unlock()
		if err != nil {
			c.logger.Warn("decision execution failed swarm_id=%s decision=%q: %v", sctx.SwarmID, d.Description, err)
		}
	}
}

func (c *Coordinator) execute(ctx context.Context, swarmID string, d *Decision) error {
	switch d.Kind {
	case DecisionAllocateResources:
		if d.Allocation == nil {
			return fmt.Errorf("allocate_resources decision without allocation payload")
		}
		return c.resources.AllocateResources(ctx, swarmID, d.Allocation.Category, d.Allocation.Amount)
	case DecisionFormTeam:
		if d.Formation == nil {
			return fmt.Errorf("form_team decision without formation payload")
		}
		return c.team.FormTeam(ctx, swarmID, *d.Formation)
	case DecisionExecuteRoutine:
		if d.Routine == nil {
			return fmt.Errorf("execute_routine decision without routine payload")
		}
		return c.bus.Publish(ctx, eventbus.NewEvent("run/execute", map[string]any{
			"runId":   d.Routine.RoutineID,
			"swarmId": swarmID,
			"input":   d.Routine.Input,
		}))
	case DecisionAdaptStrategy:
		if d.Adaptation == nil {
			return fmt.Errorf("adapt_strategy decision without adaptation payload")
		}
		if c.applyAdaptation == nil {
			return fmt.Errorf("no adaptation applier configured")
		}
		return c.applyAdaptation(ctx, swarmID, d.Adaptation.Descriptor)
	default:
		// Unknown kinds degrade to a generic event emission.
		data := map[string]any{"swarmId": swarmID, "decision": d.Description}
		eventType := "swarm/decision"
		if d.Kind == DecisionEmitEvent {
			if d.Event == nil {
				return fmt.Errorf("emit_event decision without event payload")
			}
			eventType = d.Event.EventType
			for k, v := range d.Event.Data {
				data[k] = v
			}
		}
		return c.bus.Publish(ctx, eventbus.NewEvent(eventType, data))
	}
}

// reflect asks the metacognitive monitor to analyze the cycle, appends
// learnings to insights and applies returned adaptations through the hook.
func (c *Coordinator) reflect(ctx context.Context, sctx *Context, obs Observation, decisions []*Decision) error {
	c.mu.Lock()
	input := ReflectionInput{
		SwarmID:   sctx.SwarmID,
		Decisions: decisions,
		Progress:  sctx.Progress,
		Resources: obs.Resources,
	}
	c.mu.Unlock()

	reflection, err := c.monitor.AnalyzePerformance(ctx, input)
	if err != nil {
		return fmt.Errorf("performance analysis failed: %w", err)
	}

	c.mu.Lock()
	sctx.Knowledge.Insights = append(sctx.Knowledge.Insights, reflection.Learnings...)
	c.mu.Unlock()

	for _, adaptation := range reflection.Adaptations {
		if c.applyAdaptation == nil {
			c.logger.Debug("adaptation skipped, no applier configured swarm_id=%s", sctx.SwarmID)
			continue
		}
		if err := c.applyAdaptation(ctx, sctx.SwarmID, adaptation); err != nil {
			c.logger.Warn("adaptation application failed swarm_id=%s: %v", sctx.SwarmID, err)
		}
	}
	return nil
}
