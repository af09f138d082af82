// Package selector decides which participants respond to a trigger.
//
// Selection runs a fixed priority chain: explicit mentions win, then
// event-type-to-role mappings, then blackboard-style topic subscriptions,
// then the current baton holder, then the configured leader. When nothing
// matches (or selection itself fails) the result is an empty responder set
// with the "fallback" strategy; callers treat that as "no one answers this
// turn", never as an error.
package selector

import (
	"github.com/hupe1980/swarmmesh/core"
	"github.com/hupe1980/swarmmesh/eventbus"
	"github.com/hupe1980/swarmmesh/logging"
)

// Selection names the responders for one turn and the rule that picked them.
type Selection struct {
	Responders []core.BotParticipant `json:"responders"`
	Strategy   string                `json:"strategy"`
}

// Selector picks responding participants for a trigger. Implementations must
// never fail out of Select; internal errors collapse to the empty fallback
// selection.
type Selector interface {
	Select(trigger core.Trigger, convCtx core.ConversationContext) Selection
}

// Options holds overrides passed to New().
type Options struct {
	Logger logging.Logger
}

// RuleSelector implements the fixed five-rule priority chain.
type RuleSelector struct {
	logger logging.Logger
}

// New constructs a RuleSelector with optional overrides.
func New(optFns ...func(o *Options)) *RuleSelector {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &RuleSelector{logger: opts.Logger}
}

// Select evaluates the rules in fixed order and returns the first match.
// Panics during selection are swallowed and converted to the empty fallback
// selection.
func (s *RuleSelector) Select(trigger core.Trigger, convCtx core.ConversationContext) (selection Selection) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("selection failed, falling back to empty responder set: %v", r)
			selection = Selection{Responders: []core.BotParticipant{}, Strategy: "fallback"}
		}
	}()

	if responders := s.byMention(trigger, convCtx); len(responders) > 0 {
		return Selection{Responders: responders, Strategy: "mention"}
	}
	if responders := s.byEventRole(trigger, convCtx); len(responders) > 0 {
		return Selection{Responders: responders, Strategy: "event-role"}
	}
	if responders := s.byTopic(trigger, convCtx); len(responders) > 0 {
		return Selection{Responders: responders, Strategy: "topic"}
	}
	if responders := s.byBaton(convCtx); len(responders) > 0 {
		return Selection{Responders: responders, Strategy: "baton"}
	}
	if responders := s.byLeader(convCtx); len(responders) > 0 {
		return Selection{Responders: responders, Strategy: "leader"}
	}
	return Selection{Responders: []core.BotParticipant{}, Strategy: "fallback"}
}

// byMention returns participants explicitly addressed by the trigger.
func (s *RuleSelector) byMention(trigger core.Trigger, convCtx core.ConversationContext) []core.BotParticipant {
	if len(trigger.Mentions) == 0 {
		return nil
	}
	mentioned := make(map[string]bool, len(trigger.Mentions))
	for _, id := range trigger.Mentions {
		mentioned[id] = true
	}
	var responders []core.BotParticipant
	for _, p := range convCtx.Participants {
		if mentioned[p.ID] || mentioned[p.Name] {
			responders = append(responders, p)
		}
	}
	return responders
}

// byEventRole maps the trigger's event type onto configured roles.
func (s *RuleSelector) byEventRole(trigger core.Trigger, convCtx core.ConversationContext) []core.BotParticipant {
	if trigger.EventType == "" || len(convCtx.EventRoles) == 0 {
		return nil
	}
	roles := make(map[string]bool)
	for pattern, mapped := range convCtx.EventRoles {
		if eventbus.MatchPattern(trigger.EventType, pattern) {
			for _, role := range mapped {
				roles[role] = true
			}
		}
	}
	if len(roles) == 0 {
		return nil
	}
	var responders []core.BotParticipant
	for _, p := range convCtx.Participants {
		if roles[p.Role] {
			responders = append(responders, p)
		}
	}
	return responders
}

// byTopic matches participants whose topic subscriptions cover the trigger's
// event type.
func (s *RuleSelector) byTopic(trigger core.Trigger, convCtx core.ConversationContext) []core.BotParticipant {
	if trigger.EventType == "" {
		return nil
	}
	var responders []core.BotParticipant
	for _, p := range convCtx.Participants {
		for _, pattern := range p.TopicPatterns {
			if eventbus.MatchPattern(trigger.EventType, pattern) {
				responders = append(responders, p)
				break
			}
		}
	}
	return responders
}

// byBaton returns the currently active speaker, if any.
func (s *RuleSelector) byBaton(convCtx core.ConversationContext) []core.BotParticipant {
	if convCtx.ActiveBotID == "" {
		return nil
	}
	for _, p := range convCtx.Participants {
		if p.ID == convCtx.ActiveBotID {
			return []core.BotParticipant{p}
		}
	}
	return nil
}

// byLeader falls back to the configured leader, or any participant holding
// the leader role.
func (s *RuleSelector) byLeader(convCtx core.ConversationContext) []core.BotParticipant {
	if convCtx.LeaderID != "" {
		for _, p := range convCtx.Participants {
			if p.ID == convCtx.LeaderID {
				return []core.BotParticipant{p}
			}
		}
	}
	for _, p := range convCtx.Participants {
		if p.Role == "leader" {
			return []core.BotParticipant{p}
		}
	}
	return nil
}
