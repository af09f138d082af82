// Package swarmmesh provides a high-level façade over the event bus, the
// conversation orchestrator and the swarm coordinator, enabling rapid
// construction of event-driven multi-agent systems. Most applications
// interact with this package by:
//  1. Creating a SwarmMesh via New() with a response service (optionally
//     overriding the default bus, selector and logger)
//  2. Starting it, which brings up the event bus
//  3. Driving conversations with Orchestrate and, when autonomous
//     coordination is needed, enabling swarms via EnableSwarms
//
// The façade delegates conversation steps to engine.Orchestrator and swarm
// lifecycles to swarm.Coordinator while keeping setup concise. All defaults
// are safe for local development and testing; production deployments
// typically supply a durable state store, a transport and a structured
// logger.
package swarmmesh

import (
	"context"

	"github.com/hupe1980/swarmmesh/core"
	"github.com/hupe1980/swarmmesh/engine"
	"github.com/hupe1980/swarmmesh/eventbus"
	"github.com/hupe1980/swarmmesh/logging"
	"github.com/hupe1980/swarmmesh/selector"
	"github.com/hupe1980/swarmmesh/swarm"
	"github.com/hupe1980/swarmmesh/turn"
)

// Options configures the SwarmMesh instance.
type Options struct {
	// Bus carries all lifecycle and domain events. Defaults to a new
	// in-process bus with default history and retry settings.
	Bus *eventbus.Bus

	// Selector decides which participants respond to a trigger. Defaults to
	// the rule-based priority chain.
	Selector selector.Selector

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// SwarmMesh is the high-level façade aggregating the bus, the conversation
// orchestrator and (optionally) the swarm coordinator.
type SwarmMesh struct {
	opts         Options
	bus          *eventbus.Bus
	orchestrator *engine.Orchestrator
	coordinator  *swarm.Coordinator
}

// New creates a new SwarmMesh instance with optional overrides. Any unset
// dependency is initialized with an in-process default.
func New(responder core.ResponseService, optFns ...func(o *Options)) *SwarmMesh {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Bus == nil {
		opts.Bus = eventbus.New(func(o *eventbus.Options) {
			o.Logger = componentLogger(opts.Logger, "eventbus")
		})
	}

	if opts.Selector == nil {
		opts.Selector = selector.New(func(o *selector.Options) {
			o.Logger = componentLogger(opts.Logger, "selector")
		})
	}

	executor := turn.New(responder, func(o *turn.Options) {
		o.Bus = opts.Bus
		o.Logger = componentLogger(opts.Logger, "turn")
	})

	orchestrator := engine.New(opts.Selector, executor, func(o *engine.Options) {
		o.Logger = componentLogger(opts.Logger, "engine")
	})

	return &SwarmMesh{opts: opts, bus: opts.Bus, orchestrator: orchestrator}
}

// componentLogger scopes the configured logger to a subsystem when it
// supports contextual cloning. Plain Logger implementations pass through
// unchanged.
func componentLogger(base logging.Logger, name string) logging.Logger {
	if sl, ok := base.(*logging.SwarmLogger); ok {
		return sl.WithComponent(name)
	}
	return base
}

// Start brings up the event bus. It must be called before Orchestrate or
// EnableSwarms publish anything.
func (m *SwarmMesh) Start() { m.bus.Start() }

// Stop shuts down the event bus, rejecting any pending barriers.
func (m *SwarmMesh) Stop() { m.bus.Stop() }

// Bus exposes the underlying event bus for direct publish/subscribe use.
func (m *SwarmMesh) Bus() *eventbus.Bus { return m.bus }

// Orchestrate runs one conversation step. It always returns a structured
// result, never an error.
func (m *SwarmMesh) Orchestrate(ctx context.Context, params engine.Params) engine.ConversationResult {
	return m.orchestrator.Orchestrate(ctx, params)
}

// EnableSwarms wires a swarm coordinator onto the mesh. The collaborator set
// must be complete; a missing collaborator is a construction error.
func (m *SwarmMesh) EnableSwarms(collab swarm.Collaborators, optFns ...func(o *swarm.Options)) (*swarm.Coordinator, error) {
	coord, err := swarm.New(m.bus, collab, append([]func(o *swarm.Options){func(o *swarm.Options) {
		o.Logger = componentLogger(m.opts.Logger, "swarm")
	}}, optFns...)...)
	if err != nil {
		return nil, err
	}

	m.coordinator = coord

	return coord, nil
}

// Coordinator returns the swarm coordinator, or nil if EnableSwarms has not
// been called.
func (m *SwarmMesh) Coordinator() *swarm.Coordinator { return m.coordinator }
