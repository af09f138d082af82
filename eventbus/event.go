package eventbus

import (
	"time"

	"github.com/hupe1980/swarmmesh/core"
)

// DeliveryGuarantee selects how an event is dispatched to subscribers.
type DeliveryGuarantee string

const (
	// FireAndForget hands the event to matching subscribers without awaiting
	// handler completion.
	FireAndForget DeliveryGuarantee = "fire-and-forget"
	// Reliable awaits all matching handlers, retrying each subscription up to
	// its configured maximum before reporting failure.
	Reliable DeliveryGuarantee = "reliable"
	// BarrierSync blocks until a quorum of explicit responses (or a timeout)
	// resolves the event. Events with this guarantee must be published via
	// PublishBarrierSync.
	BarrierSync DeliveryGuarantee = "barrier-sync"
)

// TimeoutAction selects how an unresolved barrier behaves when its deadline
// fires.
type TimeoutAction string

const (
	// AutoApprove resolves the barrier as approved on timeout.
	AutoApprove TimeoutAction = "auto-approve"
	// AutoReject resolves the barrier as rejected on timeout.
	AutoReject TimeoutAction = "auto-reject"
	// KeepPending leaves the barrier open past its deadline for manual
	// resolution.
	KeepPending TimeoutAction = "keep-pending"
)

// BarrierConfig parameterizes a barrier-sync event.
type BarrierConfig struct {
	// Quorum is the minimum count of OK responses required to approve.
	Quorum int `json:"quorum"`
	// Timeout bounds how long the barrier waits for responses.
	Timeout time.Duration `json:"timeout"`
	// TimeoutAction decides the outcome when Timeout elapses unresolved.
	TimeoutAction TimeoutAction `json:"timeout_action"`
	// RequiredResponders optionally names every expected responder. When set,
	// the barrier fails as soon as all of them replied without reaching quorum.
	RequiredResponders []string `json:"required_responders,omitempty"`
}

// Metadata carries delivery semantics alongside an event.
type Metadata struct {
	Source            string            `json:"source,omitempty"`
	DeliveryGuarantee DeliveryGuarantee `json:"delivery_guarantee"`
	Barrier           *BarrierConfig    `json:"barrier,omitempty"`
}

// Event is an immutable record flowing through the bus. Type is a
// hierarchical dot/slash-delimited string (e.g. "chat/message",
// "swarm/events"); Data is an opaque payload interpreted by subscribers.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
	Metadata  Metadata       `json:"metadata"`
}

// NewEvent creates a fire-and-forget event of the given type.
func NewEvent(eventType string, data map[string]any) Event {
	return Event{
		ID:        core.NewID(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
		Metadata:  Metadata{DeliveryGuarantee: FireAndForget},
	}
}

// NewReliableEvent creates an event whose publish awaits all matching
// handlers.
func NewReliableEvent(eventType string, data map[string]any) Event {
	e := NewEvent(eventType, data)
	e.Metadata.DeliveryGuarantee = Reliable
	return e
}

// NewBarrierEvent creates a barrier-sync event with the given config. Publish
// it via PublishBarrierSync.
func NewBarrierEvent(eventType string, data map[string]any, cfg BarrierConfig) Event {
	e := NewEvent(eventType, data)
	e.Metadata.DeliveryGuarantee = BarrierSync
	e.Metadata.Barrier = &cfg
	return e
}
