package eventbus

import (
	"context"
	"strings"
)

// Transport fans events out to connected clients scoped by room. It is an
// optional collaborator; forwarding is best effort and never fails a publish.
type Transport interface {
	EmitToRoom(ctx context.Context, eventType, roomID string, payload map[string]any) error
}

// RoomForEvent derives the transport room for an event from its type prefix.
// The second return value is false when the event has no room and forwarding
// should be skipped.
func RoomForEvent(ev Event) (string, bool) {
	prefix := ev.Type
	if i := strings.IndexAny(ev.Type, "/."); i >= 0 {
		prefix = ev.Type[:i]
	}

	switch prefix {
	case "chat", "swarm", "bot", "tool", "response", "reasoning", "cancellation":
		if id := stringField(ev.Data, "chatId"); id != "" {
			return id, true
		}
		if id := stringField(ev.Data, "conversationId"); id != "" {
			return id, true
		}
	case "run", "step":
		if id := stringField(ev.Data, "runId"); id != "" {
			return id, true
		}
	case "user":
		if id := stringField(ev.Data, "userId"); id != "" {
			return id, true
		}
	case "room":
		if id := stringField(ev.Data, "roomId"); id != "" {
			return id, true
		}
	}
	return "", false
}

func stringField(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	s, _ := data[key].(string)
	return s
}
