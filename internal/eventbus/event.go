// Package eventbus subscribes to the server's CRUD event stream and fans
// change notifications out to per-entity listeners.
package eventbus

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Action is what happened to an entity.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionDeleted Action = "deleted"
)

// Entity names a resource kind.
type Entity string

const (
	EntityProject   Entity = "project"
	EntityTask      Entity = "task"
	EntityPlan      Entity = "plan"
	EntityWorkspace Entity = "workspace"
	EntityNote      Entity = "note"
	EntityMilestone Entity = "milestone"
	EntitySession   Entity = "session"
)

// Entities lists every known entity kind.
var Entities = []Entity{
	EntityProject, EntityTask, EntityPlan, EntityWorkspace,
	EntityNote, EntityMilestone, EntitySession,
}

// Event is one CRUD notification.
type Event struct {
	Action      Action `json:"type"`
	Entity      Entity `json:"entity"`
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id,omitempty"`
	Seq         *int64 `json:"seq,omitempty"`
}

// ErrInvalidEvent is returned by Parse for frames that are not CRUD events.
var ErrInvalidEvent = errors.New("invalid event")

// Parse decodes a CRUD event. Unknown entities are accepted so new server
// resources reach catch-all listeners.
func Parse(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	switch ev.Action {
	case ActionCreated, ActionUpdated, ActionDeleted:
	default:
		return Event{}, fmt.Errorf("%w: type %q", ErrInvalidEvent, ev.Action)
	}
	if ev.Entity == "" {
		return Event{}, fmt.Errorf("%w: missing entity", ErrInvalidEvent)
	}
	return ev, nil
}
