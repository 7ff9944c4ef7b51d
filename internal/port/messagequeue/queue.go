// Package messagequeue defines the event bus port the swarm publishes its
// task, karma and agent events on.
package messagequeue

import "context"

// Stream and subjects of swarm events.
const (
	StreamName = "SWARM"

	SubjectAll          = "swarm.>"
	SubjectTaskQueued   = "swarm.tasks.queued"
	SubjectTaskFinished = "swarm.tasks.finished"
	SubjectKarma        = "swarm.karma.recorded"
	SubjectAgentStatus  = "swarm.agents.status"
)

// Handler consumes one event. ctx carries the publisher's request id when
// there was one.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue publishes swarm events and lets observers follow them.
type Queue interface {
	// Publish validates data against the subject schema and sends it.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe delivers events published from now on whose subject
	// matches filter. The returned func stops delivery.
	Subscribe(ctx context.Context, filter string, handler Handler) (cancel func(), err error)

	Drain() error
	Close() error
	IsConnected() bool
}
