package mapping

import "time"

type RunEventType string

const (
	RunStarted  RunEventType = "run_started"
	RunProgress RunEventType = "run_progress"
	RunFinished RunEventType = "run_finished"
	RunFailed   RunEventType = "run_failed"
)

type RunEvent struct {
	Type       RunEventType `json:"type"`
	DocumentID string       `json:"document_id"`
	Scored     int          `json:"scored,omitempty"`
	Failed     int          `json:"failed,omitempty"`
	Matched    int          `json:"matched,omitempty"`
	Removed    int          `json:"removed,omitempty"`
	Error      string       `json:"error,omitempty"`
	Timestamp  int64        `json:"timestamp"`
}

// EventPublisher receives run lifecycle events. Implementations must not
// block; the orchestrator calls Publish inline.
type EventPublisher interface {
	Publish(event RunEvent)
}

func publish(p EventPublisher, event RunEvent) {
	if p == nil {
		return
	}
	event.Timestamp = time.Now().Unix()
	p.Publish(event)
}
