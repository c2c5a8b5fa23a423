package orchestrator

import (
	"time"

	"github.com/kebairia/backupd/internal/logger"
)

// EventKind names something that happened during an attempt.
type EventKind string

const (
	EventRunStarted      EventKind = "run_started"
	EventDumpCompleted   EventKind = "dump_completed"
	EventDumpFailed      EventKind = "dump_failed"
	EventUploadCompleted EventKind = "upload_completed"
	EventUploadFailed    EventKind = "upload_failed"
	EventRunSucceeded    EventKind = "run_succeeded"
	EventRunFailed       EventKind = "run_failed"
	EventNotifyFailed    EventKind = "notify_failed"
	EventRetryScheduled  EventKind = "retry_scheduled"
	EventRetryDropped    EventKind = "retry_dropped"
	EventTickDropped     EventKind = "tick_dropped"
)

// Event is emitted to the Sink instead of logging from inside the orchestrator.
type Event struct {
	Time     time.Time
	Kind     EventKind
	RunID    string
	Attempt  int
	Detail   string
	Duration time.Duration
	Err      error
}

// Sink receives events. Emit is called synchronously from the worker and
// must not block.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Sinks fans an event out to every member.
type Sinks []Sink

func (s Sinks) Emit(e Event) {
	for _, sink := range s {
		if sink != nil {
			sink.Emit(e)
		}
	}
}

type logSink struct {
	log logger.Logger
}

// LogSink writes events as structured log lines.
func LogSink(log logger.Logger) Sink {
	return &logSink{log: log}
}

func (s *logSink) Emit(e Event) {
	kv := []any{"event", string(e.Kind)}
	if e.RunID != "" {
		kv = append(kv, "run_id", e.RunID, "attempt", e.Attempt)
	}
	if e.Detail != "" {
		kv = append(kv, "detail", e.Detail)
	}
	if e.Duration > 0 {
		kv = append(kv, "duration", e.Duration.String())
	}
	if e.Err != nil {
		kv = append(kv, "error", e.Err.Error())
	}

	switch e.Kind {
	case EventRunFailed, EventDumpFailed, EventUploadFailed:
		s.log.Error("backup "+string(e.Kind), kv...)
	case EventNotifyFailed, EventRetryDropped, EventTickDropped:
		s.log.Warn("backup "+string(e.Kind), kv...)
	default:
		s.log.Info("backup "+string(e.Kind), kv...)
	}
}
