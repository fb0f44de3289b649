package worker

import (
	"context"

	audit "complyd/pkg/platform/audit"
)

// Worker drains an inbox of audit events into a sink. Sink errors are reported
// through onError and do not stop the worker.
type Worker struct {
	sink    audit.Sink
	inbox   <-chan audit.Event
	onError func(audit.Event, error)
}

func NewWorker(sink audit.Sink, inbox <-chan audit.Event, onError func(audit.Event, error)) *Worker {
	if onError == nil {
		onError = func(audit.Event, error) {}
	}
	return &Worker{sink: sink, inbox: inbox, onError: onError}
}

// Run returns when the inbox is closed and drained, or when ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.inbox:
			if !ok {
				return nil
			}
			if err := w.sink.Append(ctx, event); err != nil {
				w.onError(event, err)
			}
		}
	}
}
