package batch

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc"
)

// Worker runs one batch in the background and streams its events, so a
// caller can render progress while files are processed.
type Worker struct {
	events  chan Event
	wg      conc.WaitGroup
	summary Summary
	err     error
}

// Start launches req on runner. Events must be drained until the channel is
// closed; Wait then returns the result.
func Start(ctx context.Context, runner *Runner, req Request, buffer int) *Worker {
	w := &Worker{events: make(chan Event, buffer)}

	w.wg.Go(func() {
		defer close(w.events)

		w.summary, w.err = runner.Run(ctx, req, ReporterFunc(func(_ context.Context, e Event) {
			w.events <- e
		}))
	})

	return w
}

// Events returns the event stream. It is closed when the batch ends.
func (w *Worker) Events() <-chan Event {
	return w.events
}

// Wait blocks until the batch ends. A panic inside the batch is returned as
// an error.
func (w *Worker) Wait() (Summary, error) {
	if r := w.wg.WaitAndRecover(); r != nil {
		return w.summary, fmt.Errorf("batch worker panicked: %w", r.AsError())
	}
	return w.summary, w.err
}
