package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	audit "complyd/pkg/platform/audit"
	"complyd/pkg/platform/audit/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingSink struct{}

func (failingSink) Append(context.Context, audit.Event) error { return errors.New("broker down") }

func TestWorker_DrainsUntilInboxClosed(t *testing.T) {
	store := memory.NewInMemoryStore()
	inbox := make(chan audit.Event, 3)
	inbox <- audit.Event{RunID: "run-1", Kind: audit.KindRunCreated}
	inbox <- audit.Event{RunID: "run-1", Kind: audit.KindTransition}
	close(inbox)

	err := NewWorker(store, inbox, nil).Run(context.Background())
	require.NoError(t, err)

	events, err := store.ListByRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestWorker_ReportsSinkErrorsAndContinues(t *testing.T) {
	inbox := make(chan audit.Event, 2)
	inbox <- audit.Event{ID: "a"}
	inbox <- audit.Event{ID: "b"}
	close(inbox)

	var failed []string
	err := NewWorker(failingSink{}, inbox, func(e audit.Event, _ error) {
		failed = append(failed, e.ID)
	}).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, failed)
}

func TestWorker_StopsOnContextCancel(t *testing.T) {
	inbox := make(chan audit.Event)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := NewWorker(memory.NewInMemoryStore(), inbox, nil).Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
