package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/typerace-backend/internal/engine"
)

type memInsert struct {
	mu   sync.Mutex
	recs []RoundRecord
	err  error
}

func (m *memInsert) insert(_ context.Context, rec RoundRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memInsert) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recs)
}

func result(room string, round int) engine.Result {
	return engine.Result{
		RoomID:    room,
		SessionID: "session-" + room,
		Round:     round,
		Text:      "a b c",
		Players: []engine.Player{
			{ID: "p1", Name: "alice", Score: 3, WPM: 71.5},
			{ID: "p2", Name: "bob", Score: 1, WPM: 20},
		},
		FinishedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.FixedZone("x", 3600)),
	}
}

func TestNewRoundRecord(t *testing.T) {
	rec := NewRoundRecord(result("R1", 4))

	assert.Equal(t, "R1", rec.RoomID)
	assert.Equal(t, "session-R1", rec.SessionID)
	assert.Equal(t, 4, rec.Round)
	assert.Equal(t, "a b c", rec.Text)
	assert.Equal(t, []Standing{
		{ID: "p1", Name: "alice", Score: 3, WPM: 71.5},
		{ID: "p2", Name: "bob", Score: 1, WPM: 20},
	}, rec.Standings)
	assert.Equal(t, time.UTC, rec.FinishedAt.Location())
}

func TestArchive_WritesQueuedResults(t *testing.T) {
	m := &memInsert{}
	a := NewArchive(m.insert, 8, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	a.Record(result("R1", 1))
	a.Record(result("R1", 2))
	require.Eventually(t, func() bool { return m.count() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatalf("archive did not stop")
	}
}

func TestArchive_FlushesOnShutdown(t *testing.T) {
	m := &memInsert{}
	a := NewArchive(m.insert, 8, zaptest.NewLogger(t))

	// Queued before Run and Run starts already cancelled: only the flush writes.
	a.Record(result("R1", 1))
	a.Record(result("R2", 1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, a.Run(ctx))
	assert.Equal(t, 2, m.count())
}

func TestArchive_RecordNeverBlocks(t *testing.T) {
	m := &memInsert{}
	a := NewArchive(m.insert, 1, zaptest.NewLogger(t))

	done := make(chan struct{})
	go func() {
		a.Record(result("R1", 1))
		a.Record(result("R1", 2)) // dropped
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Record blocked on a full queue")
	}
	assert.Len(t, a.queue, 1)
}

func TestArchive_InsertErrorsAreAbsorbed(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"duplicate", ErrDuplicate},
		{"database down", errors.New("connection refused")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &memInsert{err: tt.err}
			a := NewArchive(m.insert, 4, zaptest.NewLogger(t))
			a.Record(result("R1", 1))

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			assert.NoError(t, a.Run(ctx))
			assert.Zero(t, m.count())
			assert.Empty(t, a.queue)
		})
	}
}
