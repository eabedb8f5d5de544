package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
	"github.com/alanyoungcy/escrowmarket/internal/store/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixedClock time.Time

func (c fixedClock) Now() time.Time { return time.Time(c) }

func commitEvents(t *testing.T, l *memory.Ledger, marketID string, n int) []domain.Event {
	t.Helper()
	evs, err := l.Update(context.Background(), marketID, func(ctx context.Context, tx domain.Tx) error {
		for i := 0; i < n; i++ {
			ev, err := domain.NewEvent(domain.EventBetPlaced, marketID, "0x2222222222222222222222222222222222222222",
				domain.BetPlaced{Market: marketID, Amount: uint64(i + 1)}, time.Now())
			if err != nil {
				return err
			}
			if err := tx.Emit(ctx, ev); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	return evs
}

func TestBusPublisherFansOut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := memory.NewLedger()
	bus := NewLocalBus(0)
	live, err := bus.Subscribe(ctx, "ch:market:*")
	require.NoError(t, err)

	evs := commitEvents(t, l, "m1", 2)
	pub := NewBusPublisher(bus, l.Events(), discardLogger())
	require.NoError(t, pub.Publish(ctx, evs))

	msgs, err := bus.StreamRead(ctx, EventStream, "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	var first domain.Event
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &first))
	assert.Equal(t, evs[0].ID, first.ID)
	assert.Equal(t, "m1", first.MarketID)

	select {
	case data := <-live:
		assert.Contains(t, string(data), evs[0].ID)
	case <-time.After(time.Second):
		t.Fatal("no live message")
	}

	pending, err := l.Events().ListUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

type failingBus struct {
	*LocalBus
	failAfter int
	appended  int
}

func (b *failingBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	if b.appended >= b.failAfter {
		return errors.New("connection reset")
	}
	b.appended++
	return b.LocalBus.StreamAppend(ctx, stream, payload)
}

func TestBusPublisherMarksOnlyAppended(t *testing.T) {
	ctx := context.Background()
	l := memory.NewLedger()
	evs := commitEvents(t, l, "m1", 3)

	bus := &failingBus{LocalBus: NewLocalBus(0), failAfter: 1}
	err := NewBusPublisher(bus, l.Events(), discardLogger()).Publish(ctx, evs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")

	pending, err := l.Events().ListUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, evs[1].ID, pending[0].ID)
}

func TestRelayDrainsOutbox(t *testing.T) {
	ctx := context.Background()
	l := memory.NewLedger()
	commitEvents(t, l, "m1", 5)
	commitEvents(t, l, "m2", 2)

	bus := NewLocalBus(0)
	relay := NewRelay(l.Events(), NewBusPublisher(bus, l.Events(), discardLogger()), time.Second, 3, discardLogger())

	n, err := relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	msgs, err := bus.StreamRead(ctx, EventStream, "0", 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 7)

	n, err = relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRelayStopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := memory.NewLedger()
	relay := NewRelay(l.Events(), NewBusPublisher(NewLocalBus(0), l.Events(), discardLogger()), 10*time.Millisecond, 0, discardLogger())

	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}

type recordingArchiver struct {
	before time.Time
	err    error
}

func (r *recordingArchiver) ArchiveEvents(ctx context.Context, before time.Time) (int64, error) {
	r.before = before
	return 3, r.err
}

func TestArchiverCutoff(t *testing.T) {
	now := time.Date(2026, 5, 10, 3, 0, 0, 0, time.UTC)
	rec := &recordingArchiver{}
	a := NewArchiver(rec, 30, fixedClock(now), discardLogger())

	require.NoError(t, a.Run(context.Background()))
	assert.Equal(t, now.Add(-30*24*time.Hour), rec.before)

	rec.err = errors.New("bucket gone")
	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket gone")
}

func TestParseSchedule(t *testing.T) {
	sched, err := ParseSchedule("0 3 * * *")
	require.NoError(t, err)
	from := time.Date(2026, 5, 10, 4, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 5, 11, 3, 0, 0, 0, time.UTC), sched.Next(from))

	_, err = ParseSchedule("every day")
	require.Error(t, err)
}

func TestLocalBusStreams(t *testing.T) {
	ctx := context.Background()
	bus := NewLocalBus(2)
	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, bus.StreamAppend(ctx, "s", []byte(p)))
	}

	all, err := bus.StreamRead(ctx, "s", "0-0", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "b", string(all[0].Payload))

	after, err := bus.StreamRead(ctx, "s", all[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, "c", string(after[0].Payload))

	none, err := bus.StreamRead(ctx, "s", "$", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestLocalBusSubscriptionCloses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	bus := NewLocalBus(0)
	ch, err := bus.Subscribe(ctx, "ch:market:m1")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "ch:market:m2", []byte("other")))
	require.NoError(t, bus.Publish(ctx, "ch:market:m1", []byte("mine")))
	assert.Equal(t, "mine", string(<-ch))

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}
}
