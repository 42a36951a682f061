package transfer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jaywantadh/msgvault/internal/metadata"
)

func TestEmitDropsWhenFull(t *testing.T) {
	ch := make(chan Event, 1)
	ctx := context.Background()

	emit(ctx, ch, Event{FileID: "a", Status: metadata.FileInProgress})
	emit(ctx, ch, Event{FileID: "b", Status: metadata.FileInProgress})
	require.Len(t, ch, 1)
	require.Equal(t, "a", (<-ch).FileID)

	emit(ctx, nil, Event{Status: metadata.FileComplete})
}

func TestEmitWaitsForFinalEvent(t *testing.T) {
	ch := make(chan Event)
	got := make(chan Event, 1)
	go func() {
		time.Sleep(20 * time.Millisecond)
		got <- <-ch
	}()

	emit(context.Background(), ch, Event{FileID: "a", Status: metadata.FileComplete})
	require.Equal(t, "a", (<-got).FileID)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	emit(ctx, make(chan Event), Event{Status: metadata.FileFailed, Err: errors.New("x")})
}

func TestTracker(t *testing.T) {
	tr := NewTracker()
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	now := start
	tr.now = func() time.Time { return now }

	tr.Observe(Event{FileID: "f", Name: "movie.mkv", Direction: DirectionUpload, BytesTotal: 1000, PartsTotal: 10, Status: metadata.FileInProgress})
	now = start.Add(2 * time.Second)
	p := tr.Observe(Event{FileID: "f", Name: "movie.mkv", Direction: DirectionUpload, BytesDone: 400, BytesTotal: 1000, PartsDone: 4, PartsTotal: 10, Status: metadata.FileInProgress})

	require.InDelta(t, 200, p.Speed, 0.001)
	require.Equal(t, 3*time.Second, p.EstimatedTime)
	require.InDelta(t, 40, p.Percent(), 0.001)
	require.Contains(t, p.String(), "movie.mkv: 4/10 parts")
	require.Contains(t, p.String(), "ETA 3s")

	now = start.Add(5 * time.Second)
	p = tr.Observe(Event{FileID: "f", Name: "movie.mkv", Direction: DirectionUpload, BytesDone: 1000, BytesTotal: 1000, PartsDone: 10, PartsTotal: 10, Status: metadata.FileComplete})
	require.True(t, p.Final())
	require.Contains(t, p.String(), "[complete]")

	got, ok := tr.Get("f")
	require.True(t, ok)
	require.Equal(t, metadata.FileComplete, got.Status)
	require.Len(t, tr.All(), 1)

	tr.Remove("f")
	_, ok = tr.Get("f")
	require.False(t, ok)
}

func TestTrackerSubSecondETA(t *testing.T) {
	tr := NewTracker()
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	now := start
	tr.now = func() time.Time { return now }

	tr.Observe(Event{FileID: "f", Direction: DirectionDownload, BytesTotal: 1000})
	now = start.Add(2 * time.Second)
	p := tr.Observe(Event{FileID: "f", Direction: DirectionDownload, BytesDone: 800, BytesTotal: 1000})

	require.InDelta(t, 400, p.Speed, 0.001)
	require.Equal(t, 500*time.Millisecond, p.EstimatedTime)
}

func TestTrackerConsume(t *testing.T) {
	tr := NewTracker()
	events := make(chan Event, 3)
	events <- Event{FileID: "a", Direction: DirectionDownload, Status: metadata.FileInProgress}
	events <- Event{FileID: "a", Direction: DirectionDownload, Status: metadata.FileComplete}
	close(events)

	var seen []Progress
	tr.Consume(context.Background(), events, func(p Progress) { seen = append(seen, p) })
	require.Len(t, seen, 2)
	require.Equal(t, 100.0, seen[1].Percent())
}
