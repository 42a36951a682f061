package transfer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jaywantadh/msgvault/internal/metadata"
)

// terminalSendTimeout bounds how long a session waits to deliver its final event.
const terminalSendTimeout = 5 * time.Second

// Event reports the state of a session. Events other than the final one of a
// session may be dropped when the consumer falls behind.
type Event struct {
	FileID     string
	Name       string
	Direction  Direction
	BytesDone  int64
	BytesTotal int64
	PartsDone  int
	PartsTotal int
	InFlight   int // parts being transferred when the event was taken
	Status     metadata.FileStatus
	Err        error
}

// Final reports whether this is the last event of its session.
func (e Event) Final() bool {
	return e.Err != nil || e.Status.Terminal()
}

// Percent returns completion by parts.
func (e Event) Percent() float64 {
	if e.PartsTotal == 0 {
		if e.Status == metadata.FileComplete {
			return 100
		}
		return 0
	}
	return float64(e.PartsDone) / float64(e.PartsTotal) * 100
}

func emit(ctx context.Context, ch chan<- Event, ev Event) {
	if ch == nil {
		return
	}
	if !ev.Final() {
		select {
		case ch <- ev:
		default:
		}
		return
	}

	timer := time.NewTimer(terminalSendTimeout)
	defer timer.Stop()
	select {
	case ch <- ev:
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Progress is the tracked state of one file's session.
type Progress struct {
	Event
	StartTime      time.Time
	LastUpdateTime time.Time
	Speed          float64 // bytes per second
	EstimatedTime  time.Duration

	startBytes int64
}

// Tracker folds events into per-file progress with speed and ETA.
type Tracker struct {
	mu        sync.RWMutex
	transfers map[string]*Progress
	now       func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		transfers: make(map[string]*Progress),
		now:       time.Now,
	}
}

// Observe records ev.
func (t *Tracker) Observe(ev Event) Progress {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	p, ok := t.transfers[ev.FileID]
	if !ok || p.Direction != ev.Direction {
		p = &Progress{StartTime: now, startBytes: ev.BytesDone}
		t.transfers[ev.FileID] = p
	}
	p.Event = ev
	p.LastUpdateTime = now

	// Parts finished by an earlier session do not count towards speed.
	if elapsed := now.Sub(p.StartTime).Seconds(); elapsed > 0 {
		p.Speed = float64(ev.BytesDone-p.startBytes) / elapsed
	}
	p.EstimatedTime = 0
	if p.Speed > 0 && ev.BytesTotal > ev.BytesDone {
		remaining := float64(ev.BytesTotal - ev.BytesDone)
		p.EstimatedTime = time.Duration(remaining / p.Speed * float64(time.Second))
	}
	return *p
}

// Get returns the progress of fileID.
func (t *Tracker) Get(fileID string) (Progress, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p, ok := t.transfers[fileID]
	if !ok {
		return Progress{}, false
	}
	return *p, true
}

// All returns every tracked transfer ordered by start time.
func (t *Tracker) All() []Progress {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Progress, 0, len(t.transfers))
	for _, p := range t.transfers {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}

// Remove forgets fileID.
func (t *Tracker) Remove(fileID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.transfers, fileID)
}

// Consume observes events until the channel closes or ctx ends, calling fn
// with the updated progress of each.
func (t *Tracker) Consume(ctx context.Context, events <-chan Event, fn func(Progress)) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			p := t.Observe(ev)
			if fn != nil {
				fn(p)
			}
		}
	}
}

// String renders p on one line.
func (p Progress) String() string {
	var b strings.Builder
	name := p.Name
	if name == "" {
		name = p.FileID
	}
	fmt.Fprintf(&b, "%s %s: %d/%d parts (%.1f%%) %s/%s",
		p.Direction, name, p.PartsDone, p.PartsTotal, p.Percent(),
		humanize.IBytes(uint64(p.BytesDone)), humanize.IBytes(uint64(p.BytesTotal)))
	if p.Speed > 0 && !p.Final() {
		fmt.Fprintf(&b, " %s/s", humanize.IBytes(uint64(p.Speed)))
	}
	if p.EstimatedTime > 0 && !p.Final() {
		fmt.Fprintf(&b, " ETA %s", formatDuration(p.EstimatedTime))
	}
	if p.Final() {
		fmt.Fprintf(&b, " [%s]", p.Status)
	}
	if p.Err != nil {
		fmt.Fprintf(&b, " error: %v", p.Err)
	}
	return b.String()
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.0fm", d.Minutes())
	}
	return fmt.Sprintf("%.0fh", d.Hours())
}
