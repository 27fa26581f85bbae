package app

import (
	"sync"
	"time"

	"github.com/relabs-tech/accel_logger/internal/calibration"
	"github.com/relabs-tech/accel_logger/internal/imu"
	"github.com/relabs-tech/accel_logger/internal/recorder"
)

// Event types.
const (
	EventStarted  = "started"
	EventProgress = "progress"
	EventComplete = "complete"
	EventError    = "error"
)

// Event reports a change in a long operation.
type Event struct {
	Type        string                `json:"type"`
	Session     string                `json:"session"`
	Time        time.Time             `json:"time"`
	Progress    *calibration.Progress `json:"progress,omitempty"`
	Calibration *imu.Calibration      `json:"calibration,omitempty"`
	Recording   *recorder.Status      `json:"recording,omitempty"`
	Message     string                `json:"message,omitempty"`
}

// broker fans events out to subscribers. Slow subscribers lose events.
type broker struct {
	mu   sync.Mutex
	next int
	subs map[int]chan Event
}

func newBroker() *broker {
	return &broker{subs: make(map[int]chan Event)}
}

func (b *broker) subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 32)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *broker) publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
