package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/joluben/sigsim/internal/domain"
	"github.com/joluben/sigsim/internal/simulator"
)

const (
	// ringCapacity bounds each project's in-memory log history.
	ringCapacity = 100
	// replayCount is how many buffered entries a new subscriber receives.
	replayCount = 20
	// stopTimeout bounds how long Stop waits for simulators to drain.
	stopTimeout = 30 * time.Second
)

// Subscriber is one endpoint of a project's log stream. Deliver must not
// block: implementations buffer internally and report an error when the
// buffer is full or the transport is gone. A failed delivery removes the
// subscriber from the project.
type Subscriber interface {
	Deliver(entry domain.LogEntry) error
}

// Project owns the running simulation of one project: its device
// simulators, the bounded log history, and the subscriber list for live
// log fan-out.
type Project struct {
	projectID string
	logger    *slog.Logger

	// mu guards the ring, the subscriber list, and the lifecycle fields.
	// Fan-out copies the subscriber list and releases mu before writing
	// to any individual subscriber.
	mu          sync.Mutex
	simulators  []*simulator.Simulator
	subscribers []Subscriber
	ring        *logRing
	startedAt   time.Time
	running     bool
	cancel      context.CancelFunc

	wg       sync.WaitGroup
	stopOnce sync.Once
}

func newProject(projectID string, logger *slog.Logger) *Project {
	return &Project{
		projectID: projectID,
		ring:      newLogRing(ringCapacity),
		logger:    logger.With(slog.String("project_id", projectID)),
	}
}

// ProjectID returns the descriptor id this simulation runs for.
func (p *Project) ProjectID() string { return p.projectID }

func (p *Project) addSimulator(s *simulator.Simulator) {
	p.simulators = append(p.simulators, s)
}

// start launches every simulator on its own goroutine. The project owns
// the run context; it is detached from the caller so a finished start
// request does not cancel the simulation.
func (p *Project) start() {
	ctx, cancel := context.WithCancel(context.Background())

	p.mu.Lock()
	p.cancel = cancel
	p.running = true
	p.startedAt = time.Now().UTC()
	p.mu.Unlock()

	for _, sim := range p.simulators {
		s := sim
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			s.Run(ctx)
		}()
	}
	p.logger.Info("simulation started", slog.Int("devices", len(p.simulators)))
}

// stop cancels every simulator and waits for them to drain, bounded by
// stopTimeout. Safe to call more than once; later calls wait for the
// first to finish.
func (p *Project) stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.running = false
		cancel := p.cancel
		p.mu.Unlock()

		if cancel != nil {
			cancel()
		}

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			p.logger.Info("simulation stopped")
		case <-time.After(stopTimeout):
			p.logger.Error("simulators did not drain before timeout",
				slog.Duration("timeout", stopTimeout))
		}
	})
}

// Notify appends the entry to the log history and fans it out to every
// subscriber. Subscribers whose delivery fails are removed. Called from
// simulator goroutines; must never block on a slow subscriber.
func (p *Project) Notify(entry domain.LogEntry) {
	p.mu.Lock()
	p.ring.push(entry)
	subs := make([]Subscriber, len(p.subscribers))
	copy(subs, p.subscribers)
	p.mu.Unlock()

	var dead []Subscriber
	for _, sub := range subs {
		if err := sub.Deliver(entry); err != nil {
			dead = append(dead, sub)
		}
	}
	for _, sub := range dead {
		p.Unsubscribe(sub)
		p.logger.Debug("removed dead log subscriber")
	}
}

// Subscribe registers a subscriber and returns the replay slice: the last
// up to replayCount buffered entries in chronological order. Registration
// and the replay snapshot are atomic, so an entry is delivered either in
// the replay or live, never both.
func (p *Project) Subscribe(sub Subscriber) []domain.LogEntry {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.subscribers = append(p.subscribers, sub)
	return p.ring.tail(replayCount)
}

// Unsubscribe removes a subscriber. No-op when the subscriber is unknown.
func (p *Project) Unsubscribe(sub Subscriber) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, s := range p.subscribers {
		if s == sub {
			p.subscribers[i] = p.subscribers[len(p.subscribers)-1]
			p.subscribers = p.subscribers[:len(p.subscribers)-1]
			return
		}
	}
}

// RecentLogs returns up to limit buffered entries, newest first.
func (p *Project) RecentLogs(limit int) []domain.LogEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ring.newestFirst(limit)
}

// Status aggregates every simulator's snapshot into the project view.
func (p *Project) Status() domain.SimulationStatus {
	p.mu.Lock()
	running := p.running
	startedAt := p.startedAt
	p.mu.Unlock()

	status := domain.SimulationStatus{
		ProjectID:    p.projectID,
		IsRunning:    running,
		TotalDevices: len(p.simulators),
		Devices:      make([]domain.DeviceStatus, 0, len(p.simulators)),
		Errors:       []domain.DeviceError{},
	}
	if !startedAt.IsZero() {
		status.StartedAt = &startedAt
	}

	var lastActivity time.Time
	for _, sim := range p.simulators {
		ds := sim.Status()
		status.Devices = append(status.Devices, ds)
		status.MessagesSent += ds.MessagesSent
		if ds.IsRunning {
			status.ActiveDevices++
		}
		if ds.LastMessageAt != nil && ds.LastMessageAt.After(lastActivity) {
			lastActivity = *ds.LastMessageAt
		}
		if ds.LastError != "" {
			status.Errors = append(status.Errors, domain.DeviceError{
				DeviceID:     ds.DeviceID,
				ErrorMessage: ds.LastError,
				Timestamp:    sim.LastErrorAt(),
			})
		}
	}
	if !lastActivity.IsZero() {
		status.LastActivity = &lastActivity
	}
	return status
}

// SubscriberCount reports how many log subscribers are attached.
func (p *Project) SubscriberCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subscribers)
}
