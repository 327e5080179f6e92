package simulator

import (
	"sync"
	"time"
)

// stats holds the counters a simulator owns. Only the simulator goroutine
// writes; status readers take value snapshots under the lock.
//
// Errors and consecutiveErrors count failed ticks. Connection-attempt and
// generation failures keep their own counters so one bad tick never counts
// more than once against the self-stop cap.
type stats struct {
	mu                    sync.Mutex
	messagesSent          int64
	errors                int64
	connectionErrors      int64
	sendErrors            int64
	consecutiveErrors     int64
	totalRetries          int64
	lastMessageAt         time.Time
	lastSuccessAt         time.Time
	lastError             string
	lastErrorAt           time.Time
	lastConnectionAttempt time.Time
}

// recordSuccess counts a delivered tick and resets the consecutive run.
func (s *stats) recordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	s.messagesSent++
	s.lastMessageAt = now
	s.lastSuccessAt = now
	s.consecutiveErrors = 0
}

// recordTickFailure counts a tick whose send exhausted its retries.
func (s *stats) recordTickFailure(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.errors++
	s.sendErrors++
	s.consecutiveErrors++
	s.lastError = msg
	s.lastErrorAt = time.Now().UTC()
}

// recordConnectionFailure counts one failed connect attempt.
func (s *stats) recordConnectionFailure(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connectionErrors++
	s.lastError = msg
	s.lastErrorAt = time.Now().UTC()
}

// recordGenerationFailure counts a generator fault. The tick itself still
// proceeds with the fallback payload.
func (s *stats) recordGenerationFailure(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.errors++
	s.lastError = msg
	s.lastErrorAt = time.Now().UTC()
}

func (s *stats) recordRetry() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalRetries++
}

func (s *stats) recordConnectionAttempt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastConnectionAttempt = time.Now().UTC()
}

func (s *stats) consecutive() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consecutiveErrors
}

func (s *stats) errorInfo() (string, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError, s.lastErrorAt
}

// snapshot copies every counter under one lock acquisition.
func (s *stats) snapshot() statsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return statsSnapshot{
		messagesSent:          s.messagesSent,
		errors:                s.errors,
		connectionErrors:      s.connectionErrors,
		sendErrors:            s.sendErrors,
		consecutiveErrors:     s.consecutiveErrors,
		totalRetries:          s.totalRetries,
		lastMessageAt:         s.lastMessageAt,
		lastSuccessAt:         s.lastSuccessAt,
		lastError:             s.lastError,
		lastConnectionAttempt: s.lastConnectionAttempt,
	}
}

type statsSnapshot struct {
	messagesSent          int64
	errors                int64
	connectionErrors      int64
	sendErrors            int64
	consecutiveErrors     int64
	totalRetries          int64
	lastMessageAt         time.Time
	lastSuccessAt         time.Time
	lastError             string
	lastConnectionAttempt time.Time
}
