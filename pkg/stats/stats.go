// Package stats records usage of the reconciler: a visitor counter and the
// most recently searched usernames.
package stats

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MaxLastUsers caps the recently searched list.
const MaxLastUsers = 10

// ErrUsernameRequired is returned when RecordSearch gets an empty username.
var ErrUsernameRequired = errors.New("username is required")

var (
	visitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stats_visits_total",
		Help: "Total number of recorded visits",
	})

	searchesRecordedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stats_searches_recorded_total",
		Help: "Total number of searches recorded in the last-users list",
	})
)

// Stats is the public usage snapshot.
type Stats struct {
	Visitors  int64    `json:"visitors"`
	LastUsers []string `json:"lastUsers"`
}

// Recorder stores usage statistics.
type Recorder interface {
	// Visit increments the visitor counter and returns the updated stats.
	Visit(ctx context.Context) (Stats, error)
	// RecordSearch moves username to the front of the last-users list.
	// Entries differing only in case are replaced.
	RecordSearch(ctx context.Context, username string) (Stats, error)
	// Get returns the current stats without changing them.
	Get(ctx context.Context) (Stats, error)
}

// MemoryRecorder keeps stats in process memory.
type MemoryRecorder struct {
	mu        sync.Mutex
	visitors  int64
	lastUsers []string
}

// NewMemoryRecorder creates an empty in-memory recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

// Visit implements Recorder.
func (m *MemoryRecorder) Visit(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.visitors++
	visitsTotal.Inc()
	return m.snapshot(), nil
}

// RecordSearch implements Recorder.
func (m *MemoryRecorder) RecordSearch(_ context.Context, username string) (Stats, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return Stats{}, ErrUsernameRequired
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastUsers = pushFront(m.lastUsers, username, MaxLastUsers)
	searchesRecordedTotal.Inc()
	return m.snapshot(), nil
}

// Get implements Recorder.
func (m *MemoryRecorder) Get(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot(), nil
}

func (m *MemoryRecorder) snapshot() Stats {
	return Stats{
		Visitors:  m.visitors,
		LastUsers: append([]string{}, m.lastUsers...),
	}
}

// pushFront returns list with username first, earlier case-insensitive
// duplicates removed, truncated to limit.
func pushFront(list []string, username string, limit int) []string {
	out := make([]string, 0, min(len(list)+1, limit))
	out = append(out, username)
	for _, existing := range list {
		if len(out) == limit {
			break
		}
		if strings.EqualFold(existing, username) {
			continue
		}
		out = append(out, existing)
	}
	return out
}
