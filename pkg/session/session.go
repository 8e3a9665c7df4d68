// Package session owns the reconciliation state of one authenticated caller:
// the asymmetric sets of the last search, the append-only marker sets and the
// per-login in-flight records of follow and unfollow operations.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/follow-reconciler/pkg/batch"
	"github.com/Sternrassler/follow-reconciler/pkg/github"
	"github.com/Sternrassler/follow-reconciler/pkg/graph"
	"github.com/Sternrassler/follow-reconciler/pkg/stats"
)

var (
	// ErrOperationInProgress is returned when a search or bulk run overlaps one already running.
	ErrOperationInProgress = errors.New("operation already in progress")

	// ErrNotApplied marks a mutation GitHub answered with a status that has no
	// dedicated explanation. It is only used inside bulk reports.
	ErrNotApplied = errors.New("mutation not applied")
)

// Direction of a mutation.
type Direction string

const (
	DirectionFollow   Direction = "follow"
	DirectionUnfollow Direction = "unfollow"
)

// State is the mutation record of one login in one direction.
type State string

const (
	StateIdle      State = "idle"
	StateInFlight  State = "in_flight"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Mutator performs single follow/unfollow calls. Satisfied by *github.Client.
type Mutator interface {
	Follow(ctx context.Context, login, token string) (bool, error)
	Unfollow(ctx context.Context, login, token string) (bool, error)
}

// Collector retrieves a full user list. Satisfied by *pagination.Collector[graph.User].
type Collector interface {
	Collect(ctx context.Context, endpoint, token string) ([]graph.User, error)
}

// Config holds session dependencies.
type Config struct {
	Mutator   Mutator
	Collector Collector

	// Recorder is notified after every successful search. Optional.
	Recorder stats.Recorder

	// WaveSize bounds bulk concurrency (default batch.DefaultWaveSize).
	WaveSize int
}

// Snapshot is a copy of the session state.
type Snapshot struct {
	Username         string       `json:"username"`
	NotFollowingBack []graph.User `json:"notFollowingBack"`
	NotFollowedBack  []graph.User `json:"notFollowedBack"`
	Unfollowed       []graph.User `json:"unfollowed"`
	NowFollowing     []graph.User `json:"nowFollowing"`
	UnfollowInFlight []string     `json:"unfollowInFlight"`
	FollowInFlight   []string     `json:"followInFlight"`
	Searching        bool         `json:"searching"`
}

// Session is safe for concurrent use.
type Session struct {
	mutator   Mutator
	collector Collector
	recorder  stats.Recorder
	waveSize  int
	logger    zerolog.Logger

	mu           sync.Mutex
	username     string
	result       graph.Result
	unfollowed   []graph.User
	nowFollowing []graph.User
	inFlight     map[Direction]map[string]chan struct{}
	failed       map[Direction]map[string]struct{}
	bulk         map[Direction]bool
	searching    bool
}

// New creates a session.
func New(cfg Config) (*Session, error) {
	if cfg.Mutator == nil {
		return nil, errors.New("mutator is required")
	}
	if cfg.Collector == nil {
		return nil, errors.New("collector is required")
	}
	if cfg.WaveSize <= 0 {
		cfg.WaveSize = batch.DefaultWaveSize
	}

	return &Session{
		mutator:   cfg.Mutator,
		collector: cfg.Collector,
		recorder:  cfg.Recorder,
		waveSize:  cfg.WaveSize,
		logger:    log.With().Str("component", "session").Logger(),
		result:    graph.Result{NotFollowingBack: []graph.User{}, NotFollowedBack: []graph.User{}},
		inFlight: map[Direction]map[string]chan struct{}{
			DirectionFollow:   {},
			DirectionUnfollow: {},
		},
		failed: map[Direction]map[string]struct{}{
			DirectionFollow:   {},
			DirectionUnfollow: {},
		},
		bulk: make(map[Direction]bool),
	}, nil
}

// Search collects following and followers of username once each, in parallel,
// and replaces the asymmetric sets. A failure of either collection cancels the
// other and no partial result is kept.
func (s *Session) Search(ctx context.Context, username, token string) (graph.Result, error) {
	username = strings.TrimSpace(username)
	if username == "" || token == "" {
		return graph.Result{}, github.ErrMissingCredentials
	}

	s.mu.Lock()
	if s.searching {
		s.mu.Unlock()
		return graph.Result{}, ErrOperationInProgress
	}
	s.searching = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.searching = false
		s.mu.Unlock()
	}()

	var following, followers []graph.User
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		following, err = s.collector.Collect(gCtx, github.FollowingEndpoint(username), token)
		if err != nil {
			return searchError(github.OperationFetchNonFollowers, err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		followers, err = s.collector.Collect(gCtx, github.FollowersEndpoint(username), token)
		if err != nil {
			return searchError(github.OperationFetchNonFollowing, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		searchesTotal.WithLabelValues("failure").Inc()
		s.logger.Warn().
			Err(err).
			Str("username", username).
			Str("error_kind", string(github.KindOf(err))).
			Msg("Search failed")
		return graph.Result{}, err
	}

	result := graph.Reconcile(following, followers)

	s.mu.Lock()
	s.username = username
	s.result = result
	s.mu.Unlock()

	searchesTotal.WithLabelValues("success").Inc()
	s.logger.Info().
		Str("username", username).
		Int("following", len(following)).
		Int("followers", len(followers)).
		Int("not_following_back", len(result.NotFollowingBack)).
		Int("not_followed_back", len(result.NotFollowedBack)).
		Msg("Search completed")

	if s.recorder != nil {
		if _, err := s.recorder.RecordSearch(ctx, username); err != nil {
			s.logger.Warn().Err(err).Str("username", username).Msg("Failed to record search")
		}
	}

	return cloneResult(result), nil
}

// searchError attributes a collection failure to the search operation while
// keeping the collector's kind.
func searchError(op github.Operation, err error) error {
	return &github.APIError{
		Kind:      github.KindOf(err),
		Operation: op,
		Err:       err,
	}
}

// Follow follows login and, on success, moves it from NotFollowedBack to NowFollowing.
func (s *Session) Follow(ctx context.Context, login, token string) (bool, error) {
	return s.mutateOne(ctx, DirectionFollow, login, token)
}

// Unfollow unfollows login and, on success, moves it from NotFollowingBack to Unfollowed.
func (s *Session) Unfollow(ctx context.Context, login, token string) (bool, error) {
	return s.mutateOne(ctx, DirectionUnfollow, login, token)
}

// FollowAll follows every login of the current NotFollowedBack snapshot in waves.
func (s *Session) FollowAll(ctx context.Context, token string) (batch.Report[graph.User], error) {
	return s.mutateAll(ctx, DirectionFollow, token)
}

// UnfollowAll unfollows every login of the current NotFollowingBack snapshot in waves.
func (s *Session) UnfollowAll(ctx context.Context, token string) (batch.Report[graph.User], error) {
	return s.mutateAll(ctx, DirectionUnfollow, token)
}

func (s *Session) mutateOne(ctx context.Context, dir Direction, login, token string) (bool, error) {
	login = strings.TrimSpace(login)
	if token == "" || login == "" {
		return false, github.ErrMissingCredentials
	}
	key := graph.NormalizeLogin(login)

	s.mu.Lock()
	if _, busy := s.inFlight[dir][key]; busy {
		s.mu.Unlock()
		return false, fmt.Errorf("%s %s: %w", dir, login, ErrOperationInProgress)
	}
	s.inFlight[dir][key] = make(chan struct{})
	s.mu.Unlock()

	ok := false
	var err error
	defer func() {
		s.settle(dir, key, login, ok && err == nil)
	}()

	if dir == DirectionFollow {
		ok, err = s.mutator.Follow(ctx, login, token)
	} else {
		ok, err = s.mutator.Unfollow(ctx, login, token)
	}

	switch {
	case err != nil:
		operationsTotal.WithLabelValues(string(dir), "failure").Inc()
		s.logger.Warn().
			Err(err).
			Str("direction", string(dir)).
			Str("login", login).
			Str("error_kind", string(github.KindOf(err))).
			Msg("Mutation failed")
	case !ok:
		operationsTotal.WithLabelValues(string(dir), "not_applied").Inc()
	default:
		operationsTotal.WithLabelValues(string(dir), "success").Inc()
	}

	return ok, err
}

// settle clears the in-flight record and applies a successful outcome to the sets.
func (s *Session) settle(dir Direction, key, login string, succeeded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if done, ok := s.inFlight[dir][key]; ok {
		close(done)
		delete(s.inFlight[dir], key)
	}

	if !succeeded {
		s.failed[dir][key] = struct{}{}
		return
	}
	delete(s.failed[dir], key)

	user := graph.User{Login: login}
	switch dir {
	case DirectionFollow:
		user = findUser(s.result.NotFollowedBack, key, user)
		s.result.NotFollowedBack = removeUser(s.result.NotFollowedBack, key)
		s.nowFollowing = appendUnique(s.nowFollowing, user)
	case DirectionUnfollow:
		user = findUser(s.result.NotFollowingBack, key, user)
		s.result.NotFollowingBack = removeUser(s.result.NotFollowingBack, key)
		s.unfollowed = appendUnique(s.unfollowed, user)
	}
}

func (s *Session) mutateAll(ctx context.Context, dir Direction, token string) (batch.Report[graph.User], error) {
	if token == "" {
		return batch.Report[graph.User]{}, github.ErrMissingCredentials
	}

	s.mu.Lock()
	if s.bulk[dir] || len(s.inFlight[dir]) > 0 {
		s.mu.Unlock()
		return batch.Report[graph.User]{}, ErrOperationInProgress
	}
	s.bulk[dir] = true
	var snapshot []graph.User
	if dir == DirectionFollow {
		snapshot = append(snapshot, s.result.NotFollowedBack...)
	} else {
		snapshot = append(snapshot, s.result.NotFollowingBack...)
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.bulk[dir] = false
		s.mu.Unlock()
	}()

	s.logger.Info().
		Str("direction", string(dir)).
		Int("users", len(snapshot)).
		Int("wave_size", s.waveSize).
		Msg("Bulk run started")

	report := batch.RunWaves(ctx, snapshot, s.waveSize, func(ctx context.Context, u graph.User) error {
		ok, err := s.mutateOne(ctx, dir, u.Login, token)
		if errors.Is(err, ErrOperationInProgress) {
			// A single mutation of this login started after the snapshot.
			return s.join(ctx, dir, u.Login)
		}
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s %s: %w", dir, u.Login, ErrNotApplied)
		}
		return nil
	})

	wavesTotal.WithLabelValues(string(dir)).Add(float64(report.Waves))

	event := s.logger.Info()
	if len(report.Failures) > 0 || report.Stopped != nil {
		event = s.logger.Warn()
	}
	if report.Stopped != nil {
		event = event.AnErr("stopped", report.Stopped)
	}
	event.
		Str("direction", string(dir)).
		Int("attempted", report.Attempted).
		Int("succeeded", len(report.Succeeded)).
		Int("failed", len(report.Failures)).
		Int("waves", report.Waves).
		Msg("Bulk run finished")

	return report, nil
}

// join waits for the in-flight mutation of login and adopts its outcome.
func (s *Session) join(ctx context.Context, dir Direction, login string) error {
	key := graph.NormalizeLogin(login)

	s.mu.Lock()
	done := s.inFlight[dir][key]
	s.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	_, failed := s.failed[dir][key]
	s.mu.Unlock()
	if failed {
		return fmt.Errorf("%s %s: %w", dir, login, ErrNotApplied)
	}
	return nil
}

// IsFollowing reports whether a follow of login is in flight.
func (s *Session) IsFollowing(login string) bool {
	return s.isInFlight(DirectionFollow, login)
}

// IsUnfollowing reports whether an unfollow of login is in flight.
func (s *Session) IsUnfollowing(login string) bool {
	return s.isInFlight(DirectionUnfollow, login)
}

// IsFollowingAny reports whether any follow is in flight. Bulk follow is refused while true.
func (s *Session) IsFollowingAny() bool {
	return s.anyInFlight(DirectionFollow)
}

// IsUnfollowingAny reports whether any unfollow is in flight. Bulk unfollow is refused while true.
func (s *Session) IsUnfollowingAny() bool {
	return s.anyInFlight(DirectionUnfollow)
}

// IsSearching reports whether a search is running.
func (s *Session) IsSearching() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.searching
}

// State returns the mutation record of login in direction dir.
func (s *Session) State(login string, dir Direction) State {
	key := graph.NormalizeLogin(login)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.inFlight[dir][key]; ok {
		return StateInFlight
	}
	if _, ok := s.failed[dir][key]; ok {
		return StateFailed
	}

	markers := s.nowFollowing
	if dir == DirectionUnfollow {
		markers = s.unfollowed
	}
	for _, u := range markers {
		if u.Key() == key {
			return StateSucceeded
		}
	}
	return StateIdle
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		Username:         s.username,
		NotFollowingBack: append([]graph.User{}, s.result.NotFollowingBack...),
		NotFollowedBack:  append([]graph.User{}, s.result.NotFollowedBack...),
		Unfollowed:       append([]graph.User{}, s.unfollowed...),
		NowFollowing:     append([]graph.User{}, s.nowFollowing...),
		UnfollowInFlight: keys(s.inFlight[DirectionUnfollow]),
		FollowInFlight:   keys(s.inFlight[DirectionFollow]),
		Searching:        s.searching,
	}
}

func (s *Session) isInFlight(dir Direction, login string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inFlight[dir][graph.NormalizeLogin(login)]
	return ok
}

func (s *Session) anyInFlight(dir Direction) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight[dir]) > 0 || s.bulk[dir]
}

func cloneResult(r graph.Result) graph.Result {
	return graph.Result{
		NotFollowingBack: append([]graph.User{}, r.NotFollowingBack...),
		NotFollowedBack:  append([]graph.User{}, r.NotFollowedBack...),
	}
}

func findUser(list []graph.User, key string, fallback graph.User) graph.User {
	for _, u := range list {
		if u.Key() == key {
			return u
		}
	}
	return fallback
}

func removeUser(list []graph.User, key string) []graph.User {
	out := make([]graph.User, 0, len(list))
	for _, u := range list {
		if u.Key() != key {
			out = append(out, u)
		}
	}
	return out
}

func appendUnique(list []graph.User, user graph.User) []graph.User {
	for _, u := range list {
		if u.Key() == user.Key() {
			return list
		}
	}
	return append(list, user)
}

func keys[V any](set map[string]V) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
