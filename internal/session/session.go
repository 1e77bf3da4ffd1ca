// Package session owns one time-bounded scan: it acquires a discovery
// channel, drains its observations into a registry until the time budget
// expires or the caller cancels, then stops the channel exactly once and
// hands the final state to the presenter.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bluescan/internal/observation"
	"bluescan/internal/present"
	"bluescan/internal/registry"
	"bluescan/internal/source"
)

// State is the controller's lifecycle phase.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateScanning State = "scanning"
	StateStopping State = "stopping"
	StateFinished State = "finished"
	StateFailed   State = "failed"
)

// stopTimeout bounds the channel's stop request so a wedged collaborator
// cannot block finalization.
const stopTimeout = 5 * time.Second

// Result is the finalized outcome of a session.
type Result struct {
	Records   []*observation.Record
	StartedAt time.Time
	Elapsed   time.Duration
	Channel   string
	// StopErr records a failed stop request after an otherwise
	// successful scan. It does not prevent finalization.
	StopErr error
}

// Session runs one scan. It exclusively owns its registry and the
// discovery channel handle; neither is exposed before finalization.
type Session struct {
	src    source.Source
	pres   present.Presenter
	budget time.Duration
	log    zerolog.Logger

	reg *registry.Registry

	mu       sync.Mutex
	state    State
	stopOnce sync.Once
	stopErr  error
}

// New creates a session with its own fresh registry.
func New(src source.Source, pres present.Presenter, budget time.Duration, log zerolog.Logger) *Session {
	return &Session{
		src:    src,
		pres:   pres,
		budget: budget,
		log:    log.With().Str("channel", src.Name()).Logger(),
		reg:    registry.New(),
		state:  StateIdle,
	}
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Run executes the session to completion. It returns an error only when
// the discovery channel could not be acquired; an empty result set and a
// failed stop are not errors. Cancelling ctx stops the scan the same way
// a deadline does.
func (s *Session) Run(ctx context.Context) (*Result, error) {
	s.setState(StateStarting)

	obsCh, err := s.src.Start(ctx)
	if err != nil {
		s.setState(StateFailed)
		return nil, fmt.Errorf("acquire %s channel: %w", s.src.Name(), err)
	}

	// The budget clock starts only once the channel acknowledged the
	// start, so slow acquisition does not eat scan time.
	startedAt := time.Now()
	s.setState(StateScanning)
	s.log.Info().Dur("budget", s.budget).Msg("scanning")

	scanCtx, cancel := context.WithTimeout(ctx, s.budget)
	defer cancel()

drain:
	for {
		select {
		case <-scanCtx.Done():
			break drain
		case obs, ok := <-obsCh:
			if !ok {
				s.log.Warn().Msg("discovery channel closed before the deadline")
				break drain
			}
			rec, firstSeen := s.reg.Merge(obs)
			s.pres.Observed(rec, firstSeen)
		}
	}

	s.stop()
	elapsed := time.Since(startedAt)
	s.setState(StateFinished)

	records := s.reg.Records()
	s.pres.Summary(records, elapsed)
	s.log.Info().Int("devices", len(records)).Dur("elapsed", elapsed).Msg("scan finished")

	return &Result{
		Records:   records,
		StartedAt: startedAt,
		Elapsed:   elapsed,
		Channel:   s.src.Name(),
		StopErr:   s.stopErr,
	}, nil
}

// Abort triggers the stop path early. It is safe to call concurrently
// with a deadline expiry; the channel still receives exactly one stop
// request.
func (s *Session) Abort() {
	s.stop()
}

// stop issues the channel's stop request at most once, on its own bounded
// context so cleanup still runs when the scan context is already dead.
func (s *Session) stop() {
	s.stopOnce.Do(func() {
		s.setState(StateStopping)

		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()

		if err := s.src.Stop(stopCtx); err != nil {
			s.log.Warn().Err(err).Msg("channel stop failed")
			s.stopErr = err
		}
	})
}
