package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/igolaizola/hackjam/pkg/fusion"
	"github.com/igolaizola/hackjam/pkg/mood"
	"github.com/igolaizola/hackjam/pkg/suno"
	"github.com/oklog/ulid/v2"
)

const (
	DefaultPollInterval = 3 * time.Second
	DefaultClipTimeout  = 5 * time.Minute
)

// ErrValidation is returned for invalid session parameters.
var ErrValidation = errors.New("session: invalid request")

// State is the lifecycle state of a session.
type State string

const (
	Idle      State = "idle"
	Running   State = "running"
	Completed State = "completed"
	Cancelled State = "cancelled"
	Failed    State = "failed"
)

// Generator submits generations and reports their progress.
type Generator interface {
	Submit(ctx context.Context, r suno.Request) (string, error)
	Status(ctx context.Context, id string) (*suno.Clip, error)
}

// Persister stores a completed clip and returns where it was saved.
type Persister interface {
	Persist(ctx context.Context, clip *suno.Clip) (string, error)
}

// TopicFunc rewrites the topic of a track. previous is the last topic it
// returned for the same session. It returns an empty string to keep the
// default topic.
type TopicFunc func(ctx context.Context, base string, index int, previous string) string

// EmitFunc delivers an event to the subscriber. An error means the subscriber
// is gone.
type EmitFunc func(Event) error

// Budget bounds a session.
type Budget struct {
	MaxTracks   int
	MaxDuration time.Duration
	// Delay is the pause between tracks.
	Delay time.Duration
}

type Config struct {
	Generator Generator
	Profiles  []fusion.TasteProfile
	Mood      mood.Preset
	// Instrumental overrides the mood default when set.
	Instrumental *bool
	Tags         []string
	Topic        string
	TopicFunc    TopicFunc
	Persister    Persister
	Budget       Budget
	PollInterval time.Duration
	ClipTimeout  time.Duration
	Debug        bool
}

// Session is one bounded run of repeated generations.
type Session struct {
	id        string
	cfg       Config
	prompt    fusion.Prompt
	cancelC   chan struct{}
	cancelOne sync.Once
	// lastTopic is only touched by the goroutine running the session.
	lastTopic string

	mu         sync.Mutex
	state      State
	startedAt  time.Time
	endedAt    time.Time
	tracksDone int
	clips      []suno.Clip
}

// New validates the configuration and creates an idle session.
func New(cfg *Config) (*Session, error) {
	if cfg.Generator == nil {
		return nil, fmt.Errorf("session: missing generator: %w", ErrValidation)
	}
	if cfg.Budget.MaxTracks < 0 {
		return nil, fmt.Errorf("session: negative max tracks %d: %w", cfg.Budget.MaxTracks, ErrValidation)
	}
	if cfg.Budget.MaxDuration < 0 {
		return nil, fmt.Errorf("session: negative max duration %s: %w", cfg.Budget.MaxDuration, ErrValidation)
	}
	if cfg.Budget.Delay < 0 {
		return nil, fmt.Errorf("session: negative delay %s: %w", cfg.Budget.Delay, ErrValidation)
	}
	if len(cfg.Mood.Tags) == 0 {
		return nil, fmt.Errorf("session: mood %q has no tags: %w", cfg.Mood.ID, ErrValidation)
	}
	c := *cfg
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ClipTimeout <= 0 {
		c.ClipTimeout = DefaultClipTimeout
	}
	return &Session{
		id:      ulid.Make().String(),
		cfg:     c,
		prompt:  fusion.Fuse(c.Profiles, c.Mood, fusion.Options{Instrumental: c.Instrumental, Tags: c.Tags}),
		cancelC: make(chan struct{}),
		state:   Idle,
	}, nil
}

func (s *Session) ID() string {
	return s.id
}

// Prompt returns the fused prompt used for every track.
func (s *Session) Prompt() fusion.Prompt {
	return s.prompt
}

// Cancel asks the session to stop. It can be called many times and after the
// session has ended.
func (s *Session) Cancel() {
	s.cancelOne.Do(func() {
		close(s.cancelC)
	})
}

func (s *Session) cancelled() bool {
	select {
	case <-s.cancelC:
		return true
	default:
		return false
	}
}

func (s *Session) log(format string, args ...interface{}) {
	if s.cfg.Debug {
		format = "session %s: " + format + "\n"
		log.Printf(format, append([]interface{}{s.id}, args...)...)
	}
}

// Snapshot is a point in time view of a session.
type Snapshot struct {
	ID         string      `json:"id"`
	State      State       `json:"state"`
	StartedAt  *time.Time  `json:"startedAt,omitempty"`
	EndedAt    *time.Time  `json:"endedAt,omitempty"`
	MaxTracks  int         `json:"maxTracks"`
	MaxSeconds float64     `json:"maxSeconds"`
	TracksDone int         `json:"tracks_done"`
	Tags       string      `json:"tags"`
	Clips      []suno.Clip `json:"clips"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:         s.id,
		State:      s.state,
		StartedAt:  timePtr(s.startedAt),
		EndedAt:    timePtr(s.endedAt),
		MaxTracks:  s.cfg.Budget.MaxTracks,
		MaxSeconds: s.cfg.Budget.MaxDuration.Seconds(),
		TracksDone: s.tracksDone,
		Tags:       s.prompt.Tags,
		Clips:      append([]suno.Clip{}, s.clips...),
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	switch state {
	case Running:
		s.startedAt = time.Now()
	case Completed, Cancelled, Failed:
		s.endedAt = time.Now()
	}
}

func (s *Session) setClip(clip suno.Clip) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.clips {
		if s.clips[i].ID == clip.ID {
			s.clips[i] = clip
			return
		}
	}
	s.clips = append(s.clips, clip)
}

func (s *Session) trackDone() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracksDone++
	return s.tracksDone
}

// Run drives the session until its budget is exhausted, it is cancelled or
// an upstream call fails. Events are emitted in order through emit.
// Upstream failures are reported with a single error event and returned.
// If ctx is done or emit fails the session stops without further events.
func (s *Session) Run(ctx context.Context, emit EmitFunc) error {
	s.mu.Lock()
	if s.state != Idle {
		s.mu.Unlock()
		return fmt.Errorf("session: already started")
	}
	start := time.Now()
	s.state = Running
	s.startedAt = start
	s.mu.Unlock()

	instrumental := s.prompt.Instrumental
	explain := s.prompt.Explain
	if err := emit(Event{
		Type:         TypeSession,
		Event:        EventStart,
		SessionID:    s.id,
		Tags:         s.prompt.Tags,
		Instrumental: &instrumental,
		Explain:      &explain,
	}); err != nil {
		return s.abort(err)
	}

	budget := s.cfg.Budget
	reason := ReasonMaxTracks
	for i := 1; i <= budget.MaxTracks; i++ {
		if time.Since(start) >= budget.MaxDuration {
			reason = ReasonTime
			break
		}
		if s.cancelled() {
			reason = ReasonCancelled
			break
		}

		stopped, err := s.track(ctx, emit, i)
		if err != nil {
			return s.handle(ctx, emit, err)
		}
		if stopped {
			reason = ReasonCancelled
			break
		}

		if i == budget.MaxTracks || budget.Delay == 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return s.abort(ctx.Err())
		case <-s.cancelC:
		case <-time.After(budget.Delay):
		}
	}
	if ctx.Err() != nil {
		return s.abort(ctx.Err())
	}

	s.mu.Lock()
	done := s.tracksDone
	s.mu.Unlock()
	state := Completed
	if reason == ReasonCancelled {
		state = Cancelled
	}
	s.setState(state)
	s.log("end %s after %d tracks", reason, done)
	if err := emit(Event{
		Type:       TypeSession,
		Event:      EventEnd,
		SessionID:  s.id,
		TracksDone: &done,
		Reason:     reason,
	}); err != nil {
		s.log("couldn't emit end: %v", err)
	}
	return nil
}

// track submits one generation and follows it until it reaches a terminal
// stage. It reports whether cancellation was observed.
func (s *Session) track(ctx context.Context, emit EmitFunc, index int) (bool, error) {
	topic := TrackTopic(s.cfg.Topic, index)
	if s.cfg.TopicFunc != nil {
		if t := s.cfg.TopicFunc(ctx, s.cfg.Topic, index, s.lastTopic); t != "" {
			s.lastTopic = t
			topic = truncate(t, maxTopic)
		}
		// The topic may take a while, don't submit if we were stopped meanwhile
		if s.cancelled() || ctx.Err() != nil {
			return true, nil
		}
	}

	instrumental := s.prompt.Instrumental
	id, err := s.cfg.Generator.Submit(ctx, suno.Request{
		Topic:        topic,
		Tags:         s.prompt.Tags,
		Instrumental: &instrumental,
	})
	if err != nil {
		return false, fmt.Errorf("session: couldn't submit track %d: %w", index, err)
	}
	s.log("track %d submitted %s", index, id)

	clip := &suno.Clip{ID: id, Stage: suno.Submitted, Status: string(suno.Submitted)}
	s.setClip(*clip)
	if err := emit(trackEvent(s.id, index, clip)); err != nil {
		return false, disconnected{err}
	}

	deadline := time.Now().Add(s.cfg.ClipTimeout)
	stage := suno.Submitted
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-s.cancelC:
			return true, nil
		case <-time.After(s.cfg.PollInterval):
		}

		next, err := s.cfg.Generator.Status(ctx, id)
		if err != nil {
			return false, fmt.Errorf("session: couldn't poll track %d: %w", index, err)
		}

		if !stage.Advances(next.Stage) && time.Now().After(deadline) {
			next = &suno.Clip{
				ID:           id,
				Stage:        suno.Error,
				Status:       next.Status,
				ErrorMessage: "timed out",
			}
		}

		if stage.Advances(next.Stage) {
			stage = next.Stage
			ev := trackEvent(s.id, index, next)
			if stage == suno.Complete && s.cfg.Persister != nil {
				path, err := s.cfg.Persister.Persist(ctx, next)
				if err != nil {
					s.log("couldn't persist %s: %v", id, err)
					ev.SaveError = err.Error()
				} else {
					ev.SavedPath = path
				}
			}
			s.setClip(*next)
			if err := emit(ev); err != nil {
				return false, disconnected{err}
			}
			s.log("track %d %s", index, stage)
		}

		if stage.Terminal() {
			s.trackDone()
			return s.cancelled(), nil
		}
		if s.cancelled() {
			return true, nil
		}
	}
}

type disconnected struct {
	err error
}

func (d disconnected) Error() string {
	return fmt.Sprintf("session: subscriber gone: %v", d.err)
}

func (d disconnected) Unwrap() error {
	return d.err
}

// handle converts a track error into the final state of the session.
func (s *Session) handle(ctx context.Context, emit EmitFunc, err error) error {
	var d disconnected
	if errors.As(err, &d) || ctx.Err() != nil {
		return s.abort(err)
	}
	s.setState(Failed)
	s.log("failed: %v", err)
	if emitErr := emit(Event{
		Type:      TypeError,
		SessionID: s.id,
		Message:   err.Error(),
	}); emitErr != nil {
		s.log("couldn't emit error: %v", emitErr)
	}
	return err
}

// abort stops the session without emitting anything else.
func (s *Session) abort(err error) error {
	s.setState(Cancelled)
	s.log("aborted: %v", err)
	return err
}
