// Package event defines what the client tells its consumers. Consumers (the
// view store, the REPL printer) implement Sink and never call back into the
// producers.
package event

import (
	"context"
	"encoding/json"
	"sync"

	"arena/internal/cli/model"
)

// Kind names an event variant.
type Kind string

const (
	KindJudgingStarted      Kind = "JudgingStarted"
	KindJudgeResultReceived Kind = "JudgeResultReceived"
	KindSubmissionSaved     Kind = "SubmissionSaved"
	KindRefreshCompleted    Kind = "RefreshCompleted"
	KindServiceUnreachable  Kind = "ServiceUnreachable"
	KindSubmissionDeleted   Kind = "SubmissionDeleted"
	KindSignedUp            Kind = "SignedUp"
	KindLoggedIn            Kind = "LoggedIn"
	KindLoggedOut           Kind = "LoggedOut"
	KindSessionChecked      Kind = "SessionChecked"
	KindUsersLoaded         Kind = "UsersLoaded"
	KindUserUpdated         Kind = "UserUpdated"
	KindProblemCreated      Kind = "ProblemCreated"
)

// Event is one of the variants declared in this package.
type Event interface {
	Kind() Kind
	sealed()
}

// View names a replicated read model.
type View string

const (
	ViewSubmissions    View = "submissions"
	ViewRanking        View = "ranking"
	ViewProblemRanking View = "problem_ranking"
)

type JudgingStarted struct {
	PipelineID string
	ProblemID  string
}

type JudgeResultReceived struct {
	PipelineID string
	Result     model.JudgeResult
}

type SubmissionSaved struct {
	PipelineID string
	Submission model.PersistedSubmission
}

// RefreshCompleted replaces a view wholesale with Payload. Key is the user id
// for per-user submissions and the problem id for problem rankings.
type RefreshCompleted struct {
	PipelineID string
	View       View
	Key        string
	Payload    json.RawMessage
}

type ServiceUnreachable struct {
	PipelineID string
	Service    string
	Err        error
}

// SubmissionDeleted carries the submissions list returned after a delete.
type SubmissionDeleted struct {
	SubmissionID string
	Payload      json.RawMessage
}

type SignedUp struct {
	Username string
}

type LoggedIn struct {
	User json.RawMessage
}

type LoggedOut struct {
	// Expired is set when the session check rejected the stored token.
	Expired bool
}

type SessionChecked struct {
	User json.RawMessage
}

type UsersLoaded struct {
	Users       json.RawMessage
	WithDetails bool
}

type UserUpdated struct {
	User json.RawMessage
}

type ProblemCreated struct {
	Problem json.RawMessage
}

func (JudgingStarted) Kind() Kind      { return KindJudgingStarted }
func (JudgeResultReceived) Kind() Kind { return KindJudgeResultReceived }
func (SubmissionSaved) Kind() Kind     { return KindSubmissionSaved }
func (RefreshCompleted) Kind() Kind    { return KindRefreshCompleted }
func (ServiceUnreachable) Kind() Kind  { return KindServiceUnreachable }
func (SubmissionDeleted) Kind() Kind   { return KindSubmissionDeleted }
func (SignedUp) Kind() Kind            { return KindSignedUp }
func (LoggedIn) Kind() Kind            { return KindLoggedIn }
func (LoggedOut) Kind() Kind           { return KindLoggedOut }
func (SessionChecked) Kind() Kind      { return KindSessionChecked }
func (UsersLoaded) Kind() Kind         { return KindUsersLoaded }
func (UserUpdated) Kind() Kind         { return KindUserUpdated }
func (ProblemCreated) Kind() Kind      { return KindProblemCreated }

func (JudgingStarted) sealed()      {}
func (JudgeResultReceived) sealed() {}
func (SubmissionSaved) sealed()     {}
func (RefreshCompleted) sealed()    {}
func (ServiceUnreachable) sealed()  {}
func (SubmissionDeleted) sealed()   {}
func (SignedUp) sealed()            {}
func (LoggedIn) sealed()            {}
func (LoggedOut) sealed()           {}
func (SessionChecked) sealed()      {}
func (UsersLoaded) sealed()         {}
func (UserUpdated) sealed()         {}
func (ProblemCreated) sealed()      {}

// Sink consumes events. Emit must be safe for concurrent use.
type Sink interface {
	Emit(ctx context.Context, ev Event)
}

// Func adapts a function to Sink.
type Func func(ctx context.Context, ev Event)

func (f Func) Emit(ctx context.Context, ev Event) {
	f(ctx, ev)
}

// Discard drops every event.
var Discard Sink = Func(func(context.Context, Event) {})

// Bus fans events out to its sinks in subscription order.
type Bus struct {
	mu    sync.RWMutex
	sinks []Sink
}

func NewBus(sinks ...Sink) *Bus {
	b := &Bus{}
	for _, s := range sinks {
		b.Subscribe(s)
	}
	return b
}

func (b *Bus) Subscribe(s Sink) {
	if s == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

func (b *Bus) Emit(ctx context.Context, ev Event) {
	b.mu.RLock()
	sinks := b.sinks
	b.mu.RUnlock()
	for _, s := range sinks {
		s.Emit(ctx, ev)
	}
}

// Recorder keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Kinds returns the recorded kinds in order.
func (r *Recorder) Kinds() []Kind {
	events := r.Events()
	out := make([]Kind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind()
	}
	return out
}

// Count returns how many recorded events have kind k.
func (r *Recorder) Count(k Kind) int {
	n := 0
	for _, ev := range r.Events() {
		if ev.Kind() == k {
			n++
		}
	}
	return n
}

// Reset drops recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
