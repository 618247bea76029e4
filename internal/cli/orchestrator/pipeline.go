package orchestrator

import (
	"sync"
	"time"

	appErr "arena/pkg/errors"

	"github.com/google/uuid"
)

// State is a pipeline stage.
type State string

const (
	StateIdle       State = "Idle"
	StateSubmitting State = "Submitting"
	StateJudged     State = "Judged"
	StatePersisting State = "Persisting"
	StatePersisted  State = "Persisted"
	StateRefreshing State = "Refreshing"
	StateComplete   State = "Complete"
	StateFailed     State = "Failed"
)

// Kind names what a pipeline was started for.
type Kind string

const (
	KindSubmit           Kind = "submit"
	KindPersist          Kind = "persist"
	KindRerun            Kind = "rerun"
	KindSubmitAndPersist Kind = "submit_and_persist"
)

// A stand-alone persist starts from Idle; a chained one continues from Judged.
var transitions = map[State][]State{
	StateIdle:       {StateSubmitting, StatePersisting},
	StateSubmitting: {StateJudged, StateFailed},
	StateJudged:     {StatePersisting},
	StatePersisting: {StatePersisted, StateFailed},
	StatePersisted:  {StateRefreshing},
	StateRefreshing: {StateComplete},
}

func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// Transition is one recorded state change.
type Transition struct {
	From State
	To   State
	At   time.Time
}

// Pipeline is the state of one submission run. It is shared with nothing
// but the caller that started it.
type Pipeline struct {
	ID   string
	Kind Kind

	mu      sync.Mutex
	state   State
	history []Transition
}

func newPipeline(kind Kind) *Pipeline {
	return &Pipeline{ID: uuid.NewString(), Kind: kind, state: StateIdle}
}

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// History returns the transitions taken so far, oldest first.
func (p *Pipeline) History() []Transition {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Transition, len(p.history))
	copy(out, p.history)
	return out
}

// Path returns the visited states starting at Idle.
func (p *Pipeline) Path() []State {
	history := p.History()
	out := make([]State, 0, len(history)+1)
	out = append(out, StateIdle)
	for _, t := range history {
		out = append(out, t.To)
	}
	return out
}

func (p *Pipeline) transition(to State) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !canTransition(p.state, to) {
		return appErr.Newf(appErr.InvalidTransition, "pipeline %s cannot move from %s to %s", p.ID, p.state, to).
			WithDetail("from", string(p.state)).
			WithDetail("to", string(to))
	}
	p.history = append(p.history, Transition{From: p.state, To: to, At: time.Now()})
	p.state = to
	return nil
}
