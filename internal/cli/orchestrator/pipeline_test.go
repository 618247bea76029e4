package orchestrator

import (
	"testing"

	"arena/internal/testutil"
	appErr "arena/pkg/errors"
)

func TestPipelineTransitions(t *testing.T) {
	cases := []struct {
		name string
		path []State
		ok   bool
	}{
		{name: "full run", path: []State{StateSubmitting, StateJudged, StatePersisting, StatePersisted, StateRefreshing, StateComplete}, ok: true},
		{name: "stand-alone persist", path: []State{StatePersisting, StatePersisted, StateRefreshing, StateComplete}, ok: true},
		{name: "judge failure", path: []State{StateSubmitting, StateFailed}, ok: true},
		{name: "persist failure", path: []State{StateSubmitting, StateJudged, StatePersisting, StateFailed}, ok: true},
		{name: "skip judge", path: []State{StateJudged}, ok: false},
		{name: "refresh before persist", path: []State{StateSubmitting, StateJudged, StateRefreshing}, ok: false},
		{name: "leave failed", path: []State{StateSubmitting, StateFailed, StatePersisting}, ok: false},
		{name: "leave complete", path: []State{StatePersisting, StatePersisted, StateRefreshing, StateComplete, StateIdle}, ok: false},
		{name: "fail while refreshing", path: []State{StatePersisting, StatePersisted, StateRefreshing, StateFailed}, ok: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := newPipeline(KindSubmit)
			var err error
			for _, s := range tc.path {
				if err = p.transition(s); err != nil {
					break
				}
			}
			if tc.ok {
				testutil.AssertNoError(t, err)
				testutil.AssertEqual(t, p.State(), tc.path[len(tc.path)-1])
				testutil.AssertEqual(t, len(p.History()), len(tc.path))
				return
			}
			testutil.AssertTrue(t, appErr.Is(err, appErr.InvalidTransition), "expected invalid transition")
		})
	}
}

func TestRejectedTransitionKeepsState(t *testing.T) {
	p := newPipeline(KindRerun)
	testutil.AssertNoError(t, p.transition(StateSubmitting))
	err := p.transition(StateComplete)
	testutil.AssertTrue(t, err != nil, "transition should be rejected")
	testutil.AssertEqual(t, p.State(), StateSubmitting)
	testutil.AssertEqual(t, p.Path(), []State{StateIdle, StateSubmitting})
}

func TestTerminalStates(t *testing.T) {
	testutil.AssertTrue(t, StateComplete.Terminal(), "complete is terminal")
	testutil.AssertTrue(t, StateFailed.Terminal(), "failed is terminal")
	testutil.AssertFalse(t, StateJudged.Terminal(), "judged is not terminal")
	testutil.AssertFalse(t, StateIdle.Terminal(), "idle is not terminal")
}
