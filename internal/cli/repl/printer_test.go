package repl

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"arena/internal/cli/event"
	"arena/internal/cli/model"
	"arena/internal/testutil"
	appErr "arena/pkg/errors"
)

func TestPrinterLines(t *testing.T) {
	cases := []struct {
		name string
		ev   event.Event
		want string
	}{
		{
			name: "verdict",
			ev:   event.JudgeResultReceived{PipelineID: "0123456789", Result: model.JudgeResult{StatusCode: "RERUN_ACCEPTED", ElapsedTime: 120}},
			want: "[01234567] verdict RERUN_ACCEPTED in 120 ms\n",
		},
		{
			name: "fractional elapsed",
			ev:   event.JudgeResultReceived{Result: model.JudgeResult{StatusCode: "WRONG_ANSWER", ElapsedTime: 1.5}},
			want: "[-] verdict WRONG_ANSWER in 1.50 ms\n",
		},
		{
			name: "refresh",
			ev:   event.RefreshCompleted{PipelineID: "p", View: event.ViewProblemRanking, Key: "two-sum", Payload: json.RawMessage(`[{},{}]`)},
			want: "[p] problem_ranking two-sum refreshed (2 entries)\n",
		},
		{
			name: "unreachable",
			ev: event.ServiceUnreachable{Service: "Auth", Err: appErr.ServiceUnreachable("Auth", nil).
				WithDetail(appErr.DetailMessage, "Invalid credentials")},
			want: "[-] Cannot connect to Auth Service: Invalid credentials\n",
		},
		{
			name: "expired",
			ev:   event.LoggedOut{Expired: true},
			want: "session expired, logged out\n",
		},
		{
			name: "problem",
			ev:   event.ProblemCreated{Problem: json.RawMessage(`{"_id":"p-1"}`)},
			want: "created problem p-1\n",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			NewPrinter(&buf, true).Emit(context.Background(), tc.ev)
			testutil.AssertEqual(t, buf.String(), tc.want)
		})
	}
}
