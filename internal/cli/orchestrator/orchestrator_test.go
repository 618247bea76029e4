package orchestrator_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"arena/internal/cli/event"
	"arena/internal/cli/metrics"
	"arena/internal/cli/model"
	"arena/internal/cli/orchestrator"
	"arena/internal/cli/state"
	"arena/internal/testutil"
	appErr "arena/pkg/errors"
)

const source = "class Solution { int twoSum() { return 0; } }"

type harness struct {
	backend *testutil.Backend
	rec     *event.Recorder
	metrics *metrics.Metrics
	orch    *orchestrator.Orchestrator
	session state.Session
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	backend := testutil.NewBackend(t)
	token := backend.AddUser("u1", "alice", "pw")
	rec := &event.Recorder{}
	m := metrics.New()
	return &harness{
		backend: backend,
		rec:     rec,
		metrics: m,
		orch:    orchestrator.New(backend.Client(), rec, m),
		session: state.Session{Token: token, UserID: "u1"},
	}
}

func (h *harness) pipelineCount(t *testing.T, kind, outcome string) float64 {
	t.Helper()
	samples, err := h.metrics.Snapshot()
	testutil.AssertNoError(t, err)
	for _, s := range samples {
		if s.Name == "arena_pipelines_total" && s.Labels["kind"] == kind && s.Labels["outcome"] == outcome {
			return s.Value
		}
	}
	return 0
}

func javaSubmission() model.SourceSubmission {
	return model.SourceSubmission{SourceCode: source, ProblemID: "two-sum", UserID: "u1", Language: "java"}
}

func TestSubmitMergesJudgeResult(t *testing.T) {
	h := newHarness(t)
	h.backend.SetJudgeResult("two-sum", map[string]interface{}{"status_code": "ACCEPTED", "elapsed_time": 120})

	report, err := h.orch.Submit(context.Background(), source, "two-sum")
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, report.Result.StatusCode, model.StatusAccepted)
	testutil.AssertEqual(t, report.Result.ElapsedTime, float64(120))
	testutil.AssertEqual(t, report.Result.SourceCode, source)
	testutil.AssertEqual(t, report.Result.ProblemID, "two-sum")
	testutil.AssertEqual(t, report.Pipeline.Path(), []orchestrator.State{
		orchestrator.StateIdle, orchestrator.StateSubmitting, orchestrator.StateJudged,
	})
	testutil.AssertEqual(t, h.rec.Kinds(), []event.Kind{event.KindJudgingStarted, event.KindJudgeResultReceived})

	req, ok := h.backend.Last(http.MethodPost, "/judge/problems/two-sum/submit")
	testutil.AssertTrue(t, ok, "judge call should be recorded")
	testutil.AssertEqual(t, string(req.Body), source)
	testutil.AssertEqual(t, h.pipelineCount(t, "submit", metrics.OutcomeJudged), float64(1))
}

func TestJudgeTransportFailureHaltsPipeline(t *testing.T) {
	h := newHarness(t)
	h.backend.Close()

	report, err := h.orch.SubmitAndPersist(context.Background(), h.session, javaSubmission(), "EASY")
	testutil.AssertTrue(t, appErr.IsServiceUnreachable(err), "expected service unreachable")
	testutil.AssertEqual(t, appErr.ServiceOf(err), "Judge")
	testutil.AssertEqual(t, report.Pipeline.State(), orchestrator.StateFailed)
	testutil.AssertEqual(t, h.backend.Count(http.MethodPost, "/data/submissions"), 0)

	testutil.AssertEqual(t, h.rec.Count(event.KindServiceUnreachable), 1)
	testutil.AssertEqual(t, h.rec.Count(event.KindSubmissionSaved), 0)
	testutil.AssertEqual(t, h.rec.Count(event.KindRefreshCompleted), 0)
	for _, ev := range h.rec.Events() {
		if failed, ok := ev.(event.ServiceUnreachable); ok {
			testutil.AssertEqual(t, failed.Service, "Judge")
			testutil.AssertEqual(t, failed.PipelineID, report.Pipeline.ID)
		}
	}
	testutil.AssertEqual(t, h.pipelineCount(t, "submit_and_persist", metrics.OutcomeFailed), float64(1))
}

func TestJudgeErrorStatusSendsNothingToData(t *testing.T) {
	h := newHarness(t)
	h.backend.Script(http.MethodPost, "/judge/problems/two-sum/submit", http.StatusInternalServerError, `{"error":"boom"}`)

	_, err := h.orch.Rerun(context.Background(), h.session, javaSubmission(), "EASY")
	testutil.AssertTrue(t, appErr.IsServiceUnreachable(err), "expected service unreachable")
	testutil.AssertEqual(t, appErr.StatusOf(err), http.StatusInternalServerError)
	testutil.AssertEqual(t, h.backend.Count(http.MethodPost, "/data/submissions"), 0)
	testutil.AssertEqual(t, h.backend.Count(http.MethodGet, "/data/ranking/"), 0)
}

func TestPersistRefreshTargets(t *testing.T) {
	cases := []struct {
		name        string
		isForAll    bool
		wantAll     int
		wantPerUser int
	}{
		{name: "for all", isForAll: true, wantAll: 1, wantPerUser: 0},
		{name: "per user", isForAll: false, wantAll: 0, wantPerUser: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			result := model.JudgeResult{StatusCode: model.StatusAccepted, ElapsedTime: 80, SourceCode: source, ProblemID: "two-sum"}

			report, err := h.orch.Persist(context.Background(), h.session, result, "u1",
				model.Problem{ID: "two-sum", Level: "EASY"}, "java", tc.isForAll)
			testutil.AssertNoError(t, err)
			testutil.AssertFalse(t, report.Skipped, "persist should not be skipped")
			testutil.AssertEqual(t, report.Pipeline.State(), orchestrator.StateComplete)
			testutil.AssertEqual(t, report.Submission.ID, "s-1")

			testutil.AssertEqual(t, h.backend.Count(http.MethodPost, "/data/submissions"), 1)
			testutil.AssertEqual(t, h.backend.Count(http.MethodGet, "/data/submissions/"), tc.wantAll)
			testutil.AssertEqual(t, h.backend.Count(http.MethodGet, "/data/submissions/u1"), tc.wantPerUser)
			testutil.AssertEqual(t, h.backend.Count(http.MethodGet, "/data/ranking/"), 1)

			testutil.AssertEqual(t, len(report.Refreshes), 2)
			for _, out := range report.Refreshes {
				testutil.AssertTrue(t, out.OK(), "refresh should succeed")
			}
			testutil.AssertEqual(t, h.rec.Count(event.KindSubmissionSaved), 1)
			testutil.AssertEqual(t, h.rec.Count(event.KindRefreshCompleted), 2)
			testutil.AssertEqual(t, h.pipelineCount(t, "persist", metrics.OutcomeComplete), float64(1))
		})
	}
}

func TestPersistWithoutTokenIsNoop(t *testing.T) {
	h := newHarness(t)
	result := model.JudgeResult{StatusCode: model.StatusAccepted, SourceCode: source, ProblemID: "two-sum"}

	report, err := h.orch.Persist(context.Background(), state.Session{}, result, "u1",
		model.Problem{ID: "two-sum", Level: "EASY"}, "java", false)
	testutil.AssertNoError(t, err)
	testutil.AssertTrue(t, report.Skipped, "persist should be skipped")
	testutil.AssertEqual(t, report.Pipeline.State(), orchestrator.StateIdle)
	testutil.AssertEqual(t, len(report.Pipeline.History()), 0)
	testutil.AssertEqual(t, len(h.backend.Requests()), 0)
	testutil.AssertEqual(t, len(h.rec.Events()), 0)
	testutil.AssertEqual(t, h.pipelineCount(t, "persist", metrics.OutcomeSkipped), float64(1))
}

func TestSubmitAndPersistWithoutTokenStopsAtJudged(t *testing.T) {
	h := newHarness(t)

	report, err := h.orch.SubmitAndPersist(context.Background(), state.Session{}, javaSubmission(), "EASY")
	testutil.AssertNoError(t, err)
	testutil.AssertTrue(t, report.Persist.Skipped, "persist should be skipped")
	testutil.AssertEqual(t, report.Pipeline.State(), orchestrator.StateJudged)
	testutil.AssertEqual(t, len(h.backend.Requests()), 1)
	testutil.AssertEqual(t, h.rec.Kinds(), []event.Kind{event.KindJudgingStarted, event.KindJudgeResultReceived})
}

func TestSubmitAndPersistFullPath(t *testing.T) {
	h := newHarness(t)

	report, err := h.orch.SubmitAndPersist(context.Background(), h.session, javaSubmission(), "EASY")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, report.Pipeline.Path(), []orchestrator.State{
		orchestrator.StateIdle,
		orchestrator.StateSubmitting,
		orchestrator.StateJudged,
		orchestrator.StatePersisting,
		orchestrator.StatePersisted,
		orchestrator.StateRefreshing,
		orchestrator.StateComplete,
	})

	kinds := h.rec.Kinds()
	testutil.AssertEqual(t, len(kinds), 5)
	testutil.AssertEqual(t, kinds[:3], []event.Kind{
		event.KindJudgingStarted, event.KindJudgeResultReceived, event.KindSubmissionSaved,
	})
	testutil.AssertEqual(t, h.rec.Count(event.KindRefreshCompleted), 2)
	testutil.AssertEqual(t, h.backend.Count(http.MethodGet, "/data/submissions/u1"), 1)
	testutil.AssertEqual(t, h.backend.Count(http.MethodGet, "/data/submissions/"), 0)

	for _, ev := range h.rec.Events() {
		if done, ok := ev.(event.RefreshCompleted); ok {
			testutil.AssertEqual(t, done.PipelineID, report.Pipeline.ID)
		}
	}
}

func TestRerunRewritesOnlyAccepted(t *testing.T) {
	cases := []struct {
		judged string
		want   string
	}{
		{judged: model.StatusAccepted, want: model.StatusRerunAccepted},
		{judged: model.StatusWrongAnswer, want: model.StatusWrongAnswer},
		{judged: model.StatusTimeLimitExceeded, want: model.StatusTimeLimitExceeded},
		{judged: model.StatusCompileError, want: model.StatusCompileError},
	}
	for _, tc := range cases {
		t.Run(tc.judged, func(t *testing.T) {
			h := newHarness(t)
			h.backend.SetJudgeResult("two-sum", map[string]interface{}{"status_code": tc.judged, "elapsed_time": 120})

			report, err := h.orch.Rerun(context.Background(), h.session, javaSubmission(), "EASY")
			testutil.AssertNoError(t, err)
			testutil.AssertEqual(t, report.OriginalStatus, tc.judged)
			testutil.AssertEqual(t, report.Result.StatusCode, tc.want)

			req, ok := h.backend.Last(http.MethodPost, "/data/submissions")
			testutil.AssertTrue(t, ok, "persist call should be recorded")
			var body map[string]interface{}
			testutil.MustUnmarshalJSON(t, req.Body, &body)
			testutil.AssertEqual(t, body["statusCode"], tc.want)
		})
	}
}

func TestRerunPersistsAndRefreshesAll(t *testing.T) {
	h := newHarness(t)
	h.backend.SetJudgeResult("two-sum", map[string]interface{}{"status_code": "ACCEPTED", "elapsed_time": 120})

	report, err := h.orch.Rerun(context.Background(), h.session, javaSubmission(), "EASY")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, report.Pipeline.State(), orchestrator.StateComplete)

	req, _ := h.backend.Last(http.MethodPost, "/data/submissions")
	var body map[string]interface{}
	testutil.MustUnmarshalJSON(t, req.Body, &body)
	testutil.AssertEqual(t, body, map[string]interface{}{
		"problemId":    "two-sum",
		"level":        "EASY",
		"elapsed_time": float64(120),
		"sourceCode":   source,
		"statusCode":   "RERUN_ACCEPTED",
		"userId":       "u1",
		"language":     "java",
	})
	testutil.AssertEqual(t, req.Header.Get("Authorization"), "Bearer "+h.session.Token)

	testutil.AssertEqual(t, h.backend.Count(http.MethodGet, "/data/submissions/"), 1)
	testutil.AssertEqual(t, h.backend.Count(http.MethodGet, "/data/submissions/u1"), 0)
	testutil.AssertEqual(t, h.backend.Count(http.MethodGet, "/data/ranking/"), 1)
	testutil.AssertEqual(t, h.pipelineCount(t, "rerun", metrics.OutcomeComplete), float64(1))
}

func TestPersistFailureSkipsRefresh(t *testing.T) {
	h := newHarness(t)
	h.backend.Script(http.MethodPost, "/data/submissions", http.StatusInternalServerError, `{"error":"db down"}`)

	report, err := h.orch.SubmitAndPersist(context.Background(), h.session, javaSubmission(), "EASY")
	testutil.AssertTrue(t, appErr.IsServiceUnreachable(err), "expected service unreachable")
	testutil.AssertEqual(t, appErr.ServiceOf(err), "Submissions")
	testutil.AssertEqual(t, report.Pipeline.State(), orchestrator.StateFailed)
	testutil.AssertEqual(t, h.backend.Count(http.MethodGet, "/data/ranking/"), 0)
	testutil.AssertEqual(t, h.rec.Count(event.KindServiceUnreachable), 1)
	testutil.AssertEqual(t, h.rec.Count(event.KindSubmissionSaved), 0)
}

func TestRefreshFailureKeepsPersisted(t *testing.T) {
	h := newHarness(t)
	h.backend.Script(http.MethodGet, "/data/ranking/", http.StatusBadGateway, `{}`)

	report, err := h.orch.SubmitAndPersist(context.Background(), h.session, javaSubmission(), "EASY")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, report.Pipeline.State(), orchestrator.StateComplete)
	testutil.AssertEqual(t, h.backend.Count(http.MethodGet, "/data/submissions/u1"), 1)

	var okCount, failed int
	for _, out := range report.Persist.Refreshes {
		if out.OK() {
			okCount++
		} else if out.Err != nil {
			failed++
		}
	}
	testutil.AssertEqual(t, okCount, 1)
	testutil.AssertEqual(t, failed, 1)
	testutil.AssertEqual(t, h.rec.Count(event.KindSubmissionSaved), 1)
	testutil.AssertEqual(t, h.rec.Count(event.KindRefreshCompleted), 1)
	testutil.AssertEqual(t, h.rec.Count(event.KindServiceUnreachable), 1)
}

func TestRefreshesRunConcurrently(t *testing.T) {
	h := newHarness(t)
	delay := 300 * time.Millisecond
	h.backend.Delay(http.MethodGet, "/data/submissions/u1", delay)
	h.backend.Delay(http.MethodGet, "/data/ranking/", delay)

	start := time.Now()
	_, err := h.orch.Persist(context.Background(), h.session,
		model.JudgeResult{StatusCode: model.StatusAccepted, SourceCode: source, ProblemID: "two-sum"},
		"u1", model.Problem{ID: "two-sum", Level: "EASY"}, "java", false)
	elapsed := time.Since(start)
	testutil.AssertNoError(t, err)
	testutil.AssertTrue(t, elapsed >= delay, "persist should wait for the refreshes")
	testutil.AssertTrue(t, elapsed < 2*delay, "refreshes should overlap")
	testutil.AssertEqual(t, h.rec.Count(event.KindRefreshCompleted), 2)
}

func TestPipelinesAreIndependent(t *testing.T) {
	h := newHarness(t)
	a, err := h.orch.Submit(context.Background(), source, "two-sum")
	testutil.AssertNoError(t, err)
	b, err := h.orch.Submit(context.Background(), source, "two-sum")
	testutil.AssertNoError(t, err)
	testutil.AssertTrue(t, a.Pipeline.ID != b.Pipeline.ID, "pipelines should have distinct ids")
	testutil.AssertEqual(t, h.pipelineCount(t, "submit", metrics.OutcomeJudged), float64(2))
}
