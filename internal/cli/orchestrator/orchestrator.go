// Package orchestrator drives one submission from judging through persistence
// to the refresh of the submissions and ranking views.
package orchestrator

import (
	"context"
	"net/http"
	"net/url"

	"arena/internal/cli/event"
	httpclient "arena/internal/cli/http"
	"arena/internal/cli/metrics"
	"arena/internal/cli/model"
	"arena/internal/cli/refresh"
	"arena/internal/cli/state"
	appErr "arena/pkg/errors"
	"arena/pkg/utils/contextkey"
	"arena/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SubmitReport describes a judge-only run.
type SubmitReport struct {
	Pipeline *Pipeline
	Result   model.JudgeResult
}

// PersistReport describes a persist run. Skipped is set when there was no
// session and nothing was sent.
type PersistReport struct {
	Pipeline   *Pipeline
	Skipped    bool
	Submission model.PersistedSubmission
	Refreshes  []refresh.Outcome
}

// RunReport describes a judge run followed by persistence on one pipeline.
type RunReport struct {
	Pipeline *Pipeline
	Result   model.JudgeResult
	Persist  PersistReport
}

// RerunReport is a RunReport whose verdict may have been rewritten.
type RerunReport struct {
	RunReport
	// OriginalStatus is the verdict before ACCEPTED became RERUN_ACCEPTED.
	OriginalStatus string
}

// Orchestrator runs submission pipelines. It is safe for concurrent use;
// pipelines share nothing but the service client.
type Orchestrator struct {
	client    refresh.Invoker
	refresher *refresh.Coordinator
	sink      event.Sink
	metrics   *metrics.Metrics
}

func New(client refresh.Invoker, sink event.Sink, m *metrics.Metrics) *Orchestrator {
	if sink == nil {
		sink = event.Discard
	}
	return &Orchestrator{
		client:    client,
		refresher: refresh.New(client, sink),
		sink:      sink,
		metrics:   m,
	}
}

// Refresher exposes the coordinator the orchestrator refreshes views with.
func (o *Orchestrator) Refresher() *refresh.Coordinator {
	return o.refresher
}

// Submit sends sourceCode to the judge for problemID.
func (o *Orchestrator) Submit(ctx context.Context, sourceCode, problemID string) (SubmitReport, error) {
	p := newPipeline(KindSubmit)
	ctx = withPipeline(ctx, p)
	result, err := o.judge(ctx, p, sourceCode, problemID)
	o.finish(ctx, p, err)
	return SubmitReport{Pipeline: p, Result: result}, err
}

// Persist stores result for userID and refreshes the views it affects. With
// isForAll the whole submissions list is refetched, otherwise only userID's.
// Without a session nothing happens and the report is marked skipped.
func (o *Orchestrator) Persist(ctx context.Context, session state.Session, result model.JudgeResult, userID string, problem model.Problem, language string, isForAll bool) (PersistReport, error) {
	p := newPipeline(KindPersist)
	ctx = withPipeline(ctx, p)
	report, err := o.persist(ctx, p, session, result, userID, problem, language, isForAll)
	o.finish(ctx, p, err)
	return report, err
}

// SubmitAndPersist judges sub and persists the verdict for sub.UserID.
func (o *Orchestrator) SubmitAndPersist(ctx context.Context, session state.Session, sub model.SourceSubmission, level string) (RunReport, error) {
	p := newPipeline(KindSubmitAndPersist)
	ctx = withPipeline(ctx, p)
	report, err := o.run(ctx, p, session, sub, level, false, nil)
	o.finish(ctx, p, err)
	return report, err
}

// Rerun judges sub again, records an ACCEPTED verdict as RERUN_ACCEPTED and
// refreshes every user's submissions.
func (o *Orchestrator) Rerun(ctx context.Context, session state.Session, sub model.SourceSubmission, level string) (RerunReport, error) {
	p := newPipeline(KindRerun)
	ctx = withPipeline(ctx, p)
	var original string
	report, err := o.run(ctx, p, session, sub, level, true, func(r *model.JudgeResult) {
		original = r.StatusCode
		if r.StatusCode == model.StatusAccepted {
			r.StatusCode = model.StatusRerunAccepted
		}
	})
	o.finish(ctx, p, err)
	return RerunReport{RunReport: report, OriginalStatus: original}, err
}

func (o *Orchestrator) run(ctx context.Context, p *Pipeline, session state.Session, sub model.SourceSubmission, level string, isForAll bool, rewrite func(*model.JudgeResult)) (RunReport, error) {
	report := RunReport{Pipeline: p}
	result, err := o.judge(ctx, p, sub.SourceCode, sub.ProblemID)
	if err != nil {
		return report, err
	}
	if rewrite != nil {
		rewrite(&result)
	}
	report.Result = result
	problem := model.Problem{ID: sub.ProblemID, Level: level}
	report.Persist, err = o.persist(ctx, p, session, result, sub.UserID, problem, sub.Language, isForAll)
	return report, err
}

func (o *Orchestrator) judge(ctx context.Context, p *Pipeline, sourceCode, problemID string) (model.JudgeResult, error) {
	if err := p.transition(StateSubmitting); err != nil {
		return model.JudgeResult{}, err
	}
	o.sink.Emit(ctx, event.JudgingStarted{PipelineID: p.ID, ProblemID: problemID})

	out, err := o.client.Invoke(ctx, httpclient.Request{
		Service: httpclient.Judge,
		Method:  http.MethodPost,
		Path:    "/problems/" + url.PathEscape(problemID) + "/submit",
		RawBody: []byte(sourceCode),
	}, state.Session{})
	if err != nil {
		return model.JudgeResult{}, o.fail(ctx, p, httpclient.Judge, err)
	}
	result, err := model.NewJudgeResult(out.Payload, sourceCode, problemID)
	if err != nil {
		return model.JudgeResult{}, o.fail(ctx, p, httpclient.Judge, appErr.Wrap(err, appErr.InvalidFormat))
	}
	if err := p.transition(StateJudged); err != nil {
		return result, err
	}
	logger.Info(ctx, "judge verdict received",
		zap.String("problem_id", problemID),
		zap.String("status", result.StatusCode),
		zap.Float64("elapsed_time", result.ElapsedTime),
	)
	o.sink.Emit(ctx, event.JudgeResultReceived{PipelineID: p.ID, Result: result})
	return result, nil
}

func (o *Orchestrator) persist(ctx context.Context, p *Pipeline, session state.Session, result model.JudgeResult, userID string, problem model.Problem, language string, isForAll bool) (PersistReport, error) {
	report := PersistReport{Pipeline: p}
	if !session.Valid() {
		logger.Debug(ctx, "no session, submission not persisted")
		report.Skipped = true
		return report, nil
	}
	if err := p.transition(StatePersisting); err != nil {
		return report, err
	}

	problemID := problem.ID
	if problemID == "" {
		problemID = result.ProblemID
	}
	out, err := o.client.Invoke(ctx, httpclient.Request{
		Service: httpclient.Data,
		Method:  http.MethodPost,
		Path:    "/submissions",
		Body: model.SubmissionPayload{
			ProblemID:   problemID,
			Level:       problem.Level,
			ElapsedTime: result.ElapsedTime,
			SourceCode:  result.SourceCode,
			StatusCode:  result.StatusCode,
			UserID:      userID,
			Language:    language,
		},
		RequiresAuth: true,
	}, session)
	if err != nil {
		return report, o.fail(ctx, p, httpclient.Data, err)
	}
	saved, err := model.DecodePersistedSubmission(out.Payload)
	if err != nil {
		logger.Warn(ctx, "decode saved submission failed", zap.Error(err))
		saved = model.PersistedSubmission{Raw: out.Payload}
	}
	report.Submission = saved
	if err := p.transition(StatePersisted); err != nil {
		return report, err
	}
	o.sink.Emit(ctx, event.SubmissionSaved{PipelineID: p.ID, Submission: saved})

	if err := p.transition(StateRefreshing); err != nil {
		return report, err
	}
	report.Refreshes = o.refreshAfterPersist(ctx, session, userID, isForAll)
	if err := p.transition(StateComplete); err != nil {
		return report, err
	}
	return report, nil
}

// refreshAfterPersist refetches submissions and ranking concurrently and
// returns once both have settled. A failed refresh never cancels the other.
func (o *Orchestrator) refreshAfterPersist(ctx context.Context, session state.Session, userID string, isForAll bool) []refresh.Outcome {
	outcomes := make([]refresh.Outcome, 2)
	var g errgroup.Group
	g.Go(func() error {
		if isForAll {
			outcomes[0] = o.refresher.RefreshAllSubmissions(ctx, session)
		} else {
			outcomes[0] = o.refresher.RefreshSubmissions(ctx, session, userID)
		}
		return nil
	})
	g.Go(func() error {
		outcomes[1] = o.refresher.RefreshRanking(ctx)
		return nil
	})
	_ = g.Wait()
	for _, out := range outcomes {
		if out.Err != nil {
			logger.Warn(ctx, "view refresh failed", zap.String("view", string(out.View)), zap.Error(out.Err))
		}
	}
	return outcomes
}

func (o *Orchestrator) fail(ctx context.Context, p *Pipeline, service httpclient.Service, err error) error {
	if terr := p.transition(StateFailed); terr != nil {
		logger.Error(ctx, "pipeline transition failed", zap.Error(terr))
	}
	o.sink.Emit(ctx, event.ServiceUnreachable{PipelineID: p.ID, Service: string(service), Err: err})
	return err
}

func (o *Orchestrator) finish(ctx context.Context, p *Pipeline, err error) {
	outcome := metrics.OutcomeSkipped
	switch p.State() {
	case StateComplete:
		outcome = metrics.OutcomeComplete
	case StateFailed:
		outcome = metrics.OutcomeFailed
	case StateJudged:
		outcome = metrics.OutcomeJudged
	}
	if err != nil && outcome != metrics.OutcomeFailed {
		outcome = metrics.OutcomeFailed
	}
	o.metrics.Pipeline(string(p.Kind), outcome)
	logger.Debug(ctx, "pipeline finished",
		zap.String("kind", string(p.Kind)),
		zap.String("state", string(p.State())),
		zap.String("outcome", outcome),
	)
}

func withPipeline(ctx context.Context, p *Pipeline) context.Context {
	return context.WithValue(ctx, contextkey.PipelineID, p.ID)
}
