package refresh

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"arena/internal/cli/event"
	httpclient "arena/internal/cli/http"
	"arena/internal/cli/state"
	"arena/pkg/utils/contextkey"
	"arena/pkg/utils/logger"

	"go.uber.org/zap"
)

// Invoker is the slice of the service client the coordinator needs.
type Invoker interface {
	Invoke(ctx context.Context, req httpclient.Request, session state.Session) (httpclient.Outcome, error)
}

// Outcome is how one refresh settled. Skipped outcomes emit nothing.
type Outcome struct {
	View    event.View
	Key     string
	Skipped bool
	Err     error
}

// OK reports whether the view was actually replaced.
func (o Outcome) OK() bool {
	return !o.Skipped && o.Err == nil
}

// Coordinator refetches read models and emits each as a wholesale replacement.
type Coordinator struct {
	client Invoker
	sink   event.Sink
}

func New(client Invoker, sink event.Sink) *Coordinator {
	if sink == nil {
		sink = event.Discard
	}
	return &Coordinator{client: client, sink: sink}
}

// RefreshSubmissions replaces the submissions view with userID's submissions.
func (c *Coordinator) RefreshSubmissions(ctx context.Context, session state.Session, userID string) Outcome {
	return c.fetch(ctx, session, httpclient.Request{
		Service:      httpclient.Data,
		Method:       http.MethodGet,
		Path:         "/submissions/" + url.PathEscape(userID),
		RequiresAuth: true,
	}, event.ViewSubmissions, userID)
}

// RefreshAllSubmissions replaces the submissions view with every submission.
func (c *Coordinator) RefreshAllSubmissions(ctx context.Context, session state.Session) Outcome {
	return c.fetch(ctx, session, httpclient.Request{
		Service:      httpclient.Data,
		Method:       http.MethodGet,
		Path:         "/submissions/",
		RequiresAuth: true,
	}, event.ViewSubmissions, "")
}

// RefreshRanking replaces the global ranking view.
func (c *Coordinator) RefreshRanking(ctx context.Context) Outcome {
	return c.fetch(ctx, state.Session{}, httpclient.Request{
		Service: httpclient.Data,
		Method:  http.MethodGet,
		Path:    "/ranking/",
	}, event.ViewRanking, "")
}

// RefreshProblemRanking replaces the ranking view of one problem.
func (c *Coordinator) RefreshProblemRanking(ctx context.Context, problemID string) Outcome {
	return c.fetch(ctx, state.Session{}, httpclient.Request{
		Service: httpclient.Data,
		Method:  http.MethodGet,
		Path:    "/ranking/" + url.PathEscape(problemID),
	}, event.ViewProblemRanking, problemID)
}

// DeleteSubmission removes a submission; the service answers with the
// remaining list, which replaces the submissions view.
func (c *Coordinator) DeleteSubmission(ctx context.Context, session state.Session, submissionID string) Outcome {
	out, err := c.client.Invoke(ctx, httpclient.Request{
		Service:      httpclient.Data,
		Method:       http.MethodPost,
		Path:         "/submissions/delete/" + url.PathEscape(submissionID),
		Body:         struct{}{},
		RequiresAuth: true,
	}, session)
	result := Outcome{View: event.ViewSubmissions, Key: submissionID, Skipped: out.Skipped, Err: err}
	switch {
	case err != nil:
		c.sink.Emit(ctx, event.ServiceUnreachable{
			PipelineID: pipelineID(ctx),
			Service:    string(httpclient.Data),
			Err:        err,
		})
	case out.Skipped:
	default:
		c.sink.Emit(ctx, event.SubmissionDeleted{SubmissionID: submissionID, Payload: out.Payload})
	}
	return result
}

func (c *Coordinator) fetch(ctx context.Context, session state.Session, req httpclient.Request, view event.View, key string) Outcome {
	out, err := c.client.Invoke(ctx, req, session)
	result := Outcome{View: view, Key: key, Skipped: out.Skipped, Err: err}
	if err != nil {
		c.sink.Emit(ctx, event.ServiceUnreachable{
			PipelineID: pipelineID(ctx),
			Service:    string(req.Service),
			Err:        err,
		})
		return result
	}
	if out.Skipped {
		return result
	}
	logger.Debug(ctx, "view refreshed", zap.String("view", string(view)), zap.String("key", key))
	c.sink.Emit(ctx, event.RefreshCompleted{
		PipelineID: pipelineID(ctx),
		View:       view,
		Key:        key,
		Payload:    out.Payload,
	})
	return result
}

func pipelineID(ctx context.Context) string {
	if v := ctx.Value(contextkey.PipelineID); v != nil {
		return fmt.Sprint(v)
	}
	return ""
}
