package repl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"arena/internal/cli/event"
	"arena/internal/cli/model"
	appErr "arena/pkg/errors"

	"github.com/fatih/color"
)

// Printer renders events as they arrive. It is safe for concurrent use.
type Printer struct {
	mu  sync.Mutex
	out io.Writer

	ok     *color.Color
	bad    *color.Color
	info   *color.Color
	accent *color.Color
}

func NewPrinter(out io.Writer, noColor bool) *Printer {
	p := &Printer{
		out:    out,
		ok:     color.New(color.FgGreen, color.Bold),
		bad:    color.New(color.FgRed, color.Bold),
		info:   color.New(color.FgCyan),
		accent: color.New(color.FgYellow),
	}
	if noColor {
		for _, c := range []*color.Color{p.ok, p.bad, p.info, p.accent} {
			c.DisableColor()
		}
	}
	return p
}

func (p *Printer) Emit(_ context.Context, ev event.Event) {
	switch e := ev.(type) {
	case event.JudgingStarted:
		p.line("%s judging %s", p.tag(e.PipelineID), e.ProblemID)
	case event.JudgeResultReceived:
		p.line("%s verdict %s in %s ms", p.tag(e.PipelineID), p.verdict(e.Result.StatusCode), formatElapsed(e.Result.ElapsedTime))
	case event.SubmissionSaved:
		p.line("%s saved submission %s", p.tag(e.PipelineID), e.Submission.ID)
	case event.RefreshCompleted:
		name := string(e.View)
		if e.Key != "" {
			name += " " + e.Key
		}
		p.line("%s %s refreshed (%s)", p.tag(e.PipelineID), name, entries(e.Payload))
	case event.ServiceUnreachable:
		msg := p.bad.Sprint(fmt.Sprintf("Cannot connect to %s Service", e.Service))
		if detail := appErr.MessageOf(e.Err); detail != "" {
			msg += ": " + detail
		}
		p.line("%s %s", p.tag(e.PipelineID), msg)
	case event.SubmissionDeleted:
		p.line("deleted submission %s (%s left)", e.SubmissionID, entries(e.Payload))
	case event.SignedUp:
		p.line("signed up %s", p.ok.Sprint(e.Username))
	case event.LoggedIn:
		p.line("logged in as %s", p.ok.Sprint(username(e.User)))
	case event.LoggedOut:
		if e.Expired {
			p.line("%s", p.accent.Sprint("session expired, logged out"))
			return
		}
		p.line("logged out")
	case event.SessionChecked:
		p.line("session valid for %s", p.ok.Sprint(username(e.User)))
	case event.UsersLoaded:
		p.line("loaded users (%s)", entries(e.Users))
	case event.UserUpdated:
		p.line("updated user %s", username(e.User))
	case event.ProblemCreated:
		p.line("created problem %s", p.info.Sprint(compact(e.Problem)))
	}
}

func (p *Printer) verdict(status string) string {
	if model.IsAccepted(status) {
		return p.ok.Sprint(status)
	}
	return p.bad.Sprint(status)
}

func (p *Printer) tag(pipelineID string) string {
	if len(pipelineID) > 8 {
		pipelineID = pipelineID[:8]
	}
	if pipelineID == "" {
		return p.info.Sprint("[-]")
	}
	return p.info.Sprint("[" + pipelineID + "]")
}

func (p *Printer) line(format string, args ...interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintf(p.out, format+"\n", args...)
}

func formatElapsed(ms float64) string {
	if ms == float64(int64(ms)) {
		return fmt.Sprintf("%d", int64(ms))
	}
	return fmt.Sprintf("%.2f", ms)
}

func entries(payload json.RawMessage) string {
	var list []json.RawMessage
	if err := json.Unmarshal(payload, &list); err != nil {
		return "1 entry"
	}
	if len(list) == 1 {
		return "1 entry"
	}
	return fmt.Sprintf("%d entries", len(list))
}

func username(raw json.RawMessage) string {
	var u model.User
	if err := json.Unmarshal(raw, &u); err != nil || u.Username == "" {
		return "<unknown>"
	}
	return u.Username
}

func compact(raw json.RawMessage) string {
	var v struct {
		ID    string `json:"id"`
		OID   string `json:"_id"`
		Title string `json:"title"`
	}
	if err := json.Unmarshal(raw, &v); err == nil {
		switch {
		case v.ID != "":
			return v.ID
		case v.OID != "":
			return v.OID
		case v.Title != "":
			return v.Title
		}
	}
	return string(raw)
}
