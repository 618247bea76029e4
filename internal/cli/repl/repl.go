package repl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"arena/internal/cli/app"
	"arena/internal/cli/command"
	"arena/internal/cli/event"
	httpclient "arena/internal/cli/http"
	"arena/internal/cli/model"
	"arena/internal/cli/state"
	"arena/internal/cli/view"
	appErr "arena/pkg/errors"
	"arena/pkg/utils/logger"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
	"go.uber.org/zap"
)

// ErrExit is returned by Execute when the user asked to leave.
var ErrExit = errors.New("exit")

// Session holds REPL state.
type Session struct {
	app        *app.App
	commands   map[string]command.Command
	prettyJSON bool
	out        io.Writer
	outMu      sync.Mutex

	// prompt asks for a missing field; nil makes missing fields an error.
	prompt func(label string) (string, error)

	levelsMu sync.Mutex
	levels   map[string]string

	wg sync.WaitGroup
}

func New(a *app.App, out io.Writer) *Session {
	pretty := a.Config.PrettyJSON != nil && *a.Config.PrettyJSON
	return &Session{
		app:        a,
		commands:   command.Registry(),
		prettyJSON: pretty,
		out:        out,
		levels:     make(map[string]string),
	}
}

// Run reads lines until exit or EOF. Pipelines started by a line keep
// running while the next line is read.
func (s *Session) Run(ctx context.Context, historyFile string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "arena> ",
		HistoryFile:     historyFile,
		AutoComplete:    s.completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdout:          s.out,
	})
	if err != nil {
		return fmt.Errorf("init readline failed: %w", err)
	}
	defer rl.Close()

	s.prompt = func(label string) (string, error) {
		rl.SetPrompt(label + ": ")
		defer rl.SetPrompt("arena> ")
		line, err := rl.Readline()
		if err != nil {
			return "", fmt.Errorf("read input failed: %w", err)
		}
		return strings.TrimSpace(line), nil
	}

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read input failed: %w", err)
		}
		if err := s.Execute(ctx, line); err != nil {
			if errors.Is(err, ErrExit) {
				break
			}
			s.printLine("error: %v", err)
		}
	}
	s.Wait()
	s.printLine("bye")
	return nil
}

// Wait blocks until every pipeline started from the prompt has settled.
func (s *Session) Wait() {
	s.wg.Wait()
}

// Execute runs one input line.
func (s *Session) Execute(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}
	tokens, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse command failed: %w", err)
	}
	return s.Dispatch(ctx, tokens)
}

// Dispatch runs an already tokenized command.
func (s *Session) Dispatch(ctx context.Context, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}

	args := tokens[1:]
	switch tokens[0] {
	case "exit", "quit":
		return ErrExit
	case "help":
		s.printHelp()
		return nil
	case "set":
		return s.handleSet(args)
	case "show":
		return s.handleShow(args)
	case "login":
		return s.handleLogin(ctx, args)
	case "logout":
		return s.app.Sessions.Logout(ctx)
	case "whoami":
		return s.handleWhoami(ctx)
	case "submit":
		return s.handleSubmit(ctx, args)
	case "rerun":
		return s.handleRerun(ctx, args)
	case "delete":
		if len(args) != 1 {
			return appErr.BadRequest("usage: delete <submission_id>")
		}
		out := s.app.Orchestrator.Refresher().DeleteSubmission(ctx, s.app.Store.Session(), args[0])
		if out.Skipped {
			s.printLine("not logged in")
		}
		return nil
	case "ranking":
		return s.handleRanking(ctx, args)
	}
	return s.handleRaw(ctx, tokens)
}

func (s *Session) handleSet(args []string) error {
	if len(args) == 0 {
		return appErr.BadRequest("usage: set base|timeout|token")
	}
	switch args[0] {
	case "base":
		if len(args) < 3 {
			return appErr.BadRequest("usage: set base judge|data|auth|problems http://127.0.0.1:8080/judge")
		}
		service, ok := serviceByName(args[1])
		if !ok {
			return appErr.ValidationError("service", "unknown service "+args[1])
		}
		s.app.Client.SetBaseURL(service, args[2])
		s.printLine("%s base set to %s", service, s.app.Client.BaseURL(service))
	case "timeout":
		if len(args) < 2 {
			return appErr.BadRequest("usage: set timeout 10s")
		}
		dur, err := time.ParseDuration(args[1])
		if err != nil {
			return appErr.ValidationError("timeout", err.Error())
		}
		s.app.Client.SetTimeout(dur)
		s.printLine("timeout set to %s", dur)
	case "token":
		if len(args) < 2 {
			return appErr.BadRequest("usage: set token <token>")
		}
		if err := s.app.Store.Set(args[1]); err != nil {
			return fmt.Errorf("save token failed: %w", err)
		}
		s.printLine("token updated")
	default:
		return appErr.BadRequest("unknown set command")
	}
	return nil
}

func (s *Session) handleShow(args []string) error {
	if len(args) == 0 {
		return appErr.BadRequest("usage: show token|config|views|view <name>|stats")
	}
	switch args[0] {
	case "token":
		st := s.app.Store.State()
		if st.Token == "" {
			s.printLine("token: <empty>")
			return nil
		}
		s.printLine("token: %s", maskToken(st.Token))
		if st.Username != "" {
			s.printLine("user: %s (%s)", st.Username, st.UserID)
		}
		if claims, err := state.Claims(st.Token); err == nil && !claims.ExpiresAt.IsZero() {
			status := "valid"
			if claims.Expired(time.Now()) {
				status = "expired"
			}
			s.printLine("expires: %s (%s)", claims.ExpiresAt.Format(time.RFC3339), status)
		}
	case "config":
		for _, service := range httpclient.Services {
			s.printLine("%s: %s", service, s.app.Client.BaseURL(service))
		}
		s.printLine("timeout: %s", s.app.Client.Timeout())
		s.printLine("tokenStatePath: %s", s.app.Store.Path())
		s.printLine("language: %s", s.app.Config.Language)
	case "views":
		names := s.app.Views.Names()
		if len(names) == 0 {
			s.printLine("no views yet")
		}
		for _, name := range names {
			entry, _ := s.app.Views.Entry(name)
			s.printLine("%s (updated %s)", name, entry.UpdatedAt.Format(time.TimeOnly))
		}
	case "view":
		if len(args) < 2 {
			return appErr.BadRequest("usage: show view <name>")
		}
		payload, ok := s.app.Views.Get(args[1])
		if !ok {
			return appErr.New(appErr.NotFound).WithMessage("no view " + args[1])
		}
		s.renderPayload(payload)
	case "stats":
		samples, err := s.app.Metrics.Snapshot()
		if err != nil {
			return err
		}
		for _, sample := range samples {
			s.printLine("%s %s %v", sample.Name, formatLabels(sample.Labels), sample.Value)
		}
	default:
		return appErr.BadRequest("usage: show token|config|views|view <name>|stats")
	}
	return nil
}

func (s *Session) handleLogin(ctx context.Context, args []string) error {
	var username, password string
	if len(args) > 0 {
		username = args[0]
	}
	if len(args) > 1 {
		password = args[1]
	}
	var err error
	if username == "" {
		if username, err = s.ask("username"); err != nil {
			return err
		}
	}
	if password == "" {
		if password, err = s.ask("password"); err != nil {
			return err
		}
	}
	_, err = s.app.Sessions.Login(ctx, username, password)
	return err
}

func (s *Session) handleWhoami(ctx context.Context) error {
	user, ok, err := s.app.Sessions.CheckSession(ctx)
	if err != nil {
		return err
	}
	if !ok {
		s.printLine("not logged in")
		return nil
	}
	s.printLine("%s (%s)", user.Username, user.ID)
	return nil
}

// submit <problem> <file> [language]
func (s *Session) handleSubmit(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return appErr.BadRequest("usage: submit <problem> <file> [language]")
	}
	sub, err := s.submission(args[0], args[1], args[2:])
	if err != nil {
		return err
	}
	level := s.problemLevel(ctx, sub.ProblemID)
	session := s.app.Store.Session()
	s.spawn(func() {
		if _, err := s.app.Orchestrator.SubmitAndPersist(ctx, session, sub, level); err != nil {
			logger.Debug(ctx, "submit pipeline failed", zap.Error(err))
		}
	})
	return nil
}

// rerun <problem> <level> <file> [language]
func (s *Session) handleRerun(ctx context.Context, args []string) error {
	if len(args) < 3 {
		return appErr.BadRequest("usage: rerun <problem> <level> <file> [language]")
	}
	sub, err := s.submission(args[0], args[2], args[3:])
	if err != nil {
		return err
	}
	level := args[1]
	session := s.app.Store.Session()
	s.spawn(func() {
		if _, err := s.app.Orchestrator.Rerun(ctx, session, sub, level); err != nil {
			logger.Debug(ctx, "rerun pipeline failed", zap.Error(err))
		}
	})
	return nil
}

func (s *Session) handleRanking(ctx context.Context, args []string) error {
	refresher := s.app.Orchestrator.Refresher()
	name := view.Ranking
	if len(args) > 0 {
		if out := refresher.RefreshProblemRanking(ctx, args[0]); out.Err != nil {
			return out.Err
		}
		name = view.Name(event.ViewProblemRanking, args[0])
	} else if out := refresher.RefreshRanking(ctx); out.Err != nil {
		return out.Err
	}
	if payload, ok := s.app.Views.Get(name); ok {
		s.renderPayload(payload)
	}
	return nil
}

func (s *Session) handleRaw(ctx context.Context, tokens []string) error {
	if len(tokens) < 2 {
		return fmt.Errorf("unknown command %q, try help", tokens[0])
	}
	cmd, ok := s.commands[tokens[0]+" "+tokens[1]]
	if !ok {
		return fmt.Errorf("unknown command: %s %s", tokens[0], tokens[1])
	}
	params, err := command.ParseParams(tokens[2:])
	if err != nil {
		return err
	}
	command.ApplyFileShortcuts(cmd, params)
	for _, field := range command.Missing(cmd, params) {
		value, err := s.ask(field.Prompt)
		if err != nil {
			return err
		}
		params.Set(field.Name, value)
	}
	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		return err
	}

	out, err := s.app.Client.Invoke(ctx, req, s.app.Store.Session())
	if err != nil {
		return err
	}
	if out.Skipped {
		s.printLine("not logged in")
		return nil
	}
	s.printLine("HTTP %d (%s)", out.StatusCode, out.Duration.Round(time.Millisecond))
	s.renderPayload(out.Payload)
	s.updateTokenFromResponse(cmd, out.Payload)
	return nil
}

func (s *Session) updateTokenFromResponse(cmd command.Command, body []byte) {
	if cmd.Key() != "auth login" {
		return
	}
	var resp struct {
		Token string     `json:"token"`
		User  model.User `json:"user"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.Token == "" {
		return
	}
	if err := s.app.Store.SetWithUser(resp.Token, resp.User.ID, resp.User.Username); err != nil {
		s.printLine("save token failed: %v", err)
	}
}

func (s *Session) submission(problemID, file string, rest []string) (model.SourceSubmission, error) {
	source, err := command.ReadFile(file)
	if err != nil {
		return model.SourceSubmission{}, err
	}
	if strings.TrimSpace(source) == "" {
		return model.SourceSubmission{}, appErr.New(appErr.SourceEmpty).WithDetail("file", file)
	}
	language := s.app.Config.Language
	if len(rest) > 0 {
		language = rest[0]
	}
	return model.SourceSubmission{
		SourceCode: source,
		ProblemID:  problemID,
		UserID:     s.app.Store.State().UserID,
		Language:   language,
	}, nil
}

// problemLevel looks the level up in the judge's problem list, once per problem.
func (s *Session) problemLevel(ctx context.Context, problemID string) string {
	s.levelsMu.Lock()
	level, ok := s.levels[problemID]
	s.levelsMu.Unlock()
	if ok {
		return level
	}

	out, err := s.app.Client.Invoke(ctx, httpclient.Request{
		Service: httpclient.Judge,
		Path:    "/problems",
	}, state.Session{})
	if err != nil {
		logger.Warn(ctx, "load problem levels failed", zap.Error(err))
		return ""
	}
	var problems []struct {
		ID    string          `json:"id"`
		Level json.RawMessage `json:"level"`
	}
	if err := out.Decode(&problems); err != nil {
		return ""
	}
	s.levelsMu.Lock()
	defer s.levelsMu.Unlock()
	for _, p := range problems {
		s.levels[p.ID] = strings.Trim(string(p.Level), `"`)
	}
	return s.levels[problemID]
}

func (s *Session) spawn(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// SetPrompt installs the function used to ask for missing fields outside Run.
func (s *Session) SetPrompt(fn func(label string) (string, error)) {
	s.prompt = fn
}

func (s *Session) ask(label string) (string, error) {
	if s.prompt == nil {
		return "", appErr.ValidationError(label, "required")
	}
	return s.prompt(label)
}

func (s *Session) renderPayload(body []byte) {
	if len(body) == 0 {
		return
	}
	if s.prettyJSON {
		var raw interface{}
		if err := json.Unmarshal(body, &raw); err == nil {
			formatted, _ := json.MarshalIndent(raw, "", "  ")
			s.printLine("%s", string(formatted))
			return
		}
	}
	s.printLine("%s", string(body))
}

func (s *Session) completer() *readline.PrefixCompleter {
	items := []readline.PrefixCompleterInterface{
		readline.PcItem("help"),
		readline.PcItem("exit"),
		readline.PcItem("set", readline.PcItem("base"), readline.PcItem("timeout"), readline.PcItem("token")),
		readline.PcItem("show", readline.PcItem("token"), readline.PcItem("config"), readline.PcItem("views"),
			readline.PcItem("view"), readline.PcItem("stats")),
		readline.PcItem("login"),
		readline.PcItem("logout"),
		readline.PcItem("whoami"),
		readline.PcItem("submit"),
		readline.PcItem("rerun"),
		readline.PcItem("delete"),
		readline.PcItem("ranking"),
	}
	byService := make(map[string][]readline.PrefixCompleterInterface)
	var order []string
	for _, key := range command.Keys(s.commands) {
		cmd := s.commands[key]
		if _, seen := byService[cmd.Service]; !seen {
			order = append(order, cmd.Service)
		}
		byService[cmd.Service] = append(byService[cmd.Service], readline.PcItem(cmd.Action))
	}
	for _, service := range order {
		items = append(items, readline.PcItem(service, byService[service]...))
	}
	return readline.NewPrefixCompleter(items...)
}

func (s *Session) printHelp() {
	s.printLine("commands:")
	s.printLine("  submit <problem> <file> [language]        judge and save a solution")
	s.printLine("  rerun <problem> <level> <file> [language] judge again, ACCEPTED is saved as RERUN_ACCEPTED")
	s.printLine("  delete <submission_id> | ranking [problem]")
	s.printLine("  login [username] [password] | logout | whoami")
	s.printLine("  set base <service> <url> | set timeout <dur> | set token <token>")
	s.printLine("  show token|config|views|view <name>|stats")
	s.printLine("  help | exit")
	s.printLine("raw endpoints: <service> <action> key=value ...")
	for _, key := range command.Keys(s.commands) {
		cmd := s.commands[key]
		s.printLine("  %-20s %s %s", key, cmd.Method, cmd.PathTemplate)
	}
}

func (s *Session) printLine(format string, args ...interface{}) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	_, _ = fmt.Fprintf(s.out, format+"\n", args...)
}

func serviceByName(name string) (httpclient.Service, bool) {
	switch strings.ToLower(name) {
	case "judge":
		return httpclient.Judge, true
	case "data", "submissions":
		return httpclient.Data, true
	case "auth":
		return httpclient.Auth, true
	case "problems":
		return httpclient.Problems, true
	}
	return "", false
}

func maskToken(token string) string {
	if len(token) > 12 {
		return token[:6] + "..." + token[len(token)-4:]
	}
	return token
}

func formatLabels(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+labels[k])
	}
	return "{" + strings.Join(parts, ",") + "}"
}
