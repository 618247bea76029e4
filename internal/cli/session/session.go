// Package session covers the account side of the client: signing up,
// logging in and out, checking the stored token and managing users.
package session

import (
	"context"
	"encoding/json"
	"net/http"

	"arena/internal/cli/event"
	httpclient "arena/internal/cli/http"
	"arena/internal/cli/model"
	"arena/internal/cli/refresh"
	"arena/internal/cli/state"
	appErr "arena/pkg/errors"
	"arena/pkg/utils/logger"

	"go.uber.org/zap"
)

// Service runs auth calls against the token store it was built with.
type Service struct {
	client    refresh.Invoker
	store     *state.Store
	refresher *refresh.Coordinator
	sink      event.Sink
}

func New(client refresh.Invoker, store *state.Store, refresher *refresh.Coordinator, sink event.Sink) *Service {
	if sink == nil {
		sink = event.Discard
	}
	if refresher == nil {
		refresher = refresh.New(client, sink)
	}
	return &Service{client: client, store: store, refresher: refresher, sink: sink}
}

type loginResponse struct {
	Token string          `json:"token"`
	User  json.RawMessage `json:"user"`
}

// Signup registers user. The password travels in the body as given.
func (s *Service) Signup(ctx context.Context, user model.User) error {
	if user.Username == "" {
		return appErr.ValidationError("username", "required")
	}
	if _, err := s.invoke(ctx, httpclient.Request{
		Service: httpclient.Auth,
		Method:  http.MethodPost,
		Path:    "/signup",
		Body:    user,
	}, state.Session{}); err != nil {
		return err
	}
	s.sink.Emit(ctx, event.SignedUp{Username: user.Username})
	return nil
}

// Login exchanges credentials for a token and stores it.
func (s *Service) Login(ctx context.Context, username, password string) (model.User, error) {
	out, err := s.invoke(ctx, httpclient.Request{
		Service: httpclient.Auth,
		Method:  http.MethodPost,
		Path:    "/login",
		Body:    map[string]string{"username": username, "password": password},
	}, state.Session{})
	if err != nil {
		return model.User{}, err
	}
	var resp loginResponse
	if err := out.Decode(&resp); err != nil {
		return model.User{}, appErr.Wrap(err, appErr.InvalidFormat)
	}
	if resp.Token == "" {
		return model.User{}, appErr.New(appErr.TokenMissing).WithMessage("login response carried no token")
	}
	var user model.User
	if len(resp.User) > 0 {
		if err := json.Unmarshal(resp.User, &user); err != nil {
			return model.User{}, appErr.Wrap(err, appErr.InvalidFormat)
		}
	}
	if err := s.store.SetWithUser(resp.Token, user.ID, user.Username); err != nil {
		return user, appErr.Wrapf(err, appErr.CacheError, "save token failed")
	}
	logger.Info(ctx, "logged in", zap.String("username", user.Username))
	s.sink.Emit(ctx, event.LoggedIn{User: resp.User})
	return user, nil
}

// Logout forgets the stored token. It never calls the auth service.
func (s *Service) Logout(ctx context.Context) error {
	if err := s.store.Clear(); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "clear token failed")
	}
	s.sink.Emit(ctx, event.LoggedOut{})
	return nil
}

// CheckSession asks the auth service who the stored token belongs to. With
// no token it does nothing. A rejected token, or an answer without a
// username, is dropped from the store. On success the user's submissions
// are refreshed.
func (s *Service) CheckSession(ctx context.Context) (model.User, bool, error) {
	session := s.store.Session()
	if !session.Valid() {
		return model.User{}, false, nil
	}
	out, err := s.client.Invoke(ctx, httpclient.Request{
		Service:      httpclient.Auth,
		Method:       http.MethodGet,
		Path:         "/api/user",
		RequiresAuth: true,
	}, session)
	if err != nil {
		if appErr.StatusOf(err) == 0 {
			s.unreachable(ctx, err)
			return model.User{}, false, err
		}
		logger.Info(ctx, "stored token rejected", zap.Int("status", appErr.StatusOf(err)))
		return model.User{}, false, s.expire(ctx)
	}

	var user model.User
	if err := out.Decode(&user); err != nil || user.Username == "" {
		return model.User{}, false, s.expire(ctx)
	}
	if err := s.store.SetWithUser(session.Token, user.ID, user.Username); err != nil {
		logger.Warn(ctx, "cache user identity failed", zap.Error(err))
	}
	s.sink.Emit(ctx, event.SessionChecked{User: out.Payload})
	s.refresher.RefreshSubmissions(ctx, s.store.Session(), user.ID)
	return user, true, nil
}

// Users lists the public part of every account.
func (s *Service) Users(ctx context.Context) (json.RawMessage, error) {
	out, err := s.invoke(ctx, httpclient.Request{
		Service: httpclient.Auth,
		Method:  http.MethodGet,
		Path:    "/users",
	}, state.Session{})
	if err != nil {
		return nil, err
	}
	s.sink.Emit(ctx, event.UsersLoaded{Users: out.Payload})
	return out.Payload, nil
}

// UsersWithAllData lists every account with contact details. Without a
// session it returns nil and sends nothing.
func (s *Service) UsersWithAllData(ctx context.Context, session state.Session) (json.RawMessage, error) {
	out, err := s.invoke(ctx, httpclient.Request{
		Service:      httpclient.Auth,
		Method:       http.MethodGet,
		Path:         "/api/users",
		RequiresAuth: true,
	}, session)
	if err != nil || out.Skipped {
		return nil, err
	}
	s.sink.Emit(ctx, event.UsersLoaded{Users: out.Payload, WithDetails: true})
	return out.Payload, nil
}

// UpdateUser saves user and reloads the detailed user list.
func (s *Service) UpdateUser(ctx context.Context, session state.Session, user model.User) (json.RawMessage, error) {
	out, err := s.invoke(ctx, httpclient.Request{
		Service:      httpclient.Auth,
		Method:       http.MethodPut,
		Path:         "/api/users",
		Body:         user,
		RequiresAuth: true,
	}, session)
	if err != nil || out.Skipped {
		return nil, err
	}
	s.sink.Emit(ctx, event.UserUpdated{User: out.Payload})
	if _, err := s.UsersWithAllData(ctx, session); err != nil {
		logger.Warn(ctx, "reload users after update failed", zap.Error(err))
	}
	return out.Payload, nil
}

// CreateProblem publishes a new problem definition.
func (s *Service) CreateProblem(ctx context.Context, session state.Session, problem json.RawMessage) (json.RawMessage, error) {
	if !json.Valid(problem) {
		return nil, appErr.New(appErr.InvalidFormat).WithMessage("problem must be a JSON document")
	}
	out, err := s.invoke(ctx, httpclient.Request{
		Service:      httpclient.Problems,
		Method:       http.MethodPost,
		Path:         "/problems/new",
		Body:         problem,
		RequiresAuth: true,
	}, session)
	if err != nil || out.Skipped {
		return nil, err
	}
	s.sink.Emit(ctx, event.ProblemCreated{Problem: out.Payload})
	return out.Payload, nil
}

func (s *Service) invoke(ctx context.Context, req httpclient.Request, session state.Session) (httpclient.Outcome, error) {
	out, err := s.client.Invoke(ctx, req, session)
	if err != nil {
		s.unreachable(ctx, err)
	}
	return out, err
}

func (s *Service) unreachable(ctx context.Context, err error) {
	s.sink.Emit(ctx, event.ServiceUnreachable{Service: appErr.ServiceOf(err), Err: err})
}

func (s *Service) expire(ctx context.Context) error {
	if err := s.store.Clear(); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "clear token failed")
	}
	s.sink.Emit(ctx, event.LoggedOut{Expired: true})
	return nil
}
