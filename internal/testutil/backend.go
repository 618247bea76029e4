package testutil

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	httpclient "arena/internal/cli/http"
	"arena/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// Path prefixes the fake backend mounts each service under.
const (
	JudgePrefix    = "/judge"
	DataPrefix     = "/data"
	AuthPrefix     = "/auth"
	ProblemsPrefix = "/problems"
)

// RecordedRequest is one request seen by the backend.
type RecordedRequest struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

type scripted struct {
	status int
	body   string
	delay  time.Duration
}

type fakeUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
	Email    string `json:"email"`
	Region   string `json:"region"`
	Team     string `json:"team"`
	Role     string `json:"role"`
}

// Backend is an in-process stand-in for the judge, data, auth and problems
// services. It records every request and can be scripted per path.
type Backend struct {
	server *httptest.Server

	mu          sync.Mutex
	requests    []RecordedRequest
	overrides   map[string]scripted
	judge       map[string]map[string]interface{}
	submissions []map[string]interface{}
	nextID      int
	users       map[string]*fakeUser
	tokens      map[string]string
	problems    int
}

// NewBackend starts the fake services; they stop when the test ends.
func NewBackend(t *testing.T) *Backend {
	t.Helper()
	gin.SetMode(gin.TestMode)
	b := &Backend{
		overrides: make(map[string]scripted),
		judge:     make(map[string]map[string]interface{}),
		users:     make(map[string]*fakeUser),
		tokens:    make(map[string]string),
	}
	router := gin.New()
	router.Use(b.record, b.script)

	judge := router.Group(JudgePrefix)
	judge.POST("/problems/:id/submit", b.judgeSubmit)
	judge.GET("/problems", func(c *gin.Context) {
		c.JSON(http.StatusOK, []gin.H{{"id": "two-sum", "level": 1}})
	})

	data := router.Group(DataPrefix)
	data.POST("/submissions", b.requireToken, b.saveSubmission)
	data.GET("/submissions/*userId", b.requireToken, b.listSubmissions)
	data.POST("/submissions/delete/:id", b.requireToken, b.deleteSubmission)
	data.GET("/ranking/*problemId", b.ranking)

	auth := router.Group(AuthPrefix)
	auth.POST("/signup", b.signup)
	auth.POST("/login", b.login)
	auth.GET("/users", b.publicUsers)
	auth.GET("/api/user", b.requireToken, b.currentUser)
	auth.GET("/api/users", b.requireToken, b.allUsers)
	auth.PUT("/api/users", b.requireToken, b.updateUser)

	problems := router.Group(ProblemsPrefix)
	problems.POST("/problems/new", b.requireToken, b.createProblem)

	b.server = httptest.NewServer(router)
	t.Cleanup(b.server.Close)
	return b
}

// URL returns the base URL of the service mounted at prefix.
func (b *Backend) URL(prefix string) string {
	return b.server.URL + prefix
}

// Endpoints maps every service to its mount point on this backend.
func (b *Backend) Endpoints() httpclient.Endpoints {
	return httpclient.Endpoints{
		httpclient.Judge:    b.URL(JudgePrefix),
		httpclient.Data:     b.URL(DataPrefix),
		httpclient.Auth:     b.URL(AuthPrefix),
		httpclient.Problems: b.URL(ProblemsPrefix),
	}
}

// Client returns a service client wired to this backend.
func (b *Backend) Client() *httpclient.Client {
	return httpclient.New(b.Endpoints(), 0, nil)
}

// Close stops the server early, making every later call a transport failure.
func (b *Backend) Close() {
	b.server.Close()
}

// Script makes method+path answer with status and body instead of the default.
func (b *Backend) Script(method, path string, status int, body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.overrides[method+" "+path]
	s.status, s.body = status, body
	b.overrides[method+" "+path] = s
}

// Delay holds method+path for d before it is served.
func (b *Backend) Delay(method, path string, d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.overrides[method+" "+path]
	s.delay = d
	b.overrides[method+" "+path] = s
}

// SetJudgeResult sets the verdict returned for problemID.
func (b *Backend) SetJudgeResult(problemID string, result map[string]interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.judge[problemID] = result
}

// AddUser registers a user and returns a token valid for it.
func (b *Backend) AddUser(id, username, password string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.users[username] = &fakeUser{ID: id, Username: username, Password: password, Role: "USER"}
	token := "token-" + username
	b.tokens[token] = username
	return token
}

// Requests returns a copy of everything received so far.
func (b *Backend) Requests() []RecordedRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]RecordedRequest, len(b.requests))
	copy(out, b.requests)
	return out
}

// Count returns how many requests matched method and exact path.
func (b *Backend) Count(method, path string) int {
	n := 0
	for _, req := range b.Requests() {
		if req.Method == method && req.Path == path {
			n++
		}
	}
	return n
}

// Last returns the most recent request to method+path.
func (b *Backend) Last(method, path string) (RecordedRequest, bool) {
	reqs := b.Requests()
	for i := len(reqs) - 1; i >= 0; i-- {
		if reqs[i].Method == method && reqs[i].Path == path {
			return reqs[i], true
		}
	}
	return RecordedRequest{}, false
}

func (b *Backend) record(c *gin.Context) {
	body, _ := io.ReadAll(c.Request.Body)
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	b.mu.Lock()
	b.requests = append(b.requests, RecordedRequest{
		Method: c.Request.Method,
		Path:   c.Request.URL.Path,
		Header: c.Request.Header.Clone(),
		Body:   body,
	})
	b.mu.Unlock()
	c.Next()
}

func (b *Backend) script(c *gin.Context) {
	b.mu.Lock()
	s, ok := b.overrides[c.Request.Method+" "+c.Request.URL.Path]
	b.mu.Unlock()
	if !ok {
		c.Next()
		return
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.status == 0 {
		c.Next()
		return
	}
	c.Data(s.status, "application/json", []byte(s.body))
	c.Abort()
}

func (b *Backend) requireToken(c *gin.Context) {
	header := c.GetHeader("Authorization")
	token := strings.TrimPrefix(header, "Bearer ")
	b.mu.Lock()
	username, ok := b.tokens[token]
	b.mu.Unlock()
	if header == "" || !ok {
		response.Abort(c, http.StatusUnauthorized, "invalid token")
		return
	}
	c.Set("username", username)
	c.Next()
}

func (b *Backend) judgeSubmit(c *gin.Context) {
	b.mu.Lock()
	result, ok := b.judge[c.Param("id")]
	b.mu.Unlock()
	if !ok {
		result = map[string]interface{}{"status_code": "ACCEPTED", "elapsed_time": 120}
	}
	c.JSON(http.StatusOK, result)
}

func (b *Backend) saveSubmission(c *gin.Context) {
	var payload map[string]interface{}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	b.mu.Lock()
	b.nextID++
	payload["id"] = fmt.Sprintf("s-%d", b.nextID)
	b.submissions = append(b.submissions, payload)
	b.mu.Unlock()
	c.JSON(http.StatusOK, payload)
}

func (b *Backend) listSubmissions(c *gin.Context) {
	userID := strings.Trim(c.Param("userId"), "/")
	b.mu.Lock()
	out := make([]map[string]interface{}, 0, len(b.submissions))
	for _, s := range b.submissions {
		if userID == "" || fmt.Sprint(s["userId"]) == userID {
			out = append(out, s)
		}
	}
	b.mu.Unlock()
	c.JSON(http.StatusOK, out)
}

func (b *Backend) deleteSubmission(c *gin.Context) {
	id := c.Param("id")
	b.mu.Lock()
	kept := b.submissions[:0]
	for _, s := range b.submissions {
		if fmt.Sprint(s["id"]) != id {
			kept = append(kept, s)
		}
	}
	b.submissions = kept
	out := make([]map[string]interface{}, len(kept))
	copy(out, kept)
	b.mu.Unlock()
	c.JSON(http.StatusOK, out)
}

func (b *Backend) ranking(c *gin.Context) {
	problemID := strings.Trim(c.Param("problemId"), "/")
	b.mu.Lock()
	scores := make(map[string]int)
	for _, s := range b.submissions {
		if problemID != "" && fmt.Sprint(s["problemId"]) != problemID {
			continue
		}
		status := fmt.Sprint(s["statusCode"])
		if status == "ACCEPTED" || status == "RERUN_ACCEPTED" {
			scores[fmt.Sprint(s["userId"])]++
		}
	}
	b.mu.Unlock()
	users := make([]string, 0, len(scores))
	for u := range scores {
		users = append(users, u)
	}
	sort.Strings(users)
	out := make([]gin.H, 0, len(users))
	for _, u := range users {
		out = append(out, gin.H{"hacker": u, "score": scores[u]})
	}
	c.JSON(http.StatusOK, out)
}

func (b *Backend) signup(c *gin.Context) {
	var u fakeUser
	if err := c.ShouldBindJSON(&u); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.users[u.Username]; exists {
		response.Error(c, http.StatusConflict, "User already exists")
		return
	}
	u.ID = fmt.Sprintf("u-%d", len(b.users)+1)
	u.Role = "USER"
	b.users[u.Username] = &u
	resp := u
	resp.Password = ""
	c.JSON(http.StatusCreated, resp)
}

func (b *Backend) login(c *gin.Context) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	u, ok := b.users[body.Username]
	if !ok || u.Password != body.Password {
		response.Error(c, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	token := "token-" + u.Username
	b.tokens[token] = u.Username
	resp := *u
	resp.Password = ""
	c.JSON(http.StatusOK, gin.H{"token": token, "user": resp})
}

func (b *Backend) currentUser(c *gin.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	u, ok := b.users[c.GetString("username")]
	if !ok {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	resp := *u
	resp.Password = ""
	c.JSON(http.StatusOK, resp)
}

func (b *Backend) sortedUsers(withDetails bool) []gin.H {
	names := make([]string, 0, len(b.users))
	for name := range b.users {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]gin.H, 0, len(names))
	for _, name := range names {
		u := b.users[name]
		entry := gin.H{"id": u.ID, "username": u.Username}
		if withDetails {
			entry["email"] = u.Email
			entry["region"] = u.Region
			entry["team"] = u.Team
			entry["role"] = u.Role
		}
		out = append(out, entry)
	}
	return out
}

func (b *Backend) publicUsers(c *gin.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c.JSON(http.StatusOK, b.sortedUsers(false))
}

func (b *Backend) allUsers(c *gin.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c.JSON(http.StatusOK, b.sortedUsers(true))
}

func (b *Backend) updateUser(c *gin.Context) {
	var u fakeUser
	if err := c.ShouldBindJSON(&u); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	existing, ok := b.users[u.Username]
	if !ok {
		response.Error(c, http.StatusNotFound, "User not found")
		return
	}
	existing.Email, existing.Region, existing.Team = u.Email, u.Region, u.Team
	resp := *existing
	resp.Password = ""
	c.JSON(http.StatusOK, resp)
}

func (b *Backend) createProblem(c *gin.Context) {
	var problem map[string]interface{}
	if err := c.ShouldBindJSON(&problem); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	b.mu.Lock()
	b.problems++
	problem["_id"] = fmt.Sprintf("p-%d", b.problems)
	b.mu.Unlock()
	c.JSON(http.StatusOK, problem)
}
