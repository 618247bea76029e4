package model

import (
	"encoding/json"
	"fmt"
)

// Status codes the client knows by name. Everything else the judge returns is
// passed through untouched.
const (
	StatusAccepted            = "ACCEPTED"
	StatusRerunAccepted       = "RERUN_ACCEPTED"
	StatusWrongAnswer         = "WRONG_ANSWER"
	StatusTimeLimitExceeded   = "TIME_LIMIT_EXCEEDED"
	StatusMemoryLimitExceeded = "MEMORY_LIMIT_EXCEEDED"
	StatusOutputLimitExceeded = "OUTPUT_LIMIT_EXCEEDED"
	StatusCompileError        = "COMPILE_ERROR"
	StatusRuntimeError        = "RUNTIME_ERROR"
)

// IsAccepted reports whether status counts as a solved submission.
func IsAccepted(status string) bool {
	return status == StatusAccepted || status == StatusRerunAccepted
}

// SourceSubmission is what the caller hands in for one judge run.
type SourceSubmission struct {
	SourceCode string
	ProblemID  string
	UserID     string
	Language   string
}

// Problem is the part of a problem needed to persist a submission.
type Problem struct {
	ID    string `json:"id"`
	Level string `json:"level"`
}

// JudgeResult is the judge verdict merged with the submission it came from.
type JudgeResult struct {
	StatusCode  string          `json:"status_code"`
	ElapsedTime float64         `json:"elapsed_time"`
	SourceCode  string          `json:"sourceCode"`
	ProblemID   string          `json:"problemId"`
	Raw         json.RawMessage `json:"-"`
}

// NewJudgeResult merges the judge payload over {sourceCode, problemId}.
// Fields present in the payload win.
func NewJudgeResult(payload []byte, sourceCode, problemID string) (JudgeResult, error) {
	result := JudgeResult{SourceCode: sourceCode, ProblemID: problemID}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &result); err != nil {
			return JudgeResult{}, fmt.Errorf("decode judge result failed: %w", err)
		}
	}
	result.Raw = append(json.RawMessage(nil), payload...)
	return result, nil
}

// SubmissionPayload is the body sent to the data service to persist a result.
type SubmissionPayload struct {
	ProblemID   string  `json:"problemId"`
	Level       string  `json:"level"`
	ElapsedTime float64 `json:"elapsed_time"`
	SourceCode  string  `json:"sourceCode"`
	StatusCode  string  `json:"statusCode"`
	UserID      string  `json:"userId"`
	Language    string  `json:"language"`
}

// PersistedSubmission is a record owned by the data service.
type PersistedSubmission struct {
	ID          string          `json:"id"`
	ProblemID   string          `json:"problemId"`
	Level       string          `json:"level"`
	ElapsedTime float64         `json:"elapsed_time"`
	SourceCode  string          `json:"sourceCode"`
	StatusCode  string          `json:"statusCode"`
	UserID      string          `json:"userId"`
	Language    string          `json:"language"`
	Raw         json.RawMessage `json:"-"`
}

// DecodePersistedSubmission reads a data service record, keeping the raw body.
func DecodePersistedSubmission(payload []byte) (PersistedSubmission, error) {
	var rec PersistedSubmission
	if err := json.Unmarshal(payload, &rec); err != nil {
		return PersistedSubmission{}, fmt.Errorf("decode submission failed: %w", err)
	}
	rec.Raw = append(json.RawMessage(nil), payload...)
	return rec, nil
}

// User is an account as the auth service returns it.
type User struct {
	ID       string `json:"id,omitempty"`
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
	Email    string `json:"email,omitempty"`
	Region   string `json:"region,omitempty"`
	Team     string `json:"team,omitempty"`
	Role     string `json:"role,omitempty"`
}
