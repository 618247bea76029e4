package model

import "testing"

func TestNewJudgeResultMerges(t *testing.T) {
	result, err := NewJudgeResult([]byte(`{"status_code":"ACCEPTED","elapsed_time":120,"memory":3}`), "code", "two-sum")
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if result.StatusCode != StatusAccepted || result.ElapsedTime != 120 {
		t.Fatalf("unexpected verdict: %+v", result)
	}
	if result.SourceCode != "code" || result.ProblemID != "two-sum" {
		t.Fatalf("submission fields missing: %+v", result)
	}
	if string(result.Raw) != `{"status_code":"ACCEPTED","elapsed_time":120,"memory":3}` {
		t.Fatalf("raw payload not kept: %s", result.Raw)
	}
}

func TestNewJudgeResultPayloadWins(t *testing.T) {
	result, err := NewJudgeResult([]byte(`{"status_code":"WRONG_ANSWER","problemId":"fib"}`), "code", "two-sum")
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if result.ProblemID != "fib" {
		t.Fatalf("judge payload should override problemId, got %s", result.ProblemID)
	}
}

func TestNewJudgeResultRejectsGarbage(t *testing.T) {
	if _, err := NewJudgeResult([]byte(`[1,2]`), "code", "two-sum"); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestDecodePersistedSubmission(t *testing.T) {
	rec, err := DecodePersistedSubmission([]byte(`{"id":"s-1","statusCode":"RERUN_ACCEPTED","userId":"u1"}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if rec.ID != "s-1" || rec.StatusCode != StatusRerunAccepted || rec.UserID != "u1" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestIsAccepted(t *testing.T) {
	if !IsAccepted(StatusAccepted) || !IsAccepted(StatusRerunAccepted) || IsAccepted(StatusWrongAnswer) {
		t.Fatalf("unexpected IsAccepted results")
	}
}
