package command

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	httpclient "arena/internal/cli/http"
	appErr "arena/pkg/errors"
)

// Registry returns all raw endpoint commands keyed by "service action".
func Registry() map[string]Command {
	commands := []Command{
		{
			Service:      "judge",
			Action:       "submit",
			Target:       httpclient.Judge,
			Method:       http.MethodPost,
			PathTemplate: "/problems/:id/submit",
			Fields: []Field{
				{Name: "id", Aliases: []string{"problem", "problemId"}, Prompt: "problem_id", Type: FieldString, Required: true, InPath: true},
				{Name: "source_code", Aliases: []string{"sourceCode"}, Prompt: "source_code", Type: FieldText, Required: true},
				{Name: "source_file", Prompt: "source_file", Type: FieldFile, FileFor: "source_code"},
			},
		},
		{
			Service:      "judge",
			Action:       "problems",
			Target:       httpclient.Judge,
			Method:       http.MethodGet,
			PathTemplate: "/problems",
		},
		{
			Service:      "submissions",
			Action:       "list",
			Target:       httpclient.Data,
			Method:       http.MethodGet,
			PathTemplate: "/submissions/:userId",
			RequiresAuth: true,
			Fields: []Field{
				{Name: "userId", Aliases: []string{"user", "user_id"}, Prompt: "user_id", Type: FieldString, Required: true, InPath: true},
			},
		},
		{
			Service:      "submissions",
			Action:       "all",
			Target:       httpclient.Data,
			Method:       http.MethodGet,
			PathTemplate: "/submissions/",
			RequiresAuth: true,
		},
		{
			Service:      "submissions",
			Action:       "save",
			Target:       httpclient.Data,
			Method:       http.MethodPost,
			PathTemplate: "/submissions",
			RequiresAuth: true,
			Fields: []Field{
				{Name: "problemId", Aliases: []string{"problem", "problem_id"}, Prompt: "problem_id", Type: FieldString, Required: true},
				{Name: "level", Prompt: "level", Type: FieldString, Required: true},
				{Name: "elapsed_time", Aliases: []string{"elapsedTime"}, Prompt: "elapsed_time", Type: FieldFloat, Required: true},
				{Name: "statusCode", Aliases: []string{"status", "status_code"}, Prompt: "status_code", Type: FieldString, Required: true},
				{Name: "userId", Aliases: []string{"user", "user_id"}, Prompt: "user_id", Type: FieldString, Required: true},
				{Name: "language", Prompt: "language", Type: FieldString, Required: true},
				{Name: "sourceCode", Aliases: []string{"source_code"}, Prompt: "source_code", Type: FieldString, Required: true},
				{Name: "source_file", Prompt: "source_file", Type: FieldFile, FileFor: "sourceCode"},
			},
		},
		{
			Service:      "submissions",
			Action:       "delete",
			Target:       httpclient.Data,
			Method:       http.MethodPost,
			PathTemplate: "/submissions/delete/:id",
			RequiresAuth: true,
			Fields: []Field{
				{Name: "id", Aliases: []string{"submission", "submissionId"}, Prompt: "submission_id", Type: FieldString, Required: true, InPath: true},
			},
		},
		{
			Service:      "data",
			Action:       "ranking",
			Target:       httpclient.Data,
			Method:       http.MethodGet,
			PathTemplate: "/ranking/",
		},
		{
			Service:      "data",
			Action:       "problem-ranking",
			Target:       httpclient.Data,
			Method:       http.MethodGet,
			PathTemplate: "/ranking/:id",
			Fields: []Field{
				{Name: "id", Aliases: []string{"problem", "problemId"}, Prompt: "problem_id", Type: FieldString, Required: true, InPath: true},
			},
		},
		{
			Service:      "auth",
			Action:       "signup",
			Target:       httpclient.Auth,
			Method:       http.MethodPost,
			PathTemplate: "/signup",
			Fields: []Field{
				{Name: "username", Prompt: "username", Type: FieldString, Required: true},
				{Name: "password", Prompt: "password", Type: FieldString, Required: true},
				{Name: "email", Prompt: "email", Type: FieldString, Required: true},
				{Name: "region", Prompt: "region", Type: FieldString},
				{Name: "team", Prompt: "team", Type: FieldString},
			},
		},
		{
			Service:      "auth",
			Action:       "login",
			Target:       httpclient.Auth,
			Method:       http.MethodPost,
			PathTemplate: "/login",
			Fields: []Field{
				{Name: "username", Prompt: "username", Type: FieldString, Required: true},
				{Name: "password", Prompt: "password", Type: FieldString, Required: true},
			},
		},
		{
			Service:      "auth",
			Action:       "user",
			Target:       httpclient.Auth,
			Method:       http.MethodGet,
			PathTemplate: "/api/user",
			RequiresAuth: true,
		},
		{
			Service:      "auth",
			Action:       "users",
			Target:       httpclient.Auth,
			Method:       http.MethodGet,
			PathTemplate: "/users",
		},
		{
			Service:      "auth",
			Action:       "users-all",
			Target:       httpclient.Auth,
			Method:       http.MethodGet,
			PathTemplate: "/api/users",
			RequiresAuth: true,
		},
		{
			Service:      "auth",
			Action:       "update",
			Target:       httpclient.Auth,
			Method:       http.MethodPut,
			PathTemplate: "/api/users",
			RequiresAuth: true,
			Fields: []Field{
				{Name: "username", Prompt: "username", Type: FieldString, Required: true},
				{Name: "email", Prompt: "email", Type: FieldString},
				{Name: "region", Prompt: "region", Type: FieldString},
				{Name: "team", Prompt: "team", Type: FieldString},
			},
		},
		{
			Service:      "problems",
			Action:       "create",
			Target:       httpclient.Problems,
			Method:       http.MethodPost,
			PathTemplate: "/problems/new",
			RequiresAuth: true,
			Fields: []Field{
				{Name: "problem_json", Aliases: []string{"problem"}, Prompt: "problem_json (JSON)", Type: FieldJSON, Required: true},
				{Name: "problem_file", Prompt: "problem_file", Type: FieldFile, FileFor: "problem_json"},
			},
		},
	}

	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		result[cmd.Key()] = cmd
	}
	return result
}

// Keys lists registry keys in sorted order.
func Keys(commands map[string]Command) []string {
	keys := make([]string, 0, len(commands))
	for key := range commands {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// BuildRequest turns a command and its params into a service request.
func BuildRequest(cmd Command, params Params) (httpclient.Request, error) {
	params.Canonicalize(cmd.Fields)
	if err := resolveFiles(cmd, params); err != nil {
		return httpclient.Request{}, err
	}
	path, err := buildPath(cmd, params)
	if err != nil {
		return httpclient.Request{}, err
	}

	req := httpclient.Request{
		Service:      cmd.Target,
		Method:       cmd.Method,
		Path:         path,
		RequiresAuth: cmd.RequiresAuth,
	}
	if cmd.Method == http.MethodGet || cmd.Method == http.MethodDelete {
		return req, nil
	}

	for _, field := range cmd.Fields {
		if field.Type == FieldText {
			req.RawBody = []byte(params.Get(field.Name))
			return req, nil
		}
		if field.Type == FieldJSON {
			raw, err := ParseJSON(params.Get(field.Name))
			if err != nil {
				return httpclient.Request{}, appErr.ValidationError(field.Name, err.Error())
			}
			req.Body = raw
			return req, nil
		}
	}

	payload, err := buildPayload(cmd, params)
	if err != nil {
		return httpclient.Request{}, err
	}
	req.Body = payload
	return req, nil
}

func buildPath(cmd Command, params Params) (string, error) {
	path := cmd.PathTemplate
	for _, field := range cmd.Fields {
		if !field.InPath {
			continue
		}
		placeholder := ":" + field.Name
		if !strings.Contains(path, placeholder) {
			continue
		}
		value := params.Get(field.Name)
		if value == "" {
			return "", appErr.ValidationError(field.Name, "missing path parameter")
		}
		path = strings.ReplaceAll(path, placeholder, url.PathEscape(value))
	}
	return path, nil
}

func resolveFiles(cmd Command, params Params) error {
	for _, field := range cmd.Fields {
		if field.Type != FieldFile || params.Get(field.Name) == "" {
			continue
		}
		if current := params.Get(field.FileFor); current != "" && current != FilePlaceholder {
			continue
		}
		data, err := ReadFile(params.Get(field.Name))
		if err != nil {
			return err
		}
		params.Set(field.FileFor, data)
	}
	return nil
}

// FilePlaceholder marks a value that a file field fills in later.
const FilePlaceholder = "_file_"

// ApplyFileShortcuts marks fields backed by a given file so they are not
// prompted for.
func ApplyFileShortcuts(cmd Command, params Params) {
	params.Canonicalize(cmd.Fields)
	for _, field := range cmd.Fields {
		if field.Type == FieldFile && params.Get(field.Name) != "" && params.Get(field.FileFor) == "" {
			params.Set(field.FileFor, FilePlaceholder)
		}
	}
}

// Missing returns the required fields without a value.
func Missing(cmd Command, params Params) []Field {
	var out []Field
	for _, field := range cmd.Fields {
		if field.Required && params.Get(field.Name) == "" {
			out = append(out, field)
		}
	}
	return out
}

func buildPayload(cmd Command, params Params) (interface{}, error) {
	payload := make(map[string]interface{})
	for _, field := range cmd.Fields {
		if field.InPath || field.Type == FieldFile {
			continue
		}
		value := params.Get(field.Name)
		if value == "" {
			if field.Required {
				return nil, appErr.ValidationError(field.Name, "required")
			}
			continue
		}
		switch field.Type {
		case FieldFloat:
			n, err := ParseFloat(value)
			if err != nil {
				return nil, appErr.ValidationError(field.Name, fmt.Sprintf("invalid number: %v", err))
			}
			payload[field.Name] = n
		default:
			payload[field.Name] = value
		}
	}
	return payload, nil
}
