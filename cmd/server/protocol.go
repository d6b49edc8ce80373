// Package main provides a TCP protocol server for pggit.
package main

import (
	"encoding/json"

	"github.com/evoludigit/pggit/core"
	"github.com/evoludigit/pggit/op"
)

// Request is one client operation, sent as a single JSON line.
type Request struct {
	Op string `json:"op"`

	// Branch operations.
	Branch string    `json:"branch,omitempty"`
	Head   core.Hash `json:"head,omitempty"`

	// commit.
	Changes []core.NormalizedChange `json:"changes,omitempty"`
	Message string                  `json:"message,omitempty"`

	// object, path_history.
	Path string `json:"path,omitempty"`

	// objects, object_at.
	Commit core.Hash `json:"commit,omitempty"`

	// diff, merge_base.
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`

	// history, events.
	After core.Hash `json:"after,omitempty"`
	Seq   uint64    `json:"seq,omitempty"`
	Limit int       `json:"limit,omitempty"`

	// merge and conflict resolution.
	Source     string                  `json:"source,omitempty"`
	Target     string                  `json:"target,omitempty"`
	AttemptID  string                  `json:"attempt_id,omitempty"`
	ConflictID string                  `json:"conflict_id,omitempty"`
	Strategy   core.ResolutionStrategy `json:"strategy,omitempty"`
	Content    string                  `json:"content,omitempty"`
}

// Response is the server's reply, one JSON line per request.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Type    string          `json:"type,omitempty"` // echoes the op
	Result  json.RawMessage `json:"result,omitempty"`
}

// AuthResponse reports the outcome of an AUTH command.
type AuthResponse struct {
	Authenticated bool   `json:"authenticated"`
	Identity      string `json:"identity,omitempty"`
	ExpiresIn     int    `json:"expires_in,omitempty"`
}

// MergeResponse flattens a merge outcome for the wire.
type MergeResponse struct {
	Commit      core.Hash          `json:"commit,omitempty"`
	FastForward bool               `json:"fast_forward"`
	UpToDate    bool               `json:"up_to_date"`
	Pending     bool               `json:"pending"`
	Attempt     *core.MergeAttempt `json:"attempt,omitempty"`
}

func mergeResponse(result core.MergeResult) MergeResponse {
	return MergeResponse{
		Commit:      result.Commit,
		FastForward: result.FastForward,
		UpToDate:    result.UpToDate,
		Pending:     result.Pending,
		Attempt:     result.Attempt,
	}
}

func (r Request) resolution() op.Resolution {
	return op.Resolution{
		ConflictID: r.ConflictID,
		Strategy:   r.Strategy,
		Content:    r.Content,
	}
}

func ok(opName string, result any) Response {
	data, err := json.Marshal(result)
	if err != nil {
		return fail(opName, err)
	}
	return Response{Success: true, Type: opName, Result: data}
}

func fail(opName string, err error) Response {
	return Response{Success: false, Type: opName, Error: err.Error()}
}

// EncodeResponse serializes a Response to JSON with a newline.
func EncodeResponse(resp Response) ([]byte, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// DecodeRequest parses a JSON request from a byte slice.
func DecodeRequest(data []byte) (Request, error) {
	var req Request
	err := json.Unmarshal(data, &req)
	return req, err
}
