// C bindings for embedding the engine in other runtimes. Build with
// -buildmode=c-shared.
package main

/*
#include <stdlib.h>
*/
import "C"
import (
	"context"
	"encoding/json"
	"unsafe"

	"github.com/evoludigit/pggit"
	"github.com/evoludigit/pggit/core"
	"github.com/evoludigit/pggit/op"
	"github.com/evoludigit/pggit/ps"
	"github.com/evoludigit/pggit/vc"
)

// Handle represents an open repository instance.
type Handle struct {
	persistence *ps.Persistence
	engine      *vc.Engine
}

// Global handle storage (simplified - in production use a map with mutex)
var handles = make(map[int]*Handle)
var nextHandle = 1

// request mirrors the server protocol: one operation per call.
type request struct {
	Op      string                  `json:"op"`
	Branch  string                  `json:"branch,omitempty"`
	Head    core.Hash               `json:"head,omitempty"`
	Changes []core.NormalizedChange `json:"changes,omitempty"`
	Message string                  `json:"message,omitempty"`
	Path    string                  `json:"path,omitempty"`
	Commit  core.Hash               `json:"commit,omitempty"`
	From    string                  `json:"from,omitempty"`
	To      string                  `json:"to,omitempty"`
	After   core.Hash               `json:"after,omitempty"`
	Limit   int                     `json:"limit,omitempty"`
	Seq     uint64                  `json:"seq,omitempty"`

	Source     string                  `json:"source,omitempty"`
	Target     string                  `json:"target,omitempty"`
	AttemptID  string                  `json:"attempt_id,omitempty"`
	ConflictID string                  `json:"conflict_id,omitempty"`
	Strategy   core.ResolutionStrategy `json:"strategy,omitempty"`
	Content    string                  `json:"content,omitempty"`
}

type response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

func register(persistence *ps.Persistence, name, email string) C.int {
	engine := pggit.Open(persistence).Engine(core.Identity{Name: name, Email: email})
	handle := nextHandle
	nextHandle++
	handles[handle] = &Handle{persistence: persistence, engine: engine}
	return C.int(handle)
}

//export pggit_open_memory
func pggit_open_memory(name, email *C.char) C.int {
	persistence, err := ps.NewMemoryPersistence()
	if err != nil {
		return -1
	}
	return register(persistence, C.GoString(name), C.GoString(email))
}

//export pggit_open_file
func pggit_open_file(path, name, email *C.char) C.int {
	persistence, err := ps.NewFilePersistence(C.GoString(path))
	if err != nil {
		return -1
	}
	return register(persistence, C.GoString(name), C.GoString(email))
}

//export pggit_open_sqlite
func pggit_open_sqlite(path, name, email *C.char) C.int {
	persistence, err := ps.NewSQLitePersistence(C.GoString(path))
	if err != nil {
		return -1
	}
	return register(persistence, C.GoString(name), C.GoString(email))
}

//export pggit_close
func pggit_close(handle C.int) {
	if h, ok := handles[int(handle)]; ok {
		h.persistence.Close()
		delete(handles, int(handle))
	}
}

//export pggit_request
func pggit_request(handle C.int, raw *C.char) *C.char {
	h, ok := handles[int(handle)]
	if !ok {
		return errorResponse("invalid handle")
	}

	var req request
	if err := json.Unmarshal([]byte(C.GoString(raw)), &req); err != nil {
		return errorResponse("malformed request: " + err.Error())
	}

	result, err := dispatch(h.engine, req)
	if err != nil {
		return errorResponse(err.Error())
	}
	data, err := json.Marshal(result)
	if err != nil {
		return errorResponse(err.Error())
	}
	payload, _ := json.Marshal(response{Success: true, Result: data})
	return C.CString(string(payload))
}

func dispatch(engine *vc.Engine, req request) (any, error) {
	ctx := context.Background()

	switch req.Op {
	case "commit":
		return engine.Commit(ctx, req.Branch, req.Changes, req.Message)
	case "snapshot":
		return engine.Snapshot(req.Branch)
	case "object":
		return engine.ObjectAt(req.Branch, req.Path)
	case "objects":
		return engine.ListObjects(req.Commit)
	case "object_at":
		return engine.ObjectAtCommit(req.Commit, req.Path)
	case "path_history":
		return engine.PathHistory(ctx, req.Branch, req.Path, req.Limit)
	case "diff":
		return engine.DiffBranches(req.From, req.To)
	case "history":
		return engine.History(ctx, req.Branch, req.After, req.Limit)
	case "merge_base":
		return engine.MergeBase(ctx, req.From, req.To)
	case "merge":
		return engine.Merge(ctx, req.Source, req.Target, op.MergeOptions{})
	case "conflicts":
		return engine.Conflicts(req.AttemptID)
	case "resolve":
		return engine.ResolveConflict(req.AttemptID, op.Resolution{
			ConflictID: req.ConflictID,
			Strategy:   req.Strategy,
			Content:    req.Content,
		})
	case "complete":
		return engine.CompleteMerge(ctx, req.AttemptID, req.Message)
	case "abort":
		return "aborted", engine.AbortMerge(req.AttemptID)
	case "branches":
		return engine.ListBranches()
	case "create_branch":
		return engine.CreateBranch(req.Branch, req.Head, engine.Identity)
	case "delete_branch":
		return "deleted", engine.DeleteBranch(req.Branch)
	case "events":
		return engine.Events(req.Seq, req.Limit)
	case "gc":
		return engine.Collect(ctx)
	default:
		return nil, &unknownOpError{op: req.Op}
	}
}

type unknownOpError struct{ op string }

func (e *unknownOpError) Error() string { return "unknown op " + e.op }

//export pggit_free
func pggit_free(ptr *C.char) {
	C.free(unsafe.Pointer(ptr))
}

func errorResponse(msg string) *C.char {
	payload, _ := json.Marshal(response{Success: false, Error: msg})
	return C.CString(string(payload))
}

func main() {}
