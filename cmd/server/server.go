package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"

	"github.com/evoludigit/pggit"
	"github.com/evoludigit/pggit/core"
	"github.com/evoludigit/pggit/op"
	"github.com/evoludigit/pggit/vc"
)

// Server is a TCP server exposing the version-control engine as a JSON-line
// protocol: one request per line, one response per line.
type Server struct {
	listener   net.Listener
	instance   *pggit.Instance
	identity   core.Identity
	authConfig *AuthConfig
	done       chan struct{}
	wg         sync.WaitGroup
}

// NewServer creates a server over the given instance. identity is used for
// unauthenticated connections.
func NewServer(instance *pggit.Instance, identity core.Identity, auth *AuthConfig) *Server {
	return &Server{
		instance:   instance,
		identity:   identity,
		authConfig: auth,
		done:       make(chan struct{}),
	}
}

// Start begins listening for connections on the specified address.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	s.listener = listener

	log.Printf("Server listening on %s", addr)

	go s.acceptLoop()
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	close(s.done)
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	return nil
}

// Addr returns the server's listening address.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				log.Printf("Accept error: %v", err)
				continue
			}
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	log.Printf("Client connected: %s", conn.RemoteAddr())

	state := &ConnectionState{}
	engine := s.instance.Engine(s.identity)
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		select {
		case <-s.done:
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if lower := strings.ToLower(line); lower == "quit" || lower == "exit" {
			log.Printf("Client disconnected: %s", conn.RemoteAddr())
			return
		}

		var response Response
		switch {
		case strings.HasPrefix(strings.ToUpper(line), "AUTH "):
			response = s.handleAuth(line, state)
			if state.IsAuthenticated() {
				engine = s.instance.Engine(*state.Identity())
			}
		case s.authConfig != nil && s.authConfig.Enabled && !state.IsAuthenticated():
			response = Response{Success: false, Error: "authentication required"}
		default:
			request, err := DecodeRequest([]byte(line))
			if err != nil {
				response = Response{Success: false, Error: fmt.Sprintf("malformed request: %v", err)}
			} else {
				response = s.execute(engine, request)
			}
		}

		data, err := EncodeResponse(response)
		if err != nil {
			log.Printf("Failed to encode response: %v", err)
			continue
		}
		if _, err := conn.Write(data); err != nil {
			log.Printf("Write error to %s: %v", conn.RemoteAddr(), err)
			return
		}
	}
	if err := scanner.Err(); err != nil {
		log.Printf("Read error from %s: %v", conn.RemoteAddr(), err)
	}
}

func (s *Server) execute(engine *vc.Engine, req Request) Response {
	ctx := context.Background()

	switch req.Op {
	case "commit":
		commit, err := engine.Commit(ctx, req.Branch, req.Changes, req.Message)
		if err != nil {
			return fail(req.Op, err)
		}
		return ok(req.Op, commit)

	case "snapshot":
		tree, err := engine.Snapshot(req.Branch)
		if err != nil {
			return fail(req.Op, err)
		}
		return ok(req.Op, tree)

	case "object":
		definition, err := engine.ObjectAt(req.Branch, req.Path)
		if err != nil {
			return fail(req.Op, err)
		}
		return ok(req.Op, definition)

	case "objects":
		tree, err := engine.ListObjects(req.Commit)
		if err != nil {
			return fail(req.Op, err)
		}
		return ok(req.Op, tree)

	case "object_at":
		definition, err := engine.ObjectAtCommit(req.Commit, req.Path)
		if err != nil {
			return fail(req.Op, err)
		}
		return ok(req.Op, definition)

	case "path_history":
		commits, err := engine.PathHistory(ctx, req.Branch, req.Path, req.Limit)
		if err != nil {
			return fail(req.Op, err)
		}
		return ok(req.Op, commits)

	case "diff":
		changes, err := engine.DiffBranches(req.From, req.To)
		if err != nil {
			return fail(req.Op, err)
		}
		return ok(req.Op, changes)

	case "history":
		commits, err := engine.History(ctx, req.Branch, req.After, req.Limit)
		if err != nil {
			return fail(req.Op, err)
		}
		return ok(req.Op, commits)

	case "merge_base":
		base, err := engine.MergeBase(ctx, req.From, req.To)
		if err != nil {
			return fail(req.Op, err)
		}
		return ok(req.Op, base)

	case "merge":
		result, err := engine.Merge(ctx, req.Source, req.Target, op.MergeOptions{})
		if err != nil {
			return fail(req.Op, err)
		}
		return ok(req.Op, mergeResponse(result))

	case "conflicts":
		conflicts, err := engine.Conflicts(req.AttemptID)
		if err != nil {
			return fail(req.Op, err)
		}
		return ok(req.Op, conflicts)

	case "resolve":
		attempt, err := engine.ResolveConflict(req.AttemptID, req.resolution())
		if err != nil {
			return fail(req.Op, err)
		}
		return ok(req.Op, attempt)

	case "complete":
		result, err := engine.CompleteMerge(ctx, req.AttemptID, req.Message)
		if err != nil {
			return fail(req.Op, err)
		}
		return ok(req.Op, mergeResponse(result))

	case "abort":
		if err := engine.AbortMerge(req.AttemptID); err != nil {
			return fail(req.Op, err)
		}
		return ok(req.Op, "aborted")

	case "branches":
		branches, err := engine.ListBranches()
		if err != nil {
			return fail(req.Op, err)
		}
		return ok(req.Op, branches)

	case "create_branch":
		branch, err := engine.CreateBranch(req.Branch, req.Head, engine.Identity)
		if err != nil {
			return fail(req.Op, err)
		}
		return ok(req.Op, branch)

	case "delete_branch":
		if err := engine.DeleteBranch(req.Branch); err != nil {
			return fail(req.Op, err)
		}
		return ok(req.Op, "deleted")

	case "events":
		events, err := engine.Events(req.Seq, req.Limit)
		if err != nil {
			return fail(req.Op, err)
		}
		return ok(req.Op, events)

	case "gc":
		stats, err := engine.Collect(ctx)
		if err != nil {
			return fail(req.Op, err)
		}
		return ok(req.Op, stats)

	default:
		return Response{Success: false, Error: fmt.Sprintf("unknown op %q", req.Op)}
	}
}
