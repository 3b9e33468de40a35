// Package a2a implements the JSON-RPC + SSE transport boundary: a single
// HTTP endpoint accepting JSON-RPC 2.0 requests for message/send,
// message/stream, tasks/get, tasks/cancel, and tasks/resubscribe, plus
// the two static agent-card discovery endpoints. Grounded on the
// teacher's runtime/a2a/server.go Server/TaskStore/TaskStream shapes,
// adapted from its tasks/send+sendSubscribe pair (which called a single
// agentruntime.Client.Run) to spec.md §6's wider method set, routed
// through the Agent Executor instead of a single opaque Run call.
package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"goa.design/a2aruntime/runtime/a2a/types"
	"goa.design/a2aruntime/runtime/bus"
	"goa.design/a2aruntime/runtime/executor"
	"goa.design/a2aruntime/runtime/session"
	"goa.design/a2aruntime/runtime/task"
	"goa.design/a2aruntime/runtime/taskerr"
	"goa.design/a2aruntime/runtime/taskstore"
	"goa.design/a2aruntime/runtime/telemetry"
	"goa.design/a2aruntime/runtime/workflow"
)

// DefaultBasePath is the default mount point for the JSON-RPC endpoint,
// per spec.md §6 ("base path configurable, default /a2a").
const DefaultBasePath = "/a2a"

// Server implements the JSON-RPC + SSE transport surface over a shared
// runtime, bus manager, task store, and session manager.
type Server struct {
	executor *executor.Executor
	runtime  *workflow.Runtime
	buses    *bus.Manager
	store    taskstore.Store
	sessions *session.Manager
	tel      telemetry.Bundle
	basePath string
	card     types.AgentCard
}

// NewServer constructs a Server. card.Skills is normally left empty by
// the caller and populated from the currently registered plugins by
// AgentCardHandler at request time, so newly registered plugins appear
// without restarting the server.
func NewServer(ex *executor.Executor, rt *workflow.Runtime, buses *bus.Manager, store taskstore.Store, sessions *session.Manager, tel telemetry.Bundle, basePath string, card types.AgentCard) *Server {
	if basePath == "" {
		basePath = DefaultBasePath
	}
	return &Server{executor: ex, runtime: rt, buses: buses, store: store, sessions: sessions, tel: tel, basePath: basePath, card: card}
}

// Routes mounts the transport's endpoints on a chi router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post(s.basePath, s.handleRPC)
	r.Get("/.well-known/agent.json", s.handleAgentCard)
	r.Get("/.well-known/agent-card.json", s.handleAgentCard)
	return r
}

func (s *Server) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	card := s.card
	card.Capabilities = mergeCapability(card.Capabilities, "streaming", true)
	if card.Skills == nil {
		card.Skills = []types.Skill{{ID: "chat", Name: "Chat"}}
		for _, p := range s.runtime.ListPlugins() {
			card.Skills = append(card.Skills, types.Skill{ID: workflow.Canonical(p.ID), Name: p.Name, Description: p.Description})
		}
	}
	writeJSON(w, http.StatusOK, card)
}

func mergeCapability(caps map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(caps)+1)
	for k, v := range caps {
		out[k] = v
	}
	out[key] = value
	return out
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req types.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRPCError(w, nil, types.CodeParseError, "invalid JSON-RPC request", nil)
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		writeRPCError(w, req.ID, types.CodeInvalidRequest, "jsonrpc must be \"2.0\" and method is required", nil)
		return
	}

	switch req.Method {
	case "message/send":
		s.messageSend(r.Context(), w, req)
	case "message/stream":
		s.messageStream(w, r, req)
	case "tasks/get":
		s.tasksGet(r.Context(), w, req)
	case "tasks/cancel":
		s.tasksCancel(w, req)
	case "tasks/resubscribe":
		s.tasksResubscribe(w, r, req)
	default:
		writeRPCError(w, req.ID, types.CodeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method), nil)
	}
}

// decodeMessageParams parses params into a task.TaskMessage. It does not
// resolve the context; callers do that with the returned message.
func (s *Server) decodeMessageParams(req types.Request) (types.MessageSendParams, task.TaskMessage, error) {
	var params types.MessageSendParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return params, task.TaskMessage{}, err
	}
	var msg task.TaskMessage
	if err := json.Unmarshal(params.Message, &msg); err != nil {
		return params, task.TaskMessage{}, err
	}
	return params, msg, nil
}

// pendingPausedTaskInContext scans a context's associated tasks for one
// currently paused, implementing spec.md §4.4 rule (2)'s lookup. Contexts
// normally have at most one outstanding paused task at a time; the first
// one found is used.
func (s *Server) pendingPausedTaskInContext(contextID string) string {
	snap, ok := s.sessions.GetContext(contextID)
	if !ok {
		return ""
	}
	for _, taskID := range snap.TaskIDs {
		if st, ok := s.runtime.GetTaskState(taskID); ok && st.State.Paused() {
			return taskID
		}
	}
	return ""
}

func hasDataPart(msg task.TaskMessage) bool {
	for _, p := range msg.Parts {
		if p.Kind == task.PartData {
			return true
		}
	}
	return false
}

// routing is the transport's own pre-resolution of spec.md §4.4's rules,
// computed once so the handler knows whether it owns this request's bus
// lifecycle (a fresh rule-3 turn) or is joining an existing one (a
// rule-1/2 resume, whose bus the Workflow Handler already owns).
type routing struct {
	taskID        string
	pendingPaused string
	resuming      bool
}

func (s *Server) resolveRouting(explicitTaskID string, contextID string, msg task.TaskMessage) routing {
	if explicitTaskID != "" {
		if st, ok := s.runtime.GetTaskState(explicitTaskID); ok && st.State.Paused() {
			return routing{taskID: explicitTaskID, resuming: true}
		}
	}
	if pending := s.pendingPausedTaskInContext(contextID); pending != "" && hasDataPart(msg) {
		return routing{taskID: pending, pendingPaused: pending, resuming: true}
	}
	taskID := explicitTaskID
	if taskID == "" {
		taskID = s.runtime.NewTaskID()
	}
	return routing{taskID: taskID}
}

// startFreshBus wires a persistence loop to a newly transport-owned bus
// and publishes its task-creation event. Only called for the rule-3 case;
// a resumed task's bus and persistence loop already exist, owned by the
// Workflow Handler.
func (s *Server) startFreshBus(b *bus.Bus, taskID, contextID string) (*bus.PersistenceLoop, context.CancelFunc) {
	loop := bus.NewPersistenceLoop(b, s.store, s.tel)
	loopCtx, cancel := context.WithCancel(context.Background())
	go loop.Run(loopCtx)
	b.Publish(task.Event{
		Kind:      task.EventTask,
		TaskID:    taskID,
		ContextID: contextID,
		Status:    &task.Status{State: task.StateSubmitted, Timestamp: time.Now()},
	})
	return loop, cancel
}

// finishFreshBus signals end of stream and gives the persistence loop a
// bounded grace period to drain before its context is canceled, mirroring
// the Workflow Handler's monitor fiber (spec.md §5).
func finishFreshBus(b *bus.Bus, loop *bus.PersistenceLoop, cancel context.CancelFunc) {
	b.Finished()
	select {
	case <-loop.Done():
	case <-time.After(monitorGracePeriod):
	}
	cancel()
}

// monitorGracePeriod bounds how long finishFreshBus waits for the
// persistence loop to drain, matching workflowhandler's own grace period.
const monitorGracePeriod = 100 * time.Millisecond

func (s *Server) messageSend(ctx context.Context, w http.ResponseWriter, req types.Request) {
	params, msg, err := s.decodeMessageParams(req)
	if err != nil {
		writeRPCError(w, req.ID, types.CodeInvalidParams, err.Error(), nil)
		return
	}
	contextID := msg.ContextID
	if contextID == "" {
		contextID = s.sessions.CreateContext()
	} else {
		s.sessions.CreateContextWithID(contextID)
	}

	rt := s.resolveRouting(params.TaskID, contextID, msg)
	parentBus := s.buses.CreateOrGetByTaskID(rt.taskID)

	var loop *bus.PersistenceLoop
	var cancelLoop context.CancelFunc
	if !rt.resuming {
		loop, cancelLoop = s.startFreshBus(parentBus, rt.taskID, contextID)
	}

	rctx := executor.RequestContext{
		TaskID:              rt.taskID,
		PendingPausedTaskID: rt.pendingPaused,
		ContextID:           contextID,
		UserMessage:         msg,
	}
	_, routeErr := s.executor.Route(ctx, rctx, nil)

	if !rt.resuming {
		finishFreshBus(parentBus, loop, cancelLoop)
	}

	if routeErr != nil {
		var terr *taskerr.Error
		if errors.As(routeErr, &terr) {
			writeRPCError(w, req.ID, types.CodeInternalError, terr.Error(), types.ErrorData{ErrorType: string(terr.Kind), ErrorCode: terr.Code, Context: terr.Context})
			return
		}
		writeRPCError(w, req.ID, types.CodeInternalError, routeErr.Error(), nil)
		return
	}

	t, ok, err := s.store.Load(ctx, rt.taskID)
	if err != nil {
		writeRPCError(w, req.ID, types.CodeInternalError, err.Error(), nil)
		return
	}
	if !ok {
		// No Task record exists yet (the resumed task's persistence loop
		// has not yet committed, or this request raced ahead of it) -- the
		// reply falls back to an unassociated Message per spec.md §6.
		writeJSON(w, http.StatusOK, types.Response{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`{"role":"assistant"}`)})
		return
	}
	writeJSON(w, http.StatusOK, types.Response{JSONRPC: "2.0", ID: req.ID, Result: t})
}

func (s *Server) messageStream(w http.ResponseWriter, r *http.Request, req types.Request) {
	params, msg, err := s.decodeMessageParams(req)
	if err != nil {
		writeRPCError(w, req.ID, types.CodeInvalidParams, err.Error(), nil)
		return
	}
	contextID := msg.ContextID
	if contextID == "" {
		contextID = s.sessions.CreateContext()
	} else {
		s.sessions.CreateContextWithID(contextID)
	}

	rt := s.resolveRouting(params.TaskID, contextID, msg)
	streamBus := s.buses.CreateOrGetByTaskID(rt.taskID)

	var loop *bus.PersistenceLoop
	var cancelLoop context.CancelFunc
	if !rt.resuming {
		loop, cancelLoop = s.startFreshBus(streamBus, rt.taskID, contextID)
	}

	sub := streamBus.Subscribe()

	rctx := executor.RequestContext{
		TaskID:              rt.taskID,
		PendingPausedTaskID: rt.pendingPaused,
		ContextID:           contextID,
		UserMessage:         msg,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.executor.Route(r.Context(), rctx, nil)
		if !rt.resuming {
			finishFreshBus(streamBus, loop, cancelLoop)
		}
	}()

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	for {
		ev, ok := sub.Next(ctx)
		if !ok {
			break
		}
		writeSSE(w, ev)
		if flusher != nil {
			flusher.Flush()
		}
		if sub.Drained() {
			break
		}
	}
	<-done
}

func (s *Server) tasksGet(ctx context.Context, w http.ResponseWriter, req types.Request) {
	var params types.TaskIDParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeRPCError(w, req.ID, types.CodeInvalidParams, err.Error(), nil)
		return
	}
	t, ok, err := s.store.Load(ctx, params.ID)
	if err != nil {
		writeRPCError(w, req.ID, types.CodeInternalError, err.Error(), nil)
		return
	}
	if !ok {
		writeRPCError(w, req.ID, types.CodeInvalidParams, "unknown task", types.ErrorData{ErrorType: string(taskerr.KindUnknownTask)})
		return
	}
	writeJSON(w, http.StatusOK, types.Response{JSONRPC: "2.0", ID: req.ID, Result: t})
}

func (s *Server) tasksCancel(w http.ResponseWriter, req types.Request) {
	var params types.TaskIDParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeRPCError(w, req.ID, types.CodeInvalidParams, err.Error(), nil)
		return
	}
	if _, ok := s.runtime.GetExecution(params.ID); !ok {
		writeRPCError(w, req.ID, types.CodeInvalidParams, "unknown task", types.ErrorData{ErrorType: string(taskerr.KindUnknownTask)})
		return
	}
	s.runtime.CancelExecution(params.ID)
	writeJSON(w, http.StatusOK, types.Response{JSONRPC: "2.0", ID: req.ID, Result: map[string]any{"id": params.ID, "canceled": true}})
}

// tasksResubscribe implements spec.md §6's resubscription contract: the
// stored snapshot first, then the live suffix if the bus is still open.
func (s *Server) tasksResubscribe(w http.ResponseWriter, r *http.Request, req types.Request) {
	var params types.TaskIDParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeRPCError(w, req.ID, types.CodeInvalidParams, err.Error(), nil)
		return
	}

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	snapshot, ok, err := s.store.Load(r.Context(), params.ID)
	if err != nil || !ok {
		return
	}
	writeSSE(w, task.Event{Kind: task.EventTask, TaskID: snapshot.TaskID, ContextID: snapshot.ContextID, Status: &snapshot.Status, Final: snapshot.Final})
	if flusher != nil {
		flusher.Flush()
	}
	if snapshot.Final {
		return
	}

	b, ok := s.buses.GetByTaskID(params.ID)
	if !ok {
		// Bus already retired (terminal, cleaned up) -- snapshot alone
		// suffices per spec.md §6.
		return
	}
	sub := b.Subscribe()
	ctx := r.Context()
	for {
		ev, ok := sub.Next(ctx)
		if !ok {
			break
		}
		writeSSE(w, ev)
		if flusher != nil {
			flusher.Flush()
		}
		if sub.Drained() {
			break
		}
	}
}

func writeSSE(w http.ResponseWriter, ev task.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string, data any) {
	writeJSON(w, http.StatusOK, types.Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &types.Error{Code: code, Message: message, Data: data},
	})
}
