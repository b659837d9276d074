// ABOUTME: HTTP API handlers for accounts, projects, tasks and notifications
// ABOUTME: Each handler decodes JSON, calls tasks.Service and maps its errors to status codes

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/2389/taskboard-gateway/internal/auth"
	"github.com/2389/taskboard-gateway/internal/tasks"
)

// IdempotencyKeyHeader carries an optional idempotency key on POST /api/tasks.
const IdempotencyKeyHeader = "Idempotency-Key"

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// ErrorResponse is the JSON body of every failed API request.
type ErrorResponse struct {
	Message string        `json:"message"`
	Errors  []tasks.Issue `json:"errors,omitempty"`
}

// api serves the REST surface over a tasks.Service.
type api struct {
	svc    *tasks.Service
	logger *slog.Logger
}

// registerAPIRoutes mounts the REST API on mux. Everything except signup
// and login requires a bearer token.
func registerAPIRoutes(mux *http.ServeMux, svc *tasks.Service, resolver *auth.Resolver, logger *slog.Logger) {
	a := &api{svc: svc, logger: logger.With("component", "api")}
	authed := auth.HTTPAuthMiddleware(resolver)
	optional := auth.OptionalAuthMiddleware(resolver)
	admin := func(h http.HandlerFunc) http.Handler {
		return authed(auth.RequireAdminHTTP()(h))
	}
	user := func(h http.HandlerFunc) http.Handler {
		return authed(h)
	}

	mux.Handle("POST /api/auth/signup", optional(http.HandlerFunc(a.handleSignup)))
	mux.HandleFunc("POST /api/auth/login", a.handleLogin)

	mux.Handle("GET /api/users", user(a.handleListUsers))

	mux.Handle("GET /api/projects", user(a.handleListProjects))
	mux.Handle("POST /api/projects", admin(a.handleCreateProject))
	mux.Handle("PUT /api/projects/{id}", admin(a.handleUpdateProject))
	mux.Handle("DELETE /api/projects/{id}", admin(a.handleDeleteProject))

	mux.Handle("GET /api/tasks", user(a.handleListTasks))
	mux.Handle("POST /api/tasks", admin(a.handleCreateTask))
	mux.Handle("PUT /api/tasks/{id}", user(a.handleUpdateTask))
	mux.Handle("DELETE /api/tasks/{id}", admin(a.handleDeleteTask))
	mux.Handle("GET /api/tasks/{taskId}/activitylogs", user(a.handleActivityLogs))

	mux.Handle("GET /api/tasks/notifications", user(a.handleNotifications))
	mux.Handle("PUT /api/tasks/notifications/{id}/read", user(a.handleMarkRead))
	mux.Handle("DELETE /api/tasks/notifications/{id}", user(a.handleDeleteNotification))
}

// handleSignup handles POST /api/auth/signup.
func (a *api) handleSignup(w http.ResponseWriter, r *http.Request) {
	var in tasks.SignupInput
	if !a.decode(w, r, &in) {
		return
	}
	session, err := a.svc.Signup(r.Context(), auth.FromContext(r.Context()), in)
	if err != nil {
		a.sendError(w, err)
		return
	}
	a.sendJSON(w, http.StatusCreated, session)
}

// handleLogin handles POST /api/auth/login.
func (a *api) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in tasks.LoginInput
	if !a.decode(w, r, &in) {
		return
	}
	session, err := a.svc.Login(r.Context(), in)
	if err != nil {
		a.sendError(w, err)
		return
	}
	a.sendJSON(w, http.StatusOK, session)
}

func (a *api) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.svc.ListUsers(r.Context(), auth.FromContext(r.Context()))
	if err != nil {
		a.sendError(w, err)
		return
	}
	a.sendJSON(w, http.StatusOK, users)
}

func (a *api) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := a.svc.ListProjects(r.Context(), auth.FromContext(r.Context()))
	if err != nil {
		a.sendError(w, err)
		return
	}
	a.sendJSON(w, http.StatusOK, projects)
}

func (a *api) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var in tasks.ProjectInput
	if !a.decode(w, r, &in) {
		return
	}
	project, err := a.svc.CreateProject(r.Context(), auth.FromContext(r.Context()), in)
	if err != nil {
		a.sendError(w, err)
		return
	}
	a.sendJSON(w, http.StatusCreated, project)
}

func (a *api) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	var in tasks.ProjectInput
	if !a.decode(w, r, &in) {
		return
	}
	project, err := a.svc.UpdateProject(r.Context(), auth.FromContext(r.Context()), r.PathValue("id"), in)
	if err != nil {
		a.sendError(w, err)
		return
	}
	a.sendJSON(w, http.StatusOK, project)
}

func (a *api) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.DeleteProject(r.Context(), auth.FromContext(r.Context()), r.PathValue("id")); err != nil {
		a.sendError(w, err)
		return
	}
	a.sendJSON(w, http.StatusOK, map[string]string{"message": "Project deleted successfully"})
}

// handleListTasks handles GET /api/tasks with an optional ?projectId= filter.
func (a *api) handleListTasks(w http.ResponseWriter, r *http.Request) {
	list, err := a.svc.ListTasks(r.Context(), auth.FromContext(r.Context()), r.URL.Query().Get("projectId"))
	if err != nil {
		a.sendError(w, err)
		return
	}
	a.sendJSON(w, http.StatusOK, list)
}

// mutationContext detaches a task mutation from the request so a client
// that hangs up after the task row is written still gets its activity log,
// notification and events, matching the realtime path.
func mutationContext(r *http.Request) context.Context {
	return tasks.WithEntryPoint(context.WithoutCancel(r.Context()), "http")
}

// handleCreateTask handles POST /api/tasks. The Idempotency-Key header
// takes precedence over an idempotencyKey field in the body.
func (a *api) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var in tasks.CreateTaskInput
	if !a.decode(w, r, &in) {
		return
	}
	if key := r.Header.Get(IdempotencyKeyHeader); key != "" {
		in.IdempotencyKey = key
	}
	task, err := a.svc.CreateTask(mutationContext(r), auth.FromContext(r.Context()), in)
	if err != nil {
		a.sendError(w, err)
		return
	}
	a.sendJSON(w, http.StatusCreated, task)
}

func (a *api) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var in tasks.UpdateTaskInput
	if !a.decode(w, r, &in) {
		return
	}
	task, err := a.svc.UpdateTask(mutationContext(r), auth.FromContext(r.Context()), r.PathValue("id"), in)
	if err != nil {
		a.sendError(w, err)
		return
	}
	a.sendJSON(w, http.StatusOK, task)
}

func (a *api) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.DeleteTask(mutationContext(r), auth.FromContext(r.Context()), r.PathValue("id")); err != nil {
		a.sendError(w, err)
		return
	}
	a.sendJSON(w, http.StatusOK, map[string]string{"message": "Task deleted successfully"})
}

func (a *api) handleActivityLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := a.svc.ActivityLogs(r.Context(), auth.FromContext(r.Context()), r.PathValue("taskId"))
	if err != nil {
		a.sendError(w, err)
		return
	}
	a.sendJSON(w, http.StatusOK, logs)
}

func (a *api) handleNotifications(w http.ResponseWriter, r *http.Request) {
	list, err := a.svc.Notifications(r.Context(), auth.FromContext(r.Context()))
	if err != nil {
		a.sendError(w, err)
		return
	}
	a.sendJSON(w, http.StatusOK, list)
}

func (a *api) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	n, err := a.svc.MarkNotificationRead(r.Context(), auth.FromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		a.sendError(w, err)
		return
	}
	a.sendJSON(w, http.StatusOK, n)
}

func (a *api) handleDeleteNotification(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.DeleteNotification(r.Context(), auth.FromContext(r.Context()), r.PathValue("id")); err != nil {
		a.sendError(w, err)
		return
	}
	a.sendJSON(w, http.StatusOK, map[string]string{"message": "Notification deleted"})
}

// decode reads a JSON body into v, answering 400 itself on failure.
func (a *api) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		a.sendJSON(w, http.StatusBadRequest, ErrorResponse{Message: "invalid JSON body"})
		return false
	}
	return true
}

// statusFor maps a service error code to an HTTP status.
func statusFor(code tasks.Code) int {
	switch code {
	case tasks.CodeUnauthenticated:
		return http.StatusUnauthorized
	case tasks.CodeForbidden:
		return http.StatusForbidden
	case tasks.CodeInvalidPayload, tasks.CodeInvalidID:
		return http.StatusBadRequest
	case tasks.CodeNotFound:
		return http.StatusNotFound
	case tasks.CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// sendError writes err as an ErrorResponse. Internal errors were already
// logged by the service.
func (a *api) sendError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Message: tasks.MessageOf(err)}
	var terr *tasks.Error
	if errors.As(err, &terr) {
		resp.Errors = terr.Issues
	}
	a.sendJSON(w, statusFor(tasks.CodeOf(err)), resp)
}

func (a *api) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Debug("writing response", "error", err)
	}
}
