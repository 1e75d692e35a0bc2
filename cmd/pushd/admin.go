package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/SebastienMelki/causality-push/internal/auth"
	"github.com/SebastienMelki/causality-push/internal/messaging"
	"github.com/SebastienMelki/causality-push/internal/nats"
	"github.com/SebastienMelki/causality-push/internal/observability"
)

type actionDispatcher interface {
	Dispatch(ctx context.Context, code string, extras messaging.Extras) error
}

type lifecycle interface {
	AppWillEnterForeground()
	AppDidEnterBackground()
}

type flusher interface {
	Flush(ctx context.Context) error
}

type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

type metricsSource interface {
	MetricsHandler() http.Handler
}

// adminDeps are the components behind the admin HTTP surface. NATS, Obs and
// Metrics may be nil.
type adminDeps struct {
	Dispatcher actionDispatcher
	Lifecycle  lifecycle
	Flusher    flusher
	Users      userStore
	OptOut     optOutSetter
	NATS       *nats.Client
	Obs        metricsSource
	Metrics    *observability.Metrics
	Logger     *slog.Logger
}

type admin struct {
	dispatcher actionDispatcher
	lifecycle  lifecycle
	flusher    flusher
	users      userStore
	optOut     optOutSetter
	health     healthChecker
	logger     *slog.Logger
}

// newAdminMux serves the daemon's HTTP surface:
//
//	GET    /healthz
//	GET    /metrics
//	POST   /v1/actions              body: {"action": ..., "extras": {...}}
//	POST   /v1/lifecycle/{event}    event: foreground | background
//	POST   /v1/flush
//	PUT    /v1/opt-out              body: {"opted_out": bool}
//	GET    /v1/user
//	POST   /v1/user/identities      body: {"type": int, "id": string}
//	PUT    /v1/user/attributes/{key}
//	DELETE /v1/user/attributes/{key}
//	POST   /v1/user/ltv             body: {"amount": "12.50"}
func newAdminMux(deps adminDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &admin{
		dispatcher: deps.Dispatcher,
		lifecycle:  deps.Lifecycle,
		flusher:    deps.Flusher,
		users:      deps.Users,
		optOut:     deps.OptOut,
		logger:     logger.With("component", "admin-http"),
	}
	if deps.NATS != nil {
		a.health = deps.NATS
	}

	mux := http.NewServeMux()
	route := func(pattern, name string, h http.HandlerFunc) {
		mux.Handle(pattern, observability.HTTPMetrics(deps.Metrics, name)(h))
	}

	route("GET /healthz", "healthz", a.handleHealth)
	route("POST /v1/actions", "actions", a.handleAction)
	route("POST /v1/lifecycle/{event}", "lifecycle", a.handleLifecycle)
	route("POST /v1/flush", "flush", a.handleFlush)
	route("PUT /v1/opt-out", "opt_out", a.handleOptOut)
	route("GET /v1/user", "user", a.handleGetUser)
	route("POST /v1/user/identities", "identities", a.handleSetIdentity)
	route("PUT /v1/user/attributes/{key}", "attributes", a.handleSetAttribute)
	route("DELETE /v1/user/attributes/{key}", "attributes", a.handleRemoveAttribute)
	route("POST /v1/user/ltv", "ltv", a.handleAddLTV)
	if deps.Obs != nil {
		mux.Handle("GET /metrics", deps.Obs.MetricsHandler())
	}
	return mux
}

func (a *admin) handleHealth(w http.ResponseWriter, r *http.Request) {
	if a.health != nil {
		if err := a.health.HealthCheck(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *admin) handleAction(w http.ResponseWriter, r *http.Request) {
	var am nats.ActionMessage
	if err := decodeBody(w, r, &am); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if am.Action == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "action is required"})
		return
	}

	// The dispatch outlives the request.
	if err := a.dispatcher.Dispatch(context.WithoutCancel(r.Context()), am.Action, am.Extras); err != nil {
		a.logger.Warn("action rejected", "action", am.Action, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	a.logger.Debug("action accepted", "action", am.Action, "token", auth.TokenID(r.Context()))
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (a *admin) handleLifecycle(w http.ResponseWriter, r *http.Request) {
	switch event := r.PathValue("event"); event {
	case "foreground":
		a.lifecycle.AppWillEnterForeground()
	case "background":
		a.lifecycle.AppDidEnterBackground()
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown lifecycle event " + event})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *admin) handleFlush(w http.ResponseWriter, r *http.Request) {
	if err := a.flusher.Flush(r.Context()); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// logLauncher is the tap launcher for headless hosts: it records the
// target instead of opening it.
type logLauncher struct {
	logger *slog.Logger
}

func (l logLauncher) Launch(_ context.Context, action *messaging.CloudAction, msg messaging.CloudMessage) error {
	target, id := "", 0
	if action != nil {
		target = action.Target
	}
	if msg != nil {
		id = msg.MessageID()
	}
	l.logger.Info("launching notification target", "id", id, "target", target)
	return nil
}
