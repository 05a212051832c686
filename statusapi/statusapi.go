// Package statusapi is a read-only HTTP introspection surface over a
// running gateway: connection state, known devices, whether each
// outbound queue is empty. It is ambient enrichment, not part of spec.md's core — no
// core behavior is reachable or alterable through it.
//
// Grounded on the teacher's server.Server.Register/ServeMux pattern
// (one handler per path, registered once at startup), rebuilt on
// go-chi/chi since the pack's own gateway-shaped HTTP surface
// (jordigilh/kubernaut's cors_test.go) shows chi as the idiomatic
// router for this kind of small REST surface, with go-chi/cors layered
// in as middleware the same way.
package statusapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/rustyeddy/gwbridge/model"
	"github.com/rustyeddy/gwbridge/outbound"
	"github.com/rustyeddy/gwbridge/supervisor"
)

// Supervisor is the narrow slice of supervisor.Supervisor's surface
// this package reads from.
type Supervisor interface {
	PlatformState() supervisor.State
	LocalState() supervisor.State
	PlatformPublisher() *outbound.Publisher
	LocalPublisher() *outbound.Publisher
}

// Repository is the narrow slice of repository.Repository's surface
// this package reads from.
type Repository interface {
	GetGatewayOwned() []model.StoredDeviceInformation
}

// API serves the introspection endpoints.
type API struct {
	router *chi.Mux
	log    *slog.Logger
}

// Config bundles the collaborators API reads from. Repository may be
// nil (PolicyNone deployments report an empty device list).
type Config struct {
	Supervisor Supervisor
	Repository Repository
	Log        *slog.Logger

	AllowedOrigins []string
}

// New builds the chi router. Call Handler to get the http.Handler to
// pass to an *http.Server.
func New(cfg Config) *API {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	a := &API{router: chi.NewRouter(), log: log}
	a.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet},
	}))

	a.router.Get("/status", a.handleStatus(cfg.Supervisor))
	a.router.Get("/devices", a.handleDevices(cfg.Repository))
	a.router.Get("/queue", a.handleQueue(cfg.Supervisor))
	return a
}

// Handler returns the http.Handler to mount.
func (a *API) Handler() http.Handler { return a.router }

type statusResponse struct {
	Platform string `json:"platform"`
	Local    string `json:"local"`
}

func (a *API) handleStatus(s Supervisor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s == nil {
			writeJSON(w, a.log, http.StatusServiceUnavailable, statusResponse{Platform: "unknown", Local: "unknown"})
			return
		}
		writeJSON(w, a.log, http.StatusOK, statusResponse{
			Platform: s.PlatformState().String(),
			Local:    s.LocalState().String(),
		})
	}
}

type deviceResponse struct {
	DeviceKey  string `json:"deviceKey"`
	Ownership  string `json:"ownership"`
	AcquiredAt int64  `json:"acquiredAt"`
}

func (a *API) handleDevices(repo Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil {
			writeJSON(w, a.log, http.StatusOK, []deviceResponse{})
			return
		}
		owned := repo.GetGatewayOwned()
		out := make([]deviceResponse, 0, len(owned))
		for _, d := range owned {
			out = append(out, deviceResponse{
				DeviceKey:  d.DeviceKey,
				Ownership:  string(d.Ownership),
				AcquiredAt: d.AcquiredAt,
			})
		}
		writeJSON(w, a.log, http.StatusOK, out)
	}
}

type queueResponse struct {
	PlatformConnected bool `json:"platformConnected"`
	PlatformEmpty     bool `json:"platformEmpty"`
	LocalConnected    bool `json:"localConnected"`
	LocalEmpty        bool `json:"localEmpty"`
}

func (a *API) handleQueue(s Supervisor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s == nil {
			writeJSON(w, a.log, http.StatusServiceUnavailable, queueResponse{})
			return
		}
		resp := queueResponse{}
		if p := s.PlatformPublisher(); p != nil {
			resp.PlatformConnected = p.Connected()
			empty, err := p.QueueEmpty()
			if err != nil {
				a.log.Error("statusapi: platform queue empty check failed", "error", err)
			}
			resp.PlatformEmpty = empty
		}
		if p := s.LocalPublisher(); p != nil {
			resp.LocalConnected = p.Connected()
			empty, err := p.QueueEmpty()
			if err != nil {
				a.log.Error("statusapi: local queue empty check failed", "error", err)
			}
			resp.LocalEmpty = empty
		}
		writeJSON(w, a.log, http.StatusOK, resp)
	}
}

func writeJSON(w http.ResponseWriter, log *slog.Logger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error("statusapi: failed to encode response", "error", err)
	}
}
