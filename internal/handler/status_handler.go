// Package handler provides the read-only deployment status API.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	apierrors "github.com/OneStable-limited/onestable-bridge/internal/pkg/errors"
	"github.com/OneStable-limited/onestable-bridge/internal/pkg/response"
	"github.com/OneStable-limited/onestable-bridge/internal/repository"
)

// StatusHandler serves persisted deployment state.
type StatusHandler struct {
	store    repository.Store
	validate *validator.Validate
	logger   *slog.Logger
}

// NewStatusHandler creates a new status handler.
func NewStatusHandler(store repository.Store, logger *slog.Logger) *StatusHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusHandler{
		store:    store,
		validate: validator.New(),
		logger:   logger,
	}
}

// Routes returns a chi router with network routes.
func (h *StatusHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListNetworks)
	r.Get("/{network}", h.GetNetwork)
	r.Get("/{network}/nodes", h.ListNodes)
	r.Get("/{network}/nodes/{nodeID}", h.GetNode)

	return r
}

// NetworkSummary is a network record with node counts by status.
type NetworkSummary struct {
	*repository.NetworkRecord
	Nodes map[repository.Status]int `json:"nodes"`
}

// NodeQuery filters node listings.
type NodeQuery struct {
	Status string `validate:"omitempty,oneof=pending submitted confirmed failed"`
	Kind   string `validate:"omitempty,oneof=contract contract_at call"`
}

// ListNetworks handles GET /v1/networks
func (h *StatusHandler) ListNetworks(w http.ResponseWriter, r *http.Request) {
	networks, err := h.store.ListNetworks(r.Context())
	if err != nil {
		h.fail(w, "list networks", err)
		return
	}
	if networks == nil {
		networks = []*repository.NetworkRecord{}
	}
	response.JSONWithMeta(w, http.StatusOK, networks, &response.Meta{Total: int64(len(networks))})
}

// GetNetwork handles GET /v1/networks/{network}
func (h *StatusHandler) GetNetwork(w http.ResponseWriter, r *http.Request) {
	network := chi.URLParam(r, "network")

	rec, err := h.store.GetNetwork(r.Context(), network)
	if err != nil {
		h.fail(w, "get network", err)
		return
	}
	nodes, err := h.store.ListNodes(r.Context(), network)
	if err != nil {
		h.fail(w, "list nodes", err)
		return
	}

	counts := make(map[repository.Status]int)
	for _, n := range nodes {
		counts[n.Status]++
	}
	response.OK(w, NetworkSummary{NetworkRecord: rec, Nodes: counts})
}

// ListNodes handles GET /v1/networks/{network}/nodes
func (h *StatusHandler) ListNodes(w http.ResponseWriter, r *http.Request) {
	network := chi.URLParam(r, "network")
	q := NodeQuery{
		Status: r.URL.Query().Get("status"),
		Kind:   r.URL.Query().Get("kind"),
	}
	if err := h.validate.Struct(q); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			response.Error(w, apierrors.NewValidationError(verrs[0].Field(), "must be one of "+verrs[0].Param()))
			return
		}
		response.BadRequest(w, "Invalid query")
		return
	}

	if _, err := h.store.GetNetwork(r.Context(), network); err != nil {
		h.fail(w, "get network", err)
		return
	}
	nodes, err := h.store.ListNodes(r.Context(), network)
	if err != nil {
		h.fail(w, "list nodes", err)
		return
	}

	out := make([]*repository.NodeRecord, 0, len(nodes))
	for _, n := range nodes {
		if q.Status != "" && string(n.Status) != q.Status {
			continue
		}
		if q.Kind != "" && n.Kind != q.Kind {
			continue
		}
		// Signed payloads are only needed for rebroadcast.
		n.RawTx = ""
		out = append(out, n)
	}
	response.JSONWithMeta(w, http.StatusOK, out, &response.Meta{Total: int64(len(out))})
}

// GetNode handles GET /v1/networks/{network}/nodes/{nodeID}. Node ids
// contain '#', which clients send as %23.
func (h *StatusHandler) GetNode(w http.ResponseWriter, r *http.Request) {
	network := chi.URLParam(r, "network")
	nodeID, err := url.PathUnescape(chi.URLParam(r, "nodeID"))
	if err != nil {
		response.Error(w, apierrors.NewValidationError("nodeID", "invalid escape sequence"))
		return
	}

	rec, err := h.store.GetNode(r.Context(), network, nodeID)
	if err != nil {
		h.fail(w, "get node", err)
		return
	}
	rec.RawTx = ""
	response.OK(w, rec)
}

func (h *StatusHandler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		response.Error(w, apierrors.ErrNotFound.WithMessage(err.Error()))
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, repository.ErrStoreCorrupted):
		h.logger.Error(op, slog.String("error", err.Error()))
		response.Error(w, apierrors.ErrServiceUnavailable)
	default:
		h.logger.Error(op, slog.String("error", err.Error()))
		response.InternalError(w)
	}
}

// Check reports whether a backing service is reachable.
type Check func(ctx context.Context) error

// Health handles GET /health. Every check must pass within five seconds.
func Health(checks map[string]Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		for name, check := range checks {
			if err := check(ctx); err != nil {
				response.Error(w, apierrors.ErrServiceUnavailable.WithDetails(map[string]string{
					"component": name,
					"error":     err.Error(),
				}))
				return
			}
		}
		response.OK(w, map[string]string{"status": "ok"})
	}
}
