// Package httpapi exposes the marketplace over REST and websockets.
package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"os"

	"github.com/gorilla/mux"

	app "github.com/tradeit-market/tradeit/internal/app"
	"github.com/tradeit-market/tradeit/internal/app/domain/market"
	"github.com/tradeit-market/tradeit/internal/app/metrics"
	"github.com/tradeit-market/tradeit/internal/identity"
	"github.com/tradeit-market/tradeit/internal/middleware"
	"github.com/tradeit-market/tradeit/internal/treestore"
	"github.com/tradeit-market/tradeit/pkg/logger"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app   *app.Application
	log   *logger.Logger
	audit *auditLog
}

// NewHandler returns a router exposing the marketplace REST API and the
// live websocket feeds. AUDIT_LOG_PATH, when set, mirrors the audit
// trail to a JSONL file.
func NewHandler(application *app.Application, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	sink, err := newFileAuditSink(os.Getenv("AUDIT_LOG_PATH"))
	if err != nil {
		log.WithError(err).Warn("audit file sink disabled")
	}
	h := &handler{app: application, log: log, audit: newAuditLog(0, sink)}

	r := mux.NewRouter()
	r.Use(middleware.Identity())
	r.Use(middleware.Logging(log))
	r.Use(middleware.Metrics())
	r.Use(h.audit.middleware)

	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/audit", h.audit.serveList).Methods(http.MethodGet)

	r.HandleFunc("/categories", h.listCategories).Methods(http.MethodGet)
	r.HandleFunc("/categories", h.createCategory).Methods(http.MethodPost)
	r.HandleFunc("/categories/{categoryID}", h.renameCategory).Methods(http.MethodPatch)
	r.HandleFunc("/categories/{categoryID}", h.deleteCategory).Methods(http.MethodDelete)

	r.HandleFunc("/categories/{categoryID}/items", h.listItems).Methods(http.MethodGet)
	r.HandleFunc("/categories/{categoryID}/items", h.postItem).Methods(http.MethodPost)
	r.HandleFunc("/categories/{categoryID}/items/{itemID}", h.getItem).Methods(http.MethodGet)
	r.HandleFunc("/categories/{categoryID}/items/{itemID}", h.updateItem).Methods(http.MethodPatch)
	r.HandleFunc("/categories/{categoryID}/items/{itemID}", h.deleteItem).Methods(http.MethodDelete)
	r.HandleFunc("/categories/{categoryID}/items/{itemID}/acquire", h.acquireItem).Methods(http.MethodPost)

	r.HandleFunc("/users/me/items", h.listMyItems).Methods(http.MethodGet)

	r.HandleFunc("/transactions/pending", h.listPending).Methods(http.MethodGet)
	r.HandleFunc("/transactions/pending/{transactionID}", h.getPending).Methods(http.MethodGet)
	r.HandleFunc("/transactions/pending/{transactionID}/confirm", h.confirmTransaction).Methods(http.MethodPost)
	r.HandleFunc("/transactions/completed", h.listCompleted).Methods(http.MethodGet)

	r.HandleFunc("/live/categories", h.liveCategories).Methods(http.MethodGet)
	r.HandleFunc("/live/categories/{categoryID}/items", h.liveItems).Methods(http.MethodGet)
	r.HandleFunc("/live/users/me/items", h.liveMyItems).Methods(http.MethodGet)
	r.HandleFunc("/live/transactions/pending", h.livePending).Methods(http.MethodGet)

	return r
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) listCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.app.Categories.List(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cats)
}

func (h *handler) createCategory(w http.ResponseWriter, r *http.Request) {
	userID, ok := identity.FromContext(r.Context())
	if !ok {
		writeUnauthenticated(w)
		return
	}
	var payload struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cat, err := h.app.Categories.Create(r.Context(), userID, payload.Name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cat)
}

func (h *handler) renameCategory(w http.ResponseWriter, r *http.Request) {
	userID, ok := identity.FromContext(r.Context())
	if !ok {
		writeUnauthenticated(w)
		return
	}
	var payload struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cat, err := h.app.Categories.Rename(r.Context(), userID, mux.Vars(r)["categoryID"], payload.Name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cat)
}

func (h *handler) deleteCategory(w http.ResponseWriter, r *http.Request) {
	userID, ok := identity.FromContext(r.Context())
	if !ok {
		writeUnauthenticated(w)
		return
	}
	if err := h.app.Categories.Delete(r.Context(), userID, mux.Vars(r)["categoryID"]); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listItems(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Items.List(r.Context(), mux.Vars(r)["categoryID"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) postItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := identity.FromContext(r.Context())
	if !ok {
		writeUnauthenticated(w)
		return
	}
	var payload struct {
		Name  string `json:"name"`
		Price string `json:"price"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	item, err := h.app.Items.Post(r.Context(), userID, mux.Vars(r)["categoryID"], payload.Name, payload.Price)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (h *handler) getItem(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	item, err := h.app.Items.Get(r.Context(), vars["categoryID"], vars["itemID"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *handler) updateItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := identity.FromContext(r.Context())
	if !ok {
		writeUnauthenticated(w)
		return
	}
	var payload struct {
		Name  *string `json:"name"`
		Price *string `json:"price"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	vars := mux.Vars(r)
	item, err := h.app.Items.Update(r.Context(), userID, vars["categoryID"], vars["itemID"], payload.Name, payload.Price)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *handler) deleteItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := identity.FromContext(r.Context())
	if !ok {
		writeUnauthenticated(w)
		return
	}
	vars := mux.Vars(r)
	if err := h.app.Items.Delete(r.Context(), userID, vars["categoryID"], vars["itemID"]); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) acquireItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := identity.FromContext(r.Context())
	if !ok {
		writeUnauthenticated(w)
		return
	}
	vars := mux.Vars(r)
	tx, err := h.app.Transactions.InitiateAcquisition(r.Context(), userID, vars["categoryID"], vars["itemID"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (h *handler) listMyItems(w http.ResponseWriter, r *http.Request) {
	userID, ok := identity.FromContext(r.Context())
	if !ok {
		writeUnauthenticated(w)
		return
	}
	list, err := h.app.Items.ListMine(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) listPending(w http.ResponseWriter, r *http.Request) {
	userID, ok := identity.FromContext(r.Context())
	if !ok {
		writeUnauthenticated(w)
		return
	}
	list, err := h.app.Transactions.ListPending(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) getPending(w http.ResponseWriter, r *http.Request) {
	userID, ok := identity.FromContext(r.Context())
	if !ok {
		writeUnauthenticated(w)
		return
	}
	view, err := h.app.Transactions.GetPending(r.Context(), userID, mux.Vars(r)["transactionID"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handler) confirmTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := identity.FromContext(r.Context())
	if !ok {
		writeUnauthenticated(w)
		return
	}
	done, err := h.app.Transactions.Confirm(r.Context(), userID, mux.Vars(r)["transactionID"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, done)
}

func (h *handler) listCompleted(w http.ResponseWriter, r *http.Request) {
	userID, ok := identity.FromContext(r.Context())
	if !ok {
		writeUnauthenticated(w)
		return
	}
	list, err := h.app.Transactions.ListCompleted(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func writeUnauthenticated(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "user identity required"})
}

// writeDomainError maps service errors onto HTTP statuses. Store errors
// surface as 502 so callers can tell a backend outage apart from their
// own mistakes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case market.IsValidation(err):
		writeError(w, http.StatusBadRequest, err)
	case market.IsAuthorization(err):
		writeError(w, http.StatusForbidden, err)
	case market.IsNotFound(err):
		writeError(w, http.StatusNotFound, err)
	case market.IsNotEmpty(err):
		writeError(w, http.StatusConflict, err)
	case treestore.IsStoreError(err):
		writeError(w, http.StatusBadGateway, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
