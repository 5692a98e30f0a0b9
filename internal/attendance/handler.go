package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/goliatone/attendance-core/pkg/di"
	"github.com/goliatone/attendance-core/repositorycache"
	"github.com/goliatone/attendance-core/tenant"
	"github.com/goliatone/attendance-core/unitofwork"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 25
	maxPageSize     = 200
)

var errNotFound = errors.New("attendance record not found")

// Handler serves the attendance record endpoints. Each request gets its own
// unit of work and tenant scoped repository.
type Handler struct {
	container *di.Container
	store     repositorycache.Store[Record]
	logger    *zap.Logger
	now       func() time.Time
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithClock overrides the clock used for timestamps.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler returns a Handler persisting records through store.
func NewHandler(container *di.Container, store repositorycache.Store[Record], opts ...HandlerOption) *Handler {
	h := &Handler{
		container: container,
		store:     store,
		logger:    container.Logger().Named("attendance"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the router to mount under /attendance.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
	return r
}

type recordRequest struct {
	EmployeeID string     `json:"employee_id"`
	Status     string     `json:"status"`
	CheckIn    time.Time  `json:"check_in"`
	CheckOut   *time.Time `json:"check_out"`
	Note       string     `json:"note"`
}

func (req recordRequest) apply(rec *Record) {
	rec.EmployeeID = req.EmployeeID
	rec.Status = req.Status
	rec.CheckIn = req.CheckIn.UTC()
	rec.CheckOut = nil
	if req.CheckOut != nil {
		out := req.CheckOut.UTC()
		rec.CheckOut = &out
	}
	rec.Note = req.Note
}

type listResponse struct {
	Items []Record `json:"items"`
	Page  int      `json:"page"`
	Size  int      `json:"size"`
	Total int      `json:"total"`
}

// Create handles POST /attendance. A tenant is required.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, "tenant header "+tenant.HeaderName+" is required")
		return
	}

	var req recordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	now := h.now().UTC()
	rec := Record{ID: uuid.New(), TenantID: tenantID, CreatedAt: now, UpdatedAt: now}
	req.apply(&rec)
	if err := rec.Validate(); err != nil {
		h.writeFailure(w, r, err)
		return
	}

	var created Record
	err := h.withUnitOfWork(r.Context(), true, func(ctx context.Context, repo *repositorycache.TenantRepository[Record]) error {
		var err error
		created, err = repo.Add(ctx, rec)
		return err
	})
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// Get handles GET /attendance/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var rec Record
	err := h.withUnitOfWork(r.Context(), false, func(ctx context.Context, repo *repositorycache.TenantRepository[Record]) error {
		found, exists, err := repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return errNotFound
		}
		rec = found
		return nil
	})
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// List handles GET /attendance?page=&size=.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 1)
	if err != nil {
		writeError(w, http.StatusBadRequest, "page must be an integer")
		return
	}
	size, err := queryInt(r, "size", defaultPageSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, "size must be an integer")
		return
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	resp := listResponse{Page: page, Size: size}
	err = h.withUnitOfWork(r.Context(), false, func(ctx context.Context, repo *repositorycache.TenantRepository[Record]) error {
		items, err := repo.GetPaged(ctx, page, size)
		if err != nil {
			return err
		}
		total, err := repo.Count(ctx)
		if err != nil {
			return err
		}
		resp.Items, resp.Total = items, total
		return nil
	})
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Update handles PUT /attendance/{id}. The body replaces the client
// supplied fields.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req recordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var updated Record
	err := h.withUnitOfWork(r.Context(), true, func(ctx context.Context, repo *repositorycache.TenantRepository[Record]) error {
		current, exists, err := repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return errNotFound
		}

		req.apply(&current)
		current.UpdatedAt = h.now().UTC()
		if err := current.Validate(); err != nil {
			return err
		}
		updated, err = repo.Update(ctx, current)
		return err
	})
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// Delete handles DELETE /attendance/{id}. Deleting an absent record is not
// an error.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	err := h.withUnitOfWork(r.Context(), true, func(ctx context.Context, repo *repositorycache.TenantRepository[Record]) error {
		return repo.Delete(ctx, id)
	})
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// withUnitOfWork runs fn with a request scoped repository. Writes run inside
// a transaction; reads run outside one so they are served from the cache.
func (h *Handler) withUnitOfWork(ctx context.Context, write bool, fn func(ctx context.Context, repo *repositorycache.TenantRepository[Record]) error) error {
	uow, err := h.container.NewUnitOfWork()
	if err != nil {
		return err
	}
	defer func(uow *unitofwork.UnitOfWork) {
		if err := uow.Close(); err != nil {
			h.logger.Warn("attendance: closing unit of work", zap.Error(err))
		}
	}(uow)

	repo := di.NewTenantRepository[Record](h.container, uow, h.store)
	if !write {
		return fn(ctx, repo)
	}
	return uow.Do(ctx, func(ctx context.Context) error {
		return fn(ctx, repo)
	})
}

func (h *Handler) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	var verrs validation.Errors
	switch {
	case errors.As(err, &verrs):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": "validation failed", "fields": verrs})
	case errors.Is(err, errNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, repositorycache.ErrInvalidPagination):
		writeError(w, http.StatusBadRequest, "page and size must be positive")
	case errors.Is(err, repositorycache.ErrTenantMismatch):
		writeError(w, http.StatusForbidden, "record belongs to another tenant")
	case errors.Is(err, repositorycache.ErrMissingID):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		h.logger.Error("attendance: request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid attendance id")
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
