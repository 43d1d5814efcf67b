package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// resource is the CRUD surface of one service collection.
type resource[T any, U any] interface {
	Create(ctx context.Context, rec T) (T, error)
	Update(ctx context.Context, id string, patch U) (T, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (T, error)
	List(ctx context.Context, scope string) ([]T, error)
	ScopeField() string
}

// mountResource registers the collection routes at path and the item routes
// at path/{id}. Reads are open to every signed-in role; writes are limited
// to writeRoles.
func mountResource[T any, U any](a *API, mux *http.ServeMux, path, singular, plural string, res resource[T, U], writeRoles ...string) {
	mux.HandleFunc(path, a.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			list, err := res.List(r.Context(), strings.TrimSpace(r.URL.Query().Get(res.ScopeField())))
			if err != nil {
				a.fail(w, err)
				return
			}
			a.render(w, http.StatusOK, list)
		case http.MethodPost:
			if !allowRoles(w, r, writeRoles) {
				return
			}
			var rec T
			if err := decodeJSON(r, &rec); err != nil {
				writeError(w, decodeStatus(err), err)
				return
			}
			created, err := res.Create(r.Context(), rec)
			if err != nil {
				a.fail(w, err)
				return
			}
			a.render(w, http.StatusCreated, created)
		default:
			writeMethodNotAllowed(w)
		}
	}))

	mux.HandleFunc(path+"/", a.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		id := strings.Trim(strings.TrimPrefix(r.URL.Path, path+"/"), "/")
		if id == "" || strings.Contains(id, "/") {
			writeError(w, http.StatusNotFound, errors.New(singular+" not found"))
			return
		}

		switch r.Method {
		case http.MethodGet:
			rec, err := res.Get(r.Context(), id)
			if err != nil {
				a.fail(w, err)
				return
			}
			a.render(w, http.StatusOK, rec)
		case http.MethodPatch, http.MethodPut:
			if !allowRoles(w, r, writeRoles) {
				return
			}
			var patch U
			if err := decodeJSON(r, &patch); err != nil {
				writeError(w, decodeStatus(err), err)
				return
			}
			updated, err := res.Update(r.Context(), id, patch)
			if err != nil {
				a.fail(w, err)
				return
			}
			a.render(w, http.StatusOK, updated)
		case http.MethodDelete:
			if !allowRoles(w, r, writeRoles) {
				return
			}
			if err := res.Delete(r.Context(), id); err != nil {
				a.fail(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			writeMethodNotAllowed(w)
		}
	}))

	a.logger.Debug("mounted resource", zap.String("path", path), zap.String("kind", plural))
}

func decodeStatus(err error) int {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}
