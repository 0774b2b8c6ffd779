// Package httpapi serves an editor over HTTP: the grid, commits, single
// rows and the process metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/mrtj/dynamodb-connection/codec"
	"github.com/mrtj/dynamodb-connection/editor"
	"github.com/mrtj/dynamodb-connection/item"
	"github.com/mrtj/dynamodb-connection/store"
)

// Editor is the part of *editor.Editor the API drives.
type Editor interface {
	Load(ctx context.Context) error
	Grid() (codec.Grid, error)
	Commit(ctx context.Context, rows []codec.EditedRow, hints codec.Hints) (*editor.Result, error)
	Stale() []item.Key
}

// Reader reads single rows straight from the table.
type Reader interface {
	Get(ctx context.Context, k item.Key) (item.Item, error)
}

var (
	_ Editor = (*editor.Editor)(nil)
	_ Reader = (*store.Store)(nil)
)

// App holds the dependencies of the HTTP handlers.
type App struct {
	Editor   Editor
	Reader   Reader
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Routes builds the router. GET /metrics is mounted only when a Gatherer
// is set.
func (app *App) Routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	app.Register(r)
	return r
}

// Register mounts the handlers on r.
func (app *App) Register(r chi.Router) {
	r.Get("/grid", app.GridHandler)
	r.Post("/commit", app.CommitHandler)
	r.Post("/reload", app.ReloadHandler)
	r.Get("/stale", app.StaleHandler)
	r.Get("/items/{key}", app.GetItemHandler)
	if app.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(app.Gatherer, promhttp.HandlerOpts{}))
	}
}

func (app *App) logger() *slog.Logger {
	if app.Logger == nil {
		return slog.Default()
	}
	return app.Logger
}

func (app *App) sendJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		app.logger().Error("httpapi: write response", "error", err)
	}
}

func (app *App) sendErrorResponse(w http.ResponseWriter, errorType string, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(ErrorResponse{Type: errorType, Message: message}); err != nil {
		app.logger().Error("httpapi: write error response", "error", err)
	}
}

// sendError maps err onto a status code and error type.
func (app *App) sendError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, editor.ErrNotLoaded):
		app.sendErrorResponse(w, "NotLoaded", err.Error(), http.StatusConflict)
	case errors.Is(err, store.ErrNotFound):
		app.sendErrorResponse(w, "ResourceNotFound", err.Error(), http.StatusNotFound)
	case errors.Is(err, store.ErrUnavailable):
		app.sendErrorResponse(w, "ServiceUnavailable", err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, item.ErrDuplicateKey), errors.Is(err, item.ErrInvalidKey), errors.Is(err, item.ErrMissingKey):
		app.sendErrorResponse(w, "InvalidGrid", err.Error(), http.StatusBadRequest)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		app.sendErrorResponse(w, "RequestCanceled", err.Error(), http.StatusServiceUnavailable)
	default:
		app.logger().Error("httpapi: request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"requestID", middleware.GetReqID(r.Context()),
			"error", err,
		)
		app.sendErrorResponse(w, "InternalFailure", err.Error(), http.StatusInternalServerError)
	}
}

// GridHandler returns the baseline rendered as a grid.
func (app *App) GridHandler(w http.ResponseWriter, r *http.Request) {
	g, err := app.Editor.Grid()
	if err != nil {
		app.sendError(w, r, err)
		return
	}
	app.sendJSON(w, g)
}

// CommitHandler writes an edited grid. Row failures are part of a 200
// response; only request-level problems produce an error status.
func (app *App) CommitHandler(w http.ResponseWriter, r *http.Request) {
	var req CommitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		app.sendErrorResponse(w, "InvalidRequest", "Invalid request body", http.StatusBadRequest)
		return
	}
	res, err := app.Editor.Commit(r.Context(), req.Rows, req.Hints)
	if err != nil {
		app.sendError(w, r, err)
		return
	}
	app.sendJSON(w, newCommitResponse(res))
}

// ReloadHandler rescans the table into a new baseline.
func (app *App) ReloadHandler(w http.ResponseWriter, r *http.Request) {
	if err := app.Editor.Load(r.Context()); err != nil {
		app.sendError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StaleHandler lists rows changed by other writers since the last load.
func (app *App) StaleHandler(w http.ResponseWriter, r *http.Request) {
	keys := app.Editor.Stale()
	if keys == nil {
		keys = []item.Key{}
	}
	app.sendJSON(w, StaleResponse{Keys: keys})
}

// GetItemHandler reads one row. The key is a string unless the query
// carries kind=number.
func (app *App) GetItemHandler(w http.ResponseWriter, r *http.Request) {
	text := chi.URLParam(r, "key")
	k := item.StringKey(text)
	switch r.URL.Query().Get("kind") {
	case "", "string":
	case "number":
		d, err := decimal.NewFromString(text)
		if err != nil {
			app.sendErrorResponse(w, "InvalidParameterValue", "Key is not a number: "+text, http.StatusBadRequest)
			return
		}
		k = item.NumberKey(d)
	default:
		app.sendErrorResponse(w, "InvalidParameterValue", "Unknown key kind: "+r.URL.Query().Get("kind"), http.StatusBadRequest)
		return
	}

	it, err := app.Reader.Get(r.Context(), k)
	if err != nil {
		app.sendError(w, r, err)
		return
	}
	app.sendJSON(w, newItemResponse(k, it))
}
