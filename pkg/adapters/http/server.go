// Package http exposes the Arbor admin surface: health, live sessions, the
// active pipeline, and Prometheus metrics.
package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	arbormw "github.com/aretw0/arbor/pkg/middleware"
)

// Registry is the slice of the session registry the admin API needs.
type Registry interface {
	IDs() []string
	Len() int
}

// NewHandler builds the admin router. descriptors supplies the active
// pipeline snapshot. gatherer may be nil when metrics are disabled; the
// /metrics route is then omitted.
func NewHandler(registry Registry, descriptors func() []arbormw.Descriptor, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/sessions", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{
			"sessions": registry.IDs(),
			"count":    registry.Len(),
		})
	})

	r.Get("/pipeline", func(w http.ResponseWriter, _ *http.Request) {
		active := descriptors()
		out := make([]map[string]any, 0, len(active))
		for _, d := range active {
			ops := make([]string, 0, len(d.Handles))
			for op := range d.Handles {
				ops = append(ops, op)
			}
			out = append(out, map[string]any{
				"name":     d.Name,
				"handles":  ops,
				"requires": d.Requires,
				"expects":  d.Expects,
			})
		}
		writeJSON(w, map[string]any{"descriptors": out})
	})

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to encode admin response", "error", err)
	}
}
