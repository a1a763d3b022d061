package http_test

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpAdapter "github.com/aretw0/arbor/pkg/adapters/http"
	"github.com/aretw0/arbor/pkg/middleware"
	"github.com/aretw0/arbor/pkg/observability"
)

type fakeRegistry struct {
	ids []string
}

func (r *fakeRegistry) IDs() []string { return r.ids }
func (r *fakeRegistry) Len() int      { return len(r.ids) }

func testDescriptors() []middleware.Descriptor {
	return []middleware.Descriptor{
		{
			Name:     "eval",
			Handles:  map[string]string{"eval": "evaluate code"},
			Requires: nil,
		},
		{
			Name:     "load-file",
			Handles:  map[string]string{"load-file": "evaluate a file"},
			Requires: []string{"eval"},
		},
	}
}

func TestHealthz(t *testing.T) {
	h := httpAdapter.NewHandler(&fakeRegistry{}, testDescriptors, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestSessionsEndpoint(t *testing.T) {
	h := httpAdapter.NewHandler(&fakeRegistry{ids: []string{"a", "b"}}, testDescriptors, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/sessions", nil))
	require.Equal(t, 200, rec.Code)

	var body struct {
		Sessions []string `json:"sessions"`
		Count    int      `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"a", "b"}, body.Sessions)
	assert.Equal(t, 2, body.Count)
}

func TestPipelineEndpoint(t *testing.T) {
	h := httpAdapter.NewHandler(&fakeRegistry{}, testDescriptors, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/pipeline", nil))
	require.Equal(t, 200, rec.Code)

	var body struct {
		Descriptors []struct {
			Name     string   `json:"name"`
			Handles  []string `json:"handles"`
			Requires []string `json:"requires"`
		} `json:"descriptors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Descriptors, 2)
	assert.Equal(t, "eval", body.Descriptors[0].Name)
	assert.Equal(t, []string{"eval"}, body.Descriptors[1].Requires)
}

func TestMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	observability.New(registry)
	h := httpAdapter.NewHandler(&fakeRegistry{}, testDescriptors, registry)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
}

func TestMetricsEndpointAbsentWhenDisabled(t *testing.T) {
	h := httpAdapter.NewHandler(&fakeRegistry{}, testDescriptors, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}
