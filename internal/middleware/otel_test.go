package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"fitcore/internal/infrastructure"
)

func TestOTelMiddleware(t *testing.T) {
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	metrics, err := infrastructure.CreateDaemonMetrics(mp.Meter("test"))
	require.NoError(t, err)

	logger, _ := newTestLogger()
	m := NewOTelMiddleware(tp.Tracer("test"), metrics, logger)

	var traceID string
	r := chi.NewRouter()
	r.Use(m.Handler)
	r.Get("/api/v1/features/{featureID}", func(w http.ResponseWriter, r *http.Request) {
		traceID = infrastructure.GetTraceID(r.Context())
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/features/42", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ended := spans.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "GET /api/v1/features/{featureID}", ended[0].Name())
	assert.Equal(t, ended[0].SpanContext().TraceID().String(), traceID)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var requests metricdata.Sum[int64]
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name == "fitcore_http_requests" {
				requests = md.Data.(metricdata.Sum[int64])
			}
		}
	}
	require.Len(t, requests.DataPoints, 1)
	dp := requests.DataPoints[0]
	assert.Equal(t, int64(1), dp.Value)
	route, ok := dp.Attributes.Value("http.route")
	require.True(t, ok)
	assert.Equal(t, "/api/v1/features/{featureID}", route.AsString())
	status, _ := dp.Attributes.Value("http.status_code")
	assert.Equal(t, "404", status.AsString())
}

func TestOTelMiddlewareWithoutMetrics(t *testing.T) {
	logger, _ := newTestLogger()
	m := NewOTelMiddleware(nil, nil, logger)

	var called bool
	rec := httptest.NewRecorder()
	m.Handler(okHandler(&called)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/unrouted", nil))

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}
