package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	r := gin.New()
	r.Use(GinMiddleware(tp))
	r.GET("/api/v1/tiles/:z/:x/:y", func(c *gin.Context) {
		if !SpanFromContext(c).SpanContext().IsValid() {
			t.Error("handler has no active span")
		}
		c.Status(http.StatusNoContent)
	})
	r.GET("/api/v1/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/api/v1/tiles/1/0/0", "/api/v1/healthz"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	}

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1 (health checks untraced)", len(spans))
	}
	if got, want := spans[0].Name(), "GET /api/v1/tiles/:z/:x/:y"; got != want {
		t.Errorf("span name = %q, want %q", got, want)
	}
}

func TestInitTracer_Disabled(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), "test", "dev", "")
	if err != nil {
		t.Fatalf("InitTracer: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}
