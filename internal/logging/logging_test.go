package logging

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

func TestMiddleware_AttachesRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	h := chimw.RequestID(Middleware(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		zerolog.Ctx(r.Context()).Info().Msg("inside handler")
		w.WriteHeader(http.StatusAccepted)
	})))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("POST", "/clicks", nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 log lines, got %d: %s", len(lines), buf.String())
	}

	var inner, access map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &inner); err != nil {
		t.Fatalf("Failed to parse log line: %v", err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &access); err != nil {
		t.Fatalf("Failed to parse log line: %v", err)
	}

	if inner["request_id"] == nil || inner["request_id"] == "" {
		t.Errorf("Expected request_id on handler log, got %v", inner)
	}
	if access["status"] != float64(http.StatusAccepted) || access["path"] != "/clicks" {
		t.Errorf("Unexpected access log: %v", access)
	}
}

func TestInit_ParsesLevel(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	Init(Config{Level: "warn", Environment: "production", ServiceName: "test"})
	if zerolog.GlobalLevel() != zerolog.WarnLevel {
		t.Errorf("Expected warn, got %s", zerolog.GlobalLevel())
	}

	Init(Config{Level: "nonsense"})
	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Errorf("Expected info fallback, got %s", zerolog.GlobalLevel())
	}
}
