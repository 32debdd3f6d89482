package logger

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestSetup(t *testing.T) {
	require.Equal(t, zerolog.InfoLevel, Setup(false).GetLevel())
	require.Equal(t, zerolog.DebugLevel, Setup(true).GetLevel())
}

func TestHTTPRequests(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		expectedLevel string
	}{
		{name: "ok", status: http.StatusOK, expectedLevel: "info"},
		{name: "client error", status: http.StatusBadRequest, expectedLevel: "info"},
		{name: "server error", status: http.StatusInternalServerError, expectedLevel: "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := zerolog.New(&buf)

			var ctxLogger *zerolog.Logger
			handler := HTTPRequests(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ctxLogger = zerolog.Ctx(r.Context())
				w.WriteHeader(tt.status)
			}))

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/signins", nil))

			require.Equal(t, tt.status, w.Code)
			require.NotNil(t, ctxLogger)
			require.NotEqual(t, zerolog.Disabled, ctxLogger.GetLevel())

			var entry map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
			require.Equal(t, tt.expectedLevel, entry["level"])
			require.Equal(t, "GET", entry["method"])
			require.Equal(t, "/api/signins", entry["path"])
			require.Equal(t, float64(tt.status), entry["status"])
			require.Equal(t, "http request", entry["message"])
		})
	}
}

func TestHTTPRequests_implicitOK(t *testing.T) {
	var buf bytes.Buffer

	handler := HTTPRequests(zerolog.New(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, float64(http.StatusOK), entry["status"])
}
