package statusserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleHealth_ReturnsOK(t *testing.T) {
	s := New(Config{Port: 0, Log: zerolog.Nop()})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHandleStatus_ReflectsLastUpdate(t *testing.T) {
	s := New(Config{Port: 0, Log: zerolog.Nop()})
	now := time.Now()
	s.UpdateStatus(Status{LastTickAt: now, HighRiskSymbols: []string{"DOGE"}, LastRebalanceOK: 3, LastRebalanceErr: 1})

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, []string{"DOGE"}, got.HighRiskSymbols)
	assert.Equal(t, 3, got.LastRebalanceOK)
	assert.Equal(t, 1, got.LastRebalanceErr)
}

func TestHandleStatus_DefaultsToZeroValueBeforeFirstUpdate(t *testing.T) {
	s := New(Config{Port: 0, Log: zerolog.Nop()})

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var got Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Empty(t, got.HighRiskSymbols)
	assert.True(t, got.LastTickAt.IsZero())
}

func TestOnlyGETIsRoutedForStatus(t *testing.T) {
	s := New(Config{Port: 0, Log: zerolog.Nop()})

	req := httptest.NewRequest(http.MethodPost, "/api/status", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	// chi has no explicit POST route registered for /api/status.
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
