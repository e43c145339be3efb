package restclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(Config{BaseURL: server.URL, MaxRetries: 1, Timeout: 5 * time.Second}, map[string]string{"BTC": "tBTCF0:USTF0"}, zerolog.Nop())
}

func TestListPositions_ParsesWireFormat(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/positions", r.URL.Path)
		json.NewEncoder(w).Encode(serviceResponse{
			Success: true,
			Data:    json.RawMessage(`[{"symbol":"BTC","side":"long","quantity":"0.5","entry_price":"48000","current_price":"50000","margin":"400","leverage":5,"unrealized_pnl":"1000"}]`),
		})
	})

	positions, err := client.ListPositions(context.Background())

	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "BTC", positions[0].Symbol)
	assert.True(t, positions[0].Margin.Equal(decimal.NewFromInt(400)))
}

func TestListPositions_ServiceErrorReturnsErr(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		msg := "account suspended"
		json.NewEncoder(w).Encode(serviceResponse{Success: false, Error: &msg})
	})

	_, err := client.ListPositions(context.Background())

	assert.Error(t, err)
}

func TestAdjustMargin_SendsSignedDelta(t *testing.T) {
	var captured adjustMarginRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		json.NewEncoder(w).Encode(serviceResponse{Success: true})
	})

	ok, err := client.AdjustMargin(context.Background(), "tBTCF0:USTF0", decimal.NewFromInt(-50))

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "tBTCF0:USTF0", captured.FullSymbol)
	assert.Equal(t, "-50", captured.Delta)
}

func TestFullSymbol_FallsBackToShortSymbolWhenUnmapped(t *testing.T) {
	client := New(Config{BaseURL: "http://example.invalid"}, map[string]string{"BTC": "tBTCF0:USTF0"}, zerolog.Nop())

	assert.Equal(t, "tBTCF0:USTF0", client.FullSymbol("BTC"))
	assert.Equal(t, "DOGE", client.FullSymbol("DOGE"))
}

func TestMustDecimal_InvalidStringReturnsZero(t *testing.T) {
	assert.True(t, mustDecimal("not-a-number").IsZero())
	assert.True(t, mustDecimal("12.5").Equal(decimal.NewFromFloat(12.5)))
}

func TestDoWithRetry_ExhaustsRetriesOnPersistentFailure(t *testing.T) {
	attempts := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	})
	client.cfg.MaxRetries = 1

	_, err := client.AvailableDerivativesBalance(context.Background())

	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

type fakeRetryAlerter struct {
	collaborators []string
}

func (f *fakeRetryAlerter) RetryExhaustion(collaborator string) {
	f.collaborators = append(f.collaborators, collaborator)
}

func TestDoWithRetry_NotifiesAlerterOnExhaustion(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	client.cfg.MaxRetries = 1
	alerter := &fakeRetryAlerter{}
	client.SetAlerter(alerter)

	_, err := client.AvailableDerivativesBalance(context.Background())

	assert.Error(t, err)
	assert.Equal(t, []string{"exchange"}, alerter.collaborators)
}

func TestDoWithRetry_SucceedsWithoutNotifyingAlerter(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(serviceResponse{Success: true, Data: json.RawMessage(`{"available":"100"}`)})
	})
	alerter := &fakeRetryAlerter{}
	client.SetAlerter(alerter)

	_, err := client.AvailableDerivativesBalance(context.Background())

	assert.NoError(t, err)
	assert.Empty(t, alerter.collaborators)
}
