// Package wsstream is a concrete StreamAdapter: a WebSocket
// subscriber that replaces its subscription set atomically and
// reconnects transparently, preserving subscriptions, using
// exponential backoff up to a bounded attempt count.
package wsstream

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/marginloopd/internal/margin/ports"
)

// maxReconnectAttempts is a var rather than a const so tests can lower
// the retry budget instead of waiting out the real exponential backoff.
var maxReconnectAttempts = 8

// RetryAlerter is told when the retry budget for a collaborator is
// exhausted, so the exhaustion reaches the user-visible alert surface
// rather than only the log.
type RetryAlerter interface {
	RetryExhaustion(collaborator string)
}

// Config holds the streaming endpoint's connection settings.
type Config struct {
	URL string
}

// Adapter is a StreamAdapter backed by a single WebSocket connection.
type Adapter struct {
	cfg     Config
	log     zerolog.Logger
	alerter RetryAlerter
	mu      sync.Mutex
	subs    map[string]struct{}

	handlerMu sync.RWMutex
	handler   ports.PriceHandler
}

// New builds a disconnected Adapter. Call Run to start the connect
// loop.
func New(cfg Config, log zerolog.Logger) *Adapter {
	return &Adapter{
		cfg:  cfg,
		log:  log.With().Str("component", "wsstream").Logger(),
		subs: make(map[string]struct{}),
	}
}

// SetAlerter registers the channel notified when the reconnect budget
// is exhausted. Optional; exhaustion is always logged regardless.
func (a *Adapter) SetAlerter(alerter RetryAlerter) {
	a.alerter = alerter
}

// Subscribe replaces the subscription set atomically. The set is sent
// to the exchange when Run next (re)connects; a connection that is
// already open is not sent the new set.
func (a *Adapter) Subscribe(symbols []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subs = make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		a.subs[s] = struct{}{}
	}
}

// OnPrice registers the callback invoked for every price update,
// delivered serially per connection.
func (a *Adapter) OnPrice(handler ports.PriceHandler) {
	a.handlerMu.Lock()
	defer a.handlerMu.Unlock()
	a.handler = handler
}

func (a *Adapter) currentSubs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	symbols := make([]string, 0, len(a.subs))
	for s := range a.subs {
		symbols = append(symbols, s)
	}
	return symbols
}

type subscribeMessage struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

type priceMessage struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// Run connects and consumes price updates until ctx is cancelled,
// reconnecting with exponential backoff on disconnection. Exhaustion
// of the retry budget is surfaced as a log warning and the adapter
// falls back to a no-op polling-only state rather than terminating
// the process.
func (a *Adapter) Run(ctx context.Context) {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.cfg.URL, nil)
		if err != nil {
			attempt++
			if attempt > maxReconnectAttempts {
				a.log.Warn().Err(err).Msg("stream reconnect attempts exhausted, continuing in polling-only mode")
				if a.alerter != nil {
					a.alerter.RetryExhaustion("stream")
				}
				return
			}
			wait := time.Duration(1<<uint(attempt)) * time.Second
			a.log.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("stream connect failed, retrying")
			time.Sleep(wait)
			continue
		}

		attempt = 0
		a.pushSubscriptions(conn)
		a.consume(ctx, conn)
		conn.Close()
	}
}

func (a *Adapter) pushSubscriptions(conn *websocket.Conn) {
	msg := subscribeMessage{Action: "subscribe", Symbols: a.currentSubs()}
	if err := conn.WriteJSON(msg); err != nil {
		a.log.Warn().Err(err).Msg("failed to push subscription set")
	}
}

func (a *Adapter) consume(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var msg priceMessage
		if err := conn.ReadJSON(&msg); err != nil {
			a.log.Warn().Err(err).Msg("stream read failed, reconnecting")
			return
		}

		price, err := decimal.NewFromString(msg.Price)
		if err != nil {
			continue
		}

		a.handlerMu.RLock()
		handler := a.handler
		a.handlerMu.RUnlock()
		if handler != nil {
			handler(msg.Symbol, price)
		}
	}
}
