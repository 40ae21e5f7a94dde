package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// pingPeriod/pongWait mirror the teacher's websocket hub keepalive cadence
// (cmd/api/websocket.go), reused here for the client side of a broker's
// tick feed rather than the server side of a browser push.
const (
	wsPingPeriod = 25 * time.Second
	wsPongWait   = 60 * time.Second
)

// wireTick is the wire shape a broker's tick feed is expected to emit.
type wireTick struct {
	Symbol string          `json:"symbol"`
	Bid    decimal.Decimal `json:"bid"`
	Ask    decimal.Decimal `json:"ask"`
}

// WSTickSource dials a broker's tick-stream endpoint over a websocket and
// decodes each message into a Tick. It is a process-wide feed separate from
// Session.SubscribeTicks: cmd/gatewayd fans its stream out to
// EmergencyController's market monitors, which evaluate the
// flash-crash/volatility/spread-explosion triggers without polling.
type WSTickSource struct {
	URL string
}

func NewWSTickSource(url string) *WSTickSource {
	return &WSTickSource{URL: url}
}

// Stream dials the feed and returns a channel of ticks; it closes the
// channel and returns when ctx is canceled or the connection drops.
func (s *WSTickSource) Stream(ctx context.Context, symbols []string) (<-chan Tick, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("broker: dial tick stream: %w", err)
	}
	if err := conn.WriteJSON(map[string]interface{}{"action": "subscribe", "symbols": symbols}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("broker: subscribe request: %w", err)
	}

	out := make(chan Tick)
	go s.readPump(ctx, conn, out)
	return out, nil
}

func (s *WSTickSource) readPump(ctx context.Context, conn *websocket.Conn, out chan<- Tick) {
	defer close(out)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			var wt wireTick
			if err := conn.ReadJSON(&wt); err != nil {
				return
			}
			select {
			case out <- Tick{Symbol: wt.Symbol, Bid: wt.Bid, Ask: wt.Ask}:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}

// marshal/unmarshal round trip used only to confirm wireTick's JSON shape
// matches what test fakes emit; kept tiny and unexported.
func encodeWireTick(t Tick) ([]byte, error) {
	return json.Marshal(wireTick{Symbol: t.Symbol, Bid: t.Bid, Ask: t.Ask})
}
