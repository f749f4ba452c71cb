package kraken

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tradekit/krakensync/pkg/metrics"
)

const (
	defaultFeedURL = "wss://ws-auth.kraken.com"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 25 * time.Second

	initialBackoff = time.Second
	maxBackoff     = time.Minute
)

// FeedHandler receives decoded channel messages from the private feed.
type FeedHandler interface {
	Handle(msg *FeedMessage)
}

// FeedConfig configures the private feed connection. Token is the
// authentication token obtained out-of-band from the REST GetWebSocketsToken
// endpoint; the handshake itself is not this package's concern beyond
// passing the token along in subscriptions.
type FeedConfig struct {
	URL   string
	Token string
}

// PrivateFeed maintains the websocket connection to the exchange's private
// feed, subscribes to openOrders and ownTrades, and pushes decoded messages
// into the handler. It reconnects with capped exponential backoff until the
// context is canceled.
type PrivateFeed struct {
	cfg     FeedConfig
	handler FeedHandler
	logger  *zap.Logger
	dialer  *websocket.Dialer
}

// NewPrivateFeed creates a feed client. A zero URL falls back to the
// production endpoint.
func NewPrivateFeed(cfg FeedConfig, handler FeedHandler, logger *zap.Logger) *PrivateFeed {
	if cfg.URL == "" {
		cfg.URL = defaultFeedURL
	}
	return &PrivateFeed{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		dialer:  websocket.DefaultDialer,
	}
}

// Run connects and consumes the feed until ctx is canceled. Connection
// drops are retried with backoff; the error returned is ctx.Err() on
// shutdown.
func (f *PrivateFeed) Run(ctx context.Context) error {
	backoff := initialBackoff
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := f.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		metrics.FeedReconnects.Inc()
		f.logger.Warn("private feed disconnected, reconnecting",
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (f *PrivateFeed) runOnce(ctx context.Context) error {
	conn, _, err := f.dialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.cfg.URL, err)
	}
	defer conn.Close()

	f.logger.Info("private feed connected", zap.String("url", f.cfg.URL))

	if err := f.subscribe(conn); err != nil {
		return err
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Close the connection when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	go f.pingLoop(conn, done)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		f.dispatch(raw)
	}
}

func (f *PrivateFeed) subscribe(conn *websocket.Conn) error {
	for _, channel := range []string{ChannelOpenOrders, ChannelOwnTrades} {
		sub := map[string]interface{}{
			"event": "subscribe",
			"subscription": map[string]string{
				"name":  channel,
				"token": f.cfg.Token,
			},
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(sub); err != nil {
			return fmt.Errorf("subscribe %s: %w", channel, err)
		}
	}
	return nil
}

func (f *PrivateFeed) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// dispatch decodes one frame and hands channel data to the handler. Frame
// decoding failures are logged with a payload snippet and skipped; one bad
// frame must not bring the feed down.
func (f *PrivateFeed) dispatch(raw []byte) {
	msg, event, err := ParseFeedMessage(raw)
	if err != nil {
		f.logger.Warn("malformed feed frame skipped",
			zap.ByteString("payload", snippet(raw, 256)),
			zap.Error(err),
		)
		return
	}
	if event != nil {
		f.handleEvent(event)
		return
	}
	f.handler.Handle(msg)
}

func (f *PrivateFeed) handleEvent(ev *EventMessage) {
	switch ev.Event {
	case "heartbeat":
		// ignore
	case "systemStatus":
		f.logger.Info("exchange system status", zap.String("status", ev.Status))
	case "subscriptionStatus":
		if ev.Status == "error" {
			f.logger.Error("subscription failed",
				zap.String("channel", ev.ChannelName),
				zap.String("error", ev.ErrorMessage),
			)
			return
		}
		f.logger.Info("subscription status",
			zap.String("channel", ev.ChannelName),
			zap.String("status", ev.Status),
		)
	default:
		f.logger.Debug("unhandled feed event", zap.String("event", ev.Event))
	}
}

func snippet(raw []byte, n int) []byte {
	if len(raw) <= n {
		return raw
	}
	return raw[:n]
}
