package kraken

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type captureHandler struct {
	messages chan *FeedMessage
}

func (h *captureHandler) Handle(msg *FeedMessage) {
	h.messages <- msg
}

func TestPrivateFeedDeliversChannelFrames(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan string, 2)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		// Expect one subscribe per private channel.
		for i := 0; i < 2; i++ {
			var sub struct {
				Event        string `json:"event"`
				Subscription struct {
					Name  string `json:"name"`
					Token string `json:"token"`
				} `json:"subscription"`
			}
			require.NoError(t, conn.ReadJSON(&sub))
			assert.Equal(t, "subscribe", sub.Event)
			assert.Equal(t, "test-token", sub.Subscription.Token)
			subscribed <- sub.Subscription.Name
		}

		frames := [][]byte{
			[]byte(`{"event":"systemStatus","status":"online"}`),
			[]byte(`{"event":"heartbeat"}`),
			[]byte(`this frame is garbage`),
			[]byte(`[[{"TID1":{"ordertxid":"OTX-1","pair":"XBT/USD","type":"buy","ordertype":"limit","price":"50000.0","cost":"20000.0","fee":"32.0","vol":"0.4","time":"1560516023.070651"}}],"ownTrades",{"sequence":1}]`),
		}
		for _, frame := range frames {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
		}

		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	handler := &captureHandler{messages: make(chan *FeedMessage, 4)}
	feed := NewPrivateFeed(FeedConfig{
		URL:   "ws" + strings.TrimPrefix(srv.URL, "http"),
		Token: "test-token",
	}, handler, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- feed.Run(ctx)
	}()

	channels := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case name := <-subscribed:
			channels[name] = true
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for subscriptions")
		}
	}
	assert.True(t, channels[ChannelOpenOrders])
	assert.True(t, channels[ChannelOwnTrades])

	select {
	case msg := <-handler.messages:
		assert.Equal(t, ChannelOwnTrades, msg.Channel)
		require.Len(t, msg.OwnTrades, 1)
		trade := msg.OwnTrades[0]["TID1"]
		assert.Equal(t, "OTX-1", trade.OrderTxID)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for channel frame")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for feed shutdown")
	}
}
