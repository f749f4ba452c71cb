// Package kraken holds the wire types and transport client for Kraken's
// private WebSocket feeds (openOrders and ownTrades).
package kraken

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Channel names on the private feed.
const (
	ChannelOpenOrders = "openOrders"
	ChannelOwnTrades  = "ownTrades"
)

// Exchange-reported order statuses.
const (
	StatusPending  = "pending"
	StatusOpen     = "open"
	StatusClosed   = "closed"
	StatusCanceled = "canceled"
	StatusExpired  = "expired"
)

// OrderDescription mirrors the descr object embedded in openOrders entries.
// The exchange calls the side field "type" and the order type "ordertype".
type OrderDescription struct {
	Pair      string          `json:"pair"`
	Side      string          `json:"type"`
	OrderType string          `json:"ordertype"`
	Price     decimal.Decimal `json:"price"`
	Price2    decimal.Decimal `json:"price2"`
	Leverage  string          `json:"leverage"`
	Order     string          `json:"order"`
}

// OpenOrderUpdate is one entry of an openOrders snapshot or delta, keyed by
// exchange transaction ID in the surrounding map. Deltas frequently carry
// only the fields that changed, so everything is optional.
type OpenOrderUpdate struct {
	Status       string            `json:"status,omitempty"`
	Descr        *OrderDescription `json:"descr,omitempty"`
	Vol          decimal.Decimal   `json:"vol,omitempty"`
	VolExec      decimal.Decimal   `json:"vol_exec,omitempty"`
	Cost         decimal.Decimal   `json:"cost,omitempty"`
	Fee          decimal.Decimal   `json:"fee,omitempty"`
	AvgPrice     decimal.Decimal   `json:"avg_price,omitempty"`
	StopPrice    decimal.Decimal   `json:"stopprice,omitempty"`
	LimitPrice   decimal.Decimal   `json:"limitprice,omitempty"`
	Userref      int32             `json:"userref,omitempty"`
	OpenTime     UnixTime          `json:"opentm,omitempty"`
	CancelReason string            `json:"cancel_reason,omitempty"`
}

// OwnTrade is one entry of an ownTrades message, keyed by trade ID in the
// surrounding map.
type OwnTrade struct {
	OrderTxID string          `json:"ordertxid"`
	PosTxID   string          `json:"postxid,omitempty"`
	Pair      string          `json:"pair"`
	Side      string          `json:"type"`
	OrderType string          `json:"ordertype"`
	Price     decimal.Decimal `json:"price"`
	Cost      decimal.Decimal `json:"cost"`
	Fee       decimal.Decimal `json:"fee"`
	Vol       decimal.Decimal `json:"vol"`
	Margin    decimal.Decimal `json:"margin,omitempty"`
	Time      UnixTime        `json:"time"`
}

// FeedMessage is one decoded private-feed frame. Exactly one of OpenOrders
// and OwnTrades is populated, matching Channel.
type FeedMessage struct {
	Channel    string
	Sequence   int64
	OpenOrders []map[string]OpenOrderUpdate
	OwnTrades  []map[string]OwnTrade
}

// EventMessage is a non-channel frame: heartbeats, system status,
// subscription acknowledgments.
type EventMessage struct {
	Event        string `json:"event"`
	Status       string `json:"status,omitempty"`
	ChannelName  string `json:"channelName,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

type sequence struct {
	Sequence int64 `json:"sequence"`
}

// ParseFeedMessage decodes a raw frame from the private feed. Channel data
// arrives as a JSON array [payload, channelName, {"sequence": n}]; anything
// else is surfaced as an EventMessage. Exactly one of the returns is
// non-nil on success.
func ParseFeedMessage(raw []byte) (*FeedMessage, *EventMessage, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		var ev EventMessage
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, nil, fmt.Errorf("unrecognized feed frame: %w", err)
		}
		return nil, &ev, nil
	}
	if len(parts) < 2 {
		return nil, nil, fmt.Errorf("channel frame has %d elements, want at least 2", len(parts))
	}

	var channel string
	if err := json.Unmarshal(parts[1], &channel); err != nil {
		return nil, nil, fmt.Errorf("channel name: %w", err)
	}

	msg := &FeedMessage{Channel: channel}
	if len(parts) > 2 {
		var seq sequence
		if err := json.Unmarshal(parts[2], &seq); err == nil {
			msg.Sequence = seq.Sequence
		}
	}

	switch channel {
	case ChannelOpenOrders:
		if err := json.Unmarshal(parts[0], &msg.OpenOrders); err != nil {
			return nil, nil, fmt.Errorf("openOrders payload: %w", err)
		}
	case ChannelOwnTrades:
		if err := json.Unmarshal(parts[0], &msg.OwnTrades); err != nil {
			return nil, nil, fmt.Errorf("ownTrades payload: %w", err)
		}
	default:
		return nil, nil, fmt.Errorf("unknown channel %q", channel)
	}
	return msg, nil, nil
}

// DecodeOpenOrders decodes a bare openOrders payload (the first element of a
// channel frame) without the surrounding frame.
func DecodeOpenOrders(raw []byte) ([]map[string]OpenOrderUpdate, error) {
	var batch []map[string]OpenOrderUpdate
	if err := json.Unmarshal(raw, &batch); err != nil {
		return nil, fmt.Errorf("openOrders payload: %w", err)
	}
	return batch, nil
}

// UnixTime decodes the exchange's decimal-seconds timestamps, which arrive
// either as JSON numbers or as strings.
type UnixTime struct {
	time.Time
}

func (t *UnixTime) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' {
		var err error
		if s, err = strconv.Unquote(s); err != nil {
			return err
		}
	}
	if s == "" || s == "null" {
		return nil
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("timestamp %q: %w", s, err)
	}
	t.Time = time.Unix(0, int64(secs*float64(time.Second))).UTC()
	return nil
}

func (t UnixTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("0"), nil
	}
	return []byte(strconv.FormatFloat(float64(t.UnixNano())/float64(time.Second), 'f', 6, 64)), nil
}
