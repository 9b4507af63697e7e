package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/pairslab/pairscope/internal/metrics"
	"github.com/pairslab/pairscope/internal/tick"
)

// DefaultBinanceFuturesURL is the combined-stream endpoint of the Binance
// USDⓈ-M futures websocket API.
const DefaultBinanceFuturesURL = "wss://fstream.binance.com/stream"

type binanceEnvelope struct {
	Stream string       `json:"stream"`
	Data   binanceTrade `json:"data"`
}

type binanceTrade struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	TradeTime int64  `json:"T"`
	EventTime int64  `json:"E"`
}

// BinanceFutures streams @trade events for a set of symbols over one
// combined websocket connection, reconnecting with exponential backoff.
type BinanceFutures struct {
	BaseURL string
	Symbols []string
	log     zerolog.Logger
}

func NewBinanceFutures(baseURL string, symbols []string, log zerolog.Logger) *BinanceFutures {
	if baseURL == "" {
		baseURL = DefaultBinanceFuturesURL
	}
	return &BinanceFutures{BaseURL: baseURL, Symbols: symbols, log: log}
}

func (b *BinanceFutures) Name() string { return "binance-futures" }

// Stream connects and pushes raw trades to out until ctx is cancelled.
// Disconnects are retried with backoff; aggregation state upstream survives
// the resulting gaps.
func (b *BinanceFutures) Stream(ctx context.Context, out chan<- tick.Raw) error {
	if len(b.Symbols) == 0 {
		return fmt.Errorf("binance feed requires at least one symbol")
	}

	streams := make([]string, len(b.Symbols))
	for i, sym := range b.Symbols {
		streams[i] = strings.ToLower(sym) + "@trade"
	}
	url := fmt.Sprintf("%s?streams=%s", b.BaseURL, strings.Join(streams, "/"))

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := b.consume(ctx, url, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.log.Warn().Err(err).Dur("backoff", backoff).Msg("binance feed disconnected, retrying")
		metrics.FeedReconnects.Inc()
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = time.Duration(math.Min(float64(maxBackoff), float64(backoff)*1.8))
	}
}

func (b *BinanceFutures) consume(ctx context.Context, url string, out chan<- tick.Raw) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	b.log.Info().Strs("symbols", b.Symbols).Msg("connected binance futures trade stream")

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		return nil
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					b.log.Warn().Err(err).Msg("binance ping failed")
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		raw, ok := parseTrade(message, b.log)
		if !ok {
			continue
		}

		select {
		case out <- raw:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// parseTrade decodes a combined-stream trade message into a raw tick.
// Trade time falls back to event time when absent, matching the upstream
// payload contract.
func parseTrade(message []byte, log zerolog.Logger) (tick.Raw, bool) {
	var env binanceEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		log.Warn().Err(err).Msg("failed to decode binance message")
		return tick.Raw{}, false
	}
	if env.Data.EventType != "trade" {
		return tick.Raw{}, false
	}

	px, err := strconv.ParseFloat(env.Data.Price, 64)
	if err != nil {
		log.Warn().Err(err).Str("price", env.Data.Price).Msg("invalid price from binance")
		return tick.Raw{}, false
	}
	qty, err := strconv.ParseFloat(env.Data.Quantity, 64)
	if err != nil {
		log.Warn().Err(err).Str("quantity", env.Data.Quantity).Msg("invalid quantity from binance")
		return tick.Raw{}, false
	}

	ts := env.Data.TradeTime
	if ts == 0 {
		ts = env.Data.EventTime
	}

	return tick.Raw{
		Instrument: strings.ToUpper(env.Data.Symbol),
		TimeMillis: ts,
		Price:      px,
		Quantity:   qty,
	}, true
}
