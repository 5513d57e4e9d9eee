package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// QuoteHandler is called for every quote received on the stream.
type QuoteHandler func(q Quote)

type subscribeRequest struct {
	Op      string   `json:"op"`
	Symbols []string `json:"symbols"`
}

// Stream is a websocket price stream client. After connecting it subscribes
// to its symbols and delivers every decoded quote to the handlers.
type Stream struct {
	url            string
	symbols        []string
	logger         *zap.Logger
	reconnectDelay time.Duration

	handlersMu sync.RWMutex
	handlers   []QuoteHandler

	connMu    sync.Mutex
	conn      *websocket.Conn
	connected bool
}

func NewStream(url string, symbols []string, logger *zap.Logger) *Stream {
	if logger == nil {
		logger = zap.NewNop()
	}
	upper := make([]string, len(symbols))
	for i, s := range symbols {
		upper[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	return &Stream{
		url:            url,
		symbols:        upper,
		logger:         logger,
		reconnectDelay: 5 * time.Second,
	}
}

// AddHandler adds a quote handler
func (s *Stream) AddHandler(h QuoteHandler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers = append(s.handlers, h)
}

// IsConnected returns whether the stream currently holds a connection
func (s *Stream) IsConnected() bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.connected
}

// Run connects and reads until ctx is done, reconnecting after failures.
func (s *Stream) Run(ctx context.Context) error {
	for {
		err := s.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		s.logger.Warn("oracle.stream_disconnected",
			zap.String("url", s.url),
			zap.Duration("retry_in", s.reconnectDelay),
			zap.Error(err))

		select {
		case <-time.After(s.reconnectDelay):
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Stream) session(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to price stream: %w", err)
	}
	s.setConn(conn)
	defer s.setConn(nil)

	// unblock ReadMessage on shutdown
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer func() { _ = conn.Close() }()

	if err := conn.WriteJSON(subscribeRequest{Op: "subscribe", Symbols: s.symbols}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	s.logger.Info("oracle.stream_connected", zap.String("url", s.url), zap.Strings("symbols", s.symbols))

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return fmt.Errorf("closed by server: %w", err)
			}
			return fmt.Errorf("read: %w", err)
		}

		var q Quote
		if err := json.Unmarshal(message, &q); err != nil || q.Symbol == "" {
			s.logger.Debug("oracle.stream_message_ignored", zap.String("payload", string(message)))
			continue
		}
		q.Symbol = strings.ToUpper(q.Symbol)
		if q.Timestamp.IsZero() {
			q.Timestamp = time.Now().UTC()
		}
		s.notify(q)
	}
}

func (s *Stream) setConn(conn *websocket.Conn) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.conn = conn
	s.connected = conn != nil
}

func (s *Stream) notify(q Quote) {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	for _, h := range s.handlers {
		h(q)
	}
}
