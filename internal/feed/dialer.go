package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"sequencerFeed/internal/metrics"
	"sequencerFeed/internal/model"
)

const (
	headerClientVersion     = "Arbitrum-Feed-Client-Version"
	headerRequestedSequence = "Arbitrum-Requested-Sequence-number"
	headerChainID           = "Arbitrum-Chain-Id"

	clientVersion     = "2"
	requestedSequence = "0"

	defaultHandshakeTimeout = 10 * time.Second
)

// DialerConfig holds the fixed parameters shared by every feed connection.
type DialerConfig struct {
	URL              string
	ChainID          uint64
	HandshakeTimeout time.Duration
}

// Dialer opens validated feed connections that publish to a shared frame channel.
type Dialer struct {
	cfg     DialerConfig
	ws      *websocket.Dialer
	out     chan<- model.FeedFrame
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewDialer validates the feed URL and builds a Dialer.
func NewDialer(cfg DialerConfig, out chan<- model.FeedFrame, logger *zap.Logger, m *metrics.Metrics) (*Dialer, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, cfg.URL)
	}
	if out == nil {
		return nil, fmt.Errorf("frame channel is nil")
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dialer{
		cfg: cfg,
		ws: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		out:     out,
		logger:  logger,
		metrics: m,
	}, nil
}

// Connect performs the feed handshake and checks the advertised chain id.
// The returned Connection is not reading yet; call Run.
func (d *Dialer) Connect(ctx context.Context, id model.ConnectionID, disconnects chan<- model.ConnectionID) (*Connection, error) {
	logger := d.logger.With(zap.Uint32("connection_id", uint32(id)))
	logger.Info("connecting to feed", zap.String("url", d.cfg.URL))

	// gorilla adds Host, Upgrade, Connection and the Sec-WebSocket-* headers itself.
	header := http.Header{}
	header[headerClientVersion] = []string{clientVersion}
	header[headerRequestedSequence] = []string{requestedSequence}

	conn, resp, err := d.ws.DialContext(ctx, d.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: status %d: %v", ErrHandshake, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}

	if err := checkChainID(resp.Header, d.cfg.ChainID); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &Connection{
		id:          id,
		conn:        conn,
		out:         d.out,
		disconnects: disconnects,
		logger:      logger,
		metrics:     d.metrics,
	}, nil
}

func checkChainID(header http.Header, want uint64) error {
	raw := strings.TrimSpace(header.Get(headerChainID))
	if raw == "" {
		return ErrMissingChainID
	}
	got, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidChainID, raw)
	}
	if got != want {
		return fmt.Errorf("%w: got %d, want %d", ErrInvalidChainID, got, want)
	}
	return nil
}
