package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"sequencerFeed/internal/metrics"
	"sequencerFeed/internal/model"
)

// Connection owns one live feed socket. It never reconnects; a read failure
// is reported once on the disconnect channel and ends Run.
type Connection struct {
	id          model.ConnectionID
	conn        *websocket.Conn
	out         chan<- model.FeedFrame
	disconnects chan<- model.ConnectionID
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// Run reads frames until the socket fails or ctx is done.
func (c *Connection) Run(ctx context.Context) {
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.Close()
	})
	defer func() {
		stop()
		_ = c.conn.Close()
	}()

	c.logger.Info("feed reader started")

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Debug("feed reader stopped")
				return
			}
			c.logger.Warn("feed connection lost", zap.Error(err))
			c.notifyDisconnect(ctx)
			return
		}

		var envelope model.BroadcastEnvelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			c.metrics.FrameSkipped()
			c.logger.Debug("skip frame", zap.Error(err), zap.Int("size", len(data)))
			continue
		}

		frame := model.FeedFrame{
			ConnectionID: c.id,
			ReceivedAt:   time.Now().UTC(),
			Envelope:     envelope,
		}
		select {
		case c.out <- frame:
			c.metrics.FrameReceived(c.id)
		case <-ctx.Done():
			return
		}
	}
}

func (c *Connection) notifyDisconnect(ctx context.Context) {
	if c.disconnects == nil {
		return
	}
	select {
	case c.disconnects <- c.id:
	case <-ctx.Done():
	}
}
