package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"sequencerFeed/internal/metrics"
	"sequencerFeed/internal/model"
)

// ErrInconsistentState is returned by Run when the pool bookkeeping is violated.
var ErrInconsistentState = errors.New("pool state is inconsistent")

const (
	defaultCooldown     = 70 * time.Second
	defaultTickInterval = time.Second
	defaultStatusEvery  = 40
)

// Conn is a connected feed reader. Run blocks until the connection ends.
type Conn interface {
	Run(ctx context.Context)
}

// ConnectFunc establishes a connection for slot id. The connection reports
// its own failure by sending id on disconnects.
type ConnectFunc func(ctx context.Context, id model.ConnectionID, disconnects chan<- model.ConnectionID) (Conn, error)

// Config controls pool sizing and the reconnect policy.
type Config struct {
	MaxConnections  int
	InitConnections int
	// Cooldown must elapse since the last connect and the last disconnect
	// before the pool repairs or grows. The elapsed time must be strictly
	// greater than Cooldown, so on a 1s tick the default 70s allows the next
	// attempt at 71s.
	Cooldown     time.Duration
	TickInterval time.Duration
	StatusEvery  int
}

// Controller owns the feed connections. Its state is only touched by the
// goroutine running Run, so it carries no locks.
type Controller struct {
	cfg     Config
	connect ConnectFunc
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	disconnects chan model.ConnectionID
	wg          sync.WaitGroup

	active           []bool
	totalActive      int
	lastConnected    time.Time
	lastDisconnected time.Time
	checks           int
}

// New synchronously opens InitConnections connections with ids 0..InitConnections-1
// and starts their readers. ctx bounds the lifetime of those readers. The first
// connection failure aborts construction.
func New(ctx context.Context, cfg Config, connect ConnectFunc, logger *zap.Logger, m *metrics.Metrics) (*Controller, error) {
	if connect == nil {
		return nil, fmt.Errorf("connect func is nil")
	}
	if cfg.MaxConnections <= 0 {
		return nil, fmt.Errorf("max connections must be greater than zero")
	}
	if cfg.InitConnections < 0 || cfg.InitConnections > cfg.MaxConnections {
		return nil, fmt.Errorf("init connections must be between 0 and %d", cfg.MaxConnections)
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.StatusEvery <= 0 {
		cfg.StatusEvery = defaultStatusEvery
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Controller{
		cfg:         cfg,
		connect:     connect,
		logger:      logger,
		metrics:     m,
		now:         time.Now,
		disconnects: make(chan model.ConnectionID, cfg.MaxConnections),
		active:      make([]bool, 0, cfg.MaxConnections),
	}

	// The readers of a failed construction are stopped through this context.
	startCtx, cancel := context.WithCancel(ctx)
	for i := 0; i < cfg.InitConnections; i++ {
		id := model.ConnectionID(i)
		conn, err := connect(ctx, id, c.disconnects)
		if err != nil {
			cancel()
			c.wg.Wait()
			return nil, fmt.Errorf("initial connection %d: %w", id, err)
		}
		c.start(startCtx, conn)
		c.active = append(c.active, true)
		c.totalActive++
	}
	context.AfterFunc(ctx, cancel)

	now := c.now()
	c.lastConnected = now
	c.lastDisconnected = now
	c.metrics.SetConnections(c.totalActive, len(c.active))

	logger.Info("feed pool started",
		zap.Int("connections", len(c.active)),
		zap.Int("max_connections", cfg.MaxConnections),
	)
	return c, nil
}

// Run drives the repair and growth policy until ctx is done or the pool
// detects an internal inconsistency.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
		}

		if err := c.tick(ctx); err != nil {
			c.logger.Error("feed pool stopped", zap.Error(err))
			return err
		}
	}
}

// tick runs one step of the control loop.
func (c *Controller) tick(ctx context.Context) error {
	c.checks++
	if c.checks >= c.cfg.StatusEvery {
		c.logStatus()
		c.checks = 0
	}

	select {
	case id := <-c.disconnects:
		if err := c.markDisconnected(id); err != nil {
			return err
		}
		return c.checkInvariants()
	default:
	}

	now := c.now()
	if now.Sub(c.lastConnected) <= c.cfg.Cooldown || now.Sub(c.lastDisconnected) <= c.cfg.Cooldown {
		return nil
	}

	if id, ok := c.firstInactive(); ok {
		c.repair(ctx, id)
	} else if len(c.active) < c.cfg.MaxConnections {
		c.grow(ctx)
	}
	return c.checkInvariants()
}

func (c *Controller) markDisconnected(id model.ConnectionID) error {
	if int(id) >= len(c.active) {
		return fmt.Errorf("%w: disconnect for unknown connection %d (total %d)", ErrInconsistentState, id, len(c.active))
	}
	if !c.active[id] {
		return fmt.Errorf("%w: disconnect for inactive connection %d", ErrInconsistentState, id)
	}

	c.active[id] = false
	c.totalActive--
	c.lastDisconnected = c.now()
	c.metrics.Disconnect()
	c.metrics.SetConnections(c.totalActive, len(c.active))

	c.logger.Warn("feed client disconnected", zap.Uint32("connection_id", uint32(id)))
	return nil
}

func (c *Controller) repair(ctx context.Context, id model.ConnectionID) {
	conn, err := c.connect(ctx, id, c.disconnects)
	if err != nil {
		c.lastDisconnected = c.now()
		c.metrics.PoolAction("repair", false)
		c.logger.Warn("failed to replace feed client", zap.Uint32("connection_id", uint32(id)), zap.Error(err))
		return
	}

	c.start(ctx, conn)
	c.active[id] = true
	c.totalActive++
	c.lastConnected = c.now()
	c.metrics.PoolAction("repair", true)
	c.metrics.SetConnections(c.totalActive, len(c.active))
	c.logger.Info("feed client replaced", zap.Uint32("connection_id", uint32(id)))
}

func (c *Controller) grow(ctx context.Context) {
	id := model.ConnectionID(len(c.active))
	conn, err := c.connect(ctx, id, c.disconnects)
	if err != nil {
		c.lastDisconnected = c.now()
		c.metrics.PoolAction("grow", false)
		c.logger.Warn("failed to add feed client", zap.Uint32("connection_id", uint32(id)), zap.Error(err))
		return
	}

	c.start(ctx, conn)
	c.active = append(c.active, true)
	c.totalActive++
	c.lastConnected = c.now()
	c.metrics.PoolAction("grow", true)
	c.metrics.SetConnections(c.totalActive, len(c.active))
	c.logger.Info("feed client added", zap.Uint32("connection_id", uint32(id)), zap.Int("total", len(c.active)))
}

func (c *Controller) start(ctx context.Context, conn Conn) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		conn.Run(ctx)
	}()
}

func (c *Controller) firstInactive() (model.ConnectionID, bool) {
	for id, ok := range c.active {
		if !ok {
			return model.ConnectionID(id), true
		}
	}
	return 0, false
}

func (c *Controller) checkInvariants() error {
	var counted int
	for _, ok := range c.active {
		if ok {
			counted++
		}
	}
	total := len(c.active)
	if c.totalActive != counted || c.totalActive < 0 || total > c.cfg.MaxConnections {
		return fmt.Errorf("%w: active=%d counted=%d total=%d max=%d",
			ErrInconsistentState, c.totalActive, counted, total, c.cfg.MaxConnections)
	}
	return nil
}

func (c *Controller) logStatus() {
	total := len(c.active)
	ratio := 0.0
	if total > 0 {
		ratio = float64(c.totalActive) / float64(total)
	}
	c.logger.Info("feed connections",
		zap.Int("active", c.totalActive),
		zap.Int("total", total),
		zap.Float64("ratio", ratio),
	)
}
