package datasource

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ekaya-inc/ekaya-query-engine/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/logging"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/retry"
)

const (
	DefaultConnectionTTLMinutes = 30
	DefaultCleanupInterval      = 1 * time.Minute
	DefaultHandshakeRetries     = 2
)

// ErrManagerClosed is returned by GetConnection after CloseAll.
var ErrManagerClosed = errors.New("connection manager is closed")

// ConnectionManagerConfig holds configuration for the connection manager.
type ConnectionManagerConfig struct {
	// TTLMinutes is how long an idle connection is kept. Zero or negative disables eviction.
	TTLMinutes int
	// HandshakeRetries is how many times a transient handshake failure is retried.
	HandshakeRetries int
	// CleanupInterval overrides DefaultCleanupInterval.
	CleanupInterval time.Duration
}

// ConnectionManager memoizes one live connection per data source id.
// Concurrent first access for the same id performs a single handshake; a failed
// handshake is never cached, so the next caller tries again.
type ConnectionManager struct {
	mu          sync.RWMutex
	connections map[uuid.UUID]*ManagedConnection
	group       singleflight.Group
	ttl         time.Duration
	retryCfg    *retry.Config
	stopped     bool
	stopChan    chan struct{}
	logger      *zap.Logger
	now         func() time.Time
}

// ManagedConnection is a memoized connection plus the bookkeeping used for eviction.
type ManagedConnection struct {
	conn        Connection
	dsType      string
	fingerprint string
	lastUsed    time.Time
	mu          sync.Mutex
}

// NewConnectionManager creates a connection manager with the given configuration.
// When a TTL is configured, a background cleanup goroutine runs until CloseAll is called.
func NewConnectionManager(cfg ConnectionManagerConfig, logger *zap.Logger) *ConnectionManager {
	if cfg.HandshakeRetries < 0 {
		cfg.HandshakeRetries = 0
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}

	manager := &ConnectionManager{
		connections: make(map[uuid.UUID]*ManagedConnection),
		ttl:         time.Duration(cfg.TTLMinutes) * time.Minute,
		retryCfg:    retry.WithMaxRetries(cfg.HandshakeRetries),
		stopChan:    make(chan struct{}),
		logger:      logger.Named("connection-manager"),
		now:         time.Now,
	}

	if manager.ttl > 0 {
		go manager.cleanupExpiredConnections(cfg.CleanupInterval)
	}
	return manager
}

func descriptorFingerprint(dsType, descriptor string) string {
	sum := sha256.Sum256([]byte(dsType + "\x00" + descriptor))
	return hex.EncodeToString(sum[:])
}

// GetConnection returns the memoized connection for datasourceID, opening and
// handshaking a new one when none exists. A changed type or descriptor for a known
// id replaces the old connection.
func (m *ConnectionManager) GetConnection(ctx context.Context, datasourceID uuid.UUID, dsType, descriptor string) (Connection, error) {
	fingerprint := descriptorFingerprint(dsType, descriptor)

	if conn, ok, err := m.lookup(datasourceID, fingerprint); err != nil || ok {
		return conn, err
	}

	factory := GetFactory(dsType)
	if factory == nil {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrUnsupportedDatasourceType, dsType)
	}

	v, err, _ := m.group.Do(datasourceID.String(), func() (any, error) {
		// Another caller may have finished the handshake while we waited.
		if conn, ok, err := m.lookup(datasourceID, fingerprint); err != nil || ok {
			return conn, err
		}
		m.CloseConnection(datasourceID)
		return m.open(ctx, factory, datasourceID, dsType, descriptor, fingerprint)
	})
	if err != nil {
		return nil, err
	}
	return v.(Connection), nil
}

// lookup is the read-locked fast path.
func (m *ConnectionManager) lookup(datasourceID uuid.UUID, fingerprint string) (Connection, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.stopped {
		return nil, false, ErrManagerClosed
	}
	managed, exists := m.connections[datasourceID]
	if !exists || managed.fingerprint != fingerprint {
		return nil, false, nil
	}

	managed.mu.Lock()
	managed.lastUsed = m.now()
	managed.mu.Unlock()
	return managed.conn, true, nil
}

// open constructs and handshakes a connection, retrying transient failures.
// Caller must NOT hold m.mu.
func (m *ConnectionManager) open(ctx context.Context, factory Factory, datasourceID uuid.UUID, dsType, descriptor, fingerprint string) (Connection, error) {
	conn, err := retry.DoWithResult(ctx, m.retryCfg, func() (Connection, error) {
		c, err := factory(ctx, descriptor)
		if err != nil {
			return nil, err
		}
		if err := c.TestConnection(ctx); err != nil {
			_ = c.Close()
			return nil, err
		}
		return c, nil
	})
	if err != nil {
		m.logger.Error("failed to open datasource connection",
			zap.String("datasource_id", datasourceID.String()),
			zap.String("type", dsType),
			zap.String("error", logging.SanitizeError(err)),
		)
		return nil, fmt.Errorf("connect to %s datasource: %w", dsType, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		_ = conn.Close()
		return nil, ErrManagerClosed
	}

	m.connections[datasourceID] = &ManagedConnection{
		conn:        conn,
		dsType:      dsType,
		fingerprint: fingerprint,
		lastUsed:    m.now(),
	}

	m.logger.Info("opened datasource connection",
		zap.String("datasource_id", datasourceID.String()),
		zap.String("type", dsType),
		zap.Int("total_connections", len(m.connections)),
	)
	return conn, nil
}

// CloseConnection removes and closes the connection for a data source.
// Removing an id that is not present is a no-op.
func (m *ConnectionManager) CloseConnection(datasourceID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	managed, exists := m.connections[datasourceID]
	if !exists {
		return nil
	}
	delete(m.connections, datasourceID)

	if err := managed.conn.Close(); err != nil {
		m.logger.Warn("error closing datasource connection",
			zap.String("datasource_id", datasourceID.String()),
			zap.String("error", logging.SanitizeError(err)),
		)
		return fmt.Errorf("close datasource connection: %w", err)
	}
	m.logger.Debug("closed datasource connection", zap.String("datasource_id", datasourceID.String()))
	return nil
}

// cleanupExpiredConnections runs periodically to remove idle connections.
// Runs in a background goroutine until stopChan is closed.
func (m *ConnectionManager) cleanupExpiredConnections(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.performCleanup()
		case <-m.stopChan:
			return
		}
	}
}

// performCleanup removes connections that haven't been used within TTL.
// Lock ordering: manager lock then connection lock.
func (m *ConnectionManager) performCleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped || m.ttl <= 0 {
		return 0
	}

	now := m.now()
	var expired []uuid.UUID
	for id, managed := range m.connections {
		managed.mu.Lock()
		idle := now.Sub(managed.lastUsed)
		managed.mu.Unlock()

		if idle > m.ttl {
			expired = append(expired, id)
			m.logger.Debug("marking connection for cleanup",
				zap.String("datasource_id", id.String()),
				zap.Duration("idle_time", idle),
				zap.Duration("ttl", m.ttl),
			)
		}
	}

	for _, id := range expired {
		if err := m.connections[id].conn.Close(); err != nil {
			m.logger.Warn("error closing idle connection",
				zap.String("datasource_id", id.String()),
				zap.String("error", logging.SanitizeError(err)),
			)
		}
		delete(m.connections, id)
	}

	if len(expired) > 0 {
		m.logger.Info("cleaned up idle connections",
			zap.Int("count", len(expired)),
			zap.Int("remaining", len(m.connections)),
		)
	}
	return len(expired)
}

// CloseAll closes every connection and stops the cleanup goroutine.
// This method is idempotent and safe to call multiple times.
func (m *ConnectionManager) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil
	}
	m.stopped = true
	close(m.stopChan)

	var errs []error
	for id, managed := range m.connections {
		if err := managed.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
	}
	m.connections = make(map[uuid.UUID]*ManagedConnection)

	m.logger.Info("connection manager closed")
	return errors.Join(errs...)
}

// ConnectionStats holds statistics about memoized connections.
type ConnectionStats struct {
	TotalConnections  int            `json:"total_connections"`
	ConnectionsByType map[string]int `json:"connections_by_type"`
	TTLMinutes        int            `json:"ttl_minutes"`
	OldestIdleSeconds int            `json:"oldest_idle_seconds"`
}

// GetStats returns statistics about the connection manager.
func (m *ConnectionManager) GetStats() ConnectionStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := ConnectionStats{
		TotalConnections:  len(m.connections),
		ConnectionsByType: make(map[string]int),
		TTLMinutes:        int(m.ttl.Minutes()),
	}

	now := m.now()
	for _, managed := range m.connections {
		stats.ConnectionsByType[managed.dsType]++

		managed.mu.Lock()
		idle := int(now.Sub(managed.lastUsed).Seconds())
		managed.mu.Unlock()

		if idle > stats.OldestIdleSeconds {
			stats.OldestIdleSeconds = idle
		}
	}
	return stats
}
