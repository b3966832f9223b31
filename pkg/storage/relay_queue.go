package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ZentaChain/hubstack/pkg/protocol"
)

// DefaultRelayTTL is how long an undelivered relay is kept
const DefaultRelayTTL = 7 * 24 * time.Hour

// QueueStats summarizes the relay queue
type QueueStats struct {
	Total       int            `json:"total"`
	ByRecipient map[string]int `json:"by_recipient"`
	Oldest      time.Time      `json:"oldest,omitempty"`
}

// RelayQueue stores relays a hub could not deliver until the destination
// connects
type RelayQueue struct {
	db  *DB
	ttl time.Duration

	stopOnce sync.Once
	done     chan struct{}
}

// NewRelayQueue creates a relay queue on db and starts hourly cleanup of
// expired entries. ttl <= 0 uses DefaultRelayTTL.
func NewRelayQueue(db *DB, ttl time.Duration) *RelayQueue {
	if ttl <= 0 {
		ttl = DefaultRelayTTL
	}
	q := &RelayQueue{
		db:   db,
		ttl:  ttl,
		done: make(chan struct{}),
	}
	go q.cleanupLoop(time.Hour)
	return q
}

// QueueRelay stores relay. A relay already queued is ignored.
func (q *RelayQueue) QueueRelay(relay *protocol.MessageRelay) error {
	if err := q.db.ready(); err != nil {
		return err
	}
	if relay == nil || relay.RelayedMessage == nil {
		return fmt.Errorf("%w: empty relay", protocol.ErrInvalidArgument)
	}

	now := time.Now()
	query := `
		INSERT OR IGNORE INTO queued_relays (relay_guid, to_node, payload, queued_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := q.db.db.Exec(query,
		relay.Guid.String(),
		relay.ToNodeGuid.String(),
		relay.Encode().Bytes(),
		now.Unix(),
		now.Add(q.ttl).Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to queue relay: %w", err)
	}

	logger.Debugf("Queued relay %s for %s (expires in %v)", relay.Guid, relay.ToNodeGuid, q.ttl)
	return nil
}

// DequeueRelays removes and returns the unexpired relays for to, oldest first
func (q *RelayQueue) DequeueRelays(to protocol.GUID) ([]*protocol.MessageRelay, error) {
	if err := q.db.ready(); err != nil {
		return nil, err
	}
	tx, err := q.db.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(`
		SELECT id, payload FROM queued_relays
		WHERE to_node = ? AND expires_at > ?
		ORDER BY queued_at ASC, id ASC
	`, to.String(), time.Now().Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to get queued relays: %w", err)
	}

	var relays []*protocol.MessageRelay
	for rows.Next() {
		var id int64
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan relay: %w", err)
		}

		relay, err := decodeRelay(payload)
		if err != nil {
			logger.Warnf("Dropping unreadable queued relay %d: %v", id, err)
			continue
		}
		relays = append(relays, relay)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if _, err := tx.Exec(`DELETE FROM queued_relays WHERE to_node = ?`, to.String()); err != nil {
		return nil, fmt.Errorf("failed to delete relays: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return relays, nil
}

func decodeRelay(payload []byte) (*protocol.MessageRelay, error) {
	msg, err := protocol.ParseMessage(payload)
	if err != nil {
		return nil, err
	}
	var relay protocol.MessageRelay
	if err := relay.Decode(msg); err != nil {
		return nil, err
	}
	return &relay, nil
}

// Count returns the number of unexpired relays queued for to
func (q *RelayQueue) Count(to protocol.GUID) (int, error) {
	if err := q.db.ready(); err != nil {
		return 0, err
	}
	var count int
	err := q.db.db.QueryRow(
		`SELECT COUNT(*) FROM queued_relays WHERE to_node = ? AND expires_at > ?`,
		to.String(), time.Now().Unix(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count relays: %w", err)
	}
	return count, nil
}

// Stats returns statistics about the queue
func (q *RelayQueue) Stats() (*QueueStats, error) {
	if err := q.db.ready(); err != nil {
		return nil, err
	}
	now := time.Now().Unix()
	rows, err := q.db.db.Query(`
		SELECT to_node, COUNT(*) FROM queued_relays
		WHERE expires_at > ?
		GROUP BY to_node
	`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue stats: %w", err)
	}
	defer rows.Close()

	stats := &QueueStats{ByRecipient: make(map[string]int)}
	for rows.Next() {
		var to string
		var count int
		if err := rows.Scan(&to, &count); err != nil {
			return nil, err
		}
		stats.ByRecipient[to] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var oldest sql.NullInt64
	if err := q.db.db.QueryRow(`SELECT MIN(queued_at) FROM queued_relays WHERE expires_at > ?`, now).Scan(&oldest); err != nil {
		return nil, fmt.Errorf("failed to get oldest relay: %w", err)
	}
	if oldest.Valid {
		stats.Oldest = time.Unix(oldest.Int64, 0)
	}
	return stats, nil
}

// RemoveExpired deletes expired relays and returns how many were removed
func (q *RelayQueue) RemoveExpired() (int64, error) {
	if err := q.db.ready(); err != nil {
		return 0, err
	}
	result, err := q.db.db.Exec(`DELETE FROM queued_relays WHERE expires_at <= ?`, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to remove expired relays: %w", err)
	}
	return result.RowsAffected()
}

func (q *RelayQueue) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-q.done:
			return
		case <-ticker.C:
			count, err := q.RemoveExpired()
			if errors.Is(err, ErrClosed) {
				return
			}
			if err != nil {
				logger.Warnf("Failed to cleanup expired relays: %v", err)
				continue
			}
			if count > 0 {
				logger.Infof("🧹 Cleaned up %d expired relays", count)
			}
		}
	}
}

// Close stops the cleanup loop. The database is closed by its owner.
func (q *RelayQueue) Close() {
	q.stopOnce.Do(func() { close(q.done) })
}
