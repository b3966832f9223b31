package storage

import (
	"fmt"
	"time"

	"github.com/ZentaChain/hubstack/pkg/protocol"
)

// HubStore persists the known hub list
type HubStore struct {
	db *DB
}

// NewHubStore creates a hub store on db
func NewHubStore(db *DB) *HubStore {
	return &HubStore{db: db}
}

// SaveHub inserts or refreshes a hub
func (s *HubStore) SaveHub(hub protocol.NodeInfo) error {
	if err := s.db.ready(); err != nil {
		return err
	}
	if hub.Identity == protocol.EmptyGUID {
		return fmt.Errorf("%w: hub without identity", protocol.ErrInvalidArgument)
	}

	now := time.Now().Unix()
	query := `
		INSERT INTO known_hubs (identity, public_key, address, name, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			public_key = excluded.public_key,
			address = excluded.address,
			name = excluded.name,
			last_seen = excluded.last_seen
	`

	_, err := s.db.db.Exec(query, hub.Identity.String(), hub.PublicKey(), hub.Address, hub.Name, now, now)
	if err != nil {
		return fmt.Errorf("failed to save hub: %w", err)
	}
	return nil
}

// LoadHubs returns every stored hub, most recently seen first
func (s *HubStore) LoadHubs() ([]protocol.NodeInfo, error) {
	if err := s.db.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.db.Query(`
		SELECT identity, public_key, address, name
		FROM known_hubs
		ORDER BY last_seen DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load hubs: %w", err)
	}
	defer rows.Close()

	var hubs []protocol.NodeInfo
	for rows.Next() {
		var identity, address, name string
		var publicKey []byte
		if err := rows.Scan(&identity, &publicKey, &address, &name); err != nil {
			return nil, fmt.Errorf("failed to scan hub: %w", err)
		}

		guid, err := protocol.ParseGUID(identity)
		if err != nil {
			logger.Warnf("Skipping hub with invalid identity %q: %v", identity, err)
			continue
		}
		hubs = append(hubs, protocol.NodeInfo{
			NodeId:  protocol.NewNodeId(guid, publicKey),
			Address: address,
			Name:    name,
		})
	}
	return hubs, rows.Err()
}

// DeleteHub forgets a hub
func (s *HubStore) DeleteHub(identity protocol.GUID) error {
	if err := s.db.ready(); err != nil {
		return err
	}
	result, err := s.db.db.Exec(`DELETE FROM known_hubs WHERE identity = ?`, identity.String())
	if err != nil {
		return fmt.Errorf("failed to delete hub: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Count returns the number of stored hubs
func (s *HubStore) Count() (int, error) {
	if err := s.db.ready(); err != nil {
		return 0, err
	}
	var count int
	if err := s.db.db.QueryRow(`SELECT COUNT(*) FROM known_hubs`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count hubs: %w", err)
	}
	return count, nil
}
