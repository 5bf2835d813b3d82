package pseudostate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mau.fi/util/dbutil"
	"maunium.net/go/mautrix/id"
)

const createTableQuery = `
	CREATE TABLE IF NOT EXISTS pseudo_state (
		scope_id   TEXT   NOT NULL,
		type_key   TEXT   NOT NULL,
		content    TEXT   NOT NULL,
		updated_at BIGINT NOT NULL,
		PRIMARY KEY (scope_id, type_key)
	)
`

// DatabaseStore keeps records in a SQL table.
type DatabaseStore struct {
	db *dbutil.Database
}

var _ Store = (*DatabaseStore)(nil)

func NewDatabaseStore(db *dbutil.Database) *DatabaseStore {
	return &DatabaseStore{db: db}
}

// Init creates the backing table if it doesn't exist.
func (s *DatabaseStore) Init(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, createTableQuery); err != nil {
		return fmt.Errorf("failed to create pseudo_state table: %w", err)
	}
	return nil
}

func (s *DatabaseStore) Get(ctx context.Context, scopeID id.RoomID, typeKey string, out any) (bool, error) {
	if err := validateKey(scopeID, typeKey); err != nil {
		return false, err
	}
	var content string
	err := s.db.QueryRow(ctx,
		`SELECT content FROM pseudo_state WHERE scope_id=$1 AND type_key=$2`,
		scopeID, typeKey,
	).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("failed to read %s record: %w", typeKey, err)
	}
	if err = json.Unmarshal([]byte(content), out); err != nil {
		return false, fmt.Errorf("failed to decode %s record: %w", typeKey, err)
	}
	return true, nil
}

func (s *DatabaseStore) Set(ctx context.Context, scopeID id.RoomID, typeKey string, value any) error {
	if err := validateKey(scopeID, typeKey); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s record: %w", typeKey, err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO pseudo_state (scope_id, type_key, content, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (scope_id, type_key)
		 DO UPDATE SET content=excluded.content, updated_at=excluded.updated_at`,
		scopeID, typeKey, string(data), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to write %s record: %w", typeKey, err)
	}
	return nil
}
