package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"sourcekit/internal/domain"
)

// StateStore implements domain.KVStore. Every query is keyed by
// (extension_id, namespace, key), so partitions never overlap.
type StateStore struct {
	db *sql.DB
}

var _ domain.KVStore = (*StateStore)(nil)

func (s *StateStore) Get(ctx context.Context, extensionID, namespace, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM extension_state WHERE extension_id = ? AND namespace = ? AND key = ?",
		extensionID, namespace, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, domain.NewDomainError("StateStore.Get", domain.ErrStateStore, err.Error())
	}
	return value, true, nil
}

func (s *StateStore) Set(ctx context.Context, extensionID, namespace, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO extension_state (extension_id, namespace, key, value, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(extension_id, namespace, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		extensionID, namespace, key, value, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return domain.NewDomainError("StateStore.Set", domain.ErrStateStore, err.Error())
	}
	return nil
}

func (s *StateStore) Delete(ctx context.Context, extensionID, namespace, key string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM extension_state WHERE extension_id = ? AND namespace = ? AND key = ?",
		extensionID, namespace, key,
	)
	if err != nil {
		return domain.NewDomainError("StateStore.Delete", domain.ErrStateStore, err.Error())
	}
	return nil
}
