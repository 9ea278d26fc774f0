package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// LookupIdempotency returns the memory id previously recorded for key, if any.
func (d *Database) LookupIdempotency(ctx context.Context, key string) (string, bool, error) {
	var memoryID string
	err := d.db.QueryRowContext(ctx,
		`SELECT memory_id FROM idempotency_keys WHERE key = ?;`, key).Scan(&memoryID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return memoryID, true, nil
}

// PutIdempotency records that key produced memoryID.
func (d *Database) PutIdempotency(ctx context.Context, key, userID, memoryID string) error {
	_, err := d.db.ExecContext(ctx, `
        INSERT INTO idempotency_keys(key, user_id, memory_id, created_at)
        VALUES(?, ?, ?, ?)
        ON CONFLICT(key) DO NOTHING;
    `, key, userID, memoryID, time.Now().UTC())
	return err
}
