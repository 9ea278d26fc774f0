package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/evermind-ai/companion/pkg/model"
)

const memoryColumns = `id, user_id, summary, full_text, emotion_detected,
    emotion_confidence, memory_type, recalled_count, created_at, updated_at`

// InsertMemory writes a new memory row.
func (d *Database) InsertMemory(ctx context.Context, m *model.Memory) error {
	_, err := d.db.ExecContext(ctx, `
        INSERT INTO memories(`+memoryColumns+`)
        VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
    `, m.ID, m.UserID, m.Summary, m.FullText, m.EmotionDetected,
		m.EmotionConfidence, m.MemoryType, m.RecalledCount, m.CreatedAt, m.UpdatedAt)
	return err
}

// GetMemory loads one memory by id.
func (d *Database) GetMemory(ctx context.Context, id string) (*model.Memory, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE id = ?;`, id)
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFoundf("no memory %q", id)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ListMemories returns all of a user's memories ordered by id ascending.
// Memory ids are ULIDs, so this is also creation order.
func (d *Database) ListMemories(ctx context.Context, userID string) ([]model.Memory, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE user_id = ? ORDER BY id ASC;`, userID)
	if err != nil {
		return nil, err
	}
	return collectMemories(rows)
}

// ListMemoriesByTypes returns a user's memories restricted to the given types.
func (d *Database) ListMemoriesByTypes(ctx context.Context, userID string, types []model.MemoryType) ([]model.Memory, error) {
	if len(types) == 0 {
		return nil, nil
	}
	args := []any{userID}
	for _, t := range types {
		args = append(args, string(t))
	}
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories
         WHERE user_id = ? AND memory_type IN (`+placeholders(len(types))+`)
         ORDER BY id ASC;`, args...)
	if err != nil {
		return nil, err
	}
	return collectMemories(rows)
}

// RecentMemories returns the newest memories first, ties broken by id.
func (d *Database) RecentMemories(ctx context.Context, userID string, limit int) ([]model.Memory, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories
         WHERE user_id = ?
         ORDER BY created_at DESC, id ASC
         LIMIT ?;`, userID, limit)
	if err != nil {
		return nil, err
	}
	return collectMemories(rows)
}

// FetchMemories retrieves memories by ids. Order is not preserved.
func (d *Database) FetchMemories(ctx context.Context, ids []string) ([]model.Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE id IN (`+placeholders(len(ids))+`);`, args...)
	if err != nil {
		return nil, err
	}
	return collectMemories(rows)
}

// CountMemories returns the user's total stored memories.
func (d *Database) CountMemories(ctx context.Context, userID string) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memories WHERE user_id = ?;`, userID).Scan(&n)
	return n, err
}

// BumpRecalled increments recalled_count for each id in one transaction.
func (d *Database) BumpRecalled(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE memories SET recalled_count = recalled_count + 1
         WHERE id IN (`+placeholders(len(ids))+`);`, args...); err != nil {
		return err
	}
	return tx.Commit()
}

// ApplyConsolidation rewrites surviving memories and deletes absorbed ones
// atomically. A failure rolls the whole pass back.
func (d *Database) ApplyConsolidation(ctx context.Context, survivors []model.Memory, absorbed []string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, s := range survivors {
		if _, err := tx.ExecContext(ctx,
			`UPDATE memories SET summary = ?, full_text = ?, updated_at = ? WHERE id = ?;`,
			s.Summary, s.FullText, s.UpdatedAt, s.ID); err != nil {
			return err
		}
	}
	if len(absorbed) > 0 {
		args := make([]any, len(absorbed))
		for i, id := range absorbed {
			args[i] = id
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM memories WHERE id IN (`+placeholders(len(absorbed))+`);`, args...); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListUserIDs returns every user with at least one memory.
func (d *Database) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM memories ORDER BY user_id;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*model.Memory, error) {
	var m model.Memory
	var emotion sql.NullString
	err := row.Scan(&m.ID, &m.UserID, &m.Summary, &m.FullText, &emotion,
		&m.EmotionConfidence, &m.MemoryType, &m.RecalledCount, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if emotion.Valid {
		m.EmotionDetected = emotion.String
	}
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return &m, nil
}

func collectMemories(rows *sql.Rows) ([]model.Memory, error) {
	defer rows.Close()
	var out []model.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	out := make([]byte, 0, 2*n)
	for i := 0; i < n; i++ {
		out = append(out, '?')
		if i != n-1 {
			out = append(out, ',')
		}
	}
	return string(out)
}
