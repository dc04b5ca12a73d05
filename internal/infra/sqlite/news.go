package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/seednet/seednet/internal/domain"
	"github.com/seednet/seednet/internal/infra/wire"
)

func newsTable(q domain.NewsQueue) (string, error) {
	switch q {
	case domain.QueueIncoming, domain.QueueProcessed, domain.QueueOutgoing, domain.QueuePublished:
		return "news_" + string(q), nil
	}
	return "", fmt.Errorf("unknown news queue %q", q)
}

func newsMigrations() []string {
	var m []string
	for _, q := range domain.NewsQueues() {
		name, _ := newsTable(q)
		// seq keeps queue order; re-enqueueing a record moves it to the tail.
		m = append(m, `CREATE TABLE IF NOT EXISTS `+name+` (
			seq    INTEGER PRIMARY KEY AUTOINCREMENT,
			id     TEXT NOT NULL UNIQUE,
			record TEXT NOT NULL
		)`)
	}
	return m
}

// ─── News Queues ────────────────────────────────────────────────────────────

// PutNews appends r to the tail of q, replacing an existing record with the
// same id.
func (d *DB) PutNews(q domain.NewsQueue, r *domain.NewsRecord) error {
	table, err := newsTable(q)
	if err != nil {
		return err
	}
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM `+table+` WHERE id = ?`, r.ID()); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO `+table+` (id, record) VALUES (?, ?)`, r.ID(), wire.NewsMapString(r)); err != nil {
		return err
	}
	return tx.Commit()
}

// GetNews loads one record by id. It returns (nil, nil) when absent.
func (d *DB) GetNews(q domain.NewsQueue, id string) (*domain.NewsRecord, error) {
	table, err := newsTable(q)
	if err != nil {
		return nil, err
	}
	r, err := scanNews(d.db.QueryRow(`SELECT record FROM `+table+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// HeadNews returns the oldest record of q, or nil when q is empty.
func (d *DB) HeadNews(q domain.NewsQueue) (*domain.NewsRecord, error) {
	table, err := newsTable(q)
	if err != nil {
		return nil, err
	}
	r, err := scanNews(d.db.QueryRow(`SELECT record FROM ` + table + ` ORDER BY seq ASC LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// RemoveNews deletes a record and reports whether it existed.
func (d *DB) RemoveNews(q domain.NewsQueue, id string) (bool, error) {
	table, err := newsTable(q)
	if err != nil {
		return false, err
	}
	result, err := d.db.Exec(`DELETE FROM `+table+` WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// ListNews returns every record of q in queue order.
func (d *DB) ListNews(q domain.NewsQueue) ([]*domain.NewsRecord, error) {
	table, err := newsTable(q)
	if err != nil {
		return nil, err
	}
	rows, err := d.db.Query(`SELECT record FROM ` + table + ` ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.NewsRecord
	for rows.Next() {
		r, err := scanNews(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountNews returns the number of records in q.
func (d *DB) CountNews(q domain.NewsQueue) (int, error) {
	table, err := newsTable(q)
	if err != nil {
		return 0, err
	}
	var n int
	err = d.db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n)
	return n, err
}

func scanNews(s scanner) (*domain.NewsRecord, error) {
	var record string
	if err := s.Scan(&record); err != nil {
		return nil, err
	}
	return wire.ParseNewsMapString(record)
}
