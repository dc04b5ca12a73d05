package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/seednet/seednet/internal/domain"
	"github.com/seednet/seednet/internal/infra/wire"
)

// Seed table names, one per directory partition.
const (
	TableConnected    = "seeds_connected"
	TableDisconnected = "seeds_disconnected"
	TablePotential    = "seeds_potential"
)

func seedMigrations() []string {
	var m []string
	for _, name := range []string{TableConnected, TableDisconnected, TablePotential} {
		m = append(m,
			`CREATE TABLE IF NOT EXISTS `+name+` (
				id        TEXT PRIMARY KEY,
				seed      TEXT NOT NULL,
				last_seen INTEGER,
				received  INTEGER,
				departed  INTEGER
			)`,
			`CREATE INDEX IF NOT EXISTS idx_`+name+`_seen ON `+name+`(last_seen)`,
		)
	}
	m = append(m, `CREATE TABLE IF NOT EXISTS self_seed (
		slot       INTEGER PRIMARY KEY CHECK (slot = 1),
		seed       TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`)
	return m
}

// ─── Seed Tables ────────────────────────────────────────────────────────────

// SeedTable stores the peer records of one directory partition. Rows hold
// the plain wire form of the record; a row that no longer decodes is
// reported as domain.ErrCorruptRecord.
type SeedTable struct {
	db    *DB
	table string
}

// SeedTable returns the table with the given name. name must be one of the
// Table* constants.
func (d *DB) SeedTable(name string) (*SeedTable, error) {
	switch name {
	case TableConnected, TableDisconnected, TablePotential:
		return &SeedTable{db: d, table: name}, nil
	}
	return nil, fmt.Errorf("unknown seed table %q", name)
}

// Get loads one record. It returns (nil, nil) when id is absent.
func (t *SeedTable) Get(id domain.ID) (*domain.Peer, error) {
	row := t.db.db.QueryRow(`SELECT id, seed, received, departed FROM `+t.table+` WHERE id = ?`, string(id))
	p, err := scanSeed(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// Put inserts or replaces a record.
func (t *SeedTable) Put(p *domain.Peer) error {
	seed, err := wire.EncodeSeed(p, "")
	if err != nil {
		return fmt.Errorf("encode %s: %w", p.ID, err)
	}
	_, err = t.db.db.Exec(
		`INSERT INTO `+t.table+` (id, seed, last_seen, received, departed) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			seed=excluded.seed,
			last_seen=excluded.last_seen,
			received=excluded.received,
			departed=excluded.departed`,
		string(p.ID), seed, nullableUnix(p.LastSeen), nullableUnix(p.Received), nullableUnix(p.Departed),
	)
	return err
}

// Delete removes a record. Deleting an absent id is not an error.
func (t *SeedTable) Delete(id domain.ID) error {
	_, err := t.db.db.Exec(`DELETE FROM `+t.table+` WHERE id = ?`, string(id))
	return err
}

// Keys returns every id in ascending byte order.
func (t *SeedTable) Keys() ([]domain.ID, error) {
	rows, err := t.db.db.Query(`SELECT id FROM ` + t.table + ` ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []domain.ID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		keys = append(keys, domain.ID(id))
	}
	return keys, rows.Err()
}

// Len returns the row count, or 0 when the table cannot be read.
func (t *SeedTable) Len() int {
	var n int
	if err := t.db.db.QueryRow(`SELECT COUNT(*) FROM ` + t.table).Scan(&n); err != nil {
		return 0
	}
	return n
}

// Clear deletes every row.
func (t *SeedTable) Clear() error {
	_, err := t.db.db.Exec(`DELETE FROM ` + t.table)
	return err
}

func scanSeed(s scanner) (*domain.Peer, error) {
	var id, seed string
	var received, departed sql.NullInt64
	if err := s.Scan(&id, &seed, &received, &departed); err != nil {
		return nil, err
	}
	p, err := wire.DecodeSeed(seed, "", fromNullableUnix(received))
	if err != nil {
		return nil, fmt.Errorf("%w: row %s: %v", domain.ErrCorruptRecord, id, err)
	}
	if string(p.ID) != id {
		return nil, fmt.Errorf("%w: row %s holds seed %s", domain.ErrCorruptRecord, id, p.ID)
	}
	p.Departed = fromNullableUnix(departed)
	return p, nil
}

// ─── Self Seed ──────────────────────────────────────────────────────────────

// LoadSelf returns the persisted local peer record, or nil when none was
// saved yet.
func (d *DB) LoadSelf() (*domain.Peer, error) {
	var seed string
	err := d.db.QueryRow(`SELECT seed FROM self_seed WHERE slot = 1`).Scan(&seed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p, err := wire.DecodeSeed(seed, "", timeNow())
	if err != nil {
		return nil, fmt.Errorf("%w: self seed: %v", domain.ErrCorruptRecord, err)
	}
	return p, nil
}

// SaveSelf persists the local peer record.
func (d *DB) SaveSelf(p *domain.Peer) error {
	seed, err := wire.EncodeSeed(p, "")
	if err != nil {
		return fmt.Errorf("encode self: %w", err)
	}
	_, err = d.db.Exec(
		`INSERT INTO self_seed (slot, seed, updated_at) VALUES (1, ?, ?)
		 ON CONFLICT(slot) DO UPDATE SET seed=excluded.seed, updated_at=excluded.updated_at`,
		seed, timeNow().Unix(),
	)
	return err
}
