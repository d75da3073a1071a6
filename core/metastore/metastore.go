// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*Package metastore is the registry's relational metadata store:
crates, versions, users and ownerships. It runs on the pure-Go
modernc.org/sqlite driver so the registry stays a single static binary
with no cgo toolchain requirement, opening one file-backed database at
startup the way the rest of the registry opens the index directory
once and passes it around.
*/
package metastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Sentinel errors mapped to specific HTTP statuses by callers.
var (
	ErrNoSuchUser     = errors.New("metastore: no such user")
	ErrMultipleUsers  = errors.New("metastore: ambiguous user")
)

// Store is the registry's metadata database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the sqlite database at path and
// ensures its schema exists.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("metastore: database path required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("metastore: create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("metastore: open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA foreign_keys=ON;`,
		`CREATE TABLE IF NOT EXISTS crates (
			crateId INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE
		);`,
		`CREATE TABLE IF NOT EXISTS versions (
			versionId INTEGER PRIMARY KEY AUTOINCREMENT,
			crateId INTEGER NOT NULL REFERENCES crates(crateId),
			version TEXT NOT NULL,
			description TEXT,
			documentation TEXT,
			homepage TEXT,
			readme TEXT,
			readme_file TEXT,
			license TEXT,
			license_file TEXT,
			repository TEXT,
			UNIQUE(crateId, version)
		);`,
		`CREATE TABLE IF NOT EXISTS users (
			userId INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ownerships (
			ownershipId INTEGER PRIMARY KEY AUTOINCREMENT,
			user INTEGER NOT NULL REFERENCES users(userId),
			crate INTEGER NOT NULL REFERENCES crates(crateId),
			UNIQUE(user, crate)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("metastore: migrate: %w", err)
		}
	}
	return nil
}

// VersionMetadata is the set of free-text version attributes carried
// alongside a published version.
type VersionMetadata struct {
	Description   string
	Documentation string
	Homepage      string
	Readme        string
	ReadmeFile    string
	License       string
	LicenseFile   string
	Repository    string
}

// AddPackage records crateName/version inside one transaction: the
// crate row is created if absent, then exactly one version row is
// inserted. Publishing the same (crateName, version) twice is rejected
// by the versions table's UNIQUE constraint; callers are expected to
// have already checked the index for that case, so this only guards
// against metadata/index state diverging.
func (s *Store) AddPackage(ctx context.Context, crateName, version string, meta VersionMetadata) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("metastore: begin transaction: %w", err)
	}
	defer tx.Rollback()

	crateID, err := s.findOrCreateCrate(ctx, tx, crateName)
	if err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO versions (crateId, version, description, documentation, homepage, readme, readme_file, license, license_file, repository)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		crateID, version, meta.Description, meta.Documentation, meta.Homepage, meta.Readme, meta.ReadmeFile, meta.License, meta.LicenseFile, meta.Repository)
	if err != nil {
		return fmt.Errorf("metastore: insert version: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("metastore: insert version: %w", err)
	}
	if affected != 1 {
		return fmt.Errorf("metastore: expected exactly one row affected inserting version, got %d", affected)
	}

	return tx.Commit()
}

func (s *Store) findOrCreateCrate(ctx context.Context, tx *sql.Tx, name string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT crateId FROM crates WHERE name = ?`, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("metastore: lookup crate: %w", err)
	}
	result, err := tx.ExecContext(ctx, `INSERT INTO crates (name) VALUES (?)`, name)
	if err != nil {
		return 0, fmt.Errorf("metastore: create crate: %w", err)
	}
	return result.LastInsertId()
}

// CrateExists reports whether a crate with exactly this name has ever
// been published.
func (s *Store) CrateExists(ctx context.Context, name string) (bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT crateId FROM crates WHERE name = ?`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("metastore: lookup crate: %w", err)
	}
	return true, nil
}

// Description returns the description recorded for (crateName,
// version), or the empty string if no such version exists.
func (s *Store) Description(ctx context.Context, crateName, version string) (string, error) {
	var description sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT v.description FROM versions v
		JOIN crates c ON c.crateId = v.crateId
		WHERE c.name = ? AND v.version = ?`, crateName, version).Scan(&description)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("metastore: lookup description: %w", err)
	}
	return description.String, nil
}

// Owner is one user entry returned by ListOwners.
type Owner struct {
	ID    int64
	Login string
}

// ListOwners returns every user owning crateName, ordered by userId.
func (s *Store) ListOwners(ctx context.Context, crateName string) ([]Owner, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.userId, u.name FROM ownerships o
		JOIN users u ON u.userId = o.user
		JOIN crates c ON c.crateId = o.crate
		WHERE c.name = ?
		ORDER BY u.userId`, crateName)
	if err != nil {
		return nil, fmt.Errorf("metastore: list owners: %w", err)
	}
	defer rows.Close()

	var owners []Owner
	for rows.Next() {
		var o Owner
		if err := rows.Scan(&o.ID, &o.Login); err != nil {
			return nil, fmt.Errorf("metastore: scan owner: %w", err)
		}
		owners = append(owners, o)
	}
	return owners, rows.Err()
}

// AddOwner grants login ownership of crateName. login must match
// exactly one user: zero matches returns ErrNoSuchUser, more than one
// returns ErrMultipleUsers. The crate row is created if it doesn't
// already exist, mirroring AddPackage's create-if-absent behavior.
func (s *Store) AddOwner(ctx context.Context, crateName, login string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("metastore: begin transaction: %w", err)
	}
	defer tx.Rollback()

	userID, err := s.findUniqueUser(ctx, tx, login)
	if err != nil {
		return err
	}
	crateID, err := s.findOrCreateCrate(ctx, tx, crateName)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ownerships (user, crate) VALUES (?, ?)
		ON CONFLICT(user, crate) DO NOTHING`, userID, crateID); err != nil {
		return fmt.Errorf("metastore: add owner: %w", err)
	}
	return tx.Commit()
}

// RemoveOwner revokes login's ownership of crateName. login must match
// exactly one user, with the same error mapping as AddOwner.
func (s *Store) RemoveOwner(ctx context.Context, crateName, login string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("metastore: begin transaction: %w", err)
	}
	defer tx.Rollback()

	userID, err := s.findUniqueUser(ctx, tx, login)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM ownerships WHERE user = ? AND crate = (SELECT crateId FROM crates WHERE name = ?)`,
		userID, crateName); err != nil {
		return fmt.Errorf("metastore: remove owner: %w", err)
	}
	return tx.Commit()
}

func (s *Store) findUniqueUser(ctx context.Context, tx *sql.Tx, login string) (int64, error) {
	rows, err := tx.QueryContext(ctx, `SELECT userId FROM users WHERE name = ?`, login)
	if err != nil {
		return 0, fmt.Errorf("metastore: lookup user: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return 0, fmt.Errorf("metastore: scan user: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	switch len(ids) {
	case 0:
		return 0, ErrNoSuchUser
	case 1:
		return ids[0], nil
	default:
		return 0, ErrMultipleUsers
	}
}

// EnsureUser creates login if it doesn't already exist and returns its
// id. Used by tests and by any future bootstrap/admin path; the HTTP
// owners pipeline itself only ever looks users up by name.
func (s *Store) EnsureUser(ctx context.Context, login string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT userId FROM users WHERE name = ?`, login).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("metastore: lookup user: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `INSERT INTO users (name) VALUES (?)`, login)
	if err != nil {
		return 0, fmt.Errorf("metastore: create user: %w", err)
	}
	return result.LastInsertId()
}
