package secrets

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"

	_ "github.com/go-sql-driver/mysql" // mysql driver loaded here
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver loaded here
	_ "modernc.org/sqlite" // sqlite driver loaded here
)

const secretsTable = "sqlfront_secrets"

// DBStore keeps secrets encrypted in a database table. Supported databases: sqlite, postgres and mysql,
// the kind is detected from the connection string.
type DBStore struct {
	db     *sqlx.DB
	driver string
	sealer sealer
}

// NewDBStore opens the database and makes secrets table if needed
func NewDBStore(conn string, key []byte) (*DBStore, error) {
	if len(key) == 0 {
		return nil, errors.New("empty secrets key")
	}
	driver, err := driverFor(conn)
	if err != nil {
		return nil, fmt.Errorf("can't determine database type: %w", err)
	}

	db, err := sqlx.Open(driver, conn)
	if err != nil {
		return nil, fmt.Errorf("can't open secrets database: %w", err)
	}
	q := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (skey VARCHAR(255) PRIMARY KEY, sval TEXT)", secretsTable)
	if _, err = db.Exec(q); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("can't make secrets table: %w", err)
	}
	log.Printf("[INFO] secrets store opened, type: %s", driver)
	return &DBStore{db: db, driver: driver, sealer: sealer{key: key}}, nil
}

// driverFor picks registered sql driver name by connection string
func driverFor(conn string) (string, error) {
	switch {
	case strings.HasPrefix(conn, "postgres://") || strings.HasPrefix(conn, "postgresql://"):
		return "postgres", nil
	case strings.Contains(conn, "@tcp(") || strings.Contains(conn, "@unix("):
		return "mysql", nil
	case strings.HasPrefix(conn, "file:") || strings.HasSuffix(conn, ".sqlite") || strings.HasSuffix(conn, ".db"):
		return "sqlite", nil
	}
	return "", errors.New("unsupported database type in connection string")
}

// Get loads the secret and decrypts it
func (s *DBStore) Get(key string) (string, error) {
	var sealed string
	q := s.db.Rebind(fmt.Sprintf("SELECT sval FROM %s WHERE skey = ?", secretsTable))
	if err := s.db.Get(&sealed, q, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("can't get %q: %w", key, ErrNotFound)
		}
		return "", fmt.Errorf("can't get %q: %w", key, err)
	}
	res, err := s.sealer.open(sealed)
	if err != nil {
		return "", fmt.Errorf("can't decrypt %q: %w", key, err)
	}
	return res, nil
}

// Set encrypts the secret and stores it, replacing the existing one
func (s *DBStore) Set(key, value string) error {
	sealed, err := s.sealer.seal(value)
	if err != nil {
		return fmt.Errorf("can't encrypt %q: %w", key, err)
	}

	q := fmt.Sprintf("INSERT INTO %s (skey, sval) VALUES (?, ?) ON CONFLICT (skey) DO UPDATE SET sval = excluded.sval",
		secretsTable)
	if s.driver == "mysql" {
		q = fmt.Sprintf("REPLACE INTO %s (skey, sval) VALUES (?, ?)", secretsTable)
	}
	if _, err = s.db.Exec(s.db.Rebind(q), key, sealed); err != nil {
		return fmt.Errorf("can't store %q: %w", key, err)
	}
	return nil
}

// Delete removes the secret, missing key is an error
func (s *DBStore) Delete(key string) error {
	q := s.db.Rebind(fmt.Sprintf("DELETE FROM %s WHERE skey = ?", secretsTable))
	res, err := s.db.Exec(q, key)
	if err != nil {
		return fmt.Errorf("can't delete %q: %w", key, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("can't check affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("can't delete %q: %w", key, ErrNotFound)
	}
	return nil
}

// List returns sorted keys starting with prefix. Empty prefix or "*" lists all keys.
func (s *DBStore) List(prefix string) ([]string, error) {
	res := []string{}
	var err error
	if prefix == "" || prefix == "*" {
		err = s.db.Select(&res, fmt.Sprintf("SELECT skey FROM %s ORDER BY skey", secretsTable))
	} else {
		q := s.db.Rebind(fmt.Sprintf("SELECT skey FROM %s WHERE skey LIKE ? ORDER BY skey", secretsTable))
		err = s.db.Select(&res, q, prefix+"%")
	}
	if err != nil {
		return nil, fmt.Errorf("can't list secrets: %w", err)
	}
	return res, nil
}

// Close closes the database
func (s *DBStore) Close() error {
	return s.db.Close()
}
