package pgdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/lib/pq"
	log "github.com/sirupsen/logrus"
)

const (
	driverName = "postgres"
	maxRetries = 5

	// invalid_catalog_name, returned when the database of the dsn is missing.
	errCodeMissingDb = "3D000"
)

// OpenDb connects to the report database. With autoCreate set, a database
// missing on the server is created and the connection retried once.
func OpenDb(dsn string, autoCreate bool) (*sql.DB, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres db: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = db.PingContext(ctx)
	if err != nil && autoCreate && isMissingDbError(err) {
		if err = createDb(ctx, dsn); err == nil {
			err = db.PingContext(ctx)
		}
	}
	if err != nil {
		// nolint
		db.Close()
		return nil, fmt.Errorf("unable to establish connection with db: %v", err)
	}

	return db, nil
}

func isMissingDbError(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == errCodeMissingDb
}

// createDb connects to the server default database to create the one named in
// the dsn path. Only url-formatted dsns are supported.
func createDb(ctx context.Context, dsn string) error {
	u, err := url.Parse(dsn)
	if err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
		return fmt.Errorf("cannot create db from a dsn not in url format")
	}
	name := strings.TrimPrefix(u.Path, "/")
	if name == "" {
		return fmt.Errorf("cannot create db without name")
	}
	u.Path = ""

	root, err := sql.Open(driverName, u.String())
	if err != nil {
		return err
	}
	// nolint
	defer root.Close()

	log.Infof("creating postgres database %s", name)
	_, err = root.ExecContext(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(name))
	return err
}

// withRetries retries fn while it fails on serialization conflicts.
func withRetries(fn func() error) error {
	var err error
	for range maxRetries {
		if err = fn(); err == nil || !isConflictError(err) {
			return err
		}
		time.Sleep(100 * time.Millisecond)
	}
	return err
}

func isConflictError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// serialization_failure and deadlock_detected.
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}
