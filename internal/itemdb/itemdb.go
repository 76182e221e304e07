// Package itemdb implements AddItem's transactional write against the item
// database: a single generic table keyed by class id plus an attribute-key
// digest, with a unique constraint enforcing one row per distinct attribute
// combination within a class. Grounded on the original copperd/lib/itemdb/src/
// client/base/{mod.rs,errors/item.rs} (Postgres-backed item store, unique
// constraint mapped to a typed error) and the teacher's internal/job-budgeting
// package for the plain database/sql + lib/pq idiom.
package itemdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/copperd/copper/internal/pipedata"
)

// uniqueViolationCode is Postgres's SQLSTATE for a unique_violation, per
// https://www.postgresql.org/docs/current/errcodes-appendix.html.
const uniqueViolationCode = "23505"

// OnUniqueViolation selects how InsertItem reacts when an item with the same
// class id and attribute combination already exists.
type OnUniqueViolation string

const (
	// OnViolationError fails the insert; the caller's transaction should be
	// rolled back by the scheduler, per spec's atomic-job semantics.
	OnViolationError OnUniqueViolation = "Error"
	// OnViolationIgnore silently reports the row as not created, with no
	// item id.
	OnViolationIgnore OnUniqueViolation = "Ignore"
	// OnViolationReturnExisting fetches and returns the id of the row that
	// already satisfies the attribute combination.
	OnViolationReturnExisting OnUniqueViolation = "ReturnExisting"
)

// ErrConstraintViolation reports that an insert collided with the unique
// constraint and the caller's policy was OnViolationError.
type ErrConstraintViolation struct {
	ClassID int64
	Err     error
}

func (e *ErrConstraintViolation) Error() string {
	return fmt.Sprintf("itemdb: class %d: unique constraint violated: %v", e.ClassID, e.Err)
}

func (e *ErrConstraintViolation) Unwrap() error { return e.Err }

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolationCode
	}
	return false
}

// attrKey computes the digest InsertItem uses to detect a duplicate
// attribute combination within a class: the SHA-256 of the attribute values'
// canonical JSON encoding, in declared port order. Order matters — two
// AddItem nodes with the same values in a different port order are not
// considered duplicates, matching the original's positional attribute-vector
// comparison.
func attrKey(attrs []pipedata.PipeData) ([]byte, error) {
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("itemdb: encoding attribute key: %w", err)
	}
	sum := sha256.Sum256(encoded)
	return sum[:], nil
}

// InsertItem inserts one row into the items table within tx, applying policy
// when the (class_id, attr_key) pair already exists. It returns the row's
// item id and whether a new row was created; created is false only under
// OnViolationIgnore and OnViolationReturnExisting.
func InsertItem(ctx context.Context, tx *sql.Tx, classID int64, attrs []pipedata.PipeData, policy OnUniqueViolation) (itemID int64, created bool, err error) {
	key, err := attrKey(attrs)
	if err != nil {
		return 0, false, err
	}
	attributes, err := json.Marshal(attrs)
	if err != nil {
		return 0, false, fmt.Errorf("itemdb: encoding attributes: %w", err)
	}

	const insert = `INSERT INTO items (class_id, attr_key, attributes) VALUES ($1, $2, $3) RETURNING id`
	row := tx.QueryRowContext(ctx, insert, classID, key, attributes)
	if scanErr := row.Scan(&itemID); scanErr != nil {
		if !isUniqueViolation(scanErr) {
			return 0, false, fmt.Errorf("itemdb: inserting item: %w", scanErr)
		}
		switch policy {
		case OnViolationError:
			return 0, false, &ErrConstraintViolation{ClassID: classID, Err: scanErr}
		case OnViolationIgnore:
			return 0, false, nil
		case OnViolationReturnExisting:
			const lookup = `SELECT id FROM items WHERE class_id = $1 AND attr_key = $2`
			if err := tx.QueryRowContext(ctx, lookup, classID, key).Scan(&itemID); err != nil {
				return 0, false, fmt.Errorf("itemdb: looking up existing item after conflict: %w", err)
			}
			return itemID, false, nil
		default:
			return 0, false, fmt.Errorf("itemdb: unknown unique-violation policy %q", policy)
		}
	}
	return itemID, true, nil
}

// Schema is the DDL the items table must satisfy. It is not executed by this
// package — migrations are owned by the deploying daemon's startup sequence
// — but kept here as the single source of truth InsertItem's SQL assumes.
const Schema = `
CREATE TABLE IF NOT EXISTS items (
	id BIGSERIAL PRIMARY KEY,
	class_id BIGINT NOT NULL,
	attr_key BYTEA NOT NULL,
	attributes JSONB NOT NULL,
	UNIQUE (class_id, attr_key)
);`
