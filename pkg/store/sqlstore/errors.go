package sqlstore

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/platinummonkey/timeguard/pkg/store"
)

// PostgreSQL SQLSTATE codes for integrity violations
const (
	pqForeignKeyViolation = "23503"
	pqUniqueViolation     = "23505"
)

// translate maps driver integrity errors onto the store sentinels
func translate(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pqForeignKeyViolation:
			return fmt.Errorf("%s: %w: %s", what, store.ErrForeignKey, pqErr.Constraint)
		case pqUniqueViolation:
			return fmt.Errorf("%s: %w: %s", what, store.ErrUnique, pqErr.Constraint)
		}
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.ExtendedCode {
		case sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("%s: %w", what, store.ErrForeignKey)
		case sqlite3.ErrConstraintTrigger:
			// ON DELETE RESTRICT is enforced as a trigger and reports this code
			if strings.Contains(liteErr.Error(), "FOREIGN KEY") {
				return fmt.Errorf("%s: %w", what, store.ErrForeignKey)
			}
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%s: %w", what, store.ErrUnique)
		}
	}

	return fmt.Errorf("%s: %w", what, err)
}
