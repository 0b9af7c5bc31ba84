package postgres

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/phishsense/sendjobs/internal/service/sendjob"
)

const uniqueViolation = "23505"

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

// requireRunning maps a zero-row update on a running job to ErrLeaseLost.
func requireRunning(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sendjob.ErrLeaseLost
	}
	return nil
}
