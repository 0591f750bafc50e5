package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// PreflightResult reports the outcome of a warehouse integrity check.
type PreflightResult struct {
	Healthy    bool
	Elapsed    time.Duration
	CheckError error // nil when quick_check passed
}

// Preflight runs a bounded quick_check against the warehouse file before an
// analysis batch. The warehouse is opened read-only so a corrupt file is
// reported, never renamed or repaired here.
func (s *Store) Preflight(ctx context.Context) (PreflightResult, error) {
	timeout := time.Duration(s.cfg.PreflightTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	res := PreflightResult{}

	db, err := s.open(ctx)
	if err != nil {
		return res, err
	}
	defer db.Close()
	if _, err := db.ExecContext(ctx, fmt.Sprintf("pragma busy_timeout=%d", timeout.Milliseconds())); err != nil {
		return res, fmt.Errorf("warehouse: set busy_timeout: %w", err)
	}

	res.CheckError = quickCheck(ctx, db)
	res.Elapsed = time.Since(start)
	if res.CheckError == nil {
		res.Healthy = true
		return res, nil
	}
	if ctx.Err() == context.DeadlineExceeded {
		return res, fmt.Errorf("warehouse: preflight timed out after %s", timeout)
	}
	s.log.Printf("warehouse preflight: quick_check failed (%v); elapsed=%s", res.CheckError, res.Elapsed)
	return res, nil
}

func quickCheck(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, "pragma quick_check")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		if scanErr := rows.Scan(&status); scanErr != nil {
			return scanErr
		}
		if strings.TrimSpace(status) != "ok" {
			return fmt.Errorf("quick_check reported %q", status)
		}
	}
	return rows.Err()
}
