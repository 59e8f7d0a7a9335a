package catalog

import (
	"database/sql"
	"errors"
	"fmt"
)

// RegisterJob opens a running job for the user identified by userCode.
func (c *Catalog) RegisterJob(userCode string, cargoID, productID int64, productCount int, paths string) (int64, error) {
	u, err := c.FindUserByCode(userCode)
	if err != nil {
		return 0, err
	}
	res, err := c.db.Exec(`
		INSERT INTO jobs (user_id, cargo_id, product_id, product_count, paths, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, cargoID, productID, productCount, paths, JobRunning)
	if err != nil {
		return 0, fmt.Errorf("register job for %s: %w", userCode, err)
	}
	return res.LastInsertId()
}

// CompleteJob marks a running job done and stamps its end date.
func (c *Catalog) CompleteJob(id int64) error {
	res, err := c.db.Exec(`
		UPDATE jobs SET status = ?, end_date = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?`, JobDone, id, JobRunning)
	if err != nil {
		return fmt.Errorf("complete job %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CancelJob marks a running job canceled.
func (c *Catalog) CancelJob(id int64) error {
	res, err := c.db.Exec(`
		UPDATE jobs SET status = ?, end_date = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?`, JobCanceled, id, JobRunning)
	if err != nil {
		return fmt.Errorf("cancel job %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RunningJobByUser returns the user's current running job, or ErrNotFound.
func (c *Catalog) RunningJobByUser(userCode string) (*Job, error) {
	u, err := c.FindUserByCode(userCode)
	if err != nil {
		return nil, err
	}
	row := c.db.QueryRow(`
		SELECT id, user_id, cargo_id, product_id, product_count, paths, status,
		       start_date, COALESCE(end_date, '')
		FROM jobs WHERE user_id = ? AND status = ?
		ORDER BY id DESC LIMIT 1`, u.ID, JobRunning)

	var j Job
	err = row.Scan(&j.ID, &j.UserID, &j.CargoID, &j.ProductID, &j.ProductCount,
		&j.Paths, &j.Status, &j.StartDate, &j.EndDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("running job for %s: %w", userCode, err)
	}
	return &j, nil
}

// TopCargo is a cargo ranked by how many jobs have targeted it.
type TopCargo struct {
	ID         int64  `json:"id"`
	CargoName  string `json:"cargoName"`
	CargoCount int    `json:"cargoCount"`
}

// TopCargos returns the most-used cargos by job count, busiest first.
func (c *Catalog) TopCargos(limit int) ([]TopCargo, error) {
	rows, err := c.db.Query(`
		SELECT c.id, c.cargo_name, COUNT(j.id) AS cargo_count
		FROM jobs j
		JOIN cargos c ON c.id = j.cargo_id
		GROUP BY c.id, c.cargo_name
		ORDER BY cargo_count DESC, c.id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("top cargos: %w", err)
	}
	defer rows.Close()

	var out []TopCargo
	for rows.Next() {
		var tc TopCargo
		if err := rows.Scan(&tc.ID, &tc.CargoName, &tc.CargoCount); err != nil {
			return nil, fmt.Errorf("scan top cargo: %w", err)
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

// History returns finished jobs for a cargo/product pair, newest first.
func (c *Catalog) History(cargoID, productID int64) ([]Job, error) {
	rows, err := c.db.Query(`
		SELECT id, user_id, cargo_id, product_id, product_count, paths, status,
		       start_date, COALESCE(end_date, '')
		FROM jobs WHERE cargo_id = ? AND product_id = ? AND status != ?
		ORDER BY id DESC`, cargoID, productID, JobRunning)
	if err != nil {
		return nil, fmt.Errorf("history %d/%d: %w", cargoID, productID, err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.UserID, &j.CargoID, &j.ProductID, &j.ProductCount,
			&j.Paths, &j.Status, &j.StartDate, &j.EndDate); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
