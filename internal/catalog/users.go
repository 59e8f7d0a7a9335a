package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// FindUserByCode returns the user with model details joined in, or
// ErrNotFound.
func (c *Catalog) FindUserByCode(userCode string) (*User, error) {
	row := c.db.QueryRow(`
		SELECT u.id, u.user_code, u.user_name, COALESCE(u.model_id, 0), u.lat, u.lng,
		       COALESCE(m.id, 0), COALESCE(m.model_number, ''), COALESCE(m.volume, 0)
		FROM users u
		LEFT JOIN models m ON m.id = u.model_id
		WHERE u.user_code = ?`, userCode)

	var u User
	var m Model
	err := row.Scan(&u.ID, &u.UserCode, &u.UserName, &u.ModelID, &u.Lat, &u.Lng,
		&m.ID, &m.ModelNumber, &m.Volume)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user %s: %w", userCode, err)
	}
	if m.ID != 0 {
		u.Model = &m
	}
	return &u, nil
}

// UserExists is the cheap validity check the websocket layer runs before
// trusting a userCode.
func (c *Catalog) UserExists(userCode string) (bool, error) {
	var one int
	err := c.db.QueryRow(`SELECT 1 FROM users WHERE user_code = ?`, userCode).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("user exists %s: %w", userCode, err)
	}
	return true, nil
}

// SaveUser registers a new user. Duplicate codes or names return
// ErrDuplicate.
func (c *Catalog) SaveUser(u User) (int64, error) {
	res, err := c.db.Exec(`
		INSERT INTO users (user_code, user_name, model_id, lat, lng)
		VALUES (?, ?, NULLIF(?, 0), ?, ?)`,
		u.UserCode, u.UserName, u.ModelID, u.Lat, u.Lng)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return 0, ErrDuplicate
		}
		return 0, fmt.Errorf("save user %s: %w", u.UserCode, err)
	}
	return res.LastInsertId()
}

// UpdateUserLocation persists the last known coordinates. The leave
// notifier is its only caller in the live path.
func (c *Catalog) UpdateUserLocation(userCode string, lat, lng float64) error {
	res, err := c.db.Exec(`
		UPDATE users SET lat = ?, lng = ?, update_date = CURRENT_TIMESTAMP
		WHERE user_code = ?`, lat, lng, userCode)
	if err != nil {
		return fmt.Errorf("update user location %s: %w", userCode, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
