// Package catalog is the durable side of the system: registered users,
// their vehicle models, and the cargo/product/job records the thin REST
// endpoints expose. Presence itself never lives here; the catalog only
// keeps a user's last known coordinates, written when they leave.
package catalog

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound  = errors.New("catalog: not found")
	ErrDuplicate = errors.New("catalog: duplicate")
)

const schema = `
CREATE TABLE IF NOT EXISTS models (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	model_number  TEXT NOT NULL UNIQUE,
	volume        REAL NOT NULL DEFAULT 0,
	register_date DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	user_code     TEXT NOT NULL UNIQUE,
	user_name     TEXT NOT NULL UNIQUE,
	model_id      INTEGER REFERENCES models(id),
	lat           REAL NOT NULL DEFAULT 0,
	lng           REAL NOT NULL DEFAULT 0,
	register_date DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	update_date   DATETIME
);
CREATE TABLE IF NOT EXISTS cargos (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	cargo_name    TEXT NOT NULL,
	lat           REAL NOT NULL DEFAULT 0,
	lng           REAL NOT NULL DEFAULT 0,
	register_date DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS products (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	product_name  TEXT NOT NULL,
	volume        REAL NOT NULL DEFAULT 0,
	register_date DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS jobs (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id       INTEGER NOT NULL REFERENCES users(id),
	cargo_id      INTEGER NOT NULL REFERENCES cargos(id),
	product_id    INTEGER NOT NULL REFERENCES products(id),
	product_count INTEGER NOT NULL DEFAULT 0,
	paths         TEXT NOT NULL DEFAULT '',
	status        INTEGER NOT NULL DEFAULT 1,
	start_date    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	end_date      DATETIME
);
CREATE INDEX IF NOT EXISTS idx_jobs_user ON jobs(user_id);
CREATE INDEX IF NOT EXISTS idx_jobs_cargo_product ON jobs(cargo_id, product_id);
`

// Catalog wraps the sqlite handle. All methods are safe for concurrent
// use; database/sql pools connections underneath.
type Catalog struct {
	db *sql.DB
}

// Open opens (and creates, if needed) the catalog database at path.
// Use ":memory:" for an ephemeral instance.
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise see its own empty db
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping catalog: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init catalog schema: %w", err)
	}
	return &Catalog{db: db}, nil
}

func (c *Catalog) Close() error { return c.db.Close() }

type Model struct {
	ID          int64   `json:"id"`
	ModelNumber string  `json:"modelNumber"`
	Volume      float64 `json:"volume"`
}

type User struct {
	ID       int64   `json:"id"`
	UserCode string  `json:"userCode"`
	UserName string  `json:"userName"`
	ModelID  int64   `json:"modelId"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`

	Model *Model `json:"model,omitempty"`
}

type Cargo struct {
	ID        int64   `json:"id"`
	CargoName string  `json:"cargoName"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
}

type Product struct {
	ID          int64   `json:"id"`
	ProductName string  `json:"productName"`
	Volume      float64 `json:"volume"`
}

// Job status values.
const (
	JobCanceled = 0
	JobRunning  = 1
	JobDone     = 2
)

type Job struct {
	ID           int64  `json:"id"`
	UserID       int64  `json:"userId"`
	CargoID      int64  `json:"cargoId"`
	ProductID    int64  `json:"productId"`
	ProductCount int    `json:"productCount"`
	Paths        string `json:"paths"`
	Status       int    `json:"status"`
	StartDate    string `json:"startDate"`
	EndDate      string `json:"endDate,omitempty"`
}

func (c *Catalog) ListModels() ([]Model, error) {
	rows, err := c.db.Query(`SELECT id, model_number, volume FROM models ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer rows.Close()

	var out []Model
	for rows.Next() {
		var m Model
		if err := rows.Scan(&m.ID, &m.ModelNumber, &m.Volume); err != nil {
			return nil, fmt.Errorf("scan model: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (c *Catalog) SaveModel(m Model) (int64, error) {
	res, err := c.db.Exec(`INSERT INTO models (model_number, volume) VALUES (?, ?)`, m.ModelNumber, m.Volume)
	if err != nil {
		return 0, fmt.Errorf("save model: %w", err)
	}
	return res.LastInsertId()
}

func (c *Catalog) ListCargos() ([]Cargo, error) {
	rows, err := c.db.Query(`SELECT id, cargo_name, lat, lng FROM cargos ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list cargos: %w", err)
	}
	defer rows.Close()

	var out []Cargo
	for rows.Next() {
		var cg Cargo
		if err := rows.Scan(&cg.ID, &cg.CargoName, &cg.Lat, &cg.Lng); err != nil {
			return nil, fmt.Errorf("scan cargo: %w", err)
		}
		out = append(out, cg)
	}
	return out, rows.Err()
}

func (c *Catalog) SaveCargo(cg Cargo) (int64, error) {
	res, err := c.db.Exec(`INSERT INTO cargos (cargo_name, lat, lng) VALUES (?, ?, ?)`, cg.CargoName, cg.Lat, cg.Lng)
	if err != nil {
		return 0, fmt.Errorf("save cargo: %w", err)
	}
	return res.LastInsertId()
}

func (c *Catalog) ListProducts() ([]Product, error) {
	rows, err := c.db.Query(`SELECT id, product_name, volume FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.ProductName, &p.Volume); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (c *Catalog) SaveProduct(p Product) (int64, error) {
	res, err := c.db.Exec(`INSERT INTO products (product_name, volume) VALUES (?, ?)`, p.ProductName, p.Volume)
	if err != nil {
		return 0, fmt.Errorf("save product: %w", err)
	}
	return res.LastInsertId()
}
