package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for migrations
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Postgres is the pgx-backed Store.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects, applies pending migrations, and returns the store.
func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	if err := migrate(databaseURL); err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func migrate(databaseURL string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) FindCustomerByPhone(ctx context.Context, phone string) (*Customer, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, phone, name, address, customer_type, source, created_at
		FROM customers
		WHERE phone = $1
		ORDER BY created_at
		LIMIT 1`, phone)

	var c Customer
	err := row.Scan(&c.ID, &c.Phone, &c.Name, &c.Address, &c.Type, &c.Source, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan customer: %w", err)
	}
	return &c, nil
}

func (p *Postgres) CreateCustomer(ctx context.Context, c Customer) (Customer, error) {
	row := p.pool.QueryRow(ctx, `
		INSERT INTO customers (id, phone, name, address, customer_type, source)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		c.ID, c.Phone, c.Name, c.Address, c.Type, c.Source)
	if err := row.Scan(&c.CreatedAt); err != nil {
		return Customer{}, fmt.Errorf("insert customer: %w", err)
	}
	return c, nil
}

func (p *Postgres) CreateWorkOrder(ctx context.Context, wo WorkOrder) (WorkOrder, error) {
	row := p.pool.QueryRow(ctx, `
		INSERT INTO work_orders (
			id, customer_id, call_type, issue_description, system_type, priority,
			status, system_brand, system_age, access_instructions,
			scheduling_preference, onsite_contact, notes
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at`,
		wo.ID, wo.CustomerID, wo.CallType, wo.IssueDescription, wo.SystemType,
		wo.Priority, wo.Status, wo.Brand, wo.SystemAge, wo.AccessInstructions,
		wo.SchedulingPreference, wo.OnSiteContact, wo.Notes)
	if err := row.Scan(&wo.CreatedAt); err != nil {
		return WorkOrder{}, fmt.Errorf("insert work order: %w", err)
	}
	return wo, nil
}

func (p *Postgres) CreateLead(ctx context.Context, l Lead) (Lead, error) {
	row := p.pool.QueryRow(ctx, `
		INSERT INTO leads (id, phone, name, call_type, inquiry, notes, email, source, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`,
		l.ID, l.Phone, l.Name, l.CallType, l.Inquiry, l.Notes, l.Email, l.Source, l.Status)
	if err := row.Scan(&l.CreatedAt); err != nil {
		return Lead{}, fmt.Errorf("insert lead: %w", err)
	}
	return l, nil
}
