package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Customer rows are shared with other modules; the engine only creates them
// lazily when an external record names a customer that does not exist yet.
type Customer struct {
	ID          uuid.UUID
	Name        string
	CompanyName *string
	Phone       *string
	Email       *string
	CompanyID   int64
	CreatedAt   time.Time
}

// GetCustomerByName looks up a customer by exact (name, company_id) match.
func (r *Repository) GetCustomerByName(ctx context.Context, name string, companyID int64) (Customer, error) {
	var customer Customer
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, company_name, phone, email, company_id, created_at
		FROM customers
		WHERE name = $1 AND company_id = $2
		LIMIT 1
	`, name, companyID).Scan(
		&customer.ID, &customer.Name, &customer.CompanyName, &customer.Phone,
		&customer.Email, &customer.CompanyID, &customer.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Customer{}, ErrNotFound
	}
	return customer, err
}

type CreateCustomerParams struct {
	Name        string
	CompanyName *string
	Phone       *string
	Email       *string
	CompanyID   int64
}

func (r *Repository) CreateCustomer(ctx context.Context, params CreateCustomerParams) (Customer, error) {
	var customer Customer
	err := r.pool.QueryRow(ctx, `
		INSERT INTO customers (name, company_name, phone, email, company_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, name, company_name, phone, email, company_id, created_at
	`, params.Name, params.CompanyName, params.Phone, params.Email, params.CompanyID).Scan(
		&customer.ID, &customer.Name, &customer.CompanyName, &customer.Phone,
		&customer.Email, &customer.CompanyID, &customer.CreatedAt,
	)
	return customer, err
}
