package models

import (
	"time"

	"github.com/google/uuid"
)

// User roles. Admins are seeded out of band; registration only
// produces customers and tradespeople.
const (
	RoleCustomer     = "customer"
	RoleTradesperson = "tradesperson"
	RoleAdmin        = "admin"
)

type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"-"`
	Phone        string    `json:"phone,omitempty"`
	Postcode     string    `json:"postcode,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
