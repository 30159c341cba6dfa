// Package record defines the contact record variants (Lead, Customer) and
// their persistence interface.
package record

import "time"

// Kind discriminates the two contact record variants.
type Kind string

// Record kinds.
const (
	KindLead     Kind = "lead"
	KindCustomer Kind = "customer"
)

// Valid reports whether k is a known record kind.
func (k Kind) Valid() bool {
	return k == KindLead || k == KindCustomer
}

// Ref identifies one contact record across both variants.
type Ref struct {
	Kind Kind  `json:"kind"`
	ID   int64 `json:"id"`
}

// Lead statuses.
const (
	LeadStatusNew       = "new"
	LeadStatusContacted = "contacted"
	LeadStatusQualified = "qualified"
	LeadStatusConverted = "converted"
	LeadStatusLost      = "lost"
)

// Lead is a potential customer captured from an intake channel.
type Lead struct {
	ID         int64  `json:"id" db:"id"`
	FirstName  string `json:"first_name" db:"first_name"`
	LastName   string `json:"last_name,omitempty" db:"last_name"`
	Email      string `json:"email,omitempty" db:"email"`
	Phone      string `json:"phone,omitempty" db:"phone"`
	Address    string `json:"address,omitempty" db:"address"`
	City       string `json:"city,omitempty" db:"city"`
	State      string `json:"state,omitempty" db:"state"`
	PostalCode string `json:"postal_code,omitempty" db:"postal_code"`

	Status string `json:"status" db:"status"`
	Score  int    `json:"score" db:"score"`
	Notes  string `json:"notes,omitempty" db:"notes"`

	// OriginalData is the raw intake payload (JSONB), including the
	// merged_data history appended by lead-to-lead merges.
	OriginalData []byte `json:"original_data,omitempty" db:"original_data"`

	ConvertedAt *time.Time `json:"converted_at,omitempty" db:"converted_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// Ref returns the tagged reference for this lead.
func (l *Lead) Ref() Ref { return Ref{Kind: KindLead, ID: l.ID} }

// FullName joins first and last name.
func (l *Lead) FullName() string {
	if l.LastName == "" {
		return l.FirstName
	}
	return l.FirstName + " " + l.LastName
}

// Customer is a converted contact with financial standing.
type Customer struct {
	ID         int64  `json:"id" db:"id"`
	FirstName  string `json:"first_name" db:"first_name"`
	LastName   string `json:"last_name,omitempty" db:"last_name"`
	Email      string `json:"email,omitempty" db:"email"`
	Phone      string `json:"phone,omitempty" db:"phone"`
	Address    string `json:"address,omitempty" db:"address"`
	City       string `json:"city,omitempty" db:"city"`
	State      string `json:"state,omitempty" db:"state"`
	PostalCode string `json:"postal_code,omitempty" db:"postal_code"`

	CompanyName string `json:"company_name,omitempty" db:"company_name"`
	GSTNumber   string `json:"gst_number,omitempty" db:"gst_number"`

	Status string `json:"status" db:"status"`
	Notes  string `json:"notes,omitempty" db:"notes"`

	TotalValue        float64 `json:"total_value" db:"total_value"`
	OutstandingAmount float64 `json:"outstanding_amount" db:"outstanding_amount"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Ref returns the tagged reference for this customer.
func (c *Customer) Ref() Ref { return Ref{Kind: KindCustomer, ID: c.ID} }

// FullName joins first and last name.
func (c *Customer) FullName() string {
	if c.LastName == "" {
		return c.FirstName
	}
	return c.FirstName + " " + c.LastName
}

// Interaction is a timeline entry on a lead (call, email, merge note).
type Interaction struct {
	ID          int64     `json:"id" db:"id"`
	LeadID      int64     `json:"lead_id" db:"lead_id"`
	Type        string    `json:"type" db:"type"`
	Subject     string    `json:"subject" db:"subject"`
	Description string    `json:"description,omitempty" db:"description"`
	UserID      string    `json:"user_id,omitempty" db:"user_id"`
	Data        []byte    `json:"data,omitempty" db:"data"` // JSONB
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// History is a timeline entry on a customer.
type History struct {
	ID          int64     `json:"id" db:"id"`
	CustomerID  int64     `json:"customer_id" db:"customer_id"`
	Type        string    `json:"type" db:"type"`
	Title       string    `json:"title" db:"title"`
	Description string    `json:"description,omitempty" db:"description"`
	UserID      string    `json:"user_id,omitempty" db:"user_id"`
	NewValues   []byte    `json:"new_values,omitempty" db:"new_values"` // JSONB
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
