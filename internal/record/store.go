package record

import "context"

// Store defines persistence operations for contact records and their
// dependent rows. Implementations over a transaction participate in the
// caller's atomicity; see NewPostgresStore.
type Store interface {
	// Candidate lookup. Email and phone are pre-normalized; either may be
	// empty. Leads in converted status are excluded.
	FindLeadsByContact(ctx context.Context, email, phone string) ([]Lead, error)
	FindCustomersByContact(ctx context.Context, email, phone string) ([]Customer, error)

	// Lead CRUD
	CreateLead(ctx context.Context, l *Lead) error
	GetLead(ctx context.Context, id int64) (*Lead, error)
	GetLeadForUpdate(ctx context.Context, id int64) (*Lead, error)
	UpdateLead(ctx context.Context, l *Lead) error
	DeleteLead(ctx context.Context, id int64) error

	// Customer CRUD
	GetCustomer(ctx context.Context, id int64) (*Customer, error)
	GetCustomerForUpdate(ctx context.Context, id int64) (*Customer, error)
	UpdateCustomer(ctx context.Context, c *Customer) error
	DeleteCustomer(ctx context.Context, id int64) error

	// Dependent rows
	AddInteraction(ctx context.Context, i *Interaction) error
	RepointInteractions(ctx context.Context, fromLeadID, toLeadID int64) (int64, error)
	AddHistory(ctx context.Context, h *History) error
	RepointCustomerDependents(ctx context.Context, fromCustomerID, toCustomerID int64) error
}
