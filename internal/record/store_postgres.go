package record

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-dedupe/internal/db"
)

// PostgresStore implements Store using pgx. It wraps a db.Querier, so the
// same store logic runs on a pool or inside a transaction.
type PostgresStore struct {
	q db.Querier
}

// NewPostgresStore creates a record store over a pool or transaction.
func NewPostgresStore(q db.Querier) *PostgresStore {
	return &PostgresStore{q: q}
}

const leadColumns = `id, first_name, last_name, email, phone, address, city, state, postal_code,
	status, score, notes, original_data, converted_at, created_at, updated_at`

func leadDests(l *Lead) []any {
	return []any{
		&l.ID, &l.FirstName, &l.LastName, &l.Email, &l.Phone, &l.Address, &l.City, &l.State, &l.PostalCode,
		&l.Status, &l.Score, &l.Notes, &l.OriginalData, &l.ConvertedAt, &l.CreatedAt, &l.UpdatedAt,
	}
}

const customerColumns = `id, first_name, last_name, email, phone, address, city, state, postal_code,
	company_name, gst_number, status, notes, total_value, outstanding_amount, created_at, updated_at`

func customerDests(c *Customer) []any {
	return []any{
		&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.Phone, &c.Address, &c.City, &c.State, &c.PostalCode,
		&c.CompanyName, &c.GSTNumber, &c.Status, &c.Notes, &c.TotalValue, &c.OutstandingAmount, &c.CreatedAt, &c.UpdatedAt,
	}
}

// FindLeadsByContact returns non-converted leads whose normalized email or
// normalized phone matches. Normalization happens in SQL via the
// normalize_phone function so the lookup stays indexed.
func (s *PostgresStore) FindLeadsByContact(ctx context.Context, email, phone string) ([]Lead, error) {
	if email == "" && phone == "" {
		return nil, nil
	}
	rows, err := s.q.Query(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE status <> 'converted'
		  AND (($1 <> '' AND lower(trim(email)) = $1)
		    OR ($2 <> '' AND normalize_phone(phone) = $2))`, email, phone)
	if err != nil {
		return nil, eris.Wrap(err, "record: find leads by contact")
	}
	defer rows.Close()
	return scanLeads(rows)
}

// FindCustomersByContact returns customers whose normalized email or
// normalized phone matches.
func (s *PostgresStore) FindCustomersByContact(ctx context.Context, email, phone string) ([]Customer, error) {
	if email == "" && phone == "" {
		return nil, nil
	}
	rows, err := s.q.Query(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		WHERE ($1 <> '' AND lower(trim(email)) = $1)
		   OR ($2 <> '' AND normalize_phone(phone) = $2)`, email, phone)
	if err != nil {
		return nil, eris.Wrap(err, "record: find customers by contact")
	}
	defer rows.Close()
	return scanCustomers(rows)
}

// CreateLead inserts a new lead and sets its ID and timestamps.
func (s *PostgresStore) CreateLead(ctx context.Context, l *Lead) error {
	if l.Status == "" {
		l.Status = LeadStatusNew
	}
	err := s.q.QueryRow(ctx, `
		INSERT INTO leads (first_name, last_name, email, phone, address, city, state, postal_code,
			status, score, notes, original_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at`,
		l.FirstName, l.LastName, l.Email, l.Phone, l.Address, l.City, l.State, l.PostalCode,
		l.Status, l.Score, l.Notes, l.OriginalData,
	).Scan(&l.ID, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return eris.Wrap(err, "record: create lead")
	}
	return nil
}

// GetLead fetches a lead by ID, returning (nil, nil) when absent.
func (s *PostgresStore) GetLead(ctx context.Context, id int64) (*Lead, error) {
	return s.getLead(ctx, id, "")
}

// GetLeadForUpdate fetches a lead with a row lock for the duration of the
// surrounding transaction.
func (s *PostgresStore) GetLeadForUpdate(ctx context.Context, id int64) (*Lead, error) {
	return s.getLead(ctx, id, " FOR UPDATE")
}

func (s *PostgresStore) getLead(ctx context.Context, id int64, suffix string) (*Lead, error) {
	l := &Lead{}
	err := s.q.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE id=$1`+suffix, id).
		Scan(leadDests(l)...)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "record: get lead %d", id)
	}
	return l, nil
}

// UpdateLead updates an existing lead.
func (s *PostgresStore) UpdateLead(ctx context.Context, l *Lead) error {
	_, err := s.q.Exec(ctx, `
		UPDATE leads SET
			first_name=$2, last_name=$3, email=$4, phone=$5, address=$6, city=$7, state=$8, postal_code=$9,
			status=$10, score=$11, notes=$12, original_data=$13, converted_at=$14, updated_at=now()
		WHERE id=$1`,
		l.ID,
		l.FirstName, l.LastName, l.Email, l.Phone, l.Address, l.City, l.State, l.PostalCode,
		l.Status, l.Score, l.Notes, l.OriginalData, l.ConvertedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "record: update lead %d", l.ID)
	}
	return nil
}

// DeleteLead removes a lead row.
func (s *PostgresStore) DeleteLead(ctx context.Context, id int64) error {
	if _, err := s.q.Exec(ctx, `DELETE FROM leads WHERE id=$1`, id); err != nil {
		return eris.Wrapf(err, "record: delete lead %d", id)
	}
	return nil
}

// GetCustomer fetches a customer by ID, returning (nil, nil) when absent.
func (s *PostgresStore) GetCustomer(ctx context.Context, id int64) (*Customer, error) {
	return s.getCustomer(ctx, id, "")
}

// GetCustomerForUpdate fetches a customer with a row lock for the duration
// of the surrounding transaction.
func (s *PostgresStore) GetCustomerForUpdate(ctx context.Context, id int64) (*Customer, error) {
	return s.getCustomer(ctx, id, " FOR UPDATE")
}

func (s *PostgresStore) getCustomer(ctx context.Context, id int64, suffix string) (*Customer, error) {
	c := &Customer{}
	err := s.q.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id=$1`+suffix, id).
		Scan(customerDests(c)...)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "record: get customer %d", id)
	}
	return c, nil
}

// UpdateCustomer updates an existing customer.
func (s *PostgresStore) UpdateCustomer(ctx context.Context, c *Customer) error {
	_, err := s.q.Exec(ctx, `
		UPDATE customers SET
			first_name=$2, last_name=$3, email=$4, phone=$5, address=$6, city=$7, state=$8, postal_code=$9,
			company_name=$10, gst_number=$11, status=$12, notes=$13,
			total_value=$14, outstanding_amount=$15, updated_at=now()
		WHERE id=$1`,
		c.ID,
		c.FirstName, c.LastName, c.Email, c.Phone, c.Address, c.City, c.State, c.PostalCode,
		c.CompanyName, c.GSTNumber, c.Status, c.Notes,
		c.TotalValue, c.OutstandingAmount,
	)
	if err != nil {
		return eris.Wrapf(err, "record: update customer %d", c.ID)
	}
	return nil
}

// DeleteCustomer removes a customer row.
func (s *PostgresStore) DeleteCustomer(ctx context.Context, id int64) error {
	if _, err := s.q.Exec(ctx, `DELETE FROM customers WHERE id=$1`, id); err != nil {
		return eris.Wrapf(err, "record: delete customer %d", id)
	}
	return nil
}

// AddInteraction appends a timeline entry to a lead.
func (s *PostgresStore) AddInteraction(ctx context.Context, i *Interaction) error {
	err := s.q.QueryRow(ctx, `
		INSERT INTO lead_interactions (lead_id, type, subject, description, user_id, data)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		i.LeadID, i.Type, i.Subject, i.Description, i.UserID, i.Data,
	).Scan(&i.ID, &i.CreatedAt)
	if err != nil {
		return eris.Wrap(err, "record: add interaction")
	}
	return nil
}

// RepointInteractions moves all interactions from one lead to another and
// returns the number of rows moved.
func (s *PostgresStore) RepointInteractions(ctx context.Context, fromLeadID, toLeadID int64) (int64, error) {
	tag, err := s.q.Exec(ctx, `UPDATE lead_interactions SET lead_id=$2 WHERE lead_id=$1`, fromLeadID, toLeadID)
	if err != nil {
		return 0, eris.Wrapf(err, "record: repoint interactions %d -> %d", fromLeadID, toLeadID)
	}
	return tag.RowsAffected(), nil
}

// AddHistory appends a timeline entry to a customer.
func (s *PostgresStore) AddHistory(ctx context.Context, h *History) error {
	err := s.q.QueryRow(ctx, `
		INSERT INTO customer_history (customer_id, type, title, description, user_id, new_values)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		h.CustomerID, h.Type, h.Title, h.Description, h.UserID, h.NewValues,
	).Scan(&h.ID, &h.CreatedAt)
	if err != nil {
		return eris.Wrap(err, "record: add history")
	}
	return nil
}

// customerDependentTables are the business tables re-pointed when merging
// customers.
var customerDependentTables = []string{
	"service_requests",
	"amc_contracts",
	"installation_projects",
	"customer_history",
}

// RepointCustomerDependents moves every dependent business record from one
// customer to another.
func (s *PostgresStore) RepointCustomerDependents(ctx context.Context, fromCustomerID, toCustomerID int64) error {
	for _, table := range customerDependentTables {
		_, err := s.q.Exec(ctx,
			`UPDATE `+table+` SET customer_id=$2 WHERE customer_id=$1`,
			fromCustomerID, toCustomerID)
		if err != nil {
			return eris.Wrapf(err, "record: repoint %s %d -> %d", table, fromCustomerID, toCustomerID)
		}
	}
	return nil
}

func scanLeads(rows pgx.Rows) ([]Lead, error) {
	var leads []Lead
	for rows.Next() {
		var l Lead
		if err := rows.Scan(leadDests(&l)...); err != nil {
			return nil, eris.Wrap(err, "record: scan lead")
		}
		leads = append(leads, l)
	}
	return leads, rows.Err()
}

func scanCustomers(rows pgx.Rows) ([]Customer, error) {
	var customers []Customer
	for rows.Next() {
		var c Customer
		if err := rows.Scan(customerDests(&c)...); err != nil {
			return nil, eris.Wrap(err, "record: scan customer")
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}
