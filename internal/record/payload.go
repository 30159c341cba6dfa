package record

import "encoding/json"

// ContactPayload is the flat incoming contact record supplied by intake
// channels (forms, chat, calculators, parsed email). Fields not used for
// matching pass through in Extra.
type ContactPayload struct {
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
	Address    string `json:"address,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`

	Extra map[string]any `json:"-"`
}

// knownPayloadKeys are the matching fields lifted out of the raw payload;
// everything else lands in Extra.
var knownPayloadKeys = map[string]struct{}{
	"email": {}, "phone": {}, "first_name": {}, "last_name": {},
	"address": {}, "city": {}, "state": {}, "postal_code": {},
}

// UnmarshalJSON decodes the known matching fields and collects any remaining
// keys into Extra.
func (p *ContactPayload) UnmarshalJSON(data []byte) error {
	type alias ContactPayload
	var known alias
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	*p = ContactPayload(known)

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k := range knownPayloadKeys {
		delete(raw, k)
	}
	if len(raw) > 0 {
		p.Extra = raw
	}
	return nil
}

// MarshalJSON encodes the known fields and folds Extra keys back in. Known
// field names win over colliding Extra keys.
func (p ContactPayload) MarshalJSON() ([]byte, error) {
	type alias ContactPayload
	base, err := json.Marshal(alias(p))
	if err != nil {
		return nil, err
	}
	if len(p.Extra) == 0 {
		return base, nil
	}

	merged := make(map[string]any, len(p.Extra)+8)
	for k, v := range p.Extra {
		if _, known := knownPayloadKeys[k]; !known {
			merged[k] = v
		}
	}
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	return json.Marshal(merged)
}

// HasContact reports whether the payload carries at least one of the two
// identity anchors needed for matching.
func (p ContactPayload) HasContact() bool {
	return p.Email != "" || p.Phone != ""
}

// FullName joins first and last name.
func (p ContactPayload) FullName() string {
	if p.LastName == "" {
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

// ToLead builds a new Lead from the payload, preserving the raw payload in
// OriginalData.
func (p ContactPayload) ToLead() (*Lead, error) {
	original, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return &Lead{
		FirstName:    p.FirstName,
		LastName:     p.LastName,
		Email:        p.Email,
		Phone:        p.Phone,
		Address:      p.Address,
		City:         p.City,
		State:        p.State,
		PostalCode:   p.PostalCode,
		Status:       LeadStatusNew,
		OriginalData: original,
	}, nil
}
