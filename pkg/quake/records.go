package quake

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ID is a resource identifier. The API is not consistent about sending ids as
// strings or numbers, so both are accepted.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*id = ""
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("id: %w", err)
		}
		*id = ID(n.String())
	}
	return nil
}

func (id ID) String() string { return string(id) }

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// timestamp decodes the API's date fields. null and "" decode to nil.
type timestamp struct {
	t *time.Time
}

func (ts *timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		ts.t = nil
		return nil
	}
	if b[0] != '"' {
		secs, err := strconv.ParseInt(string(b), 10, 64)
		if err != nil {
			return fmt.Errorf("timestamp %s: %w", b, err)
		}
		t := time.Unix(secs, 0).UTC()
		ts.t = &t
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	t, err := parseTime(s)
	if err != nil {
		return err
	}
	ts.t = t
	return nil
}

func parseTime(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognised timestamp %q", s)
}

// Contact is a person who can be sent flows.
type Contact struct {
	ID        ID                `json:"id"`
	FirstName string            `json:"firstName"`
	LastName  string            `json:"lastName"`
	Telephone string            `json:"telephone"`
	Entities  []json.RawMessage `json:"entities"`
	CreatedAt *time.Time        `json:"createdAt"`
	UpdatedAt *time.Time        `json:"updatedAt"`

	Raw json.RawMessage `json:"-"`

	client *Client
}

func (c *Contact) UnmarshalJSON(b []byte) error {
	var w struct {
		ID        ID                `json:"id"`
		FirstName string            `json:"firstName"`
		LastName  string            `json:"lastName"`
		Telephone string            `json:"telephone"`
		Entities  []json.RawMessage `json:"entities"`
		CreatedAt timestamp         `json:"createdAt"`
		UpdatedAt timestamp         `json:"updatedAt"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("contact: %w", err)
	}
	*c = Contact{
		ID:        w.ID,
		FirstName: w.FirstName,
		LastName:  w.LastName,
		Telephone: w.Telephone,
		Entities:  w.Entities,
		CreatedAt: w.CreatedAt.t,
		UpdatedAt: w.UpdatedAt.t,
		Raw:       append(json.RawMessage(nil), b...),
	}
	return nil
}

func (c *Contact) bind(cl *Client) { c.client = cl }

// FlowInstance is one run of a Flow for a Contact.
type FlowInstance struct {
	ID          ID                `json:"id"`
	FlowID      ID                `json:"flowId"`
	ContactID   ID                `json:"contactId"`
	State       string            `json:"state"`
	Entities    []json.RawMessage `json:"entities"`
	CreatedAt   *time.Time        `json:"createdAt"`
	UpdatedAt   *time.Time        `json:"updatedAt"`
	InvitedAt   *time.Time        `json:"invitedAt"`
	StartedAt   *time.Time        `json:"startedAt"`
	CompletedAt *time.Time        `json:"completedAt"`
	ExpiresAt   *time.Time        `json:"expiresAt"`

	Raw json.RawMessage `json:"-"`

	client *Client
}

func (f *FlowInstance) UnmarshalJSON(b []byte) error {
	var w struct {
		ID          ID                `json:"id"`
		FlowID      ID                `json:"flowId"`
		ContactID   ID                `json:"contactId"`
		State       string            `json:"state"`
		Entities    []json.RawMessage `json:"entities"`
		CreatedAt   timestamp         `json:"createdAt"`
		UpdatedAt   timestamp         `json:"updatedAt"`
		InvitedAt   timestamp         `json:"invitedAt"`
		StartedAt   timestamp         `json:"startedAt"`
		CompletedAt timestamp         `json:"completedAt"`
		ExpiresAt   timestamp         `json:"expiresAt"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("flow instance: %w", err)
	}
	*f = FlowInstance{
		ID:          w.ID,
		FlowID:      w.FlowID,
		ContactID:   w.ContactID,
		State:       w.State,
		Entities:    w.Entities,
		CreatedAt:   w.CreatedAt.t,
		UpdatedAt:   w.UpdatedAt.t,
		InvitedAt:   w.InvitedAt.t,
		StartedAt:   w.StartedAt.t,
		CompletedAt: w.CompletedAt.t,
		ExpiresAt:   w.ExpiresAt.t,
		Raw:         append(json.RawMessage(nil), b...),
	}
	return nil
}

func (f *FlowInstance) bind(cl *Client) { f.client = cl }

// Flow is a conversation template configured in Quake.
type Flow struct {
	ID                   ID         `json:"id"`
	Name                 string     `json:"name"`
	Purpose              string     `json:"purpose"`
	ClosingText          string     `json:"closingText"`
	MaxTime              int        `json:"maxTime"`
	InvitationTemplateID ID         `json:"invitationTemplateId"`
	CompanyID            ID         `json:"companyId"`
	CreatedAt            *time.Time `json:"createdAt"`
	UpdatedAt            *time.Time `json:"updatedAt"`

	Raw json.RawMessage `json:"-"`

	client *Client
}

func (f *Flow) UnmarshalJSON(b []byte) error {
	var w struct {
		ID                   ID          `json:"id"`
		Name                 string      `json:"name"`
		Purpose              string      `json:"purpose"`
		ClosingText          string      `json:"closingText"`
		MaxTime              json.Number `json:"maxTime"`
		InvitationTemplateID ID          `json:"invitationTemplateId"`
		CompanyID            ID          `json:"companyId"`
		CreatedAt            timestamp   `json:"createdAt"`
		UpdatedAt            timestamp   `json:"updatedAt"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("flow: %w", err)
	}
	maxTime := 0
	if w.MaxTime != "" {
		n, err := w.MaxTime.Int64()
		if err != nil {
			return fmt.Errorf("flow: maxTime: %w", err)
		}
		maxTime = int(n)
	}
	*f = Flow{
		ID:                   w.ID,
		Name:                 w.Name,
		Purpose:              w.Purpose,
		ClosingText:          w.ClosingText,
		MaxTime:              maxTime,
		InvitationTemplateID: w.InvitationTemplateID,
		CompanyID:            w.CompanyID,
		CreatedAt:            w.CreatedAt.t,
		UpdatedAt:            w.UpdatedAt.t,
		Raw:                  append(json.RawMessage(nil), b...),
	}
	return nil
}

func (f *Flow) bind(cl *Client) { f.client = cl }

// Entity is a data point collected by flows (e.g. "postcode").
type Entity struct {
	ID        ID                `json:"id"`
	Name      string            `json:"name"`
	Type      string            `json:"type"`
	Uses      []string          `json:"uses"`
	Values    []json.RawMessage `json:"values"`
	CreatedAt *time.Time        `json:"createdAt"`
	UpdatedAt *time.Time        `json:"updatedAt"`

	Raw json.RawMessage `json:"-"`

	client *Client
}

func (e *Entity) UnmarshalJSON(b []byte) error {
	var w struct {
		ID        ID                `json:"id"`
		Name      string            `json:"name"`
		Type      string            `json:"type"`
		Uses      []string          `json:"uses"`
		Values    []json.RawMessage `json:"values"`
		CreatedAt timestamp         `json:"createdAt"`
		UpdatedAt timestamp         `json:"updatedAt"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("entity: %w", err)
	}
	*e = Entity{
		ID:        w.ID,
		Name:      w.Name,
		Type:      w.Type,
		Uses:      w.Uses,
		Values:    w.Values,
		CreatedAt: w.CreatedAt.t,
		UpdatedAt: w.UpdatedAt.t,
		Raw:       append(json.RawMessage(nil), b...),
	}
	return nil
}

func (e *Entity) bind(cl *Client) { e.client = cl }
