package quake

import (
	"context"
	"iter"
	"net/http"
	"net/url"

	"go.uber.org/zap"
)

type createContactRequest struct {
	Contact contactPayload `json:"contact"`
}

type contactPayload struct {
	CompanyID string   `json:"companyId"`
	FirstName string   `json:"firstName"`
	LastName  string   `json:"lastName"`
	Telephone string   `json:"telephone"`
	Channels  []string `json:"channels"`
}

// CreateContact registers a contact reachable on the given channels. The
// telephone number is normalised to E.164. companyID overrides the client's
// company for this call.
func (c *Client) CreateContact(ctx context.Context, firstName, lastName, telephone string, channels []string, companyID ...string) (*Contact, error) {
	if len(channels) == 0 {
		return nil, ErrNoChannels
	}
	phone, err := normalizeTelephone(telephone, c.region)
	if err != nil {
		return nil, err
	}

	company := c.CompanyID()
	if len(companyID) > 0 && companyID[0] != "" {
		company = companyID[0]
	}

	body := createContactRequest{Contact: contactPayload{
		CompanyID: company,
		FirstName: firstName,
		LastName:  lastName,
		Telephone: phone,
		Channels:  channels,
	}}

	contact, err := fetchOne[Contact](ctx, c, "contacts.create", http.MethodPost, "/contacts", body)
	if err != nil {
		return nil, err
	}
	c.logger.Info("quake.contact.created",
		zap.String("contact_id", contact.ID.String()),
		zap.String("company_id", company))
	return contact, nil
}

// DeleteContact removes the contact remotely. The passed record is left untouched.
func (c *Client) DeleteContact(ctx context.Context, contact *Contact) (bool, error) {
	if contact == nil || contact.ID == "" {
		return false, ErrMissingID
	}
	if err := c.call(ctx, "contacts.delete", http.MethodDelete, "/contacts/"+url.PathEscape(contact.ID.String()), nil, nil); err != nil {
		return false, err
	}
	c.logger.Info("quake.contact.deleted", zap.String("contact_id", contact.ID.String()))
	return true, nil
}

// ShowContact fetches the current version of contact.
func (c *Client) ShowContact(ctx context.Context, contact *Contact) (*Contact, error) {
	if contact == nil || contact.ID == "" {
		return nil, ErrMissingID
	}
	return fetchOne[Contact](ctx, c, "contacts.show", http.MethodGet, "/contacts/"+url.PathEscape(contact.ID.String()), nil)
}

func (c *Client) ListContacts(ctx context.Context) iter.Seq2[*Contact, error] {
	return paginate(ctx, c, "contacts", "/contacts", decoderFor[Contact](c))
}

// CreateFlowInstance starts flow for this contact.
func (ct *Contact) CreateFlowInstance(ctx context.Context, flow *Flow, params map[string]any) (*FlowInstance, error) {
	if ct.client == nil {
		return nil, ErrClientNotSet
	}
	return ct.client.CreateFlowInstance(ctx, flow, ct, params)
}
