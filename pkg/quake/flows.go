package quake

import (
	"context"
	"iter"
	"net/http"
	"net/url"
)

func (c *Client) ListFlows(ctx context.Context) iter.Seq2[*Flow, error] {
	return paginate(ctx, c, "flows", "/flows", decoderFor[Flow](c))
}

func (c *Client) ShowFlow(ctx context.Context, id string) (*Flow, error) {
	if id == "" {
		return nil, ErrMissingID
	}
	return fetchOne[Flow](ctx, c, "flows.show", http.MethodGet, "/flows/"+url.PathEscape(id), nil)
}

// Start creates a flow instance of this flow for contact.
func (f *Flow) Start(ctx context.Context, contact *Contact, params map[string]any) (*FlowInstance, error) {
	if f.client == nil {
		return nil, ErrClientNotSet
	}
	return f.client.CreateFlowInstance(ctx, f, contact, params)
}
