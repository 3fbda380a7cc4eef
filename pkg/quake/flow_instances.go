package quake

import (
	"context"
	"errors"
	"iter"
	"net/http"
	"net/url"

	"go.uber.org/zap"
)

type createFlowInstanceRequest struct {
	FlowInstance flowInstancePayload `json:"flowInstance"`
}

type flowInstancePayload struct {
	FlowID             ID             `json:"flowId"`
	ContactID          ID             `json:"contactId"`
	TemplateParameters map[string]any `json:"templateParameters"`
}

// CreateFlowInstance starts flow for contact. nil params are sent as {}.
func (c *Client) CreateFlowInstance(ctx context.Context, flow *Flow, contact *Contact, params map[string]any) (*FlowInstance, error) {
	if flow == nil || flow.ID == "" || contact == nil || contact.ID == "" {
		return nil, ErrMissingID
	}
	if params == nil {
		params = map[string]any{}
	}

	body := createFlowInstanceRequest{FlowInstance: flowInstancePayload{
		FlowID:             flow.ID,
		ContactID:          contact.ID,
		TemplateParameters: params,
	}}
	inst, err := fetchOne[FlowInstance](ctx, c, "flow_instances.create", http.MethodPost, "/flow-instances", body)
	if err != nil {
		return nil, err
	}
	c.logger.Info("quake.flow_instance.created",
		zap.String("flow_instance_id", inst.ID.String()),
		zap.String("flow_id", flow.ID.String()),
		zap.String("contact_id", contact.ID.String()))
	return inst, nil
}

func (c *Client) ShowFlowInstance(ctx context.Context, id string) (*FlowInstance, error) {
	if id == "" {
		return nil, ErrMissingID
	}
	return fetchOne[FlowInstance](ctx, c, "flow_instances.show", http.MethodGet, "/flow-instances/"+url.PathEscape(id), nil)
}

// InviteFlowInstance sends the invitation message for inst. When the API
// answers with an empty body, a copy of inst bound to c is returned; inst is
// left untouched.
func (c *Client) InviteFlowInstance(ctx context.Context, inst *FlowInstance) (*FlowInstance, error) {
	if inst == nil || inst.ID == "" {
		return nil, ErrMissingID
	}
	out, err := fetchOne[FlowInstance](ctx, c, "flow_instances.invite", http.MethodPost, "/flow-instances/"+url.PathEscape(inst.ID.String())+"/invite", nil)
	if errors.Is(err, errEmptyResponse) {
		cp := *inst
		cp.bind(c)
		return &cp, nil
	}
	if err != nil {
		return nil, err
	}
	c.logger.Info("quake.flow_instance.invited", zap.String("flow_instance_id", inst.ID.String()))
	return out, nil
}

func (c *Client) ListFlowInstances(ctx context.Context) iter.Seq2[*FlowInstance, error] {
	return paginate(ctx, c, "flow_instances", "/flow-instances", decoderFor[FlowInstance](c))
}

// Invite sends the invitation for this instance.
func (f *FlowInstance) Invite(ctx context.Context) (*FlowInstance, error) {
	if f.client == nil {
		return nil, ErrClientNotSet
	}
	return f.client.InviteFlowInstance(ctx, f)
}
