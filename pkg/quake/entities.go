package quake

import (
	"context"
	"iter"
	"net/http"
	"net/url"
)

func (c *Client) ListEntities(ctx context.Context) iter.Seq2[*Entity, error] {
	return paginate(ctx, c, "entities", "/entities", decoderFor[Entity](c))
}

func (c *Client) ShowEntity(ctx context.Context, id string) (*Entity, error) {
	if id == "" {
		return nil, ErrMissingID
	}
	return fetchOne[Entity](ctx, c, "entities.show", http.MethodGet, "/entities/"+url.PathEscape(id), nil)
}
