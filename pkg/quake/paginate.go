package quake

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"

	"github.com/Checker-Finance/quake/internal/metrics"
)

type page struct {
	Data []json.RawMessage `json:"data"`
}

// paginate walks path?page=1,2,... and yields decoded items until a page comes
// back with no data. Pages are fetched only as the consumer pulls; breaking out
// of the range loop stops the walk. The first error is yielded once and ends
// the sequence. Each call to the returned sequence starts again from page 1.
func paginate[T any](ctx context.Context, c *Client, collection, path string, decode func(json.RawMessage) (T, error)) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		for n := 1; ; n++ {
			var p page
			if err := c.call(ctx, collection+".list", http.MethodGet, fmt.Sprintf("%s?page=%d", path, n), nil, &p); err != nil {
				yield(zero, err)
				return
			}
			metrics.IncPageFetched(collection)

			if len(p.Data) == 0 {
				return
			}
			for _, raw := range p.Data {
				item, err := decode(raw)
				if err != nil {
					yield(zero, fmt.Errorf("quake: decode %s page %d: %w", collection, n, err))
					return
				}
				if !yield(item, nil) {
					return
				}
			}
		}
	}
}

// Collect drains seq into a slice. On error it returns the items read so far.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var out []T
	for item, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, item)
	}
	return out, nil
}
