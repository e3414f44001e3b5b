package simplecms

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// listAll drains a listing by following continuation tokens until the store
// reports no more pages. MaxListedKeys bounds the accumulated result.
func (r *Repository) listAll(ctx context.Context, prefix string) ([]ObjectSummary, error) {
	var (
		all   []ObjectSummary
		token string
		pages int
	)
	for {
		page, err := r.store.List(ctx, ListOptions{
			Prefix:            prefix,
			ContinuationToken: token,
			MaxKeys:           r.cfg.ListPageSize,
		})
		if err != nil {
			return nil, err
		}
		pages++
		all = append(all, page.Objects...)
		if len(all) > r.cfg.MaxListedKeys {
			return nil, fmt.Errorf("%w: more than %d keys under %q", ErrListingLimit, r.cfg.MaxListedKeys, prefix)
		}
		if !page.IsTruncated {
			break
		}
		if page.ContinuationToken == "" || page.ContinuationToken == token {
			return nil, &StoreError{
				Op:   "list",
				Key:  prefix,
				Kind: ErrTransientStore,
				Err:  fmt.Errorf("truncated page %d without a new continuation token", pages),
			}
		}
		token = page.ContinuationToken
	}

	r.logger.Debug("listing drained", "prefix", prefix, "pages", pages, "keys", len(all))
	return all, nil
}

// fanOut runs fn for every index with at most MaxConcurrency calls in flight
// and joins before returning. fn returns ok=false to drop an index (a missing
// object); any error cancels the remaining calls and is returned alone, so a
// caller never sees a partial result next to a real failure. Kept results are
// in input order.
func fanOut[T any](ctx context.Context, limit, n int, fn func(ctx context.Context, i int) (T, bool, error)) ([]T, error) {
	type slot struct {
		value T
		ok    bool
	}
	slots := make([]slot, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			v, ok, err := fn(gctx, i)
			if err != nil {
				return err
			}
			slots[i] = slot{value: v, ok: ok}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]T, 0, n)
	for _, s := range slots {
		if s.ok {
			out = append(out, s.value)
		}
	}
	return out, nil
}
