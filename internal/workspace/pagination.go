package workspace

import "context"

// Page is one page of a token-paginated listing.
type Page[T any] struct {
	Items     []T
	NextToken string
}

// CollectPages calls fetch until it returns an empty next token and concatenates the items in
// the order received. The first call gets an empty token.
func CollectPages[T any](ctx context.Context, fetch func(ctx context.Context, token string) (Page[T], error)) ([]T, error) {
	var (
		items []T
		token string
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := fetch(ctx, token)
		if err != nil {
			return nil, err
		}
		items = append(items, page.Items...)

		if page.NextToken == "" {
			return items, nil
		}
		token = page.NextToken
	}
}
