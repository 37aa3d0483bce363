package anthropic

import (
	"context"

	"github.com/rotisserie/eris"
)

// BuildCachedSystemBlocks wraps a system prompt in a single block with a
// one-hour cache breakpoint. Backfills prime the cache with one direct
// request, then every batch item reads the warm prompt at a tenth the
// input price.
func BuildCachedSystemBlocks(text string) []SystemBlock {
	return []SystemBlock{
		{
			Text: text,
			CacheControl: &CacheControl{
				TTL: "1h",
			},
		},
	}
}

// PrimerRequest sends one message to warm the prompt cache before a batch
// submit. The request should carry system blocks from
// BuildCachedSystemBlocks. The response is a normal answer and may be used.
func PrimerRequest(ctx context.Context, client Client, req MessageRequest) (*MessageResponse, error) {
	resp, err := client.CreateMessage(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "anthropic: primer request")
	}
	return resp, nil
}
