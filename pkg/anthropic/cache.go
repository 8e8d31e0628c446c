package anthropic

// BuildCachedSystemBlocks returns a single system block with a cache
// breakpoint. Multi-round tool loops resend the same system prompt on every
// round, so the prompt is read from cache after the first call.
func BuildCachedSystemBlocks(text string) []SystemBlock {
	return []SystemBlock{
		{
			Text:         text,
			CacheControl: &CacheControl{TTL: "5m"},
		},
	}
}
