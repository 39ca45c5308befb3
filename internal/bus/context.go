package bus

import "context"

type originKey struct{}

// WithOrigin marks ctx as originating from the given subscription, so events
// published while serving it skip that connection.
func WithOrigin(ctx context.Context, subscriptionID string) context.Context {
	return context.WithValue(ctx, originKey{}, subscriptionID)
}

func OriginFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(originKey{}).(string); ok {
		return v
	}
	return ""
}
