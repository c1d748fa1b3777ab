package core

import "context"

type cycleIDKey struct{}
type queryKey struct{}

func WithCycleID(ctx context.Context, cycleID string) context.Context {
	if ctx == nil || cycleID == "" {
		return ctx
	}
	return context.WithValue(ctx, cycleIDKey{}, cycleID)
}

func WithQuery(ctx context.Context, query string) context.Context {
	if ctx == nil || query == "" {
		return ctx
	}
	return context.WithValue(ctx, queryKey{}, query)
}

func CycleIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(cycleIDKey{}).(string); ok {
		return v
	}
	return ""
}

func QueryFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(queryKey{}).(string); ok {
		return v
	}
	return ""
}
