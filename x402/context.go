package x402

import "context"

type settlementContextKey struct{}

// ContextWithSettlement stores the settlement that paid for the current
// request.
func ContextWithSettlement(ctx context.Context, s *Settlement) context.Context {
	return context.WithValue(ctx, settlementContextKey{}, s)
}

// SettlementFromContext returns the settlement stored by
// [ContextWithSettlement].
func SettlementFromContext(ctx context.Context) (*Settlement, bool) {
	s, ok := ctx.Value(settlementContextKey{}).(*Settlement)
	return s, ok && s != nil
}
