package credvault

import "context"

// Principal is the authenticated user on whose behalf an operation runs.
type Principal interface {
	OwnerID() string
	Authenticated() bool
}

type principalContextKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext returns the principal stored by WithPrincipal, or nil.
func PrincipalFromContext(ctx context.Context) Principal {
	p, _ := ctx.Value(principalContextKey{}).(Principal)
	return p
}

// Owner is a Principal that is always authenticated. It is meant for trusted
// callers that resolved the user themselves.
type Owner string

func (o Owner) OwnerID() string {
	return string(o)
}

func (o Owner) Authenticated() bool {
	return o != ""
}

// ownerFromContext returns the id of the authenticated owner on ctx.
func ownerFromContext(ctx context.Context) (string, bool) {
	p := PrincipalFromContext(ctx)
	if p == nil || !p.Authenticated() || p.OwnerID() == "" {
		return "", false
	}
	return p.OwnerID(), true
}
