package apiclient

import "context"

// SignOutObserver is told when the client drops to the signed-out state,
// either because a call required a credential it did not hold or because the
// server answered 401. returnPath is the location the user should land on
// after signing in again.
type SignOutObserver interface {
	SignedOut(ctx context.Context, returnPath string)
}

// SignOutFunc adapts a function to SignOutObserver.
type SignOutFunc func(ctx context.Context, returnPath string)

func (f SignOutFunc) SignedOut(ctx context.Context, returnPath string) { f(ctx, returnPath) }

type returnPathKey struct{}

// WithReturnPath records where the caller currently is, for SignOutObserver.
func WithReturnPath(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, returnPathKey{}, path)
}

// ReturnPath returns the path stored by WithReturnPath, or "".
func ReturnPath(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	path, _ := ctx.Value(returnPathKey{}).(string)
	return path
}
