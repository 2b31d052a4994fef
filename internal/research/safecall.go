package research

import "context"

// safeCall runs one oracle operation and substitutes a default result
// when it fails. Every oracle call site in the engine goes through here,
// so a dead or flaky oracle degrades the crawl instead of crashing it.
func safeCall[T any](ctx context.Context, op string, fn func(context.Context) (T, error), fallback func() T, onErr func(op string, err error)) T {
	out, err := fn(ctx)
	if err != nil {
		if onErr != nil {
			onErr(op, err)
		}
		return fallback()
	}
	return out
}
