package agent

import (
	"context"

	"golang.org/x/sync/errgroup"
)

const defaultRelayCapacity = 20

// runRelay runs worker in its own goroutine and forwards everything it sends,
// in order, from the calling goroutine. The channel between them holds at most
// capacity items, so a slow forward blocks the worker on send.
//
// The worker owns the send side and closes it when it returns, on success or
// failure. If forward fails, the worker's context is cancelled and the rest of
// the channel is drained without forwarding. The first error from forward wins,
// otherwise the worker's error is returned.
func runRelay[T any](ctx context.Context, capacity int, worker func(ctx context.Context, send func(T) error) error, forward func(T) error) error {
	if capacity <= 0 {
		capacity = defaultRelayCapacity
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch := make(chan T, capacity)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(ch)
		return worker(gctx, func(v T) error {
			select {
			case ch <- v:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	})

	var forwardErr error
	for v := range ch {
		if forwardErr != nil {
			continue
		}
		if err := forward(v); err != nil {
			forwardErr = err
			cancel()
		}
	}

	workerErr := g.Wait()
	if forwardErr != nil {
		return forwardErr
	}
	return workerErr
}
