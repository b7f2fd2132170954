package utils

// An AsyncOp runs a blocking function on its own goroutine so that a
// poll-driven caller can check for completion without blocking. The
// suspension points of the client (dial, TLS handshake, name resolution)
// are all driven through this type.
type AsyncOp[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// RunAsync starts fn on a new goroutine.
func RunAsync[T any](fn func() (T, error)) *AsyncOp[T] {
	op := &AsyncOp[T]{done: make(chan struct{})}
	go func() {
		op.val, op.err = fn()
		close(op.done)
	}()
	return op
}

// Poll reports whether the operation has completed, and if so, its result.
// It never blocks.
func (o *AsyncOp[T]) Poll() (T, bool, error) {
	select {
	case <-o.done:
		return o.val, true, o.err
	default:
		var zero T
		return zero, false, nil
	}
}

// Wait blocks until the operation has completed. Used on teardown paths.
func (o *AsyncOp[T]) Wait() (T, error) {
	<-o.done
	return o.val, o.err
}
