package pipeline

// Waker is the portable handle the scheduler core uses to resume a CPU's
// dispatch goroutine that is blocked waiting for work. Each platform file
// supplies the underlying primitive: an eventfd waited on with poll on linux, a
// buffered channel everywhere else.
type Waker struct {
	impl wakerImpl
}

type wakerImpl interface {
	// Wake is safe to call from any goroutine, any number of times; it
	// must never block.
	Wake()
	// Wait blocks until a Wake call has occurred since the last Wait
	// returned, or done fires.
	Wait(done <-chan struct{})
	// Close releases the underlying primitive.
	Close() error
}

// NewWaker constructs a platform-appropriate Waker.
func NewWaker() *Waker {
	return &Waker{impl: newWakerImpl()}
}

func (w *Waker) Wake() { w.impl.Wake() }

func (w *Waker) Wait(done <-chan struct{}) { w.impl.Wait(done) }

func (w *Waker) Close() error { return w.impl.Close() }
