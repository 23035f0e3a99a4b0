package library

import (
	"io"
	"sync"
)

// SharedInput is the single reader of a terminal. The shell's scanner and each
// confirmation prompt borrow a view of it through Reader. A view can be closed
// while it is blocked: the read already issued keeps running, and whatever it
// returns is kept for the next view instead of being dropped.
type SharedInput struct {
	src io.Reader

	mu      sync.Mutex
	pending []byte
	err     error
	ready   chan struct{} // non-nil while a read of src is in flight
}

func NewSharedInput(src io.Reader) *SharedInput {
	return &SharedInput{src: src}
}

// Reader returns a new view. Closing it affects only that view.
func (in *SharedInput) Reader() io.ReadCloser {
	return &inputView{in: in, done: make(chan struct{})}
}

// fill reads src once into pending and wakes everyone waiting on ready.
func (in *SharedInput) fill(ready chan struct{}) {
	buf := make([]byte, 4096)
	n, err := in.src.Read(buf)

	in.mu.Lock()
	in.pending = append(in.pending, buf[:n]...)
	if err != nil {
		in.err = err
	}
	in.ready = nil
	in.mu.Unlock()
	close(ready)
}

type inputView struct {
	in   *SharedInput
	once sync.Once
	done chan struct{}
}

func (v *inputView) Read(p []byte) (int, error) {
	in := v.in
	for {
		select {
		case <-v.done:
			return 0, io.EOF
		default:
		}

		in.mu.Lock()
		if len(in.pending) > 0 {
			n := copy(p, in.pending)
			in.pending = in.pending[n:]
			in.mu.Unlock()
			return n, nil
		}
		if in.err != nil {
			err := in.err
			in.mu.Unlock()
			return 0, err
		}
		ready := in.ready
		if ready == nil {
			ready = make(chan struct{})
			in.ready = ready
			go in.fill(ready)
		}
		in.mu.Unlock()

		select {
		case <-ready:
		case <-v.done:
			return 0, io.EOF
		}
	}
}

func (v *inputView) Close() error {
	v.once.Do(func() { close(v.done) })
	return nil
}
