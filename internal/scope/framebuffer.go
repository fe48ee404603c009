package scope

import (
	"image"
	"sync"
)

// FrameBuffer keeps a copy of the most recently rendered frame and notifies
// subscribers when a new one is published. Readers never observe a frame
// that is being drawn.
type FrameBuffer struct {
	mu   sync.RWMutex
	img  *image.RGBA
	seq  uint64
	subs map[chan uint64]struct{}
}

// NewFrameBuffer creates an empty frame buffer.
func NewFrameBuffer() *FrameBuffer {
	return &FrameBuffer{
		subs: make(map[chan uint64]struct{}),
	}
}

// Publish copies src into the buffer and wakes up subscribers. Slow
// subscribers miss intermediate frames rather than blocking the caller.
func (b *FrameBuffer) Publish(src *image.RGBA) {
	b.mu.Lock()
	if b.img == nil || b.img.Bounds() != src.Bounds() {
		b.img = image.NewRGBA(src.Bounds())
	}
	copy(b.img.Pix, src.Pix)
	b.seq++
	seq := b.seq

	for ch := range b.subs {
		select {
		case ch <- seq:
		default:
		}
	}
	b.mu.Unlock()
}

// Frame returns a copy of the latest frame and its sequence number. The
// image is nil if nothing has been published yet.
func (b *FrameBuffer) Frame() (*image.RGBA, uint64) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.img == nil {
		return nil, 0
	}
	img := image.NewRGBA(b.img.Bounds())
	copy(img.Pix, b.img.Pix)
	return img, b.seq
}

// Seq returns the sequence number of the latest frame, 0 when empty.
func (b *FrameBuffer) Seq() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seq
}

// Subscribe returns a channel receiving the sequence number of every newly
// published frame, and a function that unsubscribes and closes it.
func (b *FrameBuffer) Subscribe() (<-chan uint64, func()) {
	ch := make(chan uint64, 1)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// Subscribers returns the number of active subscribers.
func (b *FrameBuffer) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
