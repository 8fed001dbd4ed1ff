package progress

import (
	"context"
	"sync"
)

// Relay forwards byte-level upload progress to a Tracker without blocking
// the caller. Callbacks fired from the storage SDK only replace the pending
// update; a single goroutine writes the latest one.
type Relay struct {
	tracker  *Tracker
	uploadID string

	mu      sync.Mutex
	pending []Field
	failed  bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// Relay starts a relay for one upload. Close must be called when the
// upload ends.
func (t *Tracker) Relay(uploadID string) *Relay {
	r := &Relay{
		tracker:  t,
		uploadID: uploadID,
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go r.run()
	return r
}

// Progress records uploaded bytes and the percentage to display
func (r *Relay) Progress(percent float64, uploaded, total int64) {
	r.mu.Lock()
	if r.failed {
		r.mu.Unlock()
		return
	}
	r.pending = []Field{
		Status(StatusUploading),
		Stage("uploading"),
		Percent(percent),
		UploadedBytes(uploaded),
		FileSize(total),
	}
	r.mu.Unlock()
	r.signal()
}

// Failed marks the upload as errored. Later progress is ignored.
func (r *Relay) Failed(err error) {
	r.mu.Lock()
	r.failed = true
	r.pending = []Field{Failed(err.Error())}
	r.mu.Unlock()
	r.signal()
}

// Close flushes the last pending update and stops the relay goroutine
func (r *Relay) Close() {
	r.once.Do(func() { close(r.stop) })
	<-r.done
}

func (r *Relay) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Relay) run() {
	defer close(r.done)
	for {
		select {
		case <-r.wake:
			r.flush()
		case <-r.stop:
			r.flush()
			return
		}
	}
}

func (r *Relay) flush() {
	r.mu.Lock()
	fields := r.pending
	r.pending = nil
	r.mu.Unlock()

	if fields != nil {
		r.tracker.Update(context.Background(), r.uploadID, fields...)
	}
}
