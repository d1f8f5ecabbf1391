// Package async tracks pending asynchronous completions keyed by
// sequence number, the mechanism SetParam (§9) and other control-channel
// calls use when a change can't complete synchronously (§4.4, §7: "a
// negative return is an async sequence number that completes later").
// Grounded on the teacher's internal/uring.AsyncHandle
// (SubmitCtrlCmdAsync returns a handle the caller later waits on instead
// of blocking inline).
package async

import "sync"

// Callback is invoked once with the final result when its sequence
// completes.
type Callback func(result int32, err error)

// Pending is a seq -> Callback table. Safe for concurrent use: the
// control channel registers callbacks from the main loop while results
// can arrive from any goroutine watching a node's completion events.
type Pending struct {
	mu        sync.Mutex
	next      int32
	callbacks map[int32]Callback
}

// New creates an empty Pending table. Sequence numbers start at -1 and
// count down, matching §7's "a negative return is an async sequence
// number" (0 and positive values mean synchronous success/status).
func New() *Pending {
	return &Pending{callbacks: make(map[int32]Callback), next: -1}
}

// Register allocates the next sequence number and stores cb, returning
// the seq the caller should hand back as the async result.
func (p *Pending) Register(cb Callback) int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	seq := p.next
	p.next--
	p.callbacks[seq] = cb
	return seq
}

// Complete resolves seq with the given result, invoking and removing its
// callback. Completing an unknown seq is a no-op: the caller may have
// already timed out and discarded interest.
func (p *Pending) Complete(seq int32, result int32, err error) {
	p.mu.Lock()
	cb, ok := p.callbacks[seq]
	if ok {
		delete(p.callbacks, seq)
	}
	p.mu.Unlock()
	if ok {
		cb(result, err)
	}
}

// RegisterAt stores cb under an already-assigned seq instead of allocating
// a fresh one, for callers whose async source (a NodeImpl.SetParam return
// value, say) issues its own sequence numbers rather than asking Pending
// to mint one.
func (p *Pending) RegisterAt(seq int32, cb Callback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callbacks[seq] = cb
}

// Outstanding returns the number of not-yet-completed sequences.
func (p *Pending) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.callbacks)
}
