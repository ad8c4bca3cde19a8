package client

import (
	"sync"

	"github.com/golang/glog"
)

const minEntryCapacity = 8

// correlationTable matches inbound envelopes to the request ids that
// produced them. An entry is a buffered channel rather than a one-shot
// handle so a single registration can receive a stream of responses
// (batch partials) with no re-arming window.
//
// Delivery and close both happen under the table mutex, so a Resolve
// racing a FailAll can never send on a closed channel.
type correlationTable struct {
	mutex   sync.Mutex
	pending map[string]chan *Message
}

func newCorrelationTable() *correlationTable {
	return &correlationTable{
		pending: map[string]chan *Message{},
	}
}

// Register creates an entry that buffers up to capacity envelopes
// without a draining waiter. Single-response requests pass 0 and get
// the minimum. Streaming requests size the entry to the number of
// envelopes they expect so a burst of replies cannot outrun the
// waiter.
func (self *correlationTable) Register(id string, capacity int) (<-chan *Message, error) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if _, ok := self.pending[id]; ok {
		return nil, ErrDuplicateRequestId
	}
	if capacity < minEntryCapacity {
		capacity = minEntryCapacity
	}
	entry := make(chan *Message, capacity)
	self.pending[id] = entry
	return entry, nil
}

// Resolve delivers message to the entry registered under id and
// reports whether a waiter existed. An unmatched id means the envelope
// is unsolicited and the caller routes it by type instead.
func (self *correlationTable) Resolve(id string, message *Message) bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	entry, ok := self.pending[id]
	if !ok {
		return false
	}
	select {
	case entry <- message:
	default:
		// entries are sized for the expected envelope count, so a
		// full one means the waiter stopped draining. Dropping is
		// better than stalling the receive loop.
		glog.Infof("[corr]drop %s type=%s\n", id, message.Type)
	}
	return true
}

func (self *correlationTable) Release(id string) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	delete(self.pending, id)
}

// FailAll closes every pending entry so waiters fail immediately
// instead of timing out one by one. Used on disconnect and transport
// loss.
func (self *correlationTable) FailAll() {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	for id, entry := range self.pending {
		close(entry)
		delete(self.pending, id)
	}
}

func (self *correlationTable) PendingCount() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	return len(self.pending)
}
