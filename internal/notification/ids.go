package notification

import "sync/atomic"

// IDAllocator issues strictly increasing positive notification ids.
//
// Ids are never handed out twice during the daemon's lifetime. Zero is
// reserved by the wire protocol to mean "no replacement".
type IDAllocator struct {
	last atomic.Uint32
}

// NewIDAllocator returns an allocator whose first id is 1.
func NewIDAllocator() *IDAllocator {
	return &IDAllocator{}
}

// Next returns the next id.
func (a *IDAllocator) Next() uint32 {
	for {
		id := a.last.Add(1)
		if id != 0 {
			return id
		}
	}
}

// Last returns the most recently issued id, or 0 if none was issued.
func (a *IDAllocator) Last() uint32 {
	return a.last.Load()
}
