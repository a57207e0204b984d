package adapter

import "sync/atomic"

// SeqGen is an atomic message-ID generator. IDs start at 1 and increase
// monotonically; 0 is reserved as the failure sentinel and is skipped if the
// counter ever wraps.
type SeqGen struct {
	val atomic.Uint32
}

// NewSeqGen creates a new generator. The first call to Next() returns 1.
func NewSeqGen() *SeqGen {
	return &SeqGen{}
}

// Next returns the next message ID.
func (s *SeqGen) Next() uint32 {
	for {
		if id := s.val.Add(1); id != 0 {
			return id
		}
	}
}
