package relay

// SequenceFilter passes sequence numbers that are strictly greater than the
// last accepted one. Several connections deliver the same feed, so every
// message normally arrives once per connection.
type SequenceFilter struct {
	last    int64
	hasLast bool
}

// Seed marks seq as already relayed.
func (f *SequenceFilter) Seed(seq int64) {
	f.last = seq
	f.hasLast = true
}

// Accept reports whether seq is new and records it.
func (f *SequenceFilter) Accept(seq int64) bool {
	if f.hasLast && seq <= f.last {
		return false
	}
	f.last = seq
	f.hasLast = true
	return true
}

// Last returns the highest accepted sequence number.
func (f *SequenceFilter) Last() (int64, bool) {
	return f.last, f.hasLast
}
