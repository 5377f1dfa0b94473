package tracing

// A Bucket holds the intervals of one category and event.
type Bucket struct {
	Category string      `json:"category"`
	Event    string      `json:"event"`
	Events   []TimeEvent `json:"events"`
}

// Snapshot is an immutable copy of a ledger. Buckets keep the first-seen
// order of the ledger.
type Snapshot struct {
	Buckets []Bucket `json:"buckets"`
}

// Events returns the intervals recorded under the category and event.
func (s Snapshot) Events(category, event string) []TimeEvent {
	for _, b := range s.Buckets {
		if b.Category == category && b.Event == event {
			return b.Events
		}
	}

	return nil
}

// Category returns all the buckets of a category.
func (s Snapshot) Category(category string) []Bucket {
	var buckets []Bucket
	for _, b := range s.Buckets {
		if b.Category == category {
			buckets = append(buckets, b)
		}
	}

	return buckets
}

// HasCategory tells if anything was recorded under the category.
func (s Snapshot) HasCategory(category string) bool {
	for _, b := range s.Buckets {
		if b.Category == category && len(b.Events) > 0 {
			return true
		}
	}

	return false
}

// IsEmpty tells if the snapshot holds no interval at all.
func (s Snapshot) IsEmpty() bool {
	for _, b := range s.Buckets {
		if len(b.Events) > 0 {
			return false
		}
	}

	return true
}
