package tracing

import (
	"github.com/sarchlab/speedmeasure/clock"
	"github.com/sarchlab/speedmeasure/idgen"
)

// Well-known metadata keys.
const (
	// MetaLoaders holds the ordered list of transformer names active on an
	// interval.
	MetaLoaders = "loaders"

	// MetaLoader holds the name of the single transformer an interval times.
	MetaLoader = "loader"
)

// Metadata is the open set of attributes attached to an interval when it
// starts.
type Metadata map[string]any

// String returns the string stored under key, or "" if there is none.
func (m Metadata) String(key string) string {
	s, _ := m[key].(string)
	return s
}

// Strings returns the string list stored under key, or nil if there is none.
func (m Metadata) Strings(key string) []string {
	switch v := m[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}

		return out
	default:
		return nil
	}
}

func (m Metadata) clone() Metadata {
	if m == nil {
		return nil
	}

	c := make(Metadata, len(m))
	for k, v := range m {
		if list, ok := v.([]string); ok {
			v = append([]string(nil), list...)
		}

		c[k] = v
	}

	return c
}

// A TimeEvent is one observed interval.
type TimeEvent struct {
	ID          idgen.ID     `json:"id"`
	Name        string       `json:"name,omitempty"`
	Category    string       `json:"category"`
	Event       string       `json:"event"`
	Start       clock.Millis `json:"start"`
	End         clock.Millis `json:"end,omitempty"`
	Ended       bool         `json:"ended"`
	Speculative bool         `json:"speculative,omitempty"`
	Metadata    Metadata     `json:"metadata,omitempty"`
}

// Duration returns how long the interval lasted. An interval that has not
// ended has no duration.
func (e TimeEvent) Duration() (clock.Millis, bool) {
	if !e.Ended {
		return 0, false
	}

	return e.End - e.Start, true
}

// StartRequest describes an interval to open.
type StartRequest struct {
	ID       idgen.ID
	Name     string
	Metadata Metadata
}

// EndRequest describes which interval to close and how strict the close is.
type EndRequest struct {
	// ID is the primary correlation key.
	ID idgen.ID

	// Name is used to correlate only when ID is absent.
	Name string

	// FillLast lets the close fall back to the oldest interval that has not
	// ended when neither ID nor Name matches.
	FillLast bool

	// AllowFailure swallows the CorrelationError of an unmatched close.
	AllowFailure bool

	// Speculative marks the end as provisional. A later close for the same
	// interval may replace it.
	Speculative bool
}

func (r EndRequest) matches(e *TimeEvent) bool {
	if r.ID != idgen.None {
		return e.ID == r.ID
	}

	return r.Name != "" && e.Name == r.Name
}
