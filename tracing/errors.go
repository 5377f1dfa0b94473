package tracing

import (
	"fmt"

	"github.com/sarchlab/speedmeasure/idgen"
)

// CorrelationError reports a close request that could not be matched to any
// interval.
type CorrelationError struct {
	Category string
	Event    string
	ID       idgen.ID
	Name     string
	FillLast bool
}

func (e *CorrelationError) Error() string {
	key := "no key"

	switch {
	case e.ID != idgen.None:
		key = "id " + e.ID.String()
	case e.Name != "":
		key = fmt.Sprintf("name %q", e.Name)
	}

	return fmt.Sprintf(
		"no matching event to end in %s/%s (%s, fill last: %t)",
		e.Category, e.Event, key, e.FillLast)
}
