package tracing

import (
	"sync"

	"github.com/sarchlab/speedmeasure/clock"
	"github.com/sarchlab/speedmeasure/hooking"
)

// A list of hook positions the ledger invokes hooks at.
var (
	// HookPosIntervalStart is invoked after an interval is opened. The item
	// is the TimeEvent.
	HookPosIntervalStart = &hooking.HookPos{Name: "IntervalStart"}

	// HookPosIntervalEnd is invoked after an interval is closed. The item is
	// the TimeEvent.
	HookPosIntervalEnd = &hooking.HookPos{Name: "IntervalEnd"}

	// HookPosCorrelationFailure is invoked when a close cannot be matched.
	// The item is the *CorrelationError and the detail tells whether the
	// failure was tolerated.
	HookPosCorrelationFailure = &hooking.HookPos{Name: "CorrelationFailure"}

	// HookPosLedgerReset is invoked after the ledger is emptied.
	HookPosLedgerReset = &hooking.HookPos{Name: "LedgerReset"}
)

type bucket struct {
	event  string
	events []*TimeEvent
}

type categoryBuckets struct {
	name    string
	order   []*bucket
	buckets map[string]*bucket
}

// Ledger is the append-only store of the intervals recorded during one run.
// Intervals are filed by category and event name, in creation order.
type Ledger struct {
	*hooking.HookableBase

	lock       sync.Mutex
	timeTeller clock.TimeTeller
	order      []*categoryBuckets
	categories map[string]*categoryBuckets
}

// NewLedger creates an empty ledger that stamps intervals with the given time
// teller.
func NewLedger(timeTeller clock.TimeTeller) *Ledger {
	return &Ledger{
		HookableBase: hooking.NewHookableBase(),
		timeTeller:   timeTeller,
		categories:   make(map[string]*categoryBuckets),
	}
}

// RecordStart opens a new interval stamped with the current time.
func (l *Ledger) RecordStart(
	category, event string,
	req StartRequest,
) TimeEvent {
	now := l.timeTeller.CurrentTime()

	e := &TimeEvent{
		ID:       req.ID,
		Name:     req.Name,
		Category: category,
		Event:    event,
		Start:    now,
		Metadata: req.Metadata.clone(),
	}

	l.lock.Lock()
	b := l.bucketOrCreate(category, event)
	b.events = append(b.events, e)
	copied := *e
	l.lock.Unlock()

	l.invoke(HookPosIntervalStart, copied, nil)

	return copied
}

// RecordEnd closes the interval the request correlates to. Intervals are
// matched by ID, then by Name when the request carries no ID, and finally,
// when FillLast is set, the oldest interval that has not ended is used.
//
// A definitive end is never overwritten. A speculative close of an interval
// that already has a definitive end succeeds without changing anything.
//
// If nothing matches, a *CorrelationError is returned unless the request
// allows failure.
func (l *Ledger) RecordEnd(category, event string, req EndRequest) error {
	now := l.timeTeller.CurrentTime()

	l.lock.Lock()

	var events []*TimeEvent
	if b := l.bucket(category, event); b != nil {
		events = b.events
	}

	target, settled := findTarget(events, req)
	if settled {
		l.lock.Unlock()
		return nil
	}

	if target == nil {
		l.lock.Unlock()
		return l.correlationFailure(category, event, req)
	}

	if now < target.Start {
		now = target.Start
	}

	target.End = now
	target.Ended = true
	target.Speculative = req.Speculative
	copied := *target
	l.lock.Unlock()

	l.invoke(HookPosIntervalEnd, copied, nil)

	return nil
}

func findTarget(
	events []*TimeEvent,
	req EndRequest,
) (target *TimeEvent, settled bool) {
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		if !req.matches(e) {
			continue
		}

		if !e.Ended || e.Speculative {
			return e, false
		}

		if req.Speculative {
			settled = true
		}
	}

	if settled {
		return nil, true
	}

	if req.FillLast {
		for _, e := range events {
			if !e.Ended {
				return e, false
			}
		}
	}

	return nil, false
}

func (l *Ledger) correlationFailure(
	category, event string,
	req EndRequest,
) error {
	err := &CorrelationError{
		Category: category,
		Event:    event,
		ID:       req.ID,
		Name:     req.Name,
		FillLast: req.FillLast,
	}

	l.invoke(HookPosCorrelationFailure, err, req.AllowFailure)

	if req.AllowFailure {
		return nil
	}

	return err
}

// Events returns a copy of the intervals recorded under the category and
// event, in creation order.
func (l *Ledger) Events(category, event string) []TimeEvent {
	l.lock.Lock()
	defer l.lock.Unlock()

	b := l.bucket(category, event)
	if b == nil {
		return nil
	}

	return copyEvents(b.events)
}

// Categories returns the categories recorded so far, in first-seen order.
func (l *Ledger) Categories() []string {
	l.lock.Lock()
	defer l.lock.Unlock()

	names := make([]string, 0, len(l.order))
	for _, c := range l.order {
		names = append(names, c.name)
	}

	return names
}

// EventNames returns the event names recorded under a category, in
// first-seen order.
func (l *Ledger) EventNames(category string) []string {
	l.lock.Lock()
	defer l.lock.Unlock()

	c, ok := l.categories[category]
	if !ok {
		return nil
	}

	names := make([]string, 0, len(c.order))
	for _, b := range c.order {
		names = append(names, b.event)
	}

	return names
}

// OpenEvents returns every interval that has not ended yet.
func (l *Ledger) OpenEvents() []TimeEvent {
	l.lock.Lock()
	defer l.lock.Unlock()

	var open []TimeEvent
	for _, c := range l.order {
		for _, b := range c.order {
			for _, e := range b.events {
				if !e.Ended {
					open = append(open, *e)
				}
			}
		}
	}

	return open
}

// Snapshot returns a copy of the whole ledger.
func (l *Ledger) Snapshot() Snapshot {
	l.lock.Lock()
	defer l.lock.Unlock()

	s := Snapshot{}
	for _, c := range l.order {
		for _, b := range c.order {
			s.Buckets = append(s.Buckets, Bucket{
				Category: c.name,
				Event:    b.event,
				Events:   copyEvents(b.events),
			})
		}
	}

	return s
}

// Reset empties every bucket.
func (l *Ledger) Reset() {
	l.lock.Lock()
	l.order = nil
	l.categories = make(map[string]*categoryBuckets)
	l.lock.Unlock()

	l.invoke(HookPosLedgerReset, nil, nil)
}

func (l *Ledger) bucket(category, event string) *bucket {
	c, ok := l.categories[category]
	if !ok {
		return nil
	}

	return c.buckets[event]
}

func (l *Ledger) bucketOrCreate(category, event string) *bucket {
	c, ok := l.categories[category]
	if !ok {
		c = &categoryBuckets{
			name:    category,
			buckets: make(map[string]*bucket),
		}
		l.categories[category] = c
		l.order = append(l.order, c)
	}

	b, ok := c.buckets[event]
	if !ok {
		b = &bucket{event: event}
		c.buckets[event] = b
		c.order = append(c.order, b)
	}

	return b
}

func (l *Ledger) invoke(pos *hooking.HookPos, item, detail any) {
	if l.NumHooks() == 0 {
		return
	}

	l.InvokeHook(hooking.HookCtx{
		Domain: l,
		Pos:    pos,
		Item:   item,
		Detail: detail,
	})
}

func copyEvents(events []*TimeEvent) []TimeEvent {
	out := make([]TimeEvent, 0, len(events))
	for _, e := range events {
		c := *e
		c.Metadata = e.Metadata.clone()
		out = append(out, c)
	}

	return out
}
