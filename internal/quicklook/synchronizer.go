package quicklook

import "sync"

// WatchEventKind classifies a synchronizer event.
type WatchEventKind string

// WatchEventKind values.
const (
	WatchAdded    WatchEventKind = "added"
	WatchModified WatchEventKind = "modified"
	WatchDeleted  WatchEventKind = "deleted"
)

// WatchEvent pairs a JobReport with the kind of change that produced it.
type WatchEvent struct {
	Report JobReport      `json:"report"`
	Kind   WatchEventKind `json:"kind"`
}

// Synchronizer maintains the authoritative map of active jobs and publishes
// add/modify/delete events to subscribers (C7). It is the sole writer of
// its entry map; C8 and C10 call its methods, subscribers read only from
// their own queues. Publish and Subscribe are serialized on the same mutex
// so that a new subscriber's replay is always consistent with the live
// tail it starts receiving immediately after.
type Synchronizer struct {
	mu      sync.Mutex
	entries map[Visit]JobReport
	queue   *BroadcastQueue[WatchEvent]
}

// NewSynchronizer creates an empty synchronizer.
func NewSynchronizer() *Synchronizer {
	return &Synchronizer{
		entries: make(map[Visit]JobReport),
		queue:   NewBroadcastQueue[WatchEvent](DefaultSubscriberBuffer),
	}
}

// Add inserts job's report and emits an "added" event.
func (s *Synchronizer) Add(job *Job) {
	report := ToReport(job)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[job.Visit] = report
	s.queue.Publish(WatchEvent{Report: report, Kind: WatchAdded})
}

// Modify replaces job's report and emits a "modified" event.
func (s *Synchronizer) Modify(job *Job) {
	report := ToReport(job)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[job.Visit] = report
	s.queue.Publish(WatchEvent{Report: report, Kind: WatchModified})
}

// Delete removes visit's report and emits a "deleted" event. A no-op if the
// visit is not present.
func (s *Synchronizer) Delete(visit Visit) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report, ok := s.entries[visit]
	if !ok {
		return
	}

	delete(s.entries, visit)
	s.queue.Publish(WatchEvent{Report: report, Kind: WatchDeleted})
}

// Get returns the current report for visit, if present.
func (s *Synchronizer) Get(visit Visit) (JobReport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report, ok := s.entries[visit]

	return report, ok
}

// List returns every current report, in no particular order.
func (s *Synchronizer) List() []JobReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobReport, 0, len(s.entries))
	for _, report := range s.entries {
		out = append(out, report)
	}

	return out
}

// Subscribe yields one synthetic "added" event per current entry, then
// streams subsequent events, with no gap in which an event could be missed.
func (s *Synchronizer) Subscribe() *Subscription[WatchEvent] {
	s.mu.Lock()
	defer s.mu.Unlock()

	replay := make([]WatchEvent, 0, len(s.entries))
	for _, report := range s.entries {
		replay = append(replay, WatchEvent{Report: report, Kind: WatchAdded})
	}

	return s.queue.Subscribe(replay)
}
