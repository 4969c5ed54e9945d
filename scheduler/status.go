package scheduler

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// State is where a subscriber is in the scan cycle.
type State string

const (
	StateIdle     State = "idle"
	StateDue      State = "due"
	StateScanning State = "scanning"
)

// SubscriberStatus is the observable scan state of one subscriber.
type SubscriberStatus struct {
	SubscriberID string        `json:"subscriber_id"`
	State        State         `json:"state"`
	Interval     time.Duration `json:"interval"`
	LastScanAt   time.Time     `json:"last_scan_at,omitempty"`
	NextScanAt   time.Time     `json:"next_scan_at,omitempty"`
	LastPass     *PassResult   `json:"last_pass,omitempty"`
}

// Status is a snapshot of the scheduler.
type Status struct {
	Running     bool               `json:"running"`
	LastTickAt  time.Time          `json:"last_tick_at,omitempty"`
	Ticks       int64              `json:"ticks"`
	Subscribers []SubscriberStatus `json:"subscribers"`
}

type subscriberState struct {
	state      State
	interval   time.Duration
	lastScanAt time.Time
	lastPass   *PassResult
}

func (s *subscriberState) status(id string) SubscriberStatus {
	out := SubscriberStatus{
		SubscriberID: id,
		State:        s.state,
		Interval:     s.interval,
		LastScanAt:   s.lastScanAt,
		LastPass:     s.lastPass,
	}
	if !s.lastScanAt.IsZero() {
		out.NextScanAt = s.lastScanAt.Add(s.interval)
	}
	return out
}

// Status returns the state of every subscriber seen by the last tick, ordered by id.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Status{
		Running:     s.running,
		LastTickAt:  s.lastTickAt,
		Ticks:       s.ticks,
		Subscribers: make([]SubscriberStatus, 0, len(s.states)),
	}
	for id, st := range s.states {
		out.Subscribers = append(out.Subscribers, st.status(id))
	}
	sort.Slice(out.Subscribers, func(i, j int) bool {
		return out.Subscribers[i].SubscriberID < out.Subscribers[j].SubscriberID
	})
	return out
}

// DescribeSubscriber renders a subscriber's scan state for a chat reply.
func (s *Scheduler) DescribeSubscriber(subscriberID string) string {
	s.mu.Lock()
	st, ok := s.states[subscriberID]
	var status SubscriberStatus
	if ok {
		status = st.status(subscriberID)
	}
	s.mu.Unlock()

	if !ok || status.LastScanAt.IsZero() {
		return "Last scan: never"
	}

	const layout = "2006-01-02 15:04"
	var b strings.Builder
	fmt.Fprintf(&b, "Last scan: %s", status.LastScanAt.Format(layout))
	if p := status.LastPass; p != nil {
		fmt.Fprintf(&b, " (%d new, %d changed", p.New, p.Changed)
		if p.FailedTargets > 0 {
			fmt.Fprintf(&b, ", %d section(s) unreachable", p.FailedTargets)
		}
		b.WriteString(")")
	}
	fmt.Fprintf(&b, "\nNext scan: %s", status.NextScanAt.Format(layout))
	if status.State == StateScanning {
		b.WriteString("\nScanning now")
	}
	return b.String()
}
