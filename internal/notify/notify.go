package notify

import (
	"context"
	"danawa-tracker/internal/telemetry"
	"danawa-tracker/internal/tracker"
	"fmt"
	"sync"
	"time"
)

const (
	report_notify_send    = "notify.send"
	report_notify_dropped = "notify.dropped"
)

type Reason string

const (
	ReasonPriceDrop     Reason = "price_drop"
	ReasonTargetReached Reason = "target_reached"
)

type Alert struct {
	Reason      Reason
	TrackerID   string
	Name        string
	URL         string
	Price       int
	Previous    *int
	TargetPrice int
	At          time.Time
}

func (a Alert) Subject() string {
	switch a.Reason {
	case ReasonTargetReached:
		return fmt.Sprintf("[%s] 목표가 도달: %d원", a.Name, a.Price)
	default:
		return fmt.Sprintf("[%s] 가격 하락: %d원", a.Name, a.Price)
	}
}

func (a Alert) Body() string {
	body := fmt.Sprintf("%s\n\nprice: %d KRW\n", a.Name, a.Price)
	if a.Previous != nil {
		body += fmt.Sprintf("previous: %d KRW\n", *a.Previous)
	}
	if a.TargetPrice > 0 {
		body += fmt.Sprintf("target: %d KRW\n", a.TargetPrice)
	}
	body += fmt.Sprintf("refreshed: %s\n\n%s\n", a.At.Format("2006-01-02 15:04"), a.URL)
	return body
}

type Sender interface {
	Send(ctx context.Context, alert Alert) error
}

type SnapshotSource interface {
	Snapshots() []tracker.Snapshot
}

type seen struct {
	price      int
	generation uint64
}

// Notifier is a hub observer that turns price movements into alerts. Alerts are handed to
// Run through a buffered queue so a slow sender never holds up a refresh cycle.
type Notifier struct {
	source SnapshotSource
	sender Sender
	tel    telemetry.API
	queue  chan Alert

	mu   sync.Mutex
	last map[string]seen
}

func NewNotifier(source SnapshotSource, sender Sender, tel telemetry.API) *Notifier {
	return &Notifier{
		source: source,
		sender: sender,
		tel:    tel,
		queue:  make(chan Alert, 32),
		last:   make(map[string]seen),
	}
}

func (n *Notifier) Observe() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, snap := range n.source.Snapshots() {
		if snap.Price == nil || snap.LastRefreshedAt == nil {
			continue
		}
		prev, hasPrev := n.last[snap.ID]
		if hasPrev && prev.generation == snap.Generation {
			continue
		}
		n.last[snap.ID] = seen{price: *snap.Price, generation: snap.Generation}

		alert, ok := evaluate(snap, prev, hasPrev)
		if !ok {
			continue
		}
		select {
		case n.queue <- alert:
		default:
			n.tel.ReportWarning(report_notify_dropped, alert.TrackerID, string(alert.Reason))
		}
	}
}

func evaluate(snap tracker.Snapshot, prev seen, hasPrev bool) (Alert, bool) {
	price := *snap.Price
	alert := Alert{
		TrackerID:   snap.ID,
		Name:        snap.Name,
		URL:         snap.URL,
		Price:       price,
		TargetPrice: snap.TargetPrice,
		At:          *snap.LastRefreshedAt,
	}
	if hasPrev {
		p := prev.price
		alert.Previous = &p
	}

	// the target alert only fires when the price crosses it, not on every refresh below it
	if snap.TargetPrice > 0 && price <= snap.TargetPrice && (!hasPrev || prev.price > snap.TargetPrice) {
		alert.Reason = ReasonTargetReached
		return alert, true
	}
	if hasPrev && price < prev.price {
		alert.Reason = ReasonPriceDrop
		return alert, true
	}
	return Alert{}, false
}

// Run sends queued alerts until ctx is done.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case alert := <-n.queue:
			err := n.sender.Send(ctx, alert)
			if err != nil {
				n.tel.ReportBroken(report_notify_send, err, alert.TrackerID)
				continue
			}
			n.tel.ReportDebug(report_notify_send, alert.TrackerID, string(alert.Reason))
		}
	}
}
