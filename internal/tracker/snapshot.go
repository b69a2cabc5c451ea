package tracker

import (
	"time"
)

// Snapshot is the read-only view of a tracker handed to observers and the status server.
type Snapshot struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"`
	Keyword          string        `json:"keyword"`
	URL              string        `json:"url"`
	Price            *int          `json:"price"`
	Unit             string        `json:"unit"`
	ImageURL         string        `json:"image_url,omitempty"`
	LastRefreshedAt  *time.Time    `json:"last_refreshed_at"`
	Generation       uint64        `json:"generation"`
	SortType         string        `json:"sort_type"`
	SortLabel        string        `json:"sort_label"`
	Filters          []string      `json:"filters"`
	FilterLabels     []string      `json:"filter_labels"`
	RefreshPeriod    time.Duration `json:"refresh_period"`
	TargetPrice      int           `json:"target_price,omitempty"`
	Phase            Phase         `json:"phase"`
	LastOutcome      Outcome       `json:"last_outcome,omitempty"`
	LastError        ErrorKind     `json:"last_error,omitempty"`
	LastErrorMessage string        `json:"last_error_message,omitempty"`
}

// LastRefreshLabel formats the refresh time the way it is shown next to the price.
func (s Snapshot) LastRefreshLabel() string {
	if s.LastRefreshedAt == nil {
		return ""
	}
	return s.LastRefreshedAt.Format("2006-01-02 15:04")
}

func (t *Tracker) Snapshot() Snapshot {
	state := t.State()

	out := Snapshot{
		ID:               t.id,
		Name:             t.name,
		Keyword:          t.cfg.Keyword,
		URL:              t.url,
		Unit:             Unit,
		SortType:         string(t.cfg.Sort),
		SortLabel:        t.cfg.Sort.Label(),
		Filters:          []string{},
		FilterLabels:     []string{},
		RefreshPeriod:    t.RefreshPeriod(),
		TargetPrice:      t.cfg.TargetPrice,
		Generation:       state.Generation,
		Phase:            state.Phase,
		LastOutcome:      state.LastOutcome,
		LastError:        state.LastError,
		LastErrorMessage: state.LastErrorMessage,
	}
	for _, f := range t.cfg.Filters {
		out.Filters = append(out.Filters, string(f))
		out.FilterLabels = append(out.FilterLabels, f.Label())
	}
	if state.LastResult != nil {
		price := state.LastResult.Price
		out.Price = &price
		out.ImageURL = resolveImage(t.url, state.LastResult.ImageRef)
	}
	if !state.LastRefreshedAt.IsZero() {
		at := state.LastRefreshedAt
		out.LastRefreshedAt = &at
	}
	return out
}
