package worker

import (
	"time"

	"github.com/JakeFAU/rivalwatch/internal/monitor"
)

// Message is the payload handed to the change publisher.
type Message struct {
	ChangeID    string    `json:"change_id"`
	Competitor  string    `json:"competitor"`
	PageURL     string    `json:"page_url"`
	PageType    string    `json:"page_type"`
	Description string    `json:"description"`
	DetectedAt  time.Time `json:"detected_at"`
}

// ChangeMessage converts a change event into its published form. Excerpts stay in the store.
func ChangeMessage(c monitor.ChangeEvent) Message {
	return Message{
		ChangeID:    c.ID,
		Competitor:  c.CompetitorName,
		PageURL:     c.PageURL,
		PageType:    string(c.PageType),
		Description: c.Description,
		DetectedAt:  c.DetectedAt,
	}
}

// Attributes exposes filterable message attributes.
func (m Message) Attributes() map[string]string {
	return map[string]string{
		"competitor": m.Competitor,
		"page_type":  m.PageType,
	}
}
