package models

import (
	"time"
)

// Click is an append-only analytics record of one redirect.
type Click struct {
	ID                 int64     `json:"id"`
	LinkID             int64     `json:"link_id"`
	ShortKey           string    `json:"short_key"`
	Domain             string    `json:"domain"`
	SelectedURL        string    `json:"selected_url"`
	IPAddress          string    `json:"ip_address"`
	UserAgent          string    `json:"user_agent"`
	Referer            string    `json:"referer"`
	IsBot              bool      `json:"is_bot"`
	Country            string    `json:"country"`
	Region             *string   `json:"region,omitempty"`
	City               *string   `json:"city,omitempty"`
	IsRestrictedRegion bool      `json:"is_restricted_region"`
	NoDedup            bool      `json:"no_dedup"`
	ClickedAt          time.Time `json:"clicked_at"`
}

// VisitEvent is handed from the redirect path to the visit recorder.
type VisitEvent struct {
	LinkID         int64
	ShortKey       string
	Domain         string
	SelectedURL    string
	IPAddress      string
	UserAgent      string
	Referer        string
	IsLoadTest     bool
	Classification Classification
	OccurredAt     time.Time
}

type ClickStats struct {
	LinkID       int64      `json:"link_id"`
	TotalClicks  int64      `json:"total_clicks"`
	UniqueClicks int64      `json:"unique_clicks"`
	LastClickAt  *time.Time `json:"last_click_at,omitempty"`
}

type DailyClickStats struct {
	Date   string `json:"date"`
	Clicks int64  `json:"clicks"`
}

type DestinationClickStats struct {
	URL    string `json:"url"`
	Clicks int64  `json:"clicks"`
}
