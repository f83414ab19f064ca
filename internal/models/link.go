package models

import (
	"time"
)

// Link is a short key registered under a domain together with the ordered
// list of destinations it may redirect to.
type Link struct {
	ID           int64     `json:"id"`
	ShortKey     string    `json:"short_key"`
	Domain       string    `json:"domain"`
	Destinations []string  `json:"destinations"`
	OwnerID      string    `json:"owner_id,omitempty"`
	Remark       string    `json:"remark"`
	ShortURL     string    `json:"short_url"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type CreateLinkInput struct {
	Destinations []string `json:"destinations" binding:"required,destinations"`
	CustomKey    *string  `json:"custom_key,omitempty" binding:"omitempty,shortkey"`
	Domain       string   `json:"domain,omitempty"`
	OwnerID      string   `json:"owner_id,omitempty"`
	Remark       string   `json:"remark,omitempty"`
}

// UpdateLinkInput: nil fields are left unchanged.
type UpdateLinkInput struct {
	Destinations []string `json:"destinations,omitempty" binding:"omitempty,destinations"`
	CustomKey    *string  `json:"custom_key,omitempty" binding:"omitempty,shortkey"`
	Domain       *string  `json:"domain,omitempty"`
	Remark       *string  `json:"remark,omitempty"`
}

type LinkFilter struct {
	OwnerID string
	Limit   int
	Offset  int
}

// CachedLink is the resolution cache entry stored under shortlink:{key}.
type CachedLink struct {
	ID           int64    `json:"id"`
	Domain       string   `json:"domain"`
	Destinations []string `json:"destinations"`
	OwnerID      string   `json:"owner_id,omitempty"`
}

func (l *Link) ToCached() *CachedLink {
	return &CachedLink{
		ID:           l.ID,
		Domain:       l.Domain,
		Destinations: append([]string(nil), l.Destinations...),
		OwnerID:      l.OwnerID,
	}
}
