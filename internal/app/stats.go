package app

import (
	"context"
	"time"

	"github.com/tphakala/wildlife-id-bot/internal/events"
	"github.com/tphakala/wildlife-id-bot/internal/imageprovider"
	"github.com/tphakala/wildlife-id-bot/internal/requests"
)

// Snapshot is the JSON body of /stats.
type Snapshot struct {
	Version       string                    `json:"version"`
	Uptime        string                    `json:"uptime"`
	Requests      RequestSnapshot           `json:"requests"`
	Caches        CacheSnapshot             `json:"caches"`
	PendingGroups int                       `json:"pending_media_groups"`
	Events        *events.Stats             `json:"events,omitempty"`
	Photos        *imageprovider.CacheStats `json:"reference_photos,omitempty"`
}

// RequestSnapshot mirrors requests.Stats with readable durations.
type RequestSnapshot struct {
	Total           int64  `json:"total"`
	Completed       int64  `json:"completed"`
	Failed          int64  `json:"failed"`
	Expired         int64  `json:"expired"`
	Evicted         int64  `json:"evicted"`
	Active          int    `json:"active"`
	AverageDuration string `json:"average_duration"`
}

// CacheSnapshot counts live cache entries.
type CacheSnapshot struct {
	Results int `json:"results"`
	FullRes int `json:"full_resolution_sent"`
	Offers  int `json:"offers"`
}

type statsProvider struct {
	app *App
}

func (p statsProvider) Snapshot(context.Context) any {
	a := p.app
	s := a.requests.Stats()
	snap := Snapshot{
		Version:       a.info.Version(),
		Uptime:        time.Since(a.started).Round(time.Second).String(),
		Requests:      requestSnapshot(s),
		PendingGroups: a.groups.Pending(),
		Caches: CacheSnapshot{
			Results: a.results.ItemCount(),
			FullRes: a.fullRes.ItemCount(),
			Offers:  a.offers.ItemCount(),
		},
	}
	if a.bus != nil {
		st := a.bus.Stats()
		snap.Events = &st
	}
	if a.photos != nil {
		st := a.photos.Stats()
		snap.Photos = &st
	}
	return snap
}

func requestSnapshot(s requests.Stats) RequestSnapshot {
	return RequestSnapshot{
		Total:           s.Total,
		Completed:       s.Completed,
		Failed:          s.Failed,
		Expired:         s.Expired,
		Evicted:         s.Evicted,
		Active:          s.Active,
		AverageDuration: s.AverageDuration.Round(time.Millisecond).String(),
	}
}
