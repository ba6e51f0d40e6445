package main

import (
	"time"

	"github.com/matst80/cmdrelay/internal/registry"
)

// Stats represents current relay stats for dashboards & API.
type Stats struct {
	Listeners     int    `json:"listeners"`
	ControlActive bool   `json:"control_active"`
	Rotations     int64  `json:"rotations"`
	Broadcasts    int64  `json:"broadcasts"`
	Now           string `json:"now"`
}

func collectStats(reg *registry.Registry) Stats {
	s := reg.Snapshot()
	return Stats{
		Listeners:     s.Listeners,
		ControlActive: s.ControlActive,
		Rotations:     s.Rotations,
		Broadcasts:    s.Broadcasts,
		Now:           time.Now().UTC().Format(time.RFC3339),
	}
}

// ToTemplateMap returns a map suited for html/template rendering with expected capitalized keys.
func (s Stats) ToTemplateMap() map[string]any {
	return map[string]any{
		"Listeners":     s.Listeners,
		"ControlActive": s.ControlActive,
		"Rotations":     s.Rotations,
		"Broadcasts":    s.Broadcasts,
	}
}
