// Package notify delivers ingestion run reports to configured
// destinations.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// WorldResult is the per-world outcome inside a Report.
type WorldResult struct {
	WorldID      int    `json:"world_id"`
	Name         string `json:"name"`
	VillageCount int    `json:"village_count"`
	SkippedRows  int    `json:"skipped_rows"`
	Pruned       int    `json:"pruned"`
	Error        string `json:"error,omitempty"`
}

// Report summarizes one ingestion run across all enabled worlds.
type Report struct {
	RanAt   time.Time     `json:"ran_at"`
	Date    time.Time     `json:"date"`
	Worlds  []WorldResult `json:"worlds"`
	Failed  int           `json:"failed"`
	Success int           `json:"success"`
}

// Notifier delivers reports to a specific destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, r *Report) error
}

// Manager broadcasts reports to all registered notifiers.
type Manager struct {
	notifiers []Notifier
}

// NewManager creates a new notification manager.
func NewManager(notifiers []Notifier) *Manager {
	return &Manager{notifiers: notifiers}
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return len(m.notifiers) > 0
}

// Broadcast sends a report to all registered notifiers.
func (m *Manager) Broadcast(ctx context.Context, r *Report) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Send(ctx, r); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}
	return errors.Join(errs...)
}
