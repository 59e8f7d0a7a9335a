package catalog

import (
	"context"
	"errors"
	"log/slog"

	"trackify-svr/internal/presence"
)

// LeaveWriter persists a user's last known coordinates when their
// presence record is removed. It implements presence.LeaveNotifier.
type LeaveWriter struct {
	cat *Catalog
	log *slog.Logger
}

func NewLeaveWriter(cat *Catalog, log *slog.Logger) *LeaveWriter {
	return &LeaveWriter{cat: cat, log: log}
}

func (w *LeaveWriter) UserLeft(_ context.Context, e presence.LeaveEvent) error {
	if e.Lat == nil || e.Lng == nil {
		w.log.Info("user left without coordinates", "userCode", e.UserCode, "reason", e.Reason)
		return nil
	}
	err := w.cat.UpdateUserLocation(e.UserCode, *e.Lat, *e.Lng)
	if errors.Is(err, ErrNotFound) {
		// unregistered user (e.g. a demo mover), nothing to persist
		return nil
	}
	if err != nil {
		return err
	}
	w.log.Info("user left", "userCode", e.UserCode, "reason", e.Reason, "lat", *e.Lat, "lng", *e.Lng)
	return nil
}
