package presence

import "time"

// Presence is the live state record for one tracked user. A record exists
// in the store if and only if the user is currently considered connected.
type Presence struct {
	UserCode string  `json:"userCode"`
	UserName string  `json:"userName"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Working  bool    `json:"working"`

	// LastMessageAt is the unix-ms timestamp of the most recent inbound
	// event from this user. It drives timeout detection.
	LastMessageAt int64 `json:"lastMessageAt"`
	// LastPingRtt is the last computed round-trip time in ms, >= 0.
	LastPingRtt int64 `json:"lastPingRtt"`

	// Broadcast throttle metadata. Updated only when a broadcast is
	// actually sent, never on silent updates.
	LastBroadcastAt  int64    `json:"lastBroadcastAt"`
	LastBroadcastLat *float64 `json:"lastBroadcastLat,omitempty"`
	LastBroadcastLng *float64 `json:"lastBroadcastLng,omitempty"`
}

// Clone returns a deep copy so callers never alias stored state.
func (p *Presence) Clone() *Presence {
	if p == nil {
		return nil
	}
	cp := *p
	if p.LastBroadcastLat != nil {
		v := *p.LastBroadcastLat
		cp.LastBroadcastLat = &v
	}
	if p.LastBroadcastLng != nil {
		v := *p.LastBroadcastLng
		cp.LastBroadcastLng = &v
	}
	return &cp
}

// Status is a read-time projection over (lastMessageAt, working). It is
// never stored: the sweep's removal decision is the single source of
// truth for liveness, and status is always derived from it.
type Status string

const (
	StatusWorking  Status = "WORKING"
	StatusOnline   Status = "ONLINE"
	StatusUnstable Status = "UNSTABLE"
	StatusOffline  Status = "OFFLINE"
)

const (
	unstableAfter = 15 * time.Second
	offlineAfter  = 30 * time.Second
)

// StatusOf derives the display status for p at the given instant.
func StatusOf(p *Presence, now time.Time) Status {
	idle := now.UnixMilli() - p.LastMessageAt
	switch {
	case idle > offlineAfter.Milliseconds():
		return StatusOffline
	case idle > unstableAfter.Milliseconds():
		return StatusUnstable
	case p.Working:
		return StatusWorking
	default:
		return StatusOnline
	}
}

// LeaveReason tells the leave notifier why a record was removed.
type LeaveReason string

const (
	LeaveDisconnect LeaveReason = "DISCONNECT"
	LeaveTimeout    LeaveReason = "TIMEOUT"
)

// LeaveEvent is emitted whenever a record leaves the store. Lat/Lng are
// the last known coordinates, nil when none were available.
type LeaveEvent struct {
	UserCode string
	Lat      *float64
	Lng      *float64
	At       time.Time
	Reason   LeaveReason
}
