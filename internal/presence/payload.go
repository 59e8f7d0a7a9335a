package presence

import "time"

// Wire payloads pushed to subscribers. The type tag lets clients route
// frames without inspecting the rest of the body.

type UserPayload struct {
	Type     string    `json:"type"`
	UserCode string    `json:"userCode"`
	UserName string    `json:"userName"`
	Lat      float64   `json:"lat"`
	Lng      float64   `json:"lng"`
	Rtt      int64     `json:"rtt"`
	Working  bool      `json:"working"`
	RespTime time.Time `json:"respTime"`
}

func NewUserPayload(p *Presence, now time.Time) UserPayload {
	return UserPayload{
		Type:     "PRESENCE",
		UserCode: p.UserCode,
		UserName: p.UserName,
		Lat:      p.Lat,
		Lng:      p.Lng,
		Rtt:      p.LastPingRtt,
		Working:  p.Working,
		RespTime: now,
	}
}

type LeavePayload struct {
	Type     string    `json:"type"`
	UserCode string    `json:"userCode"`
	RespTime time.Time `json:"respTime"`
}

func NewLeavePayload(userCode string, now time.Time) LeavePayload {
	return LeavePayload{
		Type:     "LEAVE",
		UserCode: userCode,
		RespTime: now,
	}
}

// SnapshotPayload carries the full presence table to one user, for the
// initial render after (re)connect.
type SnapshotPayload struct {
	Type     string        `json:"type"`
	Users    []UserPayload `json:"users"`
	RespTime time.Time     `json:"respTime"`
}

func NewSnapshotPayload(all []*Presence, now time.Time) SnapshotPayload {
	users := make([]UserPayload, 0, len(all))
	for _, p := range all {
		users = append(users, NewUserPayload(p, now))
	}
	return SnapshotPayload{Type: "SNAPSHOT", Users: users, RespTime: now}
}
