package broker

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"trackify-svr/internal/presence"
)

func testHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func timeRef() time.Time { return time.UnixMilli(1_700_000_000_000) }

func recv(t *testing.T, o *Observer) []byte {
	t.Helper()
	select {
	case b := <-o.Events:
		return b
	default:
		t.Fatal("expected a frame, observer buffer empty")
		return nil
	}
}

func TestPublishReachesTopicObservers(t *testing.T) {
	h := testHub()

	o1 := NewObserver("all")
	o2 := NewObserver("all")
	other := NewObserver("ops")
	h.Observe(o1)
	h.Observe(o2)
	h.Observe(other)
	require.Equal(t, 3, h.Observers())

	now := timeRef()
	require.NoError(t, h.Publish("all", presence.NewLeavePayload("u1", now)))

	for _, o := range []*Observer{o1, o2} {
		var got presence.LeavePayload
		require.NoError(t, json.Unmarshal(recv(t, o), &got))
		require.Equal(t, "LEAVE", got.Type)
		require.Equal(t, "u1", got.UserCode)
	}

	select {
	case <-other.Events:
		t.Fatal("observer of another topic received the frame")
	default:
	}
}

func TestPublishUserOnlyReachesBoundObserver(t *testing.T) {
	h := testHub()

	bound := NewObserver("all")
	unbound := NewObserver("all")
	h.Observe(bound)
	h.Observe(unbound)
	h.Bind(bound.ID, "u1")

	p := &presence.Presence{UserCode: "u2", UserName: "Bob"}
	require.NoError(t, h.PublishUser("u1", presence.NewUserPayload(p, timeRef())))

	var got presence.UserPayload
	require.NoError(t, json.Unmarshal(recv(t, bound), &got))
	require.Equal(t, "u2", got.UserCode)

	select {
	case <-unbound.Events:
		t.Fatal("unbound observer received an addressed frame")
	default:
	}
}

func TestPublishNeverBlocksOnFullBuffer(t *testing.T) {
	h := testHub()

	o := NewObserver("all")
	h.Observe(o)

	// overflow the buffer: extra frames are dropped, Publish returns
	for i := 0; i < observerBuffer+10; i++ {
		require.NoError(t, h.Publish("all", presence.NewLeavePayload("u1", timeRef())))
	}
	require.Len(t, o.Events, observerBuffer)
}

func TestForgetStopsDelivery(t *testing.T) {
	h := testHub()

	o := NewObserver("all")
	h.Observe(o)
	h.Forget(o.ID)
	require.Equal(t, 0, h.Observers())

	require.NoError(t, h.Publish("all", presence.NewLeavePayload("u1", timeRef())))
	select {
	case <-o.Events:
		t.Fatal("forgotten observer received a frame")
	default:
	}
}

func TestForgetClosesKill(t *testing.T) {
	h := testHub()

	o := NewObserver("all")
	h.Observe(o)

	select {
	case <-o.Kill:
		t.Fatal("Kill fired before the observer was forgotten")
	default:
	}

	h.Forget(o.ID)
	select {
	case <-o.Kill:
	default:
		t.Fatal("Forget did not close Kill")
	}

	// the session's own teardown may race an external kick
	h.Forget(o.ID)
}

func TestCoordsValid(t *testing.T) {
	cases := []struct {
		lat, lng float64
		want     bool
	}{
		{37.5665, 126.9780, true},
		{0, 0, false},
		{91, 0, false},
		{-91, 0, false},
		{0, 181, false},
		{51.5074, 0, true}, // Greenwich: lng 0 alone is fine
	}
	for _, tc := range cases {
		if got := coordsValid(tc.lat, tc.lng); got != tc.want {
			t.Errorf("coordsValid(%f, %f) = %v, want %v", tc.lat, tc.lng, got, tc.want)
		}
	}
}
