package broker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"trackify-svr/internal/presence"
	"trackify-svr/internal/store"
)

// dispatch can be exercised without a live websocket: it only touches
// the engine, the hub and the stream's observer.
func newTestStream(t *testing.T) (*stream, *Hub, *presence.Engine) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(log)
	engine := presence.New(store.NewMemory(), hub, nil, log, presence.Options{})
	sock := NewSocket(hub, engine, presence.DefaultTopic, log)

	st := &stream{
		sock:     sock,
		ctx:      context.Background(),
		observer: NewObserver(presence.DefaultTopic),
	}
	hub.Observe(st.observer)
	return st, hub, engine
}

func frames(t *testing.T, o *Observer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for {
		select {
		case b := <-o.Events:
			var m map[string]any
			require.NoError(t, json.Unmarshal(b, &m))
			out = append(out, m)
		default:
			return out
		}
	}
}

func TestDispatchConnectBindsAndSendsSnapshot(t *testing.T) {
	st, _, engine := newTestStream(t)
	ctx := context.Background()

	// someone else is already around
	_, err := engine.Connect(ctx, "u9", "Ida", 35.0, 129.0)
	require.NoError(t, err)
	frames(t, st.observer) // drain their connect broadcast

	st.dispatch(Frame{Type: "CONNECT", UserCode: "u1", UserName: "Alice", Lat: 37.0, Lng: 127.0})
	require.Equal(t, "u1", st.userCode)

	got := frames(t, st.observer)
	require.Len(t, got, 2, "own presence broadcast plus addressed snapshot")
	require.Equal(t, "PRESENCE", got[0]["type"])
	require.Equal(t, "SNAPSHOT", got[1]["type"])

	users := got[1]["users"].([]any)
	require.Len(t, users, 1)
	require.Equal(t, "u9", users[0].(map[string]any)["userCode"])
}

func TestDispatchRejectsInvalidConnect(t *testing.T) {
	st, _, engine := newTestStream(t)

	st.dispatch(Frame{Type: "CONNECT", UserCode: "", Lat: 37.0, Lng: 127.0})
	st.dispatch(Frame{Type: "CONNECT", UserCode: "u1", Lat: 0, Lng: 0})
	st.dispatch(Frame{Type: "CONNECT", UserCode: "u1", Lat: 91, Lng: 127.0})
	require.Empty(t, st.userCode)

	snap, err := engine.Snapshot(context.Background(), "")
	require.NoError(t, err)
	require.Empty(t, snap)
}

func TestDispatchValidatorGatesConnect(t *testing.T) {
	st, _, _ := newTestStream(t)
	st.sock.Validate = func(userCode string) (bool, error) {
		if userCode == "u1" {
			return true, nil
		}
		return false, nil
	}

	st.dispatch(Frame{Type: "CONNECT", UserCode: "intruder", Lat: 37.0, Lng: 127.0})
	require.Empty(t, st.userCode)

	st.dispatch(Frame{Type: "CONNECT", UserCode: "u1", UserName: "Alice", Lat: 37.0, Lng: 127.0})
	require.Equal(t, "u1", st.userCode)

	st.sock.Validate = func(string) (bool, error) { return false, errors.New("db down") }
	st2 := &stream{sock: st.sock, ctx: context.Background(), observer: NewObserver(presence.DefaultTopic)}
	st2.dispatch(Frame{Type: "CONNECT", UserCode: "u1", Lat: 37.0, Lng: 127.0})
	require.Empty(t, st2.userCode, "validation errors drop the frame")
}

func TestDispatchMoveWorkingPing(t *testing.T) {
	st, _, engine := newTestStream(t)
	ctx := context.Background()

	// frames before CONNECT are ignored
	st.dispatch(Frame{Type: "MOVE", Lat: 37.0, Lng: 127.0})
	snap, err := engine.Snapshot(ctx, "")
	require.NoError(t, err)
	require.Empty(t, snap)

	st.dispatch(Frame{Type: "CONNECT", UserCode: "u1", UserName: "Alice", Lat: 37.0, Lng: 127.0})

	st.dispatch(Frame{Type: "MOVE", Lat: 37.001, Lng: 127.0})
	st.dispatch(Frame{Type: "WORKING", Working: true})
	st.dispatch(Frame{Type: "PING", ClientTime: 12345})

	snap, err = engine.Snapshot(ctx, "")
	require.NoError(t, err)
	require.Len(t, snap, 1)
	require.Equal(t, 37.001, snap[0].Lat)
	require.True(t, snap[0].Working)
}

func TestDispatchSnapshotRefreshesTable(t *testing.T) {
	st, _, engine := newTestStream(t)
	ctx := context.Background()

	// a SNAPSHOT from an unbound session goes nowhere
	st.dispatch(Frame{Type: "SNAPSHOT"})
	require.Empty(t, frames(t, st.observer))

	_, err := engine.Connect(ctx, "u9", "Ida", 35.0, 129.0)
	require.NoError(t, err)
	st.dispatch(Frame{Type: "CONNECT", UserCode: "u1", UserName: "Alice", Lat: 37.0, Lng: 127.0})
	frames(t, st.observer) // drain connect traffic

	st.dispatch(Frame{Type: "SNAPSHOT"})
	got := frames(t, st.observer)
	require.Len(t, got, 1)
	require.Equal(t, "SNAPSHOT", got[0]["type"])
	users := got[0]["users"].([]any)
	require.Len(t, users, 1)
	require.Equal(t, "u9", users[0].(map[string]any)["userCode"])
}

func TestDispatchDisconnect(t *testing.T) {
	st, _, engine := newTestStream(t)
	ctx := context.Background()

	st.dispatch(Frame{Type: "CONNECT", UserCode: "u1", UserName: "Alice", Lat: 37.0, Lng: 127.0})
	st.dispatch(Frame{Type: "DISCONNECT"})
	require.Empty(t, st.userCode)

	snap, err := engine.Snapshot(ctx, "")
	require.NoError(t, err)
	require.Empty(t, snap)
}
