package broker

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"trackify-svr/internal/observability"
	"trackify-svr/internal/presence"
)

const (
	// Time allowed to write a message to the client.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the client.
	pongWait = 60 * time.Second

	// Send pings to client with this period. Must be less than pongWait.
	pingPeriod = 15 * time.Second

	// Maximum message size allowed from client.
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Frame is the inbound client event envelope. Type routes the frame;
// the remaining fields are read per type.
type Frame struct {
	Type       string  `json:"type"` // CONNECT | MOVE | WORKING | PING | SNAPSHOT | DISCONNECT
	UserCode   string  `json:"userCode"`
	UserName   string  `json:"userName,omitempty"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	Working    bool    `json:"working"`
	ClientTime int64   `json:"clientTime"`
}

// Socket bridges websocket clients to the presence engine: inbound
// frames become engine calls, engine broadcasts flow back out through
// the hub.
type Socket struct {
	hub    *Hub
	engine *presence.Engine
	topic  string
	log    *slog.Logger

	// Validate, when set, gates CONNECT frames on a known userCode so a
	// made-up code cannot pollute the presence table.
	Validate func(userCode string) (bool, error)
}

func NewSocket(hub *Hub, engine *presence.Engine, topic string, log *slog.Logger) *Socket {
	return &Socket{hub: hub, engine: engine, topic: topic, log: log}
}

// ServeWS upgrades the request and runs the client's read/write loops
// until the connection drops.
func (s *Socket) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client
		s.log.Debug("websocket upgrade failed", "error", err)
		return
	}
	observability.WSConnections.Inc()

	st := &stream{
		sock:     s,
		ctx:      r.Context(),
		conn:     conn,
		observer: NewObserver(s.topic),
	}
	st.run()
}

type stream struct {
	sock     *Socket
	ctx      context.Context
	conn     *websocket.Conn
	observer *Observer

	// userCode is written only by the reader loop
	userCode string
}

func (s *stream) run() {
	defer s.conn.Close()

	s.sock.hub.Observe(s.observer)
	defer s.sock.hub.Forget(s.observer.ID)

	stopCtx, cancel := context.WithCancel(context.Background())

	wg := sync.WaitGroup{}
	wg.Add(2)
	go s.hubToClientLoop(cancel, &wg, stopCtx)
	go s.clientToEngineLoop(cancel, &wg)
	wg.Wait()

	// connection gone: the session's user leaves unless a DISCONNECT
	// frame already removed it (disconnect is idempotent either way)
	if s.userCode != "" {
		if err := s.sock.engine.Disconnect(context.Background(), s.userCode, nil, nil); err != nil {
			s.sock.log.Warn("disconnect on socket close failed", "userCode", s.userCode, "error", err)
		}
	}
}

func (s *stream) clientToEngineLoop(cancel context.CancelFunc, wg *sync.WaitGroup) {
	defer func() {
		cancel()
		wg.Done()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.sock.log.Debug("websocket read", "error", err)
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(msg, &f); err != nil {
			s.sock.log.Debug("bad frame", "error", err)
			continue
		}
		s.dispatch(f)
	}
}

func (s *stream) dispatch(f Frame) {
	ctx := s.ctx

	switch f.Type {
	case "CONNECT":
		if f.UserCode == "" || !coordsValid(f.Lat, f.Lng) {
			s.sock.log.Debug("dropping invalid connect", "userCode", f.UserCode)
			return
		}
		if s.sock.Validate != nil {
			ok, err := s.sock.Validate(f.UserCode)
			if err != nil {
				s.sock.log.Warn("connect validation failed", "userCode", f.UserCode, "error", err)
				return
			}
			if !ok {
				s.sock.log.Info("rejecting unknown userCode", "userCode", f.UserCode)
				return
			}
		}
		if _, err := s.sock.engine.Connect(ctx, f.UserCode, f.UserName, f.Lat, f.Lng); err != nil {
			s.sock.log.Warn("connect failed", "userCode", f.UserCode, "error", err)
			return
		}
		s.userCode = f.UserCode
		s.sock.hub.Bind(s.observer.ID, f.UserCode)
		s.sendSnapshot(ctx, f.UserCode)

	case "MOVE":
		if s.userCode == "" || !coordsValid(f.Lat, f.Lng) {
			return
		}
		if _, err := s.sock.engine.UpdateLocation(ctx, s.userCode, f.Lat, f.Lng); err != nil {
			s.sock.log.Warn("move failed", "userCode", s.userCode, "error", err)
		}

	case "WORKING":
		if s.userCode == "" {
			return
		}
		if _, err := s.sock.engine.SetWorking(ctx, s.userCode, f.Working); err != nil {
			s.sock.log.Warn("working failed", "userCode", s.userCode, "error", err)
		}

	case "PING":
		if s.userCode == "" {
			return
		}
		if _, err := s.sock.engine.OnPing(ctx, s.userCode, f.ClientTime); err != nil {
			s.sock.log.Warn("ping failed", "userCode", s.userCode, "error", err)
		}

	case "SNAPSHOT":
		if s.userCode == "" {
			return
		}
		s.sendSnapshot(ctx, s.userCode)

	case "DISCONNECT":
		if s.userCode == "" {
			return
		}
		if err := s.sock.engine.Disconnect(ctx, s.userCode, nil, nil); err != nil {
			s.sock.log.Warn("disconnect failed", "userCode", s.userCode, "error", err)
		}
		s.userCode = ""

	default:
		s.sock.log.Debug("unknown frame type", "type", f.Type)
	}
}

// sendSnapshot pushes the current presence table to the newly connected
// user over its private channel, for the initial map render.
func (s *stream) sendSnapshot(ctx context.Context, userCode string) {
	snap, err := s.sock.engine.Snapshot(ctx, userCode)
	if err != nil {
		s.sock.log.Warn("snapshot failed", "userCode", userCode, "error", err)
		return
	}
	payload := presence.NewSnapshotPayload(snap, time.Now())
	if err := s.sock.hub.PublishUser(userCode, payload); err != nil {
		s.sock.log.Warn("snapshot publish failed", "userCode", userCode, "error", err)
	}
}

func (s *stream) hubToClientLoop(cancel context.CancelFunc, wg *sync.WaitGroup, stopCtx context.Context) {
	defer func() {
		s.conn.Close()
		cancel()
		wg.Done()
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stopCtx.Done():
			return
		case <-s.ctx.Done():
			return
		case <-s.observer.Kill:
			_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case b := <-s.observer.Events:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		}
	}
}

// coordsValid rejects the null island default and out-of-range values.
func coordsValid(lat, lng float64) bool {
	if lat == 0 && lng == 0 {
		return false
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return false
	}
	return true
}
