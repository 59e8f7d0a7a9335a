package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"trackify-svr/internal/broker"
	"trackify-svr/internal/catalog"
	"trackify-svr/internal/presence"
)

// Server exposes the websocket endpoint plus the thin REST wrappers
// around catalog data. All presence mutation happens over the socket;
// REST only reads presence (the reconnect snapshot).
type Server struct {
	engine *presence.Engine
	socket *broker.Socket
	cat    *catalog.Catalog
	log    *slog.Logger
}

func New(engine *presence.Engine, socket *broker.Socket, cat *catalog.Catalog, log *slog.Logger) *Server {
	return &Server{engine: engine, socket: socket, cat: cat, log: log}
}

func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.socket.ServeWS)

	mux.HandleFunc("GET /api/presence", s.handlePresenceSnapshot)

	mux.HandleFunc("GET /api/users/{code}", s.handleGetUser)
	mux.HandleFunc("POST /api/users", s.handleRegisterUser)
	mux.HandleFunc("GET /api/cargos", s.handleListCargos)
	mux.HandleFunc("GET /api/cargos/top", s.handleTopCargos)
	mux.HandleFunc("GET /api/products", s.handleListProducts)
	mux.HandleFunc("GET /api/models", s.handleListModels)

	mux.HandleFunc("POST /api/jobs", s.handleRegisterJob)
	mux.HandleFunc("POST /api/jobs/{id}/complete", s.handleCompleteJob)
	mux.HandleFunc("POST /api/jobs/{id}/cancel", s.handleCancelJob)
	mux.HandleFunc("GET /api/jobs/running", s.handleRunningJob)
	mux.HandleFunc("GET /api/jobs/history", s.handleJobHistory)

	return mux
}

// Start blocks serving HTTP on addr.
func (s *Server) Start(addr string) error {
	s.log.Info("HTTP server listening", "addr", addr)
	if err := http.ListenAndServe(addr, s.Routes()); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// presenceView decorates a record with its derived status for clients
// that render before receiving live frames.
type presenceView struct {
	*presence.Presence
	Status presence.Status `json:"status"`
}

func (s *Server) handlePresenceSnapshot(w http.ResponseWriter, r *http.Request) {
	exclude := r.URL.Query().Get("exclude")
	snap, err := s.engine.Snapshot(r.Context(), exclude)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	now := time.Now()
	views := make([]presenceView, 0, len(snap))
	for _, p := range snap {
		views = append(views, presenceView{Presence: p, Status: presence.StatusOf(p, now)})
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.cat.FindUserByCode(r.PathValue("code"))
	if errors.Is(err, catalog.ErrNotFound) {
		s.fail(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleRegisterUser(w http.ResponseWriter, r *http.Request) {
	var u catalog.User
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	if u.UserCode == "" || u.UserName == "" {
		s.fail(w, http.StatusBadRequest, errors.New("userCode and userName are required"))
		return
	}
	id, err := s.cat.SaveUser(u)
	if errors.Is(err, catalog.ErrDuplicate) {
		s.fail(w, http.StatusConflict, err)
		return
	}
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) handleListCargos(w http.ResponseWriter, r *http.Request) {
	cargos, err := s.cat.ListCargos()
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cargos)
}

// topCargoLimit matches the client dashboard, which shows three slots.
const topCargoLimit = 3

func (s *Server) handleTopCargos(w http.ResponseWriter, r *http.Request) {
	top, err := s.cat.TopCargos(topCargoLimit)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, top)
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.cat.ListProducts()
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, products)
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.cat.ListModels()
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, models)
}

type registerJobReq struct {
	UserCode     string `json:"userCode"`
	CargoID      int64  `json:"cargoId"`
	ProductID    int64  `json:"productId"`
	ProductCount int    `json:"productCount"`
	Paths        string `json:"paths"`
}

func (s *Server) handleRegisterJob(w http.ResponseWriter, r *http.Request) {
	var req registerJobReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	id, err := s.cat.RegisterJob(req.UserCode, req.CargoID, req.ProductID, req.ProductCount, req.Paths)
	if errors.Is(err, catalog.ErrNotFound) {
		s.fail(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) handleCompleteJob(w http.ResponseWriter, r *http.Request) {
	s.finishJob(w, r, s.cat.CompleteJob)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	s.finishJob(w, r, s.cat.CancelJob)
}

func (s *Server) finishJob(w http.ResponseWriter, r *http.Request, op func(int64) error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	err = op(id)
	if errors.Is(err, catalog.ErrNotFound) {
		s.fail(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRunningJob(w http.ResponseWriter, r *http.Request) {
	userCode := r.URL.Query().Get("userCode")
	if userCode == "" {
		s.fail(w, http.StatusBadRequest, errors.New("userCode is required"))
		return
	}
	j, err := s.cat.RunningJobByUser(userCode)
	if errors.Is(err, catalog.ErrNotFound) {
		s.fail(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, j)
}

func (s *Server) handleJobHistory(w http.ResponseWriter, r *http.Request) {
	cargoID, err1 := strconv.ParseInt(r.URL.Query().Get("cargoId"), 10, 64)
	productID, err2 := strconv.ParseInt(r.URL.Query().Get("productId"), 10, 64)
	if err1 != nil || err2 != nil {
		s.fail(w, http.StatusBadRequest, errors.New("cargoId and productId are required"))
		return
	}
	jobs, err := s.cat.History(cargoID, productID)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("write response", "error", err)
	}
}

func (s *Server) fail(w http.ResponseWriter, status int, err error) {
	if status >= 500 {
		s.log.Error("request failed", "status", status, "error", err)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
