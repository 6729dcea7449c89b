// Package httpapi is the local dashboard gateway: history, ride request and
// wallet tabs over REST, plus a WebSocket stream of ride snapshots.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-passenger/internal/api"
	"github.com/example/ride-passenger/internal/logging"
	"github.com/example/ride-passenger/internal/models"
	"github.com/example/ride-passenger/internal/ride"
)

// Passenger is the agent surface the gateway serves.
type Passenger interface {
	Session() (models.Session, bool)
	Login(ctx context.Context, req api.LoginRequest) (models.Session, error)
	Register(ctx context.Context, req api.RegisterRequest) (models.Session, error)
	TelegramLogin(ctx context.Context, initData string) (models.Session, error)
	SignOut(ctx context.Context) error
	Wallet(ctx context.Context) (api.WalletView, error)
	TopUp(ctx context.Context, req api.TopUpRequest) (api.WalletUpdate, error)
	Pay(ctx context.Context, req api.PayRequest) (api.WalletUpdate, error)
	Tip(ctx context.Context, req api.TipRequest) (api.WalletUpdate, error)
	History(ctx context.Context, limit int) ([]models.HistoryEntry, error)
	Ride() *ride.Controller
}

// Tab names shown by the dashboard.
const (
	TabHistory = "history"
	TabRequest = "request"
	TabWallet  = "wallet"
)

type Server struct {
	passenger Passenger
	hub       *Hub
	unsub     func()
	mux       *mux.Router
	logger    *slog.Logger
}

func NewServer(p Passenger, logger *slog.Logger) *Server {
	logger = logging.Component(logger, "gateway")
	s := &Server{passenger: p, hub: NewHub(logger), mux: mux.NewRouter(), logger: logger}
	s.unsub = p.Ride().Subscribe(s.hub.Broadcast)
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	v1 := s.mux.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/session", s.handleGetSession).Methods(http.MethodGet)
	v1.HandleFunc("/session", s.handleSignOut).Methods(http.MethodDelete)
	v1.HandleFunc("/session/login", s.handleLogin).Methods(http.MethodPost)
	v1.HandleFunc("/session/register", s.handleRegister).Methods(http.MethodPost)
	v1.HandleFunc("/session/telegram", s.handleTelegram).Methods(http.MethodPost)

	v1.HandleFunc("/tabs/active", s.handleActiveTab).Methods(http.MethodPut)

	v1.HandleFunc("/rides/history", s.handleHistory).Methods(http.MethodGet)

	v1.HandleFunc("/ride", s.handleGetRide).Methods(http.MethodGet)
	v1.HandleFunc("/ride/origin", s.handleSetOrigin).Methods(http.MethodPut)
	v1.HandleFunc("/ride/quote", s.handleQuote).Methods(http.MethodPost)
	v1.HandleFunc("/ride/quote", s.handleDismissQuote).Methods(http.MethodDelete)
	v1.HandleFunc("/ride/confirm", s.handleConfirm).Methods(http.MethodPost)
	v1.HandleFunc("/ride/cancel", s.handleCancel).Methods(http.MethodPost)
	v1.HandleFunc("/ride/ack", s.handleAcknowledge).Methods(http.MethodPost)

	v1.HandleFunc("/wallet", s.handleWallet).Methods(http.MethodGet)
	v1.HandleFunc("/wallet/topup", s.handleTopUp).Methods(http.MethodPost)
	v1.HandleFunc("/wallet/pay", s.handlePay).Methods(http.MethodPost)
	v1.HandleFunc("/wallet/tip", s.handleTip).Methods(http.MethodPost)

	s.mux.HandleFunc("/ws/ride", s.handleRideStream).Methods(http.MethodGet)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// Close detaches from the controller and drops every UI stream.
func (s *Server) Close() {
	if s.unsub != nil {
		s.unsub()
	}
	s.hub.Close()
}

type sessionResponse struct {
	SignedIn bool                `json:"signedIn"`
	User     *models.UserSummary `json:"user,omitempty"`
}

func sessionView(sess models.Session, ok bool) sessionResponse {
	if !ok {
		return sessionResponse{}
	}
	u := sess.User
	return sessionResponse{SignedIn: true, User: &u}
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionView(s.passenger.Session()))
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if err := s.passenger.SignOut(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req api.LoginRequest
	if err := readJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.passenger.Login(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionView(sess, true))
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterRequest
	if err := readJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.passenger.Register(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionView(sess, true))
}

func (s *Server) handleTelegram(w http.ResponseWriter, r *http.Request) {
	var req api.TelegramRequest
	if err := readJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := api.Validate(req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.passenger.TelegramLogin(r.Context(), req.InitData)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionView(sess, true))
}

type tabRequest struct {
	Tab string `json:"tab" validate:"required,oneof=history request wallet"`
}

// handleActiveTab suspends origin updates while the request tab is hidden.
func (s *Server) handleActiveTab(w http.ResponseWriter, r *http.Request) {
	var req tabRequest
	if err := readJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := api.Validate(req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.passenger.Ride().SetTabActive(req.Tab == TabRequest)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, r, validationMsg("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	entries, err := s.passenger.History(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rides": entries})
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.passenger.Ride().Snapshot())
}

type coordinateRequest struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `json:"lng" validate:"gte=-180,lte=180"`
}

func (c coordinateRequest) coordinate() models.Coordinate {
	return models.Coordinate{Lat: c.Lat, Lng: c.Lng}
}

func (s *Server) handleSetOrigin(w http.ResponseWriter, r *http.Request) {
	var req coordinateRequest
	if err := readJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := api.Validate(req); err != nil {
		s.writeError(w, r, err)
		return
	}
	accepted := s.passenger.Ride().SetOrigin(req.coordinate())
	writeJSON(w, http.StatusOK, map[string]bool{"accepted": accepted})
}

type quoteRequest struct {
	Destination coordinateRequest `json:"destination"`
	Label       string            `json:"label" validate:"max=200"`
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := readJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := api.Validate(req); err != nil {
		s.writeError(w, r, err)
		return
	}
	q, err := s.passenger.Ride().SelectDestination(r.Context(), req.Destination.coordinate(), req.Label)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleDismissQuote(w http.ResponseWriter, r *http.Request) {
	s.passenger.Ride().Dismiss()
	writeJSON(w, http.StatusOK, s.passenger.Ride().Snapshot())
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	rd, err := s.passenger.Ride().Confirm(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, rd)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.passenger.Ride().Cancel(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	s.passenger.Ride().Acknowledge()
	writeJSON(w, http.StatusOK, s.passenger.Ride().Snapshot())
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	v, err := s.passenger.Wallet(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if v.Transactions == nil {
		v.Transactions = []models.Transaction{}
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleTopUp(w http.ResponseWriter, r *http.Request) {
	var req api.TopUpRequest
	if err := readJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	up, err := s.passenger.TopUp(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, up)
}

func (s *Server) handlePay(w http.ResponseWriter, r *http.Request) {
	var req api.PayRequest
	if err := readJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	up, err := s.passenger.Pay(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, up)
}

func (s *Server) handleTip(w http.ResponseWriter, r *http.Request) {
	var req api.TipRequest
	if err := readJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	up, err := s.passenger.Tip(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, up)
}

// the UI is served from the same origin as the gateway
var upgrader = websocket.Upgrader{}

// handleRideStream pushes the current snapshot, then every later one, until
// the view disconnects.
func (s *Server) handleRideStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ui stream upgrade failed", "error", err)
		return
	}
	id := uuid.NewString()
	if err := s.hub.Add(id, conn, s.passenger.Ride().Snapshot()); err != nil {
		return
	}
	defer s.hub.Remove(id)
	for {
		// views never send anything meaningful; reading detects the close
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
