// Package gateway exposes the dialog over HTTP so any chat transport can drive it.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/samvad-hq/samvad-notifier/internal/dialog"
	"github.com/samvad-hq/samvad-notifier/internal/domain"
	"github.com/samvad-hq/samvad-notifier/internal/logger"
)

const maxBodyBytes = 64 << 10

// DialogHandler consumes chat messages; *dialog.Manager implements it.
type DialogHandler interface {
	Handle(ctx context.Context, msg dialog.Message) (dialog.Reply, error)
}

// SubscriptionLister backs the read-only listing endpoint.
type SubscriptionLister interface {
	ListSubscriptions(ctx context.Context, subscriber string, scope domain.Scope) ([]domain.Subscription, error)
}

// NewHandler routes:
//
//	POST /v1/dialog         one chat message in, dialog reply out
//	GET  /v1/subscriptions  ?subscriber=&scope=
//	GET  /healthz
func NewHandler(d DialogHandler, subs SubscriptionLister, log logger.Logger) http.Handler {
	h := &handler{dialog: d, subs: subs, log: logger.Ensure(log)}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/dialog", h.handleDialog)
	mux.HandleFunc("GET /v1/subscriptions", h.handleSubscriptions)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

type handler struct {
	dialog DialogHandler
	subs   SubscriptionLister
	log    logger.Logger
}

type errorBody struct {
	Error string `json:"error"`
}

func (h *handler) handleDialog(w http.ResponseWriter, r *http.Request) {
	var msg dialog.Message
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&msg); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid message: " + err.Error()})
		return
	}
	if strings.TrimSpace(msg.ChatID) == "" || strings.TrimSpace(msg.UserID) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "chat_id and user_id are required"})
		return
	}
	msg.Scope = domain.ParseScope(string(msg.Scope))

	reply, err := h.dialog.Handle(r.Context(), msg)
	if err != nil {
		h.log.ErrorObj("dialog message failed", "gateway_error", map[string]any{
			"chat":  msg.ChatID,
			"user":  msg.UserID,
			"error": err.Error(),
		})
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "dialog failed"})
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (h *handler) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	if h.subs == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "listing disabled"})
		return
	}
	subscriber := strings.TrimSpace(r.URL.Query().Get("subscriber"))
	if subscriber == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "subscriber is required"})
		return
	}
	subs, err := h.subs.ListSubscriptions(r.Context(), subscriber, domain.ParseScope(r.URL.Query().Get("scope")))
	if err != nil {
		h.log.ErrorObj("list subscriptions failed", "gateway_error", map[string]any{
			"subscriber": subscriber,
			"error":      err.Error(),
		})
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "listing failed"})
		return
	}
	if subs == nil {
		subs = []domain.Subscription{}
	}
	writeJSON(w, http.StatusOK, subs)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Server runs the gateway until its context ends.
type Server struct {
	srv *http.Server
	log logger.Logger
}

// NewServer binds handler to addr.
func NewServer(addr string, handler http.Handler, log logger.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
		},
		log: logger.Ensure(log),
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.InfoObj("gateway listening", "gateway", map[string]any{"addr": s.srv.Addr})
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
