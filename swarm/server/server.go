// Package server serves the peer-to-peer HTTP API of a node.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"eventnode/datamodel/event"
	"eventnode/datamodel/peer"
	"eventnode/metrics"
	"eventnode/swarm/fetch"
	"eventnode/swarm/protocol"

	log "github.com/sirupsen/logrus"
)

// Backend is the node state exposed to peers.
type Backend interface {
	Greet(ctx context.Context, isClient bool, addr string) uint64
	Peers() []peer.Peer
	EventPage(fromSpend, fromSent, length uint64) ([]event.SpendEvent, []event.SentEvent, error)
}

type Server struct {
	backend  Backend
	listener net.Listener
	server   *http.Server
}

// New starts listening on listenAddr. Requests are served once Serve is called.
func New(listenAddr string, backend Backend, withMetrics bool) (*Server, error) {
	l, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, err
	}

	srv := &Server{
		backend:  backend,
		listener: l,
	}
	srv.server = &http.Server{
		Handler:           srv.Handler(withMetrics),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv, nil
}

func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Handler routes the peer endpoints, plus /metrics when withMetrics is set.
func (s *Server) Handler(withMetrics bool) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+protocol.PathHandshake, s.handshake)
	mux.HandleFunc("GET "+protocol.PathGetPeers, s.getPeers)
	mux.HandleFunc("GET "+protocol.PathEvents, s.events)
	if withMetrics {
		mux.Handle("GET /metrics", metrics.Handler())
	}
	return mux
}

// Serve blocks until ctx is cancelled, then shuts the server down.
func (s *Server) Serve(ctx context.Context) error {
	log.Infof("Serving peer API on %s", s.listener.Addr())

	errc := make(chan error, 1)
	go func() {
		errc <- s.server.Serve(s.listener)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Failed to shut down peer API: %v", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}

func (s *Server) handshake(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	isClient := true
	if v := q.Get(protocol.ParamIsClient); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, "invalid "+protocol.ParamIsClient, http.StatusBadRequest)
			return
		}
		isClient = b
	}
	addr := q.Get(protocol.ParamAddr)

	log.Debugf("Handshake from %s (client: %t, addr: %q)", r.RemoteAddr, isClient, addr)
	writeJSON(w, &protocol.HandshakeResponse{
		CurrentBlockNumber: s.backend.Greet(r.Context(), isClient, addr),
	})
}

func (s *Server) getPeers(w http.ResponseWriter, r *http.Request) {
	peers := s.backend.Peers()
	if peers == nil {
		peers = []peer.Peer{}
	}
	writeJSON(w, &protocol.GetPeersResponse{Peers: peers})
}

func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	fromSpend, err := uintParam(q.Get(protocol.ParamFromSpend), 0)
	if err != nil {
		http.Error(w, "invalid "+protocol.ParamFromSpend, http.StatusBadRequest)
		return
	}
	fromSent, err := uintParam(q.Get(protocol.ParamFromSent), 0)
	if err != nil {
		http.Error(w, "invalid "+protocol.ParamFromSent, http.StatusBadRequest)
		return
	}
	length, err := uintParam(q.Get(protocol.ParamLength), fetch.DefaultPageSize)
	if err != nil {
		http.Error(w, "invalid "+protocol.ParamLength, http.StatusBadRequest)
		return
	}
	length = min(length, protocol.MaxEventsLength)

	spend, sent, err := s.backend.EventPage(fromSpend, fromSent, length)
	if err != nil {
		log.Errorf("Events page (spend %d, sent %d, length %d) failed: %v", fromSpend, fromSent, length, err)
		http.Error(w, "events unavailable", http.StatusServiceUnavailable)
		return
	}

	if spend == nil {
		spend = []event.SpendEvent{}
	}
	if sent == nil {
		sent = []event.SentEvent{}
	}
	writeJSON(w, &protocol.GetEventsResponse{SpendEvents: spend, SentEvents: sent})
}

func uintParam(v string, def uint64) (uint64, error) {
	if v == "" {
		return def, nil
	}
	return strconv.ParseUint(v, 10, 64)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("Failed to write response: %v", err)
	}
}
