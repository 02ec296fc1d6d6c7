// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: LGPL-3.0-or-later

// Package server wires the directory, router, connection-session state
// machine, neighbour linker, admission, health, and metrics components
// together behind an HTTP mux, leaving protocol logic to those packages
// rather than implementing it inline.
package server

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/chatmesh/neighbourhood/config"
	"github.com/chatmesh/neighbourhood/crypto/envelope"
	"github.com/chatmesh/neighbourhood/crypto/keys"
	"github.com/chatmesh/neighbourhood/directory"
	"github.com/chatmesh/neighbourhood/health"
	"github.com/chatmesh/neighbourhood/internal/logger"
	"github.com/chatmesh/neighbourhood/internal/metrics"
	"github.com/chatmesh/neighbourhood/replay"
	"github.com/chatmesh/neighbourhood/server/admission"
	"github.com/chatmesh/neighbourhood/server/conn"
	"github.com/chatmesh/neighbourhood/server/neighbour"
	"github.com/chatmesh/neighbourhood/server/router"
	"github.com/chatmesh/neighbourhood/store/pgneighbour"
	"github.com/chatmesh/neighbourhood/transport/ws"
	"github.com/chatmesh/neighbourhood/wire"
)

// Server hosts one chatmesh neighbourhood node: it accepts client and
// neighbour WebSocket connections, routes frames between them, and dials
// out to its own configured neighbours.
type Server struct {
	cfg  config.ServerConfig
	priv *rsa.PrivateKey
	pub  *rsa.PublicKey

	dir         *directory.Directory
	rtr         *router.Router
	replayGuard *replay.Guard // keyed by client PEM or neighbour URI
	admission   *admission.Verifier
	health      *health.HealthChecker
	dialer      neighbour.Dialer
	log         logger.Logger
	registry    *pgneighbour.Store // nil unless cfg.Registry.Enabled
}

// New builds a Server from cfg and this server's own identity key pair.
// It loads each configured neighbour's public key from disk and registers
// it in the directory.
func New(cfg config.ServerConfig, priv *rsa.PrivateKey, pub *rsa.PublicKey) (*Server, error) {
	dir := directory.New(cfg.ServerURI)

	for _, n := range cfg.Neighbours {
		pemBytes, err := os.ReadFile(n.PublicKeyPath)
		if err != nil {
			return nil, fmt.Errorf("reading neighbour %s public key: %w", n.URI, err)
		}
		neighbourPub, err := keys.ImportPublicPEM(pemBytes)
		if err != nil {
			return nil, fmt.Errorf("parsing neighbour %s public key: %w", n.URI, err)
		}
		dir.AddNeighbour(n.URI, neighbourPub)
	}

	var registry *pgneighbour.Store
	if cfg.Registry.Enabled {
		store, err := pgneighbour.NewStoreWithDSN(context.Background(), cfg.Registry.DSN)
		if err != nil {
			return nil, fmt.Errorf("connecting neighbour registry: %w", err)
		}
		persisted, err := store.List(context.Background())
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("listing persisted neighbours: %w", err)
		}
		for _, d := range persisted {
			if _, ok := dir.Neighbour(d.URI); ok {
				continue
			}
			neighbourPub, err := keys.ImportPublicPEM([]byte(d.PublicKey))
			if err != nil {
				store.Close()
				return nil, fmt.Errorf("parsing persisted neighbour %s public key: %w", d.URI, err)
			}
			dir.AddNeighbour(d.URI, neighbourPub)
		}
		registry = store
	}

	var verifier *admission.Verifier
	dialer := ws.NewDialer()
	if cfg.Admission.Enabled {
		uris := make([]string, 0, len(cfg.Neighbours))
		for _, n := range cfg.Neighbours {
			uris = append(uris, n.URI)
		}
		verifier = admission.NewVerifier([]byte(cfg.Admission.SigningKey), cfg.Admission.AllowedSkew, uris)

		issuer := admission.NewIssuer([]byte(cfg.Admission.SigningKey), cfg.Admission.TokenTTL)
		dialer.BearerToken = func() (string, error) { return issuer.Issue(cfg.ServerURI) }
	}

	hc := health.NewHealthChecker(cfg.Health.CheckTimeout)
	hc.SetCacheTTL(cfg.Health.CacheTTL)
	hc.RegisterCheck("directory", health.DirectoryHealthCheck(func() error { dir.Snapshot(); return nil }))
	hc.RegisterCheck("neighbour_links", health.NeighbourLinksHealthCheck(dir.NeighbourDialStats))
	if registry != nil {
		hc.RegisterCheck("neighbour_registry", health.DatabaseHealthCheck(registry.Ping))
	}

	s := &Server{
		cfg:         cfg,
		priv:        priv,
		pub:         pub,
		dir:         dir,
		rtr:         router.New(dir, cfg.ServerURI),
		replayGuard: replay.NewGuard(),
		admission:   verifier,
		health:      hc,
		dialer:      dialer,
		log:         logger.NewSampledLogger(logger.GetDefaultLogger(), 10*time.Second),
		registry:    registry,
	}
	return s, nil
}

// Mux builds the HTTP handler tree: client and neighbour WebSocket
// upgrades, Prometheus metrics, and health/readiness endpoints.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/ws", ws.NewUpgrader(func(ctx context.Context, c *ws.Conn) {
		s.serveConn(ctx, c, false)
	}).Handler())

	mux.HandleFunc("/ws/neighbour", func(w http.ResponseWriter, r *http.Request) {
		if s.admission != nil {
			if _, err := s.admission.RequireBearer(r); err != nil {
				http.Error(w, "admission denied: "+err.Error(), http.StatusUnauthorized)
				return
			}
		}
		ws.NewUpgrader(func(ctx context.Context, c *ws.Conn) {
			s.serveConn(ctx, c, true)
		}).Handler().ServeHTTP(w, r)
	})

	if s.cfg.Metrics.Enabled {
		mux.Handle(s.cfg.Metrics.Path, metrics.Handler())
	}
	mux.HandleFunc(s.cfg.Health.Path, s.handleLiveness)
	mux.HandleFunc(s.cfg.Health.ReadyPath, s.handleReadiness)

	return mux
}

// RunNeighbourLinks starts dialing every configured neighbour and blocks
// until ctx is cancelled; with no neighbours configured it returns nil at
// once.
func (s *Server) RunNeighbourLinks(ctx context.Context) error {
	linker := neighbour.New(s.dialer, s.dir, s.cfg.ServerURI, s.priv, s.handleNeighbourFrame)
	return linker.Run(ctx)
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	status := s.health.GetOverallStatus(r.Context())
	if status != health.StatusHealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_, _ = w.Write([]byte(fmt.Sprintf(`{"status":%q}`, status)))
}

// serveConn runs one inbound connection's lifetime: it resolves the
// session's role from its first frame, then dispatches every subsequent
// frame by that role until the transport closes.
func (s *Server) serveConn(ctx context.Context, c *ws.Conn, neighbourSocket bool) {
	connID := uuid.NewString()
	log := s.log.WithContext(logger.WithConnID(ctx, connID))

	session := conn.New(c)
	defer s.teardown(session)

	for {
		raw, err := c.Recv()
		if err != nil {
			return
		}
		frame, err := wire.Parse(raw)
		if err != nil {
			log.Warn("malformed inbound frame", logger.Error(err))
			continue
		}
		s.dispatch(session, raw, frame, neighbourSocket)
	}
}

func (s *Server) teardown(session *conn.Session) {
	switch session.State() {
	case conn.StateClient:
		if pem, ok := session.ClientPEM(); ok {
			s.dir.RemoveLocal(pem)
			s.replayGuard.Forget(pem)
			metrics.LocalClientsActive.Dec()
			metrics.ConnectionsClosed.WithLabelValues("client", "transport_closed").Inc()
			s.broadcastClientUpdate()
		}
	case conn.StateNeighbour:
		if uri, ok := session.NeighbourURI(); ok {
			s.dir.SetOutbound(uri, nil)
			s.replayGuard.Forget(uri)
			metrics.NeighbourLinksActive.WithLabelValues("inbound").Dec()
			metrics.ConnectionsClosed.WithLabelValues("neighbour", "transport_closed").Inc()
		}
	}
	_ = session.Close()
}

func (s *Server) dispatch(session *conn.Session, raw []byte, frame interface{}, neighbourSocket bool) {
	switch session.State() {
	case conn.StateInit:
		s.dispatchInit(session, frame, neighbourSocket)
	case conn.StateClient:
		s.dispatchClient(session, raw, frame)
	case conn.StateNeighbour:
		s.dispatchNeighbour(session, raw, frame)
	}
}

// dispatchInit resolves an INIT session's role from its first signed frame.
// neighbourSocket pins which role is reachable on this connection: a hello
// on /ws/neighbour and a server_hello on /ws are both rejected, so a
// client's key can never be admitted as a neighbour link or vice versa.
func (s *Server) dispatchInit(session *conn.Session, frame interface{}, neighbourSocket bool) {
	sd, ok := frame.(*wire.SignedData)
	if !ok {
		_ = session.Close()
		return
	}

	switch data := sd.Data.(type) {
	case *wire.HelloData:
		if neighbourSocket {
			_ = session.Close()
			return
		}
		clientKey, err := keys.ImportPublicPEM([]byte(data.PublicKey))
		if err != nil || !envelope.Verify(data, sd.Counter, sd.Signature, clientKey) {
			metrics.SignatureFailures.WithLabelValues("hello").Inc()
			_ = session.Close()
			return
		}
		if err := session.BecomeClient(data.PublicKey, clientKey); err != nil {
			_ = session.Close()
			return
		}
		s.dir.AddLocal(data.PublicKey, session)
		s.replayGuard.Accept(data.PublicKey, sd.Counter)
		metrics.LocalClientsActive.Inc()
		s.broadcastClientUpdate()

	case *wire.ServerHelloData:
		if !neighbourSocket {
			_ = session.Close()
			return
		}
		n, ok := s.dir.Neighbour(data.Sender)
		if !ok {
			_ = session.Close()
			return
		}
		if !envelope.Verify(data, sd.Counter, sd.Signature, n.PublicKey) {
			metrics.SignatureFailures.WithLabelValues("server_hello").Inc()
			_ = session.Close()
			return
		}
		if !s.replayGuard.Check(data.Sender, sd.Counter) {
			metrics.ReplayRejections.Inc()
			_ = session.Close()
			return
		}
		if err := session.BecomeNeighbour(data.Sender); err != nil {
			_ = session.Close()
			return
		}
		s.dir.SetOutbound(data.Sender, session)
		s.replayGuard.Accept(data.Sender, sd.Counter)
		metrics.NeighbourLinksActive.WithLabelValues("inbound").Inc()
		s.recordNeighbourSeen(data.Sender, n.PublicKey)

	default:
		_ = session.Close()
	}
}

func (s *Server) dispatchClient(session *conn.Session, raw []byte, frame interface{}) {
	pem, _ := session.ClientPEM()
	clientKey, _ := session.ClientKey()

	switch f := frame.(type) {
	case *wire.SignedData:
		if !s.verifyAndAdvance(pem, clientKey, f) {
			_ = session.Close()
			return
		}
		switch data := f.Data.(type) {
		case *wire.ChatData:
			s.teardownFailedTargets(s.rtr.RouteChat(router.OriginClient, raw, data))
		case *wire.PublicChatData:
			s.teardownFailedTargets(s.rtr.RoutePublicChat(router.OriginClient, raw))
		default:
			_ = session.Close()
		}
	case *wire.ClientListRequest:
		s.replyFrame(session, s.rtr.ClientListSnapshot())
	default:
		_ = session.Close()
	}
}

func (s *Server) dispatchNeighbour(session *conn.Session, raw []byte, frame interface{}) {
	uri, _ := session.NeighbourURI()

	switch f := frame.(type) {
	case *wire.SignedData:
		switch data := f.Data.(type) {
		case *wire.ChatData:
			s.teardownFailedTargets(s.rtr.RouteChat(router.OriginNeighbour, raw, data))
		case *wire.PublicChatData:
			s.teardownFailedTargets(s.rtr.RoutePublicChat(router.OriginNeighbour, raw))
		default:
			_ = session.Close()
		}
	case *wire.ClientUpdate:
		s.rtr.ApplyClientUpdate(uri, f)
	case *wire.ClientUpdateRequest:
		s.replyFrame(session, s.rtr.ClientUpdateReply())
	default:
		_ = session.Close()
	}
}

// handleNeighbourFrame processes a frame received on an outbound neighbour
// link (the linker's reader loop), with the same validation as an inbound
// NEIGHBOUR session.
func (s *Server) handleNeighbourFrame(uri string, raw []byte, frame interface{}) {
	switch f := frame.(type) {
	case *wire.SignedData:
		switch data := f.Data.(type) {
		case *wire.ChatData:
			s.teardownFailedTargets(s.rtr.RouteChat(router.OriginNeighbour, raw, data))
		case *wire.PublicChatData:
			s.teardownFailedTargets(s.rtr.RoutePublicChat(router.OriginNeighbour, raw))
		}
	case *wire.ClientUpdate:
		s.rtr.ApplyClientUpdate(uri, f)
	}
}

// verifyAndAdvance checks a CLIENT session's signed frame against its
// announced key and replay counter, accepting the counter only once both
// checks pass.
func (s *Server) verifyAndAdvance(pem string, clientKey *rsa.PublicKey, sd *wire.SignedData) bool {
	if !s.replayGuard.Check(pem, sd.Counter) {
		metrics.ReplayRejections.Inc()
		s.log.Warn("rejected replayed or out-of-order counter", logger.String("pem", pem))
		return false
	}
	if !envelope.Verify(sd.Data, sd.Counter, sd.Signature, clientKey) {
		metrics.SignatureFailures.WithLabelValues("chat").Inc()
		s.log.Warn("rejected frame with invalid signature", logger.String("pem", pem))
		return false
	}
	s.replayGuard.Accept(pem, sd.Counter)
	return true
}

func (s *Server) replyFrame(session *conn.Session, frame interface{}) {
	raw, err := wire.Emit(frame)
	if err != nil {
		s.log.Warn("failed to emit reply frame", logger.Error(err))
		return
	}
	if err := session.Send(raw); err != nil {
		s.log.Warn("failed to send reply frame", logger.Error(err))
	}
}

func (s *Server) broadcastClientUpdate() {
	update := s.rtr.ClientUpdateReply()
	raw, err := wire.Emit(update)
	if err != nil {
		s.log.Warn("failed to emit client_update", logger.Error(err))
		return
	}
	for _, entry := range s.dir.LiveNeighbourEntries() {
		_ = entry.Conn.Send(raw)
	}
}

// teardownFailedTargets closes and removes every connection a fan-out
// write failed on, so a dead socket is never retried on the next frame.
// Closing the connection also unblocks its own owning read loop (serveConn
// for a local client or inbound neighbour session, Linker.maintain for an
// outbound neighbour dial), which performs the matching metrics
// decrement/ConnectionsClosed accounting exactly once; this method only
// clears the directory/replay state eagerly so a concurrent fan-out never
// retries the same dead target before that read loop notices.
func (s *Server) teardownFailedTargets(failures []router.FailedTarget) {
	for _, f := range failures {
		switch {
		case f.LocalPEM != "":
			if c, ok := s.dir.LocalConn(f.LocalPEM); ok {
				_ = c.Close()
			}
			s.dir.RemoveLocal(f.LocalPEM)
			s.replayGuard.Forget(f.LocalPEM)
		case f.NeighbourURI != "":
			if n, ok := s.dir.Neighbour(f.NeighbourURI); ok && n.Outbound != nil {
				_ = n.Outbound.Close()
			}
			s.dir.SetOutbound(f.NeighbourURI, nil)
			s.replayGuard.Forget(f.NeighbourURI)
		}
	}
}

// recordNeighbourSeen persists a freshly-admitted neighbour link's last-seen
// timestamp to the durable registry, if one is configured. Failures are
// logged rather than returned: a registry write never blocks admission.
func (s *Server) recordNeighbourSeen(uri string, pubKey *rsa.PublicKey) {
	if s.registry == nil {
		return
	}
	pemBytes, err := keys.ExportPublicPEM(pubKey)
	if err != nil {
		s.log.Warn("failed to encode neighbour public key for registry", logger.Error(err))
		return
	}
	if err := s.registry.UpsertSeen(context.Background(), uri, string(pemBytes), time.Now()); err != nil {
		s.log.Warn("failed to record neighbour in registry", logger.String("uri", uri), logger.Error(err))
	}
}

// Close releases resources held outside of a connection's lifetime, such
// as the durable neighbour registry's connection pool.
func (s *Server) Close() {
	if s.registry != nil {
		s.registry.Close()
	}
}
