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

// Package neighbour dials and maintains outbound links to configured
// neighbour servers, announcing this server with a signed server_hello on
// every successful connect and reconnecting with a fixed backoff on loss
// of connection, grounded on the dial-with-timeout/background-reader
// pattern of a persistent WebSocket transport client.
package neighbour

import (
	"context"
	"crypto/rsa"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chatmesh/neighbourhood/crypto/envelope"
	"github.com/chatmesh/neighbourhood/directory"
	"github.com/chatmesh/neighbourhood/internal/logger"
	"github.com/chatmesh/neighbourhood/internal/metrics"
	"github.com/chatmesh/neighbourhood/wire"
)

// DefaultReconnectBackoff is the fixed delay between reconnect attempts.
// Unbounded retry is acceptable; there is no backoff escalation.
const DefaultReconnectBackoff = 3 * time.Second

// Conn is an established outbound link to a neighbour.
type Conn interface {
	Send(frame []byte) error
	Recv() ([]byte, error)
	Close() error
}

// Dialer establishes a Conn to a neighbour URI.
type Dialer interface {
	Dial(ctx context.Context, uri string) (Conn, error)
}

// FrameHandler processes a frame received on an outbound neighbour link,
// treated with the same validation as an inbound NEIGHBOUR session.
type FrameHandler func(neighbourURI string, raw []byte, frame interface{})

// Linker owns the reconnect loop for every configured neighbour.
type Linker struct {
	dialer   Dialer
	dir      *directory.Directory
	selfURI  string
	selfKey  *rsa.PrivateKey
	handler  FrameHandler
	backoff  time.Duration
	log      logger.Logger
}

// New creates a Linker for the neighbours already registered in dir.
func New(dialer Dialer, dir *directory.Directory, selfURI string, selfKey *rsa.PrivateKey, handler FrameHandler) *Linker {
	return &Linker{
		dialer:  dialer,
		dir:     dir,
		selfURI: selfURI,
		selfKey: selfKey,
		handler: handler,
		backoff: DefaultReconnectBackoff,
		log:     logger.GetDefaultLogger(),
	}
}

// Run dials and maintains every configured neighbour concurrently,
// returning once ctx is cancelled. Each maintain loop retries every
// failure and returns only ctx's error; with no neighbours configured, Run
// returns nil at once.
func (l *Linker) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, n := range l.dir.Neighbours() {
		uri := n.URI
		g.Go(func() error { return l.maintain(gctx, uri) })
	}
	return g.Wait()
}

// maintain dials uri, announces this server, runs the read loop until it
// errors or the connection drops, then waits a fixed backoff and retries,
// until ctx is cancelled.
func (l *Linker) maintain(ctx context.Context, uri string) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn, err := l.dialer.Dial(ctx, uri)
		if err != nil {
			metrics.NeighbourDialAttempts.WithLabelValues(uri, "failure").Inc()
			l.log.Warn("neighbour dial failed", logger.String("uri", uri), logger.Error(err))
			if !sleepOrDone(ctx, l.backoff) {
				return ctx.Err()
			}
			continue
		}
		metrics.NeighbourDialAttempts.WithLabelValues(uri, "success").Inc()

		if err := l.announce(conn); err != nil {
			l.log.Warn("neighbour announce failed", logger.String("uri", uri), logger.Error(err))
			_ = conn.Close()
			if !sleepOrDone(ctx, l.backoff) {
				return ctx.Err()
			}
			continue
		}

		l.dir.SetOutbound(uri, conn)
		metrics.NeighbourLinksActive.WithLabelValues("outbound").Inc()

		stopClose := context.AfterFunc(ctx, func() { _ = conn.Close() })
		l.readLoop(ctx, uri, conn)
		stopClose()

		l.dir.SetOutbound(uri, nil)
		metrics.NeighbourLinksActive.WithLabelValues("outbound").Dec()
		metrics.ConnectionsClosed.WithLabelValues("neighbour", "link_lost").Inc()

		if !sleepOrDone(ctx, l.backoff) {
			return ctx.Err()
		}
	}
}

// announce sends a signed server_hello carrying this server's own URI,
// followed by an unsigned client_update_request.
func (l *Linker) announce(conn Conn) error {
	hello := &wire.ServerHelloData{Type: wire.DataTypeServerHello, Sender: l.selfURI}
	sig, err := envelope.Sign(hello, 0, l.selfKey)
	if err != nil {
		return err
	}
	signed := &wire.SignedData{Type: wire.TypeSignedData, Data: hello, Counter: 0, Signature: sig}
	helloFrame, err := wire.Emit(signed)
	if err != nil {
		return err
	}
	if err := conn.Send(helloFrame); err != nil {
		return err
	}

	reqFrame, err := wire.Emit(&wire.ClientUpdateRequest{Type: wire.TypeClientUpdateRequest})
	if err != nil {
		return err
	}
	return conn.Send(reqFrame)
}

// readLoop consumes frames from conn until Recv errors, handing each one
// to the configured FrameHandler.
func (l *Linker) readLoop(ctx context.Context, uri string, conn Conn) {
	for {
		raw, err := conn.Recv()
		if err != nil {
			return
		}
		frame, err := wire.Parse(raw)
		if err != nil {
			l.log.Warn("malformed frame from neighbour", logger.String("uri", uri), logger.Error(err))
			continue
		}
		if l.handler != nil {
			l.handler(uri, raw, frame)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
