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

// Package integration drives real, in-process chatmesh-server instances
// over real WebSocket connections end to end, rather than exercising a
// single package's internals in isolation.
package integration

import (
	"context"
	"crypto/rsa"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chatmesh/neighbourhood/client"
	"github.com/chatmesh/neighbourhood/config"
	"github.com/chatmesh/neighbourhood/crypto/keys"
	"github.com/chatmesh/neighbourhood/server"
	"github.com/chatmesh/neighbourhood/transport/ws"
	"github.com/chatmesh/neighbourhood/wire"
)

// mustListen binds a loopback listener up front so this node's own
// ServerURI (used in hello/server_hello Sender fields and directory
// lookups) can be fixed before the server is built, matching the address
// peers will actually dial.
func mustListen(t *testing.T) (net.Listener, string) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return l, "ws://" + l.Addr().String()
}

func writePublicKeyPEM(t *testing.T, dir, name string, pub *rsa.PublicKey) string {
	t.Helper()
	pemBytes, err := keys.ExportPublicPEM(pub)
	require.NoError(t, err)
	path := filepath.Join(dir, name+".pem")
	require.NoError(t, os.WriteFile(path, pemBytes, 0o600))
	return path
}

// waitReady polls uri's readiness endpoint until it reports healthy or the
// timeout elapses. A node's readiness check includes
// health.NeighbourLinksHealthCheck, so this is a real signal that the
// neighbour handshake (dial, signed server_hello, directory SetOutbound)
// has actually completed rather than an arbitrary sleep.
func waitReady(t *testing.T, httpAddr string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var lastCode int
	for time.Now().Before(deadline) {
		resp, err := http.Get("http://" + httpAddr + "/readyz")
		if err == nil {
			lastCode = resp.StatusCode
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("node at %s never became ready (last status %d)", httpAddr, lastCode)
}

func dialClientConn(t *testing.T, wsAddr string) *ws.Conn {
	t.Helper()
	dialer := ws.NewDialer()
	c, err := dialer.Dial(context.Background(), wsAddr)
	require.NoError(t, err)
	conn, ok := c.(*ws.Conn)
	require.True(t, ok, "dialer returned unexpected connection type %T", c)
	return conn
}

// pumpInbound forwards every frame received on conn into c until conn
// closes, mirroring a real client's read loop.
func pumpInbound(conn *ws.Conn, c *client.Client) {
	for {
		raw, err := conn.Recv()
		if err != nil {
			return
		}
		frame, err := wire.Parse(raw)
		if err != nil {
			continue
		}
		c.OnInboundFrame(frame)
	}
}

// TestTwoServerPublicChatFlow builds two chatmesh-server nodes in-process,
// lets one dial the other as a federation neighbour, connects one client
// to each, and asserts a signed public_chat sent to the first server
// reaches the client connected to the second — covering signed hello,
// the neighbour server_hello handshake, and cross-server fan-out in one
// pass rather than three isolated package tests.
func TestTwoServerPublicChatFlow(t *testing.T) {
	tmpDir := t.TempDir()

	aPriv, aPub, err := keys.GenerateKeyPair()
	require.NoError(t, err)
	bPriv, bPub, err := keys.GenerateKeyPair()
	require.NoError(t, err)

	aListener, aURI := mustListen(t)
	bListener, bURI := mustListen(t)

	aPubPath := writePublicKeyPEM(t, tmpDir, "a", aPub)
	bPubPath := writePublicKeyPEM(t, tmpDir, "b", bPub)

	aCfg := config.ServerConfig{
		ServerURI:  aURI,
		Neighbours: []config.NeighbourConfig{{URI: bURI, PublicKeyPath: bPubPath}},
		Health:     config.HealthConfig{Path: "/healthz", ReadyPath: "/readyz"},
	}
	bCfg := config.ServerConfig{
		ServerURI:  bURI,
		Neighbours: []config.NeighbourConfig{{URI: aURI, PublicKeyPath: aPubPath}},
		Health:     config.HealthConfig{Path: "/healthz", ReadyPath: "/readyz"},
	}

	aSrv, err := server.New(aCfg, aPriv, aPub)
	require.NoError(t, err)
	defer aSrv.Close()
	bSrv, err := server.New(bCfg, bPriv, bPub)
	require.NoError(t, err)
	defer bSrv.Close()

	aHTTP := &http.Server{Handler: aSrv.Mux()}
	bHTTP := &http.Server{Handler: bSrv.Mux()}
	go aHTTP.Serve(aListener)
	go bHTTP.Serve(bListener)
	defer aHTTP.Close()
	defer bHTTP.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Only B dials out. A learns B is a live neighbour purely from the
	// inbound /ws/neighbour socket and its own static config entry,
	// exercising both the outbound-dial half and the inbound-admission
	// half of the federation handshake in one test.
	go bSrv.RunNeighbourLinks(ctx)

	waitReady(t, aListener.Addr().String())
	waitReady(t, bListener.Addr().String())

	xPriv, xPub, err := keys.GenerateKeyPair()
	require.NoError(t, err)
	yPriv, yPub, err := keys.GenerateKeyPair()
	require.NoError(t, err)

	xConn := dialClientConn(t, aURI+"/ws")
	defer xConn.Close()
	yConn := dialClientConn(t, bURI+"/ws")
	defer yConn.Close()

	xClient, err := client.New(xConn, xPriv, xPub)
	require.NoError(t, err)
	yClient, err := client.New(yConn, yPriv, yPub)
	require.NoError(t, err)

	received := make(chan string, 1)
	yClient.OnPublic = func(senderFingerprintB64, msg string) {
		received <- msg
	}
	go pumpInbound(yConn, yClient)
	go pumpInbound(xConn, xClient)

	require.NoError(t, xClient.SendHello())
	require.NoError(t, yClient.SendHello())

	// Give both hellos a moment to register in each server's directory
	// before the flood, matching the handshake-then-traffic ordering a
	// real client observes; waitReady above already proves the neighbour
	// link itself is live.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, xClient.SendPublic("hello from the other server"))

	select {
	case msg := <-received:
		require.Equal(t, "hello from the other server", msg)
	case <-time.After(5 * time.Second):
		t.Fatal("public chat never crossed the neighbour link to the second server")
	}
}
