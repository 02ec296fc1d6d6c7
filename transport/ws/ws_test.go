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

package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpgraderAndDialerRoundTrip(t *testing.T) {
	serverReceived := make(chan []byte, 1)

	upgrader := NewUpgrader(func(ctx context.Context, conn *Conn) {
		frame, err := conn.Recv()
		if err != nil {
			return
		}
		serverReceived <- frame
		_ = conn.Send([]byte("ack"))
	})

	srv := httptest.NewServer(upgrader.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"

	dialer := NewDialer()
	conn, err := dialer.Dial(context.Background(), wsURL)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Send([]byte("hello")))

	select {
	case got := <-serverReceived:
		assert.Equal(t, "hello", string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive frame")
	}

	reply, err := conn.Recv()
	require.NoError(t, err)
	assert.Equal(t, "ack", string(reply))
}

func TestDialerSendsBearerTokenFromCallback(t *testing.T) {
	var gotAuth string
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		NewUpgrader(func(ctx context.Context, conn *Conn) {}).Handler().ServeHTTP(w, r)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"

	dialer := NewDialer()
	dialer.BearerToken = func() (string, error) { return "test-token", nil }
	conn, err := dialer.Dial(context.Background(), wsURL)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "Bearer test-token", gotAuth)
}

func TestDialerPropagatesBearerTokenMintError(t *testing.T) {
	srv := httptest.NewServer(NewUpgrader(func(ctx context.Context, conn *Conn) {}).Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"

	dialer := NewDialer()
	wantErr := errors.New("no signing key configured")
	dialer.BearerToken = func() (string, error) { return "", wantErr }

	_, err := dialer.Dial(context.Background(), wsURL)
	require.Error(t, err)
	assert.ErrorIs(t, err, wantErr)
}

func TestUpgraderRejectsNonWebsocketRequest(t *testing.T) {
	upgrader := NewUpgrader(func(ctx context.Context, conn *Conn) {})
	srv := httptest.NewServer(upgrader.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.NotEqual(t, 200, resp.StatusCode)
}
