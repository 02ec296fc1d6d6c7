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

package client

import (
	"crypto/rsa"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatmesh/neighbourhood/crypto/keys"
	"github.com/chatmesh/neighbourhood/wire"
)

type recordingTransport struct {
	sent [][]byte
}

func (t *recordingTransport) Send(frame []byte) error {
	t.sent = append(t.sent, frame)
	return nil
}

func newTestClient(t *testing.T) (*Client, *recordingTransport) {
	t.Helper()
	priv, pub, err := keys.GenerateKeyPair()
	require.NoError(t, err)
	tr := &recordingTransport{}
	c, err := New(tr, priv, pub)
	require.NoError(t, err)
	return c, tr
}

func TestSendHelloBuildsSignedFrame(t *testing.T) {
	c, tr := newTestClient(t)
	require.NoError(t, c.SendHello())
	require.Len(t, tr.sent, 1)

	frame, err := wire.Parse(tr.sent[0])
	require.NoError(t, err)
	sd := frame.(*wire.SignedData)
	assert.Equal(t, uint64(0), sd.Counter)
	hello := sd.Data.(*wire.HelloData)
	assert.Equal(t, c.PEM(), hello.PublicKey)
}

func TestSendPublicIncrementsCounter(t *testing.T) {
	c, tr := newTestClient(t)
	require.NoError(t, c.SendPublic("hi"))
	require.NoError(t, c.SendPublic("again"))
	require.Len(t, tr.sent, 2)

	first, _ := wire.Parse(tr.sent[0])
	second, _ := wire.Parse(tr.sent[1])
	assert.Equal(t, uint64(1), first.(*wire.SignedData).Counter)
	assert.Equal(t, uint64(2), second.(*wire.SignedData).Counter)
}

func TestSendChatEndToEndDeliversToRecipient(t *testing.T) {
	sender, _ := newTestClient(t)
	recipient, _ := newTestClient(t)

	// Each side learns the other's PEM, as if from a client_list.
	sender.applyClientList(&wire.ClientList{Servers: []wire.DirectoryServer{
		{Address: "ws://s", Clients: []string{recipient.PEM()}},
	}})
	recipient.applyClientList(&wire.ClientList{Servers: []wire.DirectoryServer{
		{Address: "ws://s", Clients: []string{sender.PEM()}},
	}})

	recipientPub, err := keys.ImportPublicPEM([]byte(recipient.PEM()))
	require.NoError(t, err)

	var delivered *wire.ChatPlaintext
	recipient.OnPlaintext = func(senderFP string, msg *wire.ChatPlaintext) {
		delivered = msg
	}

	senderTr := sender.conn.(*recordingTransport)
	require.NoError(t, sender.SendChat([]string{"ws://s"}, []*rsa.PublicKey{recipientPub}, "hello there"))
	require.Len(t, senderTr.sent, 1)

	frame, err := wire.Parse(senderTr.sent[0])
	require.NoError(t, err)
	recipient.OnInboundFrame(frame)

	require.NotNil(t, delivered)
	assert.Equal(t, "hello there", delivered.Message)
}

func TestHandleChatDropsOnUnknownSender(t *testing.T) {
	sender, _ := newTestClient(t)
	recipient, _ := newTestClient(t)

	recipientPub, err := keys.ImportPublicPEM([]byte(recipient.PEM()))
	require.NoError(t, err)

	var infoMsg string
	recipient.OnInfo = func(msg string) { infoMsg = msg }

	senderTr := sender.conn.(*recordingTransport)
	require.NoError(t, sender.SendChat([]string{"ws://s"}, []*rsa.PublicKey{recipientPub}, "hi"))

	frame, err := wire.Parse(senderTr.sent[0])
	require.NoError(t, err)
	recipient.OnInboundFrame(frame)

	assert.Contains(t, infoMsg, "unknown sender")
}

func TestHandleChatDropsOnReplay(t *testing.T) {
	sender, _ := newTestClient(t)
	recipient, _ := newTestClient(t)

	sender.applyClientList(&wire.ClientList{})
	recipient.applyClientList(&wire.ClientList{Servers: []wire.DirectoryServer{
		{Address: "ws://s", Clients: []string{sender.PEM()}},
	}})

	recipientPub, err := keys.ImportPublicPEM([]byte(recipient.PEM()))
	require.NoError(t, err)

	delivered := 0
	recipient.OnPlaintext = func(senderFP string, msg *wire.ChatPlaintext) { delivered++ }

	senderTr := sender.conn.(*recordingTransport)
	require.NoError(t, sender.SendChat([]string{"ws://s"}, []*rsa.PublicKey{recipientPub}, "first"))

	frame, err := wire.Parse(senderTr.sent[0])
	require.NoError(t, err)

	recipient.OnInboundFrame(frame)
	recipient.OnInboundFrame(frame) // replay of the same frame

	assert.Equal(t, 1, delivered)
}

func TestRequestClientListSendsUnsignedFrame(t *testing.T) {
	c, tr := newTestClient(t)
	require.NoError(t, c.RequestClientList())
	require.Len(t, tr.sent, 1)

	frame, err := wire.Parse(tr.sent[0])
	require.NoError(t, err)
	_, ok := frame.(*wire.ClientListRequest)
	assert.True(t, ok)
}
