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

// Package client implements the chat participant side of the protocol:
// building and signing outbound hello/chat/public_chat frames, and
// classifying, decrypting, and replay-checking inbound ones before handing
// plaintext to the caller's UI callbacks.
package client

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/chatmesh/neighbourhood/crypto/envelope"
	"github.com/chatmesh/neighbourhood/crypto/hybrid"
	"github.com/chatmesh/neighbourhood/crypto/keys"
	"github.com/chatmesh/neighbourhood/internal/logger"
	"github.com/chatmesh/neighbourhood/replay"
	"github.com/chatmesh/neighbourhood/wire"
)

// Transport is the minimal send capability a Client needs from its
// connection to the server.
type Transport interface {
	Send(frame []byte) error
}

// PlaintextHandler receives a decrypted private chat, identified by the
// sender's base64 fingerprint.
type PlaintextHandler func(senderFingerprintB64 string, msg *wire.ChatPlaintext)

// PublicHandler receives a decoded public chat.
type PublicHandler func(senderFingerprintB64 string, message string)

// InfoHandler surfaces an informational message to the UI (e.g. a dropped
// frame from an unknown sender).
type InfoHandler func(message string)

// Client tracks one participant's identity, its view of the federation's
// directory, and its per-sender replay guard.
type Client struct {
	conn Transport
	priv *rsa.PrivateKey
	pub  *rsa.PublicKey
	pem  string
	fp   string // own fingerprint, hex

	mu               sync.Mutex
	counter          uint64
	clientInfo       map[string]string // PEM -> server URI
	fingerprintToPEM map[string]string // fingerprint (hex) -> PEM

	recvGuard *replay.Guard // keyed by sender fingerprint (hex)

	OnPlaintext PlaintextHandler
	OnPublic    PublicHandler
	OnInfo      InfoHandler

	log logger.Logger
}

// New creates a Client identified by (priv, pub), sending over conn.
func New(conn Transport, priv *rsa.PrivateKey, pub *rsa.PublicKey) (*Client, error) {
	pemBytes, err := keys.ExportPublicPEM(pub)
	if err != nil {
		return nil, fmt.Errorf("export own public key: %w", err)
	}
	fp, err := keys.Fingerprint(pub)
	if err != nil {
		return nil, fmt.Errorf("compute own fingerprint: %w", err)
	}
	return &Client{
		conn:             conn,
		priv:             priv,
		pub:              pub,
		pem:              string(pemBytes),
		fp:               fp,
		clientInfo:       make(map[string]string),
		fingerprintToPEM: make(map[string]string),
		recvGuard:        replay.NewGuard(),
		log:              logger.GetDefaultLogger(),
	}, nil
}

func fingerprintB64(fp string) string {
	return base64.StdEncoding.EncodeToString([]byte(fp))
}

func decodeFingerprintB64(encoded string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}

// nextCounter returns the next outbound counter value, incrementing the
// client's own monotonic counter.
func (c *Client) nextCounter() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counter++
	return c.counter
}

func (c *Client) sign(dataObj interface{}, counter uint64) (string, error) {
	return envelope.Sign(dataObj, counter, c.priv)
}

// SendHello announces this client's identity with counter 0.
func (c *Client) SendHello() error {
	hello := &wire.HelloData{Type: wire.DataTypeHello, PublicKey: c.pem}
	sig, err := c.sign(hello, 0)
	if err != nil {
		return fmt.Errorf("sign hello: %w", err)
	}
	frame, err := wire.Emit(&wire.SignedData{Type: wire.TypeSignedData, Data: hello, Counter: 0, Signature: sig})
	if err != nil {
		return err
	}
	return c.conn.Send(frame)
}

// SendChat encrypts text for the given recipients, wraps the symmetric
// key per recipient, and sends a signed chat frame destined for
// destServerURIs.
func (c *Client) SendChat(destServerURIs []string, recipients []*rsa.PublicKey, text string) error {
	key, err := hybrid.GenerateKey()
	if err != nil {
		return fmt.Errorf("generate symmetric key: %w", err)
	}
	nonce, err := hybrid.GenerateNonce()
	if err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	participants := make([]string, 0, len(recipients)+1)
	participants = append(participants, fingerprintB64(c.fp))
	for _, pub := range recipients {
		fp, err := keys.Fingerprint(pub)
		if err != nil {
			return fmt.Errorf("fingerprint recipient: %w", err)
		}
		participants = append(participants, fingerprintB64(fp))
	}

	plaintext, err := json.Marshal(&wire.ChatPlaintext{Participants: participants, Message: text})
	if err != nil {
		return fmt.Errorf("marshal chat plaintext: %w", err)
	}

	ciphertext, err := hybrid.Encrypt(plaintext, key, nonce)
	if err != nil {
		return fmt.Errorf("encrypt chat: %w", err)
	}

	symmKeys := make([]string, 0, len(recipients))
	for _, pub := range recipients {
		wrapped, err := hybrid.WrapKey(key, pub)
		if err != nil {
			return fmt.Errorf("wrap symmetric key: %w", err)
		}
		symmKeys = append(symmKeys, base64.StdEncoding.EncodeToString(wrapped))
	}

	chat := &wire.ChatData{
		Type:               wire.DataTypeChat,
		DestinationServers: destServerURIs,
		IV:                 base64.StdEncoding.EncodeToString(nonce),
		SymmKeys:           symmKeys,
		Chat:               base64.StdEncoding.EncodeToString(ciphertext),
	}

	counter := c.nextCounter()
	sig, err := c.sign(chat, counter)
	if err != nil {
		return fmt.Errorf("sign chat: %w", err)
	}
	frame, err := wire.Emit(&wire.SignedData{Type: wire.TypeSignedData, Data: chat, Counter: counter, Signature: sig})
	if err != nil {
		return err
	}
	return c.conn.Send(frame)
}

// SendPublic sends a signed, flooded public chat message.
func (c *Client) SendPublic(text string) error {
	pub := &wire.PublicChatData{Type: wire.DataTypePublicChat, Sender: fingerprintB64(c.fp), Message: text}
	counter := c.nextCounter()
	sig, err := c.sign(pub, counter)
	if err != nil {
		return fmt.Errorf("sign public chat: %w", err)
	}
	frame, err := wire.Emit(&wire.SignedData{Type: wire.TypeSignedData, Data: pub, Counter: counter, Signature: sig})
	if err != nil {
		return err
	}
	return c.conn.Send(frame)
}

// RequestClientList sends the unsigned client_list_request control frame.
func (c *Client) RequestClientList() error {
	frame, err := wire.Emit(&wire.ClientListRequest{Type: wire.TypeClientListRequest})
	if err != nil {
		return err
	}
	return c.conn.Send(frame)
}

// OnInboundFrame classifies and handles one inbound frame, already parsed
// by wire.Parse.
func (c *Client) OnInboundFrame(frame interface{}) {
	switch f := frame.(type) {
	case *wire.ClientList:
		c.applyClientList(f)
	case *wire.SignedData:
		switch data := f.Data.(type) {
		case *wire.ChatData:
			c.handleChat(f, data)
		case *wire.PublicChatData:
			c.handlePublicChat(f, data)
		}
	}
}

// Peer is one other participant known from the last client_list response.
type Peer struct {
	FingerprintB64 string
	ServerURI      string
}

// Peers lists every participant this client currently knows about, from
// its most recently applied client_list.
func (c *Client) Peers() []Peer {
	c.mu.Lock()
	defer c.mu.Unlock()
	peers := make([]Peer, 0, len(c.clientInfo))
	for pem, uri := range c.clientInfo {
		fp := keys.FingerprintOfPEM([]byte(pem))
		if fp == c.fp {
			continue
		}
		peers = append(peers, Peer{FingerprintB64: fingerprintB64(fp), ServerURI: uri})
	}
	return peers
}

// RecipientKey resolves a peer's base64 fingerprint (as produced by
// FingerprintB64 or listed in Peers) to its public key and hosting server
// URI, for building a SendChat call.
func (c *Client) RecipientKey(fingerprintB64Str string) (*rsa.PublicKey, string, error) {
	fp, err := decodeFingerprintB64(fingerprintB64Str)
	if err != nil {
		return nil, "", fmt.Errorf("malformed fingerprint: %w", err)
	}
	c.mu.Lock()
	pem, known := c.fingerprintToPEM[fp]
	uri := c.clientInfo[pem]
	c.mu.Unlock()
	if !known {
		return nil, "", fmt.Errorf("unknown peer fingerprint")
	}
	pub, err := keys.ImportPublicPEM([]byte(pem))
	if err != nil {
		return nil, "", fmt.Errorf("parsing peer key: %w", err)
	}
	return pub, uri, nil
}

// applyClientList refreshes ClientInfo and FingerprintToPEM from a
// client_list response.
func (c *Client) applyClientList(list *wire.ClientList) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, server := range list.Servers {
		for _, pem := range server.Clients {
			c.clientInfo[pem] = server.Address
			c.fingerprintToPEM[keys.FingerprintOfPEM([]byte(pem))] = pem
		}
	}
}

func (c *Client) handleChat(envl *wire.SignedData, data *wire.ChatData) {
	iv, err := base64.StdEncoding.DecodeString(data.IV)
	if err != nil {
		c.info("dropped chat: malformed IV")
		return
	}
	ciphertext, err := base64.StdEncoding.DecodeString(data.Chat)
	if err != nil {
		c.info("dropped chat: malformed ciphertext")
		return
	}

	var plaintext []byte
	for _, wrappedB64 := range data.SymmKeys {
		wrapped, err := base64.StdEncoding.DecodeString(wrappedB64)
		if err != nil {
			continue
		}
		key, err := hybrid.UnwrapKey(wrapped, c.priv)
		if err != nil {
			continue // wrong key for this recipient; try the next
		}
		pt, err := hybrid.Decrypt(ciphertext, key, iv)
		if err != nil {
			continue
		}
		plaintext = pt
		break
	}
	if plaintext == nil {
		c.info("dropped chat: no wrapped key could be unwrapped")
		return
	}

	var body wire.ChatPlaintext
	if err := json.Unmarshal(plaintext, &body); err != nil {
		c.info("dropped chat: malformed plaintext")
		return
	}
	if len(body.Participants) == 0 {
		c.info("dropped chat: missing sender")
		return
	}

	senderFP, err := decodeFingerprintB64(body.Participants[0])
	if err != nil {
		c.info("dropped chat: malformed sender fingerprint")
		return
	}

	if !c.recvGuard.Check(senderFP, envl.Counter) {
		c.info("dropped chat: replay detected")
		return
	}

	c.mu.Lock()
	senderPEM, known := c.fingerprintToPEM[senderFP]
	c.mu.Unlock()
	if !known {
		c.info("dropped chat: unknown sender")
		return
	}

	senderKey, err := keys.ImportPublicPEM([]byte(senderPEM))
	if err != nil {
		c.info("dropped chat: cannot parse sender key")
		return
	}
	if !envelope.Verify(data, envl.Counter, envl.Signature, senderKey) {
		c.info("dropped chat: signature verification failed")
		return
	}
	c.recvGuard.Accept(senderFP, envl.Counter)

	if c.OnPlaintext != nil {
		c.OnPlaintext(body.Participants[0], &body)
	}
}

func (c *Client) handlePublicChat(envl *wire.SignedData, data *wire.PublicChatData) {
	senderFP, err := decodeFingerprintB64(data.Sender)
	if err != nil {
		c.info("dropped public chat: malformed sender fingerprint")
		return
	}

	if !c.recvGuard.Check(senderFP, envl.Counter) {
		c.info("dropped public chat: replay detected")
		return
	}

	c.mu.Lock()
	senderPEM, known := c.fingerprintToPEM[senderFP]
	c.mu.Unlock()
	if !known {
		c.info("dropped public chat: unknown sender")
		return
	}

	senderKey, err := keys.ImportPublicPEM([]byte(senderPEM))
	if err != nil {
		c.info("dropped public chat: cannot parse sender key")
		return
	}
	if !envelope.Verify(data, envl.Counter, envl.Signature, senderKey) {
		c.info("dropped public chat: signature verification failed")
		return
	}
	c.recvGuard.Accept(senderFP, envl.Counter)

	if c.OnPublic != nil {
		c.OnPublic(data.Sender, data.Message)
	}
}

func (c *Client) info(message string) {
	c.log.Debug(message)
	if c.OnInfo != nil {
		c.OnInfo(message)
	}
}

// FingerprintB64 returns this client's own base64-encoded fingerprint, as
// used in outbound frame sender/participants fields.
func (c *Client) FingerprintB64() string {
	return fingerprintB64(c.fp)
}

// PEM returns this client's own exported public key PEM.
func (c *Client) PEM() string {
	return c.pem
}
