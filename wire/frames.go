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

// Package wire defines the JSON frame shapes exchanged over a chatmesh
// connection and the codec that parses/emits them.
package wire

// Top-level frame type tags.
const (
	TypeSignedData          = "signed_data"
	TypeClientListRequest   = "client_list_request"
	TypeClientList          = "client_list"
	TypeClientUpdateRequest = "client_update_request"
	TypeClientUpdate        = "client_update"
)

// Nested signed_data.data type tags.
const (
	DataTypeHello       = "hello"
	DataTypeChat        = "chat"
	DataTypePublicChat  = "public_chat"
	DataTypeServerHello = "server_hello"
)

// HelloData is the signed_data payload a client sends to announce itself.
type HelloData struct {
	Type      string `json:"type"`
	PublicKey string `json:"public_key"`
}

// ChatData is the signed_data payload carrying an encrypted private
// message to one or more recipients.
type ChatData struct {
	Type               string   `json:"type"`
	DestinationServers []string `json:"destination_servers"`
	IV                 string   `json:"iv"`
	SymmKeys           []string `json:"symm_keys"`
	Chat               string   `json:"chat"`
}

// PublicChatData is the signed_data payload for the flooded public chat.
type PublicChatData struct {
	Type    string `json:"type"`
	Sender  string `json:"sender"`
	Message string `json:"message"`
}

// ServerHelloData is the signed_data payload a neighbour sends to
// announce its own URI when dialing in.
type ServerHelloData struct {
	Type   string `json:"type"`
	Sender string `json:"sender"`
}

// ChatPlaintext is the JSON object recovered after decrypting a ChatData's
// chat ciphertext field.
type ChatPlaintext struct {
	Participants []string `json:"participants"`
	Message      string   `json:"message"`
}

// DirectoryServer is one entry of a client_list response's servers list.
type DirectoryServer struct {
	Address string   `json:"address"`
	Clients []string `json:"clients"`
}

// ClientListRequest is the unsigned {"type":"client_list_request"} frame.
type ClientListRequest struct {
	Type string `json:"type"`
}

// ClientList is the unsigned client_list response to ClientListRequest.
type ClientList struct {
	Type    string            `json:"type"`
	Servers []DirectoryServer `json:"servers"`
}

// ClientUpdateRequest is the unsigned {"type":"client_update_request"} frame.
type ClientUpdateRequest struct {
	Type string `json:"type"`
}

// ClientUpdate announces a server's current local client PEM list to a
// neighbour, optionally naming the originating server's own address.
type ClientUpdate struct {
	Type          string   `json:"type"`
	Clients       []string `json:"clients"`
	ServerAddress string   `json:"server_address,omitempty"`
}

// SignedData is the outer envelope wrapping a signed Data payload. Data
// holds the already-decoded concrete type (one of *HelloData, *ChatData,
// *PublicChatData, *ServerHelloData) once Parse has classified it.
type SignedData struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Counter   uint64      `json:"counter"`
	Signature string      `json:"signature"`
}
