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

package wire

import (
	"encoding/json"
	"fmt"

	"github.com/chatmesh/neighbourhood/internal/logger"
)

type envelopeHeader struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type dataHeader struct {
	Type string `json:"type"`
}

// Parse decodes a UTF-8 JSON frame and returns its classified, concretely
// typed value. The returned value is one of: *SignedData (with Data set to
// *HelloData, *ChatData, *PublicChatData, or *ServerHelloData),
// *ClientListRequest, *ClientList, *ClientUpdateRequest, or *ClientUpdate.
//
// Any decoding failure or unrecognised tag yields a *logger.ChatError
// rather than propagating the underlying encoding/json error, so callers
// can drop the frame and log a single structured cause.
func Parse(text []byte) (interface{}, error) {
	var header envelopeHeader
	if err := json.Unmarshal(text, &header); err != nil {
		return nil, logger.NewChatError(logger.ErrCodeMalformedFrame, "invalid JSON frame", err)
	}

	switch header.Type {
	case TypeSignedData:
		return parseSignedData(text, header.Data)
	case TypeClientListRequest:
		var frame ClientListRequest
		if err := json.Unmarshal(text, &frame); err != nil {
			return nil, logger.NewChatError(logger.ErrCodeMalformedFrame, "invalid client_list_request frame", err)
		}
		return &frame, nil
	case TypeClientList:
		var frame ClientList
		if err := json.Unmarshal(text, &frame); err != nil {
			return nil, logger.NewChatError(logger.ErrCodeMalformedFrame, "invalid client_list frame", err)
		}
		return &frame, nil
	case TypeClientUpdateRequest:
		var frame ClientUpdateRequest
		if err := json.Unmarshal(text, &frame); err != nil {
			return nil, logger.NewChatError(logger.ErrCodeMalformedFrame, "invalid client_update_request frame", err)
		}
		return &frame, nil
	case TypeClientUpdate:
		var frame ClientUpdate
		if err := json.Unmarshal(text, &frame); err != nil {
			return nil, logger.NewChatError(logger.ErrCodeMalformedFrame, "invalid client_update frame", err)
		}
		return &frame, nil
	case "":
		return nil, logger.NewChatError(logger.ErrCodeMalformedFrame, "frame missing top-level type field", nil)
	default:
		return nil, logger.NewChatError(logger.ErrCodeUnknownFrameType, fmt.Sprintf("unrecognised frame type %q", header.Type), nil)
	}
}

func parseSignedData(text []byte, rawData json.RawMessage) (*SignedData, error) {
	var envelope struct {
		Type      string `json:"type"`
		Counter   uint64 `json:"counter"`
		Signature string `json:"signature"`
	}
	if err := json.Unmarshal(text, &envelope); err != nil {
		return nil, logger.NewChatError(logger.ErrCodeMalformedFrame, "invalid signed_data envelope", err)
	}

	if len(rawData) == 0 {
		return nil, logger.NewChatError(logger.ErrCodeMalformedFrame, "signed_data frame missing data field", nil)
	}

	var dh dataHeader
	if err := json.Unmarshal(rawData, &dh); err != nil {
		return nil, logger.NewChatError(logger.ErrCodeMalformedFrame, "invalid signed_data.data object", err)
	}

	var data interface{}
	switch dh.Type {
	case DataTypeHello:
		var d HelloData
		if err := json.Unmarshal(rawData, &d); err != nil {
			return nil, logger.NewChatError(logger.ErrCodeMalformedFrame, "invalid hello payload", err)
		}
		data = &d
	case DataTypeChat:
		var d ChatData
		if err := json.Unmarshal(rawData, &d); err != nil {
			return nil, logger.NewChatError(logger.ErrCodeMalformedFrame, "invalid chat payload", err)
		}
		data = &d
	case DataTypePublicChat:
		var d PublicChatData
		if err := json.Unmarshal(rawData, &d); err != nil {
			return nil, logger.NewChatError(logger.ErrCodeMalformedFrame, "invalid public_chat payload", err)
		}
		data = &d
	case DataTypeServerHello:
		var d ServerHelloData
		if err := json.Unmarshal(rawData, &d); err != nil {
			return nil, logger.NewChatError(logger.ErrCodeMalformedFrame, "invalid server_hello payload", err)
		}
		data = &d
	default:
		return nil, logger.NewChatError(logger.ErrCodeUnknownFrameType, fmt.Sprintf("unrecognised signed_data.data type %q", dh.Type), nil)
	}

	return &SignedData{
		Type:      envelope.Type,
		Data:      data,
		Counter:   envelope.Counter,
		Signature: envelope.Signature,
	}, nil
}

// Emit serialises a frame value to its compact UTF-8 JSON encoding.
func Emit(frame interface{}) ([]byte, error) {
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, logger.NewChatError(logger.ErrCodeMalformedFrame, "failed to encode frame", err)
	}
	return data, nil
}
