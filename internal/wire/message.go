// Package wire implements the OCPP 1.6J frame codec: JSON arrays
// [type, id, ...] exchanged over the WebSocket text channel.
package wire

import (
	"encoding/json"
	"fmt"
)

// Type is the first element of every OCPP frame.
type Type int

const (
	Call       Type = 2
	CallResult Type = 3
	CallError  Type = 4
)

// ErrorCode is one of the fixed OCPP CALLERROR codes. This gateway
// rarely emits one in practice, but the full set decodes cleanly from
// peers that send one.
type ErrorCode string

const (
	ErrNotImplemented              ErrorCode = "NotImplemented"
	ErrNotSupported                ErrorCode = "NotSupported"
	ErrInternalError               ErrorCode = "InternalError"
	ErrProtocolError               ErrorCode = "ProtocolError"
	ErrSecurityError               ErrorCode = "SecurityError"
	ErrFormationViolation          ErrorCode = "FormationViolation"
	ErrPropertyConstraintViolation ErrorCode = "PropertyConstraintViolation"
	ErrGenericError                ErrorCode = "GenericError"
)

// Message is the decoded, tagged form of any one of the three frame
// kinds. Callers switch on Type and read only the fields that apply.
type Message struct {
	Type Type
	ID   string

	// Action is set for CALL only; Payload for CALL and CALLRESULT.
	Action  string
	Payload json.RawMessage

	// CALLERROR only.
	ErrorCode        ErrorCode
	ErrorDescription string
	ErrorDetails     json.RawMessage
}

// Decode parses a raw OCPP frame. A malformed frame (not a JSON array,
// wrong arity, unknown type tag) is returned as an error; callers are
// expected to log it and keep reading from the connection rather than
// tear it down, per the protocol's tolerance for isolated bad frames.
func Decode(data []byte) (*Message, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("wire: not a JSON array: %w", err)
	}
	if len(raw) < 3 {
		return nil, fmt.Errorf("wire: frame too short: %d elements", len(raw))
	}

	var typ Type
	if err := json.Unmarshal(raw[0], &typ); err != nil {
		return nil, fmt.Errorf("wire: invalid type tag: %w", err)
	}

	msg := &Message{Type: typ}
	if err := json.Unmarshal(raw[1], &msg.ID); err != nil {
		return nil, fmt.Errorf("wire: invalid message id: %w", err)
	}

	switch typ {
	case Call:
		if len(raw) != 4 {
			return nil, fmt.Errorf("wire: CALL must have 4 elements, got %d", len(raw))
		}
		if err := json.Unmarshal(raw[2], &msg.Action); err != nil {
			return nil, fmt.Errorf("wire: invalid action: %w", err)
		}
		msg.Payload = raw[3]
	case CallResult:
		if len(raw) != 3 {
			return nil, fmt.Errorf("wire: CALLRESULT must have 3 elements, got %d", len(raw))
		}
		msg.Payload = raw[2]
	case CallError:
		if len(raw) != 5 {
			return nil, fmt.Errorf("wire: CALLERROR must have 5 elements, got %d", len(raw))
		}
		if err := json.Unmarshal(raw[2], &msg.ErrorCode); err != nil {
			return nil, fmt.Errorf("wire: invalid error code: %w", err)
		}
		if err := json.Unmarshal(raw[3], &msg.ErrorDescription); err != nil {
			return nil, fmt.Errorf("wire: invalid error description: %w", err)
		}
		msg.ErrorDetails = raw[4]
	default:
		return nil, fmt.Errorf("wire: unknown message type %d", typ)
	}

	return msg, nil
}

// EncodeCall encodes a CALL frame with the given id, action, and payload.
func EncodeCall(id, action string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal call payload: %w", err)
	}
	return json.Marshal([]any{Call, id, action, json.RawMessage(body)})
}

// EncodeCallResult encodes a CALLRESULT frame replying to id.
func EncodeCallResult(id string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal call result payload: %w", err)
	}
	return json.Marshal([]any{CallResult, id, json.RawMessage(body)})
}

// EncodeCallError encodes a CALLERROR frame replying to id.
func EncodeCallError(id string, code ErrorCode, description string, details any) ([]byte, error) {
	if details == nil {
		details = struct{}{}
	}
	detailBytes, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal call error details: %w", err)
	}
	return json.Marshal([]any{CallError, id, code, description, json.RawMessage(detailBytes)})
}
