package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

type EventName string

const (
	EventJoinRoom       EventName = "join-room"
	EventSendMessage    EventName = "send-message"
	EventReceiveMessage EventName = "receive-message"
	EventMessageSent    EventName = "message-sent"
	EventMessageError   EventName = "message-error"
	EventCallUser       EventName = "call-user"
	EventIncomingCall   EventName = "incoming-call"
	EventAnswerCall     EventName = "answer-call"
	EventCallAccepted   EventName = "call-accepted"
	EventIceCandidate   EventName = "ice-candidate"
	EventHangUp         EventName = "hang-up"
	EventCallEnded      EventName = "call-ended"
)

const StatusDelivered = "delivered"

var (
	ErrUnknownEvent   = errors.New("unknown event")
	ErrInvalidPayload = errors.New("invalid payload")
)

// Envelope is the frame format in both directions.
type Envelope struct {
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound is a validated client-to-server event.
type Inbound interface {
	Name() EventName
}

type JoinRoom struct {
	UserID UserID
}

type SendMessage struct {
	SenderID   UserID          `json:"senderId"`
	ReceiverID UserID          `json:"receiverId"`
	Content    string          `json:"content"`
	RawTime    json.RawMessage `json:"timestamp,omitempty"`
	// At is zero when the client sent no usable timestamp.
	At time.Time `json:"-"`
}

type CallUser struct {
	To    UserID          `json:"to"`
	Offer json.RawMessage `json:"offer"`
}

type AnswerCall struct {
	To     ConnID          `json:"to"`
	Answer json.RawMessage `json:"answer"`
}

// IceCandidate.To is a connection id or a room id; the hub resolves it.
type IceCandidate struct {
	To        string          `json:"to"`
	Candidate json.RawMessage `json:"candidate"`
}

type HangUp struct {
	To string `json:"to"`
}

func (JoinRoom) Name() EventName     { return EventJoinRoom }
func (SendMessage) Name() EventName  { return EventSendMessage }
func (CallUser) Name() EventName     { return EventCallUser }
func (AnswerCall) Name() EventName   { return EventAnswerCall }
func (IceCandidate) Name() EventName { return EventIceCandidate }
func (HangUp) Name() EventName       { return EventHangUp }

// Server-to-client payloads.

type IncomingCall struct {
	From  ConnID          `json:"from"`
	Offer json.RawMessage `json:"offer"`
}

type CallAccepted struct {
	Answer json.RawMessage `json:"answer"`
}

type RelayedCandidate struct {
	Candidate json.RawMessage `json:"candidate"`
}

type MessageSent struct {
	Status    string `json:"status"`
	MessageID string `json:"messageId"`
}

type MessageError struct {
	Error string `json:"error"`
}

// Decode parses one inbound frame and validates its routing fields.
// Message content is checked later by NewMessage so the sender can be told.
func Decode(data []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	switch env.Event {
	case EventJoinRoom:
		uid, err := decodeJoin(env.Data)
		if err != nil {
			return nil, err
		}
		return JoinRoom{UserID: uid}, nil

	case EventSendMessage:
		var p SendMessage
		if err := unmarshalData(env, &p); err != nil {
			return nil, err
		}
		if err := validate(env.Event, p.SenderID.Validate(), p.ReceiverID.Validate()); err != nil {
			return nil, err
		}
		p.At = parseTimestamp(p.RawTime)
		return p, nil

	case EventCallUser:
		var p CallUser
		if err := unmarshalData(env, &p); err != nil {
			return nil, err
		}
		if err := validate(env.Event, p.To.Validate(), requireRaw("offer", p.Offer)); err != nil {
			return nil, err
		}
		return p, nil

	case EventAnswerCall:
		var p AnswerCall
		if err := unmarshalData(env, &p); err != nil {
			return nil, err
		}
		if err := validate(env.Event, requireStr("to", string(p.To)), requireRaw("answer", p.Answer)); err != nil {
			return nil, err
		}
		return p, nil

	case EventIceCandidate:
		var p IceCandidate
		if err := unmarshalData(env, &p); err != nil {
			return nil, err
		}
		if err := validate(env.Event, requireStr("to", p.To), requireRaw("candidate", p.Candidate)); err != nil {
			return nil, err
		}
		return p, nil

	case EventHangUp:
		var p HangUp
		if err := unmarshalData(env, &p); err != nil {
			return nil, err
		}
		if err := validate(env.Event, requireStr("to", p.To)); err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
}

// Encode builds an outbound frame. A nil payload yields an envelope with
// no data field.
func Encode(name EventName, payload any) ([]byte, error) {
	env := Envelope{Event: name}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", name, err)
		}
		env.Data = b
	}
	return json.Marshal(env)
}

// join-room carries a bare user id string; {"userId": "..."} is accepted too.
func decodeJoin(raw json.RawMessage) (UserID, error) {
	var uid string
	if err := json.Unmarshal(raw, &uid); err != nil {
		var obj struct {
			UserID string `json:"userId"`
		}
		if err2 := json.Unmarshal(raw, &obj); err2 != nil {
			return "", fmt.Errorf("%w: join-room: %v", ErrInvalidPayload, err)
		}
		uid = obj.UserID
	}
	id := UserID(uid)
	if err := id.Validate(); err != nil {
		return "", fmt.Errorf("%w: join-room: %w", ErrInvalidPayload, err)
	}
	return id, nil
}

func unmarshalData(env Envelope, v any) error {
	if len(env.Data) == 0 || bytes.Equal(env.Data, []byte("null")) {
		return fmt.Errorf("%w: %s: missing data", ErrInvalidPayload, env.Event)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, env.Event, err)
	}
	return nil
}

func validate(name EventName, errs ...error) error {
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidPayload, name, err)
	}
	return nil
}

func requireStr(field, v string) error {
	if v == "" {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}

func requireRaw(field string, v json.RawMessage) error {
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}

// parseTimestamp accepts RFC 3339 strings and unix milliseconds.
func parseTimestamp(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Time{}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.UnixMilli(ms)
		}
		return time.Time{}
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err == nil && ms > 0 {
		return time.UnixMilli(ms)
	}
	return time.Time{}
}
