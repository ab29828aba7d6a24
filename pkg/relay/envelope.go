package relay

import (
	"encoding/json"

	"github.com/GwanWingYan/vaultsign/pkg/wallet"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// Role names a peer on the relay channel.
type Role string

const (
	RoleUI        Role = "[UI]"
	RoleConnector Role = "[CONNECTOR]"
	RoleAPI       Role = "[API]"
)

// EventType is the fixed vocabulary carried in the envelope `type` field.
type EventType string

const (
	EventConnection   EventType = "connection"
	EventDefault      EventType = "message"
	EventConnected    EventType = "[CONNECTED]"
	EventDisconnected EventType = "[CLIENT_DISCONNECTED]"
	EventTxConfirm    EventType = "[TX_EVENT_CONFIRMED]"
	EventTxRequest    EventType = "[TX_EVENT_REQUESTED]"

	// Transport level events never travel on the wire. The client raises them
	// locally when the underlying connection comes up or drops.
	EventTransportConnect    EventType = "connect"
	EventTransportDisconnect EventType = "disconnect"
)

var (
	ErrUnknownEvent = errors.New("unknown relay event type")
)

// Payload is the typed body of an envelope. Each event type owns exactly one
// payload shape.
type Payload interface {
	EventType() EventType
}

type ConnectedPayload struct {
	SessionID string `json:"sessionId,omitempty" mapstructure:"sessionId"`
	RequestID string `json:"request_id,omitempty" mapstructure:"request_id"`
}

func (ConnectedPayload) EventType() EventType { return EventConnected }

type DisconnectedPayload struct {
	Reason string `json:"reason,omitempty" mapstructure:"reason"`
}

func (DisconnectedPayload) EventType() EventType { return EventDisconnected }

// VaultEvent describes the vault a dApp wants to spend from.
type VaultEvent struct {
	Name         string `json:"name" mapstructure:"name"`
	Address      string `json:"address" mapstructure:"address"`
	Description  string `json:"description" mapstructure:"description"`
	Provider     string `json:"provider" mapstructure:"provider"`
	PendingTx    bool   `json:"pending_tx" mapstructure:"pending_tx"`
	Configurable string `json:"configurable" mapstructure:"configurable"`
	Version      string `json:"version" mapstructure:"version"`
}

type TxRequestPayload struct {
	Vault   VaultEvent                `json:"vault" mapstructure:"vault"`
	Tx      wallet.TransactionRequest `json:"tx" mapstructure:"tx"`
	ValidAt string                    `json:"validAt,omitempty" mapstructure:"validAt"`
}

func (TxRequestPayload) EventType() EventType { return EventTxRequest }

// TxConfirmPayload is sent by the UI when the user approves a proposal. The
// API answers with the same event type, echoing the request id and the id of
// the transaction it created.
type TxConfirmPayload struct {
	Operations    *wallet.Summary           `json:"operations,omitempty" mapstructure:"operations"`
	Tx            wallet.TransactionRequest `json:"tx,omitempty" mapstructure:"tx"`
	TransactionID string                    `json:"id,omitempty" mapstructure:"id"`
}

func (TxConfirmPayload) EventType() EventType { return EventTxConfirm }

// Envelope is one message on the relay channel.
type Envelope struct {
	Username  Role
	Room      string
	To        Role
	Type      EventType
	RequestID string
	Data      Payload
}

type wireEnvelope struct {
	Username  Role        `json:"username"`
	Room      string      `json:"room"`
	To        Role        `json:"to"`
	Type      EventType   `json:"type"`
	RequestID string      `json:"request_id"`
	Data      interface{} `json:"data"`
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	var data interface{} = struct{}{}
	if e.Data != nil {
		if e.Data.EventType() != e.Type {
			return nil, errors.Errorf("payload for %s attached to %s envelope", e.Data.EventType(), e.Type)
		}
		data = e.Data
	}
	return json.Marshal(wireEnvelope{
		Username:  e.Username,
		Room:      e.Room,
		To:        e.To,
		Type:      e.Type,
		RequestID: e.RequestID,
		Data:      data,
	})
}

func (e *Envelope) UnmarshalJSON(raw []byte) error {
	var w wireEnvelope
	if err := json.Unmarshal(raw, &w); err != nil {
		return errors.Wrap(err, "error unmarshal envelope")
	}

	fields, _ := w.Data.(map[string]interface{})
	payload, err := DecodePayload(w.Type, fields)
	if err != nil {
		return err
	}

	*e = Envelope{
		Username:  w.Username,
		Room:      w.Room,
		To:        w.To,
		Type:      w.Type,
		RequestID: w.RequestID,
		Data:      payload,
	}
	return nil
}

// DecodePayload turns the loosely typed `data` object into the payload owned
// by the event type.
func DecodePayload(t EventType, fields map[string]interface{}) (Payload, error) {
	var target Payload
	switch t {
	case EventConnected:
		target = &ConnectedPayload{}
	case EventDisconnected:
		target = &DisconnectedPayload{}
	case EventTxRequest:
		target = &TxRequestPayload{}
	case EventTxConfirm:
		target = &TxConfirmPayload{}
	case EventConnection, EventDefault:
		return nil, nil
	default:
		return nil, errors.Wrapf(ErrUnknownEvent, "%q", t)
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "error building payload decoder")
	}
	if err := decoder.Decode(fields); err != nil {
		return nil, errors.Wrapf(err, "error decoding %s payload", t)
	}

	switch p := target.(type) {
	case *ConnectedPayload:
		return *p, nil
	case *DisconnectedPayload:
		return *p, nil
	case *TxRequestPayload:
		return *p, nil
	case *TxConfirmPayload:
		return *p, nil
	}
	return nil, errors.Wrapf(ErrUnknownEvent, "%q", t)
}
