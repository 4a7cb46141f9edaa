package qtp

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/devexperts/QD-sub012/errs"
	"github.com/devexperts/QD-sub012/record"
)

// MessageType identifies a QTP message on the wire.
type MessageType int

const (
	MessageHeartbeat        MessageType = 0
	MessageDescribeProtocol MessageType = 1
	MessageDescribeRecords  MessageType = 2

	MessageTickerData               MessageType = 10
	MessageTickerAddSubscription    MessageType = 11
	MessageTickerRemoveSubscription MessageType = 12

	MessageStreamData               MessageType = 15
	MessageStreamAddSubscription    MessageType = 16
	MessageStreamRemoveSubscription MessageType = 17

	MessageHistoryData               MessageType = 20
	MessageHistoryAddSubscription    MessageType = 21
	MessageHistoryRemoveSubscription MessageType = 22
)

var messageNames = map[MessageType]string{
	MessageHeartbeat:                 "HEARTBEAT",
	MessageDescribeProtocol:          "DESCRIBE_PROTOCOL",
	MessageDescribeRecords:           "DESCRIBE_RECORDS",
	MessageTickerData:                "TICKER_DATA",
	MessageTickerAddSubscription:     "TICKER_ADD_SUBSCRIPTION",
	MessageTickerRemoveSubscription:  "TICKER_REMOVE_SUBSCRIPTION",
	MessageStreamData:                "STREAM_DATA",
	MessageStreamAddSubscription:     "STREAM_ADD_SUBSCRIPTION",
	MessageStreamRemoveSubscription:  "STREAM_REMOVE_SUBSCRIPTION",
	MessageHistoryData:               "HISTORY_DATA",
	MessageHistoryAddSubscription:    "HISTORY_ADD_SUBSCRIPTION",
	MessageHistoryRemoveSubscription: "HISTORY_REMOVE_SUBSCRIPTION",
}

func (t MessageType) String() string {
	if name, ok := messageNames[t]; ok {
		return name
	}

	return fmt.Sprintf("MESSAGE_%d", int(t))
}

// Known reports whether t is part of the protocol.
func (t MessageType) Known() bool {
	_, ok := messageNames[t]
	return ok
}

// IsData reports whether t carries record data.
func (t MessageType) IsData() bool {
	return t == MessageTickerData || t == MessageStreamData || t == MessageHistoryData
}

// IsSubscription reports whether t adds or removes subscription.
func (t MessageType) IsSubscription() bool {
	return t.Known() && t >= MessageTickerData && !t.IsData()
}

// IsAddSubscription reports whether t adds subscription.
func (t MessageType) IsAddSubscription() bool {
	return t == MessageTickerAddSubscription || t == MessageStreamAddSubscription || t == MessageHistoryAddSubscription
}

// Contract returns the contract of a data or subscription message.
func (t MessageType) Contract() record.Contract {
	switch {
	case t >= MessageTickerData && t <= MessageTickerRemoveSubscription:
		return record.Ticker
	case t >= MessageStreamData && t <= MessageStreamRemoveSubscription:
		return record.Stream
	case t >= MessageHistoryData && t <= MessageHistoryRemoveSubscription:
		return record.History
	default:
		return 0
	}
}

// DataMessage returns the data message of contract c.
func DataMessage(c record.Contract) MessageType {
	switch c {
	case record.Stream:
		return MessageStreamData
	case record.History:
		return MessageHistoryData
	default:
		return MessageTickerData
	}
}

// SubscriptionMessage returns the add or remove subscription message of contract c.
func SubscriptionMessage(c record.Contract, add bool) MessageType {
	t := DataMessage(c) + 2
	if add {
		t--
	}

	return t
}

// ParseMessageType parses a message name such as "TICKER_DATA", ignoring case.
func ParseMessageType(name string) (MessageType, error) {
	for t, n := range messageNames {
		if strings.EqualFold(n, name) {
			return t, nil
		}
	}

	return 0, fmt.Errorf("%w: %q", errs.ErrUnknownMessage, name)
}

// Protocol property keys.
const (
	PropertyTime = "time"
	PropertyOpt  = "opt"
)

// ProtocolMagic starts every binary protocol description.
const ProtocolMagic = "DXP3"

// ProtocolDescriptor describes the sender of a stream: the messages it may
// send and free-form properties such as the timestamps mode.
type ProtocolDescriptor struct {
	Send       []MessageType
	Properties map[string]string
}

// NewProtocolDescriptor creates a descriptor that announces send.
func NewProtocolDescriptor(send ...MessageType) *ProtocolDescriptor {
	return &ProtocolDescriptor{Send: send, Properties: map[string]string{}}
}

// Property returns the value of key or "".
func (d *ProtocolDescriptor) Property(key string) string {
	return d.Properties[key]
}

// SetProperty sets key to value; an empty value removes the key.
func (d *ProtocolDescriptor) SetProperty(key, value string) {
	if d.Properties == nil {
		d.Properties = map[string]string{}
	}
	if value == "" {
		delete(d.Properties, key)
		return
	}
	d.Properties[key] = value
}

// CanSend reports whether t is announced.
func (d *ProtocolDescriptor) CanSend(t MessageType) bool {
	return slices.Contains(d.Send, t)
}

func (d *ProtocolDescriptor) sortedKeys() []string {
	return slices.Sorted(maps.Keys(d.Properties))
}

// Heartbeat is a keep-alive message that may carry the sender's time.
type Heartbeat struct {
	TimeMillis int64
	HasTime    bool
}

// Outcome is the result kind of one parse step.
type Outcome uint8

const (
	// NeedMore means the buffered input holds no complete message.
	NeedMore Outcome = iota
	// Parsed means Result.Message holds the next message.
	Parsed
	// Resynced means corrupted input was skipped; Result.Err describes it.
	// Parsing continues with the next call.
	Resynced
	// Fatal means the stream cannot be parsed any further.
	Fatal
)

func (o Outcome) String() string {
	switch o {
	case NeedMore:
		return "need-more"
	case Parsed:
		return "parsed"
	case Resynced:
		return "resynced"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Message is one parsed message. Only the fields matching Type are set.
type Message struct {
	Type      MessageType
	Protocol  *ProtocolDescriptor
	Heartbeat Heartbeat
	Records   []*record.Record
	Entries   []record.Entry
	// Position is the stream offset of the first byte of the message.
	Position int64
}

// Result is returned by Parser.Next.
type Result struct {
	Outcome Outcome
	Message Message
	Err     error
}

// MessageConsumer receives parsed messages.
type MessageConsumer interface {
	HandleProtocol(d *ProtocolDescriptor)
	HandleDescribeRecords(records []*record.Record)
	HandleHeartbeat(hb Heartbeat)
	HandleData(c record.Contract, entries []record.Entry)
	HandleSubscription(c record.Contract, add bool, entries []record.Entry)
}

// ConsumerAdapter implements MessageConsumer with methods that do nothing.
// Embed it to handle only some messages.
type ConsumerAdapter struct{}

func (ConsumerAdapter) HandleProtocol(*ProtocolDescriptor) {}
func (ConsumerAdapter) HandleDescribeRecords([]*record.Record) {}
func (ConsumerAdapter) HandleHeartbeat(Heartbeat) {}
func (ConsumerAdapter) HandleData(record.Contract, []record.Entry) {}
func (ConsumerAdapter) HandleSubscription(record.Contract, bool, []record.Entry) {}

var _ MessageConsumer = ConsumerAdapter{}

// Deliver passes m to the matching consumer method.
func Deliver(c MessageConsumer, m *Message) {
	switch {
	case m.Type == MessageDescribeProtocol:
		c.HandleProtocol(m.Protocol)
	case m.Type == MessageDescribeRecords:
		c.HandleDescribeRecords(m.Records)
	case m.Type == MessageHeartbeat:
		c.HandleHeartbeat(m.Heartbeat)
	case m.Type.IsData():
		c.HandleData(m.Type.Contract(), m.Entries)
	case m.Type.IsSubscription():
		c.HandleSubscription(m.Type.Contract(), m.Type.IsAddSubscription(), m.Entries)
	}
}
