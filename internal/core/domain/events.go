package domain

import "context"

const DistributionTopic = "distribution"

type EventType uint8

const (
	EventTypeUndefined EventType = iota
	EventTypeDistributionInitiated
	EventTypeReadDataReceived
	EventTypeFeesBridgedOut
	EventTypeBridgingCompleted
	EventTypeDistributePending
	EventTypeDistributionCompleted
	EventTypeReferralRewardsSent
	EventTypeTokensWithdrawn
)

func (t EventType) String() string {
	switch t {
	case EventTypeDistributionInitiated:
		return "DistributionInitiated"
	case EventTypeReadDataReceived:
		return "ReadDataReceived"
	case EventTypeFeesBridgedOut:
		return "FeesBridgedOut"
	case EventTypeBridgingCompleted:
		return "BridgingCompleted"
	case EventTypeDistributePending:
		return "DistributePending"
	case EventTypeDistributionCompleted:
		return "DistributionCompleted"
	case EventTypeReferralRewardsSent:
		return "ReferralRewardsSent"
	case EventTypeTokensWithdrawn:
		return "TokensWithdrawn"
	default:
		return "Undefined"
	}
}

type Event interface {
	GetType() EventType
	GetCycleID() string
}

// DistributionEvent is embedded by every event. Amounts in events are decimal
// strings.
type DistributionEvent struct {
	Id        string
	Type      EventType
	Timestamp int64
}

func (e DistributionEvent) GetType() EventType {
	return e.Type
}

func (e DistributionEvent) GetCycleID() string {
	return e.Id
}

type DistributionInitiated struct {
	DistributionEvent
	RequestID           string
	CurrentChainID      uint64
	CurrentFeeAmount    string
	CurrentStakedAmount string
}

type ReadDataReceived struct {
	DistributionEvent
	ResponseTimestamp int64
	TotalFeeAmount    string
	TotalStakedAmount string
	RequiredFeeAmount string
}

type FeesBridgedOut struct {
	DistributionEvent
	DestinationChainID uint64
	Amount             string
	MinAmountOut       string
}

type BridgingCompleted struct {
	DistributionEvent
	CurrentBalance string
}

type DistributePending struct {
	DistributionEvent
	RequiredFeeAmount string
	CurrentBalance    string
}

type DistributionCompleted struct {
	DistributionEvent
	FeeTokenDistributed string
	TotalRewardAmount   string
	ForTreasury         string
	ForExternalService  string
	ForReferralRewards  string
	Residual            string
}

type ReferralRewardsSent struct {
	DistributionEvent
	Token    string
	Accounts int
	Amount   string
}

type TokensWithdrawn struct {
	DistributionEvent
	Token    string
	Receiver string
	Amount   string
}

type EventRepository interface {
	Save(ctx context.Context, topic, id string, events []Event) error
	RegisterEventsHandler(topic string, handler func(events []Event))
	ClearRegisteredHandlers(topics ...string)
	Close()
}
