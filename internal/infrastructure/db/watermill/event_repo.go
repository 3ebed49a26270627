package watermilldb

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/arkade-os/fee-distributor/internal/core/domain"
	log "github.com/sirupsen/logrus"
)

const idMetadataKey = "id"

type subscriber struct {
	topic   string
	handler func(events []domain.Event)
}

type eventRepository struct {
	publisher  message.Publisher
	subscriber message.Subscriber

	ctx    context.Context
	cancel context.CancelFunc
	wg     *sync.WaitGroup

	subscribers    map[string][]subscriber // topic -> subscribers
	listening      map[string]struct{}
	subscriberLock *sync.Mutex
}

// NewWatermillEventRepository publishes every saved batch of events as a
// single message and dispatches the batches received from the subscriber to
// the registered handlers, in publishing order.
func NewWatermillEventRepository(
	pub message.Publisher, sub message.Subscriber,
) domain.EventRepository {
	ctx, cancel := context.WithCancel(context.Background())
	return &eventRepository{
		publisher:      pub,
		subscriber:     sub,
		ctx:            ctx,
		cancel:         cancel,
		wg:             &sync.WaitGroup{},
		subscribers:    make(map[string][]subscriber),
		listening:      make(map[string]struct{}),
		subscriberLock: &sync.Mutex{},
	}
}

func (e *eventRepository) ClearRegisteredHandlers(topics ...string) {
	e.subscriberLock.Lock()
	defer e.subscriberLock.Unlock()

	if len(topics) == 0 {
		e.subscribers = make(map[string][]subscriber)
		return
	}

	for _, topic := range topics {
		delete(e.subscribers, topic)
	}
}

func (e *eventRepository) Close() {
	e.cancel()
	//nolint:errcheck
	e.publisher.Close()
	//nolint:errcheck
	e.subscriber.Close()
	e.wg.Wait()
}

func (e *eventRepository) RegisterEventsHandler(
	topic string, handler func(events []domain.Event),
) {
	e.subscriberLock.Lock()
	defer e.subscriberLock.Unlock()

	if _, ok := e.listening[topic]; !ok {
		messages, err := e.subscriber.Subscribe(e.ctx, topic)
		if err != nil {
			log.WithError(err).Errorf("failed to subscribe to topic %s", topic)
			return
		}
		e.listening[topic] = struct{}{}
		e.wg.Add(1)
		go e.listen(topic, messages)
	}

	e.subscribers[topic] = append(e.subscribers[topic], subscriber{
		topic:   topic,
		handler: handler,
	})
}

func (e *eventRepository) Save(
	_ context.Context, topic string, id string, events []domain.Event,
) error {
	if len(events) == 0 {
		return nil
	}

	payload, err := json.Marshal(toRecords(events))
	if err != nil {
		return fmt.Errorf("failed to serialize events: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(idMetadataKey, id)

	return e.publisher.Publish(topic, msg)
}

func (e *eventRepository) listen(topic string, messages <-chan *message.Message) {
	defer e.wg.Done()

	for msg := range messages {
		events, err := deserializeEvents(msg.Payload)
		if err != nil {
			log.WithError(err).Warnf(
				"failed to deserialize events of %s %s", topic, msg.Metadata.Get(idMetadataKey),
			)
			msg.Ack()
			continue
		}
		e.dispatch(topic, events)
		msg.Ack()
	}
}

func (e *eventRepository) dispatch(topic string, events []domain.Event) {
	e.subscriberLock.Lock()
	subscribers := append([]subscriber{}, e.subscribers[topic]...)
	e.subscriberLock.Unlock()

	for _, subscriber := range subscribers {
		subscriber.handler(events)
	}
}

type record struct {
	Type  domain.EventType
	Event json.RawMessage
}

func toRecords(events []domain.Event) []record {
	records := make([]record, 0, len(events))
	for _, event := range events {
		buf, err := json.Marshal(event)
		if err != nil {
			log.WithError(err).Warnf("failed to serialize event %s", event.GetType())
			continue
		}
		records = append(records, record{Type: event.GetType(), Event: buf})
	}
	return records
}

func deserializeEvents(buf []byte) ([]domain.Event, error) {
	var records []record
	if err := json.Unmarshal(buf, &records); err != nil {
		return nil, err
	}

	events := make([]domain.Event, 0, len(records))
	for _, record := range records {
		event, err := deserializeEvent(record.Type, record.Event)
		if err != nil {
			log.WithError(err).Warnf("failed to deserialize event: %s", string(record.Event))
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

func deserializeEvent(eventType domain.EventType, buf []byte) (domain.Event, error) {
	var (
		event domain.Event
		err   error
	)
	switch eventType {
	case domain.EventTypeDistributionInitiated:
		e := domain.DistributionInitiated{}
		err = json.Unmarshal(buf, &e)
		event = e
	case domain.EventTypeReadDataReceived:
		e := domain.ReadDataReceived{}
		err = json.Unmarshal(buf, &e)
		event = e
	case domain.EventTypeFeesBridgedOut:
		e := domain.FeesBridgedOut{}
		err = json.Unmarshal(buf, &e)
		event = e
	case domain.EventTypeBridgingCompleted:
		e := domain.BridgingCompleted{}
		err = json.Unmarshal(buf, &e)
		event = e
	case domain.EventTypeDistributePending:
		e := domain.DistributePending{}
		err = json.Unmarshal(buf, &e)
		event = e
	case domain.EventTypeDistributionCompleted:
		e := domain.DistributionCompleted{}
		err = json.Unmarshal(buf, &e)
		event = e
	case domain.EventTypeReferralRewardsSent:
		e := domain.ReferralRewardsSent{}
		err = json.Unmarshal(buf, &e)
		event = e
	case domain.EventTypeTokensWithdrawn:
		e := domain.TokensWithdrawn{}
		err = json.Unmarshal(buf, &e)
		event = e
	default:
		return nil, fmt.Errorf("unknown event type %d", eventType)
	}
	if err != nil {
		return nil, err
	}
	return event, nil
}
