package bus

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"

	apperrors "github.com/ricesearch/greeneval/internal/pkg/errors"
	"github.com/ricesearch/greeneval/internal/pkg/logger"
)

// Record headers set on every produced message.
const (
	headerType        = "greeneval-type"
	headerSource      = "greeneval-source"
	headerCorrelation = "greeneval-correlation-id"
)

// Consumer restart backoff bounds.
const (
	minRestartDelay = time.Second
	maxRestartDelay = 30 * time.Second
)

// KafkaConfig holds Kafka connection settings.
type KafkaConfig struct {
	Brokers       []string
	ConsumerGroup string
	ClientID      string

	// Version is the broker protocol version, e.g. "2.8.0".
	Version string
}

// withDefaults fills optional fields and parses the protocol version.
func (cfg KafkaConfig) withDefaults() (KafkaConfig, sarama.KafkaVersion, error) {
	if len(cfg.Brokers) == 0 {
		return cfg, sarama.KafkaVersion{}, apperrors.ConfigurationError("kafka brokers cannot be empty")
	}
	if cfg.ConsumerGroup == "" {
		return cfg, sarama.KafkaVersion{}, apperrors.ConfigurationError("kafka consumer group cannot be empty")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "greeneval-bus"
	}
	if cfg.Version == "" {
		cfg.Version = "2.8.0"
	}
	version, err := sarama.ParseKafkaVersion(cfg.Version)
	if err != nil {
		return cfg, sarama.KafkaVersion{}, apperrors.Wrap(apperrors.CodeConfiguration, "invalid kafka version", err)
	}
	return cfg, version, nil
}

func saramaConfig(cfg KafkaConfig, version sarama.KafkaVersion) *sarama.Config {
	sc := sarama.NewConfig()
	sc.Version = version
	sc.ClientID = cfg.ClientID

	sc.Producer.Return.Successes = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 3
	sc.Producer.Partitioner = sarama.NewHashPartitioner

	sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	sc.Consumer.Return.Errors = true

	sc.Net.DialTimeout = 10 * time.Second
	sc.Net.ReadTimeout = 10 * time.Second
	sc.Net.WriteTimeout = 10 * time.Second
	return sc
}

// KafkaBus publishes events to Kafka topics and dispatches consumed events
// to local handlers. Each subscribed topic gets its own consumer loop in the
// configured consumer group, so every process in the group sees a share of
// the events.
type KafkaBus struct {
	producer sarama.SyncProducer
	group    sarama.ConsumerGroup
	client   sarama.Client
	log      *logger.Logger

	mu       sync.RWMutex
	handlers map[string][]Handler
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewKafkaBus connects to the brokers in cfg.
func NewKafkaBus(cfg KafkaConfig, log *logger.Logger) (*KafkaBus, error) {
	cfg, version, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Default()
	}

	client, err := sarama.NewClient(cfg.Brokers, saramaConfig(cfg, version))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnavailable, "connect to kafka", err)
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		client.Close()
		return nil, apperrors.Wrap(apperrors.CodeUnavailable, "create kafka producer", err)
	}
	group, err := sarama.NewConsumerGroupFromClient(cfg.ConsumerGroup, client)
	if err != nil {
		producer.Close()
		client.Close()
		return nil, apperrors.Wrap(apperrors.CodeUnavailable, "create kafka consumer group", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &KafkaBus{
		producer: producer,
		group:    group,
		client:   client,
		log:      &logger.Logger{Logger: log.With("bus", "kafka", "group", cfg.ConsumerGroup)},
		handlers: make(map[string][]Handler),
		ctx:      ctx,
		cancel:   cancel,
	}

	b.wg.Add(1)
	go b.logGroupErrors()
	return b, nil
}

// encodeMessage builds the producer message for event. Messages sharing a
// correlation ID hash to one partition and keep their order.
func encodeMessage(topic string, event Event) (*sarama.ProducerMessage, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "encode event", err)
	}

	key := event.CorrelationID
	if key == "" {
		key = event.ID
	}
	headers := []sarama.RecordHeader{
		{Key: []byte(headerType), Value: []byte(event.Type)},
		{Key: []byte(headerSource), Value: []byte(event.Source)},
	}
	if event.CorrelationID != "" {
		headers = append(headers, sarama.RecordHeader{Key: []byte(headerCorrelation), Value: []byte(event.CorrelationID)})
	}
	return &sarama.ProducerMessage{
		Topic:   topic,
		Key:     sarama.StringEncoder(key),
		Value:   sarama.ByteEncoder(data),
		Headers: headers,
	}, nil
}

// decodeMessage parses a consumed message. Headers fill fields the body
// leaves empty.
func decodeMessage(msg *sarama.ConsumerMessage) (Event, error) {
	var event Event
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return Event{}, apperrors.Wrap(apperrors.CodeFormat, "decode kafka message", err)
	}
	for _, h := range msg.Headers {
		if h == nil {
			continue
		}
		switch string(h.Key) {
		case headerType:
			if event.Type == "" {
				event.Type = string(h.Value)
			}
		case headerSource:
			if event.Source == "" {
				event.Source = string(h.Value)
			}
		case headerCorrelation:
			if event.CorrelationID == "" {
				event.CorrelationID = string(h.Value)
			}
		}
	}
	return event, nil
}

// Publish sends event and waits for all in-sync replicas to acknowledge it.
func (b *KafkaBus) Publish(ctx context.Context, topic string, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return apperrors.New(apperrors.CodeUnavailable, "bus is closed")
	}

	msg, err := encodeMessage(topic, event)
	if err != nil {
		return err
	}
	if _, _, err := b.producer.SendMessage(msg); err != nil {
		return apperrors.Wrap(apperrors.CodeUnavailable, "publish to kafka topic "+topic, err)
	}
	return nil
}

// Subscribe adds handler for topic. The first handler on a topic starts its
// consumer loop.
func (b *KafkaBus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return apperrors.New(apperrors.CodeUnavailable, "bus is closed")
	}

	first := len(b.handlers[topic]) == 0
	b.handlers[topic] = append(b.handlers[topic], handler)
	if first {
		b.wg.Add(1)
		go b.consume(topic)
	}
	return nil
}

// consume runs consumer group sessions for topic until Close, backing off
// between failed sessions.
func (b *KafkaBus) consume(topic string) {
	defer b.wg.Done()

	h := &groupHandler{bus: b, topic: topic}
	delay := minRestartDelay
	for {
		err := b.group.Consume(b.ctx, []string{topic}, h)
		if b.ctx.Err() != nil {
			return
		}
		if err != nil {
			b.log.WithError(err).Warn("Kafka consumer session failed", "topic", topic, "retry_in", delay)
		} else {
			delay = minRestartDelay
		}

		timer := time.NewTimer(delay)
		select {
		case <-b.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if err != nil {
			delay = min(delay*2, maxRestartDelay)
		}
	}
}

// logGroupErrors drains the consumer group error channel until it closes.
func (b *KafkaBus) logGroupErrors() {
	defer b.wg.Done()
	for err := range b.group.Errors() {
		b.log.WithError(err).Warn("Kafka consumer error")
	}
}

func (b *KafkaBus) handlersFor(topic string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.handlers[topic]
}

// Close stops the consumers and closes the connections. Closing twice is a
// no-op.
func (b *KafkaBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	// Closing the group ends its error channel and any running session.
	groupErr := b.group.Close()
	b.wg.Wait()

	err := errors.Join(groupErr, b.producer.Close(), b.client.Close())
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "close kafka bus", err)
	}
	return nil
}

// groupHandler dispatches one topic's messages to the bus handlers.
type groupHandler struct {
	bus   *KafkaBus
	topic string
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim delivers each message to every handler and marks it consumed.
// Undecodable messages and handler failures are logged and skipped.
func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.dispatch(session.Context(), msg)
			session.MarkMessage(msg, "")
		}
	}
}

func (h *groupHandler) dispatch(ctx context.Context, msg *sarama.ConsumerMessage) {
	event, err := decodeMessage(msg)
	if err != nil {
		h.bus.log.WithError(err).Warn("Dropping kafka message", "topic", h.topic,
			"partition", msg.Partition, "offset", msg.Offset)
		return
	}
	for _, handler := range h.bus.handlersFor(h.topic) {
		if err := handler(ctx, event); err != nil {
			h.bus.log.WithError(err).Warn("Event handler failed", "topic", h.topic, "event_id", event.ID)
		}
	}
}

// ParseKafkaBrokers splits a comma-separated broker list, dropping blanks.
func ParseKafkaBrokers(s string) []string {
	var brokers []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
