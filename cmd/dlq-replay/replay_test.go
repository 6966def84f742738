package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/messaging/kafka"
)

func TestParseConfig(t *testing.T) {
	cfg, err := parseConfig([]string{"-limit=5", "-execute", "-product-id=P1"}, func(key string) string {
		if key == envKafkaBrokers {
			return " k1:9092, ,k2:9092 "
		}
		return ""
	})
	require.NoError(t, err)
	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.brokers)
	require.Equal(t, kafka.TopicDeadLetterQueue, cfg.sourceTopic)
	require.Equal(t, kafka.TopicOrderEvents, cfg.targetTopic)
	require.Equal(t, 5, cfg.limit)
	require.True(t, cfg.execute)
	require.Equal(t, "P1", cfg.productID)
	require.Equal(t, defaultIdleTimeout, cfg.idleTimeout)
}

func TestParseConfig_Errors(t *testing.T) {
	noEnv := func(string) string { return "" }

	tests := []struct {
		name string
		args []string
	}{
		{name: "no brokers", args: nil},
		{name: "empty source", args: []string{"-brokers=k:9092", "-source-topic="}},
		{name: "same topics", args: []string{"-brokers=k:9092", "-source-topic=a", "-target-topic=a"}},
		{name: "zero limit", args: []string{"-brokers=k:9092", "-limit=0"}},
		{name: "zero idle", args: []string{"-brokers=k:9092", "-idle-timeout=0s"}},
		{name: "bad flag", args: []string{"-limit=many"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseConfig(tc.args, noEnv)
			require.Error(t, err)
		})
	}
}

func TestDecodeDLQMessage(t *testing.T) {
	msg, reason, err := decodeDLQMessage(dlqValue(t, "out-1", "P1", domain.OutboxEventOrderUpdated))
	require.NoError(t, err)
	require.Equal(t, "timeout", reason)
	require.Equal(t, "out-1", msg.ID)
	require.Equal(t, "P1", msg.AggregateID)
	require.Equal(t, domain.AggregateTypeOrder, msg.AggregateType)
	require.Equal(t, domain.OutboxEventOrderUpdated, msg.EventType)
	require.JSONEq(t, `{"product_id":"P1"}`, string(msg.Payload))

	_, _, err = decodeDLQMessage([]byte(`not-json`))
	require.ErrorIs(t, err, errNotReplayable)

	_, _, err = decodeDLQMessage([]byte(`{"id":"x","payload":"oops"}`))
	require.Error(t, err)

	_, _, err = decodeDLQMessage([]byte(`{"id":"x","payload":{"outbox_id":"x"}}`))
	require.Error(t, err)
}

func TestReplayer_DryRunCountsCandidates(t *testing.T) {
	source := newStubSource(map[int32][]*sarama.ConsumerMessage{
		0: {
			consumerMessage(0, 0, dlqValue(t, "a", "P1", domain.OutboxEventOrderCreated)),
			consumerMessage(0, 1, []byte(`garbage`)),
		},
		1: {
			consumerMessage(1, 0, dlqValue(t, "b", "P2", domain.OutboxEventOrderDeleted)),
		},
	})
	r := newTestReplayer(source, nil, func(cfg *config) {})

	stats, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, replayStats{scanned: 3, replayed: 2, skipped: 1}, stats)
	require.Contains(t, stats.String(false), "dry-run")
}

func TestReplayer_ExecutePublishesThroughOutboxEnvelope(t *testing.T) {
	sync := mocks.NewSyncProducer(t, nil)
	sync.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var envelope struct {
			ID          string          `json:"id"`
			AggregateID string          `json:"aggregate_id"`
			EventType   string          `json:"event_type"`
			Payload     json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(val, &envelope); err != nil {
			return err
		}
		if envelope.ID != "a" || envelope.AggregateID != "P1" || envelope.EventType != domain.OutboxEventOrderCreated {
			return errors.New("unexpected replay envelope")
		}
		return nil
	})
	producer := kafka.NewProducerWithSync(sync, log.WithField("test", "dlq-replay"))
	defer func() { require.NoError(t, producer.Close()) }()

	source := newStubSource(map[int32][]*sarama.ConsumerMessage{
		0: {
			consumerMessage(0, 0, dlqValue(t, "a", "P1", domain.OutboxEventOrderCreated)),
			consumerMessage(0, 1, dlqValue(t, "b", "P2", domain.OutboxEventOrderCreated)),
		},
	})
	r := newTestReplayer(source, &kafkaReplayPublisher{producer: producer}, func(cfg *config) {
		cfg.execute = true
		cfg.productID = "P1"
	})

	stats, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, replayStats{scanned: 2, replayed: 1, filtered: 1}, stats)
}

func TestReplayer_ExecuteStopsOnPublishError(t *testing.T) {
	publisher := &stubPublisher{err: errors.New("broker down")}
	source := newStubSource(map[int32][]*sarama.ConsumerMessage{
		0: {consumerMessage(0, 0, dlqValue(t, "a", "P1", domain.OutboxEventOrderCreated))},
	})
	r := newTestReplayer(source, publisher, func(cfg *config) { cfg.execute = true })

	_, err := r.Run(context.Background())
	require.ErrorContains(t, err, "broker down")
}

func TestReplayer_RespectsLimitAndEventTypeFilter(t *testing.T) {
	publisher := &stubPublisher{}
	source := newStubSource(map[int32][]*sarama.ConsumerMessage{
		0: {
			consumerMessage(0, 0, dlqValue(t, "a", "P1", domain.OutboxEventOrderUpdated)),
			consumerMessage(0, 1, dlqValue(t, "b", "P1", domain.OutboxEventOrderDeleted)),
			consumerMessage(0, 2, dlqValue(t, "c", "P1", domain.OutboxEventOrderUpdated)),
		},
	})
	r := newTestReplayer(source, publisher, func(cfg *config) {
		cfg.execute = true
		cfg.limit = 2
		cfg.eventType = domain.OutboxEventOrderUpdated
	})

	stats, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, stats.scanned)
	require.Equal(t, 1, stats.filtered)
	require.Len(t, publisher.published, 1)
	require.Equal(t, kafka.TopicOrderEvents, publisher.topics[0])
}

func TestReplayer_FromNewestStartsNearEnd(t *testing.T) {
	source := newStubSource(map[int32][]*sarama.ConsumerMessage{
		0: {
			consumerMessage(0, 0, dlqValue(t, "a", "P1", domain.OutboxEventOrderCreated)),
			consumerMessage(0, 1, dlqValue(t, "b", "P2", domain.OutboxEventOrderCreated)),
			consumerMessage(0, 2, dlqValue(t, "c", "P3", domain.OutboxEventOrderCreated)),
		},
	})
	r := newTestReplayer(source, nil, func(cfg *config) {
		cfg.fromNewest = true
		cfg.limit = 1
	})

	stats, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.scanned)
	require.Equal(t, []int64{2}, source.startOffsets)
}

func TestReplayer_Guards(t *testing.T) {
	r := &replayer{cfg: config{execute: true}, logger: log.WithField("test", "guards")}
	_, err := r.Run(context.Background())
	require.Error(t, err)

	r = newTestReplayer(newStubSource(nil), nil, func(cfg *config) { cfg.execute = true })
	_, err = r.Run(context.Background())
	require.ErrorContains(t, err, "publisher is required")
}

func TestReplayer_IdleTimeoutAndCancel(t *testing.T) {
	source := newStubSource(map[int32][]*sarama.ConsumerMessage{0: nil})
	// сообщение «обещано» offset'ами, но не приходит
	source.newest[0] = 1
	source.keepOpen = true

	r := newTestReplayer(source, nil, func(cfg *config) { cfg.idleTimeout = 20 * time.Millisecond })
	stats, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, stats.scanned)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r = newTestReplayer(source, nil, func(cfg *config) { cfg.idleTimeout = time.Minute })
	_, err = r.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestFailExits(t *testing.T) {
	if os.Getenv("DLQ_REPLAY_TEST_FAIL_EXIT") == "1" {
		fail("forced failure %d", 42)
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestFailExits")
	cmd.Env = append(os.Environ(), "DLQ_REPLAY_TEST_FAIL_EXIT=1")
	err := cmd.Run()

	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr))
	require.NotZero(t, exitErr.ExitCode())
}

func newTestReplayer(source *stubSource, publisher replayPublisher, tune func(cfg *config)) *replayer {
	cfg := config{
		brokers:     []string{"localhost:9092"},
		sourceTopic: kafka.TopicDeadLetterQueue,
		targetTopic: kafka.TopicOrderEvents,
		limit:       defaultReplayLimit,
		idleTimeout: time.Second,
	}
	tune(&cfg)
	return &replayer{
		cfg:       cfg,
		offsets:   source,
		consumer:  source,
		publisher: publisher,
		logger:    log.WithField("test", "dlq-replay"),
	}
}

// dlqValue повторяет формат, в котором outbox-воркер пишет сообщения в DLQ.
func dlqValue(t *testing.T, id, productID, eventType string) []byte {
	t.Helper()

	record, err := json.Marshal(map[string]any{
		"outbox_id":      id,
		"aggregate_type": domain.AggregateTypeOrder,
		"aggregate_id":   productID,
		"event_type":     eventType,
		"payload":        map[string]string{"product_id": productID},
		"publish_error":  "timeout",
	})
	require.NoError(t, err)

	value, err := json.Marshal(map[string]any{
		"id":             id,
		"aggregate_type": domain.AggregateTypeOrder,
		"aggregate_id":   productID,
		"event_type":     eventType,
		"payload":        json.RawMessage(record),
	})
	require.NoError(t, err)
	return value
}

func consumerMessage(partition int32, offset int64, value []byte) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{Topic: kafka.TopicDeadLetterQueue, Partition: partition, Offset: offset, Value: value}
}

type stubSource struct {
	messages     map[int32][]*sarama.ConsumerMessage
	newest       map[int32]int64
	keepOpen     bool
	startOffsets []int64
}

func newStubSource(messages map[int32][]*sarama.ConsumerMessage) *stubSource {
	newest := make(map[int32]int64, len(messages))
	for partition, msgs := range messages {
		newest[partition] = int64(len(msgs))
	}
	return &stubSource{messages: messages, newest: newest}
}

func (s *stubSource) Partitions(string) ([]int32, error) {
	partitions := make([]int32, 0, len(s.messages))
	for partition := range s.messages {
		partitions = append(partitions, partition)
	}
	return partitions, nil
}

func (s *stubSource) GetOffset(_ string, partition int32, marker int64) (int64, error) {
	if marker == sarama.OffsetOldest {
		return 0, nil
	}
	return s.newest[partition], nil
}

func (s *stubSource) ConsumePartition(_ string, partition int32, offset int64) (partitionReader, error) {
	s.startOffsets = append(s.startOffsets, offset)

	all := s.messages[partition]
	ch := make(chan *sarama.ConsumerMessage, len(all))
	for _, msg := range all {
		if msg.Offset >= offset {
			ch <- msg
		}
	}
	if !s.keepOpen {
		close(ch)
	}
	return &stubReader{messages: ch, errors: make(chan *sarama.ConsumerError)}, nil
}

func (s *stubSource) Close() error { return nil }

type stubReader struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
}

func (r *stubReader) Messages() <-chan *sarama.ConsumerMessage { return r.messages }
func (r *stubReader) Errors() <-chan *sarama.ConsumerError     { return r.errors }
func (r *stubReader) Close() error                             { return nil }

type stubPublisher struct {
	err       error
	topics    []string
	published []domain.OutboxMessage
}

func (p *stubPublisher) Publish(topic string, message domain.OutboxMessage) error {
	if p.err != nil {
		return p.err
	}
	p.topics = append(p.topics, topic)
	p.published = append(p.published, message)
	return nil
}
