//go:build integration

package producer_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"fraudengine/internal/platform/kafka/consumer"
	"fraudengine/internal/platform/kafka/producer"
	"fraudengine/pkg/testutil/containers"
)

type ProducerIntegrationSuite struct {
	suite.Suite
	kafka    *containers.KafkaContainer
	producer *producer.Producer
}

func TestProducerIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(ProducerIntegrationSuite))
}

func (s *ProducerIntegrationSuite) SetupSuite() {
	s.kafka = containers.Shared().Kafka(s.T())

	prod, err := producer.New(producer.Config{
		Brokers:         s.kafka.Brokers,
		Acks:            "all",
		Retries:         3,
		DeliveryTimeout: 10 * time.Second,
	}, nil)
	s.Require().NoError(err)
	s.producer = prod
}

func (s *ProducerIntegrationSuite) TearDownSuite() {
	if s.producer != nil {
		s.producer.Close()
	}
}

// Invariant: Produce returns only after broker acknowledgement and headers survive delivery.
func (s *ProducerIntegrationSuite) TestProduceDeliversWithHeaders() {
	ctx := context.Background()
	topic := s.kafka.Topics.CaseEvents

	err := s.producer.Produce(ctx, &producer.Message{
		Topic:   topic,
		Key:     []byte("case-1"),
		Value:   []byte(`{"event_type":"case_opened"}`),
		Headers: map[string]string{"event_type": "case_opened"},
	})
	s.Require().NoError(err)

	client, err := s.kafka.NewConsumer(ctx, "test-case-events-verify", topic)
	s.Require().NoError(err)
	defer client.Close()

	record := s.kafka.WaitForMessage(ctx, client, 5*time.Second, func(r *kgo.Record) bool {
		return string(r.Key) == "case-1"
	})
	s.Require().NotNil(record)
	s.Require().Len(record.Headers, 1)
	s.Equal("case_opened", string(record.Headers[0].Value))
}

// Invariant: a consumer group sees every produced message and stops cleanly on cancel.
func (s *ProducerIntegrationSuite) TestConsumerReceivesProducedMessages() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	topic := s.kafka.Topics.Scored

	for i := 0; i < 3; i++ {
		s.Require().NoError(s.producer.Produce(ctx, &producer.Message{Topic: topic, Value: []byte("{}")}))
	}

	var mu sync.Mutex
	received := 0
	cons, err := consumer.New(consumer.Config{
		Brokers: s.kafka.Brokers,
		GroupID: "test-scored-group",
		Topics:  []string{topic},
	}, consumer.HandlerFunc(func(context.Context, *consumer.Message) error {
		mu.Lock()
		received++
		mu.Unlock()
		return nil
	}), nil)
	s.Require().NoError(err)

	done := make(chan error, 1)
	go func() { done <- cons.Run(ctx) }()

	s.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return received >= 3
	}, 15*time.Second, 100*time.Millisecond)

	cancel()
	s.NoError(<-done)
}

func (s *ProducerIntegrationSuite) TestProducerHealthy() {
	s.NoError(s.producer.Health(context.Background()))
}
