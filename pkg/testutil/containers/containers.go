//go:build integration

// Package containers starts the engine's backing services for integration
// tests: a Postgres carrying every migration and a Kafka broker with the case
// event and scored transaction topics already provisioned. Both are started
// once per test binary and reaped by Ryuk when it exits.
package containers

import (
	"context"
	"sync"
	"testing"
	"time"

	"fraudengine/internal/platform/config"
)

// Topics names the engine's Kafka topics as the default configuration does.
type Topics struct {
	// CaseEvents receives outbox notifications.
	CaseEvents string
	// Scored feeds the scored transaction consumer.
	Scored string
}

// EngineTopics returns the topic names the server uses without overrides.
func EngineTopics() Topics {
	k := config.Default().Kafka
	return Topics{CaseEvents: k.NotificationTopic, Scored: k.ScoredTopic}
}

// Fixture hands out the shared services. A failed start is not cached, so
// the next suite tries again.
type Fixture struct {
	mu       sync.Mutex
	postgres *PostgresContainer
	kafka    *KafkaContainer
}

var (
	shared     *Fixture
	sharedOnce sync.Once
)

// Shared returns the fixture for this test binary.
func Shared() *Fixture {
	sharedOnce.Do(func() { shared = &Fixture{} })
	return shared
}

// Postgres returns the migrated database.
func (f *Fixture) Postgres(t *testing.T) *PostgresContainer {
	t.Helper()

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postgres == nil {
		f.postgres = NewPostgresContainer(t)
	}
	return f.postgres
}

// Kafka returns the broker with EngineTopics created.
func (f *Fixture) Kafka(t *testing.T) *KafkaContainer {
	t.Helper()

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.kafka != nil {
		return f.kafka
	}

	k := NewKafkaContainer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	topics := EngineTopics()
	for _, topic := range []string{topics.CaseEvents, topics.Scored} {
		if err := k.CreateTopic(ctx, topic, 3, 1); err != nil {
			t.Fatalf("provision %s: %v", topic, err)
		}
	}
	k.Topics = topics
	f.kafka = k
	return k
}
