// Package kafka holds broker-level helpers shared by the producer and consumer.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/twmb/franz-go/pkg/kgo"
)

// SplitBrokers turns a comma separated broker list into seed addresses.
func SplitBrokers(raw string) []string {
	var out []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// HealthChecker pings the cluster with a short-lived client.
type HealthChecker struct {
	brokers []string
}

func NewHealthChecker(brokers string) *HealthChecker {
	return &HealthChecker{brokers: SplitBrokers(brokers)}
}

// Check returns nil if at least one seed broker answers.
func (h *HealthChecker) Check(ctx context.Context) error {
	if len(h.brokers) == 0 {
		return errors.New("kafka brokers not configured")
	}
	client, err := kgo.NewClient(kgo.SeedBrokers(h.brokers...))
	if err != nil {
		return fmt.Errorf("kafka client: %w", err)
	}
	defer client.Close()

	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("no kafka brokers reachable: %w", err)
	}
	return nil
}

func (h *HealthChecker) Name() string {
	return "kafka"
}
