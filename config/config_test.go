package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ABANDONED_ORDER_MINUTES", "")
	t.Setenv("STORE_DRIVER", "")

	cfg := Load()

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 30*time.Minute, cfg.Scheduler.AbandonedOrderAge)
	assert.Equal(t, 15*time.Minute, cfg.Promotion.VoucherReservationTTL)
	assert.Equal(t, 2, cfg.Scheduler.Workers)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "Memory")
	t.Setenv("ABANDONED_ORDER_MINUTES", "45")
	t.Setenv("KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("SWEEP_WORKERS", "not-a-number")

	cfg := Load()

	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 45*time.Minute, cfg.Scheduler.AbandonedOrderAge)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 2, cfg.Scheduler.Workers)
}
