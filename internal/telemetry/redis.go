package telemetry

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
)

// RedisCommands observes redis command latency by command and result (ok, nil, error).
var RedisCommands = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Name:      "redis_command_duration_seconds",
	Help:      "Redis command latency.",
	Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
}, []string{"command", "result"})

// MonitorRedis adds tracing, latency metrics and command logging to r.
func MonitorRedis(r redis.UniversalClient) error {
	if err := redisotel.InstrumentTracing(r); err != nil {
		return fmt.Errorf("instrument tracing: %w", err)
	}
	if err := redisotel.InstrumentMetrics(r); err != nil {
		return fmt.Errorf("instrument metrics: %w", err)
	}
	r.AddHook(redisHook{})
	return nil
}

type redisHook struct{}

func (redisHook) DialHook(hook redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := hook(ctx, network, addr)
		if err != nil {
			slog.WarnContext(ctx, "redis: dial failed", "network", network, "addr", addr, "error", err)
			return nil, err
		}

		slog.DebugContext(ctx, "redis: connected", "network", network, "addr", addr)
		return conn, nil
	}
}

func (redisHook) ProcessHook(hook redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := hook(ctx, cmd)
		observeRedis(ctx, cmd.Name(), time.Since(start), err)
		return err
	}
}

func (redisHook) ProcessPipelineHook(hook redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := hook(ctx, cmds)
		observeRedis(ctx, "pipeline", time.Since(start), err)
		return err
	}
}

func observeRedis(ctx context.Context, command string, latency time.Duration, err error) {
	result := "ok"
	switch {
	case stderrors.Is(err, redis.Nil):
		result = "nil"
	case err != nil:
		result = "error"
		slog.WarnContext(ctx, "redis: command failed", "command", command, "latency", latency, "error", err)
	default:
		slog.DebugContext(ctx, "redis: command", "command", command, "latency", latency)
	}

	RedisCommands.WithLabelValues(command, result).Observe(latency.Seconds())
}
