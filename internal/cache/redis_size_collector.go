package cache

import (
	"context"
	"strconv"
	"strings"
	"time"

	"flight_booking/internal/logger"
	"flight_booking/internal/metrics"

	"github.com/redis/go-redis/v9"
)

func StartRedisSizeCollector(ctx context.Context, client *redis.Client, interval time.Duration, log logger.Logger) {
	if client == nil {
		return
	}
	log = logger.OrNop(log)
	if interval <= 0 {
		interval = 30 * time.Second
	}

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		update := func() {
			info, err := client.Info(ctx, "memory").Result()
			if err != nil {
				metrics.IncCacheError(opGet)
				log.Debug("redis info failed", "error", err)
				return
			}
			if n, ok := parseUsedMemory(info); ok {
				metrics.SetCacheSizeBytes(n)
			}
		}

		update()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				update()
			}
		}
	}()
}

// StartMemorySweeper periodically evicts expired entries from a MemoryCache.
func StartMemorySweeper(ctx context.Context, c *MemoryCache, interval time.Duration, log logger.Logger) {
	if c == nil {
		return
	}
	log = logger.OrNop(log)
	if interval <= 0 {
		interval = time.Minute
	}

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n := c.Sweep(); n > 0 {
					log.Debug("memory cache sweep", "evicted", n)
				}
				metrics.SetCacheEntries(int64(c.Len()))
			}
		}
	}()
}

// parseUsedMemory finds "used_memory:<bytes>" in INFO memory output.
func parseUsedMemory(info string) (int64, bool) {
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "used_memory:") {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(line, "used_memory:")), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
