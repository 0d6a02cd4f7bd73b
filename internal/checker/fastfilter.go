package checker

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/price-monitor-bot/internal/types"
	log "github.com/sirupsen/logrus"
)

// FastConnectFilter drops candidates that do not accept a TCP connection.
// The relative order of the survivors is preserved.
func FastConnectFilter(ctx context.Context, candidates []types.ProxyCandidate, timeoutMs int, concurrency int) []types.ProxyCandidate {
	if len(candidates) == 0 {
		return candidates
	}
	if concurrency < 1 {
		concurrency = 1
	}

	startTime := time.Now()
	timeout := time.Duration(timeoutMs) * time.Millisecond

	connectable := make([]bool, len(candidates))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, candidate := range candidates {
		if ctx.Err() != nil {
			break
		}

		sem <- struct{}{}
		wg.Add(1)

		go func(idx int, address string) {
			defer wg.Done()
			defer func() { <-sem }()

			connectable[idx] = testTCPConnection(ctx, address, timeout)
		}(i, candidate.Address)
	}

	wg.Wait()

	filtered := make([]types.ProxyCandidate, 0, len(candidates))
	for i, ok := range connectable {
		if ok {
			filtered = append(filtered, candidates[i])
		}
	}

	log.Infof("Fast filter complete: %d/%d connectable in %v",
		len(filtered), len(candidates), time.Since(startTime))

	return filtered
}

// testTCPConnection tests if a TCP connection can be established
func testTCPConnection(ctx context.Context, address string, timeout time.Duration) bool {
	if i := strings.LastIndex(address, "@"); i >= 0 {
		address = address[i+1:]
	}

	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
