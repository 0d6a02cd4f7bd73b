package proxycache

import (
	"bufio"
	"bytes"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/price-monitor-bot/internal/types"
	log "github.com/sirupsen/logrus"
)

// Cache is a newline-delimited file of previously validated proxies. Its
// contents are trusted only while the file's modification time is younger
// than the TTL.
type Cache struct {
	path string
	ttl  time.Duration
	mu   sync.Mutex

	now     func() time.Time
	shuffle func(n int, swap func(i, j int))
}

func NewCache(path string, ttl time.Duration) *Cache {
	return &Cache{
		path:    path,
		ttl:     ttl,
		now:     time.Now,
		shuffle: rand.Shuffle,
	}
}

// Load returns the cached candidates in random order, or nothing when the
// file is missing, unreadable or expired.
func (c *Cache) Load() []types.ProxyCandidate {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, err := os.Stat(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("Failed to stat proxy cache: %v", err)
		}
		return nil
	}

	age := c.now().Sub(info.ModTime())
	if age >= c.ttl {
		log.Infof("Proxy cache expired (age %v, ttl %v)", age.Round(time.Second), c.ttl)
		return nil
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		log.Warnf("Failed to read proxy cache: %v", err)
		return nil
	}

	candidates := parseLines(data, info.ModTime())
	c.shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})

	log.Debugf("Loaded %d cached proxies (age %v)", len(candidates), age.Round(time.Second))
	return candidates
}

// Save replaces the cache contents
func (c *Cache) Save(candidates []types.ProxyCandidate) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	var buf bytes.Buffer
	for _, candidate := range candidates {
		buf.WriteString(candidate.URL())
		buf.WriteByte('\n')
	}

	// Atomic write: write to temp file, then rename
	tempPath := c.path + ".tmp"
	if err := os.WriteFile(tempPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := os.Rename(tempPath, c.path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}

	return nil
}

func parseLines(data []byte, fetchedAt time.Time) []types.ProxyCandidate {
	candidates := make([]types.ProxyCandidate, 0)
	scanner := bufio.NewScanner(bytes.NewReader(data))

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		protocol := "http"
		if scheme, rest, ok := strings.Cut(line, "://"); ok {
			protocol = scheme
			line = rest
		}
		if protocol == "https" {
			protocol = "http"
		}

		candidates = append(candidates, types.ProxyCandidate{
			Address:   line,
			Protocol:  protocol,
			FetchedAt: fetchedAt,
		})
	}

	return candidates
}
