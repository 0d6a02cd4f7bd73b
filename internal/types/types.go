package types

import (
	"net"
	"strings"
	"time"
)

// ProxyCandidate represents a single outbound proxy endpoint
type ProxyCandidate struct {
	Address   string    `json:"address"`  // host:port, optionally user:pass@host:port
	Protocol  string    `json:"protocol"` // "http", "socks5"
	FetchedAt time.Time `json:"fetched_at"`
	Validated bool      `json:"validated"`
}

// Host returns the candidate's host without credentials or port
func (p ProxyCandidate) Host() string {
	addr := p.Address
	if i := strings.LastIndex(addr, "@"); i >= 0 {
		addr = addr[i+1:]
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// URL returns the candidate in scheme://address form
func (p ProxyCandidate) URL() string {
	protocol := p.Protocol
	if protocol == "" {
		protocol = "http"
	}
	return protocol + "://" + p.Address
}

// MonitorState is the record persisted between invocations
type MonitorState struct {
	FirstRun       bool    `json:"first_run"`
	DailyMin       float64 `json:"daily_min"`
	LastReportDate string  `json:"last_report_date"` // YYYY-MM-DD in the monitoring timezone
}

// Initialized reports whether anything has been persisted yet. Records
// written without first_run still count as tracking.
func (s *MonitorState) Initialized() bool {
	return s != nil && (s.FirstRun || s.LastReportDate != "" || s.DailyMin != 0)
}

// Observation is the outcome of one page fetch: a price or an explicit absence
type Observation struct {
	Price     float64
	Available bool
	Reason    string
}

// PriceObserved returns an available observation
func PriceObserved(price float64) Observation {
	return Observation{Price: price, Available: true}
}

// PriceAbsent returns an absence carrying the reason
func PriceAbsent(reason string) Observation {
	return Observation{Reason: reason}
}

// NotificationKind names the outbound message types
type NotificationKind string

const (
	NotifyStarted        NotificationKind = "started"
	NotifyBelowThreshold NotificationKind = "below_threshold"
	NotifyDailyReport    NotificationKind = "daily_report"
)

// Notification is a message requested by the state machine
type Notification struct {
	Kind       NotificationKind
	Price      float64
	Threshold  float64
	ReportDate string  // daily_report only
	DailyMin   float64 // daily_report only
}
