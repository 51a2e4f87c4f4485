package cache

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	DomainModels      = "models"
	DomainMetrics     = "metrics"
	DomainLeaderboard = "leaderboard"
	DomainStatistics  = "statistics"
)

var ErrUnknownDomain = errors.New("unknown cache domain")

// TTLs sets the lifetime of each domain. Leaderboard rankings change with
// every submission; statistics are close to static.
type TTLs struct {
	Models      time.Duration
	Metrics     time.Duration
	Leaderboard time.Duration
	Statistics  time.Duration
}

func DefaultTTLs() TTLs {
	return TTLs{
		Models:      5 * time.Minute,
		Metrics:     10 * time.Minute,
		Leaderboard: 2 * time.Minute,
		Statistics:  30 * time.Minute,
	}
}

// Manager owns one Store per domain. It is built once at startup and passed
// to whatever needs cached reads.
type Manager struct {
	stores map[string]*Store
	order  []string
}

func NewManager(ttls TTLs, opts ...StoreOption) *Manager {
	m := &Manager{stores: make(map[string]*Store)}
	m.add(NewStore(DomainModels, ttls.Models, opts...))
	m.add(NewStore(DomainMetrics, ttls.Metrics, opts...))
	m.add(NewStore(DomainLeaderboard, ttls.Leaderboard, opts...))
	m.add(NewStore(DomainStatistics, ttls.Statistics, opts...))
	return m
}

func (m *Manager) add(s *Store) {
	m.stores[s.Name()] = s
	m.order = append(m.order, s.Name())
}

func (m *Manager) Store(domain string) (*Store, error) {
	s, ok := m.stores[domain]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDomain, domain)
	}
	return s, nil
}

func (m *Manager) Models() *Store      { return m.stores[DomainModels] }
func (m *Manager) Metrics() *Store     { return m.stores[DomainMetrics] }
func (m *Manager) Leaderboard() *Store { return m.stores[DomainLeaderboard] }
func (m *Manager) Statistics() *Store  { return m.stores[DomainStatistics] }

func (m *Manager) Invalidate(domain string) error {
	s, err := m.Store(domain)
	if err != nil {
		return err
	}
	s.InvalidateAll()
	return nil
}

// InvalidateAll flushes every domain.
func (m *Manager) InvalidateAll() {
	for _, name := range m.order {
		m.stores[name].InvalidateAll()
	}
}

func (m *Manager) Stats() []Stats {
	out := make([]Stats, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.stores[name].Stats())
	}
	return out
}

// Key builds a deterministic cache key from a query family and its
// parameters, e.g. Key("models", map[string]any{"limit": 10, "offset": 0})
// is "models:limit=10&offset=0".
func Key(prefix string, params map[string]any) string {
	if len(params) == 0 {
		return prefix
	}
	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(prefix)
	b.WriteByte(':')
	for i, k := range names {
		if i > 0 {
			b.WriteByte('&')
		}
		fmt.Fprintf(&b, "%s=%v", k, params[k])
	}
	return b.String()
}
