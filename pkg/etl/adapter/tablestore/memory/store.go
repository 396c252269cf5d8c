// Package memory is an in-process table store used by tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tigerroll/citybike/pkg/etl/adapter/tablestore"
	coreAdapter "github.com/tigerroll/citybike/pkg/etl/core/adapter"
	"github.com/tigerroll/citybike/pkg/etl/core/config"
	"github.com/tigerroll/citybike/pkg/etl/core/domain/model"
	"github.com/tigerroll/citybike/pkg/etl/core/port"
)

const ProviderType = "memory"

// Store keeps tables in maps keyed by id.
type Store struct {
	name    string
	mu      sync.RWMutex
	defs    map[string]model.TableDefinition
	tables  map[string]map[int64]model.TableRecord
	ledgers map[string]*Ledger
}

func NewStore(name string) *Store {
	return &Store{
		name:    name,
		defs:    make(map[string]model.TableDefinition),
		tables:  make(map[string]map[int64]model.TableRecord),
		ledgers: make(map[string]*Ledger),
	}
}

func (s *Store) CreateTable(ctx context.Context, def model.TableDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[def.Name]; ok {
		return nil
	}
	s.defs[def.Name] = def
	s.tables[def.Name] = make(map[int64]model.TableRecord)
	return nil
}

func (s *Store) PutItem(ctx context.Context, rec model.TableRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	items, ok := s.tables[rec.Table]
	if !ok {
		return fmt.Errorf("table '%s' does not exist", rec.Table)
	}
	items[rec.ID] = rec
	return nil
}

// Items returns the records of table ordered by id.
func (s *Store) Items(table string) []model.TableRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.TableRecord, 0, len(s.tables[table]))
	for _, rec := range s.tables[table] {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Tables returns the created table names, sorted.
func (s *Store) Tables() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definition returns the definition table was created with.
func (s *Store) Definition(table string) (model.TableDefinition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.defs[table]
	return def, ok
}

func (s *Store) NewLedger(ctx context.Context, table string) (port.NotificationLedger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.ledgers[table]
	if !ok {
		l = NewLedger()
		s.ledgers[table] = l
	}
	return l, nil
}

func (s *Store) Close() error { return nil }
func (s *Store) Type() string { return ProviderType }
func (s *Store) Name() string { return s.name }

var _ tablestore.TableStoreConnection = (*Store)(nil)

type lease struct {
	owner     string
	claimedAt time.Time
	ttl       time.Duration
	done      bool
}

// Ledger is an in-memory NotificationLedger.
type Ledger struct {
	mu     sync.Mutex
	leases map[string]lease
	now    func() time.Time
}

func NewLedger() *Ledger {
	return &Ledger{leases: make(map[string]lease), now: time.Now}
}

// SetClock replaces the time source used for lease expiry.
func (l *Ledger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

func (l *Ledger) Claim(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if cur, ok := l.leases[key]; ok {
		if cur.done {
			return false, nil
		}
		if cur.owner != owner && now.Before(cur.claimedAt.Add(cur.ttl)) {
			return false, nil
		}
	}
	l.leases[key] = lease{owner: owner, claimedAt: now, ttl: ttl}
	return true, nil
}

func (l *Ledger) Complete(ctx context.Context, key, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.leases[key]
	if !ok || cur.owner != owner {
		return fmt.Errorf("ledger: '%s' is not leased to %s", key, owner)
	}
	cur.done = true
	l.leases[key] = cur
	return nil
}

func (l *Ledger) Release(ctx context.Context, key, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.leases[key]; ok && cur.owner == owner && !cur.done {
		delete(l.leases, key)
	}
	return nil
}

// Provider hands out one Store per configured name.
type Provider struct {
	*coreAdapter.Registry[tablestore.TableStoreConnection]
}

func NewProvider(cfg *config.Config) tablestore.TableStoreProvider {
	return &Provider{
		Registry: coreAdapter.NewRegistry(ProviderType, func(name string) (tablestore.TableStoreConnection, error) {
			if _, err := cfg.AdapterType(config.AdapterTableStore, name); err != nil {
				return nil, err
			}
			return NewStore(name), nil
		}),
	}
}
