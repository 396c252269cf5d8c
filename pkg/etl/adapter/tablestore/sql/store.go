// Package sql implements the table store on a relational database through gorm.
package sql

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tigerroll/citybike/pkg/etl/adapter/database"
	"github.com/tigerroll/citybike/pkg/etl/adapter/database/migration"
	"github.com/tigerroll/citybike/pkg/etl/adapter/tablestore"
	tsconfig "github.com/tigerroll/citybike/pkg/etl/adapter/tablestore/config"
	coreAdapter "github.com/tigerroll/citybike/pkg/etl/core/adapter"
	"github.com/tigerroll/citybike/pkg/etl/core/config"
	"github.com/tigerroll/citybike/pkg/etl/core/domain/model"
	"github.com/tigerroll/citybike/pkg/etl/core/port"
	"github.com/tigerroll/citybike/pkg/etl/support/util/exception"
	"github.com/tigerroll/citybike/pkg/etl/support/util/logger"
)

const ProviderType = "sql"

// Store maps each table definition onto a SQL table with one column per field.
type Store struct {
	conn database.DBConnection
	name string
	defs sync.Map // table name -> model.TableDefinition
}

var _ tablestore.TableStoreConnection = (*Store)(nil)

// NewStore creates a store on conn. The connection is owned by the database resolver.
func NewStore(conn database.DBConnection, name string) *Store {
	return &Store{conn: conn, name: name}
}

func (s *Store) Close() error { return nil }
func (s *Store) Type() string { return ProviderType }
func (s *Store) Name() string { return s.name }

// CreateTable issues CREATE TABLE IF NOT EXISTS with typed columns.
func (s *Store) CreateTable(ctx context.Context, def model.TableDefinition) error {
	key := def.KeyField
	if key == "" {
		key = model.IDColumn
	}
	cols := def.Columns
	if !hasColumn(cols, key) {
		cols = append([]model.Column{{Name: key, Type: model.FieldNumber}}, cols...)
	}

	parts := make([]string, 0, len(cols))
	vars := []interface{}{clause.Table{Name: def.Name}}
	for _, c := range cols {
		parts = append(parts, "? "+columnType(c, key))
		vars = append(vars, clause.Column{Name: c.Name})
	}
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS ? (%s)", strings.Join(parts, ", "))

	if err := s.conn.Gorm(ctx).Exec(ddl, vars...).Error; err != nil {
		return wrap("create table", def.Name, err)
	}
	s.defs.Store(def.Name, model.TableDefinition{Name: def.Name, KeyField: key, Columns: cols})
	logger.Debugf("Ensured SQL table '%s' on '%s'.", def.Name, s.conn.Name())
	return nil
}

func hasColumn(cols []model.Column, name string) bool {
	for _, c := range cols {
		if c.Name == name {
			return true
		}
	}
	return false
}

func columnType(c model.Column, key string) string {
	switch {
	case c.Name == key:
		return "BIGINT NOT NULL PRIMARY KEY"
	case c.Name == model.IdempotencyKeyColumn:
		return "VARCHAR(64)"
	case c.Type == model.FieldNumber:
		return "DOUBLE PRECISION"
	default:
		return "TEXT"
	}
}

// PutItem upserts rec by id. Columns of a known definition missing from rec are reset to NULL.
func (s *Store) PutItem(ctx context.Context, rec model.TableRecord) error {
	values := Values(rec)
	if v, ok := s.defs.Load(rec.Table); ok {
		for _, c := range v.(model.TableDefinition).Columns {
			if _, set := values[c.Name]; !set {
				values[c.Name] = nil
			}
		}
	}

	update := make([]string, 0, len(values))
	for name := range values {
		if name != model.IDColumn {
			update = append(update, name)
		}
	}
	sort.Strings(update)
	err := s.conn.Gorm(ctx).Table(rec.Table).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: model.IDColumn}},
		DoUpdates: clause.AssignmentColumns(update),
	}).Create(values).Error
	if err != nil {
		return wrap("put item", rec.Table, err)
	}
	return nil
}

// Values renders rec as a column map.
func Values(rec model.TableRecord) map[string]interface{} {
	values := make(map[string]interface{}, len(rec.Attributes)+2)
	values[model.IDColumn] = rec.ID
	for _, a := range rec.Attributes {
		if a.Type == model.FieldNumber {
			values[a.Name] = a.Number
		} else {
			values[a.Name] = a.Text
		}
	}
	if rec.IdempotencyKey != "" {
		values[model.IdempotencyKeyColumn] = rec.IdempotencyKey
	}
	return values
}

const (
	stateClaimed = "claimed"
	stateDone    = "done"
)

type ledgerEntry struct {
	NotificationKey string     `gorm:"column:notification_key;primaryKey;size:512"`
	Owner           string     `gorm:"column:owner;size:64;not null"`
	State           string     `gorm:"column:state;size:16;not null"`
	ClaimedAt       time.Time  `gorm:"column:claimed_at;not null"`
	ExpiresAt       *time.Time `gorm:"column:expires_at"`
}

// NewLedger returns a ledger in table, creating the table when the migrations did not.
func (s *Store) NewLedger(ctx context.Context, table string) (port.NotificationLedger, error) {
	db := s.conn.Gorm(ctx)
	if !db.Migrator().HasTable(table) {
		if err := db.Table(table).Migrator().CreateTable(&ledgerEntry{}); err != nil {
			return nil, wrap("create ledger", table, err)
		}
	}
	return &Ledger{conn: s.conn, table: table, now: time.Now}, nil
}

// Ledger leases notification keys: INSERT ... ON CONFLICT DO NOTHING for new keys, a
// conditional UPDATE to take over lapsed leases.
type Ledger struct {
	conn  database.DBConnection
	table string
	now   func() time.Time
}

// SetClock replaces the time source used for lease expiry.
func (l *Ledger) SetClock(now func() time.Time) { l.now = now }

func (l *Ledger) Claim(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	now := l.now().UTC().Truncate(time.Second)
	expires := now.Add(ttl)

	res := l.conn.Gorm(ctx).Table(l.table).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&ledgerEntry{NotificationKey: key, Owner: owner, State: stateClaimed, ClaimedAt: now, ExpiresAt: &expires})
	if res.Error != nil {
		return false, wrap("claim", l.table, res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	res = l.conn.Gorm(ctx).Table(l.table).
		Where("notification_key = ? AND state = ? AND expires_at < ?", key, stateClaimed, now).
		Updates(map[string]interface{}{"owner": owner, "claimed_at": now, "expires_at": expires})
	if res.Error != nil {
		return false, wrap("claim", l.table, res.Error)
	}
	if res.RowsAffected == 1 {
		logger.Infof("Took over lapsed lease on '%s'.", key)
		return true, nil
	}

	var cur ledgerEntry
	if err := l.conn.Gorm(ctx).Table(l.table).Where("notification_key = ?", key).Take(&cur).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// released between the insert and this read
			return false, exception.NewEtlError(ProviderType, fmt.Sprintf("claim '%s': lease vanished", key), err, false, true)
		}
		return false, wrap("claim", l.table, err)
	}
	return cur.State == stateClaimed && cur.Owner == owner, nil
}

func (l *Ledger) Complete(ctx context.Context, key, owner string) error {
	res := l.conn.Gorm(ctx).Table(l.table).
		Where("notification_key = ? AND owner = ? AND state = ?", key, owner, stateClaimed).
		Update("state", stateDone)
	if res.Error != nil {
		return wrap("complete", l.table, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("[%s] complete '%s': not leased to %s", ProviderType, key, owner)
	}
	return nil
}

func (l *Ledger) Release(ctx context.Context, key, owner string) error {
	err := l.conn.Gorm(ctx).Table(l.table).
		Where("notification_key = ? AND owner = ? AND state = ?", key, owner, stateClaimed).
		Delete(&ledgerEntry{}).Error
	if err != nil {
		return wrap("release", l.table, err)
	}
	return nil
}

func wrap(op, table string, err error) error {
	return exception.NewEtlError(ProviderType, fmt.Sprintf("%s '%s'", op, table), err, false, exception.IsTemporary(err))
}

// Provider opens SQL stores on the database named by etl.adapter.table_store.<name>.database.
type Provider struct {
	*coreAdapter.Registry[tablestore.TableStoreConnection]
}

func NewProvider(cfg *config.Config, databases database.DBConnectionResolver) tablestore.TableStoreProvider {
	return &Provider{
		Registry: coreAdapter.NewRegistry(ProviderType, func(name string) (tablestore.TableStoreConnection, error) {
			var tsCfg tsconfig.TableStoreConfig
			if err := cfg.AdapterConfig(config.AdapterTableStore, name, &tsCfg); err != nil {
				return nil, err
			}
			if tsCfg.Type != ProviderType {
				return nil, fmt.Errorf("table store config type mismatch for '%s': expected '%s', got '%s'", name, ProviderType, tsCfg.Type)
			}
			ctx := context.Background()
			conn, err := databases.ResolveDBConnection(ctx, tsCfg.Database)
			if err != nil {
				return nil, err
			}
			if tsCfg.Migrate {
				if err := migration.NewMigrator(conn).Up(ctx); err != nil {
					return nil, err
				}
			}
			return NewStore(conn, name), nil
		}),
	}
}
