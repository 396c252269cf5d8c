// Package dynamodb implements the table store on Amazon DynamoDB (or localstack).
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/tigerroll/citybike/pkg/etl/adapter/awsconf"
	"github.com/tigerroll/citybike/pkg/etl/adapter/tablestore"
	tsconfig "github.com/tigerroll/citybike/pkg/etl/adapter/tablestore/config"
	coreAdapter "github.com/tigerroll/citybike/pkg/etl/core/adapter"
	"github.com/tigerroll/citybike/pkg/etl/core/config"
	"github.com/tigerroll/citybike/pkg/etl/core/domain/model"
	"github.com/tigerroll/citybike/pkg/etl/core/port"
	"github.com/tigerroll/citybike/pkg/etl/support/util/exception"
	"github.com/tigerroll/citybike/pkg/etl/support/util/logger"
)

const (
	ProviderType = "dynamodb"
	// LedgerKey is the hash key of ledger tables.
	LedgerKey = "notification_key"
	// ClaimedAt records when a ledger entry was claimed (epoch seconds).
	ClaimedAt = "claimed_at"
	// ExpiresAt is when an unfinished claim lapses (epoch seconds).
	ExpiresAt = "expires_at"
	// Owner identifies the holder of a claim.
	Owner = "owner"
	// State is "claimed" or "done".
	State = "state"

	stateClaimed = "claimed"
	stateDone    = "done"

	defaultCreateTimeout = 2 * time.Minute
)

// API is the subset of the DynamoDB client used by the store.
type API interface {
	awsdynamodb.DescribeTableAPIClient
	CreateTable(ctx context.Context, params *awsdynamodb.CreateTableInput, optFns ...func(*awsdynamodb.Options)) (*awsdynamodb.CreateTableOutput, error)
	PutItem(ctx context.Context, params *awsdynamodb.PutItemInput, optFns ...func(*awsdynamodb.Options)) (*awsdynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *awsdynamodb.DeleteItemInput, optFns ...func(*awsdynamodb.Options)) (*awsdynamodb.DeleteItemOutput, error)
	UpdateItem(ctx context.Context, params *awsdynamodb.UpdateItemInput, optFns ...func(*awsdynamodb.Options)) (*awsdynamodb.UpdateItemOutput, error)
}

var _ API = (*awsdynamodb.Client)(nil)

// Store writes TableRecords as DynamoDB items keyed by a numeric "id" hash key.
type Store struct {
	client        API
	cfg           tsconfig.TableStoreConfig
	name          string
	createTimeout time.Duration
}

var _ tablestore.TableStoreConnection = (*Store)(nil)

// NewStore creates a store over an existing client.
func NewStore(client API, cfg tsconfig.TableStoreConfig, name string) *Store {
	timeout := defaultCreateTimeout
	if cfg.CreateTimeoutSeconds > 0 {
		timeout = time.Duration(cfg.CreateTimeoutSeconds) * time.Second
	}
	return &Store{client: client, cfg: cfg, name: name, createTimeout: timeout}
}

// NewClient builds a DynamoDB client from connection settings.
func NewClient(ctx context.Context, cfg tsconfig.TableStoreConfig) (*awsdynamodb.Client, error) {
	opts := awsconf.Options{
		Region:          cfg.Region,
		Endpoint:        cfg.Endpoint,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
	}
	awsCfg, err := awsconf.Load(ctx, opts)
	if err != nil {
		return nil, err
	}
	return awsdynamodb.NewFromConfig(awsCfg, func(o *awsdynamodb.Options) {
		o.BaseEndpoint = opts.BaseEndpoint()
	}), nil
}

func (s *Store) Close() error { return nil }
func (s *Store) Type() string { return ProviderType }
func (s *Store) Name() string { return s.name }

// CreateTable creates def keyed by its KeyField (type N) and waits until it is active.
// Only key attributes are declared; DynamoDB is schemaless otherwise.
func (s *Store) CreateTable(ctx context.Context, def model.TableDefinition) error {
	key := def.KeyField
	if key == "" {
		key = model.IDColumn
	}
	return s.createTable(ctx, def.Name, key, types.ScalarAttributeTypeN)
}

func (s *Store) createTable(ctx context.Context, table, key string, keyType types.ScalarAttributeType) error {
	in := &awsdynamodb.CreateTableInput{
		TableName: aws.String(table),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(key), KeyType: types.KeyTypeHash},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(key), AttributeType: keyType},
		},
	}
	if strings.EqualFold(s.cfg.BillingMode, string(types.BillingModePayPerRequest)) {
		in.BillingMode = types.BillingModePayPerRequest
	} else {
		in.BillingMode = types.BillingModeProvisioned
		in.ProvisionedThroughput = &types.ProvisionedThroughput{
			ReadCapacityUnits:  aws.Int64(capacity(s.cfg.ReadCapacity)),
			WriteCapacityUnits: aws.Int64(capacity(s.cfg.WriteCapacity)),
		}
	}

	_, err := s.client.CreateTable(ctx, in)
	var inUse *types.ResourceInUseException
	switch {
	case err == nil:
		logger.Infof("Created DynamoDB table '%s'.", table)
	case errors.As(err, &inUse):
		logger.Debugf("DynamoDB table '%s' already exists.", table)
	default:
		return wrap("create table", table, err)
	}

	waiter := awsdynamodb.NewTableExistsWaiter(s.client)
	if err := waiter.Wait(ctx, &awsdynamodb.DescribeTableInput{TableName: aws.String(table)}, s.createTimeout); err != nil {
		return wrap("wait for table", table, err)
	}
	return nil
}

func capacity(v int64) int64 {
	if v <= 0 {
		return 1
	}
	return v
}

// PutItem writes rec, replacing any item with the same id.
func (s *Store) PutItem(ctx context.Context, rec model.TableRecord) error {
	_, err := s.client.PutItem(ctx, &awsdynamodb.PutItemInput{
		TableName: aws.String(rec.Table),
		Item:      Item(rec),
	})
	if err != nil {
		return wrap("put item", rec.Table, err)
	}
	return nil
}

// Item renders rec as a DynamoDB item. Numbers are written in their shortest decimal form.
func Item(rec model.TableRecord) map[string]types.AttributeValue {
	item := make(map[string]types.AttributeValue, len(rec.Attributes)+2)
	item[model.IDColumn] = &types.AttributeValueMemberN{Value: strconv.FormatInt(rec.ID, 10)}
	for _, a := range rec.Attributes {
		if a.Type == model.FieldNumber {
			item[a.Name] = &types.AttributeValueMemberN{Value: strconv.FormatFloat(a.Number, 'f', -1, 64)}
			continue
		}
		item[a.Name] = &types.AttributeValueMemberS{Value: a.Text}
	}
	if rec.IdempotencyKey != "" {
		item[model.IdempotencyKeyColumn] = &types.AttributeValueMemberS{Value: rec.IdempotencyKey}
	}
	return item
}

// NewLedger creates (if needed) a ledger table keyed by notification_key.
func (s *Store) NewLedger(ctx context.Context, table string) (port.NotificationLedger, error) {
	if err := s.createTable(ctx, table, LedgerKey, types.ScalarAttributeTypeS); err != nil {
		return nil, err
	}
	return &Ledger{client: s.client, table: table, now: time.Now}, nil
}

// Ledger leases notification keys with conditional writes. A put wins when the key is new,
// already held by the same owner, or held under a lapsed lease.
type Ledger struct {
	client API
	table  string
	now    func() time.Time
}

// SetClock replaces the time source used for lease expiry.
func (l *Ledger) SetClock(now func() time.Time) { l.now = now }

func epoch(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(t.Unix(), 10)}
}

func str(v string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: v}
}

func (l *Ledger) Claim(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	now := l.now()
	_, err := l.client.PutItem(ctx, &awsdynamodb.PutItemInput{
		TableName: aws.String(l.table),
		Item: map[string]types.AttributeValue{
			LedgerKey: str(key),
			Owner:     str(owner),
			State:     str(stateClaimed),
			ClaimedAt: epoch(now),
			ExpiresAt: epoch(now.Add(ttl)),
		},
		ConditionExpression: aws.String("attribute_not_exists(#k) OR (#s = :claimed AND (#o = :owner OR #e < :now))"),
		ExpressionAttributeNames: map[string]string{
			"#k": LedgerKey, "#s": State, "#o": Owner, "#e": ExpiresAt,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":claimed": str(stateClaimed),
			":owner":   str(owner),
			":now":     epoch(now),
		},
	})
	var failed *types.ConditionalCheckFailedException
	if errors.As(err, &failed) {
		return false, nil
	}
	if err != nil {
		return false, wrap("claim", l.table, err)
	}
	return true, nil
}

func (l *Ledger) Complete(ctx context.Context, key, owner string) error {
	_, err := l.client.UpdateItem(ctx, &awsdynamodb.UpdateItemInput{
		TableName:                aws.String(l.table),
		Key:                      map[string]types.AttributeValue{LedgerKey: str(key)},
		UpdateExpression:         aws.String("SET #s = :done"),
		ConditionExpression:      aws.String("#o = :owner"),
		ExpressionAttributeNames: map[string]string{"#s": State, "#o": Owner},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":done":  str(stateDone),
			":owner": str(owner),
		},
	})
	if err != nil {
		return wrap("complete", l.table, err)
	}
	return nil
}

// Release deletes the claim only while owner still holds it unfinished.
func (l *Ledger) Release(ctx context.Context, key, owner string) error {
	_, err := l.client.DeleteItem(ctx, &awsdynamodb.DeleteItemInput{
		TableName:                aws.String(l.table),
		Key:                      map[string]types.AttributeValue{LedgerKey: str(key)},
		ConditionExpression:      aws.String("#o = :owner AND #s = :claimed"),
		ExpressionAttributeNames: map[string]string{"#s": State, "#o": Owner},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":claimed": str(stateClaimed),
			":owner":   str(owner),
		},
	})
	var failed *types.ConditionalCheckFailedException
	if err != nil && !errors.As(err, &failed) {
		return wrap("release", l.table, err)
	}
	return nil
}

// wrap marks throttling and server-side failures as retryable.
func wrap(op, table string, err error) error {
	var (
		throughput *types.ProvisionedThroughputExceededException
		limit      *types.RequestLimitExceeded
		throttled  *types.ThrottlingException
		internal   *types.InternalServerError
	)
	retryable := errors.As(err, &throughput) || errors.As(err, &limit) || errors.As(err, &throttled) ||
		errors.As(err, &internal) || exception.IsTemporary(err)
	return exception.NewEtlError(ProviderType, fmt.Sprintf("%s '%s'", op, table), err, false, retryable)
}

// Provider opens DynamoDB stores from etl.adapter.table_store.<name>.
type Provider struct {
	*coreAdapter.Registry[tablestore.TableStoreConnection]
}

func NewProvider(cfg *config.Config) tablestore.TableStoreProvider {
	return &Provider{
		Registry: coreAdapter.NewRegistry(ProviderType, func(name string) (tablestore.TableStoreConnection, error) {
			var tsCfg tsconfig.TableStoreConfig
			if err := cfg.AdapterConfig(config.AdapterTableStore, name, &tsCfg); err != nil {
				return nil, err
			}
			if tsCfg.Type != ProviderType {
				return nil, fmt.Errorf("table store config type mismatch for '%s': expected '%s', got '%s'", name, ProviderType, tsCfg.Type)
			}
			client, err := NewClient(context.Background(), tsCfg)
			if err != nil {
				return nil, err
			}
			return NewStore(client, tsCfg, name), nil
		}),
	}
}
