package config

// TableStoreConfig holds table store settings (etl.adapter.table_store.<name>).
type TableStoreConfig struct {
	Type string `yaml:"type"` // dynamodb, sql or memory

	// DynamoDB
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	// BillingMode is PROVISIONED (default) or PAY_PER_REQUEST.
	BillingMode   string `yaml:"billing_mode"`
	ReadCapacity  int64  `yaml:"read_capacity"`
	WriteCapacity int64  `yaml:"write_capacity"`
	// CreateTimeoutSeconds bounds the wait for a new table to become active.
	CreateTimeoutSeconds int `yaml:"create_timeout_seconds"`

	// SQL
	Database string `yaml:"database"` // Name of an etl.adapter.database entry.
	Migrate  bool   `yaml:"migrate"`  // Apply the ledger migrations on connect.
}
