package config

// StorageConfig holds configuration for a single storage connection (etl.adapter.storage.<name>).
type StorageConfig struct {
	Type       string `yaml:"type"`        // local, s3 or gcs
	BucketName string `yaml:"bucket_name"` // Default bucket when a call passes "".
	// BaseDir is the root directory of the local adapter.
	BaseDir string `yaml:"base_dir"`

	// S3 / localstack.
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`

	// GCS.
	CredentialsFile string `yaml:"credentials_file"`
	ProjectID       string `yaml:"project_id"`
}

// DatasourcesConfig holds a map of named storage configurations.
type DatasourcesConfig map[string]StorageConfig
