package gcs_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storageConfig "github.com/tigerroll/citybike/pkg/etl/adapter/storage/config"
	"github.com/tigerroll/citybike/pkg/etl/adapter/storage/gcs"
	"github.com/tigerroll/citybike/pkg/etl/core/config"
)

func TestClientOptions(t *testing.T) {
	assert.Empty(t, gcs.ClientOptions(storageConfig.StorageConfig{}))
	assert.Len(t, gcs.ClientOptions(storageConfig.StorageConfig{CredentialsFile: "/k.json"}), 1)
	// Emulator endpoint: endpoint + no authentication.
	assert.Len(t, gcs.ClientOptions(storageConfig.StorageConfig{Endpoint: "http://localhost:4443/storage/v1/"}), 2)
}

func TestProviderRejectsTypeMismatch(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Etl.AdapterConfigs = map[string]interface{}{
		"storage": map[string]interface{}{
			"bikes": map[string]interface{}{"type": "s3"},
		},
	}
	p := gcs.NewGCSProvider(cfg)
	assert.Equal(t, gcs.ProviderType, p.Type())
	_, err := p.GetConnection("bikes")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "type mismatch")
}
