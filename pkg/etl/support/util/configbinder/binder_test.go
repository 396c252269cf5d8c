package configbinder_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/citybike/pkg/etl/support/util/configbinder"
)

type rabbitOptions struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Durable  bool          `yaml:"durable"`
	Prefetch int           `yaml:"prefetch"`
	Timeout  time.Duration `yaml:"timeout"`
}

func TestBindProperties(t *testing.T) {
	var opts rabbitOptions
	err := configbinder.BindProperties(map[string]interface{}{
		"host":    "rabbitmq",
		"port":    "5672",
		"durable": "true",
		"timeout": "5s",
	}, &opts)
	require.NoError(t, err)
	assert.Equal(t, "rabbitmq", opts.Host)
	assert.Equal(t, 5672, opts.Port)
	assert.True(t, opts.Durable)
	assert.Equal(t, 5*time.Second, opts.Timeout)
}

func TestBindStringPropertiesRejectsBadNumbers(t *testing.T) {
	var opts rabbitOptions
	err := configbinder.BindStringProperties(map[string]string{"port": "not-a-port"}, &opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rabbitOptions")
}

func TestBindPropertiesEmptyIsNoop(t *testing.T) {
	opts := rabbitOptions{Host: "kept"}
	require.NoError(t, configbinder.BindProperties(nil, &opts))
	assert.Equal(t, "kept", opts.Host)
}
