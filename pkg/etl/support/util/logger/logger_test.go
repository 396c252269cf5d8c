package logger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tigerroll/citybike/pkg/etl/support/util/logger"
)

func TestSetLogLevel(t *testing.T) {
	defer logger.SetLogLevel("INFO")

	logger.SetLogLevel("debug")
	assert.Equal(t, "DEBUG", logger.Level())

	logger.SetLogLevel("WARN")
	assert.Equal(t, "WARN", logger.Level())

	logger.SetLogLevel("nonsense")
	assert.Equal(t, "INFO", logger.Level())
}

func TestWithReturnsChildLogger(t *testing.T) {
	child := logger.With("key", "data_by_month/2021-06.csv")
	assert.NotNil(t, child)
	child.Debugf("child logger %s", "works")
}
