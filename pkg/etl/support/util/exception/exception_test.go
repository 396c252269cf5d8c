package exception_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tigerroll/citybike/pkg/etl/support/util/exception"
)

type customError struct {
	Msg string
}

func (e *customError) Error() string {
	return fmt.Sprintf("customError: %s", e.Msg)
}

func TestNewEtlError(t *testing.T) {
	originalErr := errors.New("connection refused")
	ee := exception.NewEtlError("s3", "failed to put object", originalErr, false, true)

	assert.Equal(t, "s3", ee.Module)
	assert.Equal(t, "failed to put object", ee.Message)
	assert.Equal(t, originalErr, ee.Unwrap())
	assert.True(t, ee.IsRetryable())
	assert.False(t, ee.IsSkippable())
	assert.Contains(t, ee.Error(), "[s3] failed to put object: connection refused")
	assert.NotEmpty(t, ee.StackTrace)
}

func TestNewEtlErrorf(t *testing.T) {
	ee1 := exception.NewEtlErrorf("loader", "table %s missing", "2021-06")
	assert.False(t, ee1.IsRetryable())
	assert.False(t, ee1.IsSkippable())
	assert.Nil(t, ee1.Unwrap())
	assert.Equal(t, "[loader] table 2021-06 missing", ee1.Error())

	ee2 := exception.NewEtlErrorf("sqs", "receive timed out", true)
	assert.True(t, ee2.IsRetryable())
	assert.False(t, ee2.IsSkippable())

	cause := errors.New("boom")
	ee3 := exception.NewEtlErrorf("router", "record %d", 3, true, false, cause)
	assert.True(t, ee3.IsSkippable())
	assert.False(t, ee3.IsRetryable())
	assert.Equal(t, cause, ee3.Unwrap())
	assert.Equal(t, "record 3", ee3.Message)
}

func TestTaxonomySentinels(t *testing.T) {
	malformed := exception.NewMalformedInputError("partitioner", "bad timestamp", errors.New("parse"))
	assert.True(t, exception.IsMalformedInput(malformed))
	assert.False(t, exception.IsRecordConversion(malformed))
	assert.True(t, exception.IsFatal(malformed))

	conv := exception.NewRecordConversionError("loader", exception.ConversionDetail{Table: "2021-06", Offset: 4, Field: "distance_m", Value: "abc"}, nil)
	assert.True(t, exception.IsRecordConversion(conv))
	assert.True(t, conv.IsSkippable())
	assert.Contains(t, conv.Error(), `field 'distance_m' value "abc"`)

	wrapped := fmt.Errorf("load failed: %w", conv)
	assert.True(t, exception.IsRecordConversion(wrapped))
	assert.True(t, exception.IsEtlError(wrapped))

	assert.True(t, exception.IsEmptyInput(exception.NewEmptyInputWarning("pipeline", "no files")))
	assert.True(t, exception.IsDuplicateDelivery(exception.NewDuplicateDeliveryError("router", "b/k#1")))
	assert.True(t, exception.IsObjectNotFound(exception.NewObjectNotFoundError("local", "b", "k", nil)))
}

func TestIsTemporary(t *testing.T) {
	assert.False(t, exception.IsTemporary(nil))
	assert.False(t, exception.IsTemporary(context.Canceled))
	assert.True(t, exception.IsTemporary(errors.New("dial tcp: connection refused")))
	assert.True(t, exception.IsTemporary(errors.New("ThrottlingException: rate exceeded")))
	assert.False(t, exception.IsTemporary(errors.New("validation failed")))
	assert.True(t, exception.IsTemporary(exception.NewEtlError("s3", "x", nil, false, true)))
	assert.False(t, exception.IsTemporary(exception.NewObjectNotFoundError("s3", "b", "k", errors.New("timeout"))))
}

func TestIsErrorOfType(t *testing.T) {
	err := fmt.Errorf("outer: %w", &customError{Msg: "inner"})
	assert.True(t, exception.IsErrorOfType(err, "*exception_test.customError"))
	assert.True(t, exception.IsErrorOfType(err, "inner"))
	assert.True(t, exception.IsErrorOfType(exception.NewEmptyInputWarning("p", "none"), exception.EmptyInputWarning))
	assert.False(t, exception.IsErrorOfType(err, "somethingElse"))
	assert.True(t, exception.IsErrorTypeRegistered(exception.DuplicateDeliveryError))
}

func TestExtractErrorMessage(t *testing.T) {
	assert.Equal(t, "", exception.ExtractErrorMessage(nil))
	assert.Equal(t, "clean", exception.ExtractErrorMessage(fmt.Errorf("w: %w", exception.NewEtlError("m", "clean", errors.New("x"), false, false))))
	assert.Equal(t, "plain", exception.ExtractErrorMessage(errors.New("plain")))
}
