package exception

import (
	"errors"
	"fmt"
)

const (
	MalformedInputError    = "MalformedInputError"
	RecordConversionError  = "RecordConversionError"
	EmptyInputWarning      = "EmptyInputWarning"
	DuplicateDeliveryError = "DuplicateDeliveryError"
	ObjectNotFoundError    = "ObjectNotFoundError"
)

var (
	// ErrMalformedInput marks unparseable timestamps, missing required columns and unknown blob keys.
	ErrMalformedInput = errors.New(MalformedInputError)
	// ErrRecordConversion marks a non-numeric value in a numeric field.
	ErrRecordConversion = errors.New(RecordConversionError)
	// ErrEmptyInput marks a run with nothing to process. Callers treat it as a no-op.
	ErrEmptyInput = errors.New(EmptyInputWarning)
	// ErrDuplicateDelivery marks a notification that was already claimed.
	ErrDuplicateDelivery = errors.New(DuplicateDeliveryError)
	// ErrObjectNotFound marks a missing blob.
	ErrObjectNotFound = errors.New(ObjectNotFoundError)
)

func init() {
	RegisterErrorType(MalformedInputError, ErrMalformedInput)
	RegisterErrorType(RecordConversionError, ErrRecordConversion)
	RegisterErrorType(EmptyInputWarning, ErrEmptyInput)
	RegisterErrorType(DuplicateDeliveryError, ErrDuplicateDelivery)
	RegisterErrorType(ObjectNotFoundError, ErrObjectNotFound)
}

func joinSentinel(sentinel, cause error) error {
	if cause == nil {
		return sentinel
	}
	return errors.Join(sentinel, cause)
}

// NewMalformedInputError reports input that cannot be interpreted. Never retried.
func NewMalformedInputError(module, message string, cause error) *EtlError {
	return NewEtlError(module, message, joinSentinel(ErrMalformedInput, cause), false, false)
}

// ConversionDetail identifies the offending cell of a RecordConversionError.
type ConversionDetail struct {
	Table  string
	Offset int
	Field  string
	Value  string
}

// NewRecordConversionError reports a cell that cannot be converted to its field type.
// The error is skippable so a skip policy may drop the row.
func NewRecordConversionError(module string, d ConversionDetail, cause error) *EtlError {
	msg := fmt.Sprintf("row %d of '%s': field '%s' value %q is not numeric", d.Offset, d.Table, d.Field, d.Value)
	return NewEtlError(module, msg, joinSentinel(ErrRecordConversion, cause), true, false)
}

// NewEmptyInputWarning reports that there was nothing to process.
func NewEmptyInputWarning(module, message string) *EtlError {
	return NewEtlError(module, message, ErrEmptyInput, true, false)
}

// NewDuplicateDeliveryError reports a notification that was already processed or is in flight.
func NewDuplicateDeliveryError(module, key string) *EtlError {
	return NewEtlError(module, fmt.Sprintf("notification '%s' already claimed", key), ErrDuplicateDelivery, true, false)
}

// NewObjectNotFoundError reports a missing blob.
func NewObjectNotFoundError(module, bucket, key string, cause error) *EtlError {
	return NewEtlError(module, fmt.Sprintf("object '%s/%s' not found", bucket, key), joinSentinel(ErrObjectNotFound, cause), false, false)
}

func IsMalformedInput(err error) bool    { return errors.Is(err, ErrMalformedInput) }
func IsRecordConversion(err error) bool  { return errors.Is(err, ErrRecordConversion) }
func IsEmptyInput(err error) bool        { return errors.Is(err, ErrEmptyInput) }
func IsDuplicateDelivery(err error) bool { return errors.Is(err, ErrDuplicateDelivery) }
func IsObjectNotFound(err error) bool    { return errors.Is(err, ErrObjectNotFound) }
