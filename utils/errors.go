package utils

import (
	"github.com/pkg/errors"
)

// NewConfigValidationError returns a config validation error for a field path.
func NewConfigValidationError(path string, err error) error {
	return errors.Wrapf(err, "error validating %q", path)
}

// NewConfigValidationFieldRequiredError is used when a required config field is missing.
func NewConfigValidationFieldRequiredError(path, field string) error {
	return NewConfigValidationError(path, errors.Errorf("%q is required", field))
}

// NewOutOfRangeError is used when a numeric option lies outside its accepted range.
func NewOutOfRangeError(field string, value interface{}, accepted string) error {
	return errors.Errorf("%q is %v but must be %s", field, value, accepted)
}
