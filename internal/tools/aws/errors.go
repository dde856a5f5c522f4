package aws

import (
	"github.com/aws/smithy-go"
	"github.com/pkg/errors"
)

// IsErrorCode determines whether the error is an AWS API error carrying the
// given error code.
func IsErrorCode(err error, code string) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == code
	}

	return false
}

// IsErrorNotFound determines whether the error means the requested resource
// does not exist.
func IsErrorNotFound(err error) bool {
	return IsErrorCode(err, "ResourceNotFoundException")
}
