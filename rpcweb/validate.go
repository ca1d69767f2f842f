package rpcweb

import (
	"github.com/go-playground/validator/v10"
	"google.golang.org/grpc/codes"
)

// validate is shared across every method that opts into request
// validation; go-playground/validator's Validate type is safe for
// concurrent use once built, same as the teacher's gateway-wide instance.
var validate = validator.New()

// validateRequest runs struct-tag validation over req and, on failure,
// turns it into a status-carrying InvalidArgument error so it reaches
// the caller exactly like any other handler-rejected request.
func validateRequest(req any) error {
	if err := validate.Struct(req); err != nil {
		return NewErrorf(codes.InvalidArgument, "request validation failed: %s", err.Error())
	}
	return nil
}
