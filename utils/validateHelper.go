package utils

import (
	"context"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

func init() {
	// Read the same tag gin's binding reads, so non-HTTP inputs face the
	// same rules as request bodies.
	validate.SetTagName("binding")
}

// ValidateStruct runs validator tags on an input struct. Gin's binding does
// this for request bodies already; this is for inputs that arrive through
// non-HTTP paths (seeder, workers).
func ValidateStruct(input interface{}) error {
	return validate.Struct(input)
}

// check if id exists, return RecordNotFound error
func ValidateResourceId[T any](ctx context.Context, id interface{}) error {

	count, err := ResourceCountWhere[T](ctx, "id = ?", id)
	if err != nil {
		return err
	}
	if count <= 0 {
		return ErrorRecordNotFound
	}

	return nil
}
