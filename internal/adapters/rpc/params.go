package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/andrescamacho/spacetraders-go/internal/domain/shared"
)

var paramsValidator = validator.New()

// unmarshalParams decodes raw into dst and validates it against dst's
// `validate` struct tags. An empty raw is treated as an empty object so
// methods with no required fields (e.g. health_check) can omit params
// entirely.
func unmarshalParams(raw json.RawMessage, dst interface{}) error {
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, dst); err != nil {
			return shared.NewValidationError("params", fmt.Sprintf("invalid params: %v", err))
		}
	}
	if err := paramsValidator.Struct(dst); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			field := verrs[0].Field()
			return shared.NewValidationError(field, fmt.Sprintf("%s failed validation: %s", field, verrs[0].Tag()))
		}
		return shared.NewValidationError("params", err.Error())
	}
	return nil
}
