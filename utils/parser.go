package utils

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/go-playground/validator/v10"

	"github.com/vitwit/remarkpay/types"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterValidation("amount", validateAmountTag)
}

func validateAmountTag(fl validator.FieldLevel) bool {
	_, err := ValidateAmount(fl.Field().String())
	return err == nil
}

// ParseConfig parses a JSON config on top of types.DefaultConfig and validates it.
func ParseConfig(data []byte) (*types.Config, error) {
	config := types.DefaultConfig()

	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, &types.Error{
				Code:    types.ErrConfigError,
				Message: fmt.Sprintf("failed to parse config: %v", err),
			}
		}
	}

	if err := ValidateConfig(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// ValidateConfig checks struct tags and the cross-field rules tags cannot express.
func ValidateConfig(config *types.Config) error {
	if err := validate.Struct(config); err != nil {
		return &types.Error{
			Code:    types.ErrConfigError,
			Message: fmt.Sprintf("validation failed: %v", err),
		}
	}

	if !slices.Contains(config.Remark.ProtNames, config.Remark.ProtName) {
		return &types.Error{
			Code:    types.ErrConfigError,
			Message: fmt.Sprintf("outbound protocol name %s is not in the allow-list", config.Remark.ProtName),
		}
	}
	if !slices.Contains(config.Remark.Versions, config.Remark.Version) {
		return &types.Error{
			Code:    types.ErrConfigError,
			Message: fmt.Sprintf("outbound version %s is not in the allow-list", config.Remark.Version),
		}
	}
	return nil
}
