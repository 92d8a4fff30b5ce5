package validator

import (
	"log"

	"social_backend/internal/models/chat"

	"github.com/go-playground/validator/v10"
)

func registerCustomRules(v *validator.Validate) {
	mustRegister := func(tag string, fn validator.Func) {
		if err := v.RegisterValidation(tag, fn); err != nil {
			log.Fatalf("failed to register custom validation tag '%s': %v", tag, err)
		}
	}

	mustRegister("is-media-type", validateMediaType)
}

// validateMediaType accepts the message media types. Empty is left to
// omitempty/required.
func validateMediaType(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	return chat.MediaType(value).Valid()
}
