package utils

import (
	"errors"
	"strings"

	"socialchat/internal/models"

	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	// Register custom validators
	validate.RegisterValidation("objectid", validateObjectID)
	validate.RegisterValidation("message_type", validateMessageType)
	validate.RegisterValidation("conversation_type", validateConversationType)
}

// ValidationError represents validation error details
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

// ValidateStruct validates a struct and returns user-friendly error messages
func ValidateStruct(s interface{}) []ValidationError {
	var errs []ValidationError

	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []ValidationError{{Message: err.Error()}}
	}
	for _, fe := range verrs {
		errs = append(errs, ValidationError{
			Field:   strings.ToLower(fe.Field()),
			Tag:     fe.Tag(),
			Value:   fe.Param(),
			Message: getErrorMessage(fe),
		})
	}
	return errs
}

// ValidationDetails flattens errors into the envelope's details map
func ValidationDetails(errs []ValidationError) map[string]string {
	details := make(map[string]string, len(errs))
	for _, e := range errs {
		details[e.Field] = e.Message
	}
	return details
}

// ValidateObjectID reports whether id is a 24 character hex object id
func ValidateObjectID(id string) bool {
	return primitive.IsValidObjectID(id)
}

func validateObjectID(fl validator.FieldLevel) bool {
	return ValidateObjectID(fl.Field().String())
}

func validateMessageType(fl validator.FieldLevel) bool {
	return models.MessageType(fl.Field().String()).Valid()
}

func validateConversationType(fl validator.FieldLevel) bool {
	return models.ConversationType(fl.Field().String()).Valid()
}

func getErrorMessage(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return field + " must have at least " + fe.Param() + " items"
	case "max":
		return field + " must be at most " + fe.Param() + " long"
	case "objectid":
		return field + " must be a 24 character hex id"
	case "message_type":
		return field + " must be one of text, image, emote"
	case "conversation_type":
		return field + " must be one of private, group, chatbot"
	case "required_without":
		return field + " is required when " + strings.ToLower(fe.Param()) + " is empty"
	default:
		return field + " is invalid"
	}
}
