package validation

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"reflect"
	"strings"

	"github.com/fedutinova/everwalk/internal/common"
	"github.com/fedutinova/everwalk/internal/job"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
)

const (
	MaxFileSize    = 10 << 20 // 10mb
	MaxPetImages   = 5
	MaxMessageSize = 1000
)

var AllowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
	"image/heic": true,
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var messages []string
	for _, err := range e {
		messages = append(messages, err.Error())
	}
	return strings.Join(messages, "; ")
}

// Is lets callers match any validation failure with common.ErrValidation.
func (e ValidationErrors) Is(target error) bool {
	return target == common.ErrValidation
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("interaction", func(fl validator.FieldLevel) bool {
		_, err := job.ParseInteractionKind(fl.Field().String())
		return err == nil
	})
	return v
}

// Struct checks s against its validate tags. Field names in the result are
// the json names.
func Struct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	out := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{Field: fieldPath(fe), Message: message(fe)})
	}
	return out
}

// fieldPath drops the struct name from the namespace: createPetRequest.image_urls[0] -> image_urls[0].
func fieldPath(fe validator.FieldError) string {
	_, path, found := strings.Cut(fe.Namespace(), ".")
	if !found {
		return fe.Field()
	}
	return path
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "url", "http_url":
		return "must be a valid URL"
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("must contain at least %s items", fe.Param())
		}
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("must contain at most %s items", fe.Param())
		}
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "datetime":
		return fmt.Sprintf("must be a date in the form %s", fe.Param())
	case "interaction":
		return "must be one of FEEDING, PETTING, PLAYING, WALKING"
	default:
		return "is invalid"
	}
}

// ValidateImageUpload checks an uploaded pet photo and returns its sniffed
// content type. The file is rewound afterwards.
func ValidateImageUpload(header *multipart.FileHeader, file multipart.File) (string, ValidationErrors) {
	var errs ValidationErrors
	if header.Size > MaxFileSize {
		errs = append(errs, ValidationError{
			Field:   "file",
			Message: fmt.Sprintf("file %s exceeds maximum size of %d bytes", header.Filename, MaxFileSize),
		})
		return "", errs
	}
	if header.Size == 0 {
		errs = append(errs, ValidationError{
			Field:   "file",
			Message: fmt.Sprintf("file %s is empty", header.Filename),
		})
		return "", errs
	}

	mtype, err := mimetype.DetectReader(file)
	if err != nil {
		errs = append(errs, ValidationError{Field: "file", Message: "file could not be read"})
		return "", errs
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		errs = append(errs, ValidationError{Field: "file", Message: "file could not be read"})
		return "", errs
	}

	contentType := mtype.String()
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	if !AllowedImageTypes[contentType] {
		errs = append(errs, ValidationError{
			Field:   "file",
			Message: fmt.Sprintf("file %s has unsupported content type: %s", header.Filename, contentType),
		})
		return "", errs
	}
	return contentType, nil
}
