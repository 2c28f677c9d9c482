package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/upkeep/pkg/engine"
)

// Validator applies struct tag rules to a Configuration.
type Validator struct {
	validate *validator.Validate
}

// NewValidator registers the custom tags used by Configuration.
func NewValidator() *Validator {
	v := validator.New()

	// Report fields by their YAML names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("profilename", func(fl validator.FieldLevel) bool {
		return profileNamePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("stepid", func(fl validator.FieldLevel) bool {
		_, ok := Lookup(engine.StepID(fl.Field().String()))
		return ok
	})
	_ = v.RegisterValidation("abspath", func(fl validator.FieldLevel) bool {
		return filepath.IsAbs(fl.Field().String())
	})

	v.RegisterStructValidation(validateMirror, Mirror{})

	return &Validator{validate: v}
}

// validateMirror requires the destination fields of the selected mirror.
func validateMirror(sl validator.StructLevel) {
	m := sl.Current().Interface().(Mirror)
	switch m.Kind {
	case MirrorSFTP:
		if m.SFTP.Host == "" {
			sl.ReportError(m.SFTP.Host, "sftp.host", "Host", "required_for_sftp", "")
		}
		if m.SFTP.User == "" {
			sl.ReportError(m.SFTP.User, "sftp.user", "User", "required_for_sftp", "")
		}
		if m.SFTP.RemoteDir == "" {
			sl.ReportError(m.SFTP.RemoteDir, "sftp.remote_dir", "RemoteDir", "required_for_sftp", "")
		}
	case MirrorS3:
		if m.S3.Endpoint == "" {
			sl.ReportError(m.S3.Endpoint, "s3.endpoint", "Endpoint", "required_for_s3", "")
		}
		if m.S3.Bucket == "" {
			sl.ReportError(m.S3.Bucket, "s3.bucket", "Bucket", "required_for_s3", "")
		}
	}
}

// Struct validates cfg and converts failures into a ValidationError that
// lists every offending field.
func (v *Validator) Struct(cfg *Configuration) error {
	err := v.validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return engine.NewValidationError("invalid configuration", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describeFieldError(fe))
	}
	return engine.NewValidationError("invalid configuration: "+strings.Join(msgs, "; "), nil).
		WithDetail("fields", msgs)
}

func describeFieldError(fe validator.FieldError) string {
	// Drop the root type name: "Configuration.thresholds.min_root_gb".
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}

	switch fe.Tag() {
	case "required", "required_if", "required_for_sftp", "required_for_s3":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %v", field, fe.Param(), fe.Value())
	case "stepid":
		return fmt.Sprintf("%s: unknown step %v", field, fe.Value())
	case "abspath":
		return fmt.Sprintf("%s must be an absolute path", field)
	case "profilename":
		return fmt.Sprintf("%s: invalid profile name %q", field, fe.Value())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
