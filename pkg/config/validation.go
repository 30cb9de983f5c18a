package config

import (
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for rules that span
// several fields.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	m := &cfg.Mover

	if m.Incoming.Path == "" {
		return fmt.Errorf("mover.incoming.path: incoming directory must be configured")
	}
	if m.Buffer.Path == "" {
		return fmt.Errorf("mover.buffer.path: buffer directory must be configured")
	}
	if filepath.Clean(m.Incoming.Path) == filepath.Clean(m.Buffer.Path) {
		return fmt.Errorf("mover: incoming and buffer must be different directories (%s)", m.Incoming.Path)
	}

	for _, re := range []struct{ key, expr string }{
		{"mover.cleansing_regex", m.CleansingRegex},
		{"mover.manual_intervention_regex", m.ManualInterventionRegex},
	} {
		if re.expr == "" {
			continue
		}
		if _, err := regexp.Compile(re.expr); err != nil {
			return fmt.Errorf("%s: invalid regular expression %q: %w", re.key, re.expr, err)
		}
	}

	if m.ManualInterventionRegex != "" && m.ManualInterventionDir == "" {
		return fmt.Errorf("mover.manual_intervention_regex: manual_intervention_dir must be configured as well")
	}

	if m.TransferBurstBytes > 0 && m.TransferRateBytes == 0 {
		return fmt.Errorf("mover.transfer_burst_bytes: requires transfer_rate_bytes")
	}

	// Task names are unique since they name the run-schedule files
	names := make(map[string]bool)
	for i, task := range cfg.Tasks {
		if names[task.Name] {
			return fmt.Errorf("tasks[%d]: duplicate task name %q", i, task.Name)
		}
		names[task.Name] = true

		if _, ok := task.Properties["class"]; !ok {
			return fmt.Errorf("tasks[%d]: property 'class' is not specified", i)
		}
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
