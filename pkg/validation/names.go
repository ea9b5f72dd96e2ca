// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation shared by the editions
// service and its configuration.
//
// Attribute names end up as keys in stored catalog records and in client
// side CSS class names, so they are restricted to a small identifier
// alphabet. Struct validation uses go-playground/validator with the
// project's custom tags registered.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// attributeNamePattern matches valid attribute names.
// Allows: lowercase letters, digits, underscores; must start with a letter.
// Max length: 64 characters
var attributeNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// validate is the shared validator instance. Initialized in init() with
// custom validators.
var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("attrname", func(fl validator.FieldLevel) bool {
		return attributeNamePattern.MatchString(fl.Field().String())
	})
}

// ValidateAttributeName validates an attribute name.
//
// Valid names:
//   - 1-64 characters
//   - Lowercase letters a-z, digits 0-9 and underscores
//   - First character is a letter
//
// Example:
//
//	if err := validation.ValidateAttributeName(name); err != nil {
//	    return nil, fmt.Errorf("define attribute: %w", err)
//	}
func ValidateAttributeName(name string) error {
	if name == "" {
		return fmt.Errorf("attribute name cannot be empty")
	}
	if !attributeNamePattern.MatchString(name) {
		return fmt.Errorf("invalid attribute name %q (must be 1-64 lowercase letters, digits or underscores, starting with a letter)", name)
	}
	return nil
}

// SanitizeAttributeName trims and lowercases name, turning inner spaces
// into underscores, then validates it.
func SanitizeAttributeName(name string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	normalized = strings.Join(strings.Fields(normalized), "_")
	if err := ValidateAttributeName(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}

// Struct validates v against its `validate` tags. The error lists every
// failing field as "Field: tag".
func Struct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fe.Namespace() + ": " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		msgs = append(msgs, msg)
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, ", "))
}
