// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidConfiguration is matched by every *ConfigurationError.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// ConfigurationError reports every problem found while building a Config,
// so an operator can fix the environment in one pass.
type ConfigurationError struct {
	// Provider is the identity provider variant that was being configured, if any.
	Provider ProviderKind
	// Missing lists required environment variables that were empty.
	Missing []string
	// Invalid lists variables whose values could not be used, as "NAME: reason".
	Invalid []string
}

func (e *ConfigurationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required variables: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid values: "+strings.Join(e.Invalid, "; "))
	}
	prefix := "invalid configuration"
	if e.Provider != "" {
		prefix = fmt.Sprintf("invalid %s configuration", e.Provider)
	}
	return prefix + ": " + strings.Join(parts, "; ")
}

// Is lets callers match any configuration failure with errors.Is.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrInvalidConfiguration
}

func (e *ConfigurationError) missing(name string) {
	e.Missing = append(e.Missing, name)
}

func (e *ConfigurationError) invalid(name, format string, args ...any) {
	e.Invalid = append(e.Invalid, name+": "+fmt.Sprintf(format, args...))
}

func (e *ConfigurationError) empty() bool {
	return len(e.Missing) == 0 && len(e.Invalid) == 0
}

// orNil returns e as an error only when it recorded something.
func (e *ConfigurationError) orNil() error {
	if e.empty() {
		return nil
	}
	return e
}
