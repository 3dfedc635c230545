// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package errors

import (
	"fmt"
)

// ValidationError represents a malformed pipeline or invalid user input.
// It is the only error the run engine surfaces synchronously to its caller.
type ValidationError struct {
	// Field identifies which input field failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// SuggestionText provides actionable guidance for fixing the error
	SuggestionText string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// IsUserVisible implements UserVisibleError.
func (e *ValidationError) IsUserVisible() bool { return true }

// UserMessage implements UserVisibleError.
func (e *ValidationError) UserMessage() string { return e.Message }

// Suggestion implements UserVisibleError.
func (e *ValidationError) Suggestion() string { return e.SuggestionText }

// NotFoundError represents a resource not found error.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "pipeline", "run")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// CapabilityError represents a failure of an external capability:
// generation, fetch, search or notify. Run execution records these
// as log or output content rather than aborting.
type CapabilityError struct {
	// Capability is one of "generate", "fetch", "search", "notify"
	Capability string

	// Provider names the backend that failed, if any (e.g. "ollama")
	Provider string

	// StatusCode is the HTTP status code (if applicable)
	StatusCode int

	// Message is the human-readable error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *CapabilityError) Error() string {
	msg := e.Capability
	if e.Provider != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Provider)
	}
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s [HTTP %d]", msg, e.StatusCode)
	}
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CapabilityError) Unwrap() error {
	return e.Cause
}

// CancellationError reports that a run was terminated by a stop request
// or by its parent context.
type CancellationError struct {
	RunID string
	Cause error
}

// Error implements the error interface.
func (e *CancellationError) Error() string {
	return fmt.Sprintf("run %s cancelled", e.RunID)
}

// Unwrap returns the underlying cause, usually context.Canceled.
func (e *CancellationError) Unwrap() error {
	return e.Cause
}

// SchedulingConfigError represents a malformed trigger specification.
// No timer is registered for the pipeline when this is returned.
type SchedulingConfigError struct {
	PipelineID string
	Kind       string
	Value      string
	Reason     string
	Cause      error
}

// Error implements the error interface.
func (e *SchedulingConfigError) Error() string {
	msg := fmt.Sprintf("invalid %s trigger %q for pipeline %s: %s", e.Kind, e.Value, e.PipelineID, e.Reason)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *SchedulingConfigError) Unwrap() error {
	return e.Cause
}

// ConfigError represents configuration problems.
// Use this for configuration file errors, missing settings, or invalid config values.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "store.type", "smtp.port")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}
