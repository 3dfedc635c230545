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

package shared

import (
	"errors"
	"fmt"
	"io"
	"os"

	pkgerrors "github.com/tombee/agentforge/pkg/errors"
)

// Exit codes for agentforge commands
const (
	ExitSuccess         = 0
	ExitExecutionFailed = 1
	ExitInvalidPipeline = 2
	ExitProviderError   = 4
)

// ExitError is an error that carries an exit code
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewExecutionError creates an error for run failures
func NewExecutionError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitExecutionFailed, Message: msg, Cause: cause}
}

// NewInvalidPipelineError creates an error for invalid pipeline definitions
func NewInvalidPipelineError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitInvalidPipeline, Message: msg, Cause: cause}
}

// NewProviderError creates an error for provider configuration failures
func NewProviderError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitProviderError, Message: msg, Cause: cause}
}

// ExitCode returns the process exit code for err.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitExecutionFailed
}

// HandleExitError prints err and exits with the appropriate code
func HandleExitError(err error) {
	if err == nil {
		return
	}
	PrintError(os.Stderr, err)
	os.Exit(ExitCode(err))
}

// PrintError writes err and, when available, its suggestion.
func PrintError(w io.Writer, err error) {
	fmt.Fprintln(w, "Error:", err.Error())

	// Walk the error chain to find a UserVisibleError
	for e := err; e != nil; e = errors.Unwrap(e) {
		if userErr, ok := e.(pkgerrors.UserVisibleError); ok {
			if userErr.IsUserVisible() && userErr.Suggestion() != "" {
				fmt.Fprintf(w, "\nSuggestion: %s\n", userErr.Suggestion())
			}
			return
		}
	}
}
