package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/simbridge/internal/harness"
)

// ValidationError describes one scenario file that failed to load.
type ValidationError struct {
	File    string   `json:"file"`
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Files  int               `json:"files"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file|dir>...",
		Short: "Validate scenario files without running them",
		Long: `Check scenario files against the scenario schema and the semantic rules
(one action per step, known events and states) without starting an engine.
Directories are searched for *.yaml and *.yml files.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return outputValidateError(formatter, ErrCodeNotFound, fmt.Sprintf("path not found: %s", p))
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		found, err := findScenarioFiles(p, "")
		if err != nil {
			return outputValidateError(formatter, ErrCodeGeneric, err.Error())
		}
		files = append(files, found...)
	}
	if len(files) == 0 {
		return outputValidateError(formatter, ErrCodeNotFound, "no scenario files found")
	}

	result := ValidationResult{Valid: true, Files: len(files)}
	names := make(map[string]string, len(files)) // scenario name -> first file
	for _, f := range files {
		formatter.VerboseLog("Validating %s", f)
		sc, err := harness.LoadScenario(f)
		if err != nil {
			result.Valid = false
			result.Errors = append(result.Errors, toValidationError(f, err))
			continue
		}
		if first, ok := names[sc.Name]; ok {
			result.Valid = false
			result.Errors = append(result.Errors, ValidationError{
				File:    f,
				Code:    ErrCodeInvalid,
				Message: fmt.Sprintf("%v: %q is also used by %s", harness.ErrDuplicateName, sc.Name, first),
			})
			continue
		}
		names[sc.Name] = f
	}

	if !result.Valid {
		return outputValidationErrors(formatter, result)
	}
	return outputValidateSuccess(formatter, result)
}

func toValidationError(file string, err error) ValidationError {
	ve := ValidationError{File: file, Code: ErrCodeInvalid, Message: err.Error()}
	var schemaErr *harness.SchemaError
	if errors.As(err, &schemaErr) {
		ve.Message = "scenario does not match schema"
		ve.Details = schemaErr.Details
	}
	return ve
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ %d scenario file(s) valid\n", result.Files)
	return nil
}

// outputValidateError outputs a single command-level error.
func outputValidateError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs every invalid file.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	failed := fmt.Sprintf("validation failed for %d of %d file(s)", len(result.Errors), result.Files)

	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    ErrCodeInvalid,
				Message: failed,
			},
		}
		if err := writeJSON(formatter.Writer, response); err != nil {
			return err
		}
		return NewExitError(ExitFailure, failed)
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range result.Errors {
		fmt.Fprintf(formatter.Writer, "%s\n", err.File)
		fmt.Fprintf(formatter.Writer, "  %s: %s\n", err.Code, err.Message)
		for _, d := range err.Details {
			fmt.Fprintf(formatter.Writer, "    %s\n", d)
		}
		fmt.Fprintln(formatter.Writer)
	}

	return NewExitError(ExitFailure, failed)
}
