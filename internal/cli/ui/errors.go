package ui

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	ormerrors "github.com/conduit-lang/docengine/internal/orm/errors"
)

// ErrorLevel represents the severity of an error message
type ErrorLevel int

const (
	ErrorLevelError ErrorLevel = iota
	ErrorLevelWarning
	ErrorLevelInfo
)

// ErrorOptions configures the error message formatting
type ErrorOptions struct {
	Level        ErrorLevel
	Context      string
	Problem      string
	Detail       string
	Suggestions  []string
	HelpCommands []string
	NoColor      bool
}

// FormatError creates a standardized error message with suggestions and help commands
//
// Example output:
//
//	❌ VALIDATION FAILED: todos
//	   at model.schema.properties.title.type
//
//	   Did you mean: string?
//
//	   → Get help: docengine compile --help
func FormatError(opts ErrorOptions) string {
	var b strings.Builder

	var headerColor, bodyColor *color.Color
	var symbol string
	switch opts.Level {
	case ErrorLevelWarning:
		headerColor = color.New(color.FgYellow, color.Bold)
		bodyColor = color.New(color.FgYellow)
		symbol = "⚠️"
	case ErrorLevelInfo:
		headerColor = color.New(color.FgCyan, color.Bold)
		bodyColor = color.New(color.FgCyan)
		symbol = "ℹ️"
	default:
		headerColor = color.New(color.FgRed, color.Bold)
		bodyColor = color.New(color.FgRed)
		symbol = "❌"
	}
	if opts.NoColor {
		headerColor.DisableColor()
		bodyColor.DisableColor()
	}

	if opts.Context != "" {
		headerColor.Fprintf(&b, "%s %s: %s\n", symbol, strings.ToUpper(opts.Context), opts.Problem)
	} else {
		headerColor.Fprintf(&b, "%s %s\n", symbol, opts.Problem)
	}

	if opts.Detail != "" {
		bodyColor.Fprintf(&b, "   %s\n", opts.Detail)
	}

	if len(opts.Suggestions) > 0 {
		b.WriteString("\n")
		yellow := color.New(color.FgYellow)
		if opts.NoColor {
			yellow.DisableColor()
		}
		yellow.Fprintf(&b, "   Did you mean: %s?\n", strings.Join(opts.Suggestions, ", "))
	}

	if len(opts.HelpCommands) > 0 {
		b.WriteString("\n")
		cyan := color.New(color.FgCyan)
		if opts.NoColor {
			cyan.DisableColor()
		}
		for _, cmd := range opts.HelpCommands {
			cyan.Fprintf(&b, "   → %s\n", cmd)
		}
	}

	return b.String()
}

// WriteError writes a formatted error message to the writer
func WriteError(w io.Writer, opts ErrorOptions) {
	fmt.Fprint(w, FormatError(opts))
}

// FormatSuccess creates a success message
func FormatSuccess(message string, noColor bool) string {
	green := color.New(color.FgGreen, color.Bold)
	if noColor {
		green.DisableColor()
	}
	return green.Sprintf("✓ %s", message)
}

// WriteSuccess writes a success message to the writer
func WriteSuccess(w io.Writer, message string, noColor bool) {
	fmt.Fprintln(w, FormatSuccess(message, noColor))
}

// EngineError describes an engine failure by its kind. candidates feed the
// suggestions for failures naming an unknown model, feature or hook.
func EngineError(err error, candidates []string, noColor bool) string {
	opts := ErrorOptions{Level: ErrorLevelError, Problem: err.Error(), NoColor: noColor}

	var ve *ormerrors.ValidationError
	var ae *ormerrors.AccessError
	switch {
	case errors.As(err, &ve):
		opts.Context = "validation failed"
		opts.Problem = ve.Message
		if ve.Model != "" {
			opts.Problem = ve.Model + ": " + ve.Message
		}
		if ve.FieldPath != "" {
			opts.Detail = "at " + ve.FieldPath
		}
		if name := quoted(ve.Message); name != "" {
			opts.Suggestions = FindSimilar(name, candidates, nil)
		}
	case errors.As(err, &ae):
		opts.Context = "access denied"
		opts.Problem = ae.Message
	case ormerrors.IsConflict(err):
		opts.Context = "conflict"
		opts.Detail = "retry with different input"
	case ormerrors.IsNotFound(err):
		opts.Context = "not found"
		if name := quoted(err.Error()); name != "" {
			opts.Suggestions = FindSimilar(name, candidates, nil)
		}
	case ormerrors.IsUnavailable(err):
		opts.Context = "store unavailable"
		opts.HelpCommands = []string{"Check store settings: docengine.yaml store.driver and store.dsn"}
	}
	return FormatError(opts)
}

// ModelNotFoundError reports an unknown model name
func ModelNotFoundError(name string, models []string, noColor bool) string {
	return FormatError(ErrorOptions{
		Level:        ErrorLevelError,
		Context:      "model not found",
		Problem:      fmt.Sprintf("Cannot find model '%s'.", name),
		Suggestions:  FindSimilar(name, models, nil),
		HelpCommands: []string{"See all models: docengine compile"},
		NoColor:      noColor,
	})
}

// ConfigError creates a standardized configuration error
func ConfigError(message string, noColor bool) string {
	return FormatError(ErrorOptions{
		Level:        ErrorLevelError,
		Context:      "configuration error",
		Problem:      message,
		HelpCommands: []string{"View config: cat docengine.yaml", "Get help: docengine --help"},
		NoColor:      noColor,
	})
}

// Warning creates a standardized warning message
func Warning(message string, noColor bool) string {
	return FormatError(ErrorOptions{Level: ErrorLevelWarning, Problem: message, NoColor: noColor})
}

// quoted returns the first double-quoted word of s
func quoted(s string) string {
	start := strings.IndexByte(s, '"')
	if start < 0 {
		return ""
	}
	end := strings.IndexByte(s[start+1:], '"')
	if end < 0 {
		return ""
	}
	return s[start+1 : start+1+end]
}
