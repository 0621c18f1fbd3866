package cli

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // query or attach failed
	ExitCommandError = 2 // bad arguments
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode returns ExitFailure for errors that are not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter writes command results as text or JSON.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// Response is the JSON envelope of every command.
type Response struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (f *OutputFormatter) json() bool { return f.Format == "json" }

func (f *OutputFormatter) writeJSON(resp Response) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// Fields prints an ordered list of name/value pairs.
func (f *OutputFormatter) Fields(data any, pairs [][2]string) error {
	if f.json() {
		return f.writeJSON(Response{Status: "ok", Data: data})
	}
	tw := tabwriter.NewWriter(f.Writer, 0, 4, 2, ' ', 0)
	for _, p := range pairs {
		fmt.Fprintf(tw, "%s:\t%s\n", p[0], p[1])
	}
	return tw.Flush()
}

// Table prints rows under a header line.
func (f *OutputFormatter) Table(cols []string, rows [][]any, records []map[string]any) error {
	if f.json() {
		if records == nil {
			records = []map[string]any{}
		}
		return f.writeJSON(Response{Status: "ok", Data: records})
	}
	if len(rows) == 0 {
		_, err := fmt.Fprintln(f.Writer, "(0 rows)")
		return err
	}
	tw := tabwriter.NewWriter(f.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(cols, "\t"))
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = formatValue(v)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(f.Writer, "(%d rows)\n", len(rows))
	return err
}

func (f *OutputFormatter) Text(s string) error {
	if f.json() {
		return f.writeJSON(Response{Status: "ok", Data: s})
	}
	_, err := fmt.Fprintln(f.Writer, s)
	return err
}

// Error reports err in the configured format and returns it unchanged.
func (f *OutputFormatter) Error(err error) error {
	if err == nil {
		return nil
	}
	if f.json() {
		_ = f.writeJSON(Response{Status: "error", Error: err.Error()})
	}
	return err
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return "x'" + hex.EncodeToString(x) + "'"
	default:
		return fmt.Sprint(x)
	}
}
