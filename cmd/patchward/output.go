package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/fentz26/patchward/internal/models"
	"github.com/olekukonko/tablewriter"
)

// statusError makes the process exit with code after the envelope was printed.
type statusError struct {
	code   int
	status int
}

func (e *statusError) Error() string {
	return "action finished with status " + strconv.Itoa(e.status)
}

// exitCodeFor maps an envelope status to a process exit code.
func exitCodeFor(status int) int {
	switch status {
	case models.StatusOK, models.StatusNotModified:
		return 0
	case models.StatusBadRequest:
		return 2
	case models.StatusPreconditionFailed:
		return 3
	default:
		return 1
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printEnvelope writes the envelope to stdout and a coloured summary to stderr.
func printEnvelope(phase string, res models.Result) error {
	fmt.Fprintf(os.Stderr, "%s %s\n", color.New(color.Bold).Sprint(phase), envelopeLabel(res))
	if err := printJSON(os.Stdout, res); err != nil {
		return err
	}
	if code := exitCodeFor(res.Status); code != 0 {
		return &statusError{code: code, status: res.Status}
	}
	return nil
}

func envelopeLabel(res models.Result) string {
	label := fmt.Sprintf("%d", res.Status)
	if res.Message != "" {
		label += " " + res.Message
	}
	switch {
	case res.Status == models.StatusOK:
		return color.GreenString(label)
	case res.Status == models.StatusNotModified:
		return color.CyanString(label)
	case res.Status < models.StatusInternalError:
		return color.YellowString(label)
	default:
		return color.RedString(label)
	}
}

func colorTxStatus(status models.TxStatus) string {
	s := string(status)
	switch status {
	case models.TxStatusCommitted:
		return color.GreenString(s)
	case models.TxStatusRolledBack:
		return color.CyanString(s)
	case models.TxStatusRunning, models.TxStatusPending:
		return color.YellowString(s)
	default:
		return color.RedString(s)
	}
}

func colorActionStatus(status models.ActionStatus) string {
	s := string(status)
	switch status {
	case models.ActionStatusApplied, models.ActionStatusChecked:
		return color.GreenString(s)
	case models.ActionStatusUnchanged, models.ActionStatusUndone:
		return color.CyanString(s)
	case models.ActionStatusFailed:
		return color.RedString(s)
	default:
		return s
	}
}

func newTable(header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	return table
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
