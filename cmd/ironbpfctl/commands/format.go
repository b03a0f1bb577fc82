package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// formatStatus renders a daemon status document in the requested format.
func formatStatus(status *daemonStatus, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatStatusJSON(status)
	case formatTable:
		return formatStatusTable(status), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatStatusJSON(status *daemonStatus) (string, error) {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal status to JSON: %w", err)
	}

	return string(data), nil
}

func formatStatusTable(status *daemonStatus) string {
	var buf strings.Builder

	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BIN\tDEPTH")

	bins := make([]string, 0, len(status.QueueDepths))
	for bin := range status.QueueDepths {
		bins = append(bins, bin)
	}
	sort.Strings(bins)
	for _, bin := range bins {
		fmt.Fprintf(w, "%s\t%d\n", bin, status.QueueDepths[bin])
	}
	w.Flush()

	fmt.Fprintln(&buf)

	w = tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CONTROLLER\tREADY\tQUEUED-BYTES\tCAPACITY-BPS")
	for _, c := range status.Controllers {
		fmt.Fprintf(w, "%s\t%t\t%d\t%d\n", c.Label, c.Ready, c.QueuedBytes, c.CapacityBps)
	}
	w.Flush()

	return buf.String()
}
