package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/picklr-io/zitadelhost/internal/resource"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
)

// colorize returns code unless colors are disabled.
func colorize(noColor bool, code string) string {
	if noColor {
		return ""
	}
	return code
}

func stateColor(s resource.State) string {
	switch s {
	case resource.StateRunning, resource.StateFinished:
		return colorGreen
	case resource.StateFailedToStart:
		return colorRed
	case resource.StateExited:
		return colorReset
	default:
		return colorYellow
	}
}

// printSnapshots renders snapshots as a table.
func printSnapshots(out io.Writer, snaps []resource.Snapshot, noColor bool) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RESOURCE\tTYPE\tSTATE\tERROR")
	for _, s := range snaps {
		fmt.Fprintf(w, "%s\t%s\t%s%s%s\t%s\n", s.Resource, s.Type, colorize(noColor, stateColor(s.State)), s.State, colorize(noColor, colorReset), s.Error)
	}
	_ = w.Flush()
}
