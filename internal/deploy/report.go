package deploy

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"modelprov/pkg/types"
)

// WriteJSON prints the report as indented JSON.
func WriteJSON(w io.Writer, rep types.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

// WriteText prints a human-readable summary.
func WriteText(w io.Writer, rep types.Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "service\t%s (%s)\n", rep.Service, rep.Kind)
	if rep.ToolPath != "" {
		fmt.Fprintf(tw, "binary\t%s\n", rep.ToolPath)
	}
	fmt.Fprintf(tw, "state\t%s\n", rep.State)
	fmt.Fprintf(tw, "duration\t%s\n", rep.Duration.Round(time.Millisecond))
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "STEP\tSTATUS\tDETAIL")
	for _, s := range rep.Steps {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Name, s.Status, s.Detail)
	}
	if len(rep.Probes) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "PROBE\tRESULT\tTARGET\tDETAIL")
		for _, p := range rep.Probes {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Name, probeResult(p), p.Target, p.Detail)
		}
	}
	fmt.Fprintln(tw)
	fmt.Fprintf(tw, "profile creations\t%d\n", rep.ProfileCreations)
	fmt.Fprintf(tw, "artifacts changed\t%d\n", rep.ArtifactsChanged)
	fmt.Fprintf(tw, "probe failures\t%d\n", rep.ProbeFailures())
	return tw.Flush()
}

func probeResult(p types.ProbeResult) string {
	switch {
	case p.OK:
		return "pass"
	case p.Skipped:
		return "skip"
	default:
		return "FAIL"
	}
}
