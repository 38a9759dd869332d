package cli

import (
	"fmt"
	"io"
)

// HintContext provides context for generating relevant next steps.
type HintContext struct {
	// Action is the command that was executed (e.g., "enqueue", "use", "migrate")
	Action string

	// Instance is the tenant instance involved (if any)
	Instance string

	// Queued is how many rows the command added
	Queued int

	// Failed reports that part of the command did not succeed
	Failed bool
}

// PrintNextSteps prints contextual next steps after a successful command.
// Does nothing if JSON output is enabled or output is quiet.
func PrintNextSteps(w io.Writer, ctx HintContext) {
	if IsJSONOutput() || IsJSONLOutput() || IsQuiet() {
		return
	}

	hints := generateHints(ctx)
	if len(hints) == 0 {
		return
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Next steps:")
	for _, hint := range hints {
		fmt.Fprintf(w, "  %s\n", hint)
	}
}

func generateHints(ctx HintContext) []string {
	switch ctx.Action {
	case "enqueue":
		return hintsForEnqueue(ctx)
	case "use":
		return hintsForUse(ctx)
	case "sweep":
		return hintsForSweep(ctx)
	default:
		return nil
	}
}

func hintsForEnqueue(ctx HintContext) []string {
	if ctx.Queued == 0 {
		return []string{
			fmt.Sprintf("approvalq pending -i %s              # Rows already waiting", ctx.Instance),
		}
	}
	return []string{
		fmt.Sprintf("approvalq pending -i %s              # Inspect the queue", ctx.Instance),
		fmt.Sprintf("approvalq sweep -i %s                # Send due digests now", ctx.Instance),
	}
}

func hintsForUse(ctx HintContext) []string {
	if ctx.Instance == "" {
		return []string{"approvalq instances                   # List configured instances"}
	}
	return []string{
		"approvalq pending                     # Rows waiting in this instance",
		"approvalq sweep                       # Run a collation pass",
	}
}

func hintsForSweep(ctx HintContext) []string {
	if !ctx.Failed {
		return nil
	}
	return []string{
		"approvalq pending                     # Rows left for the next pass",
		"approvalq sweep --log-level debug     # Retry with provider diagnostics",
	}
}
