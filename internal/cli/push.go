package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/grove/internal/event"
)

// PushOptions holds flags for the push command.
type PushOptions struct {
	*RootOptions
	Payload string   // JSON object
	Set     []string // key=value pairs applied over Payload
}

// PushResult reports a recorded event.
type PushResult struct {
	Event event.Event `json:"event"`
}

// NewPushCommand creates the push command.
func NewPushCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PushOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "push <kind>",
		Short: "Record an event and upload it",
		Long: `Record a new event in the local log and upload it to the remote.

The event is visible locally at once. If the upload fails it is removed
again and the command exits 1. Values given with --set are parsed as JSON
when possible and taken as strings otherwise.

Kinds: goal_started, goal_edited, goal_logged, goal_closed, goal_abandoned,
reflection_made, grouping_created.

Examples:
  grove push goal_started --set goalId=g1 --set categoryId=health \
      --set title="Run a 10k" --set durationClass=1m \
      --set difficultyClass=firm --set soilCost=5
  grove push goal_logged --payload '{"goalId":"g1","text":"5k done"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPush(cmd.Context(), opts, event.Kind(args[0]), cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Payload, "payload", "", "payload as a JSON object")
	cmd.Flags().StringArrayVar(&opts.Set, "set", nil, "payload field as key=value (repeatable)")

	return cmd
}

func runPush(ctx context.Context, opts *PushOptions, kind event.Kind, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	f := opts.formatter(cmd)

	if !kind.Valid() {
		return f.Fail(NewExitError(ExitCommandError, fmt.Sprintf("unknown event kind %q", kind)))
	}
	payload, err := buildPayload(opts.Payload, opts.Set)
	if err != nil {
		return f.Fail(WrapExitError(ExitCommandError, "invalid payload", err))
	}

	a, err := openApp(ctx, cmd, opts.RootOptions, appOptions{remote: true})
	if err != nil {
		return f.Fail(err)
	}
	defer a.Close()
	a.start()

	ev, err := a.svc.PushEvent(ctx, kind, payload)
	if err != nil {
		return f.Fail(remoteExitError("push failed", err))
	}
	if err := a.flush(ctx); err != nil {
		return f.Fail(err)
	}
	return f.Success(PushResult{Event: ev})
}

// buildPayload merges a JSON object with key=value overrides.
func buildPayload(raw string, sets []string) (event.Object, error) {
	payload := event.Object{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return nil, fmt.Errorf("--payload: %w", err)
		}
		if payload == nil {
			payload = event.Object{}
		}
	}
	for _, kv := range sets {
		key, val, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("--set %q: want key=value", kv)
		}
		v, err := event.DecodeValue([]byte(val))
		if err != nil {
			v = event.String(val)
		}
		payload[key] = v
	}
	return payload, nil
}

// RenderText prints the recorded event.
func (r PushResult) RenderText(w io.Writer, verbose bool) {
	fmt.Fprintf(w, "✓ %s %s at %s\n", r.Event.Kind, r.Event.ClientID, r.Event.ClientTimestamp)
	if verbose {
		data, err := json.Marshal(r.Event.Payload)
		if err == nil {
			fmt.Fprintf(w, "  payload: %s\n", data)
		}
	}
}
