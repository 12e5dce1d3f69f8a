package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xraph/taskrun/unit"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		sets    []string
		payload string
	)

	cmd := &cobra.Command{
		Use:   "run <workflow>",
		Short: "Run a workflow on demand",
		Long: `Runs a registered workflow once and waits for it. The payload is built
from --payload (a JSON object) and then --set key=value pairs, which are
always strings and override keys from --payload.`,
		Example: `  taskrun run enrollment-transition \
    --set enrollment_id=2f1c... --set status=APPROVED`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := buildPayload(payload, sets)
			if err != nil {
				return err
			}
			return runWorkflow(rootOpts, cmd, args[0], p)
		},
	}

	cmd.Flags().StringArrayVar(&sets, "set", nil, "payload entry as key=value (repeatable)")
	cmd.Flags().StringVar(&payload, "payload", "", "payload as a JSON object")
	return cmd
}

func buildPayload(raw string, sets []string) (*unit.Payload, error) {
	p := unit.NewPayload()
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), p); err != nil {
			return nil, fmt.Errorf("--payload: %w", err)
		}
	}
	for _, kv := range sets {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("--set %q: want key=value", kv)
		}
		p.Set(k, v)
	}
	return p, nil
}

func runWorkflow(opts *RootOptions, cmd *cobra.Command, name string, p *unit.Payload) (err error) {
	a, err := newApp(cmd, opts)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, a.close(cmd.Context())) }()

	out, err := a.runner().RunSync(cmd.Context(), name, p)
	if out == nil || out.Record == nil {
		return err
	}
	return report(cmd, out)
}
