package commands

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"connectrpc.com/connect"
	"github.com/spf13/cobra"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dantte-lp/smgw/internal/gateway"
)

// errInvalidMinutes is returned for a minutes argument that is not a finite
// positive number.
var errInvalidMinutes = errors.New("minutes must be a positive number")

// parseMinutes accepts a finite positive number of minutes.
func parseMinutes(arg string) (float64, error) {
	minutes, err := strconv.ParseFloat(arg, 64)
	if err != nil || math.IsNaN(minutes) || math.IsInf(minutes, 0) || minutes <= 0 {
		return 0, fmt.Errorf("%w: %q", errInvalidMinutes, arg)
	}
	return minutes, nil
}

// --- listeners ---

func listenersCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "listeners",
		Aliases: []string{"ls"},
		Short:   "List gateway listeners and their throttle state",
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			resp, err := client.ListListeners(context.Background(), connect.NewRequest(&structpb.Struct{}))
			if err != nil {
				return fmt.Errorf("list listeners: %w", err)
			}

			out, err := formatListeners(listenersFromStruct(resp.Msg), outputFormat)
			if err != nil {
				return fmt.Errorf("format listeners: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}

// --- shutup ---

func shutupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shutup <whom> [minutes]",
		Short: "Suppress listeners forwarding to a recipient",
		Long: "Suppresses every listener that forwards to <whom> for the given number of minutes " +
			"(default " + gateway.FormatMinutes(gateway.DefaultSuppressMinutes) + ").",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(_ *cobra.Command, args []string) error {
			fields := map[string]any{"whom": args[0]}
			if len(args) == 2 {
				minutes, err := parseMinutes(args[1])
				if err != nil {
					return err
				}
				fields["minutes"] = minutes
			}

			req, err := newRequest(fields)
			if err != nil {
				return err
			}

			resp, err := client.Suppress(context.Background(), req)
			if err != nil {
				return fmt.Errorf("suppress %s: %w", args[0], err)
			}

			f := resp.Msg.GetFields()
			fmt.Printf("Suppressed %d listener(s) for %s minutes.\n",
				int(f["affected"].GetNumberValue()),
				gateway.FormatMinutes(f["minutes"].GetNumberValue()),
			)

			return nil
		},
	}
}

// --- commands ---

func helpCommandsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "commands",
		Short: "List the chat commands the gateway understands",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			resp, err := client.Help(context.Background(), connect.NewRequest(&structpb.Struct{}))
			if err != nil {
				return fmt.Errorf("help: %w", err)
			}

			for _, v := range resp.Msg.GetFields()["commands"].GetListValue().GetValues() {
				fmt.Println(gateway.CommandPrefix + v.GetStringValue())
			}

			return nil
		},
	}
}

// --- dispatch ---

func dispatchCmd() *cobra.Command {
	var whom, author string

	cmd := &cobra.Command{
		Use:   "dispatch <text>...",
		Short: "Run chat text through the gateway command registry",
		Example: `  smgwctl dispatch --whom -100123 '!smshutup 10'
  smgwctl dispatch '!smhelp'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			req, err := newRequest(map[string]any{
				"body":   strings.Join(args, " "),
				"whom":   whom,
				"author": author,
			})
			if err != nil {
				return err
			}

			resp, err := client.Dispatch(context.Background(), req)
			if err != nil {
				return fmt.Errorf("dispatch: %w", err)
			}

			f := resp.Msg.GetFields()
			if !f["handled"].GetBoolValue() {
				fmt.Println("(not a command)")
				return nil
			}
			fmt.Println(f["reply"].GetStringValue())

			return nil
		},
	}

	cmd.Flags().StringVar(&whom, "whom", "", "recipient the text appears to come from")
	cmd.Flags().StringVar(&author, "author", "smgwctl", "author recorded for the text")

	return cmd
}

func newRequest(fields map[string]any) (*connect.Request[structpb.Struct], error) {
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	return connect.NewRequest(msg), nil
}
