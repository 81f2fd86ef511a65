package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/offlinefirst/simdrive/pkg/accessibility"
	"github.com/offlinefirst/simdrive/pkg/device"
)

func newDevicesCommand(rc *RootCommand) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List simulators in the device set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := rc.ensureAppContext()
			if err != nil {
				return err
			}
			control, err := rc.openControl(cmd.Context(), app)
			if err != nil {
				return err
			}
			devices, err := control.Devices(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				data, err := sonic.ConfigStd.MarshalIndent(devices, "", "  ")
				if err != nil {
					return fmt.Errorf("encode devices: %w", err)
				}
				_, err = fmt.Fprintln(rc.stdout, string(data))
				return err
			}
			if len(devices) == 0 {
				fmt.Fprintln(rc.stdout, "No simulators found.")
				return nil
			}
			tw := tabwriter.NewWriter(rc.stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "UDID\tNAME\tSTATE\tRUNTIME")
			for _, d := range devices {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.UDID, d.Name, d.State, d.Runtime)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print devices as JSON")
	return cmd
}

func newTreeCommand(rc *RootCommand) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Print the accessibility tree of the foreground app",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rc.withSession(cmd, func(ctx context.Context, _ *AppContext, session *device.Session) error {
				nodes, err := session.AccessibilityElements(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					data, err := accessibility.EncodeIndent(nodes)
					if err != nil {
						return err
					}
					_, err = fmt.Fprintln(rc.stdout, string(data))
					return err
				}
				return accessibility.Render(rc.stdout, nodes)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the tree in the simulator's JSON shape")
	return cmd
}
