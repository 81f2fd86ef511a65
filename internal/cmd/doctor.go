package cmd

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/offlinefirst/simdrive/pkg/preflight"
)

var errPreflightFailed = errors.New("required checks failed")

func newDoctorCommand(rc *RootCommand) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check host permissions and tools needed to drive simulators",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := rc.ensureAppContext()
			if err != nil {
				return err
			}
			report := preflight.Run(preflight.Options{
				LookupEnv:    preflight.LookupEnvFunc(rc.lookupEnv),
				FFmpegBinary: app.Config.Recording.FFmpegBinary,
				Backend:      app.Config.Device.Backend,
			})
			if asJSON {
				data, err := sonic.ConfigStd.MarshalIndent(report, "", "  ")
				if err != nil {
					return fmt.Errorf("encode report: %w", err)
				}
				fmt.Fprintln(rc.stdout, string(data))
			} else {
				for _, res := range report.Results {
					marker := "ok"
					if res.Status != preflight.StatusGranted {
						marker = "!!"
						if !res.Required {
							marker = "--"
						}
					}
					fmt.Fprintf(rc.stdout, "[%s] %-16s %-11s %s\n", marker, res.Name, res.Status, res.Message)
					if res.Guidance != "" && res.Status != preflight.StatusGranted {
						fmt.Fprintf(rc.stdout, "     %s\n", res.Guidance)
					}
				}
			}
			if !report.OK() {
				return errPreflightFailed
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}
