package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/offlinefirst/simdrive/pkg/device"
)

// PasswordEnv supplies the login password when --password is not given.
const PasswordEnv = "SIMDRIVE_PASSWORD"

func newTapCommand(rc *RootCommand) *cobra.Command {
	var label string
	cmd := &cobra.Command{
		Use:   "tap [x y]",
		Short: "Tap a point, or the element with --label",
		Args: func(cmd *cobra.Command, args []string) error {
			if label != "" {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return rc.withSession(cmd, func(ctx context.Context, _ *AppContext, session *device.Session) error {
				if label != "" {
					node, err := session.TapElement(ctx, label)
					if err != nil {
						return err
					}
					x, y := node.Frame.Center()
					fmt.Fprintf(rc.stdout, "tapped %q at (%g, %g)\n", node.Label(), x, y)
					return nil
				}
				x, err := strconv.ParseFloat(args[0], 64)
				if err != nil {
					return fmt.Errorf("invalid x coordinate %q", args[0])
				}
				y, err := strconv.ParseFloat(args[1], 64)
				if err != nil {
					return fmt.Errorf("invalid y coordinate %q", args[1])
				}
				if err := session.Tap(ctx, x, y); err != nil {
					return err
				}
				fmt.Fprintf(rc.stdout, "tapped (%g, %g)\n", x, y)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "Tap the centre of the element with this accessibility label")
	return cmd
}

func newTypeCommand(rc *RootCommand) *cobra.Command {
	var submit bool
	cmd := &cobra.Command{
		Use:   "type <text>...",
		Short: "Type text into the focused field",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if submit {
				text += "\n"
			}
			return rc.withSession(cmd, func(ctx context.Context, _ *AppContext, session *device.Session) error {
				res, err := session.TypeText(ctx, text)
				if err != nil {
					return err
				}
				fmt.Fprintf(rc.stdout, "sent %d keys", res.Sent)
				if len(res.Skipped) > 0 {
					fmt.Fprintf(rc.stdout, ", skipped %d unsupported characters", len(res.Skipped))
				}
				fmt.Fprintln(rc.stdout)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&submit, "submit", false, "Press return after the text")
	return cmd
}

func newLoginCommand(rc *RootCommand) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login <username>",
		Short: "Type a username and password into a login form",
		Long: "Types the username, presses return, waits the configured login delay, then types the password and presses return.\n" +
			"The password is read from --password or the " + PasswordEnv + " environment variable.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("password") {
				value, ok := rc.lookupEnv(PasswordEnv)
				if !ok {
					return errors.New("password required: pass --password or set " + PasswordEnv)
				}
				password = value
			}
			return rc.withSession(cmd, func(ctx context.Context, _ *AppContext, session *device.Session) error {
				task := session.Login(ctx, args[0], password)
				select {
				case <-task.Done():
				case <-ctx.Done():
					task.Cancel()
					<-task.Done()
				}
				if err := task.Err(); err != nil {
					return err
				}
				fmt.Fprintln(rc.stdout, "login submitted")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "Password to type (prefer "+PasswordEnv+")")
	return cmd
}

func newSlowmoCommand(rc *RootCommand) *cobra.Command {
	return &cobra.Command{
		Use:       "slowmo <on|off>",
		Short:     "Toggle slow animations",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			enabled, err := parseSwitch(args[0])
			if err != nil {
				return err
			}
			return rc.withSession(cmd, func(ctx context.Context, _ *AppContext, session *device.Session) error {
				if err := session.SetSlowAnimations(ctx, enabled); err != nil {
					return err
				}
				state := "off"
				if enabled {
					state = "on"
				}
				fmt.Fprintf(rc.stdout, "slow animations %s\n", state)
				return nil
			})
		},
	}
}

func parseSwitch(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "on", "true", "1", "yes":
		return true, nil
	case "off", "false", "0", "no":
		return false, nil
	default:
		return false, fmt.Errorf("expected on or off, got %q", value)
	}
}
