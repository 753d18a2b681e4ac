package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/waynotify/internal/daemon"
)

func init() {
	rootCmd.AddCommand(invokeCmd)
	rootCmd.AddCommand(dismissCmd)
}

var invokeCmd = &cobra.Command{
	Use:   "invoke <id> [action]",
	Short: "Invoke an action on a notification (default: \"default\")",
	Long: `Invoke an action on a notification. The sending application receives
ActionInvoked followed by NotificationClosed, and the notification leaves the
history. Expired notifications can still be invoked.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		action := "default"
		if len(args) == 2 {
			action = args[1]
		}

		client := daemon.NewIPCClient(socketPath())
		defer client.Close()
		ctx, cancel := withTimeout(cmd)
		defer cancel()

		ok, err := client.InvokeAction(ctx, id, action)
		if err != nil {
			return err
		}
		res := actionResult{ID: id, Action: action, Success: ok}
		if err := newWriter(cmd).Write(res); err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("notification #%d has no action %q or is gone", id, action)
		}
		return nil
	},
}

var dismissCmd = &cobra.Command{
	Use:   "dismiss <id>",
	Short: "Dismiss a notification",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		client := daemon.NewIPCClient(socketPath())
		defer client.Close()
		ctx, cancel := withTimeout(cmd)
		defer cancel()

		ok, err := client.Dismiss(ctx, id)
		if err != nil {
			return err
		}
		if err := newWriter(cmd).Write(actionResult{ID: id, Success: ok}); err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("notification #%d not found", id)
		}
		return nil
	},
}

type actionResult struct {
	ID      uint32 `json:"id"`
	Action  string `json:"action,omitempty"`
	Success bool   `json:"success"`
}

func (r actionResult) Text() string {
	switch {
	case r.Action != "" && r.Success:
		return fmt.Sprintf("invoked %q on #%d", r.Action, r.ID)
	case r.Action != "":
		return fmt.Sprintf("invoke %q on #%d failed", r.Action, r.ID)
	case r.Success:
		return fmt.Sprintf("dismissed #%d", r.ID)
	default:
		return fmt.Sprintf("dismiss #%d failed", r.ID)
	}
}

func parseID(s string) (uint32, error) {
	id, err := strconv.ParseUint(s, 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid notification id %q", s)
	}
	return uint32(id), nil
}
