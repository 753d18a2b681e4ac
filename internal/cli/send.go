package cli

import (
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/waynotify/internal/notify"
)

var (
	flagSendApp      string
	flagSendIcon     string
	flagSendUrgency  string
	flagSendTimeout  int32
	flagSendReplaces uint32
	flagSendActions  []string
	flagSendCategory string
	flagSendWait     bool
)

func init() {
	sendCmd.Flags().StringVarP(&flagSendApp, "app", "a", "waynotify", "application name")
	sendCmd.Flags().StringVarP(&flagSendIcon, "icon", "i", "", "icon name or path")
	sendCmd.Flags().StringVarP(&flagSendUrgency, "urgency", "u", "normal", "urgency: low, normal, critical")
	sendCmd.Flags().Int32VarP(&flagSendTimeout, "expire-time", "t", -1, "expiry in ms (-1 server default, 0 never)")
	sendCmd.Flags().Uint32VarP(&flagSendReplaces, "replace", "r", 0, "id of a notification to replace")
	sendCmd.Flags().StringArrayVarP(&flagSendActions, "action", "A", nil, "action as key=label (repeatable)")
	sendCmd.Flags().StringVar(&flagSendCategory, "category", "", "category hint")
	sendCmd.Flags().BoolVar(&flagSendWait, "wait", false, "wait until the notification closes and report the invoked action")

	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(closeCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send <summary> [body]",
	Short: "Send a notification over D-Bus",
	Long: `Send a notification to whichever server owns org.freedesktop.Notifications,
normally the waynotify daemon. Prints the assigned id.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		urgency, err := notify.ParseUrgency(flagSendUrgency)
		if err != nil {
			return err
		}
		actions, err := parseActionFlags(flagSendActions)
		if err != nil {
			return err
		}
		n := notify.Notification{
			AppName:    flagSendApp,
			Title:      args[0],
			Icon:       flagSendIcon,
			Actions:    actions,
			Timeout:    flagSendTimeout,
			ReplacesID: flagSendReplaces,
			Urgency:    urgency,
			Category:   flagSendCategory,
		}
		if len(args) == 2 {
			n.Body = args[1]
		}

		client, err := notify.Dial()
		if err != nil {
			return err
		}
		defer client.Close()

		var signals <-chan *dbus.Signal
		if flagSendWait {
			if signals, err = client.Watch(); err != nil {
				return err
			}
		}

		ctx, cancel := withTimeout(cmd)
		id, err := client.Notify(ctx, n)
		cancel()
		if err != nil {
			return err
		}
		if !flagSendWait {
			return newWriter(cmd).Write(sendResult{ID: id})
		}

		outcome, err := notify.Wait(cmd.Context(), signals, id)
		if err != nil {
			return err
		}
		return newWriter(cmd).Write(waitResult(outcome))
	},
}

var closeCmd = &cobra.Command{
	Use:   "close <id>",
	Short: "Close a notification over D-Bus, as the sending application would",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		client, err := notify.Dial()
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, cancel := withTimeout(cmd)
		defer cancel()
		if err := client.CloseNotification(ctx, id); err != nil {
			return err
		}
		newWriter(cmd).Success(fmt.Sprintf("closed #%d", id))
		return nil
	},
}

type sendResult struct {
	ID uint32 `json:"id"`
}

func (r sendResult) Text() string {
	return fmt.Sprint(r.ID)
}

type waitResult notify.Outcome

func (r waitResult) Text() string {
	if r.ActionKey != "" {
		return r.ActionKey
	}
	return fmt.Sprintf("closed (reason %d)", r.Reason)
}

// parseActionFlags turns key=label flags into the flat key, label list.
// A bare key is its own label.
func parseActionFlags(flags []string) ([]string, error) {
	out := make([]string, 0, 2*len(flags))
	for _, f := range flags {
		key, label, found := strings.Cut(f, "=")
		if key == "" {
			return nil, fmt.Errorf("invalid action %q: key is empty", f)
		}
		if !found {
			label = key
		}
		out = append(out, key, label)
	}
	return out, nil
}
