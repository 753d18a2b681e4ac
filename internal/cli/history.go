package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Dicklesworthstone/waynotify/internal/daemon"
	"github.com/Dicklesworthstone/waynotify/internal/notification"
	"github.com/Dicklesworthstone/waynotify/internal/output"
	"github.com/Dicklesworthstone/waynotify/internal/tui"
	"github.com/Dicklesworthstone/waynotify/internal/utils"
)

var (
	flagHistoryTUI   bool
	flagHistoryWatch bool
	flagHistoryTheme string
)

func init() {
	historyCmd.Flags().BoolVar(&flagHistoryTUI, "tui", false, "open the interactive browser")
	historyCmd.Flags().BoolVarP(&flagHistoryWatch, "watch", "w", false, "keep running and print notifications as they arrive or close")
	historyCmd.Flags().StringVar(&flagHistoryTheme, "theme", "", "browser theme: mocha, latte (default: from terminal background)")

	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:     "history",
	Aliases: []string{"ls", "list"},
	Short:   "List notifications held by the daemon",
	Long: `List every live notification, oldest first.

With --watch the command keeps running: in JSON mode each event is one line
({"type":"new_notification",...} or {"type":"notification_closed",...}), in
text mode one line per event.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := daemon.NewIPCClient(socketPath())
	defer client.Close()

	switch {
	case flagHistoryTUI:
		pushes, err := client.Subscribe(ctx)
		if err != nil {
			return err
		}
		return tui.Run(ctx, tui.Options{Backend: client, Pushes: pushes, Theme: flagHistoryTheme})
	case flagHistoryWatch:
		return watchHistory(ctx, client, newWriter(cmd))
	}

	callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	views, err := client.GetAll(callCtx)
	if err != nil {
		return err
	}
	return newWriter(cmd).Write(historyList{views: views, width: terminalWidth()})
}

// watchHistory subscribes before listing so nothing falls between the two.
func watchHistory(ctx context.Context, client *daemon.IPCClient, out *output.Writer) error {
	pushes, err := client.Subscribe(ctx)
	if err != nil {
		return err
	}
	views, err := client.GetAll(ctx)
	if err != nil {
		return err
	}
	width := terminalWidth()
	for _, v := range views {
		if err := out.WriteNDJSON(historyEvent{
			Push:  daemon.Push{Type: daemon.TypeNewNotification, Notification: &v},
			width: width,
		}); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case p, ok := <-pushes:
			if !ok {
				return fmt.Errorf("daemon closed the connection")
			}
			if err := out.WriteNDJSON(historyEvent{Push: p, width: width}); err != nil {
				return err
			}
		}
	}
}

type historyList struct {
	views []daemon.NotificationView
	width int
}

func (h historyList) MarshalJSON() ([]byte, error) {
	return marshalViews(h.views)
}

func (h historyList) Text() string {
	if len(h.views) == 0 {
		return "no notifications"
	}
	lines := make([]string, 0, len(h.views))
	for _, v := range h.views {
		lines = append(lines, historyLine(v, h.width))
	}
	return strings.Join(lines, "\n")
}

func marshalViews(views []daemon.NotificationView) ([]byte, error) {
	if views == nil {
		views = []daemon.NotificationView{}
	}
	return json.Marshal(views)
}

type historyEvent struct {
	daemon.Push
	width int
}

func (e historyEvent) Text() string {
	switch e.Type {
	case daemon.TypeNewNotification:
		if e.Notification == nil {
			return "+ (empty)"
		}
		return "+ " + historyLine(*e.Notification, e.width-2)
	case daemon.TypeNotificationClosed:
		return fmt.Sprintf("- #%d closed (%s)", e.ID, notification.CloseReason(e.Reason))
	default:
		return e.Type
	}
}

// historyLine renders one notification as a single width-bounded line.
func historyLine(v daemon.NotificationView, width int) string {
	head := fmt.Sprintf("#%-4d %-8s %-14s %-12s", v.ID, v.Urgency, v.State, truncate(utils.OneLine(v.AppName), 12))
	text := utils.OneLine(v.Summary)
	if body := utils.OneLine(notification.StripMarkup(v.Body)); body != "" {
		text += ": " + body
	}
	if actions := v.ActionPairs(); len(actions) > 0 {
		keys := make([]string, 0, len(actions))
		for _, a := range actions {
			keys = append(keys, a.Key)
		}
		text += " [" + strings.Join(keys, ",") + "]"
	}
	line := head + " " + text
	if width > 0 {
		line = truncate(line, width)
	}
	return line
}

func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}

// terminalWidth returns the stdout width, or 0 when stdout is not a
// terminal so piped output is never cut.
func terminalWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 0
	}
	if w, _, err := term.GetSize(fd); err == nil && w > 0 {
		return w
	}
	if cols := os.Getenv("COLUMNS"); cols != "" {
		if v, err := strconv.Atoi(cols); err == nil && v > 0 {
			return v
		}
	}
	return 80
}
