// Package notify shows best-effort desktop notifications.
package notify

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/sessionkeeper/internal/config"
)

// ErrUnsupported is returned on platforms without a notification command.
var ErrUnsupported = errors.New("desktop notifications are not supported on this platform")

const (
	appName        = "sessionkeeper"
	commandTimeout = 5 * time.Second
)

var (
	execCommandContext = exec.CommandContext
	execLookPath       = exec.LookPath
)

// Notification is a single message.
type Notification struct {
	Title string
	Text  string
	// Timeout is how long the message stays on screen, where supported.
	Timeout time.Duration
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// New returns the notifier for cfg: a desktop notifier that falls back to
// the log, or only the log when notifications are disabled.
func New(cfg config.NotifyConfig, logger *zap.Logger) Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("notify")
	if !cfg.Enabled {
		return &LogNotifier{logger: logger}
	}
	return &fallback{
		primary: &Desktop{goos: runtime.GOOS, timeout: cfg.Timeout},
		logger:  logger,
	}
}

// Desktop runs the platform's notification command: notify-send on Linux
// and the BSDs, osascript on macOS.
type Desktop struct {
	goos    string
	timeout time.Duration
}

// Notify implements Notifier.
func (d *Desktop) Notify(ctx context.Context, n Notification) error {
	name, args, err := d.command(n)
	if err != nil {
		return err
	}
	if _, err := execLookPath(name); err != nil {
		return fmt.Errorf("%s not available: %w", name, err)
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	out, err := execCommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s failed: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (d *Desktop) command(n Notification) (string, []string, error) {
	timeout := n.Timeout
	if timeout <= 0 {
		timeout = d.timeout
	}
	switch d.goos {
	case "linux", "freebsd", "openbsd", "netbsd":
		args := []string{"--app-name=" + appName}
		if timeout > 0 {
			args = append(args, "--expire-time="+strconv.FormatInt(timeout.Milliseconds(), 10))
		}
		return "notify-send", append(args, n.Title, n.Text), nil
	case "darwin":
		script := fmt.Sprintf("display notification %s with title %s", appleScriptString(n.Text), appleScriptString(n.Title))
		return "osascript", []string{"-e", script}, nil
	default:
		return "", nil, ErrUnsupported
	}
}

// appleScriptString quotes s as an AppleScript string literal.
func appleScriptString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier returns a notifier that only logs.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier.
func (l *LogNotifier) Notify(_ context.Context, n Notification) error {
	l.logger.Info(n.Text, zap.String("title", n.Title))
	return nil
}

// fallback tries primary and logs the message when it fails. It never
// returns an error.
type fallback struct {
	primary Notifier
	logger  *zap.Logger
}

func (f *fallback) Notify(ctx context.Context, n Notification) error {
	if err := f.primary.Notify(ctx, n); err != nil {
		f.logger.Debug("Desktop notification failed, logging instead.", zap.Error(err))
		f.logger.Info(n.Text, zap.String("title", n.Title))
	}
	return nil
}
