// Package osquery answers browser and window questions by running
// AppleScript through osascript.
package osquery

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/okian/proctor/internal/domain/activity"
	"github.com/okian/proctor/pkg/metrics"
)

const defaultTimeout = 5 * time.Second

// ErrBadName is returned for application names that cannot be quoted safely.
var ErrBadName = errors.New("application name not allowed")

// Runner executes a command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs the command as a subprocess.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, err
	}
	return out, nil
}

// Option configures an AppleScript query.
type Option func(*AppleScript)

// WithRunner replaces the subprocess runner.
func WithRunner(r Runner) Option {
	return func(a *AppleScript) {
		if r != nil {
			a.run = r
		}
	}
}

// WithTimeout bounds each osascript invocation.
func WithTimeout(d time.Duration) Option {
	return func(a *AppleScript) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// AppleScript implements activity.OSQuery on macOS.
type AppleScript struct {
	run     Runner
	timeout time.Duration
}

var _ activity.OSQuery = (*AppleScript)(nil)

// New creates an osascript-backed query.
func New(opts ...Option) *AppleScript {
	a := &AppleScript{run: ExecRunner, timeout: defaultTimeout}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

const processScript = `tell application "System Events"
	if exists (process "%[1]s") then
		if (visible of windows of process "%[1]s") contains true then
			return "open"
		else
			return "background"
		end if
	else
		return "not running"
	end if
end tell`

const tabsScript = `tell application "%s"
	set tabList to {}
	repeat with aWindow in windows
		set tabList to tabList & (get %s of tabs of aWindow)
	end repeat
	return tabList
end tell`

// AppWindow reports whether app is running and has a visible window.
func (a *AppleScript) AppWindow(ctx context.Context, app string) (activity.WindowState, error) {
	if err := checkName(app); err != nil {
		return activity.WindowState{}, err
	}
	out, err := a.osascript(ctx, fmt.Sprintf(processScript, app))
	if err != nil {
		metrics.RecordOSQueryError("app_window")
		return activity.WindowState{}, err
	}
	switch out {
	case "open":
		return activity.WindowState{Running: true, Visible: true}, nil
	case "background":
		return activity.WindowState{Running: true}, nil
	case "not running":
		return activity.WindowState{}, nil
	default:
		metrics.RecordOSQueryError("app_window")
		return activity.WindowState{}, fmt.Errorf("unexpected osascript output %q", out)
	}
}

// Browser reports whether the browser is running and lists its tab titles.
func (a *AppleScript) Browser(ctx context.Context, name string) (activity.BrowserSnapshot, error) {
	st, err := a.AppWindow(ctx, name)
	if err != nil {
		return activity.BrowserSnapshot{}, err
	}
	if !st.Running {
		return activity.BrowserSnapshot{}, nil
	}

	// Chromium browsers name the property "title"; Safari calls it "name".
	prop := "name"
	if strings.Contains(strings.ToLower(name), "chrome") {
		prop = "title"
	}
	out, err := a.osascript(ctx, fmt.Sprintf(tabsScript, name, prop))
	if err != nil {
		metrics.RecordOSQueryError("browser_tabs")
		return activity.BrowserSnapshot{}, err
	}
	return activity.BrowserSnapshot{Running: true, Tabs: ParseList(out)}, nil
}

func (a *AppleScript) osascript(ctx context.Context, script string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	out, err := a.run(ctx, "osascript", "-e", script)
	if err != nil {
		return "", fmt.Errorf("osascript: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// ParseList splits an AppleScript list rendered as "a, b, c".
func ParseList(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ", ")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func checkName(app string) error {
	if app == "" || strings.ContainsAny(app, "\"\\\n") {
		return fmt.Errorf("%w: %q", ErrBadName, app)
	}
	return nil
}
