// Package activity polls the operating system for browser tabs and
// foreground applications.
package activity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/okian/proctor/internal/domain/model"
)

// Sentinel errors.
var (
	ErrQueryFailed = errors.New("os query failed")
	ErrNoData      = errors.New("no data this poll")
)

// DefaultBrowser is the browser whose tabs are listed.
const DefaultBrowser = "Safari"

// DefaultApps are the applications whose visible windows raise alerts.
func DefaultApps() []string {
	return []string{"Safari", "Google Chrome", "WhatsApp", "Photos", "Microsoft PowerPoint"}
}

// BrowserSnapshot is the browser state at one poll.
type BrowserSnapshot struct {
	Running bool     `json:"running"`
	Tabs    []string `json:"tabs"`
}

// WindowState is one application's window state.
type WindowState struct {
	Running bool `json:"running"`
	Visible bool `json:"visible"`
}

// OSQuery enumerates running applications and browser tabs.
type OSQuery interface {
	Browser(ctx context.Context, name string) (BrowserSnapshot, error)
	AppWindow(ctx context.Context, app string) (WindowState, error)
}

// AlertSink plays an audible alert. Calls are fire-and-forget.
type AlertSink interface {
	Alert(ctx context.Context, app string) error
}

// WebsiteTracker emits one WebsiteActivity event per poll.
type WebsiteTracker struct {
	mu       sync.Mutex
	query    OSQuery
	browser  string
	prevTabs map[string]struct{}
}

// NewWebsiteTracker creates a tracker for browser. An empty name selects DefaultBrowser.
func NewWebsiteTracker(query OSQuery, browser string) *WebsiteTracker {
	if browser == "" {
		browser = DefaultBrowser
	}
	return &WebsiteTracker{query: query, browser: browser}
}

// Poll queries the browser and returns the poll's event. The event is
// produced even when the query fails; the error is returned alongside it.
func (w *WebsiteTracker) Poll(ctx context.Context, now time.Time) (model.SessionEvent, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap, err := w.query.Browser(ctx, w.browser)
	if err != nil {
		ev := model.NewInstant(model.KindWebsiteActivity, now, "no data: "+err.Error())
		return ev, fmt.Errorf("%w: %w", ErrNoData, err)
	}
	return model.NewInstant(model.KindWebsiteActivity, now, w.describe(snap)), nil
}

func (w *WebsiteTracker) describe(snap BrowserSnapshot) string {
	if !snap.Running {
		w.prevTabs = nil
		return w.browser + " is not open."
	}

	var opened []string
	cur := make(map[string]struct{}, len(snap.Tabs))
	for _, tab := range snap.Tabs {
		cur[tab] = struct{}{}
		if _, ok := w.prevTabs[tab]; !ok && w.prevTabs != nil {
			opened = append(opened, tab)
		}
	}
	w.prevTabs = cur

	var b strings.Builder
	fmt.Fprintf(&b, "%s is open. Open tabs in %s: [%s]", w.browser, w.browser, strings.Join(snap.Tabs, ", "))
	if len(opened) > 0 {
		fmt.Fprintf(&b, "; newly opened: [%s]", strings.Join(opened, ", "))
	}
	return b.String()
}

// AppMonitor raises an alert for every configured application with a
// visible window, on every poll.
type AppMonitor struct {
	query OSQuery
	sink  AlertSink
	apps  []string
}

// AppOption configures an AppMonitor.
type AppOption func(*AppMonitor)

// WithApps replaces the monitored application list.
func WithApps(apps ...string) AppOption {
	return func(m *AppMonitor) {
		if len(apps) > 0 {
			m.apps = append([]string(nil), apps...)
		}
	}
}

// NewAppMonitor creates a monitor. A nil sink disables audible alerts.
func NewAppMonitor(query OSQuery, sink AlertSink, opts ...AppOption) *AppMonitor {
	m := &AppMonitor{query: query, sink: sink, apps: DefaultApps()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Apps returns the monitored application names.
func (m *AppMonitor) Apps() []string {
	return append([]string(nil), m.apps...)
}

// Poll checks each application independently. Failed queries are skipped
// and failed alerts still emit the event; both are reported in the joined error.
func (m *AppMonitor) Poll(ctx context.Context, now time.Time) ([]model.SessionEvent, error) {
	var (
		events []model.SessionEvent
		errs   []error
	)
	for _, app := range m.apps {
		st, err := m.query.AppWindow(ctx, app)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %w", ErrQueryFailed, app, err))
			continue
		}
		if !st.Running || !st.Visible {
			continue
		}
		events = append(events, model.NewInstant(model.KindAppAlert, now, fmt.Sprintf("[WARNING] %s is actively open!", app)))
		if m.sink == nil {
			continue
		}
		if err := m.sink.Alert(ctx, app); err != nil {
			errs = append(errs, &AlertError{App: app, Err: err})
		}
	}
	return events, errors.Join(errs...)
}

// AlertError reports a failed audible alert.
type AlertError struct {
	App string
	Err error
}

func (e *AlertError) Error() string { return fmt.Sprintf("alert for %s: %v", e.App, e.Err) }

func (e *AlertError) Unwrap() error { return e.Err }
