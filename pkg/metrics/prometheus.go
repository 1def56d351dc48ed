// Package metrics provides Prometheus metrics for the proctor session monitor.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector exported by the monitor.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Session
	sessionRunning  prometheus.Gauge
	sessionsStarted prometheus.Counter
	eventsEmitted   *prometheus.CounterVec
	eventsTruncated prometheus.Counter
	openEvents      *prometheus.GaugeVec
	warningsRaised  prometheus.Counter

	// Video loop
	framesProcessed   prometheus.Counter
	framesDropped     prometheus.Counter
	frameErrors       prometheus.Counter
	frameLatency      prometheus.Histogram
	gazeObservations  *prometheus.CounterVec
	speakingSnapshots *prometheus.CounterVec

	// Audio loop
	audioBlocks   prometheus.Counter
	audioErrors   prometheus.Counter
	audioEnergy   prometheus.Gauge
	fusionSpeech  prometheus.Gauge
	fusionNoise   prometheus.Gauge
	captureLength prometheus.Histogram

	// OS polling
	websitePolls  prometheus.Counter
	appPolls      prometheus.Counter
	osQueryErrors *prometheus.CounterVec
	alertsRaised  *prometheus.CounterVec
	alertErrors   prometheus.Counter

	// Event log
	journalWrites      prometheus.Counter
	journalWriteErrors prometheus.Counter
	journalDuplicates  prometheus.Counter
	eventLogSize       prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorRateByComponent *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "proctor",
		subsystem:        "monitor",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()
	return m
}

func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

// factory registers collectors with the configured registry. A disabled
// manager still hands out working collectors but registers none of them.
func (m *Manager) factory() promauto.Factory {
	if !m.enabled {
		return promauto.With(nil)
	}
	return promauto.With(m.registry)
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return m.factory().NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return m.factory().NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return m.factory().NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help,
		ConstLabels: m.customLabels, Buckets: buckets,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return m.factory().NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help,
		ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return m.factory().NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help,
		ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	m.sessionRunning = m.gauge("session_running", "1 while a monitoring session is active")
	m.sessionsStarted = m.counter("sessions_started_total", "Total number of monitoring sessions started")
	m.eventsEmitted = m.counterVec("events_emitted_total", "Session events appended to the event log by kind", "kind")
	m.eventsTruncated = m.counter("events_truncated_total", "Events force-closed at session termination")
	m.openEvents = m.gaugeVec("open_events", "Events currently open per tracker", "kind")
	m.warningsRaised = m.counter("look_away_warnings_total", "Look-away warnings raised (once per episode)")

	m.framesProcessed = m.counter("frames_processed_total", "Frames classified by the video loop")
	m.framesDropped = m.counter("frames_dropped_total", "Frame results dropped because the frame buffer was full")
	m.frameErrors = m.counter("frame_errors_total", "Frame acquisition failures (frame skipped)")
	m.frameLatency = m.histogram("frame_latency_milliseconds", "Time spent classifying one frame", m.histogramBuckets)
	m.gazeObservations = m.counterVec("gaze_observations_total", "Per-frame gaze classifications", "direction")
	m.speakingSnapshots = m.counterVec("speaking_observations_total", "Per-frame speaking classifications", "status")

	m.audioBlocks = m.counter("audio_blocks_total", "Audio blocks classified")
	m.audioErrors = m.counter("audio_errors_total", "Audio capture failures")
	m.audioEnergy = m.gauge("audio_energy", "Energy magnitude of the most recent audio block")
	m.fusionSpeech = m.gauge("fusion_speech_active", "Latest speech-level flag published to the fusion state")
	m.fusionNoise = m.gauge("fusion_noise_active", "Latest noise-level flag published to the fusion state")
	m.captureLength = m.histogram("audio_capture_milliseconds", "Audio capture duration per block",
		[]float64{50, 100, 200, 300, 400, 600, 1000, 2000})

	m.websitePolls = m.counter("website_polls_total", "Website activity polls")
	m.appPolls = m.counter("app_polls_total", "Application window polls")
	m.osQueryErrors = m.counterVec("os_query_errors_total", "OS query failures by operation", "operation")
	m.alertsRaised = m.counterVec("app_alerts_total", "Application window alerts by application", "app")
	m.alertErrors = m.counter("alert_errors_total", "Audible alert failures")

	m.journalWrites = m.counter("journal_writes_total", "Event journal lines written")
	m.journalWriteErrors = m.counter("journal_write_errors_total", "Event journal write failures")
	m.journalDuplicates = m.counter("journal_duplicates_total", "Duplicate event appends rejected")
	m.eventLogSize = m.gauge("event_log_size", "Events held in the current session's event log")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint and method",
		"endpoint", "method", "status_code")
	m.httpRequestDuration = m.factory().NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name("http_request_duration_milliseconds"),
		Help: "HTTP request duration in milliseconds", Buckets: m.histogramBuckets, ConstLabels: m.customLabels,
	}, []string{"endpoint", "method", "status_code"})

	m.errorRateByComponent = m.counterVec("errors_by_component_total", "Errors by component and type",
		"component", "error_type")
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total", "Errors by endpoint, method and type",
		"endpoint", "method", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "Heap bytes allocated")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_milliseconds", "Average GC pause time",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// Session metrics.

// UpdateSessionRunning toggles the running gauge.
func UpdateSessionRunning(running bool) {
	if running {
		globalManager.sessionRunning.Set(1)
		return
	}
	globalManager.sessionRunning.Set(0)
}

// RecordSessionStarted increments the started sessions counter.
func RecordSessionStarted() { globalManager.sessionsStarted.Inc() }

// RecordEventEmitted counts an event appended to the log.
func RecordEventEmitted(kind string) { globalManager.eventsEmitted.WithLabelValues(kind).Inc() }

// RecordEventTruncated counts an event force-closed at shutdown.
func RecordEventTruncated() { globalManager.eventsTruncated.Inc() }

// UpdateOpenEvents sets the open event gauge for a tracker kind.
func UpdateOpenEvents(kind string, open bool) {
	v := 0.0
	if open {
		v = 1
	}
	globalManager.openEvents.WithLabelValues(kind).Set(v)
}

// RecordWarning counts a look-away warning.
func RecordWarning() { globalManager.warningsRaised.Inc() }

// Video metrics.

// RecordFrameProcessed counts a classified frame and its latency.
func RecordFrameProcessed(latencyMs float64) {
	globalManager.framesProcessed.Inc()
	globalManager.frameLatency.Observe(latencyMs)
}

// RecordFrameDropped counts a frame result dropped by the frame buffer.
func RecordFrameDropped() { globalManager.framesDropped.Inc() }

// RecordFrameError counts a frame acquisition failure.
func RecordFrameError() { globalManager.frameErrors.Inc() }

// RecordGazeObservation counts a per-frame gaze label.
func RecordGazeObservation(direction string) {
	globalManager.gazeObservations.WithLabelValues(direction).Inc()
}

// RecordSpeakingObservation counts a per-frame speaking label.
func RecordSpeakingObservation(status string) {
	globalManager.speakingSnapshots.WithLabelValues(status).Inc()
}

// Audio metrics.

// RecordAudioBlock records a classified audio block.
func RecordAudioBlock(energy float64, speech, noise bool, captureMs float64) {
	globalManager.audioBlocks.Inc()
	globalManager.audioEnergy.Set(energy)
	globalManager.fusionSpeech.Set(boolToFloat(speech))
	globalManager.fusionNoise.Set(boolToFloat(noise))
	globalManager.captureLength.Observe(captureMs)
}

// RecordAudioError counts an audio capture failure.
func RecordAudioError() { globalManager.audioErrors.Inc() }

// OS polling metrics.

// RecordWebsitePoll counts a website activity poll.
func RecordWebsitePoll() { globalManager.websitePolls.Inc() }

// RecordAppPoll counts an application window poll.
func RecordAppPoll() { globalManager.appPolls.Inc() }

// RecordOSQueryError counts a failing OS query operation.
func RecordOSQueryError(operation string) {
	globalManager.osQueryErrors.WithLabelValues(operation).Inc()
}

// RecordAlert counts an application window alert.
func RecordAlert(app string) { globalManager.alertsRaised.WithLabelValues(app).Inc() }

// RecordAlertError counts a failing audible alert.
func RecordAlertError() { globalManager.alertErrors.Inc() }

// Journal metrics.

// RecordJournalWrite counts a written journal line.
func RecordJournalWrite() { globalManager.journalWrites.Inc() }

// RecordJournalWriteError counts a failed journal write attempt.
func RecordJournalWriteError() { globalManager.journalWriteErrors.Inc() }

// RecordJournalDuplicate counts a rejected duplicate append.
func RecordJournalDuplicate() { globalManager.journalDuplicates.Inc() }

// UpdateEventLogSize sets the number of events in the current log.
func UpdateEventLogSize(n int) { globalManager.eventLogSize.Set(float64(n)) }

// HTTP metrics.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Error metrics.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// System metrics.

// UpdateSystemMemoryUsage sets the heap usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
