package deployments

import (
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"testing"
)

func TestPrometheusRulesContainExpectedAlerts(t *testing.T) {
	text := readAsset(t, "deployments", "observability", "prometheus", "querypilot_rules.yaml")

	requiredAlerts := []string{
		"QueryPilotHTTPErrorRateHigh",
		"QueryPilotTurnAbortRatioHigh",
		"QueryPilotGenerateQueryLatencyP95High",
		"QueryPilotExecuteQueryFailures",
		"QueryPilotDryRunBytesP95High",
	}
	for _, alertName := range requiredAlerts {
		if !strings.Contains(text, "alert: "+alertName) {
			t.Fatalf("rules missing alert %q", alertName)
		}
	}

	requiredMetrics := []string{
		"querypilot:slo_http_error_rate_5m",
		"querypilot:slo_turn_abort_ratio_15m",
		"querypilot:slo_step_latency_seconds_p95",
		"querypilot:slo_step_failures_15m",
		"querypilot:slo_dry_run_bytes_p95",
	}
	for _, metricName := range requiredMetrics {
		matched, err := regexp.MatchString(regexp.QuoteMeta(metricName), text)
		if err != nil {
			t.Fatalf("regexp error for metric %q: %v", metricName, err)
		}
		if !matched {
			t.Fatalf("rules missing metric reference %q", metricName)
		}
	}
}

func TestPrometheusRecordingRulesUseExportedMetrics(t *testing.T) {
	text := readAsset(t, "deployments", "observability", "prometheus", "querypilot_recording_rules.yaml")

	for _, record := range []string{
		"querypilot:slo_http_error_rate_5m",
		"querypilot:slo_turn_abort_ratio_15m",
		"querypilot:slo_step_latency_seconds_p95",
		"querypilot:slo_step_failures_15m",
		"querypilot:slo_dry_run_bytes_p95",
	} {
		if !strings.Contains(text, "record: "+record) {
			t.Fatalf("recording rules missing record %q", record)
		}
	}
	for _, metric := range []string{
		"querypilot_http_requests_total",
		"querypilot_turns_total",
		"querypilot_step_duration_seconds_bucket",
		"querypilot_dry_run_bytes_bucket",
	} {
		if !strings.Contains(text, metric) {
			t.Fatalf("recording rules never read %q", metric)
		}
	}
}

func TestPrometheusScrapeExampleContainsMetricsPathAndRules(t *testing.T) {
	text := readAsset(t, "deployments", "observability", "prometheus", "prometheus-scrape.example.yaml")

	for _, token := range []string{
		"metrics_path: /v1/metrics",
		"querypilot_rules.yaml",
		"querypilot_recording_rules.yaml",
		"job_name: querypilot-api",
	} {
		if !strings.Contains(text, token) {
			t.Fatalf("scrape example missing %q", token)
		}
	}
}

func readAsset(t *testing.T, parts ...string) string {
	t.Helper()
	path := filepath.Join(append([]string{repoRoot(t)}, parts...)...)
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(content)
}

func repoRoot(t *testing.T) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(filename), ".."))
}
