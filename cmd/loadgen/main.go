// Command loadgen drives the reports API with concurrent traffic and prints
// latency percentiles as JSON. Without -target it boots an in-process stack
// backed by the in-memory adapters.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/iago/mileage-reports-back/internal/app"
	"github.com/iago/mileage-reports-back/internal/config"
	"github.com/iago/mileage-reports-back/internal/logging"
)

type scenarioResult struct {
	Name          string   `json:"name"`
	Total         int      `json:"total"`
	Success       int      `json:"success"`
	Errors        int      `json:"errors"`
	P50MS         float64  `json:"p50_ms"`
	P95MS         float64  `json:"p95_ms"`
	P99MS         float64  `json:"p99_ms"`
	MaxMS         float64  `json:"max_ms"`
	ThroughputRPS float64  `json:"throughput_rps"`
	ErrorSamples  []string `json:"error_samples,omitempty"`
}

type completionResult struct {
	Tracked   int     `json:"tracked"`
	Completed int     `json:"completed"`
	Failed    int     `json:"failed"`
	Pending   int     `json:"pending"`
	ElapsedMS float64 `json:"elapsed_ms"`
}

type runResult struct {
	GeneratedAtUTC string           `json:"generated_at_utc"`
	Environment    string           `json:"environment"`
	Results        []scenarioResult `json:"results"`
	Completion     completionResult `json:"completion"`
	SLOEvaluation  map[string]bool  `json:"slo_evaluation"`
}

type target struct {
	baseURL   string
	authToken string
	client    *http.Client
	close     func()
}

func main() {
	targetURL := flag.String("target", "", "base URL of a running API (default: in-process stack)")
	authToken := flag.String("token", "", "bearer token for -target")
	users := flag.Int("users", 40, "distinct user ids to spread requests over")
	createTotal := flag.Int("create-total", 200, "total report creation requests")
	createConcurrency := flag.Int("create-concurrency", 24, "concurrency for report creation")
	readTotal := flag.Int("read-total", 400, "total status and list requests")
	readConcurrency := flag.Int("read-concurrency", 32, "concurrency for reads")
	completionWait := flag.Duration("completion-wait", 30*time.Second, "how long to wait for created reports to settle")
	outputPath := flag.String("output", "", "optional path to persist results JSON")
	flag.Parse()

	t, env, err := openTarget(*targetURL, *authToken)
	if err != nil {
		log.Fatalf("failed to start load target: %v", err)
	}
	defer t.close()

	var (
		mu      sync.Mutex
		created []createdReport
	)
	createScenario := runScenario("reports_create", *createTotal, *createConcurrency, func(index int) error {
		userID := fmt.Sprintf("load-user-%d", index%*users)
		day := 1 + index%28
		payload := map[string]string{
			"start_date": fmt.Sprintf("2024-01-%02d", day),
			"end_date":   "2024-01-28",
		}
		headers := map[string]string{
			"X-User-ID":       userID,
			"Idempotency-Key": fmt.Sprintf("load-%d-%d", index, time.Now().UnixNano()),
		}
		var body struct {
			ID string `json:"id"`
		}
		if err := t.do(http.MethodPost, "/v1/reports", payload, headers, http.StatusAccepted, &body); err != nil {
			return err
		}
		mu.Lock()
		created = append(created, createdReport{id: body.ID, userID: userID})
		mu.Unlock()
		return nil
	})

	statusScenario := runScenario("reports_status", *readTotal, *readConcurrency, func(index int) error {
		mu.Lock()
		if len(created) == 0 {
			mu.Unlock()
			return fmt.Errorf("no reports were created")
		}
		report := created[index%len(created)]
		mu.Unlock()
		headers := map[string]string{"X-User-ID": report.userID}
		return t.do(http.MethodGet, "/v1/reports/"+report.id, nil, headers, http.StatusOK, nil)
	})

	listScenario := runScenario("reports_list", *readTotal, *readConcurrency, func(index int) error {
		headers := map[string]string{"X-User-ID": fmt.Sprintf("load-user-%d", index%*users)}
		return t.do(http.MethodGet, "/v1/reports", nil, headers, http.StatusOK, nil)
	})

	completion := waitForCompletion(t, created, *completionWait)
	results := []scenarioResult{createScenario, statusScenario, listScenario}

	slo := map[string]bool{
		"create_endpoint_p95_le_500ms": createScenario.P95MS <= 500,
		"status_endpoint_p95_le_200ms": statusScenario.P95MS <= 200,
		"all_reports_settled":          completion.Pending == 0,
	}

	report := runResult{
		GeneratedAtUTC: time.Now().UTC().Format(time.RFC3339Nano),
		Environment:    env,
		Results:        results,
		Completion:     completion,
		SLOEvaluation:  slo,
	}

	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Fatalf("failed to marshal load report: %v", err)
	}
	if *outputPath != "" {
		if err := os.WriteFile(*outputPath, encoded, 0o644); err != nil {
			log.Fatalf("failed to write output file: %v", err)
		}
	}
	_, _ = fmt.Fprintln(os.Stdout, string(encoded))
}

type createdReport struct {
	id     string
	userID string
}

func openTarget(baseURL, token string) (*target, string, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	if baseURL != "" {
		return &target{baseURL: baseURL, authToken: token, client: client, close: func() {}}, "remote", nil
	}

	cfg, err := config.Load("")
	if err != nil {
		return nil, "", err
	}
	cfg.Database.URL = ""
	cfg.Queue.Backend = "local"
	cfg.Storage.Backend = "memory"
	cfg.Notify.Backend = "log"
	cfg.Server.AuthToken = ""
	cfg.Server.RateLimitRPS = 20000
	cfg.Server.RateLimitBurst = 20000
	cfg.Reports.SystemActiveLimit = 100000
	cfg.Reports.CooldownLimit = 100000
	cfg.Reports.DailyLimit = 100000
	cfg.Worker.PollWait = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	application, err := app.New(ctx, cfg, logging.Discard())
	if err != nil {
		cancel()
		return nil, "", err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		application.Worker().Run(ctx)
	}()

	server := httptest.NewServer(application.Handler())
	return &target{
		baseURL: server.URL,
		client:  client,
		close: func() {
			server.Close()
			cancel()
			<-done
			application.Close()
		},
	}, "local-httptest", nil
}

func (t *target) do(
	method string,
	path string,
	payload any,
	headers map[string]string,
	expectedStatus int,
	out any,
) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	request, err := http.NewRequest(method, t.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	request.Header.Set("Accept", "application/json")
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if t.authToken != "" {
		request.Header.Set("Authorization", "Bearer "+t.authToken)
	}
	for key, value := range headers {
		request.Header.Set(key, value)
	}

	response, err := t.client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != expectedStatus {
		raw, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		return fmt.Errorf("unexpected status %d (expected %d): %s", response.StatusCode, expectedStatus, string(raw))
	}
	if out != nil {
		return json.NewDecoder(response.Body).Decode(out)
	}
	_, _ = io.Copy(io.Discard, response.Body)
	return nil
}

func waitForCompletion(t *target, reports []createdReport, wait time.Duration) completionResult {
	startedAt := time.Now()
	deadline := startedAt.Add(wait)
	result := completionResult{Tracked: len(reports)}

	settled := make(map[string]string, len(reports))
	for time.Now().Before(deadline) && len(settled) < len(reports) {
		for _, r := range reports {
			if _, ok := settled[r.id]; ok {
				continue
			}
			var body struct {
				Status string `json:"status"`
			}
			headers := map[string]string{"X-User-ID": r.userID}
			if err := t.do(http.MethodGet, "/v1/reports/"+r.id, nil, headers, http.StatusOK, &body); err != nil {
				continue
			}
			if body.Status == "completed" || body.Status == "failed" {
				settled[r.id] = body.Status
			}
		}
		if len(settled) < len(reports) {
			time.Sleep(100 * time.Millisecond)
		}
	}

	for _, status := range settled {
		if status == "completed" {
			result.Completed++
		} else {
			result.Failed++
		}
	}
	result.Pending = len(reports) - len(settled)
	result.ElapsedMS = round2(float64(time.Since(startedAt).Microseconds()) / 1000.0)
	return result
}

func runScenario(
	name string,
	total int,
	concurrency int,
	requestFn func(index int) error,
) scenarioResult {
	if total <= 0 {
		return scenarioResult{Name: name}
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	startedAt := time.Now()
	type sample struct {
		durationMS float64
		err        string
	}

	jobs := make(chan int, total)
	results := make(chan sample, total)
	for i := 0; i < total; i++ {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				requestStart := time.Now()
				err := requestFn(index)
				s := sample{durationMS: float64(time.Since(requestStart).Microseconds()) / 1000.0}
				if err != nil {
					s.err = err.Error()
				}
				results <- s
			}
		}()
	}
	wg.Wait()
	close(results)

	durations := make([]float64, 0, total)
	errorSamples := make([]string, 0, 5)
	success, failures := 0, 0
	for item := range results {
		durations = append(durations, item.durationMS)
		if item.err == "" {
			success++
			continue
		}
		failures++
		if len(errorSamples) < 5 {
			errorSamples = append(errorSamples, item.err)
		}
	}

	sort.Float64s(durations)
	elapsedSeconds := time.Since(startedAt).Seconds()
	throughput := 0.0
	if elapsedSeconds > 0 {
		throughput = float64(total) / elapsedSeconds
	}

	return scenarioResult{
		Name:          name,
		Total:         total,
		Success:       success,
		Errors:        failures,
		P50MS:         percentile(durations, 0.50),
		P95MS:         percentile(durations, 0.95),
		P99MS:         percentile(durations, 0.99),
		MaxMS:         percentile(durations, 1.00),
		ThroughputRPS: round2(throughput),
		ErrorSamples:  errorSamples,
	}
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		return round2(values[0])
	}
	if p >= 1 {
		return round2(values[len(values)-1])
	}
	rank := int(math.Ceil(float64(len(values))*p)) - 1
	if rank < 0 {
		rank = 0
	}
	return round2(values[rank])
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
