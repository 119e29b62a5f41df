package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	// healthcheckCmd represents the healthcheck command
	healthcheckCmd = &cobra.Command{
		Use:   "healthcheck",
		Short: "Check if the node is healthy",
		Long: `Performs a health check by calling the /healthz endpoint.

This command supports multiple modes:
  1. Basic check (default): check localhost node
  2. Watch mode: continuously monitor health status

Exit codes:
  0 - Node is healthy
  1 - Node is unhealthy or unreachable
  2 - Invalid response from node

Examples:
  # Basic health check (Docker HEALTHCHECK compatible)
  server healthcheck

  # Watch mode with custom interval
  server healthcheck --watch --interval 10s

  # Retry with backoff
  server healthcheck --retries 5 --retry-delay 3s

  # Different output formats
  server healthcheck --format json
  server healthcheck --format table
  server healthcheck --format simple`,
		RunE: runHealthcheck,
	}

	// Flags
	healthcheckTimeout    int
	healthcheckURL        string
	healthcheckWatch      bool
	healthcheckInterval   time.Duration
	healthcheckMaxChecks  int
	healthcheckRetries    int
	healthcheckRetryDelay time.Duration
	healthcheckFormat     string
)

func init() {
	healthcheckCmd.Flags().IntVar(&healthcheckTimeout, "timeout", 5, "timeout in seconds for each health check")
	healthcheckCmd.Flags().StringVar(&healthcheckURL, "url", "", "health check URL (default: http://localhost:$MRS_PORT/healthz)")
	healthcheckCmd.Flags().BoolVar(&healthcheckWatch, "watch", false, "continuously monitor health status")
	healthcheckCmd.Flags().DurationVar(&healthcheckInterval, "interval", 5*time.Second, "interval between checks in watch mode")
	healthcheckCmd.Flags().IntVar(&healthcheckMaxChecks, "max-checks", 0, "maximum number of checks in watch mode (0=unlimited)")
	healthcheckCmd.Flags().IntVar(&healthcheckRetries, "retries", 3, "number of retry attempts on failure")
	healthcheckCmd.Flags().DurationVar(&healthcheckRetryDelay, "retry-delay", 2*time.Second, "delay between retry attempts")
	healthcheckCmd.Flags().StringVar(&healthcheckFormat, "format", "simple", "output format: simple, json, or table")
}

// HealthResponse matches the response from internal/api/handlers/health.go
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	GitCommit string                 `json:"git_commit,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Timestamp string                 `json:"timestamp,omitempty"`
}

// CheckResult represents the result of a single health check
type CheckResult struct {
	Status    string                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	LatencyMs int64                  `json:"latency_ms,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// HealthCheckResult represents the result of a health check operation
type HealthCheckResult struct {
	URL        string          `json:"url"`
	Status     string          `json:"status"`
	StatusCode int             `json:"status_code"`
	Response   *HealthResponse `json:"response,omitempty"`
	Error      string          `json:"error,omitempty"`
	LatencyMs  int64           `json:"latency_ms"`
	CheckedAt  time.Time       `json:"checked_at"`
	IsHealthy  bool            `json:"is_healthy"`
	RetryCount int             `json:"retry_count,omitempty"`
}

func runHealthcheck(cmd *cobra.Command, args []string) error {
	if healthcheckFormat != "simple" && healthcheckFormat != "json" && healthcheckFormat != "table" {
		return fmt.Errorf("invalid format: %s (must be simple, json, or table)", healthcheckFormat)
	}

	url := determineHealthCheckURL()

	if healthcheckWatch {
		return runWatchMode(url)
	}

	result := performHealthCheckWithRetries(url)
	outputResults([]HealthCheckResult{result})

	if !result.IsHealthy {
		os.Exit(1)
	}

	return nil
}

// determineHealthCheckURL determines which URL to check based on flags.
func determineHealthCheckURL() string {
	if healthcheckURL != "" {
		return healthcheckURL
	}

	port := os.Getenv("MRS_PORT")
	if port == "" {
		port = "8443"
	}
	return fmt.Sprintf("http://localhost:%s/healthz", port)
}

// performHealthCheckWithRetries performs a health check with retry logic
func performHealthCheckWithRetries(url string) HealthCheckResult {
	var lastResult HealthCheckResult

	for attempt := 0; attempt <= healthcheckRetries; attempt++ {
		lastResult = performHealthCheck(url)
		lastResult.RetryCount = attempt

		if lastResult.IsHealthy {
			return lastResult
		}

		if attempt < healthcheckRetries {
			time.Sleep(healthcheckRetryDelay)
		}
	}

	return lastResult
}

// performHealthCheck performs a single health check
func performHealthCheck(url string) HealthCheckResult {
	result := HealthCheckResult{
		URL:       url,
		CheckedAt: time.Now(),
	}

	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(healthcheckTimeout)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		result.Error = fmt.Sprintf("failed to create request: %v", err)
		result.LatencyMs = time.Since(start).Milliseconds()
		return result
	}

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		result.Error = fmt.Sprintf("request failed: %v", err)
		result.LatencyMs = time.Since(start).Milliseconds()
		return result
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode
	result.LatencyMs = time.Since(start).Milliseconds()

	if resp.StatusCode != http.StatusOK {
		result.Status = "unhealthy"
		result.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
		return result
	}

	var healthResp HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&healthResp); err != nil {
		result.Error = fmt.Sprintf("invalid response: %v", err)
		result.StatusCode = 2 // Invalid response
		return result
	}

	result.Response = &healthResp
	result.Status = healthResp.Status
	result.IsHealthy = (healthResp.Status == "healthy")

	return result
}

// runWatchMode runs continuous health monitoring
func runWatchMode(url string) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	fmt.Printf("Starting health check monitoring (interval: %s, press Ctrl+C to stop)\n\n", healthcheckInterval)

	checkCount := 0
	ticker := time.NewTicker(healthcheckInterval)
	defer ticker.Stop()

	performAndDisplayWatchCheck(url, checkCount)
	checkCount++

	for {
		select {
		case <-sigChan:
			fmt.Println("\nStopping health check monitoring...")
			return nil
		case <-ticker.C:
			performAndDisplayWatchCheck(url, checkCount)
			checkCount++

			if healthcheckMaxChecks > 0 && checkCount >= healthcheckMaxChecks {
				fmt.Printf("\nReached maximum checks (%d), stopping...\n", healthcheckMaxChecks)
				return nil
			}
		}
	}
}

// performAndDisplayWatchCheck performs and displays a single watch check
func performAndDisplayWatchCheck(url string, checkCount int) {
	result := performHealthCheck(url)

	timestamp := time.Now().Format("15:04:05")
	status := "✓ HEALTHY"
	if !result.IsHealthy {
		status = "✗ UNHEALTHY"
	}

	latency := fmt.Sprintf("%dms", result.LatencyMs)

	if result.Error != "" {
		fmt.Printf("[%s] %s - ERROR: %s (latency: %s)\n", timestamp, status, result.Error, latency)
	} else {
		fmt.Printf("[%s] %s - %s (latency: %s)\n", timestamp, status, result.Status, latency)
	}
}

// outputResults outputs health check results in the requested format
func outputResults(results []HealthCheckResult) {
	switch healthcheckFormat {
	case "json":
		outputJSON(results)
	case "table":
		outputTable(results)
	case "simple":
		outputSimple(results)
	}
}

// outputJSON outputs results as JSON
func outputJSON(results []HealthCheckResult) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(results)
}

// outputTable outputs results as a formatted table
func outputTable(results []HealthCheckResult) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STATUS\tDB\tMIGRATIONS\tJOB_QUEUE\tLATENCY\tURL")
	fmt.Fprintln(w, "------\t--\t----------\t---------\t-------\t---")

	for _, result := range results {
		status := result.Status
		if result.Error != "" {
			status = "ERROR"
		}

		dbStatus := "-"
		migrationsStatus := "-"
		jobQueueStatus := "-"

		if result.Response != nil && result.Response.Checks != nil {
			if db, ok := result.Response.Checks["database"]; ok {
				dbStatus = db.Status
			}
			if migrations, ok := result.Response.Checks["migrations"]; ok {
				migrationsStatus = migrations.Status
			}
			if jobQueue, ok := result.Response.Checks["job_queue"]; ok {
				jobQueueStatus = jobQueue.Status
			}
		}

		latency := fmt.Sprintf("%dms", result.LatencyMs)

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			status, dbStatus, migrationsStatus, jobQueueStatus, latency, result.URL)
	}

	w.Flush()
}

// outputSimple outputs a simple one-line result (for scripts)
func outputSimple(results []HealthCheckResult) {
	for _, result := range results {
		if result.IsHealthy {
			fmt.Println("OK")
		} else if result.Error != "" {
			fmt.Fprintf(os.Stderr, "FAIL: %s\n", result.Error)
		} else {
			fmt.Fprintf(os.Stderr, "DEGRADED: %s\n", result.Status)
		}
	}
}
