package log

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	perrors "github.com/YuminosukeSato/otpboost/pkg/errors"
)

// TestLoggerInterface tests the TestLogger implementation of Logger
func TestLoggerInterface(t *testing.T) {
	testLogger, buffer := NewTestLogger(LevelDebug)

	testLogger.Debug("debug message", "key1", "value1", "number", 42)
	testLogger.Info("info message", OperationKey, OperationValidate)
	testLogger.Warn("warning message", RowsDroppedKey, 3)
	testLogger.Error("error message", fmt.Errorf("test error"), ErrorCodeKey, ErrorSchemaMismatch)

	if buffer.String() == "" {
		t.Fatal("Expected log output, got empty string")
	}

	for _, msg := range []string{"debug message", "info message", "warning message", "error message"} {
		if !testLogger.ContainsMessage(msg) {
			t.Errorf("%q not found in output", msg)
		}
	}

	if !testLogger.ContainsField("key1", "value1") {
		t.Error("Expected field key1=value1 not found")
	}
	if !testLogger.ContainsField("number", 42.0) { // JSON numbers decode as float64
		t.Error("Expected field number=42 not found")
	}
	if !testLogger.ContainsField(ErrAttrKey, "test error") {
		t.Error("Leading error value should be logged under the error key")
	}
	if !testLogger.ContainsField(ErrorCodeKey, ErrorSchemaMismatch) {
		t.Error("Error code not found")
	}
}

// TestLoggerWith tests the With method for context-aware logging
func TestLoggerWith(t *testing.T) {
	testLogger, _ := NewTestLogger(LevelDebug)

	contextLogger := testLogger.With(
		ModelNameKey, "GBDTClassifier",
		RunIDKey, "run-001",
	)
	contextLogger.Info("contextual message", OperationKey, OperationFit)

	if !testLogger.ContainsField(ModelNameKey, "GBDTClassifier") {
		t.Error("Model name context not found")
	}
	if !testLogger.ContainsField(RunIDKey, "run-001") {
		t.Error("Run id context not found")
	}
	if !testLogger.ContainsField(OperationKey, OperationFit) {
		t.Error("Operation field not found")
	}
}

// TestLoggerEnabled tests level filtering
func TestLoggerEnabled(t *testing.T) {
	testLogger, _ := NewTestLogger(LevelInfo)
	ctx := context.Background()

	if !testLogger.Enabled(ctx, LevelInfo) {
		t.Error("Logger should be enabled for Info level")
	}
	if !testLogger.Enabled(ctx, LevelError) {
		t.Error("Logger should be enabled for Error level")
	}
	if testLogger.Enabled(ctx, LevelDebug) {
		t.Error("Logger should not be enabled for Debug level")
	}

	testLogger.Debug("this should not appear")
	testLogger.Info("this should appear")

	if testLogger.ContainsMessage("this should not appear") {
		t.Error("Debug message should not appear when level is Info")
	}
	if !testLogger.ContainsMessage("this should appear") {
		t.Error("Info message should appear when level is Info")
	}
}

// TestLoggerProviderIntegration tests the LoggerProvider interface
func TestLoggerProviderIntegration(t *testing.T) {
	provider, buffer := NewTestLoggerProvider(LevelDebug)

	provider.GetLogger().Info("provider test message")
	provider.GetLoggerWithName("predict").Info("named logger message")

	lines := buffer.String()
	if !strings.Contains(lines, "provider test message") {
		t.Error("Provider test message not found")
	}
	if !provider.Logger().ContainsField(ComponentKey, "predict") {
		t.Error("Component name not found in named logger output")
	}

	provider.SetLevel(LevelError)
	provider.GetLogger().Info("filtered")
	if strings.Contains(buffer.String(), "filtered") {
		t.Error("SetLevel should filter info messages")
	}
}

// TestConcurrentLogging tests thread safety of TestLogger
func TestConcurrentLogging(t *testing.T) {
	testLogger, _ := NewTestLogger(LevelInfo)
	child := testLogger.With(ComponentKey, "gbdt")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				child.Info(fmt.Sprintf("goroutine %d message %d", id, j), "goroutine_id", id)
			}
		}(i)
	}
	wg.Wait()

	entries, err := testLogger.GetLogEntries()
	if err != nil {
		t.Fatalf("Failed to parse log entries: %v", err)
	}
	if len(entries) != 20 {
		t.Errorf("Expected 20 log entries, got %d", len(entries))
	}
}

// TestZerologLogger checks field handling of the production logger
func TestZerologLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologLogger(zerolog.New(&buf).Level(zerolog.InfoLevel)).With(RunIDKey, "abc")

	logger.Debug("hidden")
	logger.Info("Validation finished", RowsInKey, 10, RowsDroppedKey, 2)
	logger.Error("Job failed", perrors.NewSchemaError("predict.Run", []string{"route_pair"}, nil), PathKey, "in.csv")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %s", len(lines), buf.String())
	}

	var info map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &info); err != nil {
		t.Fatal(err)
	}
	if info[RunIDKey] != "abc" || info[RowsDroppedKey] != 2.0 {
		t.Errorf("unexpected info entry %v", info)
	}

	var failed map[string]interface{}
	if err := json.Unmarshal([]byte(lines[1]), &failed); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(fmt.Sprint(failed["error"]), "missing required columns [route_pair]") {
		t.Errorf("error not logged: %v", failed)
	}
	if failed[PathKey] != "in.csv" {
		t.Errorf("path field missing: %v", failed)
	}
	if logger.Enabled(context.Background(), LevelDebug) {
		t.Error("debug should be disabled")
	}
}

// TestSetupRoutesWarnings checks that pkg/errors warnings reach the log file
func TestSetupRoutesWarnings(t *testing.T) {
	var out bytes.Buffer
	file := filepath.Join(t.TempDir(), "otp.log")
	if err := Setup(Options{Level: "info", Format: "json", File: file, MaxSizeMB: 1, Out: &out}); err != nil {
		t.Fatal(err)
	}
	defer func() {
		perrors.SetZerologWarnFunc(nil)
		_ = Close()
	}()

	perrors.Warn(perrors.NewDataQualityWarning("validation.Clean", 2, 5, map[string]int{"on_time_a": 2}))

	if !strings.Contains(out.String(), `"dropped":2`) {
		t.Errorf("warning not routed to zerolog: %s", out.String())
	}
	if !strings.Contains(out.String(), `"ml.component":"warning"`) {
		t.Errorf("component tag missing: %s", out.String())
	}

	if err := Setup(Options{Level: "verbose"}); err == nil {
		t.Error("invalid level should be rejected")
	}
	if err := Setup(Options{Level: "info", Format: "xml"}); err == nil {
		t.Error("invalid format should be rejected")
	}
}

// BenchmarkLogging benchmarks logging performance
func BenchmarkLogging(b *testing.B) {
	testLogger, _ := NewTestLogger(LevelInfo)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		testLogger.Info("benchmark message",
			IterationKey, i,
			OperationKey, OperationPredict,
			SamplesKey, 1000,
		)
	}
}
