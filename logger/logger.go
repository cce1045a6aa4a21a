package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

type Fields map[string]interface{}

// Log is the process logger. Components get one passed in and derive
// entries from it.
type Log struct {
	*logrus.Logger
}

type Entry struct {
	*logrus.Entry
}

var process = Logger()

// Logger builds a JSON logger at LOG_LEVEL, info when unset or invalid.
func Logger() *Log {
	l := logrus.New()
	lvl, err := parseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	l.SetReportCaller(true)
	l.SetFormatter(jsonFormatter())
	l.AddHook(newCallSiteHook())
	return &Log{Logger: l}
}

// GetLogger returns the process-wide logger for entry points.
func GetLogger() *Log {
	return process
}

// OrDefault returns l, or the process-wide logger when l is nil.
func OrDefault(l *Log) *Log {
	if l == nil {
		return process
	}
	return l
}

// parseLevel accepts logrus levels plus "report", which logs at info and
// turns on the periodic runtime report.
func parseLevel(level string) (logrus.Level, error) {
	switch level = strings.ToLower(strings.TrimSpace(level)); level {
	case "":
		return logrus.InfoLevel, nil
	case "report":
		return logrus.InfoLevel, nil
	}
	return logrus.ParseLevel(level)
}

func shortCaller(f *runtime.Frame) (string, string) {
	return "", fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
}

func jsonFormatter() logrus.Formatter {
	return &logrus.JSONFormatter{
		TimestampFormat:  time.RFC3339Nano,
		CallerPrettyfier: shortCaller,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	}
}

func wrap(e *logrus.Entry) *Entry { return &Entry{Entry: e} }

func (l *Log) WithComponent(component string) *Entry {
	return wrap(l.Logger.WithField("component", component))
}

func (l *Log) WithExchange(exchange string) *Entry {
	return wrap(l.Logger.WithField("exchange", strings.ToLower(exchange)))
}

func (l *Log) WithFields(fields Fields) *Entry {
	return wrap(l.Logger.WithFields(logrus.Fields(fields)))
}

func (l *Log) WithError(err error) *Entry {
	return wrap(l.Logger.WithError(err))
}

func (e *Entry) WithComponent(component string) *Entry {
	return wrap(e.Entry.WithField("component", component))
}

func (e *Entry) WithExchange(exchange string) *Entry {
	return wrap(e.Entry.WithField("exchange", strings.ToLower(exchange)))
}

func (e *Entry) WithFields(fields Fields) *Entry {
	return wrap(e.Entry.WithFields(logrus.Fields(fields)))
}

func (e *Entry) WithField(key string, value interface{}) *Entry {
	return wrap(e.Entry.WithField(key, value))
}

func (e *Entry) WithError(err error) *Entry {
	return wrap(e.Entry.WithError(err))
}

func (e *Entry) component() (string, bool) {
	c, ok := e.Entry.Data["component"].(string)
	return c, ok
}

// Warn and Error also bump the per-component counters in the runtime report.
func (e *Entry) Warn(args ...interface{}) {
	if c, ok := e.component(); ok {
		recordWarn(c)
	}
	e.Entry.Warn(args...)
}

func (e *Entry) Error(args ...interface{}) {
	if c, ok := e.component(); ok {
		recordError(c)
	}
	e.Entry.Error(args...)
}

// LogMetric writes a debug metric line and publishes numeric values to
// CloudWatch. String fields become dimensions.
func (e *Entry) LogMetric(component string, metric string, value interface{}, metricType string, fields Fields) {
	if metricType == "" {
		metricType = "counter"
	}
	line := Fields{"metric": metric, "value": value, "metric_type": metricType}
	for k, v := range fields {
		line[k] = v
	}
	e.WithComponent(component).WithFields(line).Debug("metric")

	val, ok := toFloat(value)
	if !ok {
		return
	}
	publishMetrics(context.Background(), []cwtypes.MetricDatum{{
		MetricName: aws.String(metric),
		Dimensions: dimensions(component, fields),
		Unit:       unitFor(metricType),
		Value:      aws.Float64(val),
	}})
}

func (l *Log) LogMetric(component string, metric string, value interface{}, metricType string, fields Fields) {
	l.WithComponent(component).LogMetric(component, metric, value, metricType, fields)
}

func dimensions(component string, fields Fields) []cwtypes.Dimension {
	dims := []cwtypes.Dimension{{Name: aws.String("component"), Value: aws.String(component)}}
	for k, v := range fields {
		if s, ok := v.(string); ok && s != "" {
			dims = append(dims, cwtypes.Dimension{Name: aws.String(k), Value: aws.String(s)})
		}
	}
	return dims
}

func unitFor(metricType string) cwtypes.StandardUnit {
	if metricType == "duration_ms" {
		return cwtypes.StandardUnitMilliseconds
	}
	return cwtypes.StandardUnitCount
}

func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

// Configure applies the logging section of the config. LOG_LEVEL wins over
// level.
func (l *Log) Configure(level string, format string, output string, maxAge int) error {
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		level = env
	}
	lvl, err := parseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level '%s'", level)
	}
	formatter, err := formatterFor(format)
	if err != nil {
		return err
	}
	w, err := outputFor(output, maxAge)
	if err != nil {
		return err
	}

	l.SetLevel(lvl)
	l.SetReportCaller(true)
	l.SetFormatter(formatter)
	l.SetOutput(w)
	return nil
}

func formatterFor(format string) (logrus.Formatter, error) {
	switch format {
	case "", "json":
		return jsonFormatter(), nil
	case "text":
		return &logrus.TextFormatter{
			FullTimestamp:    true,
			TimestampFormat:  time.RFC3339,
			CallerPrettyfier: shortCaller,
		}, nil
	}
	return nil, fmt.Errorf("invalid log format '%s'", format)
}

// outputFor opens a log file with rotation when maxAge (days) is positive.
func outputFor(output string, maxAge int) (io.Writer, error) {
	switch output {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	if dir := filepath.Dir(output); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory '%s': %w", dir, err)
		}
	}
	if maxAge > 0 {
		return &lumberjack.Logger{Filename: output, MaxAge: maxAge, MaxSize: 100, Compress: true}, nil
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file '%s': %w", output, err)
	}
	return f, nil
}

// LogPerformanceEntry records how long an operation took.
func LogPerformanceEntry(entry *Entry, component string, operation string, duration time.Duration, fields Fields) {
	line := Fields{
		"operation":   operation,
		"duration_ms": float64(duration.Nanoseconds()) / 1e6,
	}
	for k, v := range fields {
		line[k] = v
	}
	entry.WithComponent(component).WithFields(line).Info("performance metric")
}

// LogDataFlowEntry records records moving between two stages.
func LogDataFlowEntry(entry *Entry, source string, destination string, recordCount int, dataType string) {
	entry.WithFields(Fields{
		"flow_type":    "data_flow",
		"source":       source,
		"destination":  destination,
		"record_count": recordCount,
		"data_type":    dataType,
	}).Info("data flow metric")
}
