package logger

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	gnet "github.com/shirou/gopsutil/v4/net"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type exchangeStat struct {
	requests int64
	denied   int64
	retries  int64
	failures int64
}

var (
	errorsTotal      int64
	warnsTotal       int64
	snapshotsWritten int64
	exchanges        sync.Map // map[string]*exchangeStat
	components       sync.Map // map[string]*int64 warn+error count per component
)

func recordWarn(component string) {
	atomic.AddInt64(&warnsTotal, 1)
	bumpComponent(component)
}

func recordError(component string) {
	atomic.AddInt64(&errorsTotal, 1)
	bumpComponent(component)
}

func bumpComponent(component string) {
	v, _ := components.LoadOrStore(component, new(int64))
	atomic.AddInt64(v.(*int64), 1)
}

func stat(exchange string) *exchangeStat {
	v, _ := exchanges.LoadOrStore(exchange, &exchangeStat{})
	return v.(*exchangeStat)
}

// IncrementRequest counts one outbound call admitted for exchange.
func IncrementRequest(exchange string) {
	atomic.AddInt64(&stat(exchange).requests, 1)
}

// IncrementDenied counts one admission denial for exchange.
func IncrementDenied(exchange string) {
	atomic.AddInt64(&stat(exchange).denied, 1)
}

// IncrementRetry counts one retried attempt for exchange.
func IncrementRetry(exchange string) {
	atomic.AddInt64(&stat(exchange).retries, 1)
}

// IncrementFailure counts one call that failed after all attempts.
func IncrementFailure(exchange string) {
	atomic.AddInt64(&stat(exchange).failures, 1)
}

// IncrementSnapshotWrite counts one persisted snapshot file.
func IncrementSnapshotWrite() {
	atomic.AddInt64(&snapshotsWritten, 1)
}

// Counters returns the per-exchange request counters collected so far.
func Counters() map[string]map[string]int64 {
	out := map[string]map[string]int64{}
	exchanges.Range(func(k, v any) bool {
		es := v.(*exchangeStat)
		out[k.(string)] = map[string]int64{
			"requests": atomic.LoadInt64(&es.requests),
			"denied":   atomic.LoadInt64(&es.denied),
			"retries":  atomic.LoadInt64(&es.retries),
			"failures": atomic.LoadInt64(&es.failures),
		}
		return true
	})
	return out
}

// StartReport begins periodic logging of system and connector statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	netStats, _ := gnet.IOCounters(false)

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}
	memMB := 0.0
	if memStats != nil {
		memMB = float64(memStats.Used) / 1024 / 1024
	}
	var bytesSent, bytesRecv uint64
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	counters := Counters()
	fields := Fields{
		"errors":            atomic.LoadInt64(&errorsTotal),
		"warns":             atomic.LoadInt64(&warnsTotal),
		"snapshots_written": atomic.LoadInt64(&snapshotsWritten),
		"goroutines":        runtime.NumGoroutine(),
		"cpu_percent":       cpuPct,
		"memory_mb":         int64(memMB),
		"net_bytes_sent":    int64(bytesSent),
		"net_bytes_recv":    int64(bytesRecv),
		"exchanges":         counters,
	}
	log.WithComponent("report").WithFields(fields).Info("runtime report")

	data := []cwtypes.MetricDatum{
		{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(memMB)},
		{MetricName: aws.String("Errors"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors"].(int64)))},
		{MetricName: aws.String("Warns"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns"].(int64)))},
		{MetricName: aws.String("SnapshotsWritten"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["snapshots_written"].(int64)))},
	}
	for name, c := range counters {
		dims := []cwtypes.Dimension{{Name: aws.String("exchange"), Value: aws.String(name)}}
		for _, metric := range []string{"requests", "denied", "retries", "failures"} {
			data = append(data, cwtypes.MetricDatum{
				MetricName: aws.String("Connector_" + metric),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: dims,
				Value:      aws.Float64(float64(c[metric])),
			})
		}
	}

	publishMetrics(ctx, data)
}
