package logger

import (
	"context"
	"os"
	"strings"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	json "github.com/goccy/go-json"
)

// metricsPublisher is the subset of the CloudWatch client used here.
type metricsPublisher interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
	PutDashboard(ctx context.Context, params *cloudwatch.PutDashboardInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutDashboardOutput, error)
}

type cloudWatch struct {
	client    metricsPublisher
	namespace string
	dashboard string
}

// dashboardMetrics are the connector metrics charted on the default dashboard.
var dashboardMetrics = []string{
	"admission_denied",
	"retry_attempt",
	"rate_limit_exceeded",
	"ip_ban",
	"used_weight",
}

// cw is nil until InitCloudWatch succeeds; publishing is a no-op until then.
var cw atomic.Pointer[cloudWatch]

// InitCloudWatch creates the CloudWatch client for region (AWS_REGION when
// empty) and installs the default dashboard. On failure metrics stay local.
func InitCloudWatch(ctx context.Context, region, namespace, dashboard string) {
	log := GetLogger().WithComponent("cloudwatch")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		log.WithError(err).Warn("failed to load AWS configuration, CloudWatch metrics disabled")
		return
	}
	setPublisher(cloudwatch.NewFromConfig(cfg), namespace, dashboard)
	log.WithFields(Fields{"region": region, "namespace": namespace}).Info("initialized CloudWatch client")
	putDashboard(ctx)
}

// setPublisher swaps the client; a nil p disables publishing.
func setPublisher(p metricsPublisher, namespace, dashboard string) {
	if p == nil {
		cw.Store(nil)
		return
	}
	if namespace == "" {
		namespace = "ExchangeHub"
	}
	if dashboard == "" {
		dashboard = namespace
	}
	cw.Store(&cloudWatch{client: p, namespace: namespace, dashboard: dashboard})
}

func publishMetrics(ctx context.Context, data []cwtypes.MetricDatum) {
	c := cw.Load()
	if c == nil || len(data) == 0 {
		return
	}
	log := GetLogger().WithComponent("cloudwatch")
	if _, err := c.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(c.namespace),
		MetricData: data,
	}); err != nil {
		log.WithError(err).Debug("failed to publish CloudWatch metrics")
		return
	}
	names := make([]string, 0, len(data))
	for _, d := range data {
		names = append(names, aws.ToString(d.MetricName))
	}
	log.WithField("metrics", strings.Join(names, ",")).Debug("published metrics to CloudWatch")
}

type dashboardWidget struct {
	Type       string           `json:"type"`
	Width      int              `json:"width"`
	Height     int              `json:"height"`
	Properties widgetProperties `json:"properties"`
}

type widgetProperties struct {
	Metrics [][]string `json:"metrics"`
	Period  int        `json:"period"`
	Stat    string     `json:"stat"`
	Title   string     `json:"title"`
}

func dashboardBody(namespace string) (string, error) {
	series := make([][]string, 0, len(dashboardMetrics))
	for _, m := range dashboardMetrics {
		series = append(series, []string{namespace, m})
	}
	b, err := json.Marshal(map[string][]dashboardWidget{"widgets": {{
		Type:   "metric",
		Width:  24,
		Height: 6,
		Properties: widgetProperties{
			Metrics: series,
			Period:  60,
			Stat:    "Sum",
			Title:   "Exchange connectors",
		},
	}}})
	return string(b), err
}

func putDashboard(ctx context.Context) {
	c := cw.Load()
	if c == nil {
		return
	}
	log := GetLogger().WithComponent("cloudwatch")
	body, err := dashboardBody(c.namespace)
	if err != nil {
		log.WithError(err).Warn("failed to build CloudWatch dashboard")
		return
	}
	if _, err := c.client.PutDashboard(ctx, &cloudwatch.PutDashboardInput{
		DashboardName: aws.String(c.dashboard),
		DashboardBody: aws.String(body),
	}); err != nil {
		log.WithError(err).Warn("failed to create CloudWatch dashboard")
	}
}
