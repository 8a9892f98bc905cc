package errors

import (
	"bytes"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/certifi/gocertifi"
	"github.com/getsentry/sentry-go"
	"moff.io/dapp-wallet/pkg/errors/reporter"
	"moff.io/dapp-wallet/pkg/log"
)

var (
	reportersMu sync.RWMutex
	reporters   []Reporter
)

// 设置该变量，则不会上报错误
const debugMode = "DEBUG"

// Reporter 错误报告器
type Reporter interface {
	Report(error)
}

// ReporterFunc adapts a plain function to Reporter.
type ReporterFunc func(error)

func (f ReporterFunc) Report(err error) {
	f(err)
}

// Register appends a reporter that receives every *AndReport error.
func Register(r Reporter) {
	if r == nil {
		return
	}
	reportersMu.Lock()
	defer reportersMu.Unlock()
	reporters = append(reporters, r)
}

// ResetReporters drops every registered reporter.
func ResetReporters() {
	reportersMu.Lock()
	defer reportersMu.Unlock()
	reporters = nil
}

func report(err error) {
	if err == nil || os.Getenv(debugMode) != "" {
		return
	}
	reportersMu.RLock()
	defer reportersMu.RUnlock()
	for _, r := range reporters {
		r.Report(err)
	}
}

// ReportConfig 错误上报配置，空字段对应的报告器不会初始化
type ReportConfig struct {
	SentryDSN       string
	LarkWebhook     string
	DingTalkWebhook string
	DingTalkSecret  string
	Silent          time.Duration
}

// SetupReporters initializes every reporter whose endpoint is configured.
func SetupReporters(conf ReportConfig) error {
	if os.Getenv(debugMode) != "" {
		log.Info("Env DEBUG set, report errors disabled.")
	}
	if err := NewSentryReporter(conf.SentryDSN); err != nil {
		return err
	}
	NewLarkReporter(conf.LarkWebhook, conf.Silent)
	NewDingTalkReporter(conf.DingTalkWebhook, conf.DingTalkSecret, conf.Silent)
	return nil
}

type sentryReporter struct {
}

func (s *sentryReporter) Report(err error) {
	sentry.CaptureException(err)
}

// NewSentryReporter
// 初始化sentry报告器，环境变量DEBUG不为空时，不会产生错误上报
func NewSentryReporter(sentryDSN string) error {
	if sentryDSN == "" {
		log.Warn("empty DSN found, skipping sentry reporter initialization.")
		return nil
	}
	rootCAs, err := gocertifi.CACerts()
	if err != nil {
		return Wrap(err, "init sentry CA")
	}
	err = sentry.Init(sentry.ClientOptions{
		Dsn:     sentryDSN,
		CaCerts: rootCAs,
	})
	if err != nil {
		return Wrap(err, "init sentry")
	}
	log.Info("sentry error reporter initialized.")
	Register(&sentryReporter{})
	return nil
}

type dingTalkRobotReporter struct {
	limiter *rateLimiter
	reporter.DingTalkRobot
}

// NewDingTalkReporter
// 初始化钉钉机器人上报错误至指定的webhook
func NewDingTalkReporter(webhook, secret string, reportDelay time.Duration) {
	if webhook == "" {
		log.Warn("empty dingtalk webhook found, skipping dingtalk reporter initialization.")
		return
	}
	robot := reporter.NewDingTalkRobot(webhook).WithSecret(secret)
	Register(&dingTalkRobotReporter{limiter: newRateLimiter(reportDelay), DingTalkRobot: robot})
	log.Info("dingtalk error reporter initialized.")
}

const (
	errorField  = "error: "
	stacksField = "\nstacks:\n"
	breakline   = "\n"
	indent      = "	"
)

func (r *dingTalkRobotReporter) Report(err error) {
	if err == nil {
		return
	}
	stacks := callers().fullStack()
	limited, stats := r.limiter.StackBasedRateLimited(stacks[2])
	if limited {
		return
	}
	var content bytes.Buffer
	content.WriteString("last report:")
	content.WriteString(formatReportTime(stats.lastReportTime))
	content.WriteString(breakline)
	content.WriteString("occur since last report:")
	content.WriteString(strconv.Itoa(stats.occurCountSinceLastReport))
	content.WriteString(breakline)
	for _, field := range currentReportContext() {
		if field.Value != "" {
			content.WriteString(field.Name + ": " + field.Value + breakline)
		}
	}
	content.WriteString(errorField)
	content.WriteString(err.Error())
	content.WriteString(stacksField)
	for _, s := range stacks {
		content.WriteString(indent)
		content.WriteString(s)
		content.WriteString(breakline)
	}
	if err := r.SendText(content.String(), nil, true); err != nil {
		log.Info(WithStack(err))
	}
}
