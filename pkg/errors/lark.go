package errors

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-lark/lark"
	"moff.io/dapp-wallet/pkg/log"
)

// ReportField is one labelled line of session context on a lark report card.
type ReportField struct {
	Name  string
	Value string
}

var (
	reportContextMu sync.RWMutex
	reportContext   func() []ReportField
)

// SetReportContext installs fn to describe the wallet session on every lark card, such
// as the network and the connected address. nil removes it.
func SetReportContext(fn func() []ReportField) {
	reportContextMu.Lock()
	defer reportContextMu.Unlock()
	reportContext = fn
}

func currentReportContext() []ReportField {
	reportContextMu.RLock()
	fn := reportContext
	reportContextMu.RUnlock()
	if fn == nil {
		return nil
	}
	return fn()
}

type larkReporter struct {
	bot     *lark.Bot
	limiter *rateLimiter
}

func NewLarkReporter(webhook string, silent time.Duration) {
	if webhook == "" {
		log.Warn("empty lark webhook found, skipping lark reporter initialization.")
		return
	}
	Register(newLarkReporter(lark.NewNotificationBot(webhook), silent))
	log.Info("Lark error reporter initialized.")
}

func newLarkReporter(bot *lark.Bot, silent time.Duration) *larkReporter {
	return &larkReporter{bot: bot, limiter: newRateLimiter(silent)}
}

func (r *larkReporter) Report(err error) {
	if err == nil {
		return
	}
	stacks := callers().fullStack()
	limited, stats := r.limiter.StackBasedRateLimited(stacks[2])
	if limited {
		return
	}
	card := larkCard(err, stats, currentReportContext(), stacks)
	if _, err := r.bot.PostNotificationV2(lark.OutcomingMessage{
		MsgType: lark.MsgPost,
		Content: lark.MessageContent{Post: card.Render()},
	}); err != nil {
		log.Errorf("errors - post lark card:%v", err)
	}
}

// larkCard 组装飞书卡片：标题带错误摘要，会话信息在调用栈之前
func larkCard(err error, stats *errorStats, session []ReportField, stacks []string) *lark.MsgPostBuilder {
	pb := lark.NewPostBuilder()
	pb.Title("dapp-wallet: " + headline(err))
	pb.TextTag(fmt.Sprintf("Occurrences: %v total, %v suppressed since %v",
		stats.totalOccurCount+1, stats.occurCountSinceLastReport, formatReportTime(stats.lastReportTime)), 1, true)
	for _, field := range session {
		if field.Value == "" {
			continue
		}
		pb.TextTag(fmt.Sprintf("\n%s: %s", field.Name, field.Value), 1, true)
	}
	pb.TextTag(fmt.Sprintf("\nError: %v", err), 1, true)
	pb.TextTag("\nStacks:", 1, true)
	for _, s := range stacks {
		pb.TextTag(fmt.Sprintf("\n    %s", s), 1, true)
	}
	return pb
}

// headline is the first line of err, cut short enough for a card title.
func headline(err error) string {
	line := strings.SplitN(err.Error(), "\n", 2)[0]
	if len(line) > 80 {
		line = line[:77] + "..."
	}
	return line
}

func formatReportTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format("2006.01.02 15:04")
}
