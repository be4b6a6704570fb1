package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"digitext/internal/config"

	"github.com/chromedp/chromedp"
)

const whatsappWebURL = "https://web.whatsapp.com"

// ChromeAutomation drives WhatsApp Web in a Chrome instance. Each operator
// gets a dedicated user data directory so an authenticated session survives
// process restarts without a new QR scan.
type ChromeAutomation struct {
	operatorID string
	profileDir string
	headless   bool
	logger     *slog.Logger

	allocCancel context.CancelFunc
	taskCtx     context.Context
	taskCancel  context.CancelFunc
	watchCancel context.CancelFunc

	seen map[string]bool // message ids already forwarded
}

// NewChromeAutomation returns an AutomationFactory bound to the session
// configuration.
func NewChromeAutomation(cfg config.SessionConfig, logger *slog.Logger) AutomationFactory {
	return func(operatorID string) Automation {
		return &ChromeAutomation{
			operatorID: operatorID,
			profileDir: filepath.Join(cfg.ProfileDir, operatorID),
			headless:   cfg.Headless,
			logger:     logger.With("operator", operatorID),
			seen:       make(map[string]bool),
		}
	}
}

func (a *ChromeAutomation) Start(ctx context.Context, events AutomationEvents) error {
	if err := os.MkdirAll(a.profileDir, 0o755); err != nil {
		return fmt.Errorf("cannot create profile dir %s: %w", a.profileDir, err)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(a.profileDir),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("exclude-switches", "enable-automation"),
		chromedp.UserAgent("Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"),
	)
	if a.headless {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	a.allocCancel = allocCancel
	a.taskCtx = taskCtx
	a.taskCancel = taskCancel

	navCtx, navCancel := mergeDeadline(taskCtx, ctx)
	err := chromedp.Run(navCtx, chromedp.Navigate(whatsappWebURL))
	navCancel()
	if err != nil {
		a.Close()
		return fmt.Errorf("navigate to %s: %w", whatsappWebURL, err)
	}

	watchCtx, watchCancel := context.WithCancel(taskCtx)
	a.watchCancel = watchCancel
	go a.watch(watchCtx, events)

	a.logger.Info("browser session started", "profile", a.profileDir, "headless", a.headless)
	return nil
}

// watch polls the page for QR codes, authentication, and incoming messages.
func (a *ChromeAutomation) watch(ctx context.Context, events AutomationEvents) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var lastQR string
	ready := false

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		phase, payload, err := a.pollPhase(ctx)
		if err != nil {
			a.logger.Debug("page poll failed", "err", err)
			continue
		}

		switch phase {
		case "qr":
			if payload != lastQR {
				lastQR = payload
				ready = false
				if events.QR != nil {
					events.QR(payload)
				}
			}
		case "ready":
			if !ready {
				ready = true
				lastQR = ""
				if events.Ready != nil {
					events.Ready(a.phoneNumber(ctx))
				}
			}
			if events.Message != nil {
				a.pollMessages(ctx, events.Message)
			}
		}
	}
}

// pollPhase classifies the current page: "qr" (auth code visible, payload is
// the code data), "ready" (chat list rendered), or "loading".
func (a *ChromeAutomation) pollPhase(ctx context.Context) (phase, payload string, err error) {
	var result struct {
		Phase string `json:"phase"`
		Code  string `json:"code"`
	}
	err = chromedp.Run(ctx, chromedp.Evaluate(`
		(function() {
			var qr = document.querySelector('div[data-ref]');
			if (qr) return {phase: 'qr', code: qr.getAttribute('data-ref') || ''};
			if (document.querySelector('#side')) return {phase: 'ready', code: ''};
			return {phase: 'loading', code: ''};
		})()
	`, &result))
	if err != nil {
		return "", "", err
	}
	return result.Phase, result.Code, nil
}

// phoneNumber reads the authenticated account's number from local storage.
// Best effort; an empty string is fine.
func (a *ChromeAutomation) phoneNumber(ctx context.Context) string {
	var wid string
	err := chromedp.Run(ctx, chromedp.Evaluate(
		`(localStorage.getItem('last-wid-md') || localStorage.getItem('last-wid') || '')`, &wid))
	if err != nil {
		return ""
	}
	// Stored as "905551234567:12@c.us" with quotes.
	wid = strings.Trim(wid, `"`)
	if i := strings.IndexAny(wid, ":@"); i >= 0 {
		wid = wid[:i]
	}
	return wid
}

// pollMessages collects unseen incoming message rows from the open chat.
func (a *ChromeAutomation) pollMessages(ctx context.Context, onMessage func(from, body string, ts time.Time)) {
	var rows []struct {
		ID   string `json:"id"`
		From string `json:"from"`
		Body string `json:"body"`
	}
	err := chromedp.Run(ctx, chromedp.Evaluate(`
		(function() {
			var out = [];
			document.querySelectorAll('div.message-in[data-id]').forEach(function(row) {
				var text = row.querySelector('span.selectable-text');
				var id = row.getAttribute('data-id') || '';
				// data-id format: false_<chat>@c.us_<serial>
				var parts = id.split('_');
				out.push({
					id: id,
					from: parts.length > 1 ? parts[1] : '',
					body: text ? text.innerText : ''
				});
			});
			return out;
		})()
	`, &rows))
	if err != nil {
		a.logger.Debug("message poll failed", "err", err)
		return
	}

	now := time.Now()
	for _, row := range rows {
		if row.ID == "" || a.seen[row.ID] {
			continue
		}
		a.seen[row.ID] = true
		onMessage(row.From, row.Body, now)
	}
}

func (a *ChromeAutomation) State(ctx context.Context) (string, error) {
	if a.taskCtx == nil {
		return "disconnected", nil
	}
	runCtx, cancel := mergeDeadline(a.taskCtx, ctx)
	defer cancel()

	var connected bool
	err := chromedp.Run(runCtx, chromedp.Evaluate(
		`document.querySelector('#side') !== null`, &connected))
	if err != nil {
		return "", fmt.Errorf("query client state: %w", err)
	}
	if connected {
		return "connected", nil
	}
	return "disconnected", nil
}

func (a *ChromeAutomation) Send(ctx context.Context, chatID, body string) (string, error) {
	if a.taskCtx == nil {
		return "", fmt.Errorf("session not started")
	}
	runCtx, cancel := mergeDeadline(a.taskCtx, ctx)
	defer cancel()

	number := strings.TrimSuffix(chatID, "@c.us")
	target := fmt.Sprintf("%s/send?phone=%s&text=%s",
		whatsappWebURL, url.QueryEscape(number), url.QueryEscape(body))

	err := chromedp.Run(runCtx,
		chromedp.Navigate(target),
		chromedp.WaitVisible(`footer div[contenteditable="true"]`, chromedp.ByQuery),
		chromedp.Sleep(500*time.Millisecond),
		chromedp.KeyEvent("\r"),
	)
	if err != nil {
		return "", fmt.Errorf("send to %s: %w", chatID, err)
	}

	msgID := fmt.Sprintf("true_%s_%d", chatID, time.Now().UnixMilli())
	a.logger.Debug("message dispatched", "chat", chatID, "id", msgID)
	return msgID, nil
}

func (a *ChromeAutomation) Close() error {
	if a.watchCancel != nil {
		a.watchCancel()
	}
	if a.taskCancel != nil {
		a.taskCancel()
	}
	if a.allocCancel != nil {
		a.allocCancel()
	}
	a.logger.Info("browser session closed")
	return nil
}

// mergeDeadline applies the caller's deadline and cancellation to the
// browser's task context.
func mergeDeadline(taskCtx, callerCtx context.Context) (context.Context, context.CancelFunc) {
	var merged context.Context
	var cancel context.CancelFunc
	if deadline, ok := callerCtx.Deadline(); ok {
		merged, cancel = context.WithDeadline(taskCtx, deadline)
	} else {
		merged, cancel = context.WithCancel(taskCtx)
	}
	stop := context.AfterFunc(callerCtx, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}
