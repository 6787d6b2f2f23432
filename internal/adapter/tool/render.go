package tool

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.opentelemetry.io/otel/trace"

	"datascout/internal/domain"
	"datascout/internal/security"
)

// maxScreenshotBase64 caps the base64 screenshot size sent back through the
// conversation. Anthropic rejects oversized image blocks.
const maxScreenshotBase64 = 4 * 1024 * 1024

// screenshotQualities is the sequence of JPEG quality levels tried when a
// screenshot exceeds maxScreenshotBase64. Lower quality = smaller file.
var screenshotQualities = []int{80, 60, 40, 20}

// RenderConfig configures the headless browser used by RenderTool.
type RenderConfig struct {
	RemoteURL string        // connect to an existing browser over CDP; empty = launch
	Headless  bool
	Timeout   time.Duration
}

// RenderTool renders an HTML file from the workspace in a headless browser
// and returns a JPEG screenshot so a vision-capable model can critique the
// visual result. The browser is launched lazily on first use.
type RenderTool struct {
	mu      sync.Mutex
	cfg     RenderConfig
	sandbox *security.Sandbox
	logger  *slog.Logger

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	started       bool
}

// NewRenderTool creates an HTML rendering tool.
func NewRenderTool(cfg RenderConfig, sandbox *security.Sandbox, logger *slog.Logger) *RenderTool {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &RenderTool{cfg: cfg, sandbox: sandbox, logger: logger}
}

func (t *RenderTool) Name() string { return "render_html" }
func (t *RenderTool) Description() string {
	return "Render an HTML file from the workspace and return a screenshot of the result"
}

func (t *RenderTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "HTML file path, relative to the workspace root"},
				"full_page": {"type": "boolean", "description": "Capture the full page instead of the viewport"}
			},
			"required": ["path"]
		}`),
	}
}

type renderParams struct {
	Path     string `json:"path"`
	FullPage bool   `json:"full_page,omitempty"`
}

func (t *RenderTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.render_html", t.logger, params, t.render)
}

func (t *RenderTool) render(ctx context.Context, span trace.Span, p renderParams) (any, error) {
	resolved, err := t.sandbox.Resolve(p.Path)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(resolved); err != nil {
		return nil, fmt.Errorf("stat html file: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.startLocked(); err != nil {
		return nil, err
	}

	tctx, cancel := context.WithTimeout(t.browserCtx, t.cfg.Timeout)
	defer cancel()

	url := "file://" + filepath.ToSlash(resolved)
	if err := chromedp.Run(tctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
	); err != nil {
		return nil, fmt.Errorf("navigate: %w", err)
	}

	encoded, err := t.screenshotLocked(tctx, p.FullPage)
	if err != nil {
		return nil, err
	}

	t.logger.Debug("render_html", "path", resolved, "base64_len", len(encoded))
	return ImageResult(fmt.Sprintf("rendered %s", p.Path), "image/jpeg", encoded), nil
}

// startLocked launches or connects the browser. Caller must hold mu.
func (t *RenderTool) startLocked() error {
	if t.started {
		return nil
	}

	var allocCtx context.Context
	if t.cfg.RemoteURL != "" {
		allocCtx, t.allocCancel = chromedp.NewRemoteAllocator(context.Background(), t.cfg.RemoteURL)
		t.logger.Info("render tool connecting to remote browser", "url", t.cfg.RemoteURL)
	} else {
		// Copy default options to avoid mutating the package-level slice.
		opts := make([]chromedp.ExecAllocatorOption, len(chromedp.DefaultExecAllocatorOptions))
		copy(opts, chromedp.DefaultExecAllocatorOptions[:])
		opts = append(opts,
			chromedp.Flag("headless", t.cfg.Headless),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.WindowSize(1280, 720),
		)
		allocCtx, t.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
		t.logger.Info("render tool launching local browser", "headless", t.cfg.Headless)
	}

	t.browserCtx, t.browserCancel = chromedp.NewContext(allocCtx)

	// Start the browser with an empty run. The CDP session binds to the
	// context passed to the first Run, so no timeout wrapper here.
	startDone := make(chan error, 1)
	go func() { startDone <- chromedp.Run(t.browserCtx) }()
	select {
	case err := <-startDone:
		if err != nil {
			t.closeLocked()
			return fmt.Errorf("start browser: %w", err)
		}
	case <-time.After(t.cfg.Timeout):
		t.closeLocked()
		return fmt.Errorf("start browser: timed out after %v", t.cfg.Timeout)
	}

	t.started = true
	return nil
}

// screenshotLocked captures a JPEG, lowering quality until the base64 size
// fits. Caller must hold mu.
func (t *RenderTool) screenshotLocked(ctx context.Context, fullPage bool) (string, error) {
	var encoded string
	for _, quality := range screenshotQualities {
		buf, err := t.captureJPEG(ctx, fullPage, quality)
		if err != nil {
			return "", domain.WrapOp("screenshot", err)
		}
		encoded = base64.StdEncoding.EncodeToString(buf)
		if len(encoded) <= maxScreenshotBase64 {
			return encoded, nil
		}
		t.logger.Debug("screenshot too large, reducing quality",
			"quality", quality, "base64_len", len(encoded), "max", maxScreenshotBase64)
	}
	// All quality levels exceeded the limit; return the lowest-quality
	// result so the caller still gets a valid image.
	return encoded, nil
}

func (t *RenderTool) captureJPEG(ctx context.Context, fullPage bool, quality int) ([]byte, error) {
	var buf []byte
	var action chromedp.Action
	if fullPage {
		action = chromedp.FullScreenshot(&buf, quality)
	} else {
		q := int64(quality)
		action = chromedp.ActionFunc(func(actx context.Context) error {
			data, err := page.CaptureScreenshot().
				WithFormat(page.CaptureScreenshotFormatJpeg).
				WithQuality(q).
				Do(actx)
			if err != nil {
				return err
			}
			buf = data
			return nil
		})
	}
	if err := chromedp.Run(ctx, action); err != nil {
		return nil, err
	}
	return buf, nil
}

// Close shuts down the browser if it was started.
func (t *RenderTool) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeLocked()
}

func (t *RenderTool) closeLocked() {
	if t.browserCancel != nil {
		t.browserCancel()
		t.browserCancel = nil
	}
	if t.allocCancel != nil {
		t.allocCancel()
		t.allocCancel = nil
	}
	t.started = false
}
