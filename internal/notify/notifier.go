package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/xiaot623/gogo/testexec/internal/domain"
)

// Notifier renders result notifications and posts them to every robot.
type Notifier struct {
	robots        []Robot
	template      string
	reportBaseURL string
	httpClient    *http.Client
	logger        *slog.Logger
	now           func() time.Time
}

// NewNotifier creates a Notifier for robots. An empty template uses DefaultTemplate.
func NewNotifier(robots []Robot, template, reportBaseURL string, logger *slog.Logger) *Notifier {
	if template == "" {
		template = DefaultTemplate
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		robots:        robots,
		template:      template,
		reportBaseURL: strings.TrimSuffix(reportBaseURL, "/"),
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		logger:        logger,
		now:           time.Now,
	}
}

// FromFile builds a Notifier from a robot configuration file.
func FromFile(path string, logger *slog.Logger) (*Notifier, error) {
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	robots, err := cfg.Robots()
	if err != nil {
		return nil, err
	}
	return NewNotifier(robots, cfg.MessageTemplate, cfg.ReportBaseURL, logger), nil
}

// Name implements the result sink interface.
func (n *Notifier) Name() string { return "robots" }

// Robots returns the configured robots.
func (n *Notifier) Robots() []Robot { return append([]Robot(nil), n.robots...) }

// Deliver posts the rendered notification to every robot. One failing robot
// does not stop the others; their errors are joined.
func (n *Notifier) Deliver(ctx context.Context, res domain.ResultNotification) error {
	text := n.Render(res)
	var errs []error
	for _, robot := range n.robots {
		if err := n.send(ctx, robot, text); err != nil {
			errs = append(errs, fmt.Errorf("%s robot %s: %w", robot.Kind(), robot.Name(), err))
			continue
		}
		n.logger.Debug("robot notified", "robot", robot.Name(), "kind", robot.Kind(), "execution_id", res.ExecutionID)
	}
	return errors.Join(errs...)
}

// Render fills the message template. Supported placeholders are {{name}},
// {{status}}, {{summary}}, {{report_url}}, {{execution_id}} and {{request_id}}.
func (n *Notifier) Render(res domain.ResultNotification) string {
	name := fmt.Sprintf("case %s", joinIDs(res.CaseIDs))
	if res.Mode == domain.ExecutionModeBatch {
		name = fmt.Sprintf("batch %s", joinIDs(res.CaseIDs))
	}
	r := strings.NewReplacer(
		"{{name}}", name,
		"{{coll_name}}", name,
		"{{status}}", string(res.Status),
		"{{summary}}", res.Summary,
		"{{report_url}}", n.reportURL(res),
		"{{execution_id}}", res.ExecutionID,
		"{{request_id}}", res.RequestID,
	)
	return r.Replace(n.template)
}

func (n *Notifier) reportURL(res domain.ResultNotification) string {
	if res.ReportURL != "" {
		return res.ReportURL
	}
	if n.reportBaseURL != "" && res.ReportPath != "" && res.ExecutionID != "" {
		return n.reportBaseURL + "/" + res.ExecutionID + "/index.html"
	}
	return "n/a"
}

func (n *Notifier) send(ctx context.Context, robot Robot, text string) error {
	target, payload, err := robot.request(text, n.now())
	if err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to post webhook: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	// All three platforms answer 200 with an error code in the body.
	var ack struct {
		ErrCode *int   `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
		Code    *int   `json:"code"`
		Msg     string `json:"msg"`
	}
	if json.Unmarshal(respBody, &ack) == nil {
		if ack.ErrCode != nil && *ack.ErrCode != 0 {
			return fmt.Errorf("webhook error %d: %s", *ack.ErrCode, ack.ErrMsg)
		}
		if ack.Code != nil && *ack.Code != 0 {
			return fmt.Errorf("webhook error %d: %s", *ack.Code, ack.Msg)
		}
	}
	return nil
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
