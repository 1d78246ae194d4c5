package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/testexec/internal/domain"
	"github.com/xiaot623/gogo/testexec/internal/logging"
)

type capturedRequest struct {
	query map[string]string
	body  map[string]any
}

type webhookServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []capturedRequest
	reply    string
}

func newWebhookServer(t *testing.T, reply string) *webhookServer {
	ws := &webhookServer{reply: reply}
	ws.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(data, &body)
		q := map[string]string{}
		for k := range r.URL.Query() {
			q[k] = r.URL.Query().Get(k)
		}
		ws.mu.Lock()
		ws.requests = append(ws.requests, capturedRequest{query: q, body: body})
		ws.mu.Unlock()
		_, _ = w.Write([]byte(ws.reply))
	}))
	t.Cleanup(ws.Close)
	return ws
}

var fixedNow = time.UnixMilli(1700000000123)

func newTestNotifier(robots ...Robot) *Notifier {
	n := NewNotifier(robots, "{{name}} {{status}} {{report_url}}", "http://reports.local/", logging.Discard())
	n.now = func() time.Time { return fixedNow }
	return n
}

var sample = domain.ResultNotification{
	RequestID:   "req-1",
	ExecutionID: "exec-1",
	Mode:        domain.ExecutionModeSingle,
	CaseIDs:     []int64{42},
	Status:      domain.ExecutionStatusSuccess,
	ReportPath:  "/tmp/reports/exec-1",
}

func TestWeComRobot(t *testing.T) {
	srv := newWebhookServer(t, `{"errcode":0,"errmsg":"ok"}`)
	n := newTestNotifier(WeComRobot{RobotName: "qa", Webhook: srv.URL + "/cgi-bin/webhook/send?key=k", Mentioned: []string{"alice"}})

	require.NoError(t, n.Deliver(context.Background(), sample))
	require.Len(t, srv.requests, 1)
	body := srv.requests[0].body
	assert.Equal(t, "text", body["msgtype"])
	text := body["text"].(map[string]any)
	assert.Equal(t, "case 42 success http://reports.local/exec-1/index.html", text["content"])
	assert.Equal(t, []any{"alice"}, text["mentioned_list"])
	assert.Equal(t, "k", srv.requests[0].query["key"])
}

func TestDingTalkRobotSignsURL(t *testing.T) {
	srv := newWebhookServer(t, `{"errcode":0,"errmsg":"ok"}`)
	n := newTestNotifier(DingTalkRobot{RobotName: "ding", Webhook: srv.URL + "/robot/send?access_token=tok", Secret: "SEC"})

	require.NoError(t, n.Deliver(context.Background(), sample))
	require.Len(t, srv.requests, 1)
	q := srv.requests[0].query
	assert.Equal(t, "tok", q["access_token"])
	assert.Equal(t, "1700000000123", q["timestamp"])

	mac := hmac.New(sha256.New, []byte("SEC"))
	mac.Write([]byte("1700000000123\nSEC"))
	assert.Equal(t, base64.StdEncoding.EncodeToString(mac.Sum(nil)), q["sign"])
	assert.Equal(t, "text", srv.requests[0].body["msgtype"])
}

func TestFeishuRobotSignsBody(t *testing.T) {
	srv := newWebhookServer(t, `{"code":0,"msg":"success"}`)
	n := newTestNotifier(FeishuRobot{RobotName: "lark", Webhook: srv.URL, Secret: "SEC"})

	require.NoError(t, n.Deliver(context.Background(), sample))
	require.Len(t, srv.requests, 1)
	body := srv.requests[0].body
	assert.Equal(t, "text", body["msg_type"])
	assert.Equal(t, "1700000000", body["timestamp"])

	mac := hmac.New(sha256.New, []byte("1700000000\nSEC"))
	assert.Equal(t, base64.StdEncoding.EncodeToString(mac.Sum(nil)), body["sign"])
}

func TestDeliverContinuesAfterRobotFailure(t *testing.T) {
	bad := newWebhookServer(t, `{"errcode":310000,"errmsg":"keywords not in content"}`)
	good := newWebhookServer(t, `{"errcode":0}`)
	n := newTestNotifier(
		DingTalkRobot{RobotName: "bad", Webhook: bad.URL},
		WeComRobot{RobotName: "good", Webhook: good.URL},
	)

	err := n.Deliver(context.Background(), sample)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keywords not in content")
	assert.Len(t, good.requests, 1)
}

func TestRenderPrefersUploadedReport(t *testing.T) {
	n := newTestNotifier()
	res := sample
	res.ReportURL = "https://s3.local/exec-1/index.html"
	assert.Equal(t, "case 42 success https://s3.local/exec-1/index.html", n.Render(res))

	res = sample
	res.ReportPath = ""
	res.Mode = domain.ExecutionModeBatch
	res.CaseIDs = []int64{1, 2}
	assert.Equal(t, "batch 1,2 success n/a", n.Render(res))
}

func TestFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "robots.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
message_template: "{{name}}: {{status}}"
robots:
  - name: team
    type: 1
    webhook_url: http://wecom.local/send
  - type: dingtalk
    webhook_url: http://ding.local/send
    secret: s
  - name: lark
    type: feishu
    webhook_url: http://feishu.local/hook
`), 0o644))

	n, err := FromFile(path, logging.Discard())
	require.NoError(t, err)
	robots := n.Robots()
	require.Len(t, robots, 3)
	assert.Equal(t, RobotWeCom, robots[0].Kind())
	assert.Equal(t, "team", robots[0].Name())
	assert.Equal(t, RobotDingTalk, robots[1].Kind())
	assert.Equal(t, "robot-2", robots[1].Name())
	assert.Equal(t, RobotFeishu, robots[2].Kind())
	assert.Equal(t, "case 42: success", n.Render(sample))
}

func TestFromFileRejectsUnknownRobot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "robots.yaml")
	require.NoError(t, os.WriteFile(path, []byte("robots:\n  - type: slack\n    webhook_url: http://x\n"), 0o644))

	_, err := FromFile(path, logging.Discard())
	assert.ErrorContains(t, err, "unknown robot type")

	require.NoError(t, os.WriteFile(path, []byte("robots:\n  - type: feishu\n"), 0o644))
	_, err = FromFile(path, logging.Discard())
	assert.ErrorContains(t, err, "webhook_url is required")
}

func TestLoadFileEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "robots.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
report_base_url: http://reports.local
robots:
  - name: team
    type: wecom
    webhook_url: http://wecom.local/send
    mentioned: [alice]
`), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, cfg.Entries, 1)
	assert.Equal(t, "team", cfg.Entries[0].Name)
	assert.Equal(t, []string{"alice"}, cfg.Entries[0].Mentioned)

	robots, err := cfg.Robots()
	require.NoError(t, err)
	require.Len(t, robots, 1)
	assert.Equal(t, RobotWeCom, robots[0].Kind())
}
