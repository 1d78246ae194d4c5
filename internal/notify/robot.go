// Package notify delivers execution results to chat robot webhooks.
package notify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// RobotKind selects the webhook dialect of a robot.
type RobotKind string

const (
	RobotWeCom    RobotKind = "wecom"
	RobotDingTalk RobotKind = "dingtalk"
	RobotFeishu   RobotKind = "feishu"
)

// Robot is one configured webhook target. The set of kinds is closed:
// ParseRobotKind rejects anything else when the configuration is loaded.
type Robot interface {
	Name() string
	Kind() RobotKind
	// request builds the webhook URL and JSON body for a text message.
	request(text string, now time.Time) (string, any, error)
}

// ParseRobotKind maps configuration spellings to a RobotKind. The numeric
// codes 1, 2 and 3 are accepted for compatibility with stored robot configs.
func ParseRobotKind(s string) (RobotKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "wecom", "wechat", "wechat_work", "1":
		return RobotWeCom, nil
	case "dingtalk", "ding", "2":
		return RobotDingTalk, nil
	case "feishu", "lark", "3":
		return RobotFeishu, nil
	default:
		return "", fmt.Errorf("unknown robot type %q", s)
	}
}

// WeComRobot posts to an enterprise WeChat group robot.
type WeComRobot struct {
	RobotName string
	Webhook   string
	Mentioned []string
}

func (r WeComRobot) Name() string    { return r.RobotName }
func (r WeComRobot) Kind() RobotKind { return RobotWeCom }

func (r WeComRobot) request(text string, _ time.Time) (string, any, error) {
	body := map[string]any{
		"msgtype": "text",
		"text": map[string]any{
			"content":        text,
			"mentioned_list": nonNil(r.Mentioned),
		},
	}
	return r.Webhook, body, nil
}

// DingTalkRobot posts to a DingTalk group robot. When Secret is set the
// request is signed with HMAC-SHA256 over "timestamp\nsecret".
type DingTalkRobot struct {
	RobotName string
	Webhook   string
	Secret    string
	AtAll     bool
}

func (r DingTalkRobot) Name() string    { return r.RobotName }
func (r DingTalkRobot) Kind() RobotKind { return RobotDingTalk }

func (r DingTalkRobot) request(text string, now time.Time) (string, any, error) {
	target := r.Webhook
	if r.Secret != "" {
		ts := strconv.FormatInt(now.UnixMilli(), 10)
		mac := hmac.New(sha256.New, []byte(r.Secret))
		mac.Write([]byte(ts + "\n" + r.Secret))
		sign := base64.StdEncoding.EncodeToString(mac.Sum(nil))

		u, err := url.Parse(r.Webhook)
		if err != nil {
			return "", nil, fmt.Errorf("parse dingtalk webhook: %w", err)
		}
		q := u.Query()
		q.Set("timestamp", ts)
		q.Set("sign", sign)
		u.RawQuery = q.Encode()
		target = u.String()
	}
	body := map[string]any{
		"msgtype": "text",
		"text":    map[string]any{"content": text},
		"at":      map[string]any{"isAtAll": r.AtAll},
	}
	return target, body, nil
}

// FeishuRobot posts to a Feishu custom bot. When Secret is set the body
// carries a timestamp (seconds) and the HMAC-SHA256 signature keyed by
// "timestamp\nsecret" over an empty message.
type FeishuRobot struct {
	RobotName string
	Webhook   string
	Secret    string
}

func (r FeishuRobot) Name() string    { return r.RobotName }
func (r FeishuRobot) Kind() RobotKind { return RobotFeishu }

func (r FeishuRobot) request(text string, now time.Time) (string, any, error) {
	body := map[string]any{
		"msg_type": "text",
		"content":  map[string]any{"text": text},
	}
	if r.Secret != "" {
		ts := strconv.FormatInt(now.Unix(), 10)
		mac := hmac.New(sha256.New, []byte(ts+"\n"+r.Secret))
		body["timestamp"] = ts
		body["sign"] = base64.StdEncoding.EncodeToString(mac.Sum(nil))
	}
	return r.Webhook, body, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
