package notify

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultTemplate is used when the configuration has no message template.
const DefaultTemplate = "Test execution {{name}} finished: {{status}}\n{{summary}}\nReport: {{report_url}}"

// FileConfig is the YAML document read from NOTIFY_CONFIG.
type FileConfig struct {
	MessageTemplate string        `yaml:"message_template"`
	ReportBaseURL   string        `yaml:"report_base_url"`
	Entries         []RobotConfig `yaml:"robots"`
}

// RobotConfig is one robot entry of the YAML document.
type RobotConfig struct {
	Name       string   `yaml:"name"`
	Type       string   `yaml:"type"`
	WebhookURL string   `yaml:"webhook_url"`
	Secret     string   `yaml:"secret"`
	Mentioned  []string `yaml:"mentioned"`
	AtAll      bool     `yaml:"at_all"`
}

// LoadFile reads and parses a robot configuration file.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read notify config: %w", err)
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse notify config %s: %w", path, err)
	}
	return &cfg, nil
}

// Robots converts the configured entries into robots. Unknown types and
// entries without a webhook are rejected here, once, at start-up.
func (c *FileConfig) Robots() ([]Robot, error) {
	robots := make([]Robot, 0, len(c.Entries))
	for i, rc := range c.Entries {
		name := rc.Name
		if name == "" {
			name = fmt.Sprintf("robot-%d", i+1)
		}
		if strings.TrimSpace(rc.WebhookURL) == "" {
			return nil, fmt.Errorf("robot %s: webhook_url is required", name)
		}
		kind, err := ParseRobotKind(rc.Type)
		if err != nil {
			return nil, fmt.Errorf("robot %s: %w", name, err)
		}
		switch kind {
		case RobotWeCom:
			robots = append(robots, WeComRobot{RobotName: name, Webhook: rc.WebhookURL, Mentioned: rc.Mentioned})
		case RobotDingTalk:
			robots = append(robots, DingTalkRobot{RobotName: name, Webhook: rc.WebhookURL, Secret: rc.Secret, AtAll: rc.AtAll})
		case RobotFeishu:
			robots = append(robots, FeishuRobot{RobotName: name, Webhook: rc.WebhookURL, Secret: rc.Secret})
		}
	}
	return robots, nil
}
