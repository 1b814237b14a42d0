package publishers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/samvad-hq/samvad-notifier/internal/domain"
	"gopkg.in/yaml.v3"
)

const (
	// Supported publisher types.
	TypeSQS    = "sqs"
	TypeSNS    = "sns"
	TypePubSub = "pubsub"
	TypeHTTP   = "http"

	defaultHTTPTimeoutSeconds = 5
)

// PublisherConfig is one entry of the publishers file.
type PublisherConfig struct {
	ID      string `json:"id" yaml:"id"`
	Type    string `json:"type" yaml:"type"`
	Enabled *bool  `json:"enabled" yaml:"enabled"`
	// Route narrows the notifications this publisher receives.
	Route  Route                  `json:"route" yaml:"route"`
	SQS    *SQSPublisherConfig    `json:"sqs" yaml:"sqs"`
	SNS    *SNSPublisherConfig    `json:"sns" yaml:"sns"`
	PubSub *PubSubPublisherConfig `json:"pubsub" yaml:"pubsub"`
	HTTP   *HTTPPublisherConfig   `json:"http" yaml:"http"`
}

// Route selects notifications by platform and subscriber scope. Empty lists accept all.
type Route struct {
	Platforms []string       `json:"platforms" yaml:"platforms"`
	Scopes    []domain.Scope `json:"scopes" yaml:"scopes"`
}

// Accepts reports whether n passes the route.
func (r Route) Accepts(n Notification) bool {
	if len(r.Platforms) > 0 && !slices.Contains(r.Platforms, n.Platform) {
		return false
	}
	return len(r.Scopes) == 0 || slices.Contains(r.Scopes, n.Scope)
}

func (r Route) isZero() bool { return len(r.Platforms) == 0 && len(r.Scopes) == 0 }

// AWSCredentials are optional static keys; the default chain is used when empty.
type AWSCredentials struct {
	AccessKeyID     string `json:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key" yaml:"secret_access_key"`
	SessionToken    string `json:"session_token" yaml:"session_token"`
}

// SQSPublisherConfig holds AWS SQS specific settings.
type SQSPublisherConfig struct {
	QueueURL    string         `json:"uri" yaml:"uri"`
	Region      string         `json:"region" yaml:"region"`
	Credentials AWSCredentials `json:"credentials" yaml:"credentials"`
}

// SNSPublisherConfig holds AWS SNS specific settings.
type SNSPublisherConfig struct {
	TopicARN    string         `json:"topic_arn" yaml:"topic_arn"`
	Region      string         `json:"region" yaml:"region"`
	Credentials AWSCredentials `json:"credentials" yaml:"credentials"`
}

// PubSubPublisherConfig holds Google Cloud Pub/Sub settings.
type PubSubPublisherConfig struct {
	ProjectID       string `json:"project_id" yaml:"project_id"`
	Topic           string `json:"topic" yaml:"topic"`
	CredentialsFile string `json:"credentials_file" yaml:"credentials_file"`
}

// HTTPPublisherConfig holds settings of the chat bridge webhook.
type HTTPPublisherConfig struct {
	URL            string            `json:"url" yaml:"url"`
	Method         string            `json:"method" yaml:"method"`
	Headers        map[string]string `json:"headers" yaml:"headers"`
	TimeoutSeconds int               `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// EnabledValue returns the enabled flag, defaulting to true.
func (cfg PublisherConfig) EnabledValue() bool {
	return cfg.Enabled == nil || *cfg.Enabled
}

// ConfigRegistry holds the validated publisher entries in file order. It is not
// modified after loading.
type ConfigRegistry struct {
	publishers []PublisherConfig
}

// LoadRegistry reads the publishers file; the extension selects YAML or JSON.
func LoadRegistry(path string) (*ConfigRegistry, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("publishers file path is empty")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read publishers file: %w", err)
	}
	return ParseRegistry(raw, filepath.Ext(path))
}

// ParseRegistry decodes and validates publisher entries. An empty ext is read as
// YAML, which also accepts JSON documents.
func ParseRegistry(data []byte, ext string) (*ConfigRegistry, error) {
	var file struct {
		Publishers []PublisherConfig `json:"publishers" yaml:"publishers"`
	}
	var err error
	switch ext = strings.ToLower(strings.TrimSpace(ext)); ext {
	case "", ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	case ".json":
		err = json.Unmarshal(data, &file)
	default:
		return nil, fmt.Errorf("publishers file extension %q not supported (expected .yaml, .yml or .json)", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("decode publishers file: %w", err)
	}
	if len(file.Publishers) == 0 {
		return nil, errors.New("publishers file contains no publishers entries")
	}

	reg := &ConfigRegistry{publishers: make([]PublisherConfig, 0, len(file.Publishers))}
	seen := make(map[string]struct{}, len(file.Publishers))
	for i, cfg := range file.Publishers {
		cfg = normalize(cfg)
		if err := validate(cfg); err != nil {
			return nil, fmt.Errorf("publishers[%d]: %w", i, err)
		}
		if _, dup := seen[cfg.ID]; dup {
			return nil, fmt.Errorf("publishers[%d]: duplicate id %q", i, cfg.ID)
		}
		seen[cfg.ID] = struct{}{}
		reg.publishers = append(reg.publishers, cfg)
	}
	return reg, nil
}

func normalize(cfg PublisherConfig) PublisherConfig {
	cfg.ID = strings.TrimSpace(cfg.ID)
	cfg.Type = strings.ToLower(strings.TrimSpace(cfg.Type))

	var platforms []string
	for _, p := range cfg.Route.Platforms {
		if p = strings.TrimSpace(p); p != "" && !slices.Contains(platforms, p) {
			platforms = append(platforms, p)
		}
	}
	var scopes []domain.Scope
	for _, s := range cfg.Route.Scopes {
		if s = domain.Scope(strings.ToLower(strings.TrimSpace(string(s)))); s != "" && !slices.Contains(scopes, s) {
			scopes = append(scopes, s)
		}
	}
	cfg.Route = Route{Platforms: platforms, Scopes: scopes}

	if c := cfg.SQS; c != nil {
		cfg.SQS = &SQSPublisherConfig{
			QueueURL:    strings.TrimSpace(c.QueueURL),
			Region:      strings.TrimSpace(c.Region),
			Credentials: trimCredentials(c.Credentials),
		}
	}
	if c := cfg.SNS; c != nil {
		cfg.SNS = &SNSPublisherConfig{
			TopicARN:    strings.TrimSpace(c.TopicARN),
			Region:      strings.TrimSpace(c.Region),
			Credentials: trimCredentials(c.Credentials),
		}
	}
	if c := cfg.PubSub; c != nil {
		cfg.PubSub = &PubSubPublisherConfig{
			ProjectID:       strings.TrimSpace(c.ProjectID),
			Topic:           strings.TrimSpace(c.Topic),
			CredentialsFile: strings.TrimSpace(c.CredentialsFile),
		}
	}
	if c := cfg.HTTP; c != nil {
		h := HTTPPublisherConfig{
			URL:            strings.TrimSpace(c.URL),
			Method:         strings.ToUpper(strings.TrimSpace(c.Method)),
			TimeoutSeconds: c.TimeoutSeconds,
		}
		if h.Method == "" {
			h.Method = http.MethodPost
		}
		if h.TimeoutSeconds <= 0 {
			h.TimeoutSeconds = defaultHTTPTimeoutSeconds
		}
		for k, v := range c.Headers {
			k, v = strings.TrimSpace(k), strings.TrimSpace(v)
			if k == "" || v == "" {
				continue
			}
			if h.Headers == nil {
				h.Headers = make(map[string]string, len(c.Headers))
			}
			h.Headers[k] = v
		}
		cfg.HTTP = &h
	}
	return cfg
}

func trimCredentials(c AWSCredentials) AWSCredentials {
	return AWSCredentials{
		AccessKeyID:     strings.TrimSpace(c.AccessKeyID),
		SecretAccessKey: strings.TrimSpace(c.SecretAccessKey),
		SessionToken:    strings.TrimSpace(c.SessionToken),
	}
}

// requiredFields checks the settings block of each known type. Types registered by
// callers at runtime are validated by their builders instead.
var requiredFields = map[string]func(PublisherConfig) map[string]string{
	TypeHTTP: func(cfg PublisherConfig) map[string]string {
		c := cfg.HTTP
		if c == nil {
			c = &HTTPPublisherConfig{}
		}
		return map[string]string{"url": c.URL}
	},
	TypeSQS: func(cfg PublisherConfig) map[string]string {
		c := cfg.SQS
		if c == nil {
			c = &SQSPublisherConfig{}
		}
		return map[string]string{"uri": c.QueueURL, "region": c.Region}
	},
	TypeSNS: func(cfg PublisherConfig) map[string]string {
		c := cfg.SNS
		if c == nil {
			c = &SNSPublisherConfig{}
		}
		return map[string]string{"topic_arn": c.TopicARN, "region": c.Region}
	},
	TypePubSub: func(cfg PublisherConfig) map[string]string {
		c := cfg.PubSub
		if c == nil {
			c = &PubSubPublisherConfig{}
		}
		return map[string]string{"project_id": c.ProjectID, "topic": c.Topic}
	},
}

func validate(cfg PublisherConfig) error {
	if cfg.ID == "" {
		return errors.New("id is required")
	}
	if cfg.Type == "" {
		return fmt.Errorf("publisher %q: type is required", cfg.ID)
	}
	if fields, ok := requiredFields[cfg.Type]; ok {
		var missing []string
		for name, val := range fields(cfg) {
			if val == "" {
				missing = append(missing, cfg.Type+"."+name)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return fmt.Errorf("publisher %q: missing %s", cfg.ID, strings.Join(missing, ", "))
		}
	}
	for _, s := range cfg.Route.Scopes {
		if s != domain.ScopeUser && s != domain.ScopeGroup {
			return fmt.Errorf("publisher %q: route scope %q is neither %s nor %s", cfg.ID, s, domain.ScopeUser, domain.ScopeGroup)
		}
	}
	return nil
}

// All returns every configured publisher in file order.
func (r *ConfigRegistry) All() []PublisherConfig {
	if r == nil {
		return nil
	}
	return slices.Clone(r.publishers)
}

// Enabled returns the publishers that are switched on.
func (r *ConfigRegistry) Enabled() []PublisherConfig {
	var out []PublisherConfig
	for _, cfg := range r.All() {
		if cfg.EnabledValue() {
			out = append(out, cfg)
		}
	}
	return out
}
