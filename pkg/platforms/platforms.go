package platforms

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Package platforms contains pluggable platform configs (YAML/JSON) and the adapters serving them.

// Platform is one entry of the platforms file.
type Platform struct {
	ID              string         `json:"id" yaml:"id"`
	Name            string         `json:"name" yaml:"name"`
	Type            string         `json:"type" yaml:"type"`
	SourceURL       string         `json:"source_url" yaml:"source_url"`
	HasTarget       bool           `json:"has_target" yaml:"has_target"`
	TagSupport      bool           `json:"tag_support" yaml:"tag_support"`
	Categories      map[int]string `json:"categories" yaml:"categories"`
	TargetPattern   string         `json:"target_pattern" yaml:"target_pattern"`
	TargetIDPattern string         `json:"target_id_pattern" yaml:"target_id_pattern"`
	SearchHint      string         `json:"search_hint" yaml:"search_hint"`
	Schedule        Schedule       `json:"schedule" yaml:"schedule"`
	DetectMode      string         `json:"detect_mode" yaml:"detect_mode"`
	Render          bool           `json:"render" yaml:"render"`
	Enrich          bool           `json:"enrich" yaml:"enrich"`
	RequestDelayMs  int            `json:"request_delay_ms" yaml:"request_delay_ms"`
	Config          map[string]any `json:"config" yaml:"config"`
}

type registryFile struct {
	Platforms []Platform `json:"platforms" yaml:"platforms"`
}

const (
	targetPlaceholder     = "{target}"
	defaultRequestDelayMs = 500
)

// LoadPlatforms reads and validates the platforms file.
func LoadPlatforms(path string) ([]Platform, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("platforms file path is empty")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open platforms file: %w", err)
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read platforms file: %w", err)
	}

	return ParsePlatforms(raw, filepath.Ext(path))
}

// ParsePlatforms decodes platform entries from YAML or JSON. ext selects the decoder;
// an empty ext tries both.
func ParsePlatforms(data []byte, ext string) ([]Platform, error) {
	reg, err := parseRegistry(data, ext)
	if err != nil {
		return nil, err
	}
	if len(reg.Platforms) == 0 {
		return nil, errors.New("platforms file contains no platforms entries")
	}

	seen := make(map[string]struct{}, len(reg.Platforms))
	for i := range reg.Platforms {
		p := sanitizePlatform(reg.Platforms[i])
		if err := validatePlatform(p); err != nil {
			return nil, fmt.Errorf("platform[%d]: %w", i, err)
		}
		if _, exists := seen[p.ID]; exists {
			return nil, fmt.Errorf("duplicate platform id %q", p.ID)
		}
		seen[p.ID] = struct{}{}
		reg.Platforms[i] = p
	}
	return reg.Platforms, nil
}

func parseRegistry(data []byte, ext string) (registryFile, error) {
	ext = strings.ToLower(strings.TrimSpace(ext))

	decoders := []struct {
		name string
		ext  string
		fn   unmarshalFn
	}{
		{name: "yaml", ext: ".yaml", fn: yaml.Unmarshal},
		{name: "yaml", ext: ".yml", fn: yaml.Unmarshal},
		{name: "json", ext: ".json", fn: json.Unmarshal},
	}

	var errs []error
	for _, d := range decoders {
		if ext != "" && ext != d.ext {
			continue
		}
		reg, err := unmarshalRegistry(d.name, data, d.fn)
		if err == nil {
			return reg, nil
		}
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return registryFile{}, errors.Join(errs...)
	}
	return registryFile{}, errors.New("platforms file format not recognized (expected YAML or JSON)")
}

type unmarshalFn func([]byte, any) error

func unmarshalRegistry(name string, data []byte, fn unmarshalFn) (registryFile, error) {
	var reg registryFile
	if err := fn(data, &reg); err != nil {
		return registryFile{}, fmt.Errorf("decode %s platforms: %w", name, err)
	}
	return reg, nil
}

func sanitizePlatform(p Platform) Platform {
	p.ID = strings.TrimSpace(p.ID)
	p.Name = strings.TrimSpace(p.Name)
	p.Type = strings.ToLower(strings.TrimSpace(p.Type))
	p.SourceURL = strings.TrimSpace(p.SourceURL)
	p.SearchHint = strings.TrimSpace(p.SearchHint)

	if p.Config == nil {
		p.Config = map[string]any{}
	}
	if p.Categories == nil {
		p.Categories = map[int]string{}
	}
	if p.RequestDelayMs <= 0 {
		p.RequestDelayMs = defaultRequestDelayMs
	}
	return p
}

func validatePlatform(p Platform) error {
	if p.ID == "" {
		return errors.New("id is required")
	}
	if p.Name == "" {
		return fmt.Errorf("name is required for platform %q", p.ID)
	}
	if p.Type == "" {
		return fmt.Errorf("type is required for platform %q", p.ID)
	}
	if p.SourceURL == "" {
		return fmt.Errorf("source_url is required for platform %q", p.ID)
	}
	if p.HasTarget && !strings.Contains(p.SourceURL, targetPlaceholder) {
		return fmt.Errorf("source_url of platform %q must contain %s", p.ID, targetPlaceholder)
	}
	return nil
}

// RequestDelay returns the pause between two target fetches of the platform.
func (p Platform) RequestDelay() time.Duration {
	if p.RequestDelayMs <= 0 {
		return time.Duration(defaultRequestDelayMs) * time.Millisecond
	}
	return time.Duration(p.RequestDelayMs) * time.Millisecond
}
