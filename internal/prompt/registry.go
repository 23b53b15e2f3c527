package prompt

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"signaldesk/internal/logger"
)

// FileConfig 映射模板文件。
type FileConfig struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

// Templates 是解析后的一组模板。
type Templates struct {
	Version  int64
	LoadedAt time.Time
	system   *template.Template
	user     *template.Template
}

// Registry 管理提示词模板，文件变更时自动重载；解析失败保留旧版本。
type Registry struct {
	path string

	mu      sync.RWMutex
	current Templates
}

// NewRegistry 读取 path；path 为空时只使用内置模板。
func NewRegistry(path string) (*Registry, error) {
	r := &Registry{path: strings.TrimSpace(path)}
	if r.path == "" {
		tpl, err := parseTemplates(FileConfig{})
		if err != nil {
			return nil, err
		}
		tpl.Version = 1
		r.current = tpl
		return r, nil
	}
	if err := r.reload(); err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigFile(r.path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read prompt file failed: %w", err)
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if evt.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		if err := r.reload(); err != nil {
			logger.Errorf("prompt reload failed: %v", err)
		}
	})
	v.WatchConfig()
	return r, nil
}

// Current 返回当前模板版本。
func (r *Registry) Current() Templates {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

func (r *Registry) reload() error {
	cfg, err := readPromptFile(r.path)
	if err != nil {
		return err
	}
	tpl, err := parseTemplates(cfg)
	if err != nil {
		return err
	}
	r.mu.Lock()
	tpl.Version = r.current.Version + 1
	r.current = tpl
	r.mu.Unlock()
	logger.Infof("Prompt registry loaded v%d from %s", tpl.Version, filepath.Base(r.path))
	return nil
}

func readPromptFile(path string) (FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read prompt file failed: %w", err)
	}
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return FileConfig{}, fmt.Errorf("parse prompt file failed: %w", err)
	}
	return cfg, nil
}

func parseTemplates(cfg FileConfig) (Templates, error) {
	system := strings.TrimSpace(cfg.System)
	if system == "" {
		system = defaultSystemTemplate
	}
	user := strings.TrimSpace(cfg.User)
	if user == "" {
		user = defaultUserTemplate
	}
	sys, err := template.New("system").Option("missingkey=error").Parse(system)
	if err != nil {
		return Templates{}, fmt.Errorf("parse system template: %w", err)
	}
	usr, err := template.New("user").Option("missingkey=error").Parse(user)
	if err != nil {
		return Templates{}, fmt.Errorf("parse user template: %w", err)
	}
	return Templates{LoadedAt: time.Now(), system: sys, user: usr}, nil
}

func (t Templates) render(tpl *template.Template, data any) (string, error) {
	if tpl == nil {
		return "", fmt.Errorf("template not loaded")
	}
	var b bytes.Buffer
	if err := tpl.Execute(&b, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(b.String()), nil
}
