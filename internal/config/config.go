package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultConfigPath = "~/.config/pixelmind/config.json"
	configEnv         = "PIXELMIND_CONFIG"
)

// Config holds user-editable settings for the editor, batch runner and server.
type Config struct {
	Logging Logging `json:"logging" yaml:"logging"`
	Paths   Paths   `json:"paths" yaml:"paths"`
	Editor  Editor  `json:"editor" yaml:"editor"`
	Batch   Batch   `json:"batch" yaml:"batch"`
	Merge   Merge   `json:"merge" yaml:"merge"`
	AI      AI      `json:"ai" yaml:"ai"`
	Server  Server  `json:"server" yaml:"server"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level" yaml:"level"`             // debug, info, warn, error
	Format     string `json:"format" yaml:"format"`           // text, json
	FileOutput bool   `json:"file_output" yaml:"file_output"` // Enable file logging
	LogDir     string `json:"log_dir" yaml:"log_dir"`
}

// Paths configures default input/output locations.
type Paths struct {
	DefaultInput  string `json:"default_input" yaml:"default_input"`
	DefaultOutput string `json:"default_output" yaml:"default_output"`
	DatabasePath  string `json:"database_path" yaml:"database_path"`
	Inbox         string `json:"inbox" yaml:"inbox"` // watched for dropped images; empty disables
}

// Editor tunes interactive editing and export.
type Editor struct {
	JPEGQuality  int      `json:"jpeg_quality" yaml:"jpeg_quality"`
	MaxPixels    int      `json:"max_pixels" yaml:"max_pixels"`
	RegularFonts []string `json:"regular_fonts" yaml:"regular_fonts"`
	BoldFonts    []string `json:"bold_fonts" yaml:"bold_fonts"`
}

// Batch holds the defaults of a batch run.
type Batch struct {
	Format      string  `json:"format" yaml:"format"` // jpeg, png, webp
	Quality     int     `json:"quality" yaml:"quality"`
	ResizeMode  string  `json:"resize_mode" yaml:"resize_mode"`
	ResizeEdge  int     `json:"resize_edge" yaml:"resize_edge"`
	ResizePct   float64 `json:"resize_percent" yaml:"resize_percent"`
	AutoBalance bool    `json:"auto_balance" yaml:"auto_balance"`
}

// Merge holds the default merge layout.
type Merge struct {
	Direction  string `json:"direction" yaml:"direction"`
	Gap        int    `json:"gap" yaml:"gap"`
	Padding    int    `json:"padding" yaml:"padding"`
	Background string `json:"background" yaml:"background"`
	Align      string `json:"align" yaml:"align"`
}

// AI configures the generative service.
type AI struct {
	APIKey     string        `json:"api_key" yaml:"api_key"` // falls back to GEMINI_API_KEY, then API_KEY
	ImageModel string        `json:"image_model" yaml:"image_model"`
	TextModel  string        `json:"text_model" yaml:"text_model"`
	Timeout    time.Duration `json:"timeout" yaml:"timeout"`
}

// Server configures the local HTTP and gRPC listeners.
type Server struct {
	Addr     string `json:"addr" yaml:"addr"`
	GRPCAddr string `json:"grpc_addr" yaml:"grpc_addr"`
	MaxBody  int64  `json:"max_body" yaml:"max_body"`
}

// Load reads configuration from disk, falling back to sensible defaults.
// Files ending in .yaml or .yml are parsed as YAML, anything else as JSON.
func Load() (*Config, error) {
	configPath := os.Getenv(configEnv)
	if configPath == "" {
		configPath = defaultConfigPath
	}
	return LoadFile(configPath)
}

// LoadFile reads one config file. A missing file yields the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := defaultConfig()

	expanded, err := expandUser(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(expanded)
	if errors.Is(err, os.ErrNotExist) {
		cfg.applyEnv()
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(expanded)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", expanded, err)
	}

	for _, p := range []*string{&cfg.Paths.DefaultInput, &cfg.Paths.DefaultOutput, &cfg.Paths.DatabasePath, &cfg.Paths.Inbox, &cfg.Logging.LogDir} {
		if *p, err = expandUser(*p); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// Default returns the built-in configuration with environment overrides.
func Default() *Config {
	cfg := defaultConfig()
	cfg.applyEnv()
	return cfg
}

func (c *Config) applyEnv() {
	if c.AI.APIKey != "" {
		return
	}
	for _, k := range []string{"GEMINI_API_KEY", "API_KEY"} {
		if v := os.Getenv(k); v != "" {
			c.AI.APIKey = v
			return
		}
	}
}

func defaultConfig() *Config {
	return &Config{
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: false,
			LogDir:     "./logs",
		},
		Paths: Paths{
			DefaultInput:  ".",
			DefaultOutput: "./output",
			DatabasePath:  filepath.Join(os.TempDir(), "pixelmind.db"),
		},
		Editor: Editor{
			JPEGQuality:  95,
			MaxPixels:    1 << 28,
		},
		Batch: Batch{
			Format:     "image/jpeg",
			Quality:    90,
			ResizeMode: "original",
		},
		Merge: Merge{
			Direction:  "horizontal",
			Gap:        10,
			Padding:    10,
			Background: "#0f172a",
			Align:      "center",
		},
		AI: AI{
			ImageModel: "gemini-2.5-flash-image",
			TextModel:  "gemini-3-flash-preview",
			Timeout:    2 * time.Minute,
		},
		Server: Server{
			Addr:     "127.0.0.1:8080",
			GRPCAddr: "127.0.0.1:8081",
			MaxBody:  64 << 20,
		},
	}
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
