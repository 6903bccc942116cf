// Package config loads the daemon configuration from
// ~/.config/screenrec/config.yaml with SCREENREC_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tiroq/screenrec/internal/controller"
)

// Recorder backends.
const (
	BackendFFmpeg = "ffmpeg"
	BackendOBS    = "obs"
)

type Config struct {
	Backend    string         `mapstructure:"backend" yaml:"backend"`
	OutputRoot string         `mapstructure:"output_root" yaml:"output_root"`
	FFmpeg     FFmpegConfig   `mapstructure:"ffmpeg" yaml:"ffmpeg"`
	OBS        OBSConfig      `mapstructure:"obs" yaml:"obs"`
	Display    DisplayConfig  `mapstructure:"display" yaml:"display"`
	Defaults   DefaultsConfig `mapstructure:"defaults" yaml:"defaults"`
	Notifier   string         `mapstructure:"notifier" yaml:"notifier"`
	Cues       bool           `mapstructure:"cues" yaml:"cues"`
	// StopTimeout bounds the wait for a recording to finalize on shutdown.
	StopTimeout time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout"`
	// CommandPoll is the fallback poll interval of the command spool.
	CommandPoll time.Duration `mapstructure:"command_poll" yaml:"command_poll"`
}

type FFmpegConfig struct {
	Path        string `mapstructure:"path" yaml:"path"`
	Display     int    `mapstructure:"display" yaml:"display"`
	AudioSource string `mapstructure:"audio_source" yaml:"audio_source"`
}

type OBSConfig struct {
	URL      string `mapstructure:"url" yaml:"url"`
	Password string `mapstructure:"password" yaml:"password"`
}

// DisplayConfig selects where rotation and screen size come from. Static
// values are used when X11 is empty or unreachable.
type DisplayConfig struct {
	X11      string `mapstructure:"x11" yaml:"x11"`
	Rotation int    `mapstructure:"rotation" yaml:"rotation"`
	Width    int    `mapstructure:"width" yaml:"width"`
	Height   int    `mapstructure:"height" yaml:"height"`
}

// DefaultsConfig are the values used when a setting is unset.
type DefaultsConfig struct {
	Dimensions string `mapstructure:"dimensions" yaml:"dimensions"`
	BitRate    int    `mapstructure:"bitrate" yaml:"bitrate"`
	FrameRate  int    `mapstructure:"frame_rate" yaml:"frame_rate"`
}

// DefaultPath returns ~/.config/screenrec/config.yaml.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(dir, "screenrec", "config.yaml")
}

func defaultOutputRoot() string {
	home := os.Getenv("HOME")
	videos := filepath.Join(home, "Videos")
	if info, err := os.Stat(videos); err == nil && info.IsDir() {
		return videos
	}
	return home
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend", BackendFFmpeg)
	v.SetDefault("output_root", defaultOutputRoot())
	v.SetDefault("ffmpeg.path", "ffmpeg")
	v.SetDefault("ffmpeg.display", 0)
	v.SetDefault("ffmpeg.audio_source", "default")
	v.SetDefault("obs.url", "ws://localhost:4455")
	v.SetDefault("obs.password", "")
	v.SetDefault("display.x11", os.Getenv("DISPLAY"))
	v.SetDefault("display.rotation", 0)
	v.SetDefault("display.width", 0)
	v.SetDefault("display.height", 0)
	v.SetDefault("defaults.dimensions", fmt.Sprintf("%dx%d", controller.FallbackWidth, controller.FallbackHeight))
	v.SetDefault("defaults.bitrate", 4000000)
	v.SetDefault("defaults.frame_rate", 30)
	v.SetDefault("notifier", "auto")
	v.SetDefault("cues", true)
	v.SetDefault("stop_timeout", 30*time.Second)
	v.SetDefault("command_poll", time.Second)
}

// Load reads path, which may be missing, and applies env overrides such as
// SCREENREC_BACKEND or SCREENREC_OBS_URL.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("SCREENREC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.OutputRoot = expandHome(cfg.OutputRoot)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail later at runtime.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendFFmpeg, BackendOBS:
	default:
		return fmt.Errorf("invalid backend %q (want %s or %s)", c.Backend, BackendFFmpeg, BackendOBS)
	}
	switch c.Notifier {
	case "auto", "dbus", "notify-send", "osascript", "memory":
	default:
		return fmt.Errorf("invalid notifier %q", c.Notifier)
	}
	if c.OutputRoot == "" {
		return fmt.Errorf("output_root must be set")
	}
	if _, _, ok := controller.ParseDimensions(c.Defaults.Dimensions); !ok {
		return fmt.Errorf("invalid defaults.dimensions %q (want <width>x<height>)", c.Defaults.Dimensions)
	}
	if c.Defaults.BitRate <= 0 {
		return fmt.Errorf("defaults.bitrate must be positive, got %d", c.Defaults.BitRate)
	}
	if c.Defaults.FrameRate <= 0 {
		return fmt.Errorf("defaults.frame_rate must be positive, got %d", c.Defaults.FrameRate)
	}
	if c.Display.Rotation < 0 || c.Display.Rotation > 3 {
		return fmt.Errorf("display.rotation must be 0..3, got %d", c.Display.Rotation)
	}
	if c.StopTimeout < 0 {
		return fmt.Errorf("stop_timeout must not be negative")
	}
	if c.CommandPoll <= 0 {
		return fmt.Errorf("command_poll must be positive")
	}
	return nil
}

// ControllerDefaults converts the defaults section.
func (c *Config) ControllerDefaults() controller.Defaults {
	return controller.Defaults{
		Dimensions: c.Defaults.Dimensions,
		BitRate:    c.Defaults.BitRate,
		FrameRate:  c.Defaults.FrameRate,
	}
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.OBS.Password != "" {
		c.OBS.Password = "***"
	}
	return c
}

// YAML renders the redacted config.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c.Redacted())
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		return filepath.Join(os.Getenv("HOME"), strings.TrimPrefix(p, "~"))
	}
	return p
}
