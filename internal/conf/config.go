// config.go: This file contains the configuration for the FoeWatch application.
// It defines the settings struct and functions to load and save the settings.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
)

//go:embed config.yaml
var configFiles embed.FS

// LogConfig contains settings for the service log file.
type LogConfig struct {
	Enabled bool   // true to enable file logging
	Path    string // path to log file
}

// MainSettings contains top level settings for the node.
type MainSettings struct {
	Name string    // node name, used in logs and MQTT client id
	Log  LogConfig // service log settings
}

// CameraConfig describes a single camera to poll. The transport handle is an
// opaque reference resolved by the image source collaborator.
type CameraConfig struct {
	ID           string        `yaml:"id"`           // stable camera identifier
	Name         string        `yaml:"name"`         // human readable name
	Transport    string        `yaml:"transport"`    // opaque handle passed to the image source
	PollInterval time.Duration `yaml:"pollinterval"` // base polling interval
	Enabled      bool          `yaml:"enabled"`      // false to skip this camera entirely
}

// ChangeFilterSettings controls the perceptual hash gate in front of the cascade.
type ChangeFilterSettings struct {
	Threshold        int // Hamming distance (of 64 bits) at or above which a frame counts as changed
	ForceSampleEvery int // force one frame through per this many skipped frames, 0 disables audit sampling
}

// DetectorSettings configures the fast local animal detector stage.
type DetectorSettings struct {
	Enabled    bool          // true to run the fast detector stage
	Endpoint   string        // detector service URL
	Confidence float64       // minimum region confidence to accept
	Timeout    time.Duration // per-call timeout
}

// IdentifierSettings configures the local species identifier stage.
type IdentifierSettings struct {
	Enabled    bool          // true to run the species identifier stage
	Endpoint   string        // identifier service URL
	Confidence float64       // minimum confidence for a result to short-circuit later stages
	Timeout    time.Duration // per-call timeout
}

// CloudSettings configures the cloud vision fallback stage.
type CloudSettings struct {
	Enabled           bool          // true to allow cloud fallback
	Endpoint          string        // cloud vision service URL
	Confidence        float64       // minimum confidence to accept a cloud result
	Timeout           time.Duration // per-call timeout
	CostPerCall       float64       // monetary cost recorded per analyze call
	RatePerMinute     int           // cloud call budget, calls per minute
	FullFrameFallback bool          // send full frame to cloud when detector finds nothing despite large change
	CacheTTL          time.Duration // how long analyze results are cached per frame hash
}

// CascadeSettings groups the three classifier stages.
type CascadeSettings struct {
	Detector   DetectorSettings
	Identifier IdentifierSettings
	Cloud      CloudSettings
	RetryDelay time.Duration // delay before the single retry of a transient stage failure
}

// TaxonomySettings holds the configurable species to foe/friend mapping.
// Reclassification requires only a config change, never a code change.
type TaxonomySettings struct {
	Version       string              `yaml:"version"`       // taxonomy table version, recorded with detections
	MinConfidence float64             `yaml:"minconfidence"` // below this the resolver returns unknown regardless of label
	Foes          map[string][]string `yaml:"foes"`          // foe category -> species labels
	Friends       map[string][]string `yaml:"friends"`       // friend category -> species labels
}

// SoundConfig describes one registered deterrent sound asset.
type SoundConfig struct {
	ID   string `yaml:"id"`   // stable sound identifier
	Path string `yaml:"path"` // asset path passed to the playback collaborator
}

// DeterrentSettings configures sound selection and outcome tracking.
type DeterrentSettings struct {
	ExploreProbability float64                  `yaml:"exploreprobability"` // probability of a uniform random pick
	ObservationWindow  time.Duration            `yaml:"observationwindow"`  // window for resolving attempt outcomes
	PlaybackTimeout    time.Duration            `yaml:"playbacktimeout"`    // per-call playback timeout
	PlayerCommand      []string                 `yaml:"playercommand"`      // command prefix for the playback collaborator
	Sounds             map[string][]SoundConfig `yaml:"sounds"`             // foe category -> sound pool
}

// SchedulerSettings configures camera health and backoff behaviour.
type SchedulerSettings struct {
	UnhealthyAfter  int           // consecutive diagnostic events before a camera is marked unhealthy
	BackoffCeiling  time.Duration // maximum backed-off polling interval
	CaptureTimeout  time.Duration // per-call capture timeout
	ShutdownGrace   time.Duration // grace period for in-flight ticks on shutdown
	DiagnosticLimit int           // per-camera in-memory diagnostic history size
}

// SQLiteSettings contains settings for the SQLite database.
type SQLiteSettings struct {
	Enabled bool   // true to enable SQLite
	Path    string // path to database file
}

// MySQLSettings contains settings for the MySQL database.
type MySQLSettings struct {
	Enabled  bool   // true to enable MySQL
	Username string // MySQL username
	Password string // MySQL password
	Database string // MySQL database name
	Host     string // MySQL host
	Port     string // MySQL port
}

// OutputSettings contains database settings.
type OutputSettings struct {
	SQLite SQLiteSettings
	MySQL  MySQLSettings
}

// MQTTSettings contains settings for optional event publishing.
type MQTTSettings struct {
	Enabled  bool   // true to enable MQTT publishing
	Broker   string // broker URL, e.g. tcp://localhost:1883
	Topic    string // topic prefix for published events
	Username string // MQTT username
	Password string // MQTT password
}

// APISettings contains settings for the control API.
type APISettings struct {
	Enabled bool   // true to run the HTTP control surface
	Host    string // listen address
	Port    string // listen port
}

// Settings contains all runtime settings for the application.
type Settings struct {
	Debug bool // true to enable debug level logging

	Main         MainSettings
	Cameras      []CameraConfig
	ChangeFilter ChangeFilterSettings
	Cascade      CascadeSettings
	Taxonomy     TaxonomySettings
	Deterrent    DeterrentSettings
	Scheduler    SchedulerSettings
	Output       OutputSettings
	MQTT         MQTTSettings
	API          APISettings
}

// settingsInstance is the current settings instance
var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into the settings struct.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.config/foewatch")
	viper.AddConfigPath("/etc/foewatch")

	// Set default values for each configuration parameter
	// function defined in defaults.go
	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// Config file not found, create config with defaults
			return createDefaultConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig creates a default config file and writes it to the default config path
func createDefaultConfig() error {
	configPath := filepath.Join(".", "config.yaml")
	defaultConfig := getDefaultConfig()

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	fmt.Println("Created default config file at:", configPath)
	return viper.ReadInConfig()
}

// getDefaultConfig reads the default configuration from the embedded config.yaml file.
func getDefaultConfig() string {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		log.Fatalf("Error reading config file: %v", err)
	}
	return string(data)
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Setting returns the current settings instance, initializing it if necessary
func Setting() *Settings {
	once.Do(func() {
		if settingsInstance == nil {
			_, err := Load()
			if err != nil {
				log.Fatalf("Error loading settings: %v", err)
			}
		}
	})
	return GetSettings()
}

// EnabledCameras returns the cameras that should be scheduled.
func (s *Settings) EnabledCameras() []CameraConfig {
	cameras := make([]CameraConfig, 0, len(s.Cameras))
	for _, c := range s.Cameras {
		if c.Enabled {
			cameras = append(cameras, c)
		}
	}
	return cameras
}
