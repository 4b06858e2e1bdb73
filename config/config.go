// Package config loads deploy-time configuration: a JSON file written
// by the deployment layer, CLOUDRELAY_* environment overrides, and the
// provider-assignment YAML emitted by provisioning. Validation is
// eager; a broken deployment fails at startup, not on first traffic.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/cloudrelay/boundary"
	"github.com/c360/cloudrelay/envelope"
	"github.com/c360/cloudrelay/errors"
)

// Duration is a time.Duration that additionally accepts a day suffix
// ("14d") in JSON, since retention windows are specified in days.
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library form.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// ParseDuration parses a duration string, accepting a trailing "d" for
// days on top of the standard units.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.WrapConfig(errors.ErrInvalidConfig, "config", "ParseDuration", "empty duration")
	}
	if strings.HasSuffix(s, "d") {
		days, err := strconv.ParseFloat(strings.TrimSuffix(s, "d"), 64)
		if err != nil {
			return 0, errors.WrapConfig(err, "config", "ParseDuration", fmt.Sprintf("bad day count %q", s))
		}
		return time.Duration(days * 24 * float64(time.Hour)), nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return 0, errors.WrapConfig(err, "config", "ParseDuration", fmt.Sprintf("bad duration %q", s))
	}
	return parsed, nil
}

// Connection is one outbound inter-cloud endpoint.
type Connection struct {
	URL   string `json:"url"`
	Token string `json:"token"`
}

// NATS holds the local JetStream settings.
type NATS struct {
	URL           string `json:"url"`
	HotBucket     string `json:"hotBucket"`
	ColdBucket    string `json:"coldBucket"`
	ArchiveBucket string `json:"archiveBucket"`
}

// DynamoDB holds the DynamoDB hot-backend settings.
type DynamoDB struct {
	Table  string `json:"table"`
	Region string `json:"region"`
}

// Config is the full deploy-time configuration of one cloudrelay
// process.
type Config struct {
	// Provider is the cloud this process runs in.
	Provider string `json:"provider"`

	// TwinPrefix names the digital-twin route family.
	TwinPrefix string `json:"twinPrefix"`

	// HTTPAddr is the gateway listen address.
	HTTPAddr string `json:"httpAddr"`

	// HotBackend selects the hot-store implementation, "nats" or
	// "dynamodb".
	HotBackend string `json:"hotBackend"`

	NATS     NATS     `json:"nats"`
	DynamoDB DynamoDB `json:"dynamodb"`

	// Tokens holds the expected inbound shared secret per boundary.
	Tokens map[string]string `json:"tokens"`

	// Connections holds the outbound endpoint per boundary. A boundary
	// with no entry, or a blank URL, is local.
	Connections map[string]Connection `json:"connections"`

	// Providers assigns a cloud provider to each tier, either inline or
	// loaded from ProvidersFile.
	Providers     map[string]string `json:"providers"`
	ProvidersFile string            `json:"providersFile"`

	// SchemaFile optionally points at a JSON schema applied to inbound
	// event properties.
	SchemaFile string `json:"schemaFile"`

	HotRetention  Duration `json:"hotRetention"`
	ColdRetention Duration `json:"coldRetention"`
	MoverInterval Duration `json:"moverInterval"`
}

func defaultConfig() *Config {
	return &Config{
		HTTPAddr:      ":8080",
		HotBackend:    "nats",
		TwinPrefix:    "twin",
		HotRetention:  Duration(14 * 24 * time.Hour),
		ColdRetention: Duration(90 * 24 * time.Hour),
		MoverInterval: Duration(time.Hour),
		Tokens:        map[string]string{},
		Connections:   map[string]Connection{},
		Providers:     map[string]string{},
	}
}

// Load reads the JSON file, applies environment overrides, resolves the
// provider-assignment YAML, and validates the result.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapConfig(err, "config", "Load", "read config file")
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapConfig(err, "config", "Load", "parse config file")
		}
	}

	cfg.applyEnv()

	if cfg.ProvidersFile != "" {
		providers, err := loadProvidersFile(cfg.ProvidersFile)
		if err != nil {
			return nil, err
		}
		cfg.Providers = providers
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides scalar settings from CLOUDRELAY_* variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("CLOUDRELAY_PROVIDER"); v != "" {
		c.Provider = v
	}
	if v := os.Getenv("CLOUDRELAY_HTTP_ADDR"); v != "" {
		c.HTTPAddr = v
	}
	if v := os.Getenv("CLOUDRELAY_TWIN_PREFIX"); v != "" {
		c.TwinPrefix = v
	}
	if v := os.Getenv("CLOUDRELAY_HOT_BACKEND"); v != "" {
		c.HotBackend = v
	}
	if v := os.Getenv("CLOUDRELAY_NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv("CLOUDRELAY_DYNAMODB_TABLE"); v != "" {
		c.DynamoDB.Table = v
	}
	if v := os.Getenv("CLOUDRELAY_PROVIDERS_FILE"); v != "" {
		c.ProvidersFile = v
	}
}

// providersFile is the YAML shape emitted by the provisioning layer.
type providersFile struct {
	Layers map[string]string `yaml:"layers"`
}

func loadProvidersFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapConfig(err, "config", "loadProvidersFile", "read providers file")
	}
	var pf providersFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, errors.WrapConfig(err, "config", "loadProvidersFile", "parse providers file")
	}
	if len(pf.Layers) == 0 {
		return nil, errors.WrapConfig(errors.ErrInvalidConfig, "config", "loadProvidersFile", "no layer assignments")
	}
	return pf.Layers, nil
}

// Validate checks everything that can be verified without touching the
// network.
func (c *Config) Validate() error {
	if !envelope.Provider(c.Provider).Valid() {
		return errors.WrapConfig(errors.ErrInvalidConfig, "config", "Validate",
			fmt.Sprintf("unknown provider %q", c.Provider))
	}
	if c.TwinPrefix == "" {
		return errors.WrapConfig(errors.ErrMissingConfig, "config", "Validate", "twinPrefix")
	}
	switch c.HotBackend {
	case "nats", "dynamodb":
	default:
		return errors.WrapConfig(errors.ErrInvalidConfig, "config", "Validate",
			fmt.Sprintf("unknown hot backend %q", c.HotBackend))
	}
	if c.HotBackend == "nats" && c.NATS.URL == "" {
		return errors.WrapConfig(errors.ErrMissingConfig, "config", "Validate", "nats.url")
	}
	if c.HotBackend == "dynamodb" && c.DynamoDB.Table == "" {
		return errors.WrapConfig(errors.ErrMissingConfig, "config", "Validate", "dynamodb.table")
	}
	if c.HotRetention <= 0 || c.ColdRetention <= 0 || c.MoverInterval <= 0 {
		return errors.WrapConfig(errors.ErrInvalidConfig, "config", "Validate",
			"retention windows and mover interval must be positive")
	}

	for layerName, providerName := range c.Providers {
		if _, err := layerOf(layerName); err != nil {
			return err
		}
		if !envelope.Provider(providerName).Valid() {
			return errors.WrapConfig(errors.ErrInvalidConfig, "config", "Validate",
				fmt.Sprintf("layer %s assigned unknown provider %q", layerName, providerName))
		}
	}

	for id, conn := range c.Connections {
		if _, _, err := boundary.Sides(boundary.ID(id)); err != nil {
			return err
		}
		if strings.TrimSpace(conn.URL) != "" && conn.Token == "" {
			return errors.WrapConfig(errors.ErrMissingToken, "config", "Validate",
				fmt.Sprintf("connection %s has a URL but no token", id))
		}
	}
	return nil
}

var knownLayers = map[string]boundary.Layer{
	string(boundary.LayerIngestion): boundary.LayerIngestion,
	string(boundary.LayerCompute):   boundary.LayerCompute,
	string(boundary.LayerHot):       boundary.LayerHot,
	string(boundary.LayerCold):      boundary.LayerCold,
	string(boundary.LayerArchive):   boundary.LayerArchive,
	string(boundary.LayerTwin):      boundary.LayerTwin,
}

func layerOf(name string) (boundary.Layer, error) {
	layer, ok := knownLayers[name]
	if !ok {
		return "", errors.WrapConfig(errors.ErrInvalidConfig, "config", "layerOf",
			fmt.Sprintf("unknown layer %q", name))
	}
	return layer, nil
}

// Detector builds the boundary detector from the provider assignments
// and connections.
func (c *Config) Detector(logger *slog.Logger) (*boundary.Detector, error) {
	providers := make(map[boundary.Layer]envelope.Provider, len(c.Providers))
	for layerName, providerName := range c.Providers {
		layer, err := layerOf(layerName)
		if err != nil {
			return nil, err
		}
		providers[layer] = envelope.Provider(providerName)
	}

	endpoints := make(map[boundary.ID]boundary.Endpoint, len(c.Connections))
	for id, conn := range c.Connections {
		endpoints[boundary.ID(id)] = boundary.Endpoint{URL: conn.URL, Token: conn.Token}
	}

	return boundary.NewDetector(providers, endpoints, logger), nil
}

// Token returns the expected inbound token for a boundary.
func (c *Config) Token(id boundary.ID) string {
	return c.Tokens[string(id)]
}
