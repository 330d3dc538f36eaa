// Package config loads the YAML device configuration for fobd.
package config

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Role as spelled in the config file.
const (
	RoleCar = "car"
	RoleFob = "fob"
)

type Config struct {
	Role      string          `yaml:"role"`
	Links     LinksConfig     `yaml:"links"`
	Provision ProvisionConfig `yaml:"provision"`
	Fob       FobConfig       `yaml:"fob"`
}

type LinksConfig struct {
	HostPort  string `yaml:"host_port"`
	BoardPort string `yaml:"board_port"`
	Baud      *int   `yaml:"baud"`
}

type ProvisionConfig struct {
	CarID       string `yaml:"car_id"` // 32 hex chars
	EEPROMImage string `yaml:"eeprom_image"`
}

type FobConfig struct {
	FlashPage string `yaml:"flash_page"`
	Paired    *bool  `yaml:"paired"`
	PairPin   string `yaml:"pair_pin"`   // 32 hex chars, factory encrypted PIN
	CarSecret string `yaml:"car_secret"` // 32 hex chars
}

// Load reads, strictly decodes, and validates a config file. Relative
// paths resolve against the config file's directory.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	cfg.resolvePaths(path)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Role {
	case RoleCar, RoleFob:
	default:
		return fmt.Errorf("config.role must be %q or %q", RoleCar, RoleFob)
	}
	if strings.TrimSpace(c.Links.HostPort) == "" {
		return fmt.Errorf("config.links.host_port is required")
	}
	if strings.TrimSpace(c.Links.BoardPort) == "" {
		return fmt.Errorf("config.links.board_port is required")
	}
	if c.Links.Baud == nil {
		return fmt.Errorf("config.links.baud is required")
	}
	if *c.Links.Baud <= 0 {
		return fmt.Errorf("config.links.baud must be positive")
	}
	if err := validateHexField(c.Provision.CarID, 16, "config.provision.car_id"); err != nil {
		return err
	}
	if strings.TrimSpace(c.Provision.EEPROMImage) == "" {
		return fmt.Errorf("config.provision.eeprom_image is required")
	}
	if err := validateReadableFile(c.Provision.EEPROMImage, "config.provision.eeprom_image"); err != nil {
		return err
	}

	if c.Role == RoleCar {
		return nil
	}
	return c.validateFob()
}

func (c *Config) validateFob() error {
	if strings.TrimSpace(c.Fob.FlashPage) == "" {
		return fmt.Errorf("config.fob.flash_page is required")
	}
	if c.Fob.Paired == nil {
		return fmt.Errorf("config.fob.paired is required")
	}
	if !*c.Fob.Paired {
		return nil
	}
	if err := validateHexField(c.Fob.PairPin, 16, "config.fob.pair_pin"); err != nil {
		return err
	}
	return validateHexField(c.Fob.CarSecret, 16, "config.fob.car_secret")
}

// CarID decodes the provisioned 16-byte car identifier.
func (c *Config) CarID() ([16]byte, error) {
	return decode16(c.Provision.CarID)
}

// PairPin decodes the factory encrypted PIN (paired fob builds only).
func (c *Config) PairPin() ([16]byte, error) {
	return decode16(c.Fob.PairPin)
}

// CarSecret decodes the factory car-unlock secret (paired fob builds only).
func (c *Config) CarSecret() ([16]byte, error) {
	return decode16(c.Fob.CarSecret)
}

func decode16(s string) ([16]byte, error) {
	var out [16]byte
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 16 {
		return out, fmt.Errorf("expected 32 hex chars, got %q", s)
	}
	copy(out[:], b)
	return out, nil
}

func (c *Config) resolvePaths(configPath string) {
	configDir := filepath.Dir(configPath)
	c.Provision.EEPROMImage = resolvePath(configDir, c.Provision.EEPROMImage)
	c.Fob.FlashPage = resolvePath(configDir, c.Fob.FlashPage)
}

func resolvePath(baseDir, path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Clean(filepath.Join(baseDir, trimmed))
}

func validateHexField(s string, bytesWanted int, field string) error {
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("%s must be hex: %w", field, err)
	}
	if len(b) != bytesWanted {
		return fmt.Errorf("%s must be %d hex chars", field, bytesWanted*2)
	}
	return nil
}

func validateReadableFile(path string, field string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s must point to a file, got directory", field)
	}
	return nil
}
