package config

import (
	"fmt"
	"strconv"
	"strings"
)

// ConfigVersion is a parsed "vMAJOR[.MINOR]" config version
type ConfigVersion struct {
	Major int
	Minor int
}

// ParseVersion parses a version string (e.g., "v1", "v1.2")
func ParseVersion(version string) (ConfigVersion, error) {
	parts := strings.Split(strings.TrimPrefix(version, "v"), ".")
	if len(parts) > 2 {
		return ConfigVersion{}, fmt.Errorf("invalid version format: %s", version)
	}

	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return ConfigVersion{}, fmt.Errorf("invalid major version: %w", err)
	}

	minor := 0
	if len(parts) == 2 {
		minor, err = strconv.Atoi(parts[1])
		if err != nil {
			return ConfigVersion{}, fmt.Errorf("invalid minor version: %w", err)
		}
	}

	return ConfigVersion{Major: major, Minor: minor}, nil
}

func (v ConfigVersion) String() string {
	if v.Minor == 0 {
		return fmt.Sprintf("v%d", v.Major)
	}
	return fmt.Sprintf("v%d.%d", v.Major, v.Minor)
}

// IsCompatible reports whether both versions share a major version
func (v ConfigVersion) IsCompatible(other ConfigVersion) bool {
	return v.Major == other.Major
}

// IsNewerThan checks if this version is newer than another
func (v ConfigVersion) IsNewerThan(other ConfigVersion) bool {
	if v.Major != other.Major {
		return v.Major > other.Major
	}
	return v.Minor > other.Minor
}

// GetCurrentVersion returns the current configuration version
func GetCurrentVersion() ConfigVersion {
	v, _ := ParseVersion(CurrentConfigVersion)
	return v
}

// ValidateVersion rejects missing, malformed, incompatible and newer versions
func ValidateVersion(config *Config) error {
	if config.Version == "" {
		return fmt.Errorf("configuration version is missing")
	}

	configVersion, err := ParseVersion(config.Version)
	if err != nil {
		return fmt.Errorf("invalid configuration version: %w", err)
	}

	current := GetCurrentVersion()

	if !current.IsCompatible(configVersion) {
		return fmt.Errorf("incompatible configuration version: %s (current: %s)", configVersion, current)
	}

	if configVersion.IsNewerThan(current) {
		return fmt.Errorf("configuration version %s is newer than %s (upgrade required)", configVersion, current)
	}

	return nil
}

// MigrateConfig returns a copy of config stamped with the current version.
// Only v1 exists, so the copy carries no field changes yet.
func MigrateConfig(config *Config) (*Config, error) {
	if err := ValidateVersion(config); err != nil {
		return nil, err
	}

	if config.Version == CurrentConfigVersion {
		return config, nil
	}

	migrated := copyConfig(config)
	migrated.Version = CurrentConfigVersion
	return migrated, nil
}
