package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// maxProfileSize bounds the YAML profile read by LoadProfile.
const maxProfileSize = 1 << 20

var (
	ErrProfileNotFound = errors.New("formatter profile not found")
	ErrProfileParse    = errors.New("invalid formatter profile")
)

// Profile holds formatter settings for the command line tool.
type Profile struct {
	MaxDepth int    `yaml:"maxDepth"`
	Indent   string `yaml:"indent"`
}

// LoadProfile reads a YAML formatter profile. Unknown keys are rejected.
func LoadProfile(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Profile{}, fmt.Errorf("%w: %s", ErrProfileNotFound, path)
		}
		return Profile{}, fmt.Errorf("read profile %s: %w", path, err)
	}
	if len(data) > maxProfileSize {
		return Profile{}, fmt.Errorf("%w: %s exceeds %d bytes", ErrProfileParse, path, maxProfileSize)
	}

	var profile Profile
	if len(data) == 0 {
		return profile, nil
	}
	if err := yaml.UnmarshalWithOptions(data, &profile, yaml.Strict()); err != nil {
		return Profile{}, fmt.Errorf("%w: %s: %v", ErrProfileParse, path, err)
	}
	if profile.MaxDepth < 0 {
		return Profile{}, fmt.Errorf("%w: %s: maxDepth must not be negative", ErrProfileParse, path)
	}
	return profile, nil
}
