package tts

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Voice is a voice profile file. The sidecar "loads" a voice by reading
// its profile; synthesis happens in the backend.
type Voice struct {
	// Model is the speech model, e.g. "gpt-4o-mini-tts" or "tts-1".
	Model string `yaml:"model"`
	// Name is the backend voice, e.g. "alloy".
	Name         string  `yaml:"voice"`
	Speed        float64 `yaml:"speed"`
	Instructions string  `yaml:"instructions"`
}

// Voice profile defaults.
const (
	DefaultModel = "gpt-4o-mini-tts"
	DefaultVoice = "alloy"
)

// LoadVoice reads and validates the profile at path.
func LoadVoice(path string) (*Voice, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("Voice file does not exist: %s", path)
		}
		return nil, fmt.Errorf("reading voice %s: %w", path, err)
	}
	v := &Voice{}
	if err := yaml.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("parsing voice %s: %w", path, err)
	}
	if v.Model == "" {
		v.Model = DefaultModel
	}
	if v.Name == "" {
		v.Name = DefaultVoice
	}
	if v.Speed != 0 && (v.Speed < 0.25 || v.Speed > 4) {
		return nil, fmt.Errorf("voice %s: speed %.2f outside 0.25-4.0", path, v.Speed)
	}
	return v, nil
}
