package survey

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"bimabot/internal/domain"
)

// Script carries operator-editable wording for the survey, loaded from
// YAML so prompts can be re-worded without rebuilding the binary. Only
// non-empty fields override the built-in defaults.
type Script struct {
	Prompts                map[string]string `yaml:"prompts"` // keyed by step name
	AgeRetry               string            `yaml:"ageRetry"`
	FallbackRecommendation string            `yaml:"fallbackRecommendation"`
}

// LoadScript reads a survey script from a YAML file and rejects prompt
// keys that do not name a declared step.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read survey script %s: %w", path, err)
	}
	var script Script
	if err := yaml.Unmarshal(data, &script); err != nil {
		return nil, fmt.Errorf("parse survey script %s: %w", path, err)
	}
	for key := range script.Prompts {
		if !domain.StepID(key).Valid() {
			return nil, fmt.Errorf("survey script %s: unknown step %q", path, key)
		}
	}
	return &script, nil
}

func (e *Engine) applyScript(script *Script) {
	for step, prompt := range script.Prompts {
		if prompt != "" {
			e.prompts[domain.StepID(step)] = prompt
		}
	}
	if script.AgeRetry != "" {
		e.ageRetry = script.AgeRetry
	}
	if script.FallbackRecommendation != "" {
		e.fallbackRec = script.FallbackRecommendation
	}
}
