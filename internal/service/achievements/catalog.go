package achievements

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/aimd54/lingo-progression/internal/models"
)

// catalogFile is the on-disk YAML layout.
type catalogFile struct {
	Achievements []catalogEntry `yaml:"achievements"`
}

type catalogEntry struct {
	Code        string         `yaml:"code"`
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Icon        string         `yaml:"icon"`
	XPReward    int64          `yaml:"xp_reward"`
	Active      *bool          `yaml:"active"`
	Criteria    map[string]any `yaml:"criteria"`
}

// LoadCatalog reads achievement definitions from a YAML file.
//
// Example:
//
//	achievements:
//	  - code: streak_7
//	    name: Week Warrior
//	    xp_reward: 50
//	    criteria:
//	      kind: streak
//	      days: 7
func LoadCatalog(path string) ([]models.AchievementDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read achievement catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates catalog YAML.
func ParseCatalog(data []byte) ([]models.AchievementDefinition, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse achievement catalog: %w", err)
	}

	seen := make(map[string]bool, len(file.Achievements))
	defs := make([]models.AchievementDefinition, 0, len(file.Achievements))

	for i, entry := range file.Achievements {
		if entry.Code == "" {
			return nil, fmt.Errorf("achievement #%d: code is required", i+1)
		}
		if seen[entry.Code] {
			return nil, fmt.Errorf("achievement %s: duplicate code", entry.Code)
		}
		seen[entry.Code] = true

		if entry.Name == "" {
			return nil, fmt.Errorf("achievement %s: name is required", entry.Code)
		}
		if entry.XPReward < 0 {
			return nil, fmt.Errorf("achievement %s: xp_reward cannot be negative", entry.Code)
		}
		if entry.Criteria == nil {
			return nil, fmt.Errorf("achievement %s: criteria is required", entry.Code)
		}

		raw, err := json.Marshal(entry.Criteria)
		if err != nil {
			return nil, fmt.Errorf("achievement %s: %w", entry.Code, err)
		}
		var criteria models.Criteria
		if err := json.Unmarshal(raw, &criteria); err != nil {
			return nil, fmt.Errorf("achievement %s: %w", entry.Code, err)
		}

		active := true
		if entry.Active != nil {
			active = *entry.Active
		}

		defs = append(defs, models.AchievementDefinition{
			Code:        entry.Code,
			Name:        entry.Name,
			Description: entry.Description,
			Icon:        entry.Icon,
			Criteria:    criteria,
			XPReward:    entry.XPReward,
			IsActive:    active,
		})
	}

	return defs, nil
}
