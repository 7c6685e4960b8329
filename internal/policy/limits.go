package policy

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadLimits загружает профиль из YAML.
// Если файла нет, используется встроенный moderate профиль.
func LoadLimits(path, profileName string) (Limits, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DefaultLimits(), nil
		}
		return Limits{}, fmt.Errorf("failed to read policy file: %w", err)
	}
	return ParseLimits(data, profileName)
}

// ParseLimits разбирает YAML с профилями
func ParseLimits(data []byte, profileName string) (Limits, error) {
	var config struct {
		SecurityProfiles map[string]Limits `yaml:"security_profiles"`
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return Limits{}, fmt.Errorf("failed to parse policy: %w", err)
	}

	if profileName == "" {
		profileName = "moderate"
	}

	limits, ok := config.SecurityProfiles[profileName]
	if !ok {
		return Limits{}, fmt.Errorf("policy profile %s not found", profileName)
	}

	// Незаполненные поля берем из дефолтов
	def := DefaultLimits()
	if limits.MaxRebalanceAmount <= 0 {
		limits.MaxRebalanceAmount = def.MaxRebalanceAmount
	}
	if limits.MaxDailyTransactions <= 0 {
		limits.MaxDailyTransactions = def.MaxDailyTransactions
	}
	if limits.MaxWeeklyAmount <= 0 {
		limits.MaxWeeklyAmount = def.MaxWeeklyAmount
	}
	if limits.MinTimeBetweenRebalances <= 0 {
		limits.MinTimeBetweenRebalances = def.MinTimeBetweenRebalances
	}
	if limits.MaxConsecutiveFailures <= 0 {
		limits.MaxConsecutiveFailures = def.MaxConsecutiveFailures
	}

	limits.ProfileName = profileName
	return limits, nil
}
