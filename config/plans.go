package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"immoledger/server/internal/models"
)

// PlanCatalog is the subscription plan reference data shipped with the
// service.
type PlanCatalog struct {
	Plans []models.Plan
}

// LoadPlanCatalog reads and validates the catalog at path.
func LoadPlanCatalog(path string) (*PlanCatalog, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan catalog: %w", err)
	}

	return ParsePlanCatalog(data)
}

// ParsePlanCatalog decodes a YAML catalog. Keys left out of a plan keep
// their defaults: version 1, active, XOF.
func ParsePlanCatalog(data []byte) (*PlanCatalog, error) {
	var raw struct {
		Plans []yaml.Node `yaml:"plans"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse plan catalog: %w", err)
	}

	catalog := &PlanCatalog{Plans: make([]models.Plan, 0, len(raw.Plans))}
	seen := make(map[string]bool, len(raw.Plans))
	for i := range raw.Plans {
		p := models.Plan{Version: 1, Currency: "XOF", Active: true}
		if err := raw.Plans[i].Decode(&p); err != nil {
			return nil, fmt.Errorf("failed to parse plan %d (line %d): %w", i+1, raw.Plans[i].Line, err)
		}

		p.ID = strings.TrimSpace(p.ID)
		if p.ID == "" {
			return nil, fmt.Errorf("plan %d has no id", i+1)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("plan %s is listed twice", p.ID)
		}
		seen[p.ID] = true

		if p.PriceMonthly < 0 || p.PriceYearly < 0 || p.PriceLifetime < 0 {
			return nil, fmt.Errorf("plan %s has a negative price", p.ID)
		}
		p.Currency = strings.ToUpper(p.Currency)
		catalog.Plans = append(catalog.Plans, p)
	}
	return catalog, nil
}
