package patterns

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads a library override file. Sections left empty in the file keep
// the built-in tables.
func Load(path string) (*Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pattern file: %w", err)
	}
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse pattern file: %w", err)
	}
	lib, err := Compile(mergeDefaults(def))
	if err != nil {
		return nil, fmt.Errorf("compile pattern file: %w", err)
	}
	return lib, nil
}

// LoadOrDefault returns Load(path) for a non-empty path and Default() otherwise.
func LoadOrDefault(path string) (*Library, error) {
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

func mergeDefaults(def Definition) Definition {
	base := DefaultDefinition()
	if len(def.Services) == 0 {
		def.Services = base.Services
	}
	if len(def.Roles) == 0 {
		def.Roles = base.Roles
	}
	if len(def.RoleOverrides) == 0 {
		def.RoleOverrides = base.RoleOverrides
	}
	if len(def.HighValueServices) == 0 {
		def.HighValueServices = base.HighValueServices
	}
	if len(def.ThreatCategories) == 0 {
		def.ThreatCategories = base.ThreatCategories
	}
	if len(def.AssetRules) == 0 {
		def.AssetRules = base.AssetRules
	}
	if len(def.VulnIndicators) == 0 {
		def.VulnIndicators = base.VulnIndicators
	}
	if len(def.AdminTerms) == 0 && len(def.AdminNames) == 0 {
		def.AdminTerms = base.AdminTerms
		def.AdminNames = base.AdminNames
	}
	if len(def.IgnoredUsers) == 0 {
		def.IgnoredUsers = base.IgnoredUsers
	}
	if len(def.CriticalTypes) == 0 {
		def.CriticalTypes = base.CriticalTypes
	}
	if def.DefaultAsset <= 0 {
		def.DefaultAsset = base.DefaultAsset
	}
	if def.Container.BaseScore <= 0 {
		def.Container = base.Container
	}
	return def
}
