// Package patterns holds the immutable signature tables shared by the
// feature extractor, the node classifier and the threat scorer.
package patterns

import (
	"fmt"
	"regexp"
	"strings"
)

// Definition is the declarative form of a library, as read from YAML.
// Slice order is significant: it is the tie-break order for roles and the
// reporting order for threat matches.
type Definition struct {
	Version           int            `yaml:"version"`
	Services          []ServiceDef   `yaml:"services"`
	Roles             []RoleDef      `yaml:"roles"`
	RoleOverrides     []OverrideDef  `yaml:"role_overrides"`
	HighValueServices []string       `yaml:"high_value_services"`
	ThreatCategories  []CategoryDef  `yaml:"threat_categories"`
	AssetRules        []AssetRuleDef `yaml:"asset_rules"`
	VulnIndicators    []string       `yaml:"vulnerability_indicators"`
	AdminTerms        []string       `yaml:"admin_terms"`
	AdminNames        []string       `yaml:"admin_names"`
	IgnoredUsers      []string       `yaml:"ignored_users"`
	CriticalTypes     []string       `yaml:"critical_threat_types"`
	DefaultAsset      float64        `yaml:"default_asset_multiplier"`
	Container         ContainerDef   `yaml:"container"`
}

// ServiceDef maps regex patterns to a canonical service tag.
type ServiceDef struct {
	Name     string   `yaml:"name"`
	Patterns []string `yaml:"patterns"`
}

// RoleDef maps regex patterns to a host role with an importance weight.
type RoleDef struct {
	Name     string   `yaml:"name"`
	Weight   int      `yaml:"weight"`
	Server   bool     `yaml:"server"`
	Patterns []string `yaml:"patterns"`
}

// OverrideDef forces a role when any listed service tag is present.
type OverrideDef struct {
	Role     string   `yaml:"role"`
	Services []string `yaml:"services"`
}

// CategoryDef is one threat category. Patterns are lower-case substrings.
type CategoryDef struct {
	Name       string   `yaml:"name"`
	ThreatType string   `yaml:"threat_type"`
	BaseScore  float64  `yaml:"base_score"`
	Patterns   []string `yaml:"patterns"`
}

// AssetRuleDef applies a multiplier when the hostname contains any substring.
type AssetRuleDef struct {
	Name       string   `yaml:"name"`
	Substrings []string `yaml:"substrings"`
	Multiplier float64  `yaml:"multiplier"`
}

// ContainerDef describes the synthetic attack-container match.
type ContainerDef struct {
	ThreatType   string  `yaml:"threat_type"`
	BaseScore    float64 `yaml:"base_score"`
	Indicator    string  `yaml:"indicator"`
	SourceMarker string  `yaml:"source_marker"`
}

type service struct {
	name     string
	patterns []*regexp.Regexp
}

type role struct {
	name     string
	weight   int
	server   bool
	patterns []*regexp.Regexp
}

type override struct {
	role     string
	services []string
}

// Category is a compiled threat category.
type Category struct {
	Name       string
	ThreatType string
	BaseScore  float64
	Patterns   []string
}

type assetRule struct {
	name       string
	substrings []string
	multiplier float64
}

// Library is a compiled, read-only pattern library. It is safe for concurrent use.
type Library struct {
	services       []service
	roles          []role
	roleIndex      map[string]int
	overrides      []override
	highValue      map[string]struct{}
	categories     []Category
	assets         []assetRule
	defaultAsset   float64
	vulnIndicators []string
	adminTerms     []string
	adminNames     map[string]struct{}
	ignoredUsers   map[string]struct{}
	criticalTypes  map[string]struct{}
	container      ContainerDef
}

// Compile validates a definition and builds a Library from it.
func Compile(def Definition) (*Library, error) {
	lib := &Library{
		roleIndex:      make(map[string]int, len(def.Roles)),
		highValue:      toSet(def.HighValueServices),
		defaultAsset:   def.DefaultAsset,
		vulnIndicators: lowerAll(def.VulnIndicators),
		adminTerms:     lowerAll(def.AdminTerms),
		adminNames:     toSet(lowerAll(def.AdminNames)),
		ignoredUsers:   toSet(lowerAll(def.IgnoredUsers)),
		criticalTypes:  toSet(def.CriticalTypes),
		container:      def.Container,
	}
	if lib.defaultAsset <= 0 {
		lib.defaultAsset = 1.0
	}

	for i, s := range def.Services {
		if s.Name == "" {
			return nil, fmt.Errorf("service %d: missing name", i)
		}
		compiled, err := compileAll(s.Patterns)
		if err != nil {
			return nil, fmt.Errorf("service %s: %w", s.Name, err)
		}
		lib.services = append(lib.services, service{name: s.Name, patterns: compiled})
	}

	for i, r := range def.Roles {
		if r.Name == "" {
			return nil, fmt.Errorf("role %d: missing name", i)
		}
		if _, dup := lib.roleIndex[r.Name]; dup {
			return nil, fmt.Errorf("role %s: declared twice", r.Name)
		}
		compiled, err := compileAll(r.Patterns)
		if err != nil {
			return nil, fmt.Errorf("role %s: %w", r.Name, err)
		}
		lib.roleIndex[r.Name] = len(lib.roles)
		lib.roles = append(lib.roles, role{name: r.Name, weight: r.Weight, server: r.Server, patterns: compiled})
	}

	for _, o := range def.RoleOverrides {
		if o.Role == "" || len(o.Services) == 0 {
			return nil, fmt.Errorf("role override: role and services are required")
		}
		lib.overrides = append(lib.overrides, override{role: o.Role, services: append([]string(nil), o.Services...)})
	}

	for i, c := range def.ThreatCategories {
		if c.Name == "" || c.ThreatType == "" {
			return nil, fmt.Errorf("threat category %d: name and threat_type are required", i)
		}
		if c.BaseScore < 0 || c.BaseScore > 1 {
			return nil, fmt.Errorf("threat category %s: base_score %.2f out of range", c.Name, c.BaseScore)
		}
		lib.categories = append(lib.categories, Category{
			Name:       c.Name,
			ThreatType: c.ThreatType,
			BaseScore:  c.BaseScore,
			Patterns:   lowerAll(c.Patterns),
		})
	}

	for _, a := range def.AssetRules {
		if a.Multiplier <= 0 {
			return nil, fmt.Errorf("asset rule %s: multiplier must be positive", a.Name)
		}
		lib.assets = append(lib.assets, assetRule{name: a.Name, substrings: lowerAll(a.Substrings), multiplier: a.Multiplier})
	}

	if lib.container.ThreatType == "" {
		lib.container.ThreatType = "container_attack"
	}
	if lib.container.Indicator == "" {
		lib.container.Indicator = "Container attack context"
	}
	if lib.container.SourceMarker == "" {
		lib.container.SourceMarker = "attackcontainer"
	}
	return lib, nil
}

// MustCompile is Compile that panics on error. Intended for static tables.
func MustCompile(def Definition) *Library {
	lib, err := Compile(def)
	if err != nil {
		panic(err)
	}
	return lib
}

// MatchServices returns the canonical service tags whose patterns match any of the texts.
// Texts are matched lower-cased, in library order.
func (l *Library) MatchServices(texts ...string) []string {
	lowered := make([]string, 0, len(texts))
	for _, t := range texts {
		if t != "" {
			lowered = append(lowered, strings.ToLower(t))
		}
	}
	if len(lowered) == 0 {
		return nil
	}
	var out []string
	for _, s := range l.services {
		if anyMatch(s.patterns, lowered) {
			out = append(out, s.name)
		}
	}
	return out
}

// RoleScore is the match score of one role for one node.
type RoleScore struct {
	Role  string
	Score int
}

// RoleScores scores every role against the service tags and hostname:
// +2 per pattern matching any service, +1 per pattern matching the hostname.
// The result follows declaration order.
func (l *Library) RoleScores(services []string, hostname string) []RoleScore {
	host := strings.ToLower(hostname)
	out := make([]RoleScore, 0, len(l.roles))
	for _, r := range l.roles {
		score := 0
		for _, p := range r.patterns {
			for _, svc := range services {
				if p.MatchString(svc) {
					score += 2
					break
				}
			}
			if host != "" && p.MatchString(host) {
				score++
			}
		}
		out = append(out, RoleScore{Role: r.name, Score: score})
	}
	return out
}

// Override returns the forced role for a service set, if any.
func (l *Library) Override(has func(string) bool) (string, bool) {
	for _, o := range l.overrides {
		for _, svc := range o.services {
			if has(svc) {
				return o.role, true
			}
		}
	}
	return "", false
}

// RoleWeight returns the importance base weight of a role. Unknown roles weigh 1.
func (l *Library) RoleWeight(name string) int {
	if i, ok := l.roleIndex[name]; ok && l.roles[i].weight > 0 {
		return l.roles[i].weight
	}
	return 1
}

// IsServerRole reports whether a role is listed as a server role.
func (l *Library) IsServerRole(name string) bool {
	if i, ok := l.roleIndex[name]; ok {
		return l.roles[i].server
	}
	return false
}

// Roles returns the declared role names in order.
func (l *Library) Roles() []string {
	out := make([]string, 0, len(l.roles))
	for _, r := range l.roles {
		out = append(out, r.name)
	}
	return out
}

// IsHighValueService reports whether a service tag adds importance.
func (l *Library) IsHighValueService(name string) bool {
	_, ok := l.highValue[name]
	return ok
}

// Match is one threat pattern hit.
type Match struct {
	Category   string
	Pattern    string
	ThreatType string
	BaseScore  float64
}

// Indicator renders the match as "category: pattern".
func (m Match) Indicator() string {
	return m.Category + ": " + m.Pattern
}

// MatchThreats returns every category pattern contained in the lower-cased message.
func (l *Library) MatchThreats(message string) []Match {
	if message == "" {
		return nil
	}
	lower := strings.ToLower(message)
	var out []Match
	for _, c := range l.categories {
		for _, p := range c.Patterns {
			if p != "" && strings.Contains(lower, p) {
				out = append(out, Match{Category: c.Name, Pattern: p, ThreatType: c.ThreatType, BaseScore: c.BaseScore})
			}
		}
	}
	return out
}

// Categories returns a copy of the threat categories.
func (l *Library) Categories() []Category {
	out := make([]Category, len(l.categories))
	for i, c := range l.categories {
		c.Patterns = append([]string(nil), c.Patterns...)
		out[i] = c
	}
	return out
}

// Container returns the synthetic container-context match definition.
func (l *Library) Container() ContainerDef {
	return l.container
}

// AssetMultiplier returns the criticality multiplier of the first rule whose
// substring occurs in the hostname.
func (l *Library) AssetMultiplier(hostname string) float64 {
	host := strings.ToLower(hostname)
	for _, a := range l.assets {
		for _, s := range a.substrings {
			if s != "" && strings.Contains(host, s) {
				return a.multiplier
			}
		}
	}
	return l.defaultAsset
}

// IsCriticalType reports whether a threat type carries the critical severity floor.
func (l *Library) IsCriticalType(threatType string) bool {
	_, ok := l.criticalTypes[threatType]
	return ok
}

// VulnerabilityHits counts vulnerability indicator words in the message.
func (l *Library) VulnerabilityHits(message string) int {
	lower := strings.ToLower(message)
	n := 0
	for _, w := range l.vulnIndicators {
		if strings.Contains(lower, w) {
			n++
		}
	}
	return n
}

// IsIgnoredUser reports whether a username must not be recorded.
func (l *Library) IsIgnoredUser(name string) bool {
	_, ok := l.ignoredUsers[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// IsAdminUser reports whether a username looks privileged.
func (l *Library) IsAdminUser(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	if _, ok := l.adminNames[lower]; ok {
		return true
	}
	for _, t := range l.adminTerms {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func anyMatch(patterns []*regexp.Regexp, texts []string) bool {
	for _, p := range patterns {
		for _, t := range texts {
			if p.MatchString(t) {
				return true
			}
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToLower(s))
	}
	return out
}

func toSet(in []string) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for _, s := range in {
		out[s] = struct{}{}
	}
	return out
}
