package patterns

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchServicesScansMessageAndRaw(t *testing.T) {
	lib := Default()

	got := lib.MatchServices("Accepted publickey for alice from 10.0.0.5 port 50022 ssh2", "")
	assert.Contains(t, got, "ssh")

	got = lib.MatchServices("", "conn 10.0.0.9:3306 ok")
	assert.Equal(t, []string{"database"}, got)

	got = lib.MatchServices("GET / HTTPS/1.1")
	assert.Contains(t, got, "https")
	assert.NotContains(t, got, "http")

	assert.Empty(t, lib.MatchServices("", ""))
}

func TestRoleScoresCountServicesAndHostname(t *testing.T) {
	lib := Default()
	scores := lib.RoleScores([]string{"ldap", "kerberos"}, "DC01-domain-controller")
	require.Equal(t, "domain_controller", scores[0].Role)
	// ldap +2, kerberos +2, domain.*controller on hostname +1
	assert.Equal(t, 5, scores[0].Score)
}

func TestOverridesApplyInDeclarationOrder(t *testing.T) {
	lib := Default()
	set := map[string]bool{"mysql": true, "http": true, "kerberos": true}
	role, ok := lib.Override(func(s string) bool { return set[s] })
	require.True(t, ok)
	assert.Equal(t, "domain_controller", role)

	delete(set, "kerberos")
	role, _ = lib.Override(func(s string) bool { return set[s] })
	assert.Equal(t, "database_server", role)

	_, ok = lib.Override(func(string) bool { return false })
	assert.False(t, ok)
}

func TestMatchThreatsIsCaseInsensitiveSubstring(t *testing.T) {
	matches := Default().MatchThreats("Detected MIMIKATZ credential dump on host")
	require.Len(t, matches, 2)
	assert.Equal(t, "attack_tools: mimikatz", matches[0].Indicator())
	assert.Equal(t, "malicious_patterns: credential dump", matches[1].Indicator())
	assert.Equal(t, 0.8, matches[1].BaseScore)

	assert.Empty(t, Default().MatchThreats("service started normally"))
}

func TestAssetMultiplierFirstRuleWins(t *testing.T) {
	lib := Default()
	assert.Equal(t, 2.0, lib.AssetMultiplier("corp-DC01"))
	assert.Equal(t, 1.8, lib.AssetMultiplier("sqlprod"))
	assert.Equal(t, 1.5, lib.AssetMultiplier("fileshare01"))
	assert.Equal(t, 1.3, lib.AssetMultiplier("web-frontend"))
	assert.Equal(t, 0.8, lib.AssetMultiplier("test-box"))
	assert.Equal(t, 1.0, lib.AssetMultiplier("laptop-42"))
	// "dc" precedes "db" in rule order
	assert.Equal(t, 2.0, lib.AssetMultiplier("dcdb"))
}

func TestUserHelpers(t *testing.T) {
	lib := Default()
	assert.True(t, lib.IsIgnoredUser("SYSTEM"))
	assert.True(t, lib.IsIgnoredUser("$"))
	assert.False(t, lib.IsIgnoredUser("alice"))

	assert.True(t, lib.IsAdminUser("Administrator"))
	assert.True(t, lib.IsAdminUser("svc_admin"))
	assert.True(t, lib.IsAdminUser("root"))
	assert.False(t, lib.IsAdminUser("lisa"))
}

func TestVulnerabilityHits(t *testing.T) {
	assert.Equal(t, 3, Default().VulnerabilityHits("login FAILED: access denied, trojan quarantined"))
	assert.Equal(t, 0, Default().VulnerabilityHits("all good"))
}

func TestCompileRejectsBadInput(t *testing.T) {
	_, err := Compile(Definition{Services: []ServiceDef{{Name: "x", Patterns: []string{"("}}}})
	require.Error(t, err)

	_, err = Compile(Definition{Roles: []RoleDef{{Name: "a"}, {Name: "a"}}})
	require.Error(t, err)

	_, err = Compile(Definition{ThreatCategories: []CategoryDef{{Name: "c", ThreatType: "t", BaseScore: 1.5}}})
	require.Error(t, err)
}

func TestLoadMergesMissingSectionsWithDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patterns.yml")
	body := `
version: 1
roles:
  - name: print_server
    weight: 4
    server: true
    patterns: ["print", "spool"]
  - name: scanner
    weight: 2
    patterns: ["spool"]
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	lib, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"print_server", "scanner"}, lib.Roles())
	assert.Equal(t, 4, lib.RoleWeight("print_server"))
	assert.Equal(t, 1, lib.RoleWeight("endpoint"))
	assert.True(t, lib.IsServerRole("print_server"))
	// untouched sections come from the built-in tables
	assert.NotEmpty(t, lib.MatchThreats("nmap -sS"))
}

func TestLoadOrDefault(t *testing.T) {
	lib, err := LoadOrDefault("")
	require.NoError(t, err)
	assert.Same(t, Default(), lib)

	_, err = LoadOrDefault(filepath.Join(t.TempDir(), "missing.yml"))
	require.Error(t, err)
}
