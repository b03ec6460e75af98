package patterns

import "sync"

// DefaultDefinition returns the built-in signature tables.
func DefaultDefinition() Definition {
	return Definition{
		Version: 1,
		Services: []ServiceDef{
			{Name: "ssh", Patterns: []string{`:22\b`, `ssh`, `sshd`}},
			{Name: "rdp", Patterns: []string{`:3389\b`, `rdp`, `terminal.*server`}},
			{Name: "smb", Patterns: []string{`:445\b`, `:139\b`, `smb`, `cifs`}},
			{Name: "http", Patterns: []string{`:80\b`, `http([^s]|$)`, `apache`, `nginx`}},
			{Name: "https", Patterns: []string{`:443\b`, `https`, `ssl`, `tls`}},
			{Name: "dns", Patterns: []string{`:53\b`, `dns`, `named`}},
			{Name: "dhcp", Patterns: []string{`:67\b`, `:68\b`, `dhcp`}},
			{Name: "ldap", Patterns: []string{`:389\b`, `:636\b`, `ldap`, `active.*directory`}},
			{Name: "kerberos", Patterns: []string{`:88\b`, `kerberos`, `krb`}},
			{Name: "winrm", Patterns: []string{`:5985\b`, `:5986\b`, `winrm`}},
			{Name: "database", Patterns: []string{`:1433\b`, `:3306\b`, `:5432\b`, `sql`, `mysql`, `postgres`}},
			{Name: "web_server", Patterns: []string{`iis`, `apache`, `nginx`, `tomcat`}},
		},
		Roles: []RoleDef{
			{Name: "domain_controller", Weight: 10, Patterns: []string{
				`domain.*controller`, `active.*directory`, `ldap`, `kerberos`, `group.*policy`, `sysvol`, `netlogon`,
			}},
			{Name: "file_server", Weight: 6, Server: true, Patterns: []string{`file.*server`, `smb`, `cifs`, `shares`, `dfs`}},
			{Name: "web_server", Weight: 5, Server: true, Patterns: []string{`web.*server`, `http`, `apache`, `nginx`, `iis`}},
			{Name: "database_server", Weight: 8, Server: true, Patterns: []string{
				`database`, `sql.*server`, `mysql`, `postgres`, `oracle`,
			}},
			{Name: "mail_server", Weight: 5, Server: true, Patterns: []string{`mail.*server`, `exchange`, `smtp`, `imap`, `pop3`}},
			{Name: "firewall", Weight: 1, Patterns: []string{`firewall`, `pfsense`, `fortigate`, `checkpoint`}},
		},
		RoleOverrides: []OverrideDef{
			{Role: "domain_controller", Services: []string{"ldap", "kerberos"}},
			{Role: "database_server", Services: []string{"database", "sql", "mysql"}},
			{Role: "web_server", Services: []string{"http", "https", "web_server"}},
		},
		HighValueServices: []string{"ldap", "kerberos", "database", "smb", "rdp"},
		ThreatCategories: []CategoryDef{
			{Name: "attack_tools", ThreatType: "attack_tool_usage", BaseScore: 0.7, Patterns: []string{
				"nmap", "sqlmap", "metasploit", "msfconsole", "exploit", "nikto", "dirb", "gobuster", "hydra",
				"john", "mimikatz", "psexec", "wmic", "powershell -enc", "certutil -decode", "bitsadmin", "regsvr32",
			}},
			{Name: "suspicious_commands", ThreatType: "reconnaissance", BaseScore: 0.4, Patterns: []string{
				"whoami", "net user", "net localgroup", "net group", "tasklist", "ps aux", "netstat", "arp -a",
				"ipconfig", "ifconfig", "route print", "cat /etc/passwd", "cat /etc/shadow", "sudo -l",
				"find / -perm", "chmod +x", "wget", "curl", "nc -", "netcat",
			}},
			{Name: "malicious_patterns", ThreatType: "active_attack", BaseScore: 0.8, Patterns: []string{
				"reverse shell", "bind shell", "backdoor", "rootkit", "privilege escalation", "lateral movement",
				"persistence", "credential dump", "password crack", "hash dump", "buffer overflow",
				"code injection", "sql injection", "xss", "csrf", "directory traversal", "file inclusion",
			}},
			{Name: "network_attacks", ThreatType: "network_attack", BaseScore: 0.6, Patterns: []string{
				"port scan", "vulnerability scan", "brute force", "dos attack", "ddos", "man in the middle",
				"arp spoofing", "dns poisoning", "packet injection",
			}},
			{Name: "system_compromise", ThreatType: "system_compromise", BaseScore: 0.9, Patterns: []string{
				"malware", "virus", "trojan", "ransomware", "keylogger", "spyware", "adware", "botnet",
				"c2 server", "command and control", "exfiltration",
			}},
			{Name: "auth_failures", ThreatType: "authentication_attack", BaseScore: 0.5, Patterns: []string{
				"failed login", "authentication failed", "invalid credentials", "access denied",
				"unauthorized access", "permission denied", "login attempt", "brute force",
			}},
		},
		AssetRules: []AssetRuleDef{
			{Name: "domain_controller", Substrings: []string{"dc", "domain"}, Multiplier: 2.0},
			{Name: "database_server", Substrings: []string{"db", "sql"}, Multiplier: 1.8},
			{Name: "file_server", Substrings: []string{"file", "share"}, Multiplier: 1.5},
			{Name: "web_server", Substrings: []string{"web", "iis"}, Multiplier: 1.3},
			{Name: "test_system", Substrings: []string{"test", "dev"}, Multiplier: 0.8},
		},
		DefaultAsset: 1.0,
		VulnIndicators: []string{
			"failed", "error", "denied", "blocked", "suspicious", "malware", "virus", "trojan", "backdoor", "exploit",
		},
		AdminTerms:    []string{"admin"},
		AdminNames:    []string{"administrator", "root", "sa"},
		IgnoredUsers:  []string{"system", "anonymous", "$"},
		CriticalTypes: []string{"system_compromise", "active_attack", "ransomware", "malware"},
		Container: ContainerDef{
			ThreatType:   "container_attack",
			BaseScore:    0.5,
			Indicator:    "Container attack context",
			SourceMarker: "attackcontainer",
		},
	}
}

var (
	defaultOnce sync.Once
	defaultLib  *Library
)

// Default returns the shared built-in library. The library is immutable.
func Default() *Library {
	defaultOnce.Do(func() {
		defaultLib = MustCompile(DefaultDefinition())
	})
	return defaultLib
}
