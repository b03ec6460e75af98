package topology

import (
	"net/netip"
	"regexp"
	"strconv"
	"strings"
	"time"

	"socgraph/internal/logger"
	"socgraph/internal/patterns"
	"socgraph/pkg/models"
)

var log = logger.Named("topology")

var (
	ipPattern      = regexp.MustCompile(`\b(?:[0-9]{1,3}\.){3}[0-9]{1,3}\b`)
	portPattern    = regexp.MustCompile(`:(\d+)\b`)
	systemdPattern = regexp.MustCompile(`(\w+)\.service`)

	authPatterns = []*regexp.Regexp{
		regexp.MustCompile(`user[:\s]+(\w+)`),
		regexp.MustCompile(`logon[:\s]+(\w+)`),
		regexp.MustCompile(`login[:\s]+(\w+)`),
		regexp.MustCompile(`for\s+user\s+(\w+)`),
	}

	connectionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`connect(?:ed|ion).*?to\s+([0-9.]+)`),
		regexp.MustCompile(`from\s+([0-9.]+).*?to\s+([0-9.]+)`),
		regexp.MustCompile(`established.*?([0-9.]+):(\d+)`),
		regexp.MustCompile(`listening.*?on\s+([0-9.]+):(\d+)`),
	}
)

var (
	hostnameFields = []string{"hostname", "computer", "computer_name"}
	userFields     = []string{"user", "username", "target_user", "logon_user"}
	macFields      = []string{"mac", "mac_address", "source_mac"}
)

// Features are the facts one log record contributes to its node.
type Features struct {
	AgentID   string
	Timestamp time.Time

	Hostname  string
	Domain    string
	Platform  string
	OSVersion string

	IPs        []string
	MACs       []string
	Ports      []int
	Services   []string
	Users      []string
	AdminUsers []string
	Outbound   []string
	Inbound    []string

	VulnHits int
}

// Extractor pulls topology facts out of heterogeneous log records.
type Extractor struct {
	lib *patterns.Library
}

// NewExtractor creates an extractor backed by lib.
func NewExtractor(lib *patterns.Library) *Extractor {
	return &Extractor{lib: lib}
}

// Extract never fails: a field that cannot be parsed is left empty.
func (e *Extractor) Extract(rec *models.LogRecord) Features {
	f := Features{}
	if rec == nil {
		return f
	}
	f.AgentID = strings.TrimSpace(rec.AgentID)
	f.Timestamp = rec.Timestamp

	e.field("system", rec, func() { e.extractSystem(rec, &f) })
	e.field("connections", rec, func() { e.extractConnections(rec, &f) })
	e.field("services", rec, func() { e.extractServices(rec, &f) })
	e.field("users", rec, func() { e.extractUsers(rec, &f) })
	e.field("security", rec, func() { f.VulnHits = e.lib.VulnerabilityHits(rec.Message) })
	return f
}

func (e *Extractor) field(name string, rec *models.LogRecord, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Debugf("skip %s fields (agent_id=%s): %v", name, rec.AgentID, r)
		}
	}()
	fn()
}

func (e *Extractor) extractSystem(rec *models.LogRecord, f *Features) {
	source := strings.ToLower(rec.Source)
	switch {
	case rec.Enriched("platform") != "":
		f.Platform = rec.Enriched("platform")
	case strings.Contains(source, "windows"):
		f.Platform = "Windows"
	case strings.Contains(source, "linux"):
		f.Platform = "Linux"
	}
	if v := firstNonEmpty(rec.Enriched("os_version"), rec.Parsed("os_version")); v != "" {
		f.OSVersion = v
	}

	for _, name := range hostnameFields {
		if v := strings.TrimSpace(rec.Parsed(name)); v != "" {
			f.Hostname = v
			break
		}
	}
	f.Domain = strings.TrimSpace(rec.Parsed("domain"))

	for _, name := range macFields {
		if v := strings.TrimSpace(rec.Network(name)); v != "" {
			f.MACs = append(f.MACs, strings.ToLower(v))
		}
	}

	for _, candidate := range ipPattern.FindAllString(rec.Message, -1) {
		if ip, ok := hostIP(candidate); ok {
			f.IPs = append(f.IPs, ip)
		}
	}
}

func (e *Extractor) extractConnections(rec *models.LogRecord, f *Features) {
	for _, m := range portPattern.FindAllStringSubmatch(rec.RawData, -1) {
		port, err := strconv.Atoi(m[1])
		if err != nil || port < 1 || port > 65535 {
			continue
		}
		f.Ports = append(f.Ports, port)
	}

	src, srcOK := validIP(rec.Network("source_ip"))
	dst, dstOK := validIP(rec.Network("destination_ip"))
	inbound := strings.EqualFold(rec.Network("direction"), "inbound")
	switch {
	case inbound:
		if ip, ok := hostIP(dst); dstOK && ok {
			f.IPs = append(f.IPs, ip)
		}
		if srcOK {
			f.Inbound = append(f.Inbound, src)
		}
	default:
		if ip, ok := hostIP(src); srcOK && ok {
			f.IPs = append(f.IPs, ip)
		}
		if dstOK {
			if srcOK {
				f.Outbound = append(f.Outbound, dst)
			} else if ip, ok := hostIP(dst); ok {
				f.IPs = append(f.IPs, ip)
			}
		}
	}

	message := strings.ToLower(rec.Message)
	for _, re := range connectionPatterns {
		for _, m := range re.FindAllStringSubmatch(message, -1) {
			for _, group := range m[1:] {
				if ip, ok := validIP(group); ok && !isPrivate(ip) {
					f.Outbound = append(f.Outbound, ip)
				}
			}
		}
	}
}

func (e *Extractor) extractServices(rec *models.LogRecord, f *Features) {
	f.Services = append(f.Services, e.lib.MatchServices(rec.Message, rec.RawData)...)

	source := strings.ToLower(rec.Source)
	if strings.Contains(source, "windows") && rec.EventType == "service" {
		if name := strings.TrimSpace(rec.Parsed("service_name")); name != "" {
			f.Services = append(f.Services, strings.ToLower(name))
		}
	}
	message := strings.ToLower(rec.Message)
	if strings.Contains(source, "linux") && strings.Contains(message, "systemd") {
		if m := systemdPattern.FindStringSubmatch(message); m != nil {
			f.Services = append(f.Services, m[1])
		}
	}
}

func (e *Extractor) extractUsers(rec *models.LogRecord, f *Features) {
	for _, name := range userFields {
		username := strings.TrimSpace(rec.Parsed(name))
		if username == "" || e.lib.IsIgnoredUser(username) {
			continue
		}
		f.Users = append(f.Users, username)
		if e.lib.IsAdminUser(username) {
			f.AdminUsers = append(f.AdminUsers, username)
		}
	}

	message := strings.ToLower(rec.Message)
	if !strings.Contains(message, "authentication") && !strings.Contains(message, "logon") {
		return
	}
	for _, re := range authPatterns {
		m := re.FindStringSubmatch(message)
		if m == nil {
			continue
		}
		if username := m[1]; len(username) > 2 && !e.lib.IsIgnoredUser(username) {
			f.Users = append(f.Users, username)
		}
	}
}

// ApplyTo merges the features into node. Evidence sets are only ever added to.
func (f Features) ApplyTo(n *NetworkNode) {
	if f.Hostname != "" {
		n.Hostname = f.Hostname
	}
	if f.Domain != "" {
		n.Domain = f.Domain
	}
	if f.Platform != "" {
		n.Platform = f.Platform
	}
	if f.OSVersion != "" {
		n.OSVersion = f.OSVersion
	}
	if f.Timestamp.After(n.LastActivity) {
		n.LastActivity = f.Timestamp
	}

	for _, ip := range f.IPs {
		n.IPAddresses.Add(ip)
		if n.Subnet == "" {
			n.Subnet = subnetOf(ip)
		}
		if n.SecurityZone == ZoneUnknown {
			if zone := zoneOf(ip); zone != "" {
				n.SecurityZone = zone
			}
		}
	}
	for _, mac := range f.MACs {
		n.MACAddresses.Add(mac)
	}
	for _, p := range f.Ports {
		n.OpenPorts.Add(p)
	}
	for _, s := range f.Services {
		n.RunningServices.Add(s)
	}
	for _, u := range f.Users {
		n.LoggedUsers.Add(u)
	}
	for _, u := range f.AdminUsers {
		n.AdminUsers.Add(u)
	}
	for _, ip := range f.Outbound {
		n.OutboundConnections.Add(ip)
	}
	for _, ip := range f.Inbound {
		n.InboundConnections.Add(ip)
	}
	if f.VulnHits > 0 {
		n.VulnerabilityScore += float64(f.VulnHits) * 0.1
		if n.VulnerabilityScore > 1.0 {
			n.VulnerabilityScore = 1.0
		}
	}
}

func validIP(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return "", false
	}
	return addr.String(), true
}

// hostIP accepts addresses that can belong to a host: no loopback, no 0.0.0.0/8.
func hostIP(s string) (string, bool) {
	ip, ok := validIP(s)
	if !ok {
		return "", false
	}
	if strings.HasPrefix(ip, "127.") || strings.HasPrefix(ip, "0.") {
		return "", false
	}
	addr, _ := netip.ParseAddr(ip)
	if addr.IsLoopback() || addr.IsUnspecified() {
		return "", false
	}
	return ip, true
}

func isPrivate(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	return addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast() || addr.IsUnspecified()
}

func subnetOf(ip string) string {
	addr, err := netip.ParseAddr(ip)
	if err != nil || !addr.Is4() || !isPrivate(ip) {
		return ""
	}
	prefix, err := addr.Prefix(24)
	if err != nil {
		return ""
	}
	return prefix.String()
}

func zoneOf(ip string) string {
	switch {
	case strings.HasPrefix(ip, "192.168."):
		return ZoneInternal
	case strings.HasPrefix(ip, "10."):
		return ZoneCorporate
	case strings.HasPrefix(ip, "172."):
		return ZoneDMZ
	case !isPrivate(ip):
		return ZoneExternal
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
