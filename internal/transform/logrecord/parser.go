package logrecord

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"socgraph/internal/logger"
	"socgraph/pkg/models"
)

var log = logger.Named("logrecord")

// Parse converts one JSON log record into a LogRecord.
func Parse(data []byte) (*models.LogRecord, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return FromMap(raw), nil
}

// FromMap normalizes a decoded log record. Both the flat collector layout
// (agent_id, parsed_data, ...) and beat-style nested keys are accepted.
// Malformed fields are omitted, never reported.
func FromMap(raw map[string]interface{}) *models.LogRecord {
	rec := &models.LogRecord{
		Raw: raw,
	}

	rec.AgentID = getString(raw, "agent_id", "agent.id", "agentId")
	rec.Message = getString(raw, "message", "msg")
	rec.Source = getString(raw, "source", "log.source", "event.provider")
	rec.Level = getString(raw, "level", "log.level")
	rec.EventType = getString(raw, "event_type", "event.type")
	rec.RawData = getString(raw, "raw_data", "event.original")
	rec.Tags = getStrings(raw, "tags")

	rec.ParsedData = getMap(raw, "parsed_data")
	rec.NetworkInfo = getMap(raw, "network_info")
	rec.ProcessInfo = getMap(raw, "process_info")
	rec.EnrichedData = getMap(raw, "enriched_data")
	if v, ok := getPath(raw, "container_context"); ok {
		rec.ContainerContext = v
	}

	// beat-style hostname lands where the extractor looks for it
	if host := getString(raw, "host.name", "host.hostname"); host != "" && !rec.HasParsed("hostname") {
		if rec.ParsedData == nil {
			rec.ParsedData = make(map[string]interface{})
		}
		rec.ParsedData["hostname"] = host
	}

	if v, ok := getPath(raw, "timestamp"); ok {
		rec.Timestamp = parseTimestamp(v)
	} else if v, ok := getPath(raw, "@timestamp"); ok {
		rec.Timestamp = parseTimestamp(v)
	}
	if rec.Timestamp.IsZero() {
		log.Debugf("record without usable timestamp (agent_id=%s)", rec.AgentID)
	}
	return rec
}

func parseTimestamp(v interface{}) time.Time {
	switch val := v.(type) {
	case string:
		if t, ok := ParseTime(val); ok {
			return t
		}
	case float64:
		if val > 0 && !math.IsInf(val, 0) && !math.IsNaN(val) {
			sec, frac := math.Modf(val)
			return time.Unix(int64(sec), int64(frac*1e9)).UTC()
		}
	case int64:
		if val > 0 {
			return time.Unix(val, 0).UTC()
		}
	}
	return time.Time{}
}

// ParseTime accepts RFC 3339 and the naive ISO-8601 layouts collectors emit.
// Naive values are taken as UTC.
func ParseTime(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}

	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			if t.IsZero() {
				return time.Time{}, false
			}
			return t.UTC(), true
		}
	}

	for _, layout := range []string{
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.UTC(), true
		}
	}

	return time.Time{}, false
}

func getString(root map[string]interface{}, paths ...string) string {
	for _, path := range paths {
		if v, ok := getPath(root, path); ok {
			switch val := v.(type) {
			case string:
				return val
			case fmt.Stringer:
				return val.String()
			case int:
				return fmt.Sprintf("%d", val)
			case int64:
				return fmt.Sprintf("%d", val)
			case float64:
				if val == float64(int64(val)) {
					return fmt.Sprintf("%d", int64(val))
				}
				return fmt.Sprintf("%f", val)
			}
		}
	}
	return ""
}

func getStrings(root map[string]interface{}, path string) []string {
	v, ok := getPath(root, path)
	if !ok {
		return nil
	}
	switch val := v.(type) {
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return val
	case string:
		if val == "" {
			return nil
		}
		parts := strings.Split(val, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return nil
}

// getMap returns a nested object. Objects stored as JSON text are decoded.
func getMap(root map[string]interface{}, path string) map[string]interface{} {
	v, ok := getPath(root, path)
	if !ok {
		return nil
	}
	switch val := v.(type) {
	case map[string]interface{}:
		return val
	case string:
		if strings.TrimSpace(val) == "" {
			return nil
		}
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(val), &m); err != nil {
			log.Debugf("drop undecodable %s: %v", path, err)
			return nil
		}
		return m
	}
	return nil
}

func getPath(root map[string]interface{}, path string) (interface{}, bool) {
	if v, ok := root[path]; ok {
		return v, true
	}
	parts := strings.Split(path, ".")
	if len(parts) == 1 {
		return nil, false
	}
	var current interface{} = root
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, ok := m[part]
		if !ok {
			return nil, false
		}
		current = v
	}
	return current, true
}
