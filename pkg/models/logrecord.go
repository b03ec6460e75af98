package models

import (
	"fmt"
	"strings"
	"time"
)

// LogRecord is one heterogeneous endpoint log entry as delivered by a log source.
type LogRecord struct {
	AgentID          string                 `json:"agent_id"`
	Message          string                 `json:"message"`
	Source           string                 `json:"source"`
	Timestamp        time.Time              `json:"timestamp"`
	Level            string                 `json:"level,omitempty"`
	EventType        string                 `json:"event_type,omitempty"`
	RawData          string                 `json:"raw_data,omitempty"`
	Tags             []string               `json:"tags,omitempty"`
	ParsedData       map[string]interface{} `json:"parsed_data,omitempty"`
	NetworkInfo      map[string]interface{} `json:"network_info,omitempty"`
	ProcessInfo      map[string]interface{} `json:"process_info,omitempty"`
	EnrichedData     map[string]interface{} `json:"enriched_data,omitempty"`
	ContainerContext interface{}            `json:"container_context,omitempty"`

	Raw map[string]interface{} `json:"-"`
}

// Parsed returns a parsed_data field as a string.
func (r *LogRecord) Parsed(name string) string {
	if r == nil {
		return ""
	}
	return fieldString(r.ParsedData, name)
}

// Network returns a network_info field as a string.
func (r *LogRecord) Network(name string) string {
	if r == nil {
		return ""
	}
	return fieldString(r.NetworkInfo, name)
}

// Enriched returns an enriched_data field as a string.
func (r *LogRecord) Enriched(name string) string {
	if r == nil {
		return ""
	}
	return fieldString(r.EnrichedData, name)
}

// HasParsed reports whether parsed_data carries the named key.
func (r *LogRecord) HasParsed(name string) bool {
	if r == nil || r.ParsedData == nil {
		return false
	}
	_, ok := r.ParsedData[name]
	return ok
}

// HasContainerContext reports whether the record was produced inside an attack container.
func (r *LogRecord) HasContainerContext() bool {
	if r == nil {
		return false
	}
	if strings.Contains(strings.ToLower(r.Source), "attackcontainer") {
		return true
	}
	switch v := r.ContainerContext.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return strings.TrimSpace(v) != ""
	case map[string]interface{}:
		return len(v) > 0
	case []interface{}:
		return len(v) > 0
	case float64:
		return v != 0
	default:
		return true
	}
}

func fieldString(m map[string]interface{}, name string) string {
	if m == nil {
		return ""
	}
	v, ok := m[name]
	if !ok {
		return ""
	}
	switch val := v.(type) {
	case nil:
		return ""
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
	case bool:
		if val {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", val)
	}
}
