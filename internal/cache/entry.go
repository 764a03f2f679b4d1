package cache

import (
	"encoding/json"
	"strconv"
	"time"
)

// Entry is the per-key metadata record kept alongside every cached value
// under "<namespace>:<key>:meta". The schema is fixed: values stay opaque
// JSON while metadata never drifts shape.
type Entry struct {
	Key            string    `json:"key"`
	TTLSeconds     int       `json:"ttlSeconds"`
	CreatedAt      time.Time `json:"createdAt"`
	AccessCount    int64     `json:"accessCount"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
	Tags           []string  `json:"tags,omitempty"`
}

const (
	metaFieldTTL          = "ttlSeconds"
	metaFieldCreatedAt    = "createdAt"
	metaFieldAccessCount  = "accessCount"
	metaFieldLastAccessed = "lastAccessedAt"
	metaFieldTags         = "tags"
)

// fields returns the hash representation written at set time.
func (e Entry) fields() map[string]string {
	tags := "[]"
	if len(e.Tags) > 0 {
		if data, err := json.Marshal(e.Tags); err == nil {
			tags = string(data)
		}
	}
	return map[string]string{
		metaFieldTTL:          strconv.Itoa(e.TTLSeconds),
		metaFieldCreatedAt:    e.CreatedAt.UTC().Format(time.RFC3339Nano),
		metaFieldAccessCount:  strconv.FormatInt(e.AccessCount, 10),
		metaFieldLastAccessed: e.LastAccessedAt.UTC().Format(time.RFC3339Nano),
		metaFieldTags:         tags,
	}
}

// entryFromFields rebuilds an Entry from its hash representation. Unparseable
// fields fall back to zero values rather than failing the read.
func entryFromFields(key string, fields map[string]string) Entry {
	entry := Entry{Key: key}
	if v, err := strconv.Atoi(fields[metaFieldTTL]); err == nil {
		entry.TTLSeconds = v
	}
	if t, err := time.Parse(time.RFC3339Nano, fields[metaFieldCreatedAt]); err == nil {
		entry.CreatedAt = t
	}
	if v, err := strconv.ParseInt(fields[metaFieldAccessCount], 10, 64); err == nil {
		entry.AccessCount = v
	}
	if t, err := time.Parse(time.RFC3339Nano, fields[metaFieldLastAccessed]); err == nil {
		entry.LastAccessedAt = t
	}
	if raw := fields[metaFieldTags]; raw != "" {
		var tags []string
		if err := json.Unmarshal([]byte(raw), &tags); err == nil {
			entry.Tags = tags
		}
	}
	return entry
}
