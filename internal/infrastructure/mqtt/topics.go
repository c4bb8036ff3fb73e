package mqtt

import (
	"fmt"
	"strings"
)

// Topic segments with a fixed meaning below the owner level.
const (
	// segmentIngest carries one-way uploads that are never mirrored back.
	segmentIngest = "ingest"

	// segmentClients carries per-client presence.
	segmentClients = "clients"
)

// Topics provides builders for devicesync MQTT topics.
//
// Record topics use the scheme: {prefix}/{owner}/{type}/{id}
//
// Usage:
//
//	t := mqtt.Topics{Prefix: "devicesync"}
//	topic := t.Record("user-1", "Device", "4f1c...")
//	// Returns: "devicesync/user-1/Device/4f1c..."
type Topics struct {
	Prefix string
}

// Record returns the retained topic holding the latest state of one record.
//
// Example: devicesync/user-1/Device/4f1c...
func (t Topics) Record(owner, recordType, id string) string {
	return fmt.Sprintf("%s/%s/%s/%s", t.Prefix, owner, recordType, id)
}

// Collection returns a pattern matching every record of a type for an owner.
//
// Pattern: devicesync/user-1/Device/+
func (t Topics) Collection(owner, recordType string) string {
	return fmt.Sprintf("%s/%s/%s/+", t.Prefix, owner, recordType)
}

// Ingest returns the one-way upload topic for an asymmetric record type.
//
// Example: devicesync/user-1/ingest/SensorReading
func (t Topics) Ingest(owner, recordType string) string {
	return fmt.Sprintf("%s/%s/%s/%s", t.Prefix, owner, segmentIngest, recordType)
}

// ClientStatus returns the retained presence topic for an edge client.
//
// Example: devicesync/clients/edge-001/status
func (t Topics) ClientStatus(clientID string) string {
	return fmt.Sprintf("%s/%s/%s/status", t.Prefix, segmentClients, clientID)
}

// Owner returns a pattern matching every record topic of an owner.
// Use with caution - this includes the ingest stream.
//
// Pattern: devicesync/user-1/#
func (t Topics) Owner(owner string) string {
	return fmt.Sprintf("%s/%s/#", t.Prefix, owner)
}

// RecordTopic is a parsed record topic.
type RecordTopic struct {
	Owner string
	Type  string
	ID    string
}

// ParseRecord splits a record topic into its owner, type and id.
// It returns false for topics outside the prefix, ingest and presence
// topics, and topics with the wrong number of segments.
func (t Topics) ParseRecord(topic string) (RecordTopic, bool) {
	rest, ok := strings.CutPrefix(topic, t.Prefix+"/")
	if !ok {
		return RecordTopic{}, false
	}

	parts := strings.Split(rest, "/")
	if len(parts) != 3 {
		return RecordTopic{}, false
	}
	for _, p := range parts {
		if p == "" {
			return RecordTopic{}, false
		}
	}
	if parts[0] == segmentClients || parts[1] == segmentIngest {
		return RecordTopic{}, false
	}

	return RecordTopic{Owner: parts[0], Type: parts[1], ID: parts[2]}, true
}

// ValidSegment reports whether s can be used as a single topic level:
// non-empty and free of separators and wildcards.
func ValidSegment(s string) bool {
	return s != "" && !strings.ContainsAny(s, "/+#")
}
