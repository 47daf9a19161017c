package mqtt

import "strings"

// TopicPrefix is the root of every router topic.
const TopicPrefix = "knxrouter"

// Topics builds the MQTT topics for one router instance.
//
//	topics := mqtt.NewTopics("router-001")
//	topics.Event("indication_received")
//	// Returns: "knxrouter/router-001/event/indication_received"
type Topics struct {
	RouterID string
}

// NewTopics returns the topic builder for routerID.
func NewTopics(routerID string) Topics {
	return Topics{RouterID: routerID}
}

func (t Topics) join(parts ...string) string {
	return TopicPrefix + "/" + t.RouterID + "/" + strings.Join(parts, "/")
}

// State is the retained operational state topic.
func (t Topics) State() string { return t.join("state") }

// Health is the retained health topic. It also carries the LWT.
func (t Topics) Health() string { return t.join("health") }

// Event is the topic for a single engine event type.
func (t Topics) Event(name string) string { return t.join("event", name) }

// AllEvents matches every event topic of this router.
func (t Topics) AllEvents() string { return t.join("event", "+") }

// Config receives routing mode and filter table updates.
func (t Topics) Config() string { return t.join("config") }

// Command receives restart and send requests.
func (t Topics) Command() string { return t.join("command") }

// Response carries command and config acknowledgements.
func (t Topics) Response() string { return t.join("response") }

// AllRouters matches every topic of every router on the broker.
func AllRouters() string { return TopicPrefix + "/#" }
