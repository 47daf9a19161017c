// Package router connects the KNXnet/IP routing engine to MQTT, Prometheus
// and InfluxDB.
//
// # Architecture
//
//	┌──────────────┐  events   ┌──────────────┐   MQTT   ┌──────────────┐
//	│   routing    │──────────►│    Bridge    │◄────────►│    Broker    │
//	│    Engine    │◄──────────│  (this pkg)  │          └──────────────┘
//	└──────────────┘  control  └──────┬───────┘
//	                                  │ metrics / points
//	                                  ▼
//	                        Prometheus, InfluxDB
//
// # Topics
//
//	knxrouter/{id}/state            retained StateMessage
//	knxrouter/{id}/health           retained HealthMessage (and LWT)
//	knxrouter/{id}/event/{event}    EventMessage per engine event
//	knxrouter/{id}/config           ConfigMessage (inbound)
//	knxrouter/{id}/command          CommandMessage (inbound)
//	knxrouter/{id}/response         AckMessage for config and commands
//
// Busy, lost message and error events are alarms: they are published with
// QoS 1 and limited by a token bucket.
//
// Events are converted to messages on the engine's dispatch path and
// published from a separate goroutine through a bounded queue.
package router
