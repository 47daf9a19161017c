// Package mqtt provides the router's MQTT connection.
//
// The router publishes its state, health and engine events to a broker and
// accepts configuration and commands from it. This package handles the
// connection itself:
//   - Auto-reconnect with backoff and subscription restore
//   - Publishing with QoS and size validation
//   - Last Will on the health topic for offline detection
//
// # Topics
//
//	knxrouter/{id}/state          retained operational state
//	knxrouter/{id}/health         retained health, online/offline, LWT
//	knxrouter/{id}/event/{event}  engine events
//	knxrouter/{id}/config         routing mode and filter table updates (in)
//	knxrouter/{id}/command        restart and send requests (in)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, cfg.Router.ID)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().Command(), 1,
//	    func(topic string, payload []byte) error {
//	        return handleCommand(payload)
//	    })
//
// Use TLS (mqtt.broker.tls) outside of local development.
package mqtt
