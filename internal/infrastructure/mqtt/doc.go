// Package mqtt provides MQTT client connectivity for the devicesync transport.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support, tracked while offline
//   - Last Will and Testament (LWT) for offline detection
//
// # Architecture
//
// Each record lives on a retained topic owned by its partition:
//
//	{prefix}/{owner}/{type}/{id}
//
// Edge clients subscribe to {prefix}/{owner}/{type}/+ for the record types
// they mirror and publish local changes to the same topics. Append-only
// readings go to {prefix}/{owner}/ingest/{type} and are never retained.
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Broker ACLs should restrict each user to its own owner subtree
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client := mqtt.Dial(cfg.MQTT)
//	defer client.Close()
//
//	topics := client.Topics()
//	err := client.Subscribe(topics.Collection(owner, "Device"), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
package mqtt
