//go:build integration

package mqtt

import (
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/devicesync/internal/infrastructure/config"
)

// Integration tests against a real broker.
// These tests require a running MQTT broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func integrationConfig(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: clientID,
		},
		QoS:         1,
		TopicPrefix: "devicesync-int",
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func TestIntegration_Connect(t *testing.T) {
	client, err := Connect(integrationConfig("devicesync-int-connect"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close() //nolint:errcheck // Test cleanup

	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
}

// TestIntegration_DialAppliesOfflineSubscriptions subscribes before the
// connection is up and expects retained records published afterwards to
// arrive once Dial has connected.
func TestIntegration_DialAppliesOfflineSubscriptions(t *testing.T) {
	sub := Dial(integrationConfig("devicesync-int-dial"))
	defer sub.Close() //nolint:errcheck // Test cleanup

	topics := sub.Topics()
	owner := "owner-" + time.Now().Format("150405.000000")

	var mu sync.Mutex
	received := make(map[string]string)
	done := make(chan struct{}, 1)

	err := sub.Subscribe(topics.Collection(owner, "Device"), 1, func(topic string, payload []byte) error {
		mu.Lock()
		received[topic] = string(payload)
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() before connect error = %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for !sub.IsConnected() {
		if time.Now().After(deadline) {
			t.Fatal("Dial() did not connect within 5s")
		}
		time.Sleep(20 * time.Millisecond)
	}

	pub, err := Connect(integrationConfig("devicesync-int-pub"))
	if err != nil {
		t.Fatalf("Connect() publisher error = %v", err)
	}
	defer pub.Close() //nolint:errcheck // Test cleanup

	topic := topics.Record(owner, "Device", "d-1")
	if err := pub.Publish(topic, []byte(`{"name":"lamp"}`), 1, true); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	// Clear the retained record again.
	defer pub.Publish(topic, nil, 1, true) //nolint:errcheck // Test cleanup

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("no message received within 5s")
	}

	mu.Lock()
	defer mu.Unlock()
	if received[topic] != `{"name":"lamp"}` {
		t.Errorf("received[%q] = %q", topic, received[topic])
	}
}
