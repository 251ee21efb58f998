package bus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/e7canasta/ttsam-go/internal/types"
)

// MQTTConfig is the narrow slice of config this leg needs.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	ReportTopic string
	QoS         byte
	ConnectSecs int
	PublishSecs int
}

// MQTTBus publishes each Report as JSON to ReportTopic/<event_id>, mirroring
// the teacher's MQTTEmitter connect/reconnect/QoS bookkeeping.
type MQTTBus struct {
	cfg    MQTTConfig
	client mqtt.Client
	log    *slog.Logger

	mu        sync.RWMutex
	connected bool
	published uint64
	errors    uint64
}

// NewMQTTBus builds an MQTTBus that has not yet connected.
func NewMQTTBus(cfg MQTTConfig, log *slog.Logger) *MQTTBus {
	if log == nil {
		log = slog.Default()
	}
	return &MQTTBus{cfg: cfg, log: log}
}

// Connect dials the configured broker, with auto-reconnect enabled so a
// transient broker outage does not require the dispatcher to notice.
func (b *MQTTBus) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(b.cfg.Broker)
	opts.SetClientID(b.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		b.mu.Lock()
		b.connected = true
		b.mu.Unlock()
		b.log.Info("mqtt connection established", "broker", b.cfg.Broker, "client_id", b.cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		b.mu.Lock()
		b.connected = false
		b.mu.Unlock()
		b.log.Warn("mqtt connection lost, will auto-reconnect", "error", err, "broker", b.cfg.Broker)
	}

	b.client = mqtt.NewClient(opts)

	token := b.client.Connect()
	if !token.WaitTimeout(time.Duration(b.cfg.ConnectSecs) * time.Second) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()
	return nil
}

// Publish serializes report and publishes it to <ReportTopic>/<event_id>.
// Failures are logged and counted, never propagated: spec.md 4.4 treats
// publish errors as fire-and-forget.
func (b *MQTTBus) Publish(report types.Report) {
	if !b.isConnected() {
		b.bumpError()
		return
	}

	payload, err := json.Marshal(report)
	if err != nil {
		b.bumpError()
		b.log.Error("failed to marshal report for mqtt publish", "error", err, "event_id", report.EventID)
		return
	}

	topic := fmt.Sprintf("%s/%d", b.cfg.ReportTopic, report.EventID)
	token := b.client.Publish(topic, b.cfg.QoS, false, payload)
	if !token.WaitTimeout(time.Duration(b.cfg.PublishSecs) * time.Second) {
		b.bumpError()
		b.log.Warn("mqtt publish timeout", "topic", topic)
		return
	}
	if err := token.Error(); err != nil {
		b.bumpError()
		b.log.Warn("mqtt publish failed", "error", err, "topic", topic)
		return
	}

	b.mu.Lock()
	b.published++
	b.mu.Unlock()
}

// Disconnect closes the MQTT connection with a short grace period.
func (b *MQTTBus) Disconnect() {
	if b.client != nil && b.client.IsConnected() {
		b.client.Disconnect(250)
		b.log.Info("mqtt disconnected")
	}
	b.mu.Lock()
	b.connected = false
	b.mu.Unlock()
}

func (b *MQTTBus) isConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}

func (b *MQTTBus) bumpError() {
	b.mu.Lock()
	b.errors++
	b.mu.Unlock()
}

// Stats returns a snapshot of publish bookkeeping, for diagnostics.
func (b *MQTTBus) Stats() (published, errors uint64, connected bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.published, b.errors, b.connected
}
