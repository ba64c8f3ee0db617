package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/chaz8081/tuya-ble-bridge/internal/config"
	"github.com/chaz8081/tuya-ble-bridge/internal/events"
	"github.com/chaz8081/tuya-ble-bridge/internal/integration"
)

// Connectivity payloads.
const (
	PayloadOn  = "ON"
	PayloadOff = "OFF"
)

// publishClient is the subset of autopaho.ConnectionManager the publisher
// needs; tests substitute a recorder.
type publishClient interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// Publisher mirrors device coordinators and button events to MQTT.
type Publisher struct {
	cfg        config.MQTTConfig
	instanceID string
	manager    *integration.Manager
	bus        *events.Bus
	logger     *slog.Logger

	connMu  sync.Mutex
	cm      *autopaho.ConnectionManager
	stopped bool

	mu    sync.Mutex
	dirty map[string]*integration.Registration // keyed by address
	wake  chan struct{}
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to begin. Devices must be registered with manager before Start.
func New(cfg config.MQTTConfig, instanceID string, manager *integration.Manager, bus *events.Bus, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:        cfg,
		instanceID: instanceID,
		manager:    manager,
		bus:        bus,
		logger:     logger,
		dirty:      make(map[string]*integration.Registration),
		wake:       make(chan struct{}, 1),
	}
}

// Start connects to the broker and forwards state changes and button
// presses until ctx is cancelled. It returns at once if Stop was already
// called.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	// Listeners go in before the first connection so no transition falls
	// between OnConnectionUp's snapshot and the loop.
	buttons, unwatch := p.watch()
	defer unwatch()

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   p.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishDiscovery(ctx, cm)
			p.publishAvailability(ctx, cm, "online")
			p.publishAllStates(ctx, cm)
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "tuya-ble-" + p.instanceID,
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	p.connMu.Lock()
	if p.stopped {
		p.connMu.Unlock()
		return nil
	}
	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		p.connMu.Unlock()
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm
	p.connMu.Unlock()

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	p.loop(ctx, cm, buttons)
	return nil
}

// Stop publishes "offline" and disconnects. Safe to call concurrently with
// Start; a later Start does not connect.
func (p *Publisher) Stop(ctx context.Context) error {
	p.connMu.Lock()
	p.stopped = true
	cm := p.cm
	p.connMu.Unlock()

	if cm == nil {
		return nil
	}
	p.publishAvailability(ctx, cm, "offline")
	return cm.Disconnect(ctx)
}

// connection returns the connection manager, or nil before Start.
func (p *Publisher) connection() *autopaho.ConnectionManager {
	p.connMu.Lock()
	defer p.connMu.Unlock()
	return p.cm
}

// watch registers coordinator listeners and the bus subscription.
// Listeners only mark the device dirty, so they never block on the broker.
func (p *Publisher) watch() (<-chan events.Event, func()) {
	var removers []func()
	for _, reg := range p.manager.Registrations() {
		removers = append(removers, reg.Coordinator.AddListener(func() { p.markDirty(reg) }))
	}

	var buttons <-chan events.Event
	if p.bus != nil {
		ch := p.bus.Subscribe(64)
		removers = append(removers, func() { p.bus.Unsubscribe(ch) })
		buttons = ch
	}

	return buttons, func() {
		for _, remove := range removers {
			remove()
		}
	}
}

func (p *Publisher) loop(ctx context.Context, client publishClient, buttons <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.wake:
			p.flushDirty(ctx, client)
		case ev, ok := <-buttons:
			if !ok {
				buttons = nil
				continue
			}
			if ev.Kind == events.KindFingerbotButton {
				p.publishButton(ctx, client, ev)
			}
		}
	}
}

func (p *Publisher) markDirty(reg *integration.Registration) {
	p.mu.Lock()
	p.dirty[reg.Device.Address()] = reg
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Publisher) flushDirty(ctx context.Context, client publishClient) {
	p.mu.Lock()
	dirty := p.dirty
	p.dirty = make(map[string]*integration.Registration)
	p.mu.Unlock()

	for _, reg := range dirty {
		p.publishState(ctx, client, reg)
	}
}

// --- Topic helpers ---

func (p *Publisher) availabilityTopic() string {
	return p.cfg.BaseTopic + "/bridge/availability"
}

func (p *Publisher) stateTopic(address string) string {
	return p.cfg.BaseTopic + "/" + nodeID(address) + "/connectivity"
}

func (p *Publisher) buttonTopic(address string) string {
	return p.cfg.BaseTopic + "/" + nodeID(address) + "/button"
}

func (p *Publisher) discoveryTopic(component, address, object string) string {
	return p.cfg.DiscoveryPrefix + "/" + component + "/" + nodeID(address) + "/" + object + "/config"
}

// --- Discovery ---

func (p *Publisher) connectivityConfig(reg *integration.Registration) BinarySensorConfig {
	entity := integration.NewEntity(reg, "connectivity")
	return BinarySensorConfig{
		Name:              "Connectivity",
		ObjectID:          "connectivity",
		HasEntityName:     true,
		UniqueID:          entity.UniqueID(),
		StateTopic:        p.stateTopic(reg.Device.Address()),
		AvailabilityTopic: p.availabilityTopic(),
		DeviceClass:       "connectivity",
		PayloadOn:         PayloadOn,
		PayloadOff:        PayloadOff,
		EntityCategory:    "diagnostic",
		Device:            NewDeviceInfo(entity.Device(), reg.Device.Address()),
	}
}

// buttonTrigger returns the device trigger config for Fingerbots that
// report manual presses.
func (p *Publisher) buttonTrigger(reg *integration.Registration) (TriggerConfig, bool) {
	product := reg.Coordinator.Product()
	if product == nil || product.Fingerbot == nil || product.Fingerbot.ManualControl == 0 {
		return TriggerConfig{}, false
	}
	return TriggerConfig{
		AutomationType: "trigger",
		Topic:          p.buttonTopic(reg.Device.Address()),
		Type:           "button_short_press",
		Subtype:        "button_1",
		Device:         NewDeviceInfo(reg.Info, reg.Device.Address()),
	}, true
}

func (p *Publisher) publishDiscovery(ctx context.Context, client publishClient) {
	for _, reg := range p.manager.Registrations() {
		addr := reg.Device.Address()
		p.publishJSON(ctx, client, p.discoveryTopic("binary_sensor", addr, "connectivity"), p.connectivityConfig(reg))
		if trig, ok := p.buttonTrigger(reg); ok {
			p.publishJSON(ctx, client, p.discoveryTopic("device_automation", addr, "button_short_press"), trig)
		}
	}
}

func (p *Publisher) publishJSON(ctx context.Context, client publishClient, topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		p.logger.Error("mqtt marshal discovery payload", "topic", topic, "error", err)
		return
	}
	if _, err := client.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt discovery publish failed", "topic", topic, "error", err)
	} else {
		p.logger.Debug("mqtt discovery published", "topic", topic)
	}
}

func (p *Publisher) publishAvailability(ctx context.Context, client publishClient, status string) {
	if _, err := client.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
	} else {
		p.logger.Info("mqtt availability published", "status", status)
	}
}

// --- State ---

func (p *Publisher) publishAllStates(ctx context.Context, client publishClient) {
	for _, reg := range p.manager.Registrations() {
		p.publishState(ctx, client, reg)
	}
}

func (p *Publisher) publishState(ctx context.Context, client publishClient, reg *integration.Registration) {
	state := PayloadOff
	if reg.Coordinator.Connected() {
		state = PayloadOn
	}
	topic := p.stateTopic(reg.Device.Address())
	if _, err := client.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: []byte(state),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt state publish failed", "topic", topic, "error", err)
		return
	}
	p.logger.Debug("mqtt state published", "topic", topic, "state", state)
}

type buttonPayload struct {
	Address  string `json:"address"`
	DeviceID string `json:"device_id"`
}

func (p *Publisher) publishButton(ctx context.Context, client publishClient, ev events.Event) {
	addr, _ := ev.Data[events.KeyAddress].(string)
	deviceID, _ := ev.Data[events.KeyDeviceID].(string)
	if addr == "" {
		p.logger.Warn("mqtt button event without address", "data", ev.Data)
		return
	}

	payload, err := json.Marshal(buttonPayload{Address: addr, DeviceID: deviceID})
	if err != nil {
		p.logger.Error("mqtt marshal button payload", "error", err)
		return
	}
	topic := p.buttonTopic(addr)
	if _, err := client.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     1,
	}); err != nil {
		p.logger.Warn("mqtt button publish failed", "topic", topic, "error", err)
		return
	}
	p.logger.Info("fingerbot button press published", "address", addr, "device_id", deviceID)
}
