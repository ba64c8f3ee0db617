// Package coordinator tracks the connection state of a single Tuya BLE
// device. It turns the transport's connect, data and disconnect callbacks
// into a debounced connected/disconnected state, notifies observers when
// that state changes, and reports Fingerbot button presses to an event bus.
//
// Going up is immediate: any connect or data signal marks the device
// connected. Going down is debounced: a disconnect signal only takes effect
// if no connect or data signal arrives within the disconnect delay.
package coordinator

import (
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/tuya-ble-bridge/internal/catalog"
	"github.com/chaz8081/tuya-ble-bridge/internal/tuyable"
)

// DefaultDisconnectDelay is how long a disconnect must persist before the
// device is reported as disconnected.
const DefaultDisconnectDelay = 60 * time.Second

// ButtonBus receives Fingerbot button presses.
type ButtonBus interface {
	ButtonPressed(address, deviceID string)
}

// Options configures a Coordinator. Zero values select defaults.
type Options struct {
	DisconnectDelay time.Duration
	Scheduler       Scheduler
	// Product overrides the catalog lookup for the device.
	Product *catalog.ProductInfo
	Logger  *slog.Logger
}

// infoer is implemented by transports that expose full device metadata.
type infoer interface {
	Info() tuyable.Info
}

// Coordinator owns the connection state of one device. All methods are
// safe for concurrent use.
type Coordinator struct {
	dev     tuyable.Transport
	bus     ButtonBus
	product *catalog.ProductInfo
	delay   time.Duration
	sched   Scheduler
	logger  *slog.Logger

	mu           sync.Mutex
	disconnected bool
	pending      *pendingDisconnect
	closed       bool
	listeners    map[int]func()
	nextListener int

	unregister []func()
}

// pendingDisconnect identifies one scheduled debounce. The fire callback
// compares its own pointer against Coordinator.pending, so a cancelled
// debounce that still runs is a no-op.
type pendingDisconnect struct {
	timer Timer
}

// New creates a Coordinator for dev and registers its handlers with the
// transport. bus may be nil, in which case button presses are dropped.
func New(dev tuyable.Transport, bus ButtonBus, opts Options) *Coordinator {
	if opts.DisconnectDelay <= 0 {
		opts.DisconnectDelay = DefaultDisconnectDelay
	}
	if opts.Scheduler == nil {
		opts.Scheduler = WallClock()
	}
	if opts.Product != nil {
		opts.Product = opts.Product.Clone()
	} else if d, ok := dev.(infoer); ok {
		info := d.Info()
		opts.Product = catalog.Lookup(info.Category, info.ProductID)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	c := &Coordinator{
		dev:          dev,
		bus:          bus,
		product:      opts.Product,
		delay:        opts.DisconnectDelay,
		sched:        opts.Scheduler,
		logger:       opts.Logger.With("device_id", dev.DeviceID(), "address", catalog.FullAddress(dev.Address())),
		disconnected: true,
		listeners:    make(map[int]func()),
	}

	c.unregister = []func(){
		dev.RegisterConnectedCallback(c.handleConnected),
		dev.RegisterCallback(c.handleDataUpdate),
		dev.RegisterDisconnectedCallback(c.handleDisconnected),
	}

	c.logger.Debug("coordinator created")
	return c
}

// Connected reports whether the device is currently considered connected.
// A new coordinator reports false until the transport proves otherwise.
func (c *Coordinator) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.disconnected
}

// Address returns the device's BLE address.
func (c *Coordinator) Address() string { return c.dev.Address() }

// DeviceID returns the device's Tuya id.
func (c *Coordinator) DeviceID() string { return c.dev.DeviceID() }

// Product returns a copy of the product info used for button detection,
// or nil.
func (c *Coordinator) Product() *catalog.ProductInfo { return c.product.Clone() }

// AddListener registers fn to be called whenever the connection state
// changes. Listeners take no payload and should call Connected. The
// returned func removes the listener.
func (c *Coordinator) AddListener(fn func()) (remove func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// Close unregisters from the transport and cancels any pending debounce.
// Signals arriving after Close are ignored. Safe to call more than once.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.cancelPendingLocked()
	unregister := c.unregister
	c.unregister = nil
	c.mu.Unlock()

	for _, fn := range unregister {
		fn()
	}
	c.logger.Debug("coordinator closed")
}

func (c *Coordinator) handleConnected() {
	c.mu.Lock()
	changed := c.markConnectedLocked()
	c.mu.Unlock()

	if changed {
		c.notify()
	}
}

// markConnectedLocked cancels any pending debounce and reports whether the
// state flipped to connected. Caller must hold mu.
func (c *Coordinator) markConnectedLocked() bool {
	if c.closed {
		return false
	}
	c.cancelPendingLocked()
	if !c.disconnected {
		return false
	}
	c.disconnected = false
	c.logger.Debug("device connected")
	return true
}

func (c *Coordinator) cancelPendingLocked() {
	if c.pending == nil {
		return
	}
	c.pending.timer.Stop()
	c.pending = nil
}

func (c *Coordinator) handleDataUpdate(updates []tuyable.DataPoint) {
	c.mu.Lock()
	closed := c.closed
	changed := c.markConnectedLocked()
	c.mu.Unlock()

	if closed {
		return
	}
	if changed {
		c.notify()
	}

	fb := c.fingerbot()
	if fb == nil || c.bus == nil {
		return
	}
	for _, u := range updates {
		if u.ID == fb.Switch && u.ChangedByDevice {
			c.logger.Debug("fingerbot button pressed", "dp", u.ID)
			c.bus.ButtonPressed(c.dev.Address(), c.dev.DeviceID())
		}
	}
}

// fingerbot returns the Fingerbot descriptor when the product reports
// manual presses, nil otherwise.
func (c *Coordinator) fingerbot() *catalog.FingerbotInfo {
	if c.product == nil || c.product.Fingerbot == nil || c.product.Fingerbot.ManualControl == 0 {
		return nil
	}
	return c.product.Fingerbot
}

func (c *Coordinator) handleDisconnected() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.pending != nil {
		return
	}

	c.logger.Debug("device signaled disconnection, confirming after delay", "delay", c.delay)
	p := &pendingDisconnect{}
	// fire blocks on mu until p.timer is set.
	p.timer = c.sched.AfterFunc(c.delay, func() { c.fire(p) })
	c.pending = p
}

func (c *Coordinator) fire(p *pendingDisconnect) {
	c.mu.Lock()
	if c.pending != p {
		c.mu.Unlock()
		return
	}
	c.pending = nil
	c.disconnected = true
	c.mu.Unlock()

	c.logger.Debug("device disconnected due to inactivity")
	c.notify()
}

func (c *Coordinator) notify() {
	c.mu.Lock()
	fns := make([]func(), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
