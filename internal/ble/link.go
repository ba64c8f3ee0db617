package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chaz8081/tuya-ble-bridge/internal/tuyable"
)

// LinkOptions configures a Link.
type LinkOptions struct {
	ReconnectMax   int           // max reconnect backoff in seconds
	ConnectTimeout time.Duration // per-attempt connect timeout
}

// DefaultLinkOptions returns sensible defaults.
func DefaultLinkOptions() LinkOptions {
	return LinkOptions{
		ReconnectMax:   30,
		ConnectTimeout: 20 * time.Second,
	}
}

// Link keeps a BLE connection to one Tuya device and dispatches connection
// changes to the device's registered callbacks.
type Link struct {
	adapter Adapter
	dev     *tuyable.Device
	opts    LinkOptions

	mu        sync.Mutex
	conn      Connection
	connected bool

	reconnecting atomic.Bool
	closed       chan struct{}
	closeOnce    sync.Once
}

// NewLink creates a link for dev.
func NewLink(adapter Adapter, dev *tuyable.Device, opts LinkOptions) *Link {
	def := DefaultLinkOptions()
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = def.ReconnectMax
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = def.ConnectTimeout
	}
	return &Link{
		adapter: adapter,
		dev:     dev,
		opts:    opts,
		closed:  make(chan struct{}),
	}
}

// Connect establishes the initial connection. On failure the caller may
// call Start to keep retrying in the background.
func (l *Link) Connect(ctx context.Context) error {
	if err := l.adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, l.opts.ConnectTimeout)
	defer cancel()
	conn, err := l.adapter.Connect(ctx, l.dev.Address())
	if err != nil {
		return fmt.Errorf("ble: connect to %s: %w", l.dev.Address(), err)
	}
	if err := l.setConnected(conn); err != nil {
		_ = conn.Disconnect()
		return err
	}

	slog.Info("[BLE] connected", "mac", l.dev.Address())
	return nil
}

// Start runs the reconnect loop in the background unless it is already
// running or the link is connected.
func (l *Link) Start() {
	if l.isConnected() {
		return
	}
	if l.reconnecting.CompareAndSwap(false, true) {
		go l.reconnectLoop()
	}
}

// Connected reports whether the link currently holds a connection.
func (l *Link) Connected() bool { return l.isConnected() }

func (l *Link) isConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

// setConnected checks that conn exposes the Tuya notify characteristic,
// subscribes to it and dispatches the connected signal.
func (l *Link) setConnected(conn Connection) error {
	notifyChar, err := conn.DiscoverCharacteristic(GATTServiceUUID, NotifyCharUUID)
	if err != nil {
		return fmt.Errorf("ble: discover notify characteristic: %w", err)
	}
	if err := notifyChar.Subscribe(l.handleNotification); err != nil {
		return fmt.Errorf("ble: subscribe to notifications: %w", err)
	}

	l.mu.Lock()
	l.conn = conn
	l.connected = true
	l.mu.Unlock()

	conn.OnDisconnect(l.handleDisconnect)
	l.dev.DispatchConnected()
	return nil
}

// Frames are encrypted; decoding them is the protocol layer's job.
func (l *Link) handleNotification(data []byte) {
	slog.Debug("[BLE] notification", "mac", l.dev.Address(), "bytes", len(data))
}

func (l *Link) handleDisconnect() {
	l.mu.Lock()
	l.connected = false
	l.conn = nil
	l.mu.Unlock()

	l.dev.DispatchDisconnected()

	select {
	case <-l.closed:
		return
	default:
	}

	slog.Warn("[BLE] disconnected, reconnecting...", "mac", l.dev.Address())
	if l.reconnecting.CompareAndSwap(false, true) {
		go l.reconnectLoop()
	}
}

// Close stops reconnecting and disconnects.
func (l *Link) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })

	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()

	if conn != nil {
		return conn.Disconnect()
	}
	return nil
}

// backoffDelay returns the reconnection delay for attempt n, capped at maxSeconds.
func backoffDelay(attempt int, maxSeconds int) time.Duration {
	max := time.Duration(maxSeconds) * time.Second
	if attempt >= 30 {
		return max
	}
	delay := time.Duration(1<<uint(attempt)) * time.Second
	if delay > max {
		return max
	}
	return delay
}

// reconnectLoop retries with exponential backoff until connected or closed.
func (l *Link) reconnectLoop() {
	defer l.reconnecting.Store(false)

	for attempt := 0; ; attempt++ {
		// The first attempt is immediate.
		if attempt > 0 {
			delay := backoffDelay(attempt-1, l.opts.ReconnectMax)
			slog.Info("[BLE] reconnect backoff", "mac", l.dev.Address(), "attempt", attempt+1, "delay", delay)
			select {
			case <-l.closed:
				return
			case <-time.After(delay):
			}
		}

		select {
		case <-l.closed:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), l.opts.ConnectTimeout)
		conn, err := l.adapter.Connect(ctx, l.dev.Address())
		cancel()
		if err != nil {
			slog.Warn("[BLE] reconnect failed", "mac", l.dev.Address(), "error", err, "attempt", attempt+1)
			continue
		}

		if err := l.setConnected(conn); err != nil {
			slog.Warn("[BLE] reconnect setup failed", "mac", l.dev.Address(), "error", err, "attempt", attempt+1)
			_ = conn.Disconnect()
			continue
		}

		slog.Info("[BLE] reconnected", "mac", l.dev.Address())
		return
	}
}
