package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/user/bluexfer/archive"
	"github.com/user/bluexfer/config"
	"github.com/user/bluexfer/coordinator"
	"github.com/user/bluexfer/eventfeed"
	"github.com/user/bluexfer/link"
	"github.com/user/bluexfer/logger"
	"github.com/user/bluexfer/payload"
	"github.com/user/bluexfer/util"
	"github.com/user/bluexfer/wire"
)

// device is one running node with its radio and optional sinks.
type device struct {
	cfg    config.Config
	prefix string

	radio *wire.Wire
	node  *coordinator.Node
	bus   *eventfeed.Bus
	store *archive.Store
	feed  *http.Server
}

// startDevice assembles and starts a node from a validated config. Extra
// observers are registered next to the logging one.
func startDevice(ctx context.Context, cfg config.Config, observers ...coordinator.Observer) (*device, error) {
	d := &device{cfg: cfg, prefix: util.ShortHash(cfg.DeviceID) + " App"}

	greeting, err := payload.Load(cfg.PayloadFile, cfg.PayloadEncoding)
	if err != nil {
		return nil, err
	}

	opts, err := cfg.NodeOptions()
	if err != nil {
		return nil, err
	}
	opts.Greeting = greeting

	radio, err := wire.New(cfg.WireConfig())
	if err != nil {
		return nil, fmt.Errorf("create radio: %w", err)
	}
	d.radio = radio

	observers = append([]coordinator.Observer{d.logObserver()}, observers...)
	if cfg.ArchivePath != "" {
		store, err := archive.Open(cfg.DeviceID, cfg.ArchivePath)
		if err != nil {
			return nil, err
		}
		d.store = store
		observers = append(observers, store)
	}
	if cfg.EventsAddr != "" {
		d.bus = eventfeed.NewBus()
		observers = append(observers, d.bus)
	}

	d.node = coordinator.NewNode(radio, opts, observers...)
	radio.SetEvents(d.node)

	if err := d.node.Start(ctx); err != nil {
		d.close()
		return nil, err
	}
	if err := radio.Start(); err != nil {
		d.close()
		return nil, fmt.Errorf("start radio: %w", err)
	}

	if d.bus != nil {
		if err := d.serveFeed(); err != nil {
			d.close()
			return nil, err
		}
	}

	logger.Info(d.prefix, "🚀 %s up (%s), payload %d bytes %s", radio.Config().DeviceName, cfg.DeviceID, len(greeting), cfg.PayloadEncoding)
	return d, nil
}

func (d *device) serveFeed() error {
	ln, err := net.Listen("tcp", d.cfg.EventsAddr)
	if err != nil {
		return fmt.Errorf("event feed: %w", err)
	}
	d.feed = &http.Server{
		Handler:           eventfeed.NewHandler(d.node, d.bus),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := d.feed.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(d.prefix, "event feed: %v", err)
		}
	}()
	logger.Info(d.prefix, "📡 event feed on http://%s", ln.Addr())
	return nil
}

// close shuts everything down in dependency order.
func (d *device) close() {
	if d.feed != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		d.feed.Shutdown(ctx)
		cancel()
	}
	if d.node != nil {
		d.node.Close()
	}
	if d.radio != nil {
		d.radio.Stop()
	}
	if d.store != nil {
		d.store.Close()
	}
}

// reloadPayload re-reads the payload file, makes it the greeting for new
// peers and sends it to every ready one.
func (d *device) reloadPayload(ctx context.Context) error {
	msg, err := payload.Load(d.cfg.PayloadFile, d.cfg.PayloadEncoding)
	if err != nil {
		return err
	}
	d.node.SetGreeting(msg)
	n := d.node.Broadcast(ctx, msg)
	logger.Info(d.prefix, "🔁 payload reloaded (%d bytes), sent to %d peer(s)", len(msg), n)
	return nil
}

func (d *device) logObserver() coordinator.Observer {
	return coordinator.ObserverFuncs{
		StateChanged: func(c coordinator.StateChange) {
			if c.Cause != nil {
				logger.Debug(d.prefix, "%s %s -> %s (%s): %v", c.Endpoint.Short(), c.From, c.To, c.Event, c.Cause)
				return
			}
			logger.Debug(d.prefix, "%s %s -> %s (%s)", c.Endpoint.Short(), c.From, c.To, c.Event)
		},
		MessageReceived: func(id link.Identity, msg []byte) {
			doc, err := payload.Decode(msg, d.cfg.PayloadEncoding)
			if err != nil {
				doc = msg
			}
			if subject := payload.Subject(doc); subject != "" {
				logger.Info(d.prefix, "📨 presentation from %s (%d bytes), subject %q", id.Short(), len(msg), subject)
			} else {
				logger.Info(d.prefix, "📨 message from %s (%d bytes)", id.Short(), len(msg))
			}
			logger.Debug(d.prefix, "%s", payload.Render(doc))
		},
		SendComplete: func(id link.Identity, size int) {
			logger.Info(d.prefix, "📤 sent %d bytes to %s", size, id.Short())
		},
		CandidateDiscovered: func(id link.Identity, rssi int, adv link.Advertisement) {
			if !d.cfg.AutoConnect {
				logger.Info(d.prefix, "🔎 candidate %s %q at %d dBm", id.Short(), adv.LocalName, rssi)
			}
		},
	}
}
