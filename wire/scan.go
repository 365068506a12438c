package wire

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/user/bluexfer/link"
	"github.com/user/bluexfer/logger"
	"github.com/user/bluexfer/util"
	"github.com/user/bluexfer/wire/advertising"
)

// StartScan begins reporting advertisers of service every scan interval.
// uuid.Nil reports every advertiser. Scanning again while already scanning
// is a no-op.
func (w *Wire) StartScan(service uuid.UUID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return ErrStopped
	}
	if w.scanStop != nil {
		return nil
	}

	stop := make(chan struct{})
	w.scanStop = stop
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.scanLoop(service, stop)
	}()
	logger.Debug(w.prefix, "🔍 scanning for %s", service)
	return nil
}

// StopScan stops scanning. It never waits for the scan goroutine.
func (w *Wire) StopScan() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.scanStop != nil {
		close(w.scanStop)
		w.scanStop = nil
		logger.Debug(w.prefix, "scan stopped")
	}
}

func (w *Wire) scanLoop(service uuid.UUID, stop <-chan struct{}) {
	for {
		w.scanOnce(service, stop)
		if !sleep(w.cfg.ScanInterval, stop, nil) {
			return
		}
	}
}

func (w *Wire) scanOnce(service uuid.UUID, stop <-chan struct{}) {
	matches, err := filepath.Glob(filepath.Join(w.socketDir, socketPrefix+"*"+socketSuffix))
	if err != nil {
		logger.Warn(w.prefix, "⚠️  scan failed: %v", err)
		return
	}
	for _, path := range matches {
		select {
		case <-stop:
			return
		default:
		}

		id := identityFromSocket(path)
		if id == "" || string(id) == w.cfg.DeviceID {
			continue
		}
		adv, err := w.readAdvertisement(id)
		if err != nil {
			logger.Trace(w.prefix, "no advertisement from %s: %v", id.Short(), err)
			continue
		}
		if service != uuid.Nil && !adv.HasService(service) {
			continue
		}
		rssi := w.sim.GenerateRSSI(w.cfg.DistanceMeters)
		logger.Trace(w.prefix, "📡 saw %s %q rssi=%d", id.Short(), adv.LocalName, rssi)
		w.ev().CandidateDiscovered(id, rssi, adv)
	}
}

// Advertisement returns what this device advertises.
func (w *Wire) Advertisement() link.Advertisement {
	return link.Advertisement{
		LocalName:     w.cfg.DeviceName,
		ServiceUUIDs:  []uuid.UUID{w.cfg.Service},
		IsConnectable: w.cfg.Advertise,
		CentralRole:   w.cfg.CentralRole,
	}
}

func (w *Wire) publishAdvertisement() error {
	ind, rsp, err := advertising.Build(advertising.AddressFor(w.cfg.DeviceID), w.Advertisement())
	if err != nil {
		return fmt.Errorf("wire: build advertisement: %w", err)
	}
	raw, err := advertising.Marshal(ind, rsp)
	if err != nil {
		return fmt.Errorf("wire: encode advertisement: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(w.advPath), 0755); err != nil {
		return fmt.Errorf("wire: %w", err)
	}
	tmp := w.advPath + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return fmt.Errorf("wire: write advertisement: %w", err)
	}
	return os.Rename(tmp, w.advPath)
}

func (w *Wire) readAdvertisement(id link.Identity) (link.Advertisement, error) {
	raw, err := os.ReadFile(filepath.Join(util.GetDeviceDir(w.cfg.DataDir, string(id)), advertisingBin))
	if err != nil {
		return link.Advertisement{}, err
	}
	ind, rsp, err := advertising.Unmarshal(raw)
	if err != nil {
		return link.Advertisement{}, err
	}
	return advertising.Parse(ind, rsp)
}
