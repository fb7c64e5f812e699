package device

import (
	"context"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
)

// Audio profile UUIDs (short form) that count as a connected headset.
var audioProfiles = []string{
	"00001108", // Headset
	"0000110b", // A2DP sink
	"0000111e", // Handsfree
}

const (
	bluezService  = "org.bluez"
	bluezDevice   = "org.bluez.Device1"
	getManagedObj = "org.freedesktop.DBus.ObjectManager.GetManagedObjects"
)

// BluetoothProbe reports whether an audio device is connected.
type BluetoothProbe interface {
	AudioConnected(ctx context.Context) (bool, error)
}

// managedObjects is the reply shape of ObjectManager.GetManagedObjects.
type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// bluezProbe asks BlueZ over the system bus.
type bluezProbe struct {
	mu   sync.Mutex
	conn *dbus.Conn
}

// NewBluezProbe returns a probe that connects to the system bus lazily.
func NewBluezProbe() BluetoothProbe {
	return &bluezProbe{}
}

func (p *bluezProbe) AudioConnected(ctx context.Context) (bool, error) {
	conn, err := p.connect()
	if err != nil {
		return false, err
	}

	var objects managedObjects
	call := conn.Object(bluezService, "/").CallWithContext(ctx, getManagedObj, 0)
	if err := call.Store(&objects); err != nil {
		p.reset()
		return false, err
	}
	return audioConnected(objects), nil
}

func (p *bluezProbe) connect() (*dbus.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil && p.conn.Connected() {
		return p.conn, nil
	}
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, err
	}
	p.conn = conn
	return conn, nil
}

func (p *bluezProbe) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

func audioConnected(objects managedObjects) bool {
	for _, ifaces := range objects {
		props, ok := ifaces[bluezDevice]
		if !ok {
			continue
		}
		if connected, _ := props["Connected"].Value().(bool); !connected {
			continue
		}
		uuids, _ := props["UUIDs"].Value().([]string)
		for _, u := range uuids {
			for _, prefix := range audioProfiles {
				if strings.HasPrefix(strings.ToLower(u), prefix) {
					return true
				}
			}
		}
	}
	return false
}
