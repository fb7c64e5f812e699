package device

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	appLog "standby/internal/log"
)

// ErrNoBattery means no battery source was found.
var ErrNoBattery = errors.New("device: no battery")

// Battery is one battery sample.
type Battery struct {
	// Percent is the charge level in 0..100.
	Percent int `json:"percent"`
	// Charging is true while external power is connected and charging.
	Charging bool `json:"charging"`
	// VoltageMv is the cell voltage in millivolts, 0 when unknown.
	VoltageMv int `json:"voltage_mv,omitempty"`
}

// BatteryReader samples the battery.
type BatteryReader interface {
	Read(ctx context.Context) (Battery, error)
}

// sysfsReader reads the first power_supply of type Battery, as exposed by
// laptops, phones running Linux and most UPS HATs with a kernel driver.
type sysfsReader struct {
	root string
}

// NewSysfsReader reads from root, normally /sys/class/power_supply.
func NewSysfsReader(root string) BatteryReader {
	if root == "" {
		root = "/sys/class/power_supply"
	}
	return &sysfsReader{root: root}
}

func (r *sysfsReader) Read(context.Context) (Battery, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return Battery{}, fmt.Errorf("device: read %s: %w", r.root, err)
	}
	for _, e := range entries {
		dir := filepath.Join(r.root, e.Name())
		if readAttr(dir, "type") != "Battery" {
			continue
		}
		pct, err := strconv.Atoi(readAttr(dir, "capacity"))
		if err != nil {
			continue
		}
		status := readAttr(dir, "status")
		mv := 0
		if uv, err := strconv.Atoi(readAttr(dir, "voltage_now")); err == nil {
			mv = uv / 1000
		}
		return Battery{
			Percent:   clampPercent(pct),
			Charging:  status == "Charging" || status == "Full",
			VoltageMv: mv,
		}, nil
	}
	return Battery{}, ErrNoBattery
}

func readAttr(dir, name string) string {
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// PiSugar3 registers.
const (
	pisugarAddr       = 0x57
	regPowerStatus    = 0x02 // bit 7: external power connected
	regVoltageHigh    = 0x22
	regVoltageLow     = 0x23
	regBatteryPercent = 0x2A
)

// i2cReader talks to a PiSugar3 battery controller over I2C.
type i2cReader struct {
	busName string
	addr    uint16

	initOnce sync.Once
	initErr  error
}

// NewI2CReader returns a reader for the controller at addr on busName ("" for
// the default bus, /dev/i2c-1 on a Raspberry Pi).
func NewI2CReader(busName string, addr uint16) BatteryReader {
	if addr == 0 {
		addr = pisugarAddr
	}
	return &i2cReader{busName: busName, addr: addr}
}

func (r *i2cReader) Read(context.Context) (Battery, error) {
	if runtime.GOOS != "linux" {
		return Battery{}, errors.New("device: i2c battery unavailable on this platform")
	}
	r.initOnce.Do(func() {
		_, r.initErr = host.Init()
	})
	if r.initErr != nil {
		return Battery{}, r.initErr
	}

	bus, err := i2creg.Open(r.busName)
	if err != nil {
		return Battery{}, err
	}
	defer bus.Close()

	dev := &i2c.Dev{Bus: bus, Addr: r.addr}
	readReg := func(reg byte) (byte, error) {
		buf := []byte{0}
		if err := dev.Tx([]byte{reg}, buf); err != nil {
			return 0, fmt.Errorf("device: i2c reg 0x%02x: %w", reg, err)
		}
		return buf[0], nil
	}

	high, err := readReg(regVoltageHigh)
	if err != nil {
		return Battery{}, err
	}
	low, err := readReg(regVoltageLow)
	if err != nil {
		return Battery{}, err
	}
	pct, err := readReg(regBatteryPercent)
	if err != nil {
		return Battery{}, err
	}
	power, err := readReg(regPowerStatus)
	if err != nil {
		return Battery{}, err
	}

	return Battery{
		Percent:   clampPercent(int(pct)),
		Charging:  power&0x80 != 0,
		VoltageMv: int(uint16(high)<<8 | uint16(low)),
	}, nil
}

// mockReader drains slowly and recharges, for development without hardware.
type mockReader struct {
	mu       sync.Mutex
	rnd      *rand.Rand
	percent  int
	charging bool
}

// NewMockReader returns a fake battery.
func NewMockReader() BatteryReader {
	return &mockReader{rnd: rand.New(rand.NewSource(time.Now().UnixNano())), percent: 80}
}

func (m *mockReader) Read(context.Context) (Battery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	step := 1 + m.rnd.Intn(2)
	if m.charging {
		m.percent += step
	} else {
		m.percent -= step
	}
	switch {
	case m.percent >= 100:
		m.percent, m.charging = 100, false
	case m.percent <= 20:
		m.percent, m.charging = 20, true
	}
	return Battery{Percent: m.percent, Charging: m.charging}, nil
}

// NewBatteryReader picks a reader by kind: "sysfs", "i2c", "mock", "none" or
// "auto". Auto probes sysfs, then PiSugar over I2C, then gives up. A nil
// reader means battery reporting is off.
func NewBatteryReader(ctx context.Context, kind string) BatteryReader {
	switch kind {
	case "sysfs":
		return NewSysfsReader("")
	case "i2c":
		return NewI2CReader("", pisugarAddr)
	case "mock":
		return NewMockReader()
	case "none":
		return nil
	}

	for _, r := range []BatteryReader{NewSysfsReader(""), NewI2CReader("", pisugarAddr)} {
		if _, err := r.Read(ctx); err == nil {
			return r
		}
	}
	appLog.Info("no battery found; battery reporting disabled")
	return nil
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
