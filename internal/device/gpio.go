// Package device drives the hardware around a wake cycle: the latching relay,
// the wake and no-sleep pins, the battery divider, the watchdog, the uplink
// and the wake alarm.
package device

import (
	"fmt"
	"sync"
	"time"

	"irrigation_controller/internal/models"

	"github.com/stianeikeland/go-rpio/v4"
)

// OpenGPIO maps the GPIO registers. The returned func releases them.
func OpenGPIO() (func() error, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("open gpio: %w", err)
	}
	return rpio.Close, nil
}

// OutputPin is the part of rpio.Pin the relay drives.
type OutputPin interface {
	High()
	Low()
}

// InputPin is the part of rpio.Pin the wake logic reads.
type InputPin interface {
	Read() rpio.State
}

// GPIORelay pulses one of the two coils of a latching relay. The contacts keep
// their position when both coils are released.
type GPIORelay struct {
	on    OutputPin
	off   OutputPin
	sleep func(time.Duration)
}

// NewGPIORelay configures both coil pins as outputs, released.
func NewGPIORelay(onPin, offPin int) *GPIORelay {
	on, off := rpio.Pin(onPin), rpio.Pin(offPin)
	on.Output()
	off.Output()
	on.Low()
	off.Low()
	return newRelay(on, off)
}

func newRelay(on, off OutputPin) *GPIORelay {
	return &GPIORelay{on: on, off: off, sleep: time.Sleep}
}

// SetLine energizes the coil of line for pulse, then releases it.
func (r *GPIORelay) SetLine(line models.Line, pulse time.Duration) error {
	var coil, other OutputPin
	switch line {
	case models.LineOn:
		coil, other = r.on, r.off
	case models.LineOff:
		coil, other = r.off, r.on
	default:
		return fmt.Errorf("relay: unknown line %d", line)
	}
	if pulse <= 0 {
		return fmt.Errorf("relay: pulse must be positive, got %s", pulse)
	}
	other.Low()
	coil.High()
	r.sleep(pulse)
	coil.Low()
	return nil
}

// EdgePin is an input that latches falling edges, like rpio.Pin with
// Detect(rpio.FallEdge) set. EdgeDetected clears the latch.
type EdgePin interface {
	InputPin
	EdgeDetected() bool
}

// Pins reads the wake button and the no-sleep jumper.
type Pins struct {
	wake    EdgePin
	noSleep InputPin
	alarm   *FileAlarm

	mu      sync.Mutex
	pressed bool
}

// NewPins configures the wake pin with a pull-up (the button pulls it low) and
// falling-edge detection, and the no-sleep pin with a pull-down (the jumper
// pulls it high).
func NewPins(wakePin, noSleepPin int, alarm *FileAlarm) *Pins {
	wake, noSleep := rpio.Pin(wakePin), rpio.Pin(noSleepPin)
	wake.Input()
	wake.PullUp()
	wake.Detect(rpio.FallEdge)
	noSleep.Input()
	noSleep.PullDown()
	return &Pins{wake: wake, noSleep: noSleep, alarm: alarm}
}

// Release turns off edge detection on the wake pin.
func (p *Pins) Release() {
	if pin, ok := p.wake.(rpio.Pin); ok {
		pin.Detect(rpio.NoEdge)
	}
}

// Reason tells a button press from an alarm wake. Anything else is treated
// as a fresh power-on. A press seen during the last sleep counts even when the
// button has been released since.
func (p *Pins) Reason() models.WakeReason {
	p.mu.Lock()
	pressed := p.pressed
	p.pressed = false
	p.mu.Unlock()
	if pressed || p.wake.Read() == rpio.Low {
		return models.WakePin
	}
	if p.alarm != nil && p.alarm.ArmedThisBoot() {
		return models.WakeAlarm
	}
	return models.WakePowerOn
}

// SleepEnabled is false while the no-sleep jumper is fitted.
func (p *Pins) SleepEnabled() bool {
	return p.noSleep.Read() == rpio.Low
}

// Arm forgets presses made while awake. Only a press after Arm ends a sleep.
func (p *Pins) Arm() {
	p.wake.EdgeDetected()
	p.mu.Lock()
	p.pressed = false
	p.mu.Unlock()
}

// Pressed reports a button press since Arm and remembers it for Reason.
func (p *Pins) Pressed() bool {
	if !p.wake.EdgeDetected() {
		return false
	}
	p.mu.Lock()
	p.pressed = true
	p.mu.Unlock()
	return true
}
