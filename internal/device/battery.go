package device

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const adcFullScale = 4096.0

// SysfsBattery reads the battery through a resistor divider on an IIO ADC
// channel.
type SysfsBattery struct {
	path    string
	samples int
	factor  float64
	ratio   float64
	read    func(string) ([]byte, error)
}

// NewSysfsBattery takes the raw channel file, the number of samples to
// average, the ADC correction factor and the divider resistors.
func NewSysfsBattery(path string, samples int, adcFactor, r1, r2 float64) (*SysfsBattery, error) {
	if r2 <= 0 {
		return nil, errors.New("battery: r2 must be positive")
	}
	if samples <= 0 {
		samples = 1
	}
	return &SysfsBattery{
		path:    path,
		samples: samples,
		factor:  adcFactor,
		ratio:   (r1 + r2) / r2,
		read:    os.ReadFile,
	}, nil
}

// ReadVoltage averages the raw samples and scales them to volts.
func (b *SysfsBattery) ReadVoltage() (float64, error) {
	var sum float64
	for i := 0; i < b.samples; i++ {
		raw, err := b.read(b.path)
		if err != nil {
			return 0, fmt.Errorf("battery: read %s: %w", b.path, err)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
		if err != nil {
			return 0, fmt.Errorf("battery: parse sample: %w", err)
		}
		sum += v
	}
	avg := sum / float64(b.samples)
	return avg / adcFullScale * b.factor * b.ratio, nil
}
