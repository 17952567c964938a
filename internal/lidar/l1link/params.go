package l1link

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/scantrack/internal/config"
)

// Params is the sensor specification reported by PP.
type Params struct {
	Model     string `json:"model"`
	MinDist   int64  `json:"dmin"` // mm, smaller readings are error codes
	MaxDist   int64  `json:"dmax"` // mm
	Steps     int    `json:"ares"` // angular resolution, steps per revolution
	FirstStep int    `json:"amin"` // first measurable step
	LastStep  int    `json:"amax"` // last measurable step
	FrontStep int    `json:"afrt"` // step facing straight ahead
	ScanRPM   int    `json:"scan_rpm"`
}

// DefaultParams describes a UTM-30LX, used until the sensor reports its own.
func DefaultParams() Params {
	return Params{
		Model:     "UTM-30LX",
		MinDist:   23,
		MaxDist:   60000,
		Steps:     1440,
		FirstStep: 0,
		LastStep:  1080,
		FrontStep: 540,
		ScanRPM:   2400,
	}
}

// ParseParams reads a PP response. Unknown keys are ignored; missing keys
// keep their default.
func ParseParams(resp Response) (Params, error) {
	if resp.Command() != CmdParams {
		return Params{}, fmt.Errorf("%w: expected PP, got %q", ErrMalformed, resp.Echo)
	}
	p := DefaultParams()
	for _, line := range resp.Lines {
		key, value, ok := strings.Cut(strings.TrimSuffix(line, ";"), ":")
		if !ok {
			return Params{}, fmt.Errorf("%w: parameter line %q", ErrMalformed, line)
		}
		if key == "MODL" {
			p.Model = value
			continue
		}
		var dst *int
		switch key {
		case "ARES":
			dst = &p.Steps
		case "AMIN":
			dst = &p.FirstStep
		case "AMAX":
			dst = &p.LastStep
		case "AFRT":
			dst = &p.FrontStep
		case "SCAN":
			dst = &p.ScanRPM
		case "DMIN", "DMAX":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return Params{}, fmt.Errorf("%w: %s=%q", ErrMalformed, key, value)
			}
			if key == "DMIN" {
				p.MinDist = n
			} else {
				p.MaxDist = n
			}
			continue
		default:
			continue
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			return Params{}, fmt.Errorf("%w: %s=%q", ErrMalformed, key, value)
		}
		*dst = n
	}
	if p.Steps <= 0 || p.LastStep < p.FirstStep {
		return Params{}, fmt.Errorf("%w: steps=%d range=[%d,%d]", ErrMalformed, p.Steps, p.FirstStep, p.LastStep)
	}
	return p, nil
}

// ApplyTo overrides the sensor geometry in cfg with the reported values so
// the direction table matches the hardware.
func (p Params) ApplyTo(cfg *config.TuningConfig) {
	steps, front, first := p.Steps, p.FrontStep, p.FirstStep
	cfg.StepsPerRevolution = &steps
	cfg.FrontStep = &front
	cfg.FirstStep = &first
}

// MeasureCommand returns an MD request covering the full measurable range.
func (p Params) MeasureCommand() string {
	return MD(p.FirstStep, p.LastStep, 1, 0, 0)
}
