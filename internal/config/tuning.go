package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// Crop methods understood by the constraint table.
const (
	CropRadius = "radius"
	CropRect   = "rect"
)

// Position estimation modes.
const (
	PositionMedian  = "median"
	PositionAverage = "average"
)

// TuningConfig represents the root configuration for tuning parameters.
// The schema matches the /api/scan/params endpoint so the same JSON can be
// used for both startup configuration and runtime inspection.
type TuningConfig struct {
	// Sensor geometry
	StepsPerRevolution *int `json:"steps_per_revolution,omitempty"`
	FrontStep          *int `json:"front_step,omitempty"`
	FirstStep          *int `json:"first_step,omitempty"`

	// Field-of-view constraint
	CropMethod       *string  `json:"crop_method,omitempty"` // "radius" or "rect"
	MaxDetectionDist *int64   `json:"max_detection_dist,omitempty"`
	DetectRectWidth  *float64 `json:"detect_rect_width,omitempty"`
	DetectRectHeight *float64 `json:"detect_rect_height,omitempty"`

	// Frame conditioning
	SmoothDistanceCurve *bool    `json:"smooth_distance_curve,omitempty"`
	SmoothKernelSize    *int     `json:"smooth_kernel_size,omitempty"`
	SmoothByTime        *bool    `json:"smooth_by_time,omitempty"`
	TimeSmoothFactor    *float64 `json:"time_smooth_factor,omitempty"`

	// Clustering and position estimation
	ClusterMargin *int64  `json:"cluster_margin,omitempty"`
	NoiseLimit    *int    `json:"noise_limit,omitempty"`
	PositionMode  *string `json:"position_mode,omitempty"` // "median" or "average"
	EstimateSize  *bool   `json:"estimate_size,omitempty"`

	// Tracker params
	DistanceThresholdForMerge *float64 `json:"distance_threshold_for_merge,omitempty"`
	MissingFrameLimit         *int     `json:"missing_frame_limit,omitempty"`
	UseSmoothing              *bool    `json:"use_smoothing,omitempty"`
	SmoothTime                *string  `json:"smooth_time,omitempty"` // duration string like "300ms"
	MaxSmoothSpeed            *float64 `json:"max_smooth_speed,omitempty"`
	DefaultWidth              *float64 `json:"default_width,omitempty"`
	MaxTracks                 *int     `json:"max_tracks,omitempty"`

	// Frame timing
	FrameInterval    *string `json:"frame_interval,omitempty"`
	MaxFrameInterval *string `json:"max_frame_interval,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Every Get* accessor then yields its built-in default.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted from
// the JSON file fall back to their defaults, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches the current directory and its parents, and panics if the file
// cannot be loaded. Intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	prefix := ""
	for i := 0; i < 6; i++ {
		if cfg, err := LoadTuningConfig(prefix + DefaultConfigPath); err == nil {
			return cfg
		}
		prefix += "../"
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid. A non-nil error is
// a configuration fault: the pipeline must not start with it.
func (c *TuningConfig) Validate() error {
	if c.StepsPerRevolution != nil && *c.StepsPerRevolution <= 0 {
		return fmt.Errorf("steps_per_revolution must be positive, got %d", *c.StepsPerRevolution)
	}
	if c.CropMethod != nil && *c.CropMethod != CropRadius && *c.CropMethod != CropRect {
		return fmt.Errorf("crop_method must be %q or %q, got %q", CropRadius, CropRect, *c.CropMethod)
	}
	if c.MaxDetectionDist != nil && *c.MaxDetectionDist <= 0 {
		return fmt.Errorf("max_detection_dist must be positive, got %d", *c.MaxDetectionDist)
	}
	if c.DetectRectWidth != nil && !(*c.DetectRectWidth > 0) {
		return fmt.Errorf("detect_rect_width must be positive, got %f", *c.DetectRectWidth)
	}
	if c.DetectRectHeight != nil && !(*c.DetectRectHeight > 0) {
		return fmt.Errorf("detect_rect_height must be positive, got %f", *c.DetectRectHeight)
	}
	if c.SmoothKernelSize != nil && *c.SmoothKernelSize < 1 {
		return fmt.Errorf("smooth_kernel_size must be at least 1, got %d", *c.SmoothKernelSize)
	}
	if c.TimeSmoothFactor != nil && (*c.TimeSmoothFactor <= 0 || *c.TimeSmoothFactor > 1) {
		return fmt.Errorf("time_smooth_factor must be in (0, 1], got %f", *c.TimeSmoothFactor)
	}
	if c.ClusterMargin != nil && *c.ClusterMargin < 0 {
		return fmt.Errorf("cluster_margin must be non-negative, got %d", *c.ClusterMargin)
	}
	if c.NoiseLimit != nil && *c.NoiseLimit < 1 {
		return fmt.Errorf("noise_limit must be at least 1, got %d", *c.NoiseLimit)
	}
	if c.PositionMode != nil && *c.PositionMode != PositionMedian && *c.PositionMode != PositionAverage {
		return fmt.Errorf("position_mode must be %q or %q, got %q", PositionMedian, PositionAverage, *c.PositionMode)
	}
	if c.DistanceThresholdForMerge != nil && *c.DistanceThresholdForMerge < 0 {
		return fmt.Errorf("distance_threshold_for_merge must be non-negative, got %f", *c.DistanceThresholdForMerge)
	}
	if c.MissingFrameLimit != nil && *c.MissingFrameLimit < 1 {
		return fmt.Errorf("missing_frame_limit must be at least 1, got %d", *c.MissingFrameLimit)
	}
	if c.MaxTracks != nil && *c.MaxTracks < 0 {
		return fmt.Errorf("max_tracks must be non-negative, got %d", *c.MaxTracks)
	}
	if c.MaxSmoothSpeed != nil && *c.MaxSmoothSpeed <= 0 {
		return fmt.Errorf("max_smooth_speed must be positive, got %f", *c.MaxSmoothSpeed)
	}
	for name, v := range map[string]*string{
		"smooth_time":        c.SmoothTime,
		"frame_interval":     c.FrameInterval,
		"max_frame_interval": c.MaxFrameInterval,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	return nil
}

// GetStepsPerRevolution returns the steps_per_revolution value or the default.
func (c *TuningConfig) GetStepsPerRevolution() int {
	if c.StepsPerRevolution == nil {
		return 1440
	}
	return *c.StepsPerRevolution
}

// GetFrontStep returns the front_step value or the default.
func (c *TuningConfig) GetFrontStep() int {
	if c.FrontStep == nil {
		return 540
	}
	return *c.FrontStep
}

// GetFirstStep returns the first_step value or the default.
func (c *TuningConfig) GetFirstStep() int {
	if c.FirstStep == nil {
		return 0
	}
	return *c.FirstStep
}

// GetCropMethod returns the crop_method value or the default.
func (c *TuningConfig) GetCropMethod() string {
	if c.CropMethod == nil || *c.CropMethod == "" {
		return CropRadius
	}
	return *c.CropMethod
}

// GetMaxDetectionDist returns the max_detection_dist value or the default.
func (c *TuningConfig) GetMaxDetectionDist() int64 {
	if c.MaxDetectionDist == nil {
		return 7000
	}
	return *c.MaxDetectionDist
}

// GetDetectRectWidth returns the detect_rect_width value or the default.
func (c *TuningConfig) GetDetectRectWidth() float64 {
	if c.DetectRectWidth == nil {
		return 4000
	}
	return *c.DetectRectWidth
}

// GetDetectRectHeight returns the detect_rect_height value or the default.
func (c *TuningConfig) GetDetectRectHeight() float64 {
	if c.DetectRectHeight == nil {
		return 3000
	}
	return *c.DetectRectHeight
}

// GetSmoothDistanceCurve returns the smooth_distance_curve value or the default.
func (c *TuningConfig) GetSmoothDistanceCurve() bool {
	if c.SmoothDistanceCurve == nil {
		return false
	}
	return *c.SmoothDistanceCurve
}

// GetSmoothKernelSize returns the smooth_kernel_size value or the default.
func (c *TuningConfig) GetSmoothKernelSize() int {
	if c.SmoothKernelSize == nil {
		return 21
	}
	return *c.SmoothKernelSize
}

// GetSmoothByTime returns the smooth_by_time value or the default.
func (c *TuningConfig) GetSmoothByTime() bool {
	if c.SmoothByTime == nil {
		return false
	}
	return *c.SmoothByTime
}

// GetTimeSmoothFactor returns the time_smooth_factor value or the default.
func (c *TuningConfig) GetTimeSmoothFactor() float64 {
	if c.TimeSmoothFactor == nil {
		return 0.5
	}
	return *c.TimeSmoothFactor
}

// GetClusterMargin returns the cluster_margin value or the default.
func (c *TuningConfig) GetClusterMargin() int64 {
	if c.ClusterMargin == nil {
		return 20
	}
	return *c.ClusterMargin
}

// GetNoiseLimit returns the noise_limit value or the default.
func (c *TuningConfig) GetNoiseLimit() int {
	if c.NoiseLimit == nil {
		return 7
	}
	return *c.NoiseLimit
}

// GetPositionMode returns the position_mode value or the default.
func (c *TuningConfig) GetPositionMode() string {
	if c.PositionMode == nil || *c.PositionMode == "" {
		return PositionMedian
	}
	return *c.PositionMode
}

// GetEstimateSize returns the estimate_size value or the default.
func (c *TuningConfig) GetEstimateSize() bool {
	if c.EstimateSize == nil {
		return false
	}
	return *c.EstimateSize
}

// GetDistanceThresholdForMerge returns the distance_threshold_for_merge value or the default.
func (c *TuningConfig) GetDistanceThresholdForMerge() float64 {
	if c.DistanceThresholdForMerge == nil {
		return 300
	}
	return *c.DistanceThresholdForMerge
}

// GetMissingFrameLimit returns the missing_frame_limit value or the default.
func (c *TuningConfig) GetMissingFrameLimit() int {
	if c.MissingFrameLimit == nil {
		return 10
	}
	return *c.MissingFrameLimit
}

// GetUseSmoothing returns the use_smoothing value or the default.
func (c *TuningConfig) GetUseSmoothing() bool {
	if c.UseSmoothing == nil {
		return true
	}
	return *c.UseSmoothing
}

// GetSmoothTime parses and returns the SmoothTime as a time.Duration.
func (c *TuningConfig) GetSmoothTime() time.Duration {
	return parseDurationOr(c.SmoothTime, 300*time.Millisecond)
}

// GetMaxSmoothSpeed returns the max_smooth_speed value, or +Inf when unset.
func (c *TuningConfig) GetMaxSmoothSpeed() float64 {
	if c.MaxSmoothSpeed == nil {
		return math.Inf(1)
	}
	return *c.MaxSmoothSpeed
}

// GetDefaultWidth returns the default_width value or the default.
func (c *TuningConfig) GetDefaultWidth() float64 {
	if c.DefaultWidth == nil {
		return 100
	}
	return *c.DefaultWidth
}

// GetMaxTracks returns the max_tracks value or the default (0, unlimited).
func (c *TuningConfig) GetMaxTracks() int {
	if c.MaxTracks == nil {
		return 0
	}
	return *c.MaxTracks
}

// GetFrameInterval parses and returns the FrameInterval as a time.Duration.
func (c *TuningConfig) GetFrameInterval() time.Duration {
	return parseDurationOr(c.FrameInterval, 25*time.Millisecond)
}

// GetMaxFrameInterval parses and returns the MaxFrameInterval as a time.Duration.
func (c *TuningConfig) GetMaxFrameInterval() time.Duration {
	return parseDurationOr(c.MaxFrameInterval, 250*time.Millisecond)
}

func parseDurationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}
