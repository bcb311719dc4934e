// Package edge runs the on-site collector: config loading, per-camera
// workers, the heartbeat loop, and graceful shutdown.
package edge

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/samber/lo"
	"gopkg.in/yaml.v2"

	"github.com/winklabs/storepulse/internal/detector"
	"github.com/winklabs/storepulse/internal/geometry"
	"github.com/winklabs/storepulse/internal/pipeline"
)

// Config is the operator-authored edge configuration.
type Config struct {
	APIBase string `yaml:"api_base"`
	APIKey  string `yaml:"api_key"`
	OrgID   string `yaml:"org_id"`
	StoreID string `yaml:"store_id"`

	BatchSeconds   float64 `yaml:"batch_seconds"`
	MaxBatch       int     `yaml:"max_batch"`
	BackoffBase    float64 `yaml:"backoff_base"`
	BackoffMax     float64 `yaml:"backoff_max"`
	BufferDir      string  `yaml:"buffer_dir"`
	HeartbeatEvery float64 `yaml:"heartbeat_seconds"`

	Cameras []CameraConfig `yaml:"cameras"`
}

// CameraConfig describes one camera: stream source, enabled capabilities, and
// the geometry drawn on the reference screenshot.
type CameraConfig struct {
	CameraID string `yaml:"camera_id"`
	RTSP     string `yaml:"rtsp"`
	// Detections is where the inference sidecar publishes tracked detections
	// as JSON lines: tcp://host:port, unix:///path.sock, or a file path for
	// replay. The collector never touches the RTSP stream itself.
	Detections     string         `yaml:"detections"`
	Capabilities   []string       `yaml:"capabilities"`
	ScreenshotSize geometry.Size  `yaml:"screenshot_size"`
	Geometry       GeometryConfig `yaml:"geometry"`
}

// GeometryConfig is raw polygon data in screenshot coordinates. Points are
// [x, y] pairs as the calibration tool exports them.
type GeometryConfig struct {
	Entrance [][]float64            `yaml:"entrance"`
	Zones    map[string][][]float64 `yaml:"zones"`
	Shelves  map[string][][]float64 `yaml:"shelves"`
	Queue    map[string][][]float64 `yaml:"queue"`
}

// LoadConfig reads the YAML config and applies environment overrides, then
// validates. Env vars win over file values so a fleet can share one file and
// differ only in credentials.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("API_BASE"); v != "" {
		c.APIBase = v
	}
	if v := os.Getenv("EDGE_API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("ORG_ID"); v != "" {
		c.OrgID = v
	}
	if v := os.Getenv("STORE_ID"); v != "" {
		c.StoreID = v
	}
	if v := os.Getenv("BUFFER_DIR"); v != "" {
		c.BufferDir = v
	}
	if v, err := strconv.ParseFloat(os.Getenv("BATCH_SECONDS"), 64); err == nil && v > 0 {
		c.BatchSeconds = v
	}
	if v, err := strconv.Atoi(os.Getenv("MAX_BATCH")); err == nil && v > 0 {
		c.MaxBatch = v
	}
	if v, err := strconv.ParseFloat(os.Getenv("BACKOFF_BASE"), 64); err == nil && v > 0 {
		c.BackoffBase = v
	}
	if v, err := strconv.ParseFloat(os.Getenv("BACKOFF_MAX"), 64); err == nil && v > 0 {
		c.BackoffMax = v
	}
}

// Validate rejects configs the supervisor cannot safely run with.
func (c *Config) Validate() error {
	if c.APIBase == "" {
		return fmt.Errorf("api_base is required")
	}
	if c.APIKey == "" {
		return fmt.Errorf("api_key is required")
	}
	if c.OrgID == "" || c.StoreID == "" {
		return fmt.Errorf("org_id and store_id are required")
	}
	if len(c.Cameras) == 0 {
		return fmt.Errorf("at least one camera is required")
	}

	ids := lo.Map(c.Cameras, func(cam CameraConfig, _ int) string { return cam.CameraID })
	if dupes := lo.FindDuplicates(ids); len(dupes) > 0 {
		return fmt.Errorf("duplicate camera ids: %v", dupes)
	}

	known := []string{detector.CapEntrance, detector.CapZones, detector.CapShelves, detector.CapQueue}
	for _, cam := range c.Cameras {
		if cam.CameraID == "" {
			return fmt.Errorf("camera_id is required on every camera")
		}
		if cam.RTSP == "" {
			return fmt.Errorf("camera %s: rtsp is required", cam.CameraID)
		}
		if unknown, _ := lo.Difference(cam.Capabilities, known); len(unknown) > 0 {
			return fmt.Errorf("camera %s: unknown capabilities %v", cam.CameraID, unknown)
		}
		if lo.Contains(cam.Capabilities, detector.CapEntrance) && len(cam.Geometry.Entrance) != 2 {
			return fmt.Errorf("camera %s: entrance capability needs a two-point line", cam.CameraID)
		}
		for zid, poly := range cam.Geometry.Zones {
			if len(poly) < 3 {
				return fmt.Errorf("camera %s: zone %s needs at least 3 points", cam.CameraID, zid)
			}
		}
		for sid, poly := range cam.Geometry.Shelves {
			if len(poly) < 3 {
				return fmt.Errorf("camera %s: shelf %s needs at least 3 points", cam.CameraID, sid)
			}
		}
		for qid, poly := range cam.Geometry.Queue {
			if len(poly) < 3 {
				return fmt.Errorf("camera %s: queue %s needs at least 3 points", cam.CameraID, qid)
			}
		}
	}
	return nil
}

// PipelineConfig translates the tuning knobs into dispatcher settings.
func (c *Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		MaxBatch:      c.MaxBatch,
		BatchInterval: secondsToDuration(c.BatchSeconds),
		BackoffBase:   secondsToDuration(c.BackoffBase),
		BackoffMax:    secondsToDuration(c.BackoffMax),
	}
}

// SpoolPath is where overflow batches are persisted.
func (c *Config) SpoolPath() string {
	dir := c.BufferDir
	if dir == "" {
		dir = "edge_buffer"
	}
	return dir + "/event_buffer.jsonl"
}

// HeartbeatInterval defaults to 10 seconds.
func (c *Config) HeartbeatInterval() time.Duration {
	if c.HeartbeatEvery > 0 {
		return secondsToDuration(c.HeartbeatEvery)
	}
	return 10 * time.Second
}

// DetectorGeometry scales the screenshot-space geometry to frame coordinates.
func (cam CameraConfig) DetectorGeometry(frame geometry.Size) detector.Geometry {
	geo := detector.Geometry{}

	if len(cam.Geometry.Entrance) == 2 {
		line := geometry.ScaleLine(geometry.Line{
			pointFromPair(cam.Geometry.Entrance[0]),
			pointFromPair(cam.Geometry.Entrance[1]),
		}, cam.ScreenshotSize, frame)
		geo.Entrance = &line
	}
	geo.Zones = scalePolyMap(cam.Geometry.Zones, cam.ScreenshotSize, frame)
	geo.Shelves = scalePolyMap(cam.Geometry.Shelves, cam.ScreenshotSize, frame)
	geo.Queues = scalePolyMap(cam.Geometry.Queue, cam.ScreenshotSize, frame)
	return geo
}

func scalePolyMap(raw map[string][][]float64, from, to geometry.Size) map[string]geometry.Polygon {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]geometry.Polygon, len(raw))
	for id, pairs := range raw {
		poly := make(geometry.Polygon, 0, len(pairs))
		for _, pair := range pairs {
			poly = append(poly, pointFromPair(pair))
		}
		out[id] = geometry.ScalePolygon(poly, from, to)
	}
	return out
}

func pointFromPair(pair []float64) geometry.Point {
	p := geometry.Point{}
	if len(pair) > 0 {
		p.X = pair[0]
	}
	if len(pair) > 1 {
		p.Y = pair[1]
	}
	return p
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
