package edge

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/winklabs/storepulse/internal/detector"
	"github.com/winklabs/storepulse/internal/events"
	"github.com/winklabs/storepulse/internal/geometry"
	"github.com/winklabs/storepulse/internal/pipeline"
)

// Frame is one processed video frame: the tracker's detections plus the frame
// size the geometry must be scaled to.
type Frame struct {
	TS         time.Time
	Size       geometry.Size
	Detections []detector.Detection
}

// Tracker produces tracked detections for one camera. The detection model
// behind it is a black box; the supervisor only consumes its output. Next
// blocks until a frame is available or ctx is done.
type Tracker interface {
	Next(ctx context.Context) (Frame, error)
	Close() error
}

// TrackerFactory opens a tracker for a camera. Called again on every
// reconnect after a stream failure.
type TrackerFactory func(cam CameraConfig) (Tracker, error)

// reconnect backoff bounds for failed frame sources.
const (
	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second
)

// Supervisor owns the per-camera workers and the heartbeat loop.
type Supervisor struct {
	cfg        *Config
	factory    TrackerFactory
	dispatcher *pipeline.Dispatcher
	client     *pipeline.Client
	logger     *log.Logger
}

// NewSupervisor wires the collector together. The dispatcher must already be
// running; the supervisor takes ownership of closing it.
func NewSupervisor(cfg *Config, factory TrackerFactory, dispatcher *pipeline.Dispatcher, client *pipeline.Client) *Supervisor {
	return &Supervisor{
		cfg:        cfg,
		factory:    factory,
		dispatcher: dispatcher,
		client:     client,
		logger:     log.New(log.Writer(), "[EDGE] ", log.LstdFlags),
	}
}

// Run starts one worker per camera plus the heartbeat loop and blocks until
// ctx is cancelled. Shutdown order matters: workers stop producing first,
// then the dispatcher flushes what is left.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Printf("🚀 Starting edge collector: org=%s store=%s cameras=%d",
		s.cfg.OrgID, s.cfg.StoreID, len(s.cfg.Cameras))

	var wg sync.WaitGroup
	for _, cam := range s.cfg.Cameras {
		wg.Add(1)
		go func(cam CameraConfig) {
			defer wg.Done()
			s.runCamera(ctx, cam)
		}(cam)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.heartbeatLoop(ctx)
	}()

	<-ctx.Done()
	wg.Wait()
	s.dispatcher.Close()
	s.logger.Printf("✅ Edge collector stopped")
	return nil
}

// runCamera keeps one camera alive: open the tracker, pump frames through
// the detector, reconnect with backoff when the stream dies.
func (s *Supervisor) runCamera(ctx context.Context, cam CameraConfig) {
	backoff := reconnectBase
	for {
		if ctx.Err() != nil {
			return
		}

		tracker, err := s.factory(cam)
		if err != nil {
			s.logger.Printf("⚠️  [%s] Failed to open frame source: %v (retrying in %s)", cam.CameraID, err, backoff)
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		s.logger.Printf("📷 [%s] Worker started, capabilities=%v", cam.CameraID, cam.Capabilities)
		backoff = reconnectBase
		err = s.pumpFrames(ctx, cam, tracker)
		tracker.Close()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.logger.Printf("⚠️  [%s] Frame source failed: %v (reconnecting in %s)", cam.CameraID, err, backoff)
		}
		if !sleepCtx(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff)
	}
}

func (s *Supervisor) pumpFrames(ctx context.Context, cam CameraConfig, tracker Tracker) error {
	// The detector is built on the first frame, once the live frame size is
	// known and the screenshot geometry can be scaled to it.
	var det *detector.Detector

	for {
		frame, err := tracker.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		if det == nil {
			det = detector.New(s.cfg.OrgID, s.cfg.StoreID, cam.CameraID,
				cam.Capabilities, cam.DetectorGeometry(frame.Size))
		}

		for _, ev := range det.ProcessFrame(frame.TS, frame.Detections) {
			s.dispatcher.Publish(ev)
		}
	}
}

func (s *Supervisor) heartbeatLoop(ctx context.Context) {
	interval := s.cfg.HeartbeatInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	cameraIDs := lo.Map(s.cfg.Cameras, func(cam CameraConfig, _ int) string { return cam.CameraID })

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hb := pipeline.Heartbeat{
				OrgID:     s.cfg.OrgID,
				StoreID:   s.cfg.StoreID,
				CameraIDs: cameraIDs,
				TS:        events.FormatTS(time.Now()),
			}
			if err := s.client.PostHeartbeat(ctx, hb); err != nil {
				s.logger.Printf("⚠️  Heartbeat failed: %v", err)
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > reconnectMax {
		return reconnectMax
	}
	return d
}
