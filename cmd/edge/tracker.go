package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/winklabs/storepulse/internal/detector"
	"github.com/winklabs/storepulse/internal/edge"
	"github.com/winklabs/storepulse/internal/events"
	"github.com/winklabs/storepulse/internal/geometry"
)

// feedFrame is the wire format the inference sidecar emits, one JSON object
// per line.
type feedFrame struct {
	TS         string        `json:"ts"`
	Size       geometry.Size `json:"size"`
	Detections []struct {
		TrackID string     `json:"track_id"`
		Box     [4]float64 `json:"box"`
	} `json:"detections"`
}

// feedTracker reads tracked detections from a sidecar feed: a TCP or unix
// socket, or a plain file for replay.
type feedTracker struct {
	src     io.ReadCloser
	scanner *bufio.Scanner
}

// openTracker connects to the camera's detection feed.
func openTracker(cam edge.CameraConfig) (edge.Tracker, error) {
	if cam.Detections == "" {
		return nil, fmt.Errorf("camera %s: detections source not configured", cam.CameraID)
	}

	var src io.ReadCloser
	switch {
	case strings.HasPrefix(cam.Detections, "tcp://"):
		conn, err := net.DialTimeout("tcp", strings.TrimPrefix(cam.Detections, "tcp://"), 10*time.Second)
		if err != nil {
			return nil, fmt.Errorf("dial detections feed: %w", err)
		}
		src = conn
	case strings.HasPrefix(cam.Detections, "unix://"):
		conn, err := net.DialTimeout("unix", strings.TrimPrefix(cam.Detections, "unix://"), 10*time.Second)
		if err != nil {
			return nil, fmt.Errorf("dial detections feed: %w", err)
		}
		src = conn
	default:
		f, err := os.Open(cam.Detections)
		if err != nil {
			return nil, fmt.Errorf("open detections file: %w", err)
		}
		src = f
	}

	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &feedTracker{src: src, scanner: scanner}, nil
}

func (t *feedTracker) Next(ctx context.Context) (edge.Frame, error) {
	for {
		if ctx.Err() != nil {
			return edge.Frame{}, ctx.Err()
		}
		if !t.scanner.Scan() {
			if err := t.scanner.Err(); err != nil {
				return edge.Frame{}, err
			}
			return edge.Frame{}, io.EOF
		}

		line := t.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ff feedFrame
		if err := json.Unmarshal(line, &ff); err != nil {
			// A torn line from a sidecar restart is not fatal.
			continue
		}
		return ff.toFrame()
	}
}

func (t *feedTracker) Close() error { return t.src.Close() }

func (ff feedFrame) toFrame() (edge.Frame, error) {
	ts, err := events.ParseTS(ff.TS)
	if err != nil {
		ts = time.Now().UTC()
	}

	frame := edge.Frame{TS: ts, Size: ff.Size}
	for _, d := range ff.Detections {
		frame.Detections = append(frame.Detections, detector.Detection{
			TrackID: d.TrackID,
			Box:     detector.BBox{X1: d.Box[0], Y1: d.Box[1], X2: d.Box[2], Y2: d.Box[3]},
		})
	}
	return frame, nil
}
