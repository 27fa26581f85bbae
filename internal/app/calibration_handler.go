// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"errors"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/accel_logger/internal/bus"
	"github.com/relabs-tech/accel_logger/internal/calibration"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

var errCalibrationCancelled = errors.New("calibration: cancelled by operator")

// WSMessage is sent by the browser.
type WSMessage struct {
	Action string `json:"action"` // static, six, next, cancel
}

// WSResponse is pushed to the browser.
type WSResponse struct {
	Type     string                 `json:"type"` // phase, step, action, complete, error
	Phase    string                 `json:"phase,omitempty"`
	Step     int                    `json:"step,omitempty"`
	Pose     string                 `json:"pose,omitempty"`
	Progress float64                `json:"progress,omitempty"`
	Stats    *calibration.PoseStats `json:"stats,omitempty"`
	Results  interface{}            `json:"results,omitempty"`
	Message  string                 `json:"message,omitempty"`
}

// CalibrationSession ties one websocket to the device's calibration flow.
// A tumble started from the socket waits for "next" before each pose.
type CalibrationSession struct {
	d    *Device
	Conn *websocket.Conn

	wmu  sync.Mutex
	next chan struct{}

	// cancel belongs to the tumble started from this socket, nil when none
	// is pending. closed is shut once when the socket goes away.
	mu     sync.Mutex
	cancel chan struct{}
	closed chan struct{}
	once   sync.Once
}

// HandleCalibrationWS handles the WebSocket connection for calibration
func HandleCalibrationWS(d *Device, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("calibration: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	s := &CalibrationSession{
		d:      d,
		Conn:   conn,
		next:   make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
	defer s.close()

	events, unsubscribe := d.Subscribe()
	defer unsubscribe()
	go s.forward(events)

	// Main message loop
	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			log.Printf("calibration: websocket read error: %v", err)
			return
		}

		switch msg.Action {
		case "static":
			if err := d.StartStaticCalibration(); err != nil {
				s.sendError(err.Error())
			}
		case "six":
			cancel := make(chan struct{})
			ready := func(pose calibration.Pose) error { return s.ready(pose, cancel) }
			if err := d.StartSixPositionCalibration(ready); err != nil {
				s.sendError(err.Error())
				continue
			}
			s.mu.Lock()
			s.cancel = cancel
			s.mu.Unlock()
		case "next":
			select {
			case s.next <- struct{}{}:
			default:
			}
		case "cancel":
			if s.abort() {
				log.Printf("calibration: cancelled by user")
			}
		default:
			s.sendError("unknown action " + msg.Action)
		}
	}
}

// ready blocks the tumble until the operator confirms the pose. A "next"
// that arrived before the prompt does not count.
func (s *CalibrationSession) ready(pose calibration.Pose, cancel <-chan struct{}) error {
	select {
	case <-s.next:
	default:
	}
	s.send(WSResponse{Type: "action", Pose: pose.String(), Message: "ready"})
	select {
	case <-s.next:
		return nil
	case <-cancel:
		return errCalibrationCancelled
	case <-s.closed:
		return errCalibrationCancelled
	}
}

// abort cancels the pending tumble, if any, and reports whether there was one.
func (s *CalibrationSession) abort() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	close(s.cancel)
	s.cancel = nil
	return true
}

func (s *CalibrationSession) close() {
	s.once.Do(func() { close(s.closed) })
}

func (s *CalibrationSession) forward(events <-chan Event) {
	for ev := range events {
		if ev.Session != bus.StaticCalibration.String() && ev.Session != bus.SixPositionCalibration.String() {
			continue
		}
		switch ev.Type {
		case EventStarted:
			s.send(WSResponse{Type: "phase", Phase: ev.Session})
		case EventProgress:
			p := ev.Progress
			s.send(WSResponse{
				Type:     "step",
				Phase:    p.Phase,
				Step:     p.Step,
				Pose:     p.Pose,
				Progress: float64(p.Step) * 100 / float64(len(calibration.Poses)),
				Stats:    p.Stats,
			})
		case EventComplete:
			s.send(WSResponse{Type: "complete", Progress: 100, Results: ev.Calibration})
		case EventError:
			s.sendError(ev.Message)
		}
	}
}

func (s *CalibrationSession) send(resp WSResponse) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := s.Conn.WriteJSON(resp); err != nil {
		log.Printf("calibration: websocket write error: %v", err)
	}
}

func (s *CalibrationSession) sendError(message string) {
	s.send(WSResponse{
		Type:    "error",
		Message: message,
	})
}
