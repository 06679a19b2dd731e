// Package session collects landmark correspondences one point at a time and
// estimates a new transform whenever a round of pairs is complete.
//
// The user alternates between the two images: once the reference image has
// at least d+1 points and more points than the moving image, the moving
// image becomes active; once both have the same number of points the
// transform is estimated, handed to every sink, and the reference image
// becomes active again.
package session

import (
	"errors"
	"fmt"

	"affinder/internal/alignment"
	"affinder/pkg/geometry"
)

// Role identifies which image a point was placed on.
type Role int

const (
	Reference Role = iota
	Moving
)

func (r Role) String() string {
	switch r {
	case Reference:
		return "reference"
	case Moving:
		return "moving"
	default:
		return "unknown"
	}
}

var (
	ErrWrongLayer = errors.New("session: points must be added to the active layer")
	ErrClosed     = errors.New("session: closed")
)

// Sink consumes each estimated transform.
type Sink interface {
	Accept(res *alignment.Result) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(res *alignment.Result) error

// Accept calls f(res).
func (f SinkFunc) Accept(res *alignment.Result) error {
	return f(res)
}

// Config configures a Session.
type Config struct {
	Dim     int              // coordinates per point
	Family  alignment.Family // transform model to fit
	Options alignment.Options
}

// Session is the correspondence collector. It is not safe for concurrent
// use; the host serializes point events.
type Session struct {
	cfg    Config
	ref    geometry.PointSet
	mov    geometry.PointSet
	active Role
	closed bool
	sinks  []Sink
	last   *alignment.Result
}

// New creates a session with the reference image active.
func New(cfg Config) (*Session, error) {
	if cfg.Dim < 1 {
		return nil, fmt.Errorf("session: invalid dimension %d", cfg.Dim)
	}
	return &Session{cfg: cfg, active: Reference}, nil
}

// AddSink registers a consumer for estimated transforms. Sinks run in
// registration order.
func (s *Session) AddSink(sink Sink) {
	s.sinks = append(s.sinks, sink)
}

// Active returns the role that accepts the next point.
func (s *Session) Active() Role {
	return s.active
}

// Family returns the transform model being fitted.
func (s *Session) Family() alignment.Family {
	return s.cfg.Family
}

// Dim returns the number of coordinates per point.
func (s *Session) Dim() int {
	return s.cfg.Dim
}

// Points returns copies of the reference and moving point lists.
func (s *Session) Points() (ref, mov geometry.PointSet) {
	return s.ref.Clone(), s.mov.Clone()
}

// Last returns the most recent estimation result, or nil.
func (s *Session) Last() *alignment.Result {
	return s.last
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	return s.closed
}

// Ready reports whether the next completed round will produce an estimate.
func (s *Session) Ready() bool {
	return len(s.ref) >= alignment.MinPoints(s.cfg.Dim)
}

// Add places a point on the image of the given role. It returns the result
// of the estimation triggered by this point, or nil when the round is not
// yet complete.
//
// If estimation or a sink fails the points are kept and the reference image
// becomes active, so the caller can add more pairs and try again.
func (s *Session) Add(role Role, p geometry.Point) (*alignment.Result, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if len(p) != s.cfg.Dim {
		return nil, alignment.DimensionMismatchError{What: "dimension", Index: -1, Got: len(p), Want: s.cfg.Dim}
	}
	if role != s.active {
		return nil, fmt.Errorf("%w: got %s, active is %s", ErrWrongLayer, role, s.active)
	}

	switch role {
	case Reference:
		s.ref = append(s.ref, p.Clone())
		if len(s.ref) < alignment.MinPoints(s.cfg.Dim) {
			return nil, nil
		}
		if len(s.ref) > len(s.mov) {
			s.active = Moving
		}
		return nil, nil

	case Moving:
		s.mov = append(s.mov, p.Clone())
		if len(s.mov) != len(s.ref) {
			return nil, nil
		}
		s.active = Reference
		return s.estimate()
	}
	return nil, fmt.Errorf("session: unknown role %d", int(role))
}

func (s *Session) estimate() (*alignment.Result, error) {
	if len(s.ref) <= s.cfg.Dim {
		return nil, nil
	}
	res, err := alignment.EstimateWithOptions(s.ref, s.mov, s.cfg.Family, s.cfg.Options)
	if err != nil {
		return nil, fmt.Errorf("estimate %s transform from %d pairs: %w", s.cfg.Family, len(s.ref), err)
	}
	s.last = res
	for _, sink := range s.sinks {
		if err := sink.Accept(res); err != nil {
			return res, fmt.Errorf("deliver transform: %w", err)
		}
	}
	return res, nil
}

// Close finishes the session. Further points are rejected.
func (s *Session) Close() {
	s.closed = true
}
