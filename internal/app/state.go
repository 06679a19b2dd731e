// Package app provides application lifecycle management, configuration, and events.
package app

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"affinder/internal/alignment"
	"affinder/internal/image"
	"affinder/internal/matrixio"
	"affinder/internal/project"
	"affinder/internal/session"
	"affinder/pkg/geometry"
)

// State holds the application state: the two image layers, the running
// correspondence session and the output settings.
type State struct {
	mu sync.RWMutex

	// Project
	ProjectPath string
	Modified    bool

	// Images
	Reference *image.Layer
	Moving    *image.Layer

	// Alignment
	Family     alignment.Family
	Options    alignment.Options
	OutputPath string // matrix CSV written after every estimate, if set
	Last       *alignment.Result

	session *session.Session
	pending []event

	// Event listeners
	listeners map[EventType][]EventListener
}

// EventType identifies different application events.
type EventType int

const (
	EventProjectLoaded EventType = iota
	EventProjectSaved
	EventImageLoaded
	EventPointAdded
	EventActiveLayerChanged
	EventTransformEstimated
	EventTransformSaved
	EventFinished
	EventModified
)

// EventListener is called when an event occurs.
type EventListener func(data interface{})

// PointEvent is the payload of EventPointAdded.
type PointEvent struct {
	Role  session.Role
	Point geometry.Point
	Count int
}

type event struct {
	typ  EventType
	data interface{}
}

// NewState creates a new application state.
func NewState() *State {
	return &State{
		Family:    alignment.Affine,
		Options:   alignment.DefaultOptions(),
		listeners: make(map[EventType][]EventListener),
	}
}

// On registers an event listener for the specified event type.
func (s *State) On(event EventType, listener EventListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners[event] = append(s.listeners[event], listener)
}

// Emit triggers all listeners for the specified event type.
func (s *State) Emit(event EventType, data interface{}) {
	s.mu.RLock()
	listeners := s.listeners[event]
	s.mu.RUnlock()

	for _, listener := range listeners {
		listener(data)
	}
}

// queue records an event to emit once the lock is released. Callers hold mu.
func (s *State) queue(typ EventType, data interface{}) {
	s.pending = append(s.pending, event{typ: typ, data: data})
}

// flush emits queued events. Callers must not hold mu.
func (s *State) flush() {
	s.mu.Lock()
	events := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, e := range events {
		s.Emit(e.typ, e.data)
	}
}

// SetModified marks the project as modified and emits an event.
func (s *State) SetModified(modified bool) {
	s.mu.Lock()
	s.Modified = modified
	s.mu.Unlock()
	s.Emit(EventModified, modified)
}

// LoadReferenceImage loads the fixed image.
func (s *State) LoadReferenceImage(path string) error {
	layer, err := image.Load(path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.Reference = layer
	s.mu.Unlock()

	log.Printf("Loaded reference image %s (%dx%d)", path, layer.Width(), layer.Height())
	s.SetModified(true)
	s.Emit(EventImageLoaded, layer)
	return nil
}

// LoadMovingImage loads the image to be registered onto the reference.
func (s *State) LoadMovingImage(path string) error {
	layer, err := image.Load(path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.Reference != nil {
		// The moving image starts in the reference's frame.
		layer.Transform = s.Reference.Transform
	}
	s.Moving = layer
	s.mu.Unlock()

	log.Printf("Loaded moving image %s (%dx%d)", path, layer.Width(), layer.Height())
	s.SetModified(true)
	s.Emit(EventImageLoaded, layer)
	return nil
}

// Start begins a correspondence session in dim dimensions using the current
// Family and Options. Any previous session is closed.
func (s *State) Start(dim int) error {
	s.mu.RLock()
	cfg := session.Config{Dim: dim, Family: s.Family, Options: s.Options}
	s.mu.RUnlock()

	sess, err := session.New(cfg)
	if err != nil {
		return err
	}
	sess.AddSink(session.SinkFunc(s.applyResultLocked))

	s.mu.Lock()
	if s.session != nil {
		s.session.Close()
	}
	s.session = sess
	s.Last = nil
	s.mu.Unlock()

	log.Printf("Started %s alignment session (%dD)", cfg.Family, dim)
	s.Emit(EventActiveLayerChanged, sess.Active())
	return nil
}

// Active returns the role expecting the next point.
func (s *State) Active() session.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return session.Reference
	}
	return s.session.Active()
}

// Points returns copies of the collected reference and moving points.
func (s *State) Points() (ref, mov geometry.PointSet) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil, nil
	}
	return s.session.Points()
}

// AddPoint places a point on the image of the given role. When it completes
// a round the new transform is applied to the moving layer, written to
// OutputPath and returned.
func (s *State) AddPoint(role session.Role, p geometry.Point) (*alignment.Result, error) {
	res, err := s.addPointLocked(role, p)
	s.flush()
	return res, err
}

func (s *State) addPointLocked(role session.Role, p geometry.Point) (*alignment.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil, errors.New("app: no active session")
	}
	before := s.session.Active()
	count := s.count(role)
	mark := len(s.pending)
	res, err := s.session.Add(role, p)
	if n := s.count(role); n > count {
		// Point events precede anything the sinks queued for this point.
		added := event{typ: EventPointAdded, data: PointEvent{Role: role, Point: p.Clone(), Count: n}}
		s.pending = append(s.pending[:mark], append([]event{added}, s.pending[mark:]...)...)
		s.Modified = true
	}
	if after := s.session.Active(); after != before {
		s.queue(EventActiveLayerChanged, after)
	}
	return res, err
}

// ApplyResult applies a transform estimated outside the session, such as a
// RANSAC fit, exactly as a completed round would.
func (s *State) ApplyResult(res *alignment.Result) error {
	err := func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.Modified = true
		return s.applyResultLocked(res)
	}()

	s.flush()
	return err
}

func (s *State) count(role session.Role) int {
	ref, mov := s.session.Points()
	if role == session.Moving {
		return len(mov)
	}
	return len(ref)
}

// applyResultLocked is the session sink. It runs inside AddPoint, with mu
// held.
func (s *State) applyResultLocked(res *alignment.Result) error {
	s.Last = res
	if s.Moving != nil {
		d := res.Matrix.Dim()
		refTransform := geometry.IdentityMatrix(d)
		if s.Reference != nil {
			refTransform = s.Reference.Transform
		}
		// Image layers are 2D; a transform of another dimension is still
		// delivered and saved but cannot place the moving layer.
		if refTransform.Dim() == d && s.Moving.Transform.Dim() == d {
			s.Moving.Transform = refTransform.Compose(res.Matrix)
		} else {
			log.Printf("Moving layer not updated: %dD transform, %dD layers", d, s.Moving.Transform.Dim())
		}
	}
	log.Printf("Estimated %s transform, rms error %.3f px", res.Family, res.RMS)
	s.queue(EventTransformEstimated, res)

	if s.OutputPath != "" {
		if err := (matrixio.FileSink{Path: s.OutputPath}).Accept(res); err != nil {
			return fmt.Errorf("save matrix: %w", err)
		}
		s.queue(EventTransformSaved, s.OutputPath)
	}
	return nil
}

// Replay feeds two complete point lists through the session in the order an
// interactive user places them: d+1 reference points, d+1 moving points,
// then one pair per round. Rounds whose points are degenerate are skipped
// as the interactive tool would; the error of the final round is returned.
func (s *State) Replay(ref, mov geometry.PointSet) (*alignment.Result, error) {
	if len(ref) != len(mov) {
		return nil, alignment.DimensionMismatchError{What: "length", Index: -1, Got: len(mov), Want: len(ref)}
	}

	var last *alignment.Result
	var lastErr error
	i, j := 0, 0
	for i < len(ref) || j < len(mov) {
		var res *alignment.Result
		var err error
		switch s.Active() {
		case session.Reference:
			if i == len(ref) {
				return last, lastErr
			}
			res, err = s.AddPoint(session.Reference, ref[i])
			i++
		case session.Moving:
			if j == len(mov) {
				return last, lastErr
			}
			res, err = s.AddPoint(session.Moving, mov[j])
			j++
		}

		var de alignment.DegenerateInputError
		switch {
		case err == nil && res != nil:
			last, lastErr = res, nil
		case errors.As(err, &de):
			log.Printf("Round with %d pairs skipped: %v", j, err)
			lastErr = err
		case err != nil:
			return last, err
		}
	}
	return last, lastErr
}

// Finish closes the session.
func (s *State) Finish() {
	s.mu.Lock()
	if s.session != nil {
		s.session.Close()
	}
	s.mu.Unlock()
	s.Emit(EventFinished, nil)
}

// ToProject captures the current state as a project file.
func (s *State) ToProject(name, projectPath string) *project.File {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := project.New(name, s.Family)
	if s.Reference != nil {
		p.SetReferenceImage(projectPath, s.Reference.Path)
	}
	if s.Moving != nil {
		p.SetMovingImage(projectPath, s.Moving.Path)
	}
	if s.OutputPath != "" {
		p.SetOutput(projectPath, s.OutputPath)
	}
	if s.session != nil {
		p.SetPoints(s.session.Points())
	}
	if s.Last != nil {
		p.SetResult(s.Last)
	}
	return p
}

// SaveProject writes the state to path.
func (s *State) SaveProject(path, name string) error {
	p := s.ToProject(name, path)
	if err := p.Save(path); err != nil {
		return err
	}

	s.mu.Lock()
	s.ProjectPath = path
	s.Modified = false
	s.mu.Unlock()

	s.Emit(EventProjectSaved, path)
	return nil
}

// LoadProject restores images, model and output path from a project and
// replays its points.
func (s *State) LoadProject(path string) error {
	p, err := project.Load(path)
	if err != nil {
		return err
	}

	if img := p.GetReferenceImagePath(path); img != "" {
		if err := s.LoadReferenceImage(img); err != nil {
			return fmt.Errorf("reference image: %w", err)
		}
	}
	if img := p.GetMovingImagePath(path); img != "" {
		if err := s.LoadMovingImage(img); err != nil {
			return fmt.Errorf("moving image: %w", err)
		}
	}

	s.mu.Lock()
	s.Family = p.Model
	if p.OutputPath != "" {
		s.OutputPath = p.GetOutputPath(path)
	}
	s.mu.Unlock()

	ref, mov := p.Points()
	dim := ref.Dim()
	if dim == 0 {
		dim = 2
	}
	if err := s.Start(dim); err != nil {
		return err
	}
	if len(ref) > 0 {
		if _, err := s.Replay(ref, mov); err != nil {
			log.Printf("Project %s: %v", path, err)
		}
	}

	s.mu.Lock()
	s.ProjectPath = path
	s.Modified = false
	s.mu.Unlock()

	s.Emit(EventProjectLoaded, path)
	return nil
}
