package protocol

import "fmt"

// Step is one field of a record layout. A step is active for versions in
// [Since, Until]; a zero Since means "since the first version" and a zero Until
// means "still present". Until exists only for compatibility shims: a field
// introduced at some version is never removed from an encoding path.
type Step[T any] struct {
	Name   string
	Since  Version
	Until  Version
	Encode func(e *Encoder, rec *T) error
	Decode func(d *Decoder, rec *T) error

	// Default, when set, is applied on decode if the step is inactive for the
	// decoder's version. Otherwise the field keeps its zero value.
	Default func(rec *T)
}

// ActiveAt reports whether s is on the wire at version v.
func (s Step[T]) ActiveAt(v Version) bool {
	if !s.Since.IsZero() && v.Less(s.Since) {
		return false
	}
	if !s.Until.IsZero() && !v.AtMost(s.Until) {
		return false
	}
	return true
}

// Layout is the ordered, version-gated wire layout of a record type. Encode and
// Decode walk the same step list, so both directions agree for every version.
type Layout[T any] struct {
	steps []Step[T]
}

// NewLayout validates steps and returns their layout.
func NewLayout[T any](steps ...Step[T]) (*Layout[T], error) {
	seen := make(map[string]struct{}, len(steps))
	for i, s := range steps {
		if s.Name == "" {
			return nil, fmt.Errorf("%w: step %d has no name", ErrInvalidLayout, i)
		}
		if _, dup := seen[s.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate step %q", ErrInvalidLayout, s.Name)
		}
		seen[s.Name] = struct{}{}
		if s.Encode == nil || s.Decode == nil {
			return nil, fmt.Errorf("%w: step %q needs both encode and decode", ErrInvalidLayout, s.Name)
		}
		if !s.Until.IsZero() && s.Until.Less(s.Since) {
			return nil, fmt.Errorf("%w: step %q removed at %s before it was added at %s", ErrInvalidLayout, s.Name, s.Until, s.Since)
		}
	}
	out := make([]Step[T], len(steps))
	copy(out, steps)
	return &Layout[T]{steps: out}, nil
}

// MustLayout is NewLayout for package-level layouts; it panics on error.
func MustLayout[T any](steps ...Step[T]) *Layout[T] {
	l, err := NewLayout(steps...)
	if err != nil {
		panic(err)
	}
	return l
}

// Encode writes the active steps of rec at e's version.
func (l *Layout[T]) Encode(e *Encoder, rec *T) error {
	v := e.Version()
	for _, s := range l.steps {
		if !s.ActiveAt(v) {
			continue
		}
		if err := s.Encode(e, rec); err != nil {
			return fmt.Errorf("encode %s: %w", s.Name, err)
		}
	}
	return nil
}

// Decode reads the active steps into rec at d's version and applies defaults
// for the inactive ones.
func (l *Layout[T]) Decode(d *Decoder, rec *T) error {
	v := d.Version()
	for _, s := range l.steps {
		if !s.ActiveAt(v) {
			if s.Default != nil {
				s.Default(rec)
			}
			continue
		}
		if err := s.Decode(d, rec); err != nil {
			return fmt.Errorf("decode %s: %w", s.Name, err)
		}
	}
	return nil
}

// Active lists the names of the steps on the wire at version v, in order.
func (l *Layout[T]) Active(v Version) []string {
	var names []string
	for _, s := range l.steps {
		if s.ActiveAt(v) {
			names = append(names, s.Name)
		}
	}
	return names
}

// Len returns the number of steps across all versions.
func (l *Layout[T]) Len() int {
	return len(l.steps)
}
