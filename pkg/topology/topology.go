package topology

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyScreenName indicates a screen was built without a name.
	ErrEmptyScreenName = errors.New("screen name must not be empty")
	// ErrNoPosition indicates a screen was built without a position.
	ErrNoPosition = errors.New("screen has no position")
	// ErrDuplicateScreen indicates the name is already registered.
	ErrDuplicateScreen = errors.New("screen name already registered")
	// ErrDuplicatePosition indicates the root-plane direction is already taken.
	ErrDuplicatePosition = errors.New("position already occupied")
	// ErrDuplicateRelativePosition indicates the direction is already taken
	// within the reference screen's plane.
	ErrDuplicateRelativePosition = errors.New("relative position already occupied")
	// ErrUnknownReference indicates a relative entry names a screen that has
	// not been registered yet.
	ErrUnknownReference = errors.New("reference screen not registered")
)

// Position is an edge direction relative to an anchor screen.
type Position uint8

const (
	Left Position = iota
	Right
	Above
	Below
)

func (p Position) String() string {
	switch p {
	case Left:
		return "left"
	case Right:
		return "right"
	case Above:
		return "above"
	case Below:
		return "below"
	}
	return fmt.Sprintf("Position(%d)", uint8(p))
}

// ParsePosition converts a config string like "left" into a Position.
func ParsePosition(s string) (Position, error) {
	switch strings.ToLower(s) {
	case "left":
		return Left, nil
	case "right":
		return Right, nil
	case "above":
		return Above, nil
	case "below":
		return Below, nil
	}
	return 0, fmt.Errorf("unknown position %q", s)
}

// Screen is one configured client placement. A screen with an empty
// Reference sits in the root plane, anchored to the primary screen;
// otherwise it is anchored to the named reference screen.
type Screen struct {
	Name      string
	Position  Position
	Reference string
	Width     uint16
	Height    uint16
}

// ScreenBuilder assembles a Screen. Position is mandatory, the rest
// optional.
type ScreenBuilder struct {
	screen      Screen
	positionSet bool
}

// NewScreen starts building a screen placement with the given name.
func NewScreen(name string) *ScreenBuilder {
	return &ScreenBuilder{screen: Screen{Name: name}}
}

// Position sets the edge direction the screen occupies in its plane.
func (b *ScreenBuilder) Position(p Position) *ScreenBuilder {
	b.screen.Position = p
	b.positionSet = true
	return b
}

// RelativeTo anchors the screen to a previously built screen instead of
// the primary.
func (b *ScreenBuilder) RelativeTo(ref Screen) *ScreenBuilder {
	b.screen.Reference = ref.Name
	return b
}

// Dimensions records the screen size in pixels.
func (b *ScreenBuilder) Dimensions(width, height uint16) *ScreenBuilder {
	b.screen.Width = width
	b.screen.Height = height
	return b
}

func (b *ScreenBuilder) Build() (Screen, error) {
	if b.screen.Name == "" {
		return Screen{}, ErrEmptyScreenName
	}
	if !b.positionSet {
		return Screen{}, fmt.Errorf("screen %q: %w", b.screen.Name, ErrNoPosition)
	}
	return b.screen, nil
}

// Topology is the spatial graph of configured screens: a root plane
// anchored to the primary plus one plane per reference screen. It is
// built before the server starts accepting connections and read-only
// afterwards, so lookups need no locking.
type Topology struct {
	screens map[string]Screen
	// planes maps an anchor name to its occupied directions. The empty
	// name is the primary's plane.
	planes map[string]map[Position]string
	order  []string
}

func New() *Topology {
	return &Topology{
		screens: make(map[string]Screen),
		planes:  make(map[string]map[Position]string),
	}
}

// Add registers a screen, enforcing that each direction is occupied at
// most once per plane and that references point at screens added
// earlier.
func (t *Topology) Add(s Screen) error {
	if s.Name == "" {
		return ErrEmptyScreenName
	}
	if _, exists := t.screens[s.Name]; exists {
		return fmt.Errorf("screen %q: %w", s.Name, ErrDuplicateScreen)
	}
	if s.Reference != "" {
		if _, ok := t.screens[s.Reference]; !ok {
			return fmt.Errorf("screen %q is %s of %q: %w", s.Name, s.Position, s.Reference, ErrUnknownReference)
		}
	}

	plane := t.planes[s.Reference]
	if plane == nil {
		plane = make(map[Position]string)
		t.planes[s.Reference] = plane
	}
	if holder, taken := plane[s.Position]; taken {
		if s.Reference == "" {
			return fmt.Errorf("screen %q: %s is taken by %q: %w", s.Name, s.Position, holder, ErrDuplicatePosition)
		}
		return fmt.Errorf("screen %q: %s of %q is taken by %q: %w", s.Name, s.Position, s.Reference, holder, ErrDuplicateRelativePosition)
	}

	plane[s.Position] = s.Name
	t.screens[s.Name] = s
	t.order = append(t.order, s.Name)
	return nil
}

// NeighborOf returns the screen occupying the given direction in the
// named screen's plane, that is, the screen a cursor crossing that edge
// enters. The empty name queries the primary's plane. The second return
// is false when the edge leads off all configured screens.
func (t *Topology) NeighborOf(name string, pos Position) (Screen, bool) {
	target, ok := t.planes[name][pos]
	if !ok {
		return Screen{}, false
	}
	return t.screens[target], true
}

// Lookup returns the screen registered under the given name.
func (t *Topology) Lookup(name string) (Screen, bool) {
	s, ok := t.screens[name]
	return s, ok
}

// Screens returns all registered screens in registration order.
func (t *Topology) Screens() []Screen {
	out := make([]Screen, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, t.screens[name])
	}
	return out
}

func (t *Topology) Len() int {
	return len(t.screens)
}
