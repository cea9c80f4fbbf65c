package brickmap

import "fmt"

type BrickIndex uint32

// EmptyBrickIndex is reserved for the all-empty brick and never referenced by
// a leaf node, so every leaf value is strictly greater than BrickOffset.
const EmptyBrickIndex BrickIndex = 0

// maxBricks keeps BrickOffset+index inside uint32.
const maxBricks = int(^uint32(0) - BrickOffset)

// Store is the dense brick arena. Bricks never move once allocated.
type Store struct {
	bricks []Brick
}

func NewStore() *Store {
	return &Store{bricks: []Brick{EmptyBrick()}}
}

func (s *Store) Len() int {
	return len(s.bricks)
}

func (s *Store) Allocate(b Brick) (BrickIndex, error) {
	if len(s.bricks) >= maxBricks {
		return 0, fmt.Errorf("%w: %d bricks", ErrArenaFull, len(s.bricks))
	}
	s.bricks = append(s.bricks, b)
	return BrickIndex(len(s.bricks) - 1), nil
}

func (s *Store) Replace(i BrickIndex, b Brick) error {
	if i == EmptyBrickIndex || int(i) >= len(s.bricks) {
		return fmt.Errorf("%w: %d", ErrBrickIndex, i)
	}
	s.bricks[i] = b
	return nil
}

func (s *Store) Get(i BrickIndex) (Brick, bool) {
	if int(i) >= len(s.bricks) {
		return Brick{}, false
	}
	return s.bricks[i], true
}

func (s *Store) at(i BrickIndex) (*Brick, bool) {
	if int(i) >= len(s.bricks) {
		return nil, false
	}
	return &s.bricks[i], true
}

func (s *Store) full() bool {
	return len(s.bricks) >= maxBricks
}

// Buffer is the brick lookup resource: brick i occupies
// [i*BrickStride, (i+1)*BrickStride), voxels in linear order, RGBA each.
func (s *Store) Buffer() []byte {
	return s.AppendBuffer(make([]byte, 0, len(s.bricks)*BrickStride))
}

func (s *Store) AppendBuffer(dst []byte) []byte {
	for i := range s.bricks {
		dst = s.bricks[i].appendRGBA(dst)
	}
	return dst
}
