package brickmap

import (
	"errors"
	"fmt"
)

var (
	ErrOutOfBounds          = errors.New("brick position out of bounds")
	ErrVoxelOutOfBounds     = errors.New("voxel position out of bounds")
	ErrConsistencyViolation = errors.New("brickmap consistency violation")
	ErrLeafCollision        = errors.New("cannot subdivide a leaf brick")
	ErrArenaFull            = errors.New("brickmap arena full")
	ErrBrickIndex           = errors.New("invalid brick index")
	ErrDepth                = errors.New("invalid brickmap depth")
)

// ConsistencyError describes a structural fault found while walking the tree.
// It matches ErrConsistencyViolation under errors.Is.
type ConsistencyError struct {
	Index    uint32
	Depth    uint32
	MaxDepth uint32
	Reason   string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("brickmap consistency violation at node %d (depth %d, max %d): %s", e.Index, e.Depth, e.MaxDepth, e.Reason)
}

func (e *ConsistencyError) Unwrap() error {
	return ErrConsistencyViolation
}
