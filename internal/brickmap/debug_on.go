//go:build brickdebug

package brickmap

// Debug builds fail fast on structural faults instead of skipping the subtree.
func assertConsistent(err error) {
	panic(err)
}
