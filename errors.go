package bptree

import "errors"

// ErrClosed is returned by Put when it is called on a tree after Close. No
// other method checks for a closed tree.
var ErrClosed = errors.New("bptree: tree is closed")

// ErrCorrupt is returned by CheckTree when a structural invariant does not
// hold.
var ErrCorrupt = errors.New("bptree: structural invariant violated")
