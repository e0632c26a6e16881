// Package shard maps add-on ids to their sharded on-disk repository location.
package shard

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
)

// Levels is the number of digit-group directories placed above the id directory.
const Levels = 3

// ErrInvalidID is returned for ids that cannot be sharded.
var ErrInvalidID = errors.New("add-on id must be positive")

// Segments returns the directory segments for id, outermost first: the last
// digit, the last two digits, the last three digits and finally the full id.
// Ids shorter than a level use every digit they have.
//
//	60      -> [0 60 60 60]
//	623     -> [3 23 623 623]
//	3452581 -> [1 81 581 3452581]
func Segments(id int64) ([]string, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidID, id)
	}

	digits := strconv.FormatInt(id, 10)
	segments := make([]string, 0, Levels+1)

	for width := 1; width <= Levels; width++ {
		start := max(len(digits)-width, 0)
		segments = append(segments, digits[start:])
	}

	return append(segments, digits), nil
}

// Path returns <root>/<d1>/<d2>/<d3>/<id>/<leaf>.
func Path(root string, id int64, leaf string) (string, error) {
	segments, err := Segments(id)
	if err != nil {
		return "", err
	}

	elems := make([]string, 0, len(segments)+2)
	elems = append(elems, root)
	elems = append(elems, segments...)
	elems = append(elems, leaf)

	return filepath.Join(elems...), nil
}
