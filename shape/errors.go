package shape

import "errors"

var (
	// ErrNoReference is returned when aligning or generating starts before a
	// reference shape has been set
	ErrNoReference = errors.New("no reference shape set")

	// ErrEmptyShape is returned for shape functions without elements
	ErrEmptyShape = errors.New("shape function has no elements")

	// ErrUndefinedSymmetry is returned when a shape's symmetry class is undefined
	ErrUndefinedSymmetry = errors.New("undefined symmetry class")

	// ErrIndexOutOfRange is returned by indexed result accessors
	ErrIndexOutOfRange = errors.New("index out of range")
)
