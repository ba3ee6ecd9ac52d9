package toolserver

import "errors"

var (
	// ErrInvalidArgument is returned when a tool argument is missing or has
	// the wrong type.
	ErrInvalidArgument = errors.New("toolserver: invalid argument")

	// ErrInvalidTool is returned by Register for a tool without a name,
	// capability or handler.
	ErrInvalidTool = errors.New("toolserver: invalid tool")

	// ErrDuplicateTool is returned by Register when a tool name is taken.
	ErrDuplicateTool = errors.New("toolserver: duplicate tool")
)
