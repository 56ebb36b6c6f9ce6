package mcts

import "errors"

var (
	ErrInvalidConfig      = errors.New("mcts: invalid config")
	ErrInvalidAction      = errors.New("mcts: invalid action")
	ErrInvalidPolicy      = errors.New("mcts: invalid policy")
	ErrInvalidTemperature = errors.New("mcts: inverse temperature must be > 0")
	// ErrEmptyDistribution is returned for a root with no visit statistics:
	// terminal, never visited, or visited only once.
	ErrEmptyDistribution = errors.New("mcts: root has no visits")
	ErrTerminalRoot      = errors.New("mcts: root is terminal")
	ErrUnknownStat       = errors.New("mcts: unknown stat")
)
