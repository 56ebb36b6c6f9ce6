package selfplay

import "sync"

type CurriculumConfig struct {
	StartingDistance int
	MinDistance      int
	// WinRateMemory is the number of recent games in the win rate window.
	WinRateMemory int
	WinRateUpper  float64
	WinRateLower  float64
	AdjustEvery   int
}

// Curriculum tracks recent results and moves the training scramble distance
// up when too many games are won and down when too few are.
// It is safe for concurrent use.
type Curriculum struct {
	cfg CurriculumConfig

	mu       sync.Mutex
	distance int
	recent   []bool
	wins     int
	games    int64
}

type CurriculumStats struct {
	Distance int
	Games    int64
	// RecentWins out of RecentGames in the current window.
	RecentWins  int
	RecentGames int
}

func NewCurriculum(cfg CurriculumConfig) *Curriculum {
	if cfg.MinDistance < 1 {
		cfg.MinDistance = 1
	}
	if cfg.WinRateMemory < 1 {
		cfg.WinRateMemory = 1
	}
	if cfg.AdjustEvery < 1 {
		cfg.AdjustEvery = 1
	}
	return &Curriculum{
		cfg:      cfg,
		distance: max(cfg.StartingDistance, cfg.MinDistance),
		recent:   make([]bool, 0, cfg.WinRateMemory),
	}
}

func (c *Curriculum) Distance() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.distance
}

// Record adds a game result and returns the distance to use next.
func (c *Curriculum) Record(win bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.games++
	if len(c.recent) == c.cfg.WinRateMemory {
		if c.recent[0] {
			c.wins--
		}
		c.recent = append(c.recent[:0], c.recent[1:]...)
	}
	c.recent = append(c.recent, win)
	if win {
		c.wins++
	}

	if c.games%int64(c.cfg.AdjustEvery) == 0 {
		n := float64(len(c.recent))
		switch {
		case float64(c.wins) > c.cfg.WinRateUpper*n:
			c.distance++
		case float64(c.wins) < c.cfg.WinRateLower*n && c.distance > c.cfg.MinDistance:
			c.distance--
		}
	}
	return c.distance
}

func (c *Curriculum) Stats() CurriculumStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CurriculumStats{
		Distance:    c.distance,
		Games:       c.games,
		RecentWins:  c.wins,
		RecentGames: len(c.recent),
	}
}
