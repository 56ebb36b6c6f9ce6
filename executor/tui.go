package main

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/brensch/cubezero/cube"
	"github.com/brensch/cubezero/executor/selfplay"
)

type GameUpdate struct {
	WorkerID int
	Result   selfplay.Result
	Examples int
}

type model struct {
	gamesPlayed   int
	wins          int
	totalExamples int
	moves         int64
	inferences    int64
	curriculum    selfplay.CurriculumStats
	startTime     time.Time
	recentGames   []string

	updates         <-chan GameUpdate
	curriculumStats func() selfplay.CurriculumStats
}

func initialModel(updates <-chan GameUpdate, curriculum func() selfplay.CurriculumStats) model {
	return model{
		startTime:       time.Now(),
		updates:         updates,
		curriculumStats: curriculum,
	}
}

type TickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Millisecond*100, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m model) Init() tea.Cmd {
	return tea.Batch(waitForUpdate(m.updates), tickCmd())
}

// waitForUpdate delivers the next game. It yields no message once updates is
// closed, which stops the wait loop.
func waitForUpdate(updates <-chan GameUpdate) tea.Cmd {
	return func() tea.Msg {
		u, ok := <-updates
		if !ok {
			return nil
		}
		return u
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case TickMsg:
		m.moves = totalMoves.Load()
		m.inferences = totalInferences.Load()
		if m.curriculumStats != nil {
			m.curriculum = m.curriculumStats()
		}
		return m, tickCmd()
	case GameUpdate:
		m.gamesPlayed++
		if msg.Result.Win {
			m.wins++
		}
		m.totalExamples += msg.Examples
		m.recentGames = append([]string{formatGame(msg)}, m.recentGames...)
		if len(m.recentGames) > 10 {
			m.recentGames = m.recentGames[:10]
		}
		return m, waitForUpdate(m.updates)
	}
	return m, nil
}

func formatGame(u GameUpdate) string {
	result := "lost"
	if u.Result.Win {
		result = "solved"
	}
	return fmt.Sprintf("Worker %d: dist %d %s in %d moves, Ex %d [%s]",
		u.WorkerID, u.Result.Distance, result, u.Result.Moves, u.Examples, cube.FormatMoves(u.Result.Solution))
}

func (m model) View() string {
	duration := time.Since(m.startTime)
	var gamesPerSec, movesPerSec, inferencesPerSec float64
	if secs := duration.Seconds(); secs >= 1 {
		gamesPerSec = float64(m.gamesPlayed) / secs
		movesPerSec = float64(m.moves) / secs
		inferencesPerSec = float64(m.inferences) / secs
	}
	winRate := 0.0
	if m.curriculum.RecentGames > 0 {
		winRate = float64(m.curriculum.RecentWins) / float64(m.curriculum.RecentGames)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Games Played:     %d (%d solved)\n", m.gamesPlayed, m.wins)
	fmt.Fprintf(&sb, "Scramble Dist:    %d (recent win rate %.2f over %d)\n", m.curriculum.Distance, winRate, m.curriculum.RecentGames)
	fmt.Fprintf(&sb, "Total Examples:   %d\n", m.totalExamples)
	fmt.Fprintf(&sb, "Total Moves:      %d\n", m.moves)
	fmt.Fprintf(&sb, "Total Inferences: %d\n", m.inferences)
	fmt.Fprintf(&sb, "Duration:         %s\n", duration.Round(time.Second))
	fmt.Fprintf(&sb, "Games/Sec:        %.2f\n", gamesPerSec)
	fmt.Fprintf(&sb, "Moves/Sec:        %.2f\n", movesPerSec)
	fmt.Fprintf(&sb, "Inferences/Sec:   %.2f\n\n", inferencesPerSec)

	sb.WriteString("Recent Games:\n")
	for _, g := range m.recentGames {
		sb.WriteString(g + "\n")
	}

	sb.WriteString("\nPress q to quit.\n")
	return sb.String()
}
