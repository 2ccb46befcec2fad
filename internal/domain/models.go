package domain

import "time"

// Question is an authored prompt/answer pair owned by a host.
type Question struct {
	ID     string `json:"id" yaml:"id"`
	Prompt string `json:"prompt" yaml:"prompt"`
	Answer string `json:"answer" yaml:"answer"`
}

// SessionConfig is fixed at setup and never changes for the session's lifetime.
type SessionConfig struct {
	TotalRounds        int    `json:"totalRounds"`
	QuestionsPerRound  int    `json:"questionsPerRound"`
	SecondsPerQuestion int    `json:"secondsPerQuestion"`
	SessionName        string `json:"sessionName"`
}

// TotalQuestions is how many distinct questions a full session consumes.
func (c SessionConfig) TotalQuestions() int {
	return c.TotalRounds * c.QuestionsPerRound
}

// Validate checks that every numeric setting is positive.
func (c SessionConfig) Validate() error {
	if c.TotalRounds <= 0 || c.QuestionsPerRound <= 0 || c.SecondsPerQuestion <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

// Team is a competing team. CumulativeScore always equals the sum of ScoresByRound.
type Team struct {
	Name            string `json:"name"`
	CumulativeScore int    `json:"cumulativeScore"`
	ScoresByRound   []int  `json:"scoresByRound"`
	Placement       int    `json:"placement,omitempty"` // 0 until first ranking
}

// SessionState is the controller's position within a session.
type SessionState struct {
	Phase                Phase `json:"phase"`
	CurrentRound         int   `json:"currentRound"`
	CurrentQuestionIndex int   `json:"currentQuestionIndex"`
	TimeRemaining        int   `json:"timeRemaining"`
	Paused               bool  `json:"paused"`
}

// Snapshot is the read-only view broadcast to the shared screen and observers.
type Snapshot struct {
	SessionName       string        `json:"sessionName"`
	State             SessionState  `json:"state"`
	TotalRounds       int           `json:"totalRounds"`
	QuestionsPerRound int           `json:"questionsPerRound"`
	Question          *PublicPrompt `json:"question,omitempty"`
	CorrectAnswers    []Question    `json:"correctAnswers,omitempty"`
	Teams             []Team        `json:"teams"`
	Error             string        `json:"error,omitempty"`
	UpdatedAt         time.Time     `json:"updatedAt"`
}

// PublicPrompt is a question as shown during a round, without its answer.
type PublicPrompt struct {
	Number int    `json:"number"`
	Prompt string `json:"prompt"`
}

// TeamResult is one team's line in a history record.
type TeamResult struct {
	Name          string `json:"name"`
	ScoresByRound []int  `json:"scoresByRound"`
	TotalScore    int    `json:"totalScore"`
	Placement     int    `json:"placement"`
}

// HistoryRecord is the persisted summary of a finalized session.
type HistoryRecord struct {
	ID                  string       `json:"id"`
	OwnerID             string       `json:"ownerId"`
	QuizID              string       `json:"quizId"`
	SessionName         string       `json:"sessionName"`
	Date                string       `json:"date"` // dd/mm/yyyy
	Time                string       `json:"time"` // hh:mm
	TotalRounds         int          `json:"totalRounds"`
	QuestionsPerRound   int          `json:"questionsPerRound"`
	TotalPossiblePoints int          `json:"totalPossiblePoints"`
	Teams               []TeamResult `json:"teams"`
	CreatedAt           time.Time    `json:"createdAt"`
}

// QuizResult is one entry in a team's archive.
type QuizResult struct {
	QuizID    string    `json:"quizId"`
	QuizName  string    `json:"quizName"`
	Date      time.Time `json:"date"`
	Score     int       `json:"score"`
	Placement int       `json:"placement"`
	Rounds    []int     `json:"rounds"`
}

// TeamArchive is the historical log of a team, keyed by (owner, team name).
type TeamArchive struct {
	OwnerID  string       `json:"ownerId"`
	TeamName string       `json:"teamName"`
	Quizzes  []QuizResult `json:"quizzes"`
}

// TeamStats summarizes a team's performance within one history record.
type TeamStats struct {
	Name              string  `json:"name"`
	AverageScore      float64 `json:"averageScore"`
	HighestRound      int     `json:"highestRound"`
	LowestRound       int     `json:"lowestRound"`
	PercentOfPossible float64 `json:"percentOfPossible"`
}
