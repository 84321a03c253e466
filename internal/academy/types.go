// Package academy holds the local-first course store: courses, lessons,
// tests and certificates cached over durable storage and pushed to the
// remote academy service in the background.
package academy

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// OnboardingData is the questionnaire a user fills in before courses are
// generated. It lives only on the server.
type OnboardingData struct {
	BusinessType               string   `json:"businessType,omitempty"`
	BusinessStage              string   `json:"businessStage,omitempty"` // idea, startup, growing, mature
	Industry                   string   `json:"industry,omitempty"`
	TargetAudience             string   `json:"targetAudience,omitempty"`
	MonthlyRevenue             float64  `json:"monthlyRevenue,omitempty"`
	EmployeesCount             int      `json:"employeesCount,omitempty"`
	BusinessGoals              []string `json:"businessGoals,omitempty"`
	Challenges                 []string `json:"challenges,omitempty"`
	FinancialLiteracy          int      `json:"financialLiteracy,omitempty"` // 1-10
	EntrepreneurshipExperience int      `json:"entrepreneurshipExperience,omitempty"`
	PreferredFormat            string   `json:"preferredFormat,omitempty"` // text, video, interactive, slides
	WeeklyHours                float64  `json:"weeklyHours,omitempty"`
	LearningHours              float64  `json:"learningHours,omitempty"`
}

// Course is one generated learning unit. Lessons is the lesson count; the
// lessons themselves are stored separately under the course id.
type Course struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	Icon            string          `json:"icon"`
	Lessons         int             `json:"lessons"`
	Duration        string          `json:"duration"`
	Progress        int             `json:"progress"`
	Completed       bool            `json:"completed"`
	InProgress      bool            `json:"inProgress"`
	GeneratedAt     string          `json:"generatedAt"`
	PersonalizedFor *OnboardingData `json:"personalizedFor,omitempty"`
	Test            *Test           `json:"test,omitempty"`
}

// LessonType classifies lesson content.
type LessonType string

const (
	LessonTheory     LessonType = "theory"
	LessonPractice   LessonType = "practice"
	LessonSimulation LessonType = "simulation"
	LessonTemplate   LessonType = "template"
	LessonTest       LessonType = "test"
)

// Lesson belongs to exactly one course, referenced by CourseID.
type Lesson struct {
	ID            string        `json:"id"`
	CourseID      string        `json:"courseId,omitempty"`
	Title         string        `json:"title"`
	Type          LessonType    `json:"type"`
	Content       LessonContent `json:"content"`
	Duration      string        `json:"duration"`
	Order         int           `json:"order"`
	Locked        bool          `json:"locked"`
	Completed     bool          `json:"completed"`
	InProgress    bool          `json:"inProgress"`
	PracticalTask string        `json:"practicalTask,omitempty"`
}

type LessonContent struct {
	Slides       []Slide       `json:"slides,omitempty"`
	Infographics []Infographic `json:"infographics,omitempty"`
	Examples     []Example     `json:"examples,omitempty"`
	Templates    []Template    `json:"templates,omitempty"`
	Test         *Test         `json:"test,omitempty"`
}

type Slide struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Order   int    `json:"order"`
}

type Infographic struct {
	ID    string          `json:"id"`
	Title string          `json:"title"`
	Type  string          `json:"type"` // chart, diagram, flowchart
	Data  json.RawMessage `json:"data,omitempty"`
}

type Example struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Industry    string   `json:"industry"`
	Steps       []string `json:"steps"`
}

type Template struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Type  string `json:"type"` // excel, pdf, doc
	URL   string `json:"url"`
}

// Test is the optional final test of a course. PassingScore 100 means no
// mistakes are allowed.
type Test struct {
	ID           string     `json:"id"`
	Questions    []Question `json:"questions"`
	PassingScore int        `json:"passingScore"`
	AttemptsLeft int        `json:"attemptsLeft"`
	Passed       bool       `json:"passed"`
}

// QuestionType is single, multiple or text.
type QuestionType string

const (
	QuestionSingle   QuestionType = "single"
	QuestionMultiple QuestionType = "multiple"
	QuestionText     QuestionType = "text"
)

type Question struct {
	ID            string       `json:"id"`
	Text          string       `json:"text"`
	Type          QuestionType `json:"type"`
	Options       []string     `json:"options,omitempty"`
	CorrectAnswer Answer       `json:"correctAnswer"`
	Explanation   string       `json:"explanation,omitempty"`
}

// TestAttempt is an immutable record of one test submission.
type TestAttempt struct {
	ID          string            `json:"id"`
	TestID      string            `json:"testId"`
	Answers     map[string]Answer `json:"answers"`
	Score       int               `json:"score"`
	Passed      bool              `json:"passed"`
	CompletedAt string            `json:"completedAt"`
}

type Certificate struct {
	ID             string   `json:"id"`
	UserID         int64    `json:"userId"`
	UserName       string   `json:"userName"`
	Courses        []string `json:"courses"`
	CompletedAt    string   `json:"completedAt"`
	CertificateURL string   `json:"certificateUrl,omitempty"`
	ShareURL       string   `json:"shareUrl,omitempty"`
}

// CourseProgress is the server's per-course completion record.
type CourseProgress struct {
	CompletedLessons []string `json:"completedLessons"`
	TotalLessons     int      `json:"totalLessons"`
}

// Snapshot is the full academy state of one user as held by the server.
type Snapshot struct {
	Onboarding   *OnboardingData           `json:"onboarding"`
	Courses      []Course                  `json:"courses"`
	Lessons      map[string][]Lesson       `json:"lessons"`
	Progress     map[string]CourseProgress `json:"progress"`
	TestAttempts map[string][]TestAttempt  `json:"testAttempts"`
	Certificate  *Certificate              `json:"certificate"`
}

// EmptySnapshot returns a snapshot with every collection empty.
func EmptySnapshot() Snapshot {
	return Snapshot{
		Courses:      []Course{},
		Lessons:      map[string][]Lesson{},
		Progress:     map[string]CourseProgress{},
		TestAttempts: map[string][]TestAttempt{},
	}
}

// Answer is either a single string or a list of strings, matching the two
// JSON shapes used for answers and correct answers.
type Answer struct {
	Values   []string
	Multiple bool
}

// SingleAnswer returns a one-value answer encoded as a JSON string.
func SingleAnswer(v string) Answer {
	return Answer{Values: []string{v}}
}

// MultipleAnswer returns an answer encoded as a JSON array.
func MultipleAnswer(vs ...string) Answer {
	if vs == nil {
		vs = []string{}
	}
	return Answer{Values: vs, Multiple: true}
}

// String returns the single value, or the first of several.
func (a Answer) String() string {
	if len(a.Values) == 0 {
		return ""
	}
	return a.Values[0]
}

func (a Answer) MarshalJSON() ([]byte, error) {
	if a.Multiple {
		if a.Values == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(a.Values)
	}
	return json.Marshal(a.String())
}

func (a *Answer) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*a = Answer{}
		return nil
	case len(data) > 0 && data[0] == '[':
		var vs []string
		if err := json.Unmarshal(data, &vs); err != nil {
			return fmt.Errorf("decode answer list: %w", err)
		}
		*a = MultipleAnswer(vs...)
		return nil
	default:
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("decode answer: %w", err)
		}
		*a = SingleAnswer(v)
		return nil
	}
}
