package catalog

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/p-n-ai/pai-academy/internal/academy"
)

// rawCourse is the on-disk YAML shape of a bundle.
type rawCourse struct {
	ID          string      `yaml:"id"`
	Title       string      `yaml:"title"`
	Description string      `yaml:"description"`
	Icon        string      `yaml:"icon"`
	Duration    string      `yaml:"duration"`
	GeneratedAt string      `yaml:"generated_at"`
	Lessons     []rawLesson `yaml:"lessons"`
	Test        *rawTest    `yaml:"test"`
}

type rawLesson struct {
	ID            string             `yaml:"id"`
	Title         string             `yaml:"title"`
	Type          academy.LessonType `yaml:"type"`
	Duration      string             `yaml:"duration"`
	PracticalTask string             `yaml:"practical_task"`
	Slides        []rawSlide         `yaml:"slides"`
	Examples      []rawExample       `yaml:"examples"`
	Templates     []rawTemplate      `yaml:"templates"`
}

type rawSlide struct {
	ID      string `yaml:"id"`
	Title   string `yaml:"title"`
	Content string `yaml:"content"`
	Order   int    `yaml:"order"`
}

type rawExample struct {
	ID          string   `yaml:"id"`
	Title       string   `yaml:"title"`
	Description string   `yaml:"description"`
	Industry    string   `yaml:"industry"`
	Steps       []string `yaml:"steps"`
}

type rawTemplate struct {
	ID    string `yaml:"id"`
	Title string `yaml:"title"`
	Type  string `yaml:"type"`
	URL   string `yaml:"url"`
}

type rawTest struct {
	ID           string        `yaml:"id"`
	PassingScore *int          `yaml:"passing_score"`
	AttemptsLeft *int          `yaml:"attempts_left"`
	Questions    []rawQuestion `yaml:"questions"`
}

type rawQuestion struct {
	ID            string               `yaml:"id"`
	Text          string               `yaml:"text"`
	Type          academy.QuestionType `yaml:"type"`
	Options       []string             `yaml:"options"`
	CorrectAnswer any                  `yaml:"correct_answer"`
	Explanation   string               `yaml:"explanation"`
}

// lesson converts the i-th lesson of courseID, filling in defaults. Only the
// first lesson starts unlocked.
func (r rawLesson) lesson(courseID string, i int) academy.Lesson {
	l := academy.Lesson{
		ID:            cmpOr(r.ID, "lesson_"+courseID+"_"+strconv.Itoa(i)),
		CourseID:      courseID,
		Title:         cmpOr(r.Title, "Lesson "+strconv.Itoa(i+1)),
		Type:          r.Type,
		Duration:      cmpOr(r.Duration, defaultLessonDuration),
		Order:         i + 1,
		Locked:        i > 0,
		PracticalTask: r.PracticalTask,
	}
	if l.Type == "" {
		l.Type = academy.LessonTheory
	}

	for j, s := range r.Slides {
		order := s.Order
		if order == 0 {
			order = j + 1
		}
		l.Content.Slides = append(l.Content.Slides, academy.Slide{
			ID:      cmpOr(s.ID, fmt.Sprintf("%s_slide_%d", l.ID, j+1)),
			Title:   s.Title,
			Content: s.Content,
			Order:   order,
		})
	}
	for j, e := range r.Examples {
		l.Content.Examples = append(l.Content.Examples, academy.Example{
			ID:          cmpOr(e.ID, fmt.Sprintf("%s_example_%d", l.ID, j+1)),
			Title:       e.Title,
			Description: e.Description,
			Industry:    e.Industry,
			Steps:       e.Steps,
		})
	}
	for j, t := range r.Templates {
		l.Content.Templates = append(l.Content.Templates, academy.Template{
			ID:    cmpOr(t.ID, fmt.Sprintf("%s_template_%d", l.ID, j+1)),
			Title: t.Title,
			Type:  t.Type,
			URL:   t.URL,
		})
	}
	return l
}

func (r rawTest) test(courseID string) (academy.Test, error) {
	t := academy.Test{
		ID:           cmpOr(r.ID, "test_"+courseID),
		PassingScore: defaultPassingScore,
		AttemptsLeft: academy.MaxFailedAttempts,
		Questions:    make([]academy.Question, 0, len(r.Questions)),
	}
	if r.PassingScore != nil {
		t.PassingScore = *r.PassingScore
	}
	if r.AttemptsLeft != nil {
		t.AttemptsLeft = *r.AttemptsLeft
	}
	for i, rq := range r.Questions {
		q, err := rq.question(fmt.Sprintf("q%d", i+1))
		if err != nil {
			return academy.Test{}, err
		}
		t.Questions = append(t.Questions, q)
	}
	return t, nil
}

// question resolves the correct answer. Options ending in "*" are correct and
// take precedence over an explicit correct_answer.
func (r rawQuestion) question(defaultID string) (academy.Question, error) {
	q := academy.Question{
		ID:          cmpOr(r.ID, defaultID),
		Text:        r.Text,
		Type:        r.Type,
		Explanation: r.Explanation,
	}

	var starred []string
	for _, opt := range r.Options {
		if text, ok := strings.CutSuffix(opt, "*"); ok {
			text = strings.TrimSpace(text)
			starred = append(starred, text)
			opt = text
		}
		q.Options = append(q.Options, opt)
	}

	switch {
	case len(starred) > 0 && q.Type == academy.QuestionMultiple:
		q.CorrectAnswer = academy.MultipleAnswer(starred...)
	case len(starred) > 0:
		q.CorrectAnswer = academy.SingleAnswer(starred[0])
	default:
		a, err := toAnswer(r.CorrectAnswer)
		if err != nil {
			return academy.Question{}, fmt.Errorf("question %s: %w", q.ID, err)
		}
		q.CorrectAnswer = a
	}
	return q, nil
}

func toAnswer(v any) (academy.Answer, error) {
	switch v := v.(type) {
	case nil:
		return academy.Answer{}, nil
	case string:
		return academy.SingleAnswer(v), nil
	case []any:
		vals := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return academy.Answer{}, fmt.Errorf("%w: correct_answer item %v is not a string", ErrInvalidBundle, item)
			}
			vals = append(vals, s)
		}
		return academy.MultipleAnswer(vals...), nil
	default:
		return academy.Answer{}, fmt.Errorf("%w: correct_answer has type %T", ErrInvalidBundle, v)
	}
}
