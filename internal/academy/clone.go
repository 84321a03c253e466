package academy

import (
	"bytes"
	"slices"
)

// Clone returns a deep copy of c.
func (c Course) Clone() Course {
	if c.PersonalizedFor != nil {
		p := c.PersonalizedFor.Clone()
		c.PersonalizedFor = &p
	}
	if c.Test != nil {
		t := c.Test.Clone()
		c.Test = &t
	}
	return c
}

// Clone returns a deep copy of d.
func (d OnboardingData) Clone() OnboardingData {
	d.BusinessGoals = slices.Clone(d.BusinessGoals)
	d.Challenges = slices.Clone(d.Challenges)
	return d
}

// Clone returns a deep copy of l.
func (l Lesson) Clone() Lesson {
	l.Content = l.Content.Clone()
	return l
}

// Clone returns a deep copy of c.
func (c LessonContent) Clone() LessonContent {
	c.Slides = slices.Clone(c.Slides)
	c.Templates = slices.Clone(c.Templates)
	if c.Infographics != nil {
		infographics := make([]Infographic, len(c.Infographics))
		for i, g := range c.Infographics {
			g.Data = bytes.Clone(g.Data)
			infographics[i] = g
		}
		c.Infographics = infographics
	}
	if c.Examples != nil {
		examples := make([]Example, len(c.Examples))
		for i, e := range c.Examples {
			e.Steps = slices.Clone(e.Steps)
			examples[i] = e
		}
		c.Examples = examples
	}
	if c.Test != nil {
		t := c.Test.Clone()
		c.Test = &t
	}
	return c
}

// Clone returns a deep copy of t.
func (t Test) Clone() Test {
	if t.Questions != nil {
		questions := make([]Question, len(t.Questions))
		for i, q := range t.Questions {
			q.Options = slices.Clone(q.Options)
			q.CorrectAnswer.Values = slices.Clone(q.CorrectAnswer.Values)
			questions[i] = q
		}
		t.Questions = questions
	}
	return t
}

func cloneCourses(courses []Course) []Course {
	if courses == nil {
		return nil
	}
	out := make([]Course, len(courses))
	for i, c := range courses {
		out[i] = c.Clone()
	}
	return out
}

func cloneLessons(lessons []Lesson) []Lesson {
	if lessons == nil {
		return nil
	}
	out := make([]Lesson, len(lessons))
	for i, l := range lessons {
		out[i] = l.Clone()
	}
	return out
}
