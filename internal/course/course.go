// Package course models the course/module/lesson hierarchy used by the player
// and derives lesson identifiers, completion percentages, and embeddable video
// URLs from it.
package course

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidLessonID is returned when a lesson identifier cannot be parsed.
var ErrInvalidLessonID = errors.New("invalid lesson id")

// Lesson is a single video inside a module.
type Lesson struct {
	Title     string `json:"title"`
	VideoURL  string `json:"videoUrl"`
	Duration  string `json:"duration"`
	IsPreview bool   `json:"isPreview"`
}

// Module groups lessons.
type Module struct {
	Title   string   `json:"title"`
	Lessons []Lesson `json:"lessons"`
}

// Course is the catalog entry a viewer is watching.
type Course struct {
	ID        string   `json:"_id"`
	Title     string   `json:"title"`
	IsPremium bool     `json:"isPremium"`
	Modules   []Module `json:"modules"`
}

// Position addresses a lesson by module and lesson index.
type Position struct {
	Module int
	Lesson int
}

// ID returns the composite lesson identifier "<module>-<lesson>".
func (p Position) ID() string {
	return LessonID(p.Module, p.Lesson)
}

// LessonID builds the composite identifier used by the progress API.
func LessonID(module, lesson int) string {
	return strconv.Itoa(module) + "-" + strconv.Itoa(lesson)
}

// ParseLessonID splits a composite identifier back into its indices.
func ParseLessonID(id string) (Position, error) {
	mod, les, ok := strings.Cut(id, "-")
	if !ok {
		return Position{}, fmt.Errorf("%w: %q", ErrInvalidLessonID, id)
	}
	m, err := strconv.Atoi(mod)
	if err != nil || m < 0 {
		return Position{}, fmt.Errorf("%w: %q", ErrInvalidLessonID, id)
	}
	l, err := strconv.Atoi(les)
	if err != nil || l < 0 {
		return Position{}, fmt.Errorf("%w: %q", ErrInvalidLessonID, id)
	}
	return Position{Module: m, Lesson: l}, nil
}

// TotalLessons counts lessons across all modules.
func (c Course) TotalLessons() int {
	total := 0
	for _, m := range c.Modules {
		total += len(m.Lessons)
	}
	return total
}

// Lesson returns the lesson at p.
func (c Course) Lesson(p Position) (Lesson, bool) {
	if p.Module < 0 || p.Module >= len(c.Modules) {
		return Lesson{}, false
	}
	lessons := c.Modules[p.Module].Lessons
	if p.Lesson < 0 || p.Lesson >= len(lessons) {
		return Lesson{}, false
	}
	return lessons[p.Lesson], true
}

// Playable reports whether a viewer may watch the lesson at p.
func (c Course) Playable(p Position, enrolled bool) bool {
	lesson, ok := c.Lesson(p)
	if !ok || lesson.VideoURL == "" {
		return false
	}
	return lesson.IsPreview || !c.IsPremium || enrolled
}

// Percent is the rounded share of completed lessons, clamped to [0, 100].
func Percent(completed, total int) int {
	if total <= 0 || completed <= 0 {
		return 0
	}
	pct := int(math.Round(float64(completed) / float64(total) * 100))
	if pct > 100 {
		return 100
	}
	return pct
}
