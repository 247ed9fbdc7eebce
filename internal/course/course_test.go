package course

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLessonIDRoundTrip(t *testing.T) {
	t.Parallel()

	id := LessonID(2, 11)
	require.Equal(t, "2-11", id)

	pos, err := ParseLessonID(id)
	require.NoError(t, err)
	require.Equal(t, Position{Module: 2, Lesson: 11}, pos)
	require.Equal(t, id, pos.ID())
}

func TestParseLessonIDInvalid(t *testing.T) {
	t.Parallel()

	for _, id := range []string{"", "3", "a-1", "1-b", "-1-2", "1--2"} {
		_, err := ParseLessonID(id)
		require.Error(t, err, id)
		require.True(t, errors.Is(err, ErrInvalidLessonID), id)
	}
}

func TestCourseTotalsAndPlayable(t *testing.T) {
	t.Parallel()

	c := Course{
		IsPremium: true,
		Modules: []Module{
			{Lessons: []Lesson{{VideoURL: "v1", IsPreview: true}, {VideoURL: "v2"}}},
			{Lessons: []Lesson{{VideoURL: ""}}},
		},
	}
	require.Equal(t, 3, c.TotalLessons())
	require.True(t, c.Playable(Position{Module: 0, Lesson: 0}, false))
	require.False(t, c.Playable(Position{Module: 0, Lesson: 1}, false))
	require.True(t, c.Playable(Position{Module: 0, Lesson: 1}, true))
	require.False(t, c.Playable(Position{Module: 1, Lesson: 0}, true))
	require.False(t, c.Playable(Position{Module: 4, Lesson: 0}, true))
}

func TestPercent(t *testing.T) {
	t.Parallel()

	require.Equal(t, 0, Percent(0, 10))
	require.Equal(t, 0, Percent(3, 0))
	require.Equal(t, 33, Percent(1, 3))
	require.Equal(t, 67, Percent(2, 3))
	require.Equal(t, 100, Percent(3, 3))
	require.Equal(t, 100, Percent(5, 3))
}

func TestEmbedURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"https://www.youtube.com/embed/abc", "https://www.youtube.com/embed/abc?enablejsapi=1"},
		{"https://www.youtube.com/embed/abc?rel=0", "https://www.youtube.com/embed/abc?rel=0&enablejsapi=1"},
		{
			"https://www.youtube.com/watch?v=xyz&t=10",
			"https://www.youtube.com/embed/xyz?enablejsapi=1&origin=https%3A%2F%2Fcourses.example.com",
		},
		{
			"https://youtu.be/short1?si=foo",
			"https://www.youtube.com/embed/short1?enablejsapi=1&origin=https%3A%2F%2Fcourses.example.com",
		},
		{"https://cdn.example.com/video.mp4", "https://cdn.example.com/video.mp4"},
		{"", ""},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, EmbedURL(tt.in, "https://courses.example.com"), tt.in)
	}
}
