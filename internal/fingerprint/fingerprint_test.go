package fingerprint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/canvaslabs/canvas-sync/internal/canvas"
)

func TestTextNormalizesWhitespace(t *testing.T) {
	t.Parallel()

	a := Text("Week 1:  Introduction\n\nto   algorithms")
	b := Text("Week 1: Introduction to algorithms")
	c := Text("Week 1: Introduction to sorting")

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.Len(t, a, 64)
}

func TestFileFingerprintChangesOnReupload(t *testing.T) {
	t.Parallel()

	uploaded := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	f := canvas.File{
		ID:          42,
		DisplayName: "lecture01.pdf",
		ContentType: "application/pdf",
		Size:        1024,
		UpdatedAt:   &uploaded,
	}
	orig := File(f)
	require.Equal(t, orig, File(f))

	replaced := f
	newTime := uploaded.Add(time.Hour)
	replaced.UpdatedAt = &newTime
	replaced.Size = 2048
	require.NotEqual(t, orig, File(replaced))
}

func TestModuleFingerprintIgnoresItemOrder(t *testing.T) {
	t.Parallel()

	m := canvas.Module{ID: 7, Name: "Week 1", ItemsCount: 2}
	a := canvas.ModuleItem{ID: 1, Type: canvas.ItemTypeFile, ContentID: 10, Title: "Slides"}
	b := canvas.ModuleItem{ID: 2, Type: canvas.ItemTypePage, Title: "Reading"}

	require.Equal(t,
		Module(m, []canvas.ModuleItem{a, b}),
		Module(m, []canvas.ModuleItem{b, a}),
	)

	changed := b
	changed.Title = "Reading list"
	require.NotEqual(t,
		Module(m, []canvas.ModuleItem{a, b}),
		Module(m, []canvas.ModuleItem{a, changed}),
	)
}

func TestPageFingerprintTracksBody(t *testing.T) {
	t.Parallel()

	p := canvas.Page{URL: "syllabus", Title: "Syllabus", Body: "<p>Welcome</p>"}
	orig := Page(p)

	p.Body = "<p>Welcome back</p>"
	require.NotEqual(t, orig, Page(p))
}

func TestTimestampNilSafe(t *testing.T) {
	t.Parallel()

	// nil and zero timestamps must not panic, and nil must be stable
	c := canvas.Course{ID: 1, Name: "X", CourseCode: "X1"}
	require.Equal(t, Course(c), Course(c))
}
