package canvas

import "time"

// Course is a Canvas course as returned by the courses endpoints.
type Course struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	CourseCode  string       `json:"course_code"`
	UpdatedAt   *time.Time   `json:"updated_at,omitempty"`
	Term        *Term        `json:"term,omitempty"`
	Enrollments []Enrollment `json:"enrollments,omitempty"`
}

// Active reports whether the caller's enrollment in the course is active.
func (c Course) Active() bool {
	return len(c.Enrollments) > 0 && c.Enrollments[0].EnrollmentState == "active"
}

// Term is an enrollment term attached to a course.
type Term struct {
	ID      int64      `json:"id"`
	Name    string     `json:"name"`
	StartAt *time.Time `json:"start_at,omitempty"`
	EndAt   *time.Time `json:"end_at,omitempty"`
}

// Enrollment is the caller's enrollment in a course.
type Enrollment struct {
	Type            string `json:"type"`
	Role            string `json:"role"`
	EnrollmentState string `json:"enrollment_state"`
}

// Module is a Canvas course module.
type Module struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	Position   int        `json:"position"`
	ItemsCount int        `json:"items_count"`
	State      string     `json:"state"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
}

// Module item types used by the sync engine.
const (
	ItemTypeFile       = "File"
	ItemTypePage       = "Page"
	ItemTypeAssignment = "Assignment"
	ItemTypeQuiz       = "Quiz"
	ItemTypeSubHeader  = "SubHeader"
	ItemTypeExternal   = "ExternalUrl"
)

// ModuleItem is a single entry inside a module.
type ModuleItem struct {
	ID        int64      `json:"id"`
	ModuleID  int64      `json:"module_id"`
	Position  int        `json:"position"`
	Title     string     `json:"title"`
	Type      string     `json:"type"`
	ContentID int64      `json:"content_id"`
	PageURL   string     `json:"page_url,omitempty"`
	HTMLURL   string     `json:"html_url,omitempty"`
	URL       string     `json:"url,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Page is a Canvas wiki page with its body.
type Page struct {
	PageID    int64      `json:"page_id"`
	URL       string     `json:"url"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
	Published bool       `json:"published"`
}

// File is a Canvas file record. URL is a short-lived download link.
type File struct {
	ID          int64      `json:"id"`
	DisplayName string     `json:"display_name"`
	Filename    string     `json:"filename"`
	ContentType string     `json:"content-type"`
	URL         string     `json:"url"`
	Size        int64      `json:"size"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
	ModifiedAt  *time.Time `json:"modified_at,omitempty"`
	Locked      bool       `json:"locked"`
}

// Assignment is a Canvas assignment, fetched for due date tracking.
type Assignment struct {
	ID             int64      `json:"id"`
	Name           string     `json:"name"`
	Description    string     `json:"description"`
	DueAt          *time.Time `json:"due_at,omitempty"`
	LockAt         *time.Time `json:"lock_at,omitempty"`
	UnlockAt       *time.Time `json:"unlock_at,omitempty"`
	PointsPossible float64    `json:"points_possible"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
	Published      bool       `json:"published"`
	HTMLURL        string     `json:"html_url"`
}

// Quiz is a Canvas quiz summary.
type Quiz struct {
	ID             int64      `json:"id"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	DueAt          *time.Time `json:"due_at,omitempty"`
	LockAt         *time.Time `json:"lock_at,omitempty"`
	UnlockAt       *time.Time `json:"unlock_at,omitempty"`
	PointsPossible float64    `json:"points_possible"`
	QuestionCount  int        `json:"question_count"`
	TimeLimit      *float64   `json:"time_limit,omitempty"`
	Published      bool       `json:"published"`
	HTMLURL        string     `json:"html_url"`
}

// DueItem is a due-date entry aggregated across assignments and quizzes.
type DueItem struct {
	CourseID int64     `json:"course_id"`
	Kind     string    `json:"kind"` // "assignment" or "quiz"
	ID       int64     `json:"id"`
	Title    string    `json:"title"`
	DueAt    time.Time `json:"due_at"`
	Points   float64   `json:"points"`
	HTMLURL  string    `json:"html_url"`
}
