// Package courses binds the courses API onto syncstore use cases.
package courses

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/burugo/syncstore"
)

// TableName is the local table courses live in.
const TableName = "courses"

// Course is the locally cached course.
type Course struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	CourseCode      string `json:"course_code"`
	WorkflowState   string `json:"workflow_state"`
	IsFavorite      bool   `json:"is_favorite"`
	EnrollmentState string `json:"enrollment_state"`
	TermName        string `json:"term_name"`
}

func (c Course) GetID() string     { return c.ID }
func (c Course) TableName() string { return TableName }

// APICourse is a course as the API returns it.
type APICourse struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	CourseCode    string          `json:"course_code"`
	WorkflowState string          `json:"workflow_state"`
	IsFavorite    bool            `json:"is_favorite"`
	Enrollments   []APIEnrollment `json:"enrollments"`
	Term          *APITerm        `json:"term"`
}

type APIEnrollment struct {
	Type            string `json:"type"`
	EnrollmentState string `json:"enrollment_state"`
}

type APITerm struct {
	Name string `json:"name"`
}

// ToCourse flattens an API course into its cached form.
func (a APICourse) ToCourse() Course {
	c := Course{
		ID:            a.ID,
		Name:          a.Name,
		CourseCode:    a.CourseCode,
		WorkflowState: a.WorkflowState,
		IsFavorite:    a.IsFavorite,
	}
	if len(a.Enrollments) > 0 {
		c.EnrollmentState = a.Enrollments[0].EnrollmentState
	}
	if a.Term != nil {
		c.TermName = a.Term.Name
	}
	return c
}

// EnrollmentState filters the courses listing.
type EnrollmentState string

const (
	EnrollmentActive           EnrollmentState = "active"
	EnrollmentInvitedOrPending EnrollmentState = "invited_or_pending"
	EnrollmentCompleted        EnrollmentState = "completed"
)

var includes = []string{"banner_image", "course_image", "favorites", "sections", "term", "total_scores"}

// Options select which courses GetCourses lists.
type Options struct {
	ShowFavorites   bool
	EnrollmentState EnrollmentState // "" lists every course
	PerPage         int
}

// GetCourses lists the user's courses, page by page. It is a collection
// use case: a full refresh drops the cached courses the API no longer returns.
func GetCourses(opts Options) *syncstore.APIUseCase[Course, []APICourse] {
	if opts.PerPage <= 0 {
		opts.PerPage = 100
	}

	query := url.Values{"per_page": {strconv.Itoa(opts.PerPage)}, "include[]": includes}
	key := "get-courses"
	if opts.EnrollmentState != "" {
		query.Set("enrollment_state", string(opts.EnrollmentState))
		key += "-" + string(opts.EnrollmentState)
	}

	var scope syncstore.Scope
	switch {
	case opts.ShowFavorites:
		scope = syncstore.Where("is_favorite", true)
	case opts.EnrollmentState != "":
		scope = syncstore.Where("enrollment_state", string(opts.EnrollmentState))
	}
	scope = scope.OrderByLocalized("name", false).OrderBy("id")

	return &syncstore.APIUseCase[Course, []APICourse]{
		BaseUseCase: syncstore.BaseUseCase{Query: scope, Key: key},
		Request:     syncstore.Request{Method: http.MethodGet, Path: "/api/v1/courses", Query: query},
		Save:        toCourses,
		Collection:  true,
	}
}

// GetCourse fetches one course.
func GetCourse(courseID string) *syncstore.APIUseCase[Course, APICourse] {
	return &syncstore.APIUseCase[Course, APICourse]{
		BaseUseCase: syncstore.BaseUseCase{
			Query: syncstore.Where("id", courseID),
			Key:   "get-course-" + courseID,
		},
		Request: syncstore.Request{
			Method: http.MethodGet,
			Path:   "/api/v1/courses/" + url.PathEscape(courseID),
			Query:  url.Values{"include[]": includes},
		},
		Save: func(a APICourse) []Course { return []Course{a.ToCourse()} },
	}
}

// Favorites is a local-only use case over the favorite courses.
func Favorites() *syncstore.LocalUseCase[Course] {
	return &syncstore.LocalUseCase[Course]{
		BaseUseCase: syncstore.BaseUseCase{
			Query: syncstore.Where("is_favorite", true).OrderByLocalized("name", false).OrderBy("id"),
		},
	}
}

func toCourses(response []APICourse) []Course {
	out := make([]Course, len(response))
	for i, a := range response {
		out[i] = a.ToCourse()
	}
	return out
}
