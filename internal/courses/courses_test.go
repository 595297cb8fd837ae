package courses

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burugo/syncstore"
	"github.com/burugo/syncstore/drivers/db/memory"
	remotehttp "github.com/burugo/syncstore/drivers/remote/http"
)

func newCoursesServer(t *testing.T, calls *int32) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var page []APICourse
		switch r.URL.Query().Get("page") {
		case "":
			assert.Equal(t, "2", r.URL.Query().Get("per_page"))
			assert.Contains(t, r.URL.Query()["include[]"], "term")
			page = []APICourse{
				{ID: "10", Name: "biology", IsFavorite: true, Term: &APITerm{Name: "Fall"}},
				{ID: "11", Name: "Algebra", Enrollments: []APIEnrollment{{Type: "student", EnrollmentState: "active"}}},
			}
			w.Header().Set("Link", fmt.Sprintf(`<%s/api/v1/courses?page=2>; rel="next"`, srv.URL))
		case "2":
			page = []APICourse{{ID: "12", Name: "Chemistry", IsFavorite: true}}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(page)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newEnv(t *testing.T, baseURL string) (*syncstore.Environment, *memory.Store) {
	t.Helper()
	remote, err := remotehttp.NewClient(remotehttp.Options{BaseURL: baseURL, Token: "secret"})
	require.NoError(t, err)
	local := memory.New()
	env, err := syncstore.New(syncstore.Config{Remote: remote, Local: local, Logger: log.New(io.Discard, "", 0)})
	require.NoError(t, err)
	return env, local
}

func names(cs []Course) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Name
	}
	return out
}

func TestGetCourses_ExhaustsLinkPages(t *testing.T) {
	var calls int32
	srv := newCoursesServer(t, &calls)
	env, _ := newEnv(t, srv.URL)

	store, err := syncstore.NewStore[Course, []APICourse](env, GetCourses(Options{PerPage: 2}), nil)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Exhaust(context.Background(), false, nil))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, []string{"Algebra", "biology", "Chemistry"}, names(store.All()))

	algebra, ok := store.First()
	require.True(t, ok)
	assert.Equal(t, "active", algebra.EnrollmentState)
	last, ok := store.Last()
	require.True(t, ok)
	assert.Equal(t, "12", last.ID)

	require.NoError(t, store.Exhaust(context.Background(), false, nil))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "fresh cache")
}

func TestFavorites_ObservesSyncedCourses(t *testing.T) {
	var calls int32
	srv := newCoursesServer(t, &calls)
	env, _ := newEnv(t, srv.URL)

	favorites, err := syncstore.NewStore[Course, struct{}](env, Favorites(), nil)
	require.NoError(t, err)
	defer favorites.Close()
	assert.True(t, favorites.IsEmpty())

	rs, err := syncstore.NewReactiveStore[Course, []APICourse](env, GetCourses(Options{PerPage: 2}))
	require.NoError(t, err)
	all, err := rs.GetEntities(context.Background(), true, true)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	assert.Equal(t, []string{"biology", "Chemistry"}, names(favorites.All()))
	fall, ok := favorites.First()
	require.True(t, ok)
	assert.Equal(t, "Fall", fall.TermName)
}

func TestGetCourses_Keys(t *testing.T) {
	assert.Equal(t, "get-courses", GetCourses(Options{}).CacheKey())
	active := GetCourses(Options{EnrollmentState: EnrollmentActive})
	assert.Equal(t, "get-courses-active", active.CacheKey())
	assert.Equal(t, "active", active.Request.Query.Get("enrollment_state"))
	assert.Equal(t, "100", active.Request.Query.Get("per_page"))
	assert.Equal(t, "enrollment_state = ?", active.Scope().Where)

	assert.Equal(t, "is_favorite = ?", GetCourses(Options{ShowFavorites: true}).Scope().Where)
	assert.Equal(t, "get-course-42", GetCourse("42").CacheKey())
	assert.Equal(t, "/api/v1/courses/42", GetCourse("42").Request.Path)
}

func TestGetCourse_UpsertsOne(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/courses/7", r.URL.Path)
		_ = json.NewEncoder(w).Encode(APICourse{ID: "7", Name: "Physics"})
	}))
	defer srv.Close()
	env, local := newEnv(t, srv.URL)

	res, err := syncstore.Fetch[APICourse](context.Background(), env, GetCourse("7"), false)
	require.NoError(t, err)
	assert.Equal(t, "Physics", res.Response.Name)

	var cached []Course
	require.NoError(t, local.Fetch(context.Background(), TableName, syncstore.All(), &cached))
	assert.Equal(t, []string{"Physics"}, names(cached))
}
