package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/pylearn/internal/app"
	"github.com/felixgeelhaar/pylearn/internal/catalog"
	"github.com/felixgeelhaar/pylearn/internal/challenge"
	"github.com/felixgeelhaar/pylearn/internal/config"
	"github.com/felixgeelhaar/pylearn/internal/domain"
	"github.com/felixgeelhaar/pylearn/internal/progress"
	"github.com/felixgeelhaar/pylearn/internal/runner"
	"github.com/felixgeelhaar/pylearn/internal/storage"
)

// stubGateway echoes canned output and can hold a run open
type stubGateway struct {
	mu      sync.Mutex
	output  string
	release chan struct{}
	started chan struct{}
}

func (g *stubGateway) IsReady() bool                        { return true }
func (g *stubGateway) Initialize(ctx context.Context) error { return nil }
func (g *stubGateway) OnStatus(obs runner.Observer)         {}
func (g *stubGateway) Status() (runner.Status, error)       { return runner.StatusReady, nil }

func (g *stubGateway) Run(ctx context.Context, code string) (runner.Result, error) {
	g.mu.Lock()
	out, release, started := g.output, g.release, g.started
	g.mu.Unlock()
	if started != nil {
		close(started)
	}
	if release != nil {
		<-release
	}
	return runner.Result{Output: out}, nil
}

func (g *stubGateway) say(out string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.output = out
}

func (g *stubGateway) hold() (started, release chan struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.started = make(chan struct{})
	g.release = make(chan struct{})
	return g.started, g.release
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	challenges := func(prefix string) map[domain.Difficulty]*domain.Challenge {
		out := map[domain.Difficulty]*domain.Challenge{}
		for _, d := range domain.Difficulties() {
			out[d] = &domain.Challenge{
				Title:      prefix + " " + string(d),
				Validation: domain.OutputMatch{Expected: prefix + "-" + string(d)},
				Hints:      []string{"look again"},
			}
		}
		return out
	}
	c, err := catalog.New([]*domain.Lesson{
		{
			ID:    1,
			Title: "Hello, World",
			Quiz: []domain.Question{
				{Question: "Which prints?", Options: []string{"echo", "print"}, Correct: 1},
			},
			Challenges: challenges("one"),
		},
		{ID: 2, Title: "Variables", Challenges: challenges("two")},
	}, map[int]*domain.Reference{
		1: {LessonID: 1, Title: "Printing"},
	})
	require.NoError(t, err)
	return c
}

type fixture struct {
	srv *Server
	gw  *stubGateway
}

func newFixture(t *testing.T, mutate ...func(*config.LocalConfig)) *fixture {
	t.Helper()
	cfg := config.DefaultLocalConfig()
	for _, m := range mutate {
		m(cfg)
	}

	cat := testCatalog(t)
	gw := &stubGateway{}
	ctrl := app.New(app.Deps{
		Catalog:  cat,
		Progress: progress.NewStore(storage.NewMemory()),
		Gateway:  gw,
	}, app.Config{FeedbackDelay: time.Minute})
	require.NoError(t, ctrl.Start(context.Background()))

	srv, err := NewServer(ServerConfig{
		Config:     cfg,
		Controller: ctrl,
		Catalog:    cat,
		Runtime:    "fake",
		Version:    "test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	return &fixture{srv: srv, gw: gw}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// waitPhase polls until a zero-delay transition has been applied
func (f *fixture) waitPhase(t *testing.T, phase app.Phase) {
	t.Helper()
	require.Eventually(t, func() bool {
		rec := f.do(t, http.MethodGet, "/v1/state", nil)
		return decode[app.ViewModel](t, rec).Phase == phase
	}, time.Second, 5*time.Millisecond)
}

func TestNewServer_RequiresDeps(t *testing.T) {
	_, err := NewServer(ServerConfig{Config: config.DefaultLocalConfig()})
	assert.Error(t, err)
}

func TestHealthAndStatus(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode[map[string]any](t, rec)["status"])
	assert.NotEmpty(t, rec.Header().Get(CorrelationIDHeader))

	rec = f.do(t, http.MethodGet, "/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[map[string]any](t, rec)
	assert.Equal(t, "test", status["version"])
	assert.EqualValues(t, 2, status["lessons"])
	assert.Equal(t, "fake", status["runtime"].(map[string]any)["backend"])
}

func TestLessons(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/lessons", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct{ Lessons []app.NavItem }](t, rec)
	require.Len(t, list.Lessons, 2)
	assert.True(t, list.Lessons[0].Current)

	rec = f.do(t, http.MethodGet, "/v1/lessons/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "one-easy", "expected output must not leak")
	detail := decode[lessonDetail](t, rec)
	assert.Equal(t, 1, detail.Questions)
	assert.Len(t, detail.Challenges, 3)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/lessons/9", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/v1/lessons/abc", nil).Code)
}

func TestReference(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/lessons/1/reference", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Printing")

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/lessons/2/reference", nil).Code)

	rec = f.do(t, http.MethodPost, "/v1/reference/toggle", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode[map[string]any](t, rec)["open"])
	rec = f.do(t, http.MethodPost, "/v1/reference/toggle", nil)
	assert.Equal(t, false, decode[map[string]any](t, rec)["open"])
}

func TestQuizToChallengeFlow(t *testing.T) {
	f := newFixture(t)

	// Challenges are locked until the quiz is done
	rec := f.do(t, http.MethodPost, "/v1/challenges/easy/load", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/v1/quiz/check", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/v1/quiz/select", map[string]any{}).Code)

	rec = f.do(t, http.MethodPost, "/v1/quiz/select", map[string]int{"option": 1})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/quiz/check", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	result := decode[map[string]any](t, rec)
	assert.Equal(t, true, result["correct"])
	assert.Equal(t, "Correct!", result["feedback"])

	rec = f.do(t, http.MethodPost, "/v1/quiz/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	f.waitPhase(t, app.PhaseChallenges)

	f.gw.say("one-easy")
	rec = f.do(t, http.MethodPost, "/v1/submit", CodeRequest{Code: "print('one-easy')"})
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode[challenge.Outcome](t, rec)
	assert.True(t, out.Passed)
	require.NotNil(t, out.Transition)
	assert.Equal(t, challenge.NextDifficulty, out.Transition.Kind)

	rec = f.do(t, http.MethodPost, "/v1/challenges/hard/load", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	vm := decode[app.ViewModel](t, rec)
	require.NotNil(t, vm.Challenge)
	assert.Equal(t, domain.DifficultyHard, vm.Challenge.Difficulty)
	assert.Equal(t, "1/3 completed", vm.Challenge.ProgressText)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/v1/challenges/expert/load", nil).Code)
}

func TestRun(t *testing.T) {
	f := newFixture(t)

	f.gw.say("hi\n")
	rec := f.do(t, http.MethodPost, "/v1/run", CodeRequest{Code: "print('hi')"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hi\n", decode[challenge.Outcome](t, rec).Output)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/v1/run", "not an object").Code)
}

func TestRun_BodyLimit(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/submit", CodeRequest{Code: strings.Repeat("#", maxCodeBody)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "request body too large", decode[map[string]any](t, rec)["error"])

	rec = f.do(t, http.MethodPost, "/v1/run", CodeRequest{Code: strings.Repeat("#", 64<<10)})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRun_Conflict(t *testing.T) {
	f := newFixture(t)
	started, release := f.gw.hold()

	done := make(chan int)
	go func() {
		done <- f.do(t, http.MethodPost, "/v1/run", CodeRequest{Code: "x"}).Code
	}()
	<-started

	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/v1/run", CodeRequest{Code: "y"}).Code)
	close(release)
	assert.Equal(t, http.StatusOK, <-done)
}

func TestRun_RateLimited(t *testing.T) {
	f := newFixture(t, func(c *config.LocalConfig) { c.Daemon.RunsPerMinute = 1 })

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/run", CodeRequest{}).Code)
	assert.Equal(t, http.StatusTooManyRequests, f.do(t, http.MethodPost, "/v1/submit", CodeRequest{}).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/state", nil).Code, "other routes are not limited")
}

func TestProgress(t *testing.T) {
	f := newFixture(t)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/lessons/2/load", nil).Code)
	f.waitPhase(t, app.PhaseChallenges)

	rec := f.do(t, http.MethodGet, "/v1/progress", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	p := decode[struct {
		Summary progress.Summary
	}](t, rec)
	assert.Equal(t, 2, p.Summary.CurrentLesson)
	assert.Equal(t, 2, p.Summary.TotalLessons)

	rec = f.do(t, http.MethodDelete, "/v1/progress", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	vm := decode[app.ViewModel](t, rec)
	assert.Equal(t, 1, vm.Lesson.ID)
	require.NotNil(t, vm.Feedback)
	assert.Equal(t, "Progress reset. Starting fresh!", vm.Feedback.Message)
}

func TestEvents(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/events"
	ws, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer ws.CloseNow()

	read := func() app.Event {
		_, data, err := ws.Read(ctx)
		require.NoError(t, err)
		var e app.Event
		require.NoError(t, json.Unmarshal(data, &e))
		return e
	}

	first := read()
	assert.Equal(t, app.EventView, first.Type)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/lessons/2/load", nil).Code)
	next := read()
	assert.Equal(t, app.EventView, next.Type)
	assert.Contains(t, string(mustJSON(t, next.Data)), "Variables")
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrLessonNotFound, http.StatusNotFound},
		{domain.ErrReferenceNotFound, http.StatusNotFound},
		{challenge.ErrRunInProgress, http.StatusConflict},
		{runner.ErrNotReady, http.StatusServiceUnavailable},
		{domain.ErrInvalidState, http.StatusBadRequest},
		{context.Canceled, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
