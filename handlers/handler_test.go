package handlers

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"novel_ai/debuglog"
	"novel_ai/gemini"
	"novel_ai/prompts"
	"novel_ai/session"
	"novel_ai/tasks"
)

const (
	worldJSON    = `{"plotSummary":"A lighthouse keeper finds a letter.","keyCharacters":[{"id":"nell","name":"Nell","visualKeywords":"oilskin coat"}],"artStyleKeywords":"watercolor"}`
	storyJSON    = `{"title":"The Letter","story":"Wind rattles the lamp room."}`
	analysisJSON = `{"newAssets":{},"taskQueue":[{"assetId":"","type":"key_visual"}],"choices":["Read it","Burn it"],"displayImageId":"key_visual"}`
)

type scriptedText struct {
	mu       sync.Mutex
	release  chan struct{}
	worldErr error
}

func (f *scriptedText) GenerateText(_ context.Context, _ []gemini.Content, system string, _ bool) (string, error) {
	switch {
	case strings.HasPrefix(system, prompts.WorldBuilderPrompt[:30]):
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.worldErr != nil {
			return "", f.worldErr
		}
		return worldJSON, nil
	case strings.HasPrefix(system, prompts.StoryGeneratorPrompt[:30]):
		return storyJSON, nil
	}
	f.mu.Lock()
	release := f.release
	f.mu.Unlock()
	if release != nil {
		<-release
	}
	return analysisJSON, nil
}

type pngImages struct{}

func (pngImages) GenerateImage(context.Context, string, []gemini.ReferenceImage, bool, string) (string, error) {
	return gemini.DataURL("image/png", "QUJD"), nil
}

type fakeDebug struct {
	ids     []string
	cleared []string
}

func (f *fakeDebug) Export(_ context.Context, sessionID string) (debuglog.Export, error) {
	f.ids = append(f.ids, sessionID)
	return debuglog.Export{SessionID: sessionID}, nil
}

func (f *fakeDebug) Clear(_ context.Context, sessionID string) error {
	f.cleared = append(f.cleared, sessionID)
	return nil
}

type testApp struct {
	mux    *http.ServeMux
	text   *scriptedText
	debug  *fakeDebug
	cookie *http.Cookie
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	app := &testApp{mux: http.NewServeMux(), text: &scriptedText{}, debug: &fakeDebug{}}
	manager := session.NewManager(func(id string) (*session.Session, error) {
		prefs, err := session.LoadPreferences(context.Background(), nil, id, session.Settings{})
		if err != nil {
			return nil, err
		}
		return session.New(session.Options{
			ID:          id,
			Text:        app.text,
			Executor:    tasks.NewExecutor(pngImages{}, tasks.NewCache(), nil),
			Preferences: prefs,
		}), nil
	}, session.Limits{})
	h := &Handler{Manager: manager, Debug: app.debug}
	h.Routes(app.mux)
	return app
}

func (a *testApp) do(t *testing.T, method, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	var body *strings.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	} else {
		body = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	return a.send(t, req)
}

func (a *testApp) send(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	if a.cookie != nil {
		req.AddCookie(a.cookie)
	}
	rec := httptest.NewRecorder()
	a.mux.ServeHTTP(rec, req)
	for _, c := range rec.Result().Cookies() {
		if c.Name == CookieName {
			a.cookie = c
		}
	}
	return rec
}

// start opens a campaign and waits for its background work.
func (a *testApp) start(t *testing.T) {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/start", url.Values{"genre": {"mystery"}, "adventure": {"A letter arrives."}})
	require.Equal(t, http.StatusOK, rec.Code)
	a.waitIdle(t)
}

func (a *testApp) waitIdle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		rec := a.do(t, http.MethodGet, "/scene/0", nil)
		return rec.Code == http.StatusOK && !strings.Contains(rec.Body.String(), "hx-trigger")
	}, 5*time.Second, 10*time.Millisecond)
}

func TestIndexShowsSetupAndSetsCookie(t *testing.T) {
	app := newTestApp(t)
	rec := app.do(t, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `action="/start"`)
	assert.Contains(t, rec.Body.String(), "<!doctype html>")
	require.NotNil(t, app.cookie)
	assert.NotEmpty(t, app.cookie.Value)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("HX-Request", "true")
	rec = app.send(t, req)
	assert.NotContains(t, rec.Body.String(), "<!doctype html>")
}

func TestStartRendersOpeningScene(t *testing.T) {
	app := newTestApp(t)
	app.start(t)

	rec := app.do(t, http.MethodGet, "/", nil)
	body := rec.Body.String()
	assert.Contains(t, body, "The Letter")
	assert.Contains(t, body, "Wind rattles the lamp room.")
	assert.Contains(t, body, `value="Read it"`)
	assert.Contains(t, body, `src="/image/key_visual"`)

	img := app.do(t, http.MethodGet, "/image/key_visual", nil)
	assert.Equal(t, http.StatusOK, img.Code)
	assert.Equal(t, "image/png", img.Header().Get("Content-Type"))
	assert.Equal(t, "ABC", img.Body.String())

	assert.Equal(t, http.StatusNotFound, app.do(t, http.MethodGet, "/image/missing", nil).Code)
}

func TestStartRequiresPremise(t *testing.T) {
	app := newTestApp(t)
	rec := app.do(t, http.MethodPost, "/start", url.Values{"genre": {"fantasy"}, "adventure": {"  "}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "The story could not begin")
}

func TestStartQuotaSuggestsKey(t *testing.T) {
	app := newTestApp(t)
	app.text.worldErr = &gemini.APIError{Status: http.StatusTooManyRequests, Model: "free-model", Reason: "Resource exhausted"}

	rec := app.do(t, http.MethodPost, "/start", url.Values{"genre": {"fantasy"}, "adventure": {"A letter arrives."}})
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, session.MessageQuotaAddKey)
	assert.NotContains(t, body, "status 429")
}

func TestTurnConflictsWhileGenerating(t *testing.T) {
	app := newTestApp(t)
	app.text.release = make(chan struct{})

	rec := app.do(t, http.MethodPost, "/start", url.Values{"genre": {"mystery"}, "adventure": {"A letter arrives."}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `hx-get="/scene/0"`)

	rec = app.do(t, http.MethodPost, "/turn", url.Values{"input": {"Read it"}})
	assert.Equal(t, http.StatusConflict, rec.Code)

	app.text.mu.Lock()
	close(app.text.release)
	app.text.release = nil
	app.text.mu.Unlock()
	app.waitIdle(t)

	rec = app.do(t, http.MethodPost, "/turn", url.Values{"input": {"Read it"}})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Scene 2 of 2")
}

func TestTurnWithoutCampaign(t *testing.T) {
	app := newTestApp(t)
	rec := app.do(t, http.MethodPost, "/turn", url.Values{"input": {"hello"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBranchAndShow(t *testing.T) {
	app := newTestApp(t)
	app.start(t)
	require.Equal(t, http.StatusOK, app.do(t, http.MethodPost, "/turn", url.Values{"input": {"Read it"}}).Code)
	app.waitIdleAt(t, 1)

	rec := app.do(t, http.MethodPost, "/show/0", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `hx-post="/branch"`)
	assert.Equal(t, http.StatusNotFound, app.do(t, http.MethodPost, "/show/7", nil).Code)
	assert.Equal(t, http.StatusBadRequest, app.do(t, http.MethodPost, "/show/x", nil).Code)

	assert.Equal(t, http.StatusBadRequest, app.do(t, http.MethodPost, "/branch", url.Values{"index": {"x"}, "input": {"a"}}).Code)
	assert.Equal(t, http.StatusBadRequest, app.do(t, http.MethodPost, "/branch", url.Values{"index": {"9"}, "input": {"a"}}).Code)

	rec = app.do(t, http.MethodPost, "/branch", url.Values{"index": {"0"}, "input": {"Burn it"}})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Scene 2 of 2")
	assert.Contains(t, rec.Body.String(), "Burn it")
}

func (a *testApp) waitIdleAt(t *testing.T, index int) {
	t.Helper()
	path := "/scene/" + strconv.Itoa(index)
	require.Eventually(t, func() bool {
		rec := a.do(t, http.MethodGet, path, nil)
		return rec.Code == http.StatusOK && !strings.Contains(rec.Body.String(), "hx-trigger")
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSceneNotFound(t *testing.T) {
	app := newTestApp(t)
	assert.Equal(t, http.StatusNotFound, app.do(t, http.MethodGet, "/scene/0", nil).Code)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	app := newTestApp(t)
	assert.Equal(t, http.StatusNotFound, app.do(t, http.MethodGet, "/save", nil).Code)
	app.start(t)

	saved := app.do(t, http.MethodGet, "/save", nil)
	require.Equal(t, http.StatusOK, saved.Code)
	assert.Contains(t, saved.Header().Get("Content-Disposition"), "attachment")
	assert.Contains(t, saved.Body.String(), `"sceneArchive"`)

	other := newTestApp(t)
	rec := other.upload(t, saved.Body.Bytes())
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	page := other.do(t, http.MethodGet, "/", nil)
	assert.Contains(t, page.Body.String(), "The Letter")
	img := other.do(t, http.MethodGet, "/image/key_visual", nil)
	assert.Equal(t, "ABC", img.Body.String())
	assert.Equal(t, "nosniff", img.Header().Get("X-Content-Type-Options"))

	bad := other.upload(t, []byte(`{"sceneArchive":[]}`))
	assert.Equal(t, http.StatusBadRequest, bad.Code)
	assert.Contains(t, bad.Body.String(), "not a valid save")
}

func TestLoadNeverServesNonImageData(t *testing.T) {
	app := newTestApp(t)
	save := `{"sceneArchive":[{"title":"T","story":"S","worldSnapshot":{}}],"imageCache":{"key_visual":"data:text/html;base64,PHNjcmlwdD5hbGVydCgxKTwvc2NyaXB0Pg=="}}`
	require.Equal(t, http.StatusSeeOther, app.upload(t, []byte(save)).Code)

	rec := app.do(t, http.MethodGet, "/image/key_visual", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotContains(t, rec.Header().Get("Content-Type"), "text/html")
}

func (a *testApp) upload(t *testing.T, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "save.json")
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/load", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return a.send(t, req)
}

func TestDownloadPDF(t *testing.T) {
	app := newTestApp(t)
	assert.Equal(t, http.StatusNotFound, app.do(t, http.MethodGet, "/download", nil).Code)
	app.start(t)

	rec := app.do(t, http.MethodGet, "/download", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "%PDF"))
}

func TestSettingsAndDebugLog(t *testing.T) {
	app := newTestApp(t)
	app.do(t, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusNotFound, app.do(t, http.MethodGet, "/debug/log", nil).Code)

	rec := app.do(t, http.MethodPost, "/settings", url.Values{"apiKey": {"secret"}, "preferKey": {"true"}, "debug": {"true"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")
	assert.Contains(t, rec.Body.String(), "A key is saved")

	// An empty key field keeps the saved key.
	rec = app.do(t, http.MethodPost, "/settings", url.Values{"debug": {"true"}})
	assert.Contains(t, rec.Body.String(), "A key is saved")

	rec = app.do(t, http.MethodGet, "/debug/log", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"sessionId": "`+app.cookie.Value+`"`)
	assert.Equal(t, []string{app.cookie.Value}, app.debug.ids)

	rec = app.do(t, http.MethodPost, "/debug/clear", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{app.cookie.Value}, app.debug.cleared)

	rec = app.do(t, http.MethodPost, "/settings", url.Values{"clearKey": {"true"}})
	assert.NotContains(t, rec.Body.String(), "A key is saved")
	assert.Equal(t, http.StatusNotFound, app.do(t, http.MethodGet, "/debug/log", nil).Code)
	assert.Equal(t, http.StatusNotFound, app.do(t, http.MethodPost, "/debug/clear", nil).Code)
}
