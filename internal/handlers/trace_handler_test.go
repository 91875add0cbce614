package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"trace-service/internal/metrics"
	"trace-service/internal/models"
	"trace-service/internal/repository"
	"trace-service/internal/services"
	"trace-service/internal/storage"
	"trace-service/internal/testutil"
)

const sampleGPX = `<?xml version="1.0"?><gpx version="1.1"><trk><trkseg></trkseg></trk></gpx>`

func newTestApp(t *testing.T) (*fiber.App, *gorm.DB) {
	t.Helper()
	db := testutil.NewTestDB(t)
	blobs, err := storage.NewFilesystemStore(t.TempDir())
	require.NoError(t, err)

	log := logrus.New()
	log.SetOutput(io.Discard)
	m := metrics.NewMetrics(prometheus.NewRegistry())
	repo := repository.NewTraceRepository(db)
	prefs := repository.NewPreferenceRepository(db)

	writer := services.NewTraceWriter(repo, blobs, prefs, nil, m, log)
	t.Cleanup(writer.Wait)
	svc := services.NewTraceService(writer, repo, repository.NewUserRepository(db), prefs, blobs, m, log)

	app := fiber.New()
	RegisterRoutes(app, NewTraceHandler(svc, log))
	return app, db
}

func as(req *http.Request, user *models.Identity) *http.Request {
	if user != nil {
		req.Header.Set(HeaderUserID, user.ID.String())
		req.Header.Set(HeaderUserName, user.DisplayName)
	}
	return req
}

func uploadRequest(t *testing.T, filename, content string, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if filename != "" {
		part, err := w.CreateFormFile("gpx_file", filename)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/traces", &body)
	req.Header.Set(fiber.HeaderContentType, w.FormDataContentType())
	return req
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestUploadAndDownload(t *testing.T) {
	app, db := newTestApp(t)
	alice := testutil.CreateUser(t, db, "alice")

	req := uploadRequest(t, "my trace!@#.gpx", sampleGPX, map[string]string{
		"description": "Ridge walk",
		"tagstring":   "alps, hike",
		"visibility":  "public",
	})
	resp, err := app.Test(as(req, alice))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var created models.Trace
	decode(t, resp, &created)
	assert.Equal(t, "my_trace___.gpx", created.Name)
	assert.Equal(t, models.StateAwaitingProcessing, created.State)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/traces/"+created.ID.String()+"/data", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, sampleGPX, string(body))
	assert.Equal(t, "application/gpx+xml", resp.Header.Get(fiber.HeaderContentType))
	assert.Contains(t, resp.Header.Get(fiber.HeaderContentDisposition), created.ID.String()+".gpx")

	// Not rendered yet.
	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/traces/"+created.ID.String()+"/picture", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestUploadWithoutFile(t *testing.T) {
	app, db := newTestApp(t)
	alice := testutil.CreateUser(t, db, "alice")

	resp, err := app.Test(as(uploadRequest(t, "", "", map[string]string{"description": "x"}), alice))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	var body map[string]any
	decode(t, resp, &body)
	assert.Equal(t, true, body["error"])
	assert.Contains(t, body["message"], "gpx_file can't be blank")
}

func TestUploadAnonymous(t *testing.T) {
	app, _ := newTestApp(t)
	resp, err := app.Test(uploadRequest(t, "a.gpx", sampleGPX, nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestGetPrivateTraceIsHidden(t *testing.T) {
	app, db := newTestApp(t)
	alice := testutil.CreateUser(t, db, "alice")
	bob := testutil.CreateUser(t, db, "bob")
	trace := testutil.InsertTrace(t, db, &models.Trace{UserID: alice.ID, Visibility: models.VisibilityPrivate})
	path := "/api/traces/" + trace.ID.String()

	resp, err := app.Test(as(httptest.NewRequest(http.MethodGet, path, nil), bob))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp, err = app.Test(as(httptest.NewRequest(http.MethodGet, path, nil), alice))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/traces/not-a-uuid", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestUpdateTrace(t *testing.T) {
	app, db := newTestApp(t)
	alice := testutil.CreateUser(t, db, "alice")
	bob := testutil.CreateUser(t, db, "bob")
	trace := testutil.InsertTrace(t, db, &models.Trace{UserID: alice.ID, Description: "before"})
	path := "/api/traces/" + trace.ID.String()

	put := func(user *models.Identity, body string) *http.Response {
		req := httptest.NewRequest(http.MethodPut, path, strings.NewReader(body))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		resp, err := app.Test(as(req, user))
		require.NoError(t, err)
		return resp
	}

	resp := put(bob, `{"description":"hijacked"}`)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp = put(alice, `{"visibility":"friends"}`)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = put(alice, `{"description":"after","tagstring":"coast"}`)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var updated models.Trace
	decode(t, resp, &updated)
	assert.Equal(t, "after", updated.Description)
	assert.Equal(t, []string{"coast"}, updated.TagNames())
}

func TestDeleteTraceTwice(t *testing.T) {
	app, db := newTestApp(t)
	alice := testutil.CreateUser(t, db, "alice")
	trace := testutil.InsertTrace(t, db, &models.Trace{UserID: alice.ID})
	path := "/api/traces/" + trace.ID.String()

	resp, err := app.Test(as(httptest.NewRequest(http.MethodDelete, path, nil), alice))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	resp, err = app.Test(as(httptest.NewRequest(http.MethodDelete, path, nil), alice))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, path, nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestListing(t *testing.T) {
	app, db := newTestApp(t)
	alice := testutil.CreateUser(t, db, "alice")
	testutil.InsertTrace(t, db, &models.Trace{UserID: alice.ID, TagString: "alps"})
	testutil.InsertTrace(t, db, &models.Trace{UserID: alice.ID, Visibility: models.VisibilityPrivate})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/traces", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var listing services.Listing
	decode(t, resp, &listing)
	assert.Len(t, listing.Traces, 1)
	assert.Equal(t, []string{"alps"}, listing.Tags)

	resp, err = app.Test(as(httptest.NewRequest(http.MethodGet, "/api/traces/mine", nil), alice))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	decode(t, resp, &listing)
	assert.Len(t, listing.Traces, 2)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/traces/mine", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/traces?tag=alps", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var tagged services.Listing
	decode(t, resp, &tagged)
	require.Len(t, tagged.Traces, 1)
	assert.Equal(t, []string{"alps"}, tagged.Traces[0].TagNames())

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/traces?page=9223372036854775807", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/traces?tag=nonexistent-xyz", nil))
	require.NoError(t, err)
	decode(t, resp, &listing)
	assert.Empty(t, listing.Traces)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/users/nobody/traces", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	var body map[string]any
	decode(t, resp, &body)
	assert.Equal(t, UserNotFoundError, body["message"])
}

func TestInvalidIdentityHeader(t *testing.T) {
	app, _ := newTestApp(t)
	req := httptest.NewRequest(http.MethodGet, "/api/traces", nil)
	req.Header.Set(HeaderUserID, "not-a-uuid")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestDefaults(t *testing.T) {
	app, db := newTestApp(t)
	alice := testutil.CreateUser(t, db, "alice")
	require.NoError(t, repository.NewPreferenceRepository(db).
		Upsert(t.Context(), alice.ID, models.PreferenceTraceVisibility, "trackable"))

	resp, err := app.Test(as(httptest.NewRequest(http.MethodGet, "/api/traces/defaults", nil), alice))
	require.NoError(t, err)
	var body map[string]string
	decode(t, resp, &body)
	assert.Equal(t, "trackable", body["visibility"])
}
