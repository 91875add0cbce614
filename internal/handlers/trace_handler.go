package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"trace-service/internal/models"
	"trace-service/internal/services"
)

// TraceHandler exposes the trace store over HTTP.
type TraceHandler struct {
	Service *services.TraceService
	log     *logrus.Logger
}

// NewTraceHandler creates a new TraceHandler with the given TraceService.
func NewTraceHandler(service *services.TraceService, log *logrus.Logger) *TraceHandler {
	return &TraceHandler{Service: service, log: log}
}

// EditTraceRequest is the body of PUT /traces/:id. Omitted fields are kept.
type EditTraceRequest struct {
	Description *string `json:"description"`
	TagString   *string `json:"tagstring"`
	Visibility  *string `json:"visibility"`
}

// ListTraces handles GET /traces.
// @Summary List traces
// @Description Lists public traces, plus the caller's own when authenticated, newest first
// @Tags traces
// @Produce json
// @Param tag query string false "Only traces carrying this tag"
// @Param page query int false "1-based page number"
// @Success 200 {object} services.Listing "One page of traces"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /traces [get]
func (h *TraceHandler) ListTraces(c *fiber.Ctx) error {
	return h.list(c, services.ListRequest{})
}

// ListMyTraces handles GET /traces/mine.
// @Summary List own traces
// @Description Lists every trace of the caller, private ones included
// @Tags traces
// @Produce json
// @Param tag query string false "Only traces carrying this tag"
// @Param page query int false "1-based page number"
// @Success 200 {object} services.Listing "One page of traces"
// @Failure 401 {object} map[string]interface{} "Authentication required"
// @Router /traces/mine [get]
func (h *TraceHandler) ListMyTraces(c *fiber.Ctx) error {
	viewer := Viewer(c)
	if viewer == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": true, "message": "authentication required",
		})
	}
	return h.list(c, services.ListRequest{Target: viewer})
}

// ListUserTraces handles GET /users/:display_name/traces.
// @Summary List traces of a user
// @Description Lists the traces of one user the caller may see
// @Tags traces
// @Produce json
// @Param display_name path string true "Display name"
// @Param tag query string false "Only traces carrying this tag"
// @Param page query int false "1-based page number"
// @Success 200 {object} services.Listing "One page of traces"
// @Failure 404 {object} map[string]interface{} "User not found"
// @Router /users/{display_name}/traces [get]
func (h *TraceHandler) ListUserTraces(c *fiber.Ctx) error {
	return h.list(c, services.ListRequest{DisplayName: c.Params("display_name")})
}

func (h *TraceHandler) list(c *fiber.Ctx, req services.ListRequest) error {
	req.Tag = optionalQuery(c, "tag")
	req.Page = c.QueryInt("page", 1)

	listing, err := h.Service.List(c.UserContext(), Viewer(c), req)
	if err != nil {
		return writeError(c, h.log, err)
	}
	h.log.WithFields(logrus.Fields{
		"case":  listing.Case,
		"page":  listing.Page,
		"count": len(listing.Traces),
	}).Debug("Listed traces")
	return c.JSON(listing)
}

// Feed handles GET /traces/feed.
// @Summary Public trace feed
// @Description The newest public traces, optionally of one user or tag
// @Tags traces
// @Produce json
// @Param display_name query string false "Only traces of this user"
// @Param tag query string false "Only traces carrying this tag"
// @Success 200 {array} models.Trace "Newest public traces"
// @Failure 404 {object} map[string]interface{} "User not found"
// @Router /traces/feed [get]
func (h *TraceHandler) Feed(c *fiber.Ctx) error {
	traces, err := h.Service.Feed(c.UserContext(), c.Query("display_name"), optionalQuery(c, "tag"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(traces)
}

// Defaults handles GET /traces/defaults.
// @Summary Upload defaults
// @Description The visibility preselected for the caller's next upload
// @Tags traces
// @Produce json
// @Success 200 {object} map[string]interface{} "Default visibility"
// @Router /traces/defaults [get]
func (h *TraceHandler) Defaults(c *fiber.Ctx) error {
	v, err := h.Service.DefaultVisibility(c.UserContext(), Viewer(c))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(fiber.Map{"visibility": v})
}

// CreateTrace handles POST /traces.
// @Summary Upload a trace
// @Description Stores a GPX file (optionally compressed or archived) and queues it for import
// @Tags traces
// @Accept multipart/form-data
// @Produce json
// @Param gpx_file formData file true "Trace file"
// @Param description formData string false "Description"
// @Param tagstring formData string false "Comma or space separated tags"
// @Param visibility formData string false "private, public, identifiable or trackable"
// @Param public formData bool false "Legacy flag used when visibility is missing"
// @Success 201 {object} models.Trace "Trace stored"
// @Failure 400 {object} map[string]interface{} "Bad request"
// @Failure 403 {object} map[string]interface{} "Authentication required"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /traces [post]
func (h *TraceHandler) CreateTrace(c *fiber.Ctx) error {
	req := services.CreateRequest{
		Description: c.FormValue("description"),
		TagString:   c.FormValue("tagstring"),
		Visibility:  c.FormValue("visibility"),
	}
	if raw := c.FormValue("public"); raw != "" {
		public := raw == "1" || raw == "on"
		if b, err := strconv.ParseBool(raw); err == nil {
			public = b
		}
		req.Public = &public
	}

	// A missing file reaches the writer as an empty upload and is rejected there.
	if fileHeader, err := c.FormFile("gpx_file"); err == nil {
		f, err := fileHeader.Open()
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": true, "message": "failed to read file: " + err.Error(),
			})
		}
		defer f.Close()
		req.Upload = services.Upload{Filename: fileHeader.Filename, Content: f}
	}

	trace, err := h.Service.Create(c.UserContext(), Viewer(c), req)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(trace)
}

// GetTrace handles GET /traces/:id.
// @Summary Get a trace
// @Tags traces
// @Produce json
// @Param id path string true "Trace ID"
// @Success 200 {object} models.Trace "Trace found"
// @Failure 400 {object} map[string]interface{} "Invalid UUID"
// @Failure 404 {object} map[string]interface{} "Trace not found"
// @Router /traces/{id} [get]
func (h *TraceHandler) GetTrace(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return invalidID(c)
	}
	trace, err := h.Service.Get(c.UserContext(), Viewer(c), id)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(trace)
}

// UpdateTrace handles PUT /traces/:id.
// @Summary Edit a trace
// @Description Changes description, tags or visibility of an own trace
// @Tags traces
// @Accept json
// @Produce json
// @Param id path string true "Trace ID"
// @Param body body EditTraceRequest true "Fields to change"
// @Success 200 {object} models.Trace "Updated trace"
// @Failure 400 {object} map[string]interface{} "Bad request"
// @Failure 403 {object} map[string]interface{} "Not the owner"
// @Failure 404 {object} map[string]interface{} "Trace not found"
// @Router /traces/{id} [put]
func (h *TraceHandler) UpdateTrace(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return invalidID(c)
	}
	var body EditTraceRequest
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": true, "message": "invalid request body",
		})
	}

	trace, err := h.Service.Edit(c.UserContext(), Viewer(c), id, services.EditRequest{
		Description: body.Description,
		TagString:   body.TagString,
		Visibility:  body.Visibility,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(trace)
}

// DeleteTrace handles DELETE /traces/:id.
// @Summary Delete a trace
// @Description Hides an own trace; its data is kept
// @Tags traces
// @Param id path string true "Trace ID"
// @Success 204 "No Content"
// @Failure 403 {object} map[string]interface{} "Not the owner or already deleted"
// @Failure 404 {object} map[string]interface{} "Trace not found"
// @Router /traces/{id} [delete]
func (h *TraceHandler) DeleteTrace(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return invalidID(c)
	}
	if err := h.Service.SoftDelete(c.UserContext(), Viewer(c), id); err != nil {
		return writeError(c, h.log, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// DownloadTrace handles GET /traces/:id/data.
// @Summary Download a trace file
// @Tags traces
// @Produce application/octet-stream
// @Param id path string true "Trace ID"
// @Success 200 {file} binary "Trace file"
// @Failure 404 {object} map[string]interface{} "Trace not found"
// @Router /traces/{id}/data [get]
func (h *TraceHandler) DownloadTrace(c *fiber.Ctx) error {
	return h.sendBlob(c, models.VariantOriginal)
}

// Picture handles GET /traces/:id/picture.
// @Summary Rendered trace picture
// @Tags traces
// @Produce image/gif
// @Param id path string true "Trace ID"
// @Success 200 {file} binary "Picture"
// @Failure 404 {object} map[string]interface{} "Not rendered yet or trace not found"
// @Router /traces/{id}/picture [get]
func (h *TraceHandler) Picture(c *fiber.Ctx) error {
	return h.sendBlob(c, models.VariantPicture)
}

// Icon handles GET /traces/:id/icon.
// @Summary Rendered trace icon
// @Tags traces
// @Produce image/gif
// @Param id path string true "Trace ID"
// @Success 200 {file} binary "Icon"
// @Failure 404 {object} map[string]interface{} "Not rendered yet or trace not found"
// @Router /traces/{id}/icon [get]
func (h *TraceHandler) Icon(c *fiber.Ctx) error {
	return h.sendBlob(c, models.VariantIcon)
}

func (h *TraceHandler) sendBlob(c *fiber.Ctx, variant models.BlobVariant) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return invalidID(c)
	}
	blob, err := h.Service.GetBlob(c.UserContext(), Viewer(c), id, variant)
	if err != nil {
		return writeError(c, h.log, err)
	}

	c.Set(fiber.HeaderContentType, blob.ContentType)
	if variant == models.VariantOriginal {
		c.Set(fiber.HeaderContentDisposition, "attachment; filename=\""+blob.Filename+"\"")
	}
	if !blob.Trace.Visibility.IsPublic() {
		c.Set(fiber.HeaderCacheControl, "private")
	}
	// fasthttp closes the stream once the body is written.
	return c.SendStream(blob.Content)
}

func invalidID(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": true, "message": InvalidUuidError,
	})
}

func optionalQuery(c *fiber.Ctx, key string) *string {
	v := c.Query(key)
	if v == "" {
		return nil
	}
	return &v
}
