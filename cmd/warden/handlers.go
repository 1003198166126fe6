package main

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/accountabilityatlas/warden/models"
	"github.com/accountabilityatlas/warden/moderation"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type pageResponse[T any] struct {
	*moderation.Page[T]
	TotalPages int `json:"totalPages"`
}

func newPageResponse[T any](p *moderation.Page[T]) pageResponse[T] {
	if p.Items == nil {
		p.Items = []T{}
	}
	return pageResponse[T]{Page: p, TotalPages: p.TotalPages()}
}

func pathUUID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s is not a valid id", moderation.ErrValidation, name)
	}
	return id, nil
}

func queryInt(c echo.Context, name string) (int, error) {
	v := c.QueryParam(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", moderation.ErrValidation, name)
	}
	return n, nil
}

func pageRequest(c echo.Context) (moderation.PageRequest, error) {
	page, err := queryInt(c, "page")
	if err != nil {
		return moderation.PageRequest{}, err
	}
	size, err := queryInt(c, "size")
	if err != nil {
		return moderation.PageRequest{}, err
	}
	return moderation.PageRequest{Page: page, Size: size}, nil
}

func (srv *Server) HandleGetQueue(c echo.Context) error {
	status := models.ModerationStatusPending
	if s := c.QueryParam("status"); s != "" {
		status = models.ModerationStatus(s)
	}
	var contentType *models.ContentType
	if ct := c.QueryParam("contentType"); ct != "" {
		v := models.ContentType(ct)
		contentType = &v
	}
	page, err := pageRequest(c)
	if err != nil {
		return err
	}

	out, err := srv.workflow.GetQueue(c.Request().Context(), status, contentType, page)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newPageResponse(out))
}

func (srv *Server) HandleGetQueueStats(c echo.Context) error {
	stats, err := srv.workflow.GetQueueStats(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

func (srv *Server) HandleFindByContentID(c echo.Context) error {
	contentID, err := pathUUID(c, "contentId")
	if err != nil {
		return err
	}
	status := models.ModerationStatusPending
	if s := c.QueryParam("status"); s != "" {
		status = models.ModerationStatus(s)
	}

	item, err := srv.workflow.FindByContentID(c.Request().Context(), contentID, status)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, item)
}

func (srv *Server) HandleGetItem(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	item, err := srv.workflow.GetItem(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, item)
}

func (srv *Server) HandleApprove(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	item, err := srv.workflow.Approve(c.Request().Context(), id, actorFrom(c).ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, item)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (srv *Server) HandleReject(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var body rejectRequest
	if err := c.Bind(&body); err != nil {
		return err
	}
	item, err := srv.workflow.Reject(c.Request().Context(), id, actorFrom(c).ID, body.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, item)
}

func (srv *Server) HandleUpdateContent(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var meta moderation.ContentMetadata
	if err := c.Bind(&meta); err != nil {
		return err
	}
	item, err := srv.workflow.UpdateContentMetadata(c.Request().Context(), id, *actorFrom(c), meta)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, item)
}

type addLocationRequest struct {
	LocationID uuid.UUID `json:"locationId"`
	IsPrimary  bool      `json:"isPrimary"`
}

func (srv *Server) HandleAddLocation(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var body addLocationRequest
	if err := c.Bind(&body); err != nil {
		return err
	}
	item, err := srv.workflow.AddContentLocation(c.Request().Context(), id, *actorFrom(c), body.LocationID, body.IsPrimary)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, item)
}

func (srv *Server) HandleRemoveLocation(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	locationID, err := pathUUID(c, "locationId")
	if err != nil {
		return err
	}
	if err := srv.workflow.RemoveContentLocation(c.Request().Context(), id, *actorFrom(c), locationID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type submitReportRequest struct {
	ContentType models.ContentType `json:"contentType"`
	ContentID   uuid.UUID          `json:"contentId"`
	Reason      models.AbuseReason `json:"reason"`
	Description *string            `json:"description,omitempty"`
}

func (srv *Server) HandleSubmitReport(c echo.Context) error {
	var body submitReportRequest
	if err := c.Bind(&body); err != nil {
		return err
	}
	report, err := srv.reports.SubmitReport(c.Request().Context(), body.ContentType, body.ContentID, actorFrom(c).ID, body.Reason, body.Description)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, report)
}

func (srv *Server) HandleListReports(c echo.Context) error {
	status := models.ReportStatusOpen
	if s := c.QueryParam("status"); s != "" {
		status = models.ReportStatus(s)
	}
	page, err := pageRequest(c)
	if err != nil {
		return err
	}
	out, err := srv.reports.ListReports(c.Request().Context(), status, page)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newPageResponse(out))
}

func (srv *Server) HandleGetReport(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	report, err := srv.reports.GetReport(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

type resolveReportRequest struct {
	Resolution string `json:"resolution"`
}

func (srv *Server) HandleResolveReport(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var body resolveReportRequest
	if err := c.Bind(&body); err != nil {
		return err
	}
	report, err := srv.reports.Resolve(c.Request().Context(), id, actorFrom(c).ID, body.Resolution)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

type dismissReportRequest struct {
	Reason *string `json:"reason,omitempty"`
}

func (srv *Server) HandleDismissReport(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	// body is optional
	var body dismissReportRequest
	if err := c.Bind(&body); err != nil {
		return err
	}
	report, err := srv.reports.Dismiss(c.Request().Context(), id, actorFrom(c).ID, body.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}
