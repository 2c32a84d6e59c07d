package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-marks/core"
	"github.com/trezcool/masomo-marks/core/marks"
)

var (
	msgMarksRetrieved  = "Marks retrieved successfully"
	msgNoMarks         = "No marks found for the specified criteria"
	msgNoSemesterMarks = "No marks found for this semester"
	msgMarksUpdated    = "Marks updated successfully"
	msgMarksSubmitted  = "Marks submitted successfully"
	msgMarksPartial    = "Some marks could not be submitted"
	msgMarksRejected   = "Marks were not submitted"
	msgMarksDeleted    = "Marks deleted successfully"
	msgRoster          = "Students retrieved successfully with marks"
	msgNoStudents      = "No students found for the specified criteria"

	errInvalidQuery = core.NewValidationError(errors.New("invalid query parameters"))
)

type marksApi struct {
	svc MarksService
}

func registerMarksAPI(g *echo.Group, svc MarksService, limiter echo.MiddlewareFunc) {
	api := marksApi{svc: svc}

	mg := g.Group("/marks")
	mg.GET("", api.query)
	mg.POST("", api.upsert, limiter)
	mg.POST("/bulk", api.upsertBulk, limiter)
	mg.GET("/roster", api.roster)
	mg.DELETE("/:id", api.destroy, limiter)

	g.GET("/students/:id/marks", api.studentMarks)
}

// Handlers

func (api *marksApi) query(ctx echo.Context) error {
	filter := new(marks.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return errInvalidQuery
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	views, err := api.svc.Find(ctx.Request().Context(), *filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying marks")
	}
	if len(views) == 0 {
		return ctx.JSON(http.StatusOK, core.OK(msgNoMarks, []marks.MarkView{}))
	}
	return ctx.JSON(http.StatusOK, core.OK(msgMarksRetrieved, views))
}

func (api *marksApi) upsert(ctx echo.Context) error {
	var data marks.NewMark
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewMark")
	}

	mark, err := api.svc.UpsertOne(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "upserting mark")
	}
	return ctx.JSON(http.StatusOK, core.OK(msgMarksUpdated, mark))
}

func (api *marksApi) upsertBulk(ctx echo.Context) error {
	var data marks.NewMarks
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewMarks")
	}

	res, err := api.svc.UpsertBulk(ctx.Request().Context(), data)
	if err != nil {
		if res.Items == nil { // the batch itself was rejected
			return errors.Wrap(err, "upserting marks")
		}
		// all_or_nothing: nothing was written, report why along with every element
		code, resp, ok := errorResponse(err)
		if !ok {
			return errors.Wrap(err, "upserting marks")
		}
		return ctx.JSON(code, core.Response{Message: msgMarksRejected, Data: res, Error: errorDetail(resp)})
	}

	if res.Failed > 0 {
		return ctx.JSON(http.StatusMultiStatus, core.Response{Message: msgMarksPartial, Data: res})
	}
	return ctx.JSON(http.StatusOK, core.OK(msgMarksSubmitted, res))
}

// errorDetail is the error field of resp, falling back to its message.
func errorDetail(resp core.Response) interface{} {
	if resp.Error != nil {
		return resp.Error
	}
	return resp.Message
}

func (api *marksApi) destroy(ctx echo.Context) error {
	if err := api.svc.Delete(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting mark")
	}
	return ctx.JSON(http.StatusOK, core.OK(msgMarksDeleted, nil))
}

func (api *marksApi) roster(ctx echo.Context) error {
	query := new(marks.RosterQuery)
	if err := ctx.Bind(query); err != nil {
		return errInvalidQuery
	}

	entries, err := api.svc.ComposeRoster(ctx.Request().Context(), *query)
	if err != nil {
		return errors.Wrap(err, "composing roster")
	}
	if len(entries) == 0 {
		return ctx.JSON(http.StatusOK, core.OK(msgNoStudents, []marks.RosterEntry{}))
	}
	return ctx.JSON(http.StatusOK, core.OK(msgRoster, entries))
}

func (api *marksApi) studentMarks(ctx echo.Context) error {
	query := new(marks.StudentMarksQuery)
	if err := ctx.Bind(query); err != nil {
		return errInvalidQuery
	}
	query.StudentID = ctx.Param("id")

	views, err := api.svc.FindForStudent(ctx.Request().Context(), *query)
	if err != nil {
		return errors.Wrap(err, "querying student marks")
	}
	if len(views) == 0 {
		return ctx.JSON(http.StatusOK, core.OK(msgNoSemesterMarks, []marks.MarkView{}))
	}
	return ctx.JSON(http.StatusOK, core.OK(msgMarksRetrieved, views))
}
