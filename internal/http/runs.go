package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/jmehdipour/daily-coordinator/internal/http/middleware"
	"github.com/jmehdipour/daily-coordinator/internal/model"
	"github.com/jmehdipour/daily-coordinator/internal/service/runner"
)

// Runner is satisfied by *runner.Service.
type Runner interface {
	Trigger(ctx context.Context, token string) (model.Event, error)
}

func triggerRunHandler(runs Runner) echo.HandlerFunc {
	return func(c echo.Context) error {
		client, _ := middleware.ClientIDFromCtx(c)

		// the run finishes even if the caller goes away
		ev, err := runs.Trigger(context.WithoutCancel(c.Request().Context()), uuid.NewString())
		if errors.Is(err, runner.ErrRunInProgress) {
			return c.JSON(http.StatusConflict, map[string]string{"error": "run in progress"})
		}
		if err != nil {
			log.Errorf("trigger run failed client=%s err=%v", client, err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal"})
		}

		log.Infof("run finished client=%s status=%s", client, ev.Status)
		return c.JSON(http.StatusOK, ev)
	}
}
