package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/MarcoPoloResearchLab/studytrack/internal/model"
	"github.com/MarcoPoloResearchLab/studytrack/internal/study"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// registerResource mounts the collection and item routes of one kind.
// PUT is accepted as an alias of PATCH; both apply partial updates.
func registerResource[T model.Record, C any, U any](group *gin.RouterGroup, h *httpHandler, repo *study.Repository[T, C, U]) {
	kind := repo.Kind()
	collectionPath := "/" + kind.String()
	itemPath := collectionPath + "/:id"

	group.GET(collectionPath, func(c *gin.Context) {
		records, err := repo.List(c.Request.Context(), currentUserID(c))
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, records)
	})

	group.GET(itemPath, func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		record, err := repo.Get(c.Request.Context(), currentUserID(c), id)
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, record)
	})

	group.POST(collectionPath, func(c *gin.Context) {
		var input C
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, errorBody("invalid_json", "request body is not valid JSON"))
			return
		}
		userID := currentUserID(c)
		record, err := repo.Create(c.Request.Context(), userID, input)
		if err != nil {
			h.writeError(c, err)
			return
		}
		h.publish(userID, kind, model.ChangeCreated, record.RecordID())
		c.JSON(http.StatusCreated, record)
	})

	update := func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		var patch U
		if err := c.ShouldBindJSON(&patch); err != nil {
			c.JSON(http.StatusBadRequest, errorBody("invalid_json", "request body is not valid JSON"))
			return
		}
		userID := currentUserID(c)
		record, err := repo.Update(c.Request.Context(), userID, id, patch)
		if err != nil {
			h.writeError(c, err)
			return
		}
		h.publish(userID, kind, model.ChangeUpdated, id)
		c.JSON(http.StatusOK, record)
	}
	group.PATCH(itemPath, update)
	group.PUT(itemPath, update)

	group.DELETE(itemPath, func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		userID := currentUserID(c)
		if err := repo.Delete(c.Request.Context(), userID, id); err != nil {
			h.writeError(c, err)
			return
		}
		h.publish(userID, kind, model.ChangeDeleted, id)
		c.Status(http.StatusNoContent)
	})
}

func parseID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, errorBody("invalid_id", "id must be a positive integer"))
		return 0, false
	}
	return id, true
}

func (h *httpHandler) writeError(c *gin.Context, err error) {
	code := "internal_error"
	message := "internal server error"
	var serviceErr *study.ServiceError
	if errors.As(err, &serviceErr) {
		code = serviceErr.Code()
		if serviceErr.Message() != "" {
			message = serviceErr.Message()
		}
	}

	switch {
	case errors.Is(err, study.ErrNotFound):
		c.JSON(http.StatusNotFound, errorBody(code, message))
	case errors.Is(err, study.ErrValidation):
		c.JSON(http.StatusBadRequest, errorBody(code, message))
	default:
		h.logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorBody(code, "internal server error"))
	}
}

func (h *httpHandler) publish(userID uint64, kind model.Kind, op model.ChangeOp, id uint64) {
	h.realtime.Publish(RealtimeMessage{
		UserID:    userID,
		EventType: model.EventResourceChange,
		Change:    model.Change{Kind: kind, Op: op, IDs: []uint64{id}},
		Timestamp: time.Now().UTC(),
	})
	if h.metrics != nil {
		h.metrics.ChangePublished(kind, string(op))
	}
}
