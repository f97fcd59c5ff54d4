package routes

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/OFFIS-RIT/kiwi/graphrag/internal/queue"
	"github.com/OFFIS-RIT/kiwi/graphrag/internal/server/middleware"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/graph"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/logger"

	"github.com/labstack/echo/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

type insertDocumentResponse struct {
	Message        string              `json:"message"`
	DocumentID     string              `json:"document_id,omitempty"`
	Queued         bool                `json:"queued,omitempty"`
	Report         *graph.InsertReport `json:"report,omitempty"`
	FailedChunkIDs []string            `json:"failed_chunk_ids,omitempty"`
	Conflicts      int                 `json:"conflicts,omitempty"`
}

// InsertDocumentHandler inserts a document. With a queue configured and
// async set, the document is queued for the worker and 202 is returned.
func InsertDocumentHandler(c echo.Context) error {
	type insertDocumentBody struct {
		ID    string `json:"id"`
		Text  string `json:"text" validate:"required"`
		Async bool   `json:"async"`
	}

	data := new(insertDocumentBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, insertDocumentResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, insertDocumentResponse{Message: "Invalid request body"})
	}

	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()

	if data.ID == "" {
		id, err := gonanoid.New()
		if err != nil {
			logger.Error("[Server] Failed to generate document id", "err", err)
			return c.JSON(http.StatusInternalServerError, insertDocumentResponse{Message: "Internal server error"})
		}
		data.ID = id
	}

	if data.Async && app.Queue != nil {
		msg := queue.IngestMessage{DocumentID: data.ID, CorrelationID: c.Response().Header().Get(echo.HeaderXRequestID)}
		if app.Objects != nil {
			msg.ObjectKey = "documents/" + data.ID + ".txt"
			if err := app.Objects.PutText(ctx, msg.ObjectKey, []byte(data.Text)); err != nil {
				logger.Error("[Server] Failed to store document", "document_id", data.ID, "err", err)
				return c.JSON(http.StatusInternalServerError, insertDocumentResponse{Message: "Internal server error"})
			}
		} else {
			msg.Text = data.Text
		}

		body, err := json.Marshal(msg)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, insertDocumentResponse{Message: "Internal server error"})
		}
		if err := queue.PublishFIFO(app.Queue, queue.IngestQueue, body); err != nil {
			logger.Error("[Server] Failed to enqueue document", "document_id", data.ID, "err", err)
			return c.JSON(http.StatusInternalServerError, insertDocumentResponse{Message: "Internal server error"})
		}
		return c.JSON(http.StatusAccepted, insertDocumentResponse{
			Message:    "Document queued",
			DocumentID: data.ID,
			Queued:     true,
		})
	}

	report, err := app.Graph.Insert(ctx, graph.Document{ID: data.ID, Text: data.Text})
	switch {
	case errors.Is(err, graph.ErrEmptyDocument):
		return c.JSON(http.StatusBadRequest, insertDocumentResponse{Message: "Document is empty", DocumentID: data.ID})
	case errors.Is(err, graph.ErrNoFragments):
		return c.JSON(http.StatusUnprocessableEntity, insertDocumentResponse{
			Message:        "No chunk of the document could be extracted",
			DocumentID:     data.ID,
			Report:         report,
			FailedChunkIDs: report.FailedChunkIDs(),
		})
	case err != nil:
		logger.Error("[Server] Failed to insert document", "document_id", data.ID, "err", err)
		return c.JSON(http.StatusInternalServerError, insertDocumentResponse{Message: "Internal server error"})
	}

	if app.AfterInsert != nil {
		if err := app.AfterInsert(); err != nil {
			logger.Error("[Server] Failed to persist graph", "err", err)
		}
	}

	return c.JSON(http.StatusCreated, insertDocumentResponse{
		Message:        "Document inserted",
		DocumentID:     report.DocumentID,
		Report:         report,
		FailedChunkIDs: report.FailedChunkIDs(),
		Conflicts:      len(report.Conflicts),
	})
}
