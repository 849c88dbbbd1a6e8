// Package httpapi is Echoman's HTTP boundary: the external ingestion
// contract (spec.md §6), manual per-period stage triggers, the
// RAG Reader SSE stream, and the health/readiness probes.
//
// Grounded on rag-orchestrator's cmd/server/main.go Echo wiring and
// its internal/adapter/connect/augur/handler.go stream-event
// conversion loop — replayed here over text/event-stream instead of a
// connect-rpc server stream, since the generated protobuf stubs that
// handler imports are not present anywhere in the retrieval pack (see
// DESIGN.md's dropped-dependency notes for connectrpc.com/connect and
// the alt/gen/proto replace target).
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"echoman/internal/domain"
	"echoman/internal/scheduler"
	"echoman/internal/usecase/ingest"
	"echoman/internal/usecase/monitoring"
	"echoman/internal/usecase/ragreader"
	"echoman/internal/usecase/reconcile"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// sanitizeUTF8 strips invalid UTF-8 byte sequences before a chunk is
// written to the response body; Ollama may emit partial multi-byte
// runes mid-stream.
func sanitizeUTF8(s string) string {
	return strings.ToValidUTF8(s, "")
}

// Handler wires every usecase the HTTP boundary calls into.
type Handler struct {
	pool       *pgxpool.Pool
	ingest     ingest.IngestUsecase
	scheduler  *scheduler.Scheduler
	monitoring monitoring.MonitoringUsecase
	ragReader  ragreader.RAGReader
	itemSweep  reconcile.Sweeper
	topicSweep reconcile.Sweeper
	logger     *slog.Logger
}

// New builds a Handler. pool is kept only for the /readyz liveness
// ping, matching the teacher's own dbPool.Ping readiness check.
func New(
	pool *pgxpool.Pool,
	ingestUC ingest.IngestUsecase,
	sched *scheduler.Scheduler,
	monitoringUC monitoring.MonitoringUsecase,
	ragReader ragreader.RAGReader,
	itemSweep reconcile.Sweeper,
	topicSweep reconcile.Sweeper,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		pool: pool, ingest: ingestUC, scheduler: sched, monitoring: monitoringUC,
		ragReader: ragReader, itemSweep: itemSweep, topicSweep: topicSweep, logger: logger,
	}
}

// Register mounts every route on e, following the teacher's own
// manual e.GET/e.POST registration style in cmd/server/main.go.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/healthz", h.Healthz)
	e.GET("/readyz", h.Readyz)

	e.POST("/v1/items", h.IngestItem)

	e.POST("/v1/pipeline/ingest", h.TriggerIngest)
	e.POST("/v1/pipeline/event-merge", h.TriggerEventMerge)
	e.POST("/v1/pipeline/global-merge", h.TriggerGlobalMerge)
	e.POST("/v1/pipeline/reconcile", h.TriggerReconcile)

	e.GET("/v1/monitoring/snapshot", h.MonitoringSnapshot)

	e.POST("/v1/rag/stream", h.RAGStream)
}

func (h *Handler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Readyz(c echo.Context) error {
	if err := h.pool.Ping(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "db down", "error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
}

// itemDraft is the wire shape of spec.md §6's ingestion contract.
type itemDraft struct {
	Platform     string           `json:"platform"`
	Title        string           `json:"title"`
	Summary      string           `json:"summary"`
	URL          string           `json:"url"`
	PublishedAt  *time.Time       `json:"published_at,omitempty"`
	FetchedAt    *time.Time       `json:"fetched_at,omitempty"`
	HeatValue    *float64         `json:"heat_value,omitempty"`
	Interactions map[string]int64 `json:"interactions,omitempty"`
	RunID        string           `json:"run_id"`
}

// IngestItem is the collected item ingestion endpoint: one scraper
// batch calls this once per normalized item.
func (h *Handler) IngestItem(c echo.Context) error {
	var draft itemDraft
	if err := c.Bind(&draft); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "malformed request body"})
	}

	d := ingest.Draft{
		Platform:     domain.Platform(draft.Platform),
		Title:        draft.Title,
		Summary:      draft.Summary,
		URL:          draft.URL,
		PublishedAt:  draft.PublishedAt,
		HeatValue:    draft.HeatValue,
		Interactions: draft.Interactions,
		RunID:        draft.RunID,
	}
	if draft.FetchedAt != nil {
		d.FetchedAt = *draft.FetchedAt
	}

	item, err := h.ingest.Ingest(c.Request().Context(), d)
	switch {
	case err == nil:
		return c.JSON(http.StatusCreated, item)
	case errors.Is(err, domain.ErrDuplicateItem):
		return c.JSON(http.StatusConflict, map[string]string{"error": "duplicate item"})
	case errors.Is(err, ingest.ErrInvalidDraft):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, ingest.ErrNoisyTitle):
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	default:
		h.logger.Error("ingest item", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

type periodRequest struct {
	Period string `json:"period"`
}

// TriggerIngest, TriggerEventMerge, and TriggerGlobalMerge expose the
// Scheduler's three idempotent stages for manual, per-period
// invocation, per spec.md's "independently triggerable via the HTTP
// boundary" requirement.
func (h *Handler) TriggerIngest(c echo.Context) error {
	return h.triggerStage(c, h.scheduler.TriggerIngest)
}

func (h *Handler) TriggerEventMerge(c echo.Context) error {
	return h.triggerStage(c, h.scheduler.TriggerStageOne)
}

func (h *Handler) TriggerGlobalMerge(c echo.Context) error {
	return h.triggerStage(c, h.scheduler.TriggerStageTwo)
}

func (h *Handler) triggerStage(c echo.Context, stage func(ctx context.Context, period string) error) error {
	var req periodRequest
	if err := c.Bind(&req); err != nil || req.Period == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "period is required"})
	}
	if err := stage(c.Request().Context(), req.Period); err != nil {
		h.logger.Error("manual stage trigger failed", "period", req.Period, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "completed", "period": req.Period})
}

// TriggerReconcile runs one reconciliation sweep pass over both
// object kinds, bounded by the configured batch size.
func (h *Handler) TriggerReconcile(c echo.Context) error {
	var req struct {
		Period    string `json:"period"`
		BatchSize int    `json:"batch_size"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "malformed request body"})
	}
	if req.BatchSize <= 0 {
		req.BatchSize = 500
	}

	itemSummary, err := h.itemSweep.Sweep(c.Request().Context(), req.Period, req.BatchSize)
	if err != nil {
		h.logger.Error("source item reconcile sweep failed", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	topicSummary, err := h.topicSweep.Sweep(c.Request().Context(), req.Period, req.BatchSize)
	if err != nil {
		h.logger.Error("topic reconcile sweep failed", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"source_items": itemSummary,
		"topics":       topicSummary,
	})
}

// MonitoringSnapshot renders the read-only operational dashboard.
func (h *Handler) MonitoringSnapshot(c echo.Context) error {
	snapshot, err := h.monitoring.Snapshot(c.Request().Context())
	if err != nil {
		h.logger.Error("monitoring snapshot", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, snapshot)
}

type ragStreamRequest struct {
	Query   string `json:"query"`
	Mode    string `json:"mode"`
	TopicID *int64 `json:"topic_id,omitempty"`
}

// RAGStream streams a RAG Reader answer back as Server-Sent Events:
// one `token` event per generated chunk, one `citations` event, then
// exactly one of `done`/`error` — following the same event sequence
// as rag_answer_stream.go, replayed over SSE frames instead of a
// connect-rpc ServerStream.Send loop.
func (h *Handler) RAGStream(c echo.Context) error {
	var req ragStreamRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "malformed request body"})
	}

	input := ragreader.ReadInput{Query: req.Query, Mode: ragreader.Mode(req.Mode), TopicID: req.TopicID}

	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	ctx := c.Request().Context()
	h.logger.Info("rag stream started", "mode", req.Mode, "topic_id", formatTopicID(req.TopicID))
	events := h.ragReader.Stream(ctx, input)
	for event := range events {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if err := writeSSE(c, event); err != nil {
			h.logger.Error("write rag stream event", "error", err)
			return nil
		}
		c.Response().Flush()
	}
	return nil
}

func writeSSE(c echo.Context, event ragreader.StreamEvent) error {
	switch event.Kind {
	case ragreader.EventToken:
		_, err := fmt.Fprintf(c.Response(), "event: token\ndata: %s\n\n", sanitizeUTF8(event.Token))
		return err
	case ragreader.EventCitations:
		return writeJSONEvent(c, "citations", event.Payload)
	case ragreader.EventDone:
		if event.Payload != nil {
			event.Payload.Answer = sanitizeUTF8(event.Payload.Answer)
		}
		return writeJSONEvent(c, "done", event.Payload)
	case ragreader.EventError:
		msg := "internal error"
		if event.Err != nil {
			msg = event.Err.Error()
		}
		_, err := fmt.Fprintf(c.Response(), "event: error\ndata: {\"error\":%q}\n\n", msg)
		return err
	default:
		return nil
	}
}

func writeJSONEvent(c echo.Context, name string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.Response(), "event: %s\ndata: %s\n\n", name, body)
	return err
}

// formatTopicID renders a nullable topic id for logging without
// importing strconv at every call site.
func formatTopicID(id *int64) string {
	if id == nil {
		return "-"
	}
	return strconv.FormatInt(*id, 10)
}
