package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rocoloco/brandguard-backend/internal/domain/jobs"
	"github.com/rocoloco/brandguard-backend/internal/http/response"
	"github.com/rocoloco/brandguard-backend/internal/realtime"
	"github.com/rocoloco/brandguard-backend/internal/services"
)

type JobHandler struct {
	jobs services.JobService
	hub  *realtime.SSEHub
}

func NewJobHandler(jobSvc services.JobService, hub *realtime.SSEHub) *JobHandler {
	return &JobHandler{jobs: jobSvc, hub: hub}
}

func parseJobID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return uuid.Nil, false
	}
	return id, true
}

// GET /v1/jobs/:id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, ok := parseJobID(c)
	if !ok {
		return
	}
	job, err := h.jobs.GetJob(c.Request.Context(), jobID)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}

	st, err := jobs.UnmarshalState(job.State)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "state_decode_failed", err)
		return
	}

	payload := gin.H{
		"job_id":     job.ID,
		"status":     job.Status,
		"progress":   job.Progress,
		"created_at": job.CreatedAt,
		"updated_at": job.UpdatedAt,
	}
	if st.CurrentImageURL != "" {
		payload["current_image_url"] = st.CurrentImageURL
	}
	if score := st.LatestScore(); score != nil {
		payload["compliance_score"] = score
	}
	if job.Error != "" {
		payload["error"] = job.Error
	}
	response.RespondOK(c, payload)
}

// POST /v1/jobs/:id/cancel
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID, ok := parseJobID(c)
	if !ok {
		return
	}
	job, err := h.jobs.CancelJob(c.Request.Context(), jobID)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{
		"job_id":  job.ID,
		"status":  job.Status,
		"message": "job cancelled",
	})
}

type decisionRequest struct {
	Decision    string `json:"decision" binding:"required"`
	Instruction string `json:"instruction"`
}

// POST /v1/jobs/:id/decision
func (h *JobHandler) SubmitDecision(c *gin.Context) {
	jobID, ok := parseJobID(c)
	if !ok {
		return
	}
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	job, err := h.jobs.SubmitDecision(c.Request.Context(), services.DecisionInput{
		JobID:       jobID,
		Decision:    req.Decision,
		Instruction: req.Instruction,
	})
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{
		"job_id":  job.ID,
		"status":  job.Status,
		"message": "decision accepted",
	})
}

// GET /v1/jobs/:id/events
//
// Streams lifecycle events for one job until the client disconnects.
func (h *JobHandler) StreamEvents(c *gin.Context) {
	jobID, ok := parseJobID(c)
	if !ok {
		return
	}
	// 404 for unknown jobs before upgrading to a stream.
	if _, err := h.jobs.GetJob(c.Request.Context(), jobID); err != nil {
		response.RespondServiceError(c, err)
		return
	}

	client := h.hub.NewSSEClient()
	h.hub.AddChannel(client, jobID.String())
	defer h.hub.CloseClient(client)

	h.hub.ServeHTTP(c.Writer, c.Request, client)
}
