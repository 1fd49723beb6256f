package endpoints

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/takeoff/internal/api"
	"github.com/jackzampolin/takeoff/internal/document"
	"github.com/jackzampolin/takeoff/internal/jobs"
	"github.com/jackzampolin/takeoff/internal/svcctx"
)

// ProcessDocumentEndpoint handles POST /api/documents/{id}/process.
type ProcessDocumentEndpoint struct{}

func (e *ProcessDocumentEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/documents/{id}/process", e.handler
}

func (e *ProcessDocumentEndpoint) RequiresInit() bool { return true }

func (e *ProcessDocumentEndpoint) Group() string { return "documents" }

// handler godoc
//
//	@Summary		Queue a (re)run
//	@Description	Queues a PENDING or FAILED document. A FAILED document restarts from the first stage.
//	@Tags			documents
//	@Produce		json
//	@Param			id	path		string	true	"Document ID"
//	@Success		202	{object}	document.StatusView
//	@Failure		404	{object}	ErrorResponse
//	@Failure		409	{object}	ErrorResponse	"document is PROCESSING or COMPLETED"
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/documents/{id}/process [post]
func (e *ProcessDocumentEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st := svcctx.StoreFrom(ctx)
	queue := svcctx.QueueFrom(ctx)
	if st == nil || queue == nil {
		writeError(w, http.StatusServiceUnavailable, "document services not initialized")
		return
	}

	doc, err := st.Get(ctx, r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if !document.Runnable(doc.Status) {
		writeError(w, http.StatusConflict, fmt.Sprintf("document is %s", doc.Status))
		return
	}

	if err := queue.Enqueue(ctx, jobs.NewTask(doc.ID, jobs.PriorityHigh, "reprocess")); err != nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("failed to queue document: %v", err))
		return
	}
	if logger := svcctx.LoggerFrom(ctx); logger != nil {
		logger.Info("document queued", "document_id", doc.ID, "status", doc.Status)
	}
	writeJSON(w, http.StatusAccepted, doc.View())
}

func (e *ProcessDocumentEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "process <id>",
		Short: "Queue a pending or failed document for processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var view document.StatusView
			if err := client.Post(cmd.Context(), "/api/documents/"+args[0]+"/process", nil, &view); err != nil {
				return err
			}
			return api.Output(view)
		},
	}
}
