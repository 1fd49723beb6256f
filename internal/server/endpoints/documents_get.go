package endpoints

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/takeoff/internal/api"
	"github.com/jackzampolin/takeoff/internal/document"
	"github.com/jackzampolin/takeoff/internal/svcctx"
)

// GetDocumentEndpoint handles GET /api/documents/{id}.
type GetDocumentEndpoint struct{}

func (e *GetDocumentEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/documents/{id}", e.handler
}

func (e *GetDocumentEndpoint) RequiresInit() bool { return true }

func (e *GetDocumentEndpoint) Group() string { return "documents" }

// handler godoc
//
//	@Summary	Get document by ID
//	@Tags		documents
//	@Produce	json
//	@Param		id	path		string	true	"Document ID"
//	@Success	200	{object}	document.Document
//	@Failure	404	{object}	ErrorResponse
//	@Failure	500	{object}	ErrorResponse
//	@Router		/api/documents/{id} [get]
func (e *GetDocumentEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "status store not initialized")
		return
	}
	doc, err := st.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (e *GetDocumentEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Get a document by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var doc document.Document
			if err := client.Get(cmd.Context(), "/api/documents/"+args[0], &doc); err != nil {
				return err
			}
			return api.Output(doc)
		},
	}
}

// DocumentStatusEndpoint handles GET /api/documents/{id}/status.
type DocumentStatusEndpoint struct{}

func (e *DocumentStatusEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/documents/{id}/status", e.handler
}

func (e *DocumentStatusEndpoint) RequiresInit() bool { return true }

func (e *DocumentStatusEndpoint) Group() string { return "documents" }

// handler godoc
//
//	@Summary		Poll document status
//	@Description	Returns the status, the current stage while processing, and the error of a failed run
//	@Tags			documents
//	@Produce		json
//	@Param			id	path		string	true	"Document ID"
//	@Success		200	{object}	document.StatusView
//	@Failure		404	{object}	ErrorResponse
//	@Router			/api/documents/{id}/status [get]
func (e *DocumentStatusEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "status store not initialized")
		return
	}
	doc, err := st.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc.View())
}

func (e *DocumentStatusEndpoint) Command(getServerURL func() string) *cobra.Command {
	var watch bool
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Get the processing status of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			if watch {
				view, err := pollStatus(cmd.Context(), client, args[0], interval)
				if err != nil {
					return err
				}
				return api.Output(view)
			}
			var view document.StatusView
			if err := client.Get(cmd.Context(), "/api/documents/"+args[0]+"/status", &view); err != nil {
				return err
			}
			return api.Output(view)
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Poll until the document completes or fails")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Polling interval with --watch")
	return cmd
}

// pollStatus polls a document's status until it leaves PENDING and
// PROCESSING, printing stage changes to stderr.
func pollStatus(ctx context.Context, client *api.Client, id string, interval time.Duration) (document.StatusView, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := ""
	for {
		var view document.StatusView
		if err := client.Get(ctx, "/api/documents/"+id+"/status", &view); err != nil {
			return view, err
		}
		marker := string(view.Status) + " " + view.Stage
		if marker != last {
			if view.Stage != "" {
				fmt.Fprintf(stderr, "%s: %s (%s, attempt %d)\n", id, view.Status, view.Stage, view.Attempts)
			} else {
				fmt.Fprintf(stderr, "%s: %s\n", id, view.Status)
			}
			last = marker
		}
		if view.Status == document.StatusCompleted || view.Status == document.StatusFailed {
			return view, nil
		}

		select {
		case <-ctx.Done():
			return view, ctx.Err()
		case <-ticker.C:
		}
	}
}
