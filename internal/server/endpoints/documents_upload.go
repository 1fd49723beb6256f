package endpoints

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/takeoff/internal/api"
	"github.com/jackzampolin/takeoff/internal/blob"
	"github.com/jackzampolin/takeoff/internal/document"
	"github.com/jackzampolin/takeoff/internal/jobs"
	"github.com/jackzampolin/takeoff/internal/svcctx"
)

// DefaultMaxUploadBytes bounds an uploaded plan set.
const DefaultMaxUploadBytes = 200 << 20

var pdfMagic = []byte("%PDF-")

// UploadDocumentEndpoint handles POST /api/documents.
type UploadDocumentEndpoint struct {
	// MaxUploadBytes limits the request body (default 200 MiB).
	MaxUploadBytes int64
}

func (e *UploadDocumentEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/documents", e.handler
}

func (e *UploadDocumentEndpoint) RequiresInit() bool { return true }

func (e *UploadDocumentEndpoint) Group() string { return "documents" }

// handler godoc
//
//	@Summary		Upload a plan set
//	@Description	Stores the PDF, creates a PENDING document and queues it for processing
//	@Tags			documents
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			file	formData	file	true	"PDF plan set"
//	@Success		202		{object}	document.Document
//	@Failure		400		{object}	ErrorResponse
//	@Failure		413		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/documents [post]
func (e *UploadDocumentEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st := svcctx.StoreFrom(ctx)
	blobs := svcctx.BlobsFrom(ctx)
	queue := svcctx.QueueFrom(ctx)
	if st == nil || blobs == nil || queue == nil {
		writeError(w, http.StatusServiceUnavailable, "document services not initialized")
		return
	}
	logger := svcctx.LoggerFrom(ctx)

	limit := e.MaxUploadBytes
	if limit <= 0 {
		limit = DefaultMaxUploadBytes
	}
	if r.ContentLength > limit {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", limit))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errorsAs(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", limit))
			return
		}
		writeError(w, http.StatusBadRequest, "expected multipart form with a file field")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}
	if !bytes.HasPrefix(data, pdfMagic) {
		writeError(w, http.StatusBadRequest, "file is not a PDF")
		return
	}

	id := uuid.NewString()
	key := blob.DocumentKey(id)
	if err := blobs.Put(ctx, key, data); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to store upload: %v", err))
		return
	}

	doc := &document.Document{
		ID:         id,
		Filename:   header.Filename,
		StorageRef: key,
		Status:     document.StatusPending,
	}
	if err := st.Create(ctx, doc); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to create document: %v", err))
		return
	}

	if err := queue.Enqueue(ctx, jobs.NewTask(id, jobs.PriorityNormal, "upload")); err != nil {
		// The document stays PENDING and can be queued with /process.
		if logger != nil {
			logger.Error("failed to queue uploaded document", "document_id", id, "error", err)
		}
		writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("document %s stored but not queued: %v", id, err))
		return
	}

	if logger != nil {
		logger.Info("document uploaded", "document_id", id, "filename", header.Filename, "bytes", len(data))
	}
	writeJSON(w, http.StatusAccepted, doc)
}

func (e *UploadDocumentEndpoint) Command(getServerURL func() string) *cobra.Command {
	var wait bool
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "upload <file.pdf>",
		Short: "Upload a plan set and queue it for processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())
			var doc document.Document
			if err := client.Upload(ctx, "/api/documents", "file", args[0], &doc); err != nil {
				return err
			}
			if !wait {
				return api.Output(doc)
			}
			view, err := pollStatus(ctx, client, doc.ID, interval)
			if err != nil {
				return err
			}
			return api.Output(view)
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "Poll until the document completes or fails")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Polling interval with --wait")
	return cmd
}
