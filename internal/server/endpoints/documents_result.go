package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/takeoff/internal/api"
	"github.com/jackzampolin/takeoff/internal/document"
	"github.com/jackzampolin/takeoff/internal/svcctx"
)

// DocumentResultEndpoint handles GET /api/documents/{id}/result.
type DocumentResultEndpoint struct{}

func (e *DocumentResultEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/documents/{id}/result", e.handler
}

func (e *DocumentResultEndpoint) RequiresInit() bool { return true }

func (e *DocumentResultEndpoint) Group() string { return "documents" }

// handler godoc
//
//	@Summary		Get the takeoff result
//	@Description	Returns measurements, materials, features, cost lines and the aggregate confidence of a completed document
//	@Tags			documents
//	@Produce		json
//	@Param			id	path		string	true	"Document ID"
//	@Success		200	{object}	document.Result
//	@Failure		404	{object}	ErrorResponse
//	@Failure		409	{object}	ErrorResponse	"document is not COMPLETED"
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/documents/{id}/result [get]
func (e *DocumentResultEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "status store not initialized")
		return
	}
	res, err := st.GetResult(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (e *DocumentResultEndpoint) Command(getServerURL func() string) *cobra.Command {
	var outputFile string
	cmd := &cobra.Command{
		Use:   "result <id>",
		Short: "Get the takeoff result of a completed document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var res document.Result
			if err := client.Get(cmd.Context(), "/api/documents/"+args[0]+"/result", &res); err != nil {
				return err
			}
			if outputFile != "" {
				return api.OutputToFile(res, outputFile)
			}
			return api.Output(res)
		},
	}
	cmd.Flags().StringVarP(&outputFile, "file", "f", "", "Write the result to a file (.json or .yaml)")
	return cmd
}
