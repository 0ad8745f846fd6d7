package cmd

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/circlesfundme/cfmctl/internal/apiclient"
	"github.com/circlesfundme/cfmctl/internal/endpoints"
	"github.com/circlesfundme/cfmctl/internal/output"
)

// maxDocumentSize is the backend's upload limit.
const maxDocumentSize = 5 * 1024 * 1024

func newUploadCmd(a *app) *cobra.Command {
	var contentType string

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a KYC document (jpg, png or pdf, up to 5MB)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			info, err := os.Stat(path)
			if err != nil {
				return &output.CLIError{Summary: "No file to upload", Detail: err.Error(), ExitCode: output.ExitUsageError}
			}
			if info.Size() > maxDocumentSize {
				return &output.CLIError{Summary: "File size must not exceed 5MB", ExitCode: output.ExitUsageError}
			}

			ctx := cmd.Context()
			if _, err := a.requireSession(ctx); err != nil {
				return err
			}

			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			if contentType == "" {
				contentType = documentContentType(path)
			}

			resp, err := a.client.Do(ctx, apiclient.Descriptor{
				Endpoint:     endpoints.Utility,
				Extra:        "upload-document",
				Method:       http.MethodPost,
				RequiresAuth: true,
				Multipart:    true,
				Body: &apiclient.Form{Files: []apiclient.FormFile{{
					Field:       "Document",
					FileName:    filepath.Base(path),
					ContentType: contentType,
					Data:        data,
				}}},
			})
			if err != nil {
				return err
			}

			uploaded, ok := resp.Data()
			if success, _ := resp.Body["isSuccess"].(bool); !success || !ok {
				msg, _ := resp.Body["message"].(string)
				if msg == "" {
					msg = "Upload failed"
				}
				return &output.CLIError{Summary: msg, ExitCode: output.ExitGeneral}
			}

			if !a.jsonOut {
				a.printer.Success("Uploaded %s", filepath.Base(path))
			}
			return a.render("", uploaded)
		},
	}

	cmd.Flags().StringVar(&contentType, "content-type", "", "override the detected content type")
	return cmd
}

// documentContentType maps the accepted document extensions to their MIME types.
func documentContentType(name string) string {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(name), ".")) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}
