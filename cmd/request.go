package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/circlesfundme/cfmctl/internal/apiclient"
	"github.com/circlesfundme/cfmctl/internal/output"
)

func newRequestCmd(a *app) *cobra.Command {
	var (
		method, extra, param, data, outFile string
		auth, returnError                   bool
		query                               []string
	)

	cmd := &cobra.Command{
		Use:   "request <endpoint>",
		Short: "Send an arbitrary API request",
		Long: `Send a request to any endpoint. The endpoint may be a logical name
(auth, users, financials, ...) or a raw path such as users/me.

Examples:
  cfmctl request users --extra me --auth
  cfmctl request notifications --auth -q PageNumber=1 -q PageSize=5
  cfmctl request loanapplications/create -X POST --auth -d '{"amount":50000}'
  cfmctl request utility/download --param report.pdf --auth -o report.pdf`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			desc := apiclient.Descriptor{
				Endpoint:           args[0],
				Extra:              extra,
				Param:              param,
				Method:             method,
				RequiresAuth:       auth,
				ReturnErrorPayload: returnError,
			}

			if len(query) > 0 {
				desc.Query = make(map[string]any, len(query))
				for _, kv := range query {
					k, v, ok := strings.Cut(kv, "=")
					if !ok || k == "" {
						return &output.CLIError{Summary: fmt.Sprintf("invalid query %q (want key=value)", kv), ExitCode: output.ExitUsageError}
					}
					desc.Query[k] = v
				}
			}
			if data != "" {
				var body any
				if err := json.Unmarshal([]byte(data), &body); err != nil {
					return &output.CLIError{Summary: "invalid --data JSON", Detail: err.Error(), ExitCode: output.ExitUsageError}
				}
				desc.Body = body
			}
			if outFile != "" {
				desc.ResponseType = apiclient.ResponseBinary
			}

			ctx := cmd.Context()
			if err := a.connect(ctx); err != nil {
				return err
			}
			resp, err := a.client.Do(ctx, desc)
			if err != nil {
				return err
			}

			if resp.Raw != nil {
				defer resp.Raw.Body.Close()
				return a.saveBody(resp.Raw.Body, outFile)
			}
			return a.printer.JSON(resp.Fields())
		},
	}

	f := cmd.Flags()
	f.StringVarP(&method, "method", "X", "GET", "HTTP method")
	f.StringVar(&extra, "extra", "", "extra path segment")
	f.StringVar(&param, "param", "", "trailing path parameter")
	f.StringVarP(&data, "data", "d", "", "JSON request body")
	f.StringArrayVarP(&query, "query", "q", nil, "query parameter key=value (repeatable)")
	f.BoolVar(&auth, "auth", false, "send the stored access token")
	f.BoolVar(&returnError, "raw-error", false, "print the backend error payload instead of failing")
	f.StringVarP(&outFile, "output", "o", "", "write the raw response body to a file (- for stdout)")
	return cmd
}

func (a *app) saveBody(body io.Reader, path string) error {
	if path == "-" {
		_, err := io.Copy(a.printer.Out(), body)
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	n, err := io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	a.printer.Success("Saved %d bytes to %s", n, path)
	return nil
}
