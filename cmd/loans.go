package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/circlesfundme/cfmctl/internal/apiclient"
	"github.com/circlesfundme/cfmctl/internal/endpoints"
	"github.com/circlesfundme/cfmctl/internal/output"
)

func newLoansCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "loans",
		Short: "List loan applications and loan history",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if _, err := a.requireSession(ctx); err != nil {
				return err
			}

			results, err := a.fetchAll(ctx, []dashboardSection{
				{"applications", "Loan Applications", apiclient.Descriptor{Endpoint: endpoints.LoanApplications, RequiresAuth: true}},
				{"history", "Loan History", apiclient.Descriptor{Endpoint: endpoints.Users, Extra: "my-loan-history", RequiresAuth: true}},
			})
			if err != nil {
				return err
			}

			if a.jsonOut {
				return a.printer.JSON(results)
			}
			if err := a.render("Loan Applications", results["applications"]); err != nil {
				return err
			}
			return a.render("Loan History", results["history"])
		},
	}
}

func newNotificationsCmd(a *app) *cobra.Command {
	var page, size int

	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "List notifications page by page",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if _, err := a.requireSession(ctx); err != nil {
				return err
			}

			resp, err := a.client.Do(ctx, apiclient.Descriptor{
				Endpoint:     endpoints.Notifications,
				RequiresAuth: true,
				Query:        map[string]any{"PageNumber": page, "PageSize": size},
			})
			if err != nil {
				return err
			}

			data := dataOf(resp)
			if a.jsonOut {
				return a.printer.JSON(data)
			}
			pageData, ok := data.(map[string]any)
			if !ok {
				return a.render("Notifications", data)
			}
			if err := a.render("Notifications", pageData["items"]); err != nil {
				return err
			}
			a.printer.Print("%s", a.printer.Dim(fmt.Sprintf("page %s, total %s",
				output.Cell(pageData["pageNumber"]), output.Cell(pageData["totalCount"]))))
			return nil
		},
	}

	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&size, "size", 10, "page size")
	return cmd
}
