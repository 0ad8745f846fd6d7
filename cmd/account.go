package cmd

import (
	"context"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/circlesfundme/cfmctl/internal/apiclient"
	"github.com/circlesfundme/cfmctl/internal/endpoints"
)

func newMeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Show the logged-in user's profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if _, err := a.requireSession(ctx); err != nil {
				return err
			}

			resp, err := a.client.Do(ctx, apiclient.Descriptor{Endpoint: endpoints.Users, Extra: "me", RequiresAuth: true})
			if err != nil {
				return err
			}
			return a.render("Profile", dataOf(resp))
		},
	}
}

// dashboardSection is one concurrently fetched part of the dashboard.
type dashboardSection struct {
	key   string
	title string
	desc  apiclient.Descriptor
}

var dashboardSections = []dashboardSection{
	{"profile", "Profile", apiclient.Descriptor{Endpoint: endpoints.Users, Extra: "me", RequiresAuth: true}},
	{"wallets", "Wallets", apiclient.Descriptor{Endpoint: endpoints.Financials, Extra: "my-wallets", RequiresAuth: true}},
	{"hasActiveLoan", "Active Loan", apiclient.Descriptor{Endpoint: endpoints.Financials, Extra: "has-active-loan", RequiresAuth: true}},
	{"eligibleLoan", "Loan Eligibility", apiclient.Descriptor{Endpoint: endpoints.Users, Extra: "my-eligible-loan", RequiresAuth: true}},
}

func newDashboardCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Show profile, wallets and loan eligibility",
		Long: `Fetch the dashboard sections concurrently. When the access token has expired,
all sections share a single token refresh before being retried.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if _, err := a.requireSession(ctx); err != nil {
				return err
			}

			results, err := a.fetchAll(ctx, dashboardSections)
			if err != nil {
				return err
			}

			if a.jsonOut {
				return a.printer.JSON(results)
			}
			for _, s := range dashboardSections {
				if err := a.render(s.title, results[s.key]); err != nil {
					return err
				}
			}
			a.printer.PrintHints("dashboard")
			return nil
		},
	}
}

// fetchAll runs every section request concurrently and returns their data by key.
func (a *app) fetchAll(ctx context.Context, sections []dashboardSection) (map[string]any, error) {
	var mu sync.Mutex
	results := make(map[string]any, len(sections))

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range sections {
		g.Go(func() error {
			resp, err := a.client.Do(gctx, s.desc)
			if err != nil {
				return err
			}
			mu.Lock()
			results[s.key] = dataOf(resp)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
