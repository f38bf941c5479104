package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/wolfman30/medspa-roster-sync/internal/app/bootstrap"
	"github.com/wolfman30/medspa-roster-sync/internal/identity"
	"github.com/wolfman30/medspa-roster-sync/internal/reports"
)

func (c *commands) syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one full sync and print its summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				sum, runErr := app.Orchestrator.RunFullSync(ctx)
				if sum.RunID != "" {
					if err := printJSON(cmd.OutOrStdout(), sum); err != nil {
						return err
					}
				}
				return runErr
			})
		},
	}
}

func (c *commands) crmResyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crm-resync <patient-id>...",
		Short: "Push selected patients' payment state to the CRM",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]uuid.UUID, 0, len(args))
			for _, raw := range args {
				id, err := uuid.Parse(raw)
				if err != nil {
					return fmt.Errorf("invalid patient id %q: %w", raw, err)
				}
				ids = append(ids, id)
			}
			return c.withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				sum, runErr := app.Orchestrator.PropagatePatients(ctx, ids)
				if sum.RunID != "" {
					if err := printJSON(cmd.OutOrStdout(), sum); err != nil {
						return err
					}
				}
				return runErr
			})
		},
	}
}

func (c *commands) runsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent sync runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return c.withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				runs, err := app.Runs.List(ctx, limit)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), runs)
			})
		},
	}
	cmd.Flags().Int("limit", 20, "number of runs to list")
	return cmd
}

func (c *commands) duplicatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "duplicates",
		Short: "Report duplicate patients and membership records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			xlsxPath, _ := cmd.Flags().GetString("xlsx")
			return c.withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				report, err := app.Duplicates.Evaluate(ctx)
				if err != nil {
					return err
				}
				if xlsxPath == "" {
					return printJSON(cmd.OutOrStdout(), report)
				}
				out, err := createOutput(xlsxPath)
				if err != nil {
					return err
				}
				defer out.Close()
				return reports.WriteDuplicates(out, report)
			})
		},
	}
	cmd.Flags().String("xlsx", "", "write a spreadsheet to this path (- for stdout)")
	return cmd
}

func (c *commands) reviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Show the membership match review queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			xlsxPath, _ := cmd.Flags().GetString("xlsx")
			return c.withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				queue, err := app.Identity.ReviewQueue(ctx)
				if err != nil {
					return err
				}
				if xlsxPath == "" {
					return printJSON(cmd.OutOrStdout(), queue)
				}
				out, err := createOutput(xlsxPath)
				if err != nil {
					return err
				}
				defer out.Close()
				return reports.WriteReviewQueue(out, queue)
			})
		},
	}
	cmd.Flags().String("xlsx", "", "write a spreadsheet to this path (- for stdout)")
	return cmd
}

func (c *commands) resolveMatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve-match <normalized-name> <patient-id> <external-id>",
		Short: "Link a patient to a membership record by hand",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			patientID, err := uuid.Parse(args[1])
			if err != nil {
				return fmt.Errorf("invalid patient id: %w", err)
			}
			method, _ := cmd.Flags().GetString("method")
			return c.withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				link, err := app.Identity.ResolveMatch(ctx, args[0], patientID, args[2], identity.MatchMethod(method), actor(cmd))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), link)
			})
		},
	}
	cmd.Flags().String("method", string(identity.MatchManual), "match method recorded on the link")
	return cmd
}

func (c *commands) dismissMatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dismiss-match <normalized-name>",
		Short: "Hide a name from the review queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reason, _ := cmd.Flags().GetString("reason")
			return c.withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				if err := app.Identity.DismissMatch(ctx, args[0], reason, actor(cmd)); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "dismissed %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().String("reason", "", "why the name was dismissed")
	return cmd
}

func (c *commands) confirmAutoLinksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "confirm-auto-links",
		Short: "Create links for every unambiguous membership match",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				res, err := app.Identity.ConfirmAutoLinks(ctx, actor(cmd))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}

func (c *commands) unlinkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlink <patient-id> <system>",
		Short: "Deactivate a patient's active link to a system",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			patientID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid patient id: %w", err)
			}
			system := identity.System(args[1])
			if !system.Valid() {
				return fmt.Errorf("unknown system %q", args[1])
			}
			return c.withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				removed, err := app.Identity.Unlink(ctx, patientID, system, actor(cmd))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]bool{"unlinked": removed})
			})
		},
	}
}

func (c *commands) linkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link <patient-id> <system> <external-id>",
		Short: "Map a patient to a billing, CRM or membership record",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			patientID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid patient id: %w", err)
			}
			system := identity.System(args[1])
			if !system.Valid() {
				return fmt.Errorf("unknown system %q", args[1])
			}
			method, _ := cmd.Flags().GetString("method")
			replace, _ := cmd.Flags().GetBool("replace")
			return c.withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				link, err := app.Identity.LinkExternal(ctx, patientID, system, args[2], identity.MatchMethod(method), replace, actor(cmd))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), link)
			})
		},
	}
	cmd.Flags().String("method", string(identity.MatchManual), "match method recorded on the link")
	cmd.Flags().Bool("replace", false, "deactivate the patient's current link for the system first")
	return cmd
}

func (c *commands) billingReviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "billing-review",
		Short: "List patients and billing customers without a billing link",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				review, err := app.Identity.BillingReview(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), review)
			})
		},
	}
}

func (c *commands) importMembershipsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import-memberships",
		Short: "Refresh the membership roster mirror",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				res, err := app.Memberships.Import(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}

func (c *commands) issuesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "issues",
		Short: "List open payment issues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				issues, err := app.Issues.OpenIssues(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), issues)
			})
		},
	}
}

func (c *commands) resolveIssueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve-issue <issue-id>",
		Short: "Close a payment issue, optionally restoring the patient's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			issueID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid issue id: %w", err)
			}
			note, _ := cmd.Flags().GetString("note")
			restore, _ := cmd.Flags().GetBool("restore-status")
			return c.withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				issue, restored, err := app.Issues.ResolveIssue(ctx, issueID, actor(cmd), note, restore)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{"issue": issue, "status_restored": restored})
			})
		},
	}
	cmd.Flags().String("note", "", "resolution note")
	cmd.Flags().Bool("restore-status", true, "restore the status held before the issue")
	return cmd
}
