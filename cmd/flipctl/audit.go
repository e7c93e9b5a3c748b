package main

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/urfave/cli/v3"

	"github.com/aklo360/cc-sub001/internal/app"
	"github.com/aklo360/cc-sub001/internal/domain"
)

func auditCommand() *cli.Command {
	return &cli.Command{
		Name:  "audit",
		Usage: "show the audit log, newest first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "event", Usage: `event name, or a prefix such as "payout.*"`},
			&cli.StringFlag{Name: "commitment", Usage: "only entries for this commitment id"},
			&cli.DurationFlag{Name: "since", Usage: "only entries newer than this age, e.g. 24h"},
			&cli.IntFlag{Name: "limit", Value: 50},
		},
		Action: listAudit,
	}
}

func listAudit(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd.Root())
	if err != nil {
		return err
	}
	stores, _, closeStores, err := app.OpenStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStores()

	opts := domain.ListOpts{
		Limit:        int(cmd.Int("limit")),
		Event:        cmd.String("event"),
		CommitmentID: cmd.String("commitment"),
	}
	if age := cmd.Duration("since"); age > 0 {
		since := time.Now().UTC().Add(-age)
		opts.Since = &since
	}

	entries, err := stores.Audit.List(ctx, opts)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		pterm.Info.Println("no matching audit entries")
		return nil
	}
	return pterm.DefaultTable.WithHasHeader().WithData(auditTable(entries)).Render()
}

func auditTable(entries []domain.AuditEntry) pterm.TableData {
	data := pterm.TableData{{"ID", "Time", "Event", "Detail"}}
	for _, e := range entries {
		detail, err := json.Marshal(e.Detail)
		if err != nil {
			detail = []byte("?")
		}
		data = append(data, []string{
			strconv.FormatInt(e.ID, 10),
			e.CreatedAt.Format(time.RFC3339),
			e.Event,
			string(detail),
		})
	}
	return data
}
