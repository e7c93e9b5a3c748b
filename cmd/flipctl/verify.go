package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/urfave/cli/v3"

	s3blob "github.com/aklo360/cc-sub001/internal/blob/s3"
	"github.com/aklo360/cc-sub001/internal/domain"
	"github.com/aklo360/cc-sub001/internal/fairness"
)

func verifyCommand() *cli.Command {
	return &cli.Command{
		Name:  "verify",
		Usage: "recompute an outcome from a revealed secret, offline",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "secret", Usage: "revealed secret (hex)", Required: true},
			&cli.StringFlag{Name: "proof", Usage: "deposit proof id exactly as submitted", Required: true},
			&cli.StringFlag{Name: "hash", Usage: "commitment hash published at commit time", Required: true},
			&cli.StringFlag{Name: "result", Usage: "claimed result (heads or tails) to check"},
		},
		Action: verifyOutcome,
	}
}

func verifyOutcome(_ context.Context, cmd *cli.Command) error {
	secret, err := hex.DecodeString(cmd.String("secret"))
	if err != nil || len(secret) == 0 {
		return fmt.Errorf("secret must be non-empty hex")
	}
	proof := cmd.String("proof")
	if proof == "" {
		return fmt.Errorf("proof must be non-empty")
	}
	roll := fairness.Roll(secret, []byte(proof))
	outcome := fairness.OutcomeFromByte(roll)
	hashOK := fairness.VerifyCommitment(secret, cmd.String("hash"))

	data := pterm.TableData{
		{"Commitment hash", cmd.String("hash")},
		{"Hash matches secret", fmt.Sprint(hashOK)},
		{"Proof", proof},
		{"First hash byte", fmt.Sprint(roll)},
		{"Outcome", string(outcome)},
	}
	if err := pterm.DefaultTable.WithData(data).Render(); err != nil {
		return err
	}

	if !hashOK {
		return fmt.Errorf("secret does not match the commitment hash")
	}
	if claimed := domain.Outcome(cmd.String("result")); claimed != "" && claimed != outcome {
		return fmt.Errorf("claimed result %s does not match recomputed %s", claimed, outcome)
	}
	pterm.Success.Println("outcome verified")
	return nil
}

func archiveCommand() *cli.Command {
	return &cli.Command{
		Name:  "archive",
		Usage: "inspect published commitment archives",
		Commands: []*cli.Command{
			{
				Name:  "verify",
				Usage: "re-verify every bundle in one day's archive",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "day", Usage: "UTC day, YYYY-MM-DD", Required: true},
				},
				Action: verifyArchive,
			},
		},
	}
}

func verifyArchive(ctx context.Context, cmd *cli.Command) error {
	day, err := time.Parse(time.DateOnly, cmd.String("day"))
	if err != nil {
		return fmt.Errorf("bad --day: %w", err)
	}
	cfg, err := loadConfig(cmd.Root())
	if err != nil {
		return err
	}
	client, err := s3blob.New(ctx, s3blob.ClientConfig{
		Endpoint:       cfg.S3.Endpoint,
		Region:         cfg.S3.Region,
		Bucket:         cfg.S3.Bucket,
		AccessKey:      cfg.S3.AccessKey,
		SecretKey:      cfg.S3.SecretKey,
		UseSSL:         cfg.S3.UseSSL,
		ForcePathStyle: cfg.S3.ForcePathStyle,
	})
	if err != nil {
		return err
	}

	records, err := s3blob.ReadArchive(ctx, s3blob.NewReader(client), day)
	if err != nil {
		return err
	}

	data := pterm.TableData{{"Commitment", "Wallet", "Result", "Payout", "Verified"}}
	var bad int
	for _, rec := range records {
		status := "ok"
		if err := rec.Verification.Verify(); err != nil {
			status = err.Error()
			bad++
		}
		data = append(data, []string{
			rec.Commitment.ID,
			rec.Commitment.Wallet,
			string(rec.Verification.Result),
			fmt.Sprint(rec.Commitment.Payout),
			status,
		})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		return err
	}
	if bad > 0 {
		return fmt.Errorf("%d of %d bundles failed verification", bad, len(records))
	}
	pterm.Success.Printfln("%d bundles verified from %s", len(records), s3blob.ArchivePath(day))
	return nil
}
