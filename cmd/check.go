package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/crm-dedupe/internal/record"
)

var (
	checkJSON        string
	checkCSV         string
	checkConcurrency int
	checkUser        string
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run duplicate detection on incoming contacts",
	Long: `Checks incoming contact records for duplicates and applies the
recommended action: confident matches merge (when auto-execution is on),
uncertain ones queue for review, the rest create new leads.

Examples:
  # Single contact from inline JSON
  crm-dedupe check --json '{"email":"amit@solar.in","first_name":"Amit"}'

  # Batch from a CSV export (email,phone,first_name,last_name,address,city,state,postal_code)
  crm-dedupe check --csv contacts.csv --concurrency 4`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if (checkJSON == "") == (checkCSV == "") {
			return eris.New("check: exactly one of --json or --csv is required")
		}

		svc, pool, err := newService(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if checkJSON != "" {
			var payload record.ContactPayload
			if err := json.Unmarshal([]byte(checkJSON), &payload); err != nil {
				return eris.Wrap(err, "check: parse payload")
			}
			d, err := svc.CheckDuplicates(ctx, payload, checkUser)
			if err != nil {
				return err
			}
			return printJSON(d)
		}

		payloads, err := parseContactCSV(checkCSV)
		if err != nil {
			return err
		}
		zap.L().Info("parsed csv", zap.Int("contacts", len(payloads)))

		var created, merged, queued, failed atomic.Int64

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(checkConcurrency)
		for _, payload := range payloads {
			g.Go(func() error {
				d, err := svc.CheckDuplicates(gctx, payload, checkUser)
				if err != nil {
					failed.Add(1)
					zap.L().Warn("check failed",
						zap.String("email", payload.Email), zap.Error(err))
					return nil
				}
				switch {
				case d.CreatedLeadID != nil:
					created.Add(1)
				case d.MergedInto != nil:
					merged.Add(1)
				default:
					queued.Add(1)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		zap.L().Info("batch check complete",
			zap.Int64("created", created.Load()),
			zap.Int64("merged", merged.Load()),
			zap.Int64("queued_for_review", queued.Load()),
			zap.Int64("failed", failed.Load()),
		)
		return nil
	},
}

// parseContactCSV reads contacts from a CSV with a header row. Column names
// match the JSON payload field names; unknown columns pass through in Extra.
func parseContactCSV(path string) ([]record.ContactPayload, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "check: open %s", path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, eris.Wrap(err, "check: read csv header")
	}

	var payloads []record.ContactPayload
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "check: read csv row")
		}

		fields := make(map[string]any, len(header))
		for i, name := range header {
			if i < len(row) && row[i] != "" {
				fields[name] = row[i]
			}
		}
		raw, err := json.Marshal(fields)
		if err != nil {
			return nil, eris.Wrap(err, "check: encode csv row")
		}
		var payload record.ContactPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, eris.Wrap(err, "check: decode csv row")
		}
		payloads = append(payloads, payload)
	}
	return payloads, nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrap(err, "encode json")
	}
	fmt.Println(string(out))
	return nil
}

func init() {
	checkCmd.Flags().StringVar(&checkJSON, "json", "", "contact payload as inline JSON")
	checkCmd.Flags().StringVar(&checkCSV, "csv", "", "CSV file of contacts to check")
	checkCmd.Flags().IntVar(&checkConcurrency, "concurrency", 4, "parallel checks in CSV mode")
	checkCmd.Flags().StringVar(&checkUser, "user", "cli", "acting user recorded on detections")
	rootCmd.AddCommand(checkCmd)
}
