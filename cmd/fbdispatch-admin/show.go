package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/target/fbdispatch/internal/bootstrap"
	"github.com/target/fbdispatch/internal/data"
	"github.com/target/fbdispatch/internal/domain/model"
	"github.com/target/fbdispatch/internal/util"
)

type showOptions struct {
	ID      string
	RawJSON bool
}

func runShow(cmdCtx *commandContext, args []string) error {
	opts, err := parseShowFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, 30*time.Second)
	defer cancel()

	db, err := bootstrap.ConnectDB(ctx, bootstrap.DatabaseConfig{
		DBConfig: cmdCtx.Config.Postgres,
		Logger:   cmdCtx.Logger,
	})
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("db close failed", "error", closeErr)
		}
	}()

	doc, err := data.NewFamilyTestRepo(db, data.RepoConfig{Logger: cmdCtx.Logger}).GetByID(ctx, opts.ID)
	if err != nil {
		return fmt.Errorf("load document %s: %w", opts.ID, err)
	}

	if opts.RawJSON {
		enc := json.NewEncoder(cmdCtx.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	}
	return printDocument(cmdCtx.Out, doc)
}

func parseShowFlags(args []string) (showOptions, error) {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts showOptions
	fs.StringVar(&opts.ID, "id", "", "Document ID to inspect (required)")
	fs.BoolVar(&opts.RawJSON, "json", false, "Print the stored document as JSON")

	if err := fs.Parse(args); err != nil {
		return showOptions{}, err
	}

	opts.ID = strings.TrimSpace(opts.ID)
	if opts.ID == "" && fs.NArg() > 0 {
		opts.ID = strings.TrimSpace(fs.Arg(0))
	}
	if opts.ID == "" {
		return showOptions{}, errors.New("--id is required")
	}
	return opts, nil
}

func printDocument(w io.Writer, doc *model.FamilyTestDocument) error {
	status := "running"
	switch {
	case doc.IsFinished && doc.FailureText() != "":
		status = "finished with exception"
	case doc.IsFinished:
		status = "finished"
	case doc.StartedAt == nil:
		status = "queued"
	}

	if err := writef(w, "\nDocument:  %s\nKind:      %s\nStatus:    %s\nCache key: %s\nCreated:   %s\n",
		doc.ID, doc.Kind, status, doc.CacheKey, util.FormatTimestamp(&doc.CreatedAt)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if doc.FinishedAt != nil {
		if err := writef(w, "Finished:  %s\n", util.FormatTimestamp(doc.FinishedAt)); err != nil {
			return fmt.Errorf("write finished: %w", err)
		}
	}

	if err := printResults(w, doc); err != nil {
		return err
	}
	if err := printSubJobs(w, doc); err != nil {
		return err
	}

	if text := doc.FailureText(); text != "" {
		if err := writef(w, "\nException:\n%s\n", text); err != nil {
			return fmt.Errorf("write exception: %w", err)
		}
	}
	return nil
}

func printResults(w io.Writer, doc *model.FamilyTestDocument) error {
	if doc.Kind == model.DocumentKindDiff {
		return nil
	}
	if err := writef(w, "Checks:    %d of %d reported\n", len(doc.Tests), len(doc.CheckIndex)); err != nil {
		return fmt.Errorf("write check totals: %w", err)
	}
	if len(doc.Results) == 0 {
		return nil
	}

	categories := make([]string, 0, len(doc.Results))
	for c := range doc.Results {
		categories = append(categories, string(c))
	}
	sort.Strings(categories)

	parts := make([]string, 0, len(categories))
	for _, c := range categories {
		parts = append(parts, fmt.Sprintf("%s=%d", c, doc.Results[model.CheckResultCategory(c)]))
	}
	if err := writef(w, "Results:   %s\n", strings.Join(parts, " ")); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	return nil
}

func printSubJobs(w io.Writer, doc *model.FamilyTestDocument) error {
	if len(doc.Jobs) == 0 {
		return writef(w, "\nNo sub-jobs yet.\n")
	}

	ids := make([]string, 0, len(doc.Jobs))
	for id := range doc.Jobs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if len(ids[i]) != len(ids[j]) {
			return len(ids[i]) < len(ids[j])
		}
		return ids[i] < ids[j]
	})

	if err := writeln(w); err != nil {
		return fmt.Errorf("write spacer: %w", err)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if err := writef(tw, "SUB-JOB\tSTARTED\tFINISHED\tEXCEPTION\n"); err != nil {
		return fmt.Errorf("write sub-job header: %w", err)
	}
	for _, id := range ids {
		job := doc.Jobs[id]
		exc := "-"
		if job.Exception != "" {
			exc = util.FirstLine(job.Exception)
		}
		if err := writef(tw, "%s\t%s\t%s\t%s\n", id, util.FormatTimestamp(job.StartedAt), util.FormatTimestamp(job.FinishedAt), exc); err != nil {
			return fmt.Errorf("write sub-job %s: %w", id, err)
		}
	}
	return tw.Flush()
}
