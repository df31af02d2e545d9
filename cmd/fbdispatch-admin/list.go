package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/target/fbdispatch/internal/bootstrap"
	"github.com/target/fbdispatch/internal/data"
	"github.com/target/fbdispatch/internal/domain/model"
	"github.com/target/fbdispatch/internal/util"
)

type listOptions struct {
	Filter  model.DocumentListOptions
	RawJSON bool
}

func runList(cmdCtx *commandContext, args []string) error {
	opts, err := parseListFlags(args)
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

	page, err := data.NewFamilyTestRepo(db, data.RepoConfig{Logger: cmdCtx.Logger}).List(ctx, opts.Filter)
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}

	if opts.RawJSON {
		enc := json.NewEncoder(cmdCtx.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(page)
	}
	return printDocumentPage(cmdCtx.Out, page)
}

func parseListFlags(args []string) (listOptions, error) {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		opts   listOptions
		kind   string
		status string
	)
	fs.StringVar(&kind, "kind", "", "Only list documents of this kind (family_test or diff)")
	fs.StringVar(&status, "status", "", "Only list documents in this state (open, finished or failed)")
	fs.IntVar(&opts.Filter.Limit, "limit", 20, "Maximum number of documents to print")
	fs.IntVar(&opts.Filter.Offset, "offset", 0, "Number of documents to skip")
	fs.BoolVar(&opts.RawJSON, "json", false, "Print the page as JSON")

	if err := fs.Parse(args); err != nil {
		return listOptions{}, err
	}

	opts.Filter.Kind = model.DocumentKind(kind)
	opts.Filter.Status = model.DocumentStatus(status)
	if err := opts.Filter.Normalize(); err != nil {
		return listOptions{}, err
	}
	return opts, nil
}

func printDocumentPage(w io.Writer, page model.DocumentPage) error {
	if len(page.Items) == 0 {
		return writef(w, "No documents found.\n")
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if err := writef(tw, "ID\tKIND\tSTATUS\tSUB-JOBS\tCREATED\tFINISHED\n"); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, d := range page.Items {
		jobs := strconv.Itoa(d.SubJobs)
		if d.OpenSubJobs > 0 {
			jobs = fmt.Sprintf("%d/%d open", d.OpenSubJobs, d.SubJobs)
		}
		if err := writef(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			d.ID, d.Kind, d.Status, jobs, util.FormatTimestamp(&d.CreatedAt), util.FormatTimestamp(d.FinishedAt)); err != nil {
			return fmt.Errorf("write document %s: %w", d.ID, err)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	return writef(w, "\nShowing %d-%d of %d\n", page.Offset+1, page.Offset+len(page.Items), page.Total)
}
