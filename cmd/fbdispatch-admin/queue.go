package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/target/fbdispatch/internal/bootstrap"
)

type consumerRow struct {
	Name        string
	Subject     string
	Pending     uint64
	AckPending  int
	Redelivered int
}

func runQueueInfo(cmdCtx *commandContext, _ []string) error {
	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, 30*time.Second)
	defer cancel()

	nc, js, err := bootstrap.ConnectNATS(ctx, cmdCtx.Config.NATS, cmdCtx.Logger)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer nc.Close()

	stream, err := js.Stream(ctx, cmdCtx.Config.NATS.Stream)
	if err != nil {
		return fmt.Errorf("open stream %s: %w", cmdCtx.Config.NATS.Stream, err)
	}
	info, err := stream.Info(ctx, jetstream.WithSubjectFilter(">"))
	if err != nil {
		return fmt.Errorf("stream info: %w", err)
	}

	var rows []consumerRow
	lister := stream.ListConsumers(ctx)
	for ci := range lister.Info() {
		rows = append(rows, consumerRow{
			Name:        ci.Name,
			Subject:     ci.Config.FilterSubject,
			Pending:     ci.NumPending,
			AckPending:  ci.NumAckPending,
			Redelivered: ci.NumRedelivered,
		})
	}
	if err := lister.Err(); err != nil {
		return fmt.Errorf("list consumers: %w", err)
	}

	return printQueueInfo(cmdCtx.Out, info.Config.Name, info.State.Subjects, rows)
}

func printQueueInfo(w io.Writer, stream string, subjects map[string]uint64, consumers []consumerRow) error {
	if err := writef(w, "\nStream: %s\n\n", stream); err != nil {
		return fmt.Errorf("write stream header: %w", err)
	}

	names := make([]string, 0, len(subjects))
	for s := range subjects {
		names = append(names, s)
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if err := writef(tw, "SUBJECT\tMESSAGES\n"); err != nil {
		return fmt.Errorf("write subject header: %w", err)
	}
	for _, s := range names {
		if err := writef(tw, "%s\t%d\n", s, subjects[s]); err != nil {
			return fmt.Errorf("write subject %s: %w", s, err)
		}
	}
	if len(names) == 0 {
		if err := writef(tw, "(empty)\t0\n"); err != nil {
			return fmt.Errorf("write empty subjects: %w", err)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	sort.Slice(consumers, func(i, j int) bool { return consumers[i].Name < consumers[j].Name })
	if err := writeln(w); err != nil {
		return fmt.Errorf("write spacer: %w", err)
	}
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if err := writef(tw, "CONSUMER\tSUBJECT\tPENDING\tACK PENDING\tREDELIVERED\n"); err != nil {
		return fmt.Errorf("write consumer header: %w", err)
	}
	for _, c := range consumers {
		if err := writef(tw, "%s\t%s\t%d\t%d\t%d\n", c.Name, c.Subject, c.Pending, c.AckPending, c.Redelivered); err != nil {
			return fmt.Errorf("write consumer %s: %w", c.Name, err)
		}
	}
	return tw.Flush()
}
