package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/fbdispatch/internal/domain/model"
	"github.com/target/fbdispatch/internal/service"
)

func TestPrintDocumentShowsSubJobsAndException(t *testing.T) {
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	started := created.Add(time.Second)
	finished := created.Add(time.Minute)
	exc := "engine crashed"

	doc := &model.FamilyTestDocument{
		ID:         "doc-1",
		Kind:       model.DocumentKindFamilyTest,
		CacheKey:   "sha256:abc",
		CheckIndex: map[string]int{"a": 0, "b": 1, "c": 2},
		Tests:      map[string]model.TestEntry{"a": {Index: 0, Result: model.ResultPass}},
		Results:    map[model.CheckResultCategory]int{model.ResultPass: 1},
		Jobs: map[string]model.SubJobMeta{
			"10": {ID: "10", StartedAt: &started, FinishedAt: &finished},
			"2":  {ID: "2", StartedAt: &started, FinishedAt: &finished, Exception: "timeout\ntraceback"},
		},
		Exception:  &exc,
		IsFinished: true,
		CreatedAt:  created,
		StartedAt:  &started,
		FinishedAt: &finished,
	}

	var buf bytes.Buffer
	require.NoError(t, printDocument(&buf, doc))
	out := buf.String()

	assert.Contains(t, out, "Status:    finished with exception")
	assert.Contains(t, out, "Checks:    1 of 3 reported")
	assert.Contains(t, out, "Results:   PASS=1")
	assert.Contains(t, out, "sub-job 2: timeout")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("\n2 ")), bytes.Index(buf.Bytes(), []byte("\n10 ")),
		"sub-jobs must be listed in numeric order")
}

func TestPrintDocumentQueued(t *testing.T) {
	doc := &model.FamilyTestDocument{ID: "doc-2", Kind: model.DocumentKindDiff, CreatedAt: time.Now()}

	var buf bytes.Buffer
	require.NoError(t, printDocument(&buf, doc))
	assert.Contains(t, buf.String(), "Status:    queued")
	assert.Contains(t, buf.String(), "No sub-jobs yet.")
	assert.NotContains(t, buf.String(), "Checks:")
}

func TestParseShowFlags(t *testing.T) {
	opts, err := parseShowFlags([]string{"--id", " doc-1 "})
	require.NoError(t, err)
	assert.Equal(t, "doc-1", opts.ID)

	opts, err = parseShowFlags([]string{"--json", "doc-2"})
	require.NoError(t, err)
	assert.Equal(t, "doc-2", opts.ID)
	assert.True(t, opts.RawJSON)

	_, err = parseShowFlags(nil)
	require.Error(t, err)
}

func TestParseSweepFlags(t *testing.T) {
	opts, err := parseSweepFlags(nil, 6*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 6*time.Hour, opts.MaxAge)

	_, err = parseSweepFlags([]string{"--max-age", "10s"}, 6*time.Hour)
	require.Error(t, err)

	_, err = parseSweepFlags([]string{"--timeout", "0s"}, 6*time.Hour)
	require.Error(t, err)
}

func TestParseListFlags(t *testing.T) {
	opts, err := parseListFlags([]string{"--kind", "diff", "--status", "open", "--offset", "40"})
	require.NoError(t, err)
	assert.Equal(t, model.DocumentListOptions{
		Kind:   model.DocumentKindDiff,
		Status: model.DocumentStatusOpen,
		Limit:  20,
		Offset: 40,
	}, opts.Filter)

	_, err = parseListFlags([]string{"--status", "pending"})
	require.Error(t, err)
}

func TestPrintDocumentPage(t *testing.T) {
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	finished := created.Add(time.Minute)

	var buf bytes.Buffer
	err := printDocumentPage(&buf, model.DocumentPage{
		Items: []model.DocumentSummary{
			{ID: "doc-2", Kind: model.DocumentKindFamilyTest, Status: model.DocumentStatusOpen, SubJobs: 4, OpenSubJobs: 1, CreatedAt: created},
			{ID: "doc-1", Kind: model.DocumentKindDiff, Status: model.DocumentStatusFailed, SubJobs: 1, CreatedAt: created, FinishedAt: &finished},
		},
		Total:  12,
		Limit:  2,
		Offset: 4,
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "1/4 open")
	assert.Contains(t, out, finished.Format(time.RFC3339))
	assert.Contains(t, out, "Showing 5-6 of 12")

	buf.Reset()
	require.NoError(t, printDocumentPage(&buf, model.DocumentPage{}))
	assert.Equal(t, "No documents found.\n", buf.String())
}

func TestPrintSweepReportJSON(t *testing.T) {
	var buf bytes.Buffer
	cmdCtx := &commandContext{Out: &buf}

	report := service.SweepReport{Finished: 2, ForceClosed: 1, Elapsed: 1500 * time.Millisecond}
	require.NoError(t, printSweepReport(cmdCtx, report, true))
	assert.JSONEq(t, `{"finished":2,"force_closed":1,"elapsed_ms":1500}`, buf.String())
}

func TestPrintQueueInfo(t *testing.T) {
	var buf bytes.Buffer
	err := printQueueInfo(&buf, "FBDISPATCH",
		map[string]uint64{"fbdispatch.checker-in": 4, "fbdispatch.dead-letter": 1},
		[]consumerRow{
			{Name: "fbdispatch-coordinator", Subject: "fbdispatch.cleanup-out"},
			{Name: "fbdispatch-checker", Subject: "fbdispatch.checker-in", Pending: 3, AckPending: 1},
		})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "Stream: FBDISPATCH")
	assert.Contains(t, out, "fbdispatch.dead-letter")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("fbdispatch-checker")),
		bytes.Index(buf.Bytes(), []byte("fbdispatch-coordinator")))
}

func TestPrintUsageListsCommands(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printUsage(&buf))
	for name := range commands() {
		assert.Contains(t, buf.String(), name)
	}
}
