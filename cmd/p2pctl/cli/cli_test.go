package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/odyssey-erp/odyssey-p2p/internal/procurement"
	"github.com/odyssey-erp/odyssey-p2p/jobs"
)

type stubProcurement struct {
	imported    procurement.Workbook
	closed      int64
	swept       int64
	concurrency int
}

func (s *stubProcurement) Import(ctx context.Context, wb procurement.Workbook) (procurement.ImportSummary, error) {
	s.imported = wb
	return procurement.ImportSummary{Orders: len(wb.Orders), GRNs: len(wb.GRNs)}, nil
}

func (s *stubProcurement) ForceClosePO(ctx context.Context, poID int64) (procurement.PurchaseOrder, error) {
	s.closed = poID
	return procurement.PurchaseOrder{ID: poID, Status: procurement.POStatusFulfilled}, nil
}

func (s *stubProcurement) UpdatePOStatusFromCumulative(ctx context.Context, poID int64) (procurement.SweepResult, error) {
	s.swept = poID
	return procurement.SweepResult{POID: poID, Status: procurement.POStatusOpen}, nil
}

func (s *stubProcurement) SweepOpenPOs(ctx context.Context, concurrency int) (procurement.SweepSummary, error) {
	s.concurrency = concurrency
	return procurement.SweepSummary{Checked: 3, Promoted: 1}, nil
}

type stubJobs struct {
	triggered string
	retention time.Duration
	closed    bool
}

func (s *stubJobs) Trigger(ctx context.Context, name string, retention time.Duration) (string, error) {
	s.triggered = name
	s.retention = retention
	if name == jobs.TaskPOSweep {
		return "", nil
	}
	return "abc", nil
}

func (s *stubJobs) InspectQueue(ctx context.Context) (QueueStats, error) {
	return QueueStats{Queue: jobs.QueueDefault, Pending: 2}, nil
}

func (s *stubJobs) Close() error {
	s.closed = true
	return nil
}

func run(t *testing.T, rt Runtime, args ...string) (string, error) {
	t.Helper()
	out := new(bytes.Buffer)
	rt.Out = out
	root := NewRootCommand(rt)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func runtimeWith(p *stubProcurement, j *stubJobs) Runtime {
	return Runtime{
		OpenProcurement: func(ctx context.Context) (ProcurementOps, func(), error) {
			if p == nil {
				return nil, nil, errors.New("no database in this test")
			}
			return p, func() {}, nil
		},
		OpenJobs: func() (JobOps, error) { return j, nil },
	}
}

func writeWorkbook(t *testing.T) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	_, err := f.NewSheet(procurement.SheetPO)
	require.NoError(t, err)
	rows := [][]any{
		{"PO_Number", "amd_no", "po_date", "supplier_code", "payment_terms", "line_no", "item_code", "item_name", "qty", "unit_cost"},
		{"PO-1", "0", "2024-03-01", "SUP-1", "30 Days", "1", "BLT", "Bolt", "10", "2"},
	}
	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(procurement.SheetPO, cell, &rows[i]))
	}
	path := filepath.Join(t.TempDir(), "po.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func TestImportDryRunNeverOpensDatabase(t *testing.T) {
	path := writeWorkbook(t)
	out, err := run(t, runtimeWith(nil, nil), "import", "--dry-run", path)
	require.NoError(t, err)
	var counts map[string]int
	require.NoError(t, json.Unmarshal([]byte(out), &counts))
	require.Equal(t, 1, counts["orders"])

	stub := &stubProcurement{}
	out, err = run(t, runtimeWith(stub, nil), "import", path)
	require.NoError(t, err)
	require.Len(t, stub.imported.Orders, 1)
	require.Contains(t, out, `"orders": 1`)
}

func TestPOCommands(t *testing.T) {
	stub := &stubProcurement{}
	rt := runtimeWith(stub, nil)

	_, err := run(t, rt, "po", "force-close", "42")
	require.NoError(t, err)
	require.Equal(t, int64(42), stub.closed)

	_, err = run(t, rt, "po", "force-close", "x")
	require.ErrorContains(t, err, "invalid id")

	_, err = run(t, rt, "po", "sweep", "7")
	require.NoError(t, err)
	require.Equal(t, int64(7), stub.swept)

	out, err := run(t, rt, "po", "sweep", "--all", "--concurrency", "2")
	require.NoError(t, err)
	require.Equal(t, 2, stub.concurrency)
	require.Contains(t, out, `"promoted": 1`)

	_, err = run(t, rt, "po", "sweep")
	require.Error(t, err)
	_, err = run(t, rt, "po", "sweep", "--all", "7")
	require.Error(t, err)
}

func TestJobsCommands(t *testing.T) {
	stub := &stubJobs{}
	rt := runtimeWith(nil, stub)

	out, err := run(t, rt, "jobs", "trigger", jobs.TaskPOSweep)
	require.NoError(t, err)
	require.Contains(t, out, "already queued")
	require.True(t, stub.closed)

	out, err = run(t, rt, "jobs", "trigger", jobs.TaskIdempotencyCleanup, "--retention", "48h")
	require.NoError(t, err)
	require.Contains(t, out, "enqueued maintenance:idempotency-cleanup as abc")
	require.Equal(t, 48*time.Hour, stub.retention)

	out, err = run(t, rt, "jobs", "stats")
	require.NoError(t, err)
	require.Contains(t, out, `"pending": 2`)
}
