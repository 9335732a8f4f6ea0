package procurement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-p2p/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	QuantityReader
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPO(ctx context.Context, id int64) (PurchaseOrder, error)
	ListOpenPOIDs(ctx context.Context) ([]int64, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service owns PO status outside of invoice transitions.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	logger *slog.Logger
}

// NewService constructs procurement service.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger}
}

// GetCumulativeQuantities aggregates quantities of an existing PO.
func (s *Service) GetCumulativeQuantities(ctx context.Context, poID int64) (CumulativeQuantities, error) {
	if _, err := s.repo.GetPO(ctx, poID); err != nil {
		return CumulativeQuantities{}, err
	}
	return Aggregate(ctx, s.repo, poID)
}

// ForceClosePO moves a partially fulfilled PO to fulfilled. Any other status is reported as not found.
func (s *Service) ForceClosePO(ctx context.Context, poID int64) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		po, err = tx.GetPOForUpdate(ctx, poID)
		if err != nil {
			if errors.Is(err, ErrPONotFound) {
				return ErrPONotClosable
			}
			return err
		}
		if po.Status != POStatusPartiallyFulfilled {
			return ErrPONotClosable
		}
		if err := tx.UpdatePOStatus(ctx, poID, POStatusFulfilled); err != nil {
			return err
		}
		po.Status = POStatusFulfilled
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, "PO_FORCE_CLOSE", poID, map[string]any{"number": po.Number, "status": po.Status})
	return po, nil
}

// UpdatePOStatusFromCumulative promotes the PO to fulfilled once invoices and receipts cover it.
func (s *Service) UpdatePOStatusFromCumulative(ctx context.Context, poID int64) (SweepResult, error) {
	var res SweepResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.GetPOForUpdate(ctx, poID)
		if err != nil {
			return err
		}
		qty, err := Aggregate(ctx, tx, poID)
		if err != nil {
			return err
		}
		res = SweepResult{POID: poID, Previous: po.Status, Status: po.Status, Quantities: qty}
		if !qty.CumulativelyFulfilled() || po.Status == POStatusFulfilled {
			return nil
		}
		if err := tx.UpdatePOStatus(ctx, poID, POStatusFulfilled); err != nil {
			return err
		}
		res.Status = POStatusFulfilled
		res.Promoted = true
		return nil
	})
	if err != nil {
		return SweepResult{}, err
	}
	if res.Promoted {
		s.recordAudit(ctx, "PO_CUMULATIVE_FULFIL", poID, map[string]any{
			"from":   res.Previous,
			"poQty":  res.Quantities.POQty.String(),
			"invQty": res.Quantities.InvQty.String(),
			"grnQty": res.Quantities.GRNQty.String(),
		})
	}
	return res, nil
}

// SweepSummary aggregates a sweep run.
type SweepSummary struct {
	Checked  int64 `json:"checked"`
	Promoted int64 `json:"promoted"`
	Failed   int64 `json:"failed"`
}

// SweepOpenPOs runs the cumulative check over every PO that is not fulfilled yet. A failing PO
// is logged and counted; the sweep carries on.
func (s *Service) SweepOpenPOs(ctx context.Context, concurrency int) (SweepSummary, error) {
	ids, err := s.repo.ListOpenPOIDs(ctx)
	if err != nil {
		return SweepSummary{}, fmt.Errorf("list open purchase orders: %w", err)
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	var checked, promoted, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := s.UpdatePOStatusFromCumulative(gctx, id)
			checked.Add(1)
			if err != nil {
				failed.Add(1)
				s.logger.Warn("po sweep failed", slog.Int64("po_id", id), slog.Any("error", err))
				return nil
			}
			if res.Promoted {
				promoted.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()
	return SweepSummary{Checked: checked.Load(), Promoted: promoted.Load(), Failed: failed.Load()}, err
}

// Import writes a parsed workbook in a single transaction. GRNs whose PO number is unknown are
// stored unresolved.
func (s *Service) Import(ctx context.Context, wb Workbook) (ImportSummary, error) {
	var sum ImportSummary
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, item := range wb.Orders {
			supplierID, err := tx.EnsureSupplier(ctx, item.SupplierCode, item.SupplierName)
			if err != nil {
				return fmt.Errorf("supplier %s: %w", item.SupplierCode, err)
			}
			po := item.Order
			po.SupplierID = supplierID
			poID, err := tx.UpsertPO(ctx, po)
			if err != nil {
				return fmt.Errorf("po %s/%d: %w", po.Number, po.AmdNo, err)
			}
			if err := tx.ReplacePOLines(ctx, poID, item.Lines); err != nil {
				return fmt.Errorf("po %s/%d lines: %w", po.Number, po.AmdNo, err)
			}
			sum.Orders++
			sum.Lines += len(item.Lines)
		}
		for _, grn := range wb.GRNs {
			poID, err := tx.LatestPOIDByNumber(ctx, grn.PONumber)
			switch {
			case err == nil:
				grn.POID = &poID
			case errors.Is(err, ErrPONotFound):
				grn.POID = nil
				sum.Unresolved++
			default:
				return err
			}
			if err := tx.UpsertGRN(ctx, grn); err != nil {
				return fmt.Errorf("grn %s: %w", grn.Number, err)
			}
			sum.GRNs++
		}
		for _, asn := range wb.ASNs {
			if err := tx.UpsertASN(ctx, asn); err != nil {
				return fmt.Errorf("asn %s: %w", asn.Number, err)
			}
			sum.ASNs++
		}
		return nil
	})
	if err != nil {
		return ImportSummary{}, err
	}
	s.logger.Info("procurement workbook imported",
		slog.Int("orders", sum.Orders), slog.Int("lines", sum.Lines),
		slog.Int("grns", sum.GRNs), slog.Int("unresolved_grns", sum.Unresolved), slog.Int("asns", sum.ASNs))
	return sum, nil
}

func (s *Service) recordAudit(ctx context.Context, action string, poID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   shared.AuditEntityPurchaseOrder,
		EntityID: fmt.Sprintf("%d", poID),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Int64("po_id", poID), slog.Any("error", err))
	}
}
