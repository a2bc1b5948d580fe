package inventory

import (
	"context"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"possettle/internal/domain"
	"possettle/internal/lock"
	"possettle/internal/store"
)

const defaultMaxAttempts = 3

// Consumer debits stock oldest batch first. Calls for the same product are
// serialized through the locker; the store's conditional debit catches writers
// that bypass it.
type Consumer struct {
	store       store.InventoryStore
	locker      lock.Locker
	logger      *zap.Logger
	maxAttempts int
}

func NewConsumer(inventory store.InventoryStore, locker lock.Locker, logger *zap.Logger) *Consumer {
	if locker == nil {
		locker = lock.NewLocal()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		store:       inventory,
		locker:      locker,
		logger:      logger.Named("fifo"),
		maxAttempts: defaultMaxAttempts,
	}
}

// PlanFIFO picks the batches that satisfy quantity, oldest received first with
// ties broken by batch id. It fails with store.ErrInsufficientStock before
// planning anything when the batches do not hold enough in total.
func PlanFIFO(batches []domain.Batch, quantity int) ([]domain.BatchConsumption, error) {
	if quantity < 1 {
		return nil, store.ErrValidation
	}

	available := make([]domain.Batch, 0, len(batches))
	total := 0
	for _, batch := range batches {
		if batch.Remaining <= 0 {
			continue
		}
		available = append(available, batch)
		total += batch.Remaining
	}
	if total < quantity {
		return nil, store.ErrInsufficientStock
	}

	slices.SortFunc(available, func(a, b domain.Batch) int {
		if c := a.ReceivedAt.Compare(b.ReceivedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	plan := make([]domain.BatchConsumption, 0, 2)
	left := quantity
	for _, batch := range available {
		take := min(batch.Remaining, left)
		plan = append(plan, domain.BatchConsumption{BatchID: batch.ID, Quantity: take})
		left -= take
		if left == 0 {
			break
		}
	}
	return plan, nil
}

func (c *Consumer) Consume(ctx context.Context, productID string, quantity int) (domain.StockDebit, error) {
	if productID == "" || quantity < 1 {
		return domain.StockDebit{}, store.ErrValidation
	}

	unlock, err := c.locker.Lock(ctx, productKey(productID))
	if err != nil {
		return domain.StockDebit{}, errors.Wrapf(err, "lock product %s", productID)
	}
	defer unlock()

	product, err := c.store.GetProduct(ctx, productID)
	if err != nil {
		return domain.StockDebit{}, err
	}

	if !product.ManageByLot {
		onHand, err := c.store.AdjustOnHand(ctx, productID, -quantity)
		if err != nil {
			return domain.StockDebit{}, err
		}
		if onHand < 0 {
			c.logger.Warn("on-hand below zero for product without lots",
				zap.String("product_id", productID),
				zap.Int("on_hand", onHand),
				zap.Int("requested", quantity))
		}
		return domain.StockDebit{ProductID: productID, Quantity: quantity}, nil
	}

	for attempt := 1; ; attempt++ {
		batches, err := c.store.ListBatches(ctx, productID)
		if err != nil {
			return domain.StockDebit{}, err
		}
		plan, err := PlanFIFO(batches, quantity)
		if err != nil {
			return domain.StockDebit{}, err
		}

		err = c.store.DebitBatches(ctx, productID, plan)
		if err == nil {
			return domain.StockDebit{
				ProductID:  productID,
				Quantity:   quantity,
				LotManaged: true,
				Batches:    plan,
			}, nil
		}
		if !errors.Is(err, store.ErrConflict) || attempt >= c.maxAttempts {
			return domain.StockDebit{}, err
		}
		c.logger.Debug("batches moved under plan, replanning",
			zap.String("product_id", productID),
			zap.Int("attempt", attempt))
	}
}

// Restore gives back what Consume took.
func (c *Consumer) Restore(ctx context.Context, debit domain.StockDebit) error {
	unlock, err := c.locker.Lock(ctx, productKey(debit.ProductID))
	if err != nil {
		return errors.Wrapf(err, "lock product %s", debit.ProductID)
	}
	defer unlock()

	if !debit.LotManaged {
		_, err := c.store.AdjustOnHand(ctx, debit.ProductID, debit.Quantity)
		return err
	}
	return c.store.CreditBatches(ctx, debit.ProductID, debit.Batches)
}

func productKey(productID string) string {
	return "product:" + productID
}
