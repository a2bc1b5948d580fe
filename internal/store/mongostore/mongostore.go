package mongostore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"possettle/internal/domain"
	"possettle/internal/store"
	"possettle/internal/xid"
)

const (
	pendingCollection   = "pending_transactions"
	invoiceCollection   = "finalized_invoices"
	voidedCollection    = "voided_transactions"
	productCollection   = "products"
	batchCollection     = "batches"
	customerCollection  = "customers"
	purchaseCollection  = "customer_purchases"
	auditCollection     = "audit_logs"
	userCollection      = "users"
	defaultDatabaseName = "possettle"
)

// Store keeps the ledgers in MongoDB. Every primitive is a single conditional
// document write, or a short sequence that undoes its own earlier writes when
// a later one does not match, so no replica set is required.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	logger *zap.Logger
}

func New(ctx context.Context, uri string, database string, logger *zap.Logger) (*Store, error) {
	if database == "" {
		database = defaultDatabaseName
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	return &Store{client: client, db: client.Database(database), logger: logger.Named("mongostore")}, nil
}

// EnsureIndexes creates the unique and lookup indexes the store relies on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		invoiceCollection: {
			{Keys: bson.D{{Key: "originalTransactionId", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "createdAt", Value: 1}}},
		},
		voidedCollection: {
			{Keys: bson.D{{Key: "originalTransactionId", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "voidedAt", Value: 1}}},
		},
		pendingCollection: {
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "settlement.expiresAt", Value: 1}}},
			{Keys: bson.D{{Key: "createdAt", Value: 1}}},
		},
		batchCollection: {
			{Keys: bson.D{{Key: "productNumber", Value: 1}, {Key: "receivedAt", Value: 1}, {Key: "_id", Value: 1}}},
		},
		purchaseCollection: {
			{Keys: bson.D{{Key: "customerId", Value: 1}, {Key: "invoiceId", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		auditCollection: {
			{Keys: bson.D{{Key: "createdAt", Value: -1}}},
		},
	}
	for collection, models := range indexes {
		if _, err := s.db.Collection(collection).Indexes().CreateMany(ctx, models); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) col(name string) *mongo.Collection {
	return s.db.Collection(name)
}

func (s *Store) CreatePending(ctx context.Context, txn domain.PendingTransaction) (*domain.PendingTransaction, error) {
	if txn.ID == "" || len(txn.Items) == 0 {
		return nil, store.ErrValidation
	}
	_, err := s.col(pendingCollection).InsertOne(ctx, pendingDoc{
		ID:     txn.ID,
		Sale:   toSaleDoc(txn.Sale),
		Status: domain.PendingStatusPending,
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	txn.Status = domain.PendingStatusPending
	txn.Settlement = nil
	return &txn, nil
}

func (s *Store) GetPending(ctx context.Context, id string) (*domain.PendingTransaction, error) {
	var doc pendingDoc
	if err := s.col(pendingCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, notFound(err)
	}
	txn := doc.domain()
	return &txn, nil
}

func (s *Store) ListPending(ctx context.Context, limit int) ([]domain.PendingTransaction, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return s.findPending(ctx, bson.M{}, opts)
}

func (s *Store) ClaimPending(ctx context.Context, id string, journal domain.SettlementJournal, now time.Time) (*domain.PendingTransaction, *domain.SettlementJournal, error) {
	filter := bson.M{
		"_id": id,
		"$or": bson.A{
			bson.M{"status": domain.PendingStatusPending},
			bson.M{"status": domain.PendingStatusSettling, "settlement.expiresAt": bson.M{"$lte": now}},
		},
	}
	update := bson.M{"$set": bson.M{
		"status":     domain.PendingStatusSettling,
		"settlement": toJournalDoc(journal),
	}}

	var before pendingDoc
	err := s.col(pendingCollection).FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.Before)).Decode(&before)
	if err != nil {
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil, err
		}
		if _, err := s.GetPending(ctx, id); err != nil {
			return nil, nil, err
		}
		return nil, nil, store.ErrAlreadySettled
	}

	var previous *domain.SettlementJournal
	if before.Status == domain.PendingStatusSettling {
		previous = before.Settlement.domain()
	}
	txn := before.domain()
	txn.Status = domain.PendingStatusSettling
	txn.Settlement = journal.Clone()
	return &txn, previous, nil
}

func (s *Store) SaveJournal(ctx context.Context, id string, journal domain.SettlementJournal) error {
	res, err := s.col(pendingCollection).UpdateOne(ctx,
		bson.M{"_id": id, "settlement.token": journal.Token},
		bson.M{"$set": bson.M{"settlement": toJournalDoc(journal)}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return store.ErrClaimLost
	}
	return nil
}

func (s *Store) ReleaseClaim(ctx context.Context, id string, token string) error {
	res, err := s.col(pendingCollection).UpdateOne(ctx,
		bson.M{"_id": id, "settlement.token": token},
		bson.M{
			"$set":   bson.M{"status": domain.PendingStatusPending},
			"$unset": bson.M{"settlement": ""},
		})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return store.ErrClaimLost
	}
	return nil
}

func (s *Store) DeletePending(ctx context.Context, id string, token string) error {
	res, err := s.col(pendingCollection).DeleteOne(ctx, bson.M{"_id": id, "settlement.token": token})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return store.ErrClaimLost
	}
	return nil
}

func (s *Store) ListStaleClaims(ctx context.Context, now time.Time, limit int) ([]domain.PendingTransaction, error) {
	if limit < 1 {
		limit = 50
	}
	return s.findPending(ctx,
		bson.M{"status": domain.PendingStatusSettling, "settlement.expiresAt": bson.M{"$lte": now}},
		options.Find().SetSort(bson.D{{Key: "settlement.expiresAt", Value: 1}}).SetLimit(int64(limit)))
}

func (s *Store) findPending(ctx context.Context, filter any, opts *options.FindOptions) ([]domain.PendingTransaction, error) {
	cursor, err := s.col(pendingCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []pendingDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	result := make([]domain.PendingTransaction, 0, len(docs))
	for _, doc := range docs {
		result = append(result, doc.domain())
	}
	return result, nil
}

func (s *Store) CreateInvoice(ctx context.Context, invoice domain.FinalizedInvoice) error {
	if invoice.ID == "" || invoice.OriginalTransactionID == "" {
		return store.ErrValidation
	}
	_, err := s.col(invoiceCollection).InsertOne(ctx, invoiceDoc{
		ID:                    invoice.ID,
		Sale:                  toSaleDoc(invoice.Sale),
		OriginalTransactionID: invoice.OriginalTransactionID,
		FinalizedAt:           invoice.FinalizedAt,
		FinalizedAtTimestamp:  invoice.FinalizedAtTimestamp,
		FinalizedBy:           invoice.FinalizedBy,
		InventoryDeducted:     invoice.InventoryDeducted,
		StockDebits:           toDebitDocs(invoice.StockDebits),
	})
	return settledInsertError(err)
}

func (s *Store) DeleteInvoice(ctx context.Context, id string) error {
	_, err := s.col(invoiceCollection).DeleteOne(ctx, bson.M{"_id": id})
	return err
}

func (s *Store) GetInvoice(ctx context.Context, id string) (*domain.FinalizedInvoice, error) {
	return s.findInvoice(ctx, bson.M{"_id": id})
}

func (s *Store) FindInvoiceByTransaction(ctx context.Context, transactionID string) (*domain.FinalizedInvoice, error) {
	return s.findInvoice(ctx, bson.M{"originalTransactionId": transactionID})
}

func (s *Store) findInvoice(ctx context.Context, filter bson.M) (*domain.FinalizedInvoice, error) {
	var doc invoiceDoc
	if err := s.col(invoiceCollection).FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, notFound(err)
	}
	invoice := doc.domain()
	return &invoice, nil
}

func (s *Store) ListInvoices(ctx context.Context, from time.Time, to time.Time) ([]domain.FinalizedInvoice, error) {
	cursor, err := s.col(invoiceCollection).Find(ctx, timeRange("createdAt", from, to),
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []invoiceDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	result := make([]domain.FinalizedInvoice, 0, len(docs))
	for _, doc := range docs {
		result = append(result, doc.domain())
	}
	return result, nil
}

func (s *Store) CreateVoided(ctx context.Context, voided domain.VoidedTransaction) error {
	if voided.ID == "" || voided.OriginalTransactionID == "" {
		return store.ErrValidation
	}
	_, err := s.col(voidedCollection).InsertOne(ctx, voidedDoc{
		ID:                    voided.ID,
		Sale:                  toSaleDoc(voided.Sale),
		OriginalTransactionID: voided.OriginalTransactionID,
		VoidedAt:              voided.VoidedAt,
		VoidedAtTimestamp:     voided.VoidedAtTimestamp,
		VoidedBy:              voided.VoidedBy,
		Reason:                voided.Reason,
	})
	return settledInsertError(err)
}

func (s *Store) DeleteVoided(ctx context.Context, id string) error {
	_, err := s.col(voidedCollection).DeleteOne(ctx, bson.M{"_id": id})
	return err
}

func (s *Store) FindVoidedByTransaction(ctx context.Context, transactionID string) (*domain.VoidedTransaction, error) {
	var doc voidedDoc
	if err := s.col(voidedCollection).FindOne(ctx, bson.M{"originalTransactionId": transactionID}).Decode(&doc); err != nil {
		return nil, notFound(err)
	}
	voided := doc.domain()
	return &voided, nil
}

func (s *Store) ListVoided(ctx context.Context, from time.Time, to time.Time) ([]domain.VoidedTransaction, error) {
	cursor, err := s.col(voidedCollection).Find(ctx, timeRange("voidedAt", from, to),
		options.Find().SetSort(bson.D{{Key: "voidedAt", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []voidedDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	result := make([]domain.VoidedTransaction, 0, len(docs))
	for _, doc := range docs {
		result = append(result, doc.domain())
	}
	return result, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var doc productDoc
	if err := s.col(productCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, notFound(err)
	}
	product := doc.domain()
	return &product, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	cursor, err := s.col(productCollection).Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []productDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	result := make([]domain.Product, 0, len(docs))
	for _, doc := range docs {
		result = append(result, doc.domain())
	}
	return result, nil
}

func (s *Store) UpsertProduct(ctx context.Context, product domain.Product) error {
	if product.ID == "" || product.Name == "" {
		return store.ErrValidation
	}
	fields := bson.M{
		"productNumber": product.Number,
		"name":          product.Name,
		"costPrice":     toDecimal128(product.CostPrice),
		"sellingPrice":  toDecimal128(product.SellingPrice),
		"minInventory":  product.MinInventory,
		"maxInventory":  product.MaxInventory,
		"manageByLot":   product.ManageByLot,
	}
	update := bson.M{"$set": fields, "$setOnInsert": bson.M{"onHand": product.OnHand}}

	existing, err := s.GetProduct(ctx, product.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if existing != nil && !existing.ManageByLot {
		fields["onHand"] = product.OnHand
		update = bson.M{"$set": fields}
	}

	_, err = s.col(productCollection).UpdateOne(ctx, bson.M{"_id": product.ID}, update, options.Update().SetUpsert(true))
	return err
}

func (s *Store) ListBatches(ctx context.Context, productID string) ([]domain.Batch, error) {
	if _, err := s.GetProduct(ctx, productID); err != nil {
		return nil, err
	}
	cursor, err := s.col(batchCollection).Find(ctx, bson.M{"productNumber": productID},
		options.Find().SetSort(bson.D{{Key: "receivedAt", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []batchDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	result := make([]domain.Batch, 0, len(docs))
	for _, doc := range docs {
		result = append(result, doc.domain())
	}
	return result, nil
}

func (s *Store) CreateBatch(ctx context.Context, batch domain.Batch) (*domain.Batch, error) {
	if batch.ProductID == "" || batch.Remaining < 1 {
		return nil, store.ErrValidation
	}
	if batch.Initial == 0 {
		batch.Initial = batch.Remaining
	}
	if batch.Remaining > batch.Initial {
		return nil, store.ErrValidation
	}
	if batch.ID == "" {
		batch.ID = xid.New("lot")
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now().UTC()
	}
	if batch.ReceivedAt.IsZero() {
		batch.ReceivedAt = batch.CreatedAt
	}

	product, err := s.GetProduct(ctx, batch.ProductID)
	if err != nil {
		return nil, err
	}
	if !product.ManageByLot {
		return nil, store.ErrValidation
	}

	if _, err := s.col(batchCollection).InsertOne(ctx, batchDoc{
		ID:         batch.ID,
		ProductID:  batch.ProductID,
		LotName:    batch.LotName,
		ReceivedAt: batch.ReceivedAt,
		ExpiryDate: batch.ExpiryDate,
		Remaining:  batch.Remaining,
		Initial:    batch.Initial,
		CreatedAt:  batch.CreatedAt,
	}); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	if _, err := s.AdjustOnHand(ctx, batch.ProductID, batch.Remaining); err != nil {
		return nil, err
	}
	return &batch, nil
}

func (s *Store) DebitBatches(ctx context.Context, productID string, takes []domain.BatchConsumption) error {
	return s.moveBatches(ctx, productID, takes, -1)
}

func (s *Store) CreditBatches(ctx context.Context, productID string, takes []domain.BatchConsumption) error {
	return s.moveBatches(ctx, productID, takes, 1)
}

// moveBatches applies each take with a guard that keeps the batch within
// [0, initial]. When a guard fails the takes already applied are reversed and
// ErrConflict is returned.
func (s *Store) moveBatches(ctx context.Context, productID string, takes []domain.BatchConsumption, sign int) error {
	for _, take := range takes {
		if take.BatchID == "" || take.Quantity < 1 {
			return store.ErrValidation
		}
	}
	if _, err := s.GetProduct(ctx, productID); err != nil {
		return err
	}

	batches := s.col(batchCollection)
	applied := make([]domain.BatchConsumption, 0, len(takes))
	total := 0
	for _, take := range takes {
		filter := bson.M{"_id": take.BatchID, "productNumber": productID}
		if sign < 0 {
			filter["quantity"] = bson.M{"$gte": take.Quantity}
		} else {
			filter["$expr"] = bson.M{"$lte": bson.A{bson.M{"$add": bson.A{"$quantity", take.Quantity}}, "$initialQuantity"}}
		}
		res, err := batches.UpdateOne(ctx, filter, bson.M{"$inc": bson.M{"quantity": sign * take.Quantity}})
		if err == nil && res.MatchedCount == 0 {
			err = store.ErrConflict
		}
		if err != nil {
			s.undoTakes(productID, applied, sign)
			return err
		}
		applied = append(applied, take)
		total += take.Quantity
	}

	if _, err := s.AdjustOnHand(ctx, productID, sign*total); err != nil {
		s.undoTakes(productID, applied, sign)
		return err
	}
	return nil
}

func (s *Store) undoTakes(productID string, applied []domain.BatchConsumption, sign int) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, take := range applied {
		if _, err := s.col(batchCollection).UpdateOne(ctx,
			bson.M{"_id": take.BatchID},
			bson.M{"$inc": bson.M{"quantity": -sign * take.Quantity}}); err != nil {
			s.logger.Error("undo batch move",
				zap.String("product_id", productID),
				zap.String("batch_id", take.BatchID),
				zap.Int("quantity", take.Quantity),
				zap.Error(err))
		}
	}
}

func (s *Store) AdjustOnHand(ctx context.Context, productID string, delta int) (int, error) {
	var doc productDoc
	err := s.col(productCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": productID},
		bson.M{"$inc": bson.M{"onHand": delta}},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
	if err != nil {
		return 0, notFound(err)
	}
	return doc.OnHand, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	var doc customerDoc
	if err := s.col(customerCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, notFound(err)
	}
	c := doc.domain()
	return &c, nil
}

func (s *Store) UpsertCustomer(ctx context.Context, customer domain.Customer) error {
	if customer.ID == "" || customer.Name == "" {
		return store.ErrValidation
	}
	_, err := s.col(customerCollection).UpdateOne(ctx,
		bson.M{"_id": customer.ID},
		bson.M{
			"$set": bson.M{"name": customer.Name},
			"$setOnInsert": bson.M{
				"totalPurchases": 0,
				"totalSpent":     toDecimal128(decimal.Zero),
				"lastPurchase":   nil,
			},
		},
		options.Update().SetUpsert(true))
	return err
}

// ApplyCustomerPurchase records the invoice in customer_purchases first; the
// unique index on (customerId, invoiceId) turns a repeat into a no-op.
func (s *Store) ApplyCustomerPurchase(ctx context.Context, customerID string, invoiceID string, amount decimal.Decimal, at time.Time) (*time.Time, bool, error) {
	current, err := s.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, false, err
	}

	if _, err := s.col(purchaseCollection).InsertOne(ctx, purchaseDoc{
		CustomerID: customerID,
		InvoiceID:  invoiceID,
		Amount:     toDecimal128(amount),
		AppliedAt:  at,
	}); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return current.LastPurchase, false, nil
		}
		return nil, false, err
	}

	var before customerDoc
	err = s.col(customerCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": customerID},
		bson.M{
			"$inc": bson.M{"totalPurchases": 1, "totalSpent": toDecimal128(amount)},
			"$max": bson.M{"lastPurchase": at},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.Before)).Decode(&before)
	if err != nil {
		if _, derr := s.col(purchaseCollection).DeleteOne(context.WithoutCancel(ctx), bson.M{"customerId": customerID, "invoiceId": invoiceID}); derr != nil {
			s.logger.Error("drop purchase marker", zap.String("customer_id", customerID), zap.String("invoice_id", invoiceID), zap.Error(derr))
		}
		return nil, false, notFound(err)
	}
	return utcPtr(before.LastPurchase), true, nil
}

func (s *Store) RevertCustomerPurchase(ctx context.Context, customerID string, invoiceID string, amount decimal.Decimal, previousLast *time.Time, appliedAt time.Time) error {
	if _, err := s.GetCustomer(ctx, customerID); err != nil {
		return err
	}

	res, err := s.col(purchaseCollection).DeleteOne(ctx, bson.M{"customerId": customerID, "invoiceId": invoiceID})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return nil
	}

	customers := s.col(customerCollection)
	if _, err := customers.UpdateOne(ctx,
		bson.M{"_id": customerID},
		bson.M{"$inc": bson.M{"totalPurchases": -1, "totalSpent": toDecimal128(amount.Neg())}}); err != nil {
		return err
	}
	var restore bson.M
	if previousLast == nil {
		restore = bson.M{"$set": bson.M{"lastPurchase": nil}}
	} else {
		restore = bson.M{"$set": bson.M{"lastPurchase": *previousLast}}
	}
	_, err = customers.UpdateOne(ctx, bson.M{"_id": customerID, "lastPurchase": appliedAt}, restore)
	return err
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.col(auditCollection).InsertOne(ctx, auditDoc(entry))
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	cursor, err := s.col(auditCollection).Find(ctx, timeRange("createdAt", from, to),
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}).SetLimit(int64(limit)))
	if err != nil {
		return nil, err
	}
	var docs []auditDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	logs := make([]domain.AuditLog, 0, len(docs))
	for _, doc := range docs {
		entry := domain.AuditLog(doc)
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || user.Password == "" {
		return store.ErrValidation
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.col(userCollection).InsertOne(ctx, userDoc{
		Username:  username,
		Password:  user.Password,
		Role:      user.Role,
		Active:    user.Active,
		CreatedAt: user.CreatedAt,
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	cursor, err := s.col(userCollection).Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []userDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	users := make([]domain.UserAccount, 0, len(docs))
	for _, doc := range docs {
		users = append(users, domain.UserAccount(doc))
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.col(userCollection).UpdateOne(ctx,
		bson.M{"_id": strings.ToLower(strings.TrimSpace(username))},
		bson.M{"$set": bson.M{"password": password}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func timeRange(field string, from time.Time, to time.Time) bson.M {
	cond := bson.M{}
	if !from.IsZero() {
		cond["$gte"] = from
	}
	if !to.IsZero() {
		cond["$lt"] = to
	}
	if len(cond) == 0 {
		return bson.M{}
	}
	return bson.M{field: cond}
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.ErrNotFound
	}
	return err
}

// settledInsertError maps a duplicate originalTransactionId to
// ErrAlreadySettled and a duplicate _id to ErrConflict.
func settledInsertError(err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		if strings.Contains(err.Error(), "originalTransactionId") {
			return store.ErrAlreadySettled
		}
		return store.ErrConflict
	}
	return err
}
