package memory

import (
	"cmp"
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"possettle/internal/domain"
	"possettle/internal/store"
	"possettle/internal/xid"
)

type Store struct {
	mu               sync.RWMutex
	pending          map[string]domain.PendingTransaction
	invoices         map[string]domain.FinalizedInvoice
	invoiceByTxn     map[string]string
	voided           map[string]domain.VoidedTransaction
	voidedByTxn      map[string]string
	products         map[string]domain.Product
	batches          map[string][]domain.Batch
	customers        map[string]domain.Customer
	appliedPurchases map[string]map[string]struct{}
	auditLogs        []domain.AuditLog
	usersByUsername  map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		pending:          make(map[string]domain.PendingTransaction),
		invoices:         make(map[string]domain.FinalizedInvoice),
		invoiceByTxn:     make(map[string]string),
		voided:           make(map[string]domain.VoidedTransaction),
		voidedByTxn:      make(map[string]string),
		products:         make(map[string]domain.Product),
		batches:          make(map[string][]domain.Batch),
		customers:        make(map[string]domain.Customer),
		appliedPurchases: make(map[string]map[string]struct{}),
		auditLogs:        make([]domain.AuditLog, 0, 128),
		usersByUsername:  make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store with demo catalog, batches, customers and the
// default admin/cashier accounts.
func NewSeeded(logger *zap.Logger) *Store {
	s := New()
	s.usersByUsername = seedUsers(logger)

	now := time.Now().UTC()
	products := []domain.Product{
		{ID: "P-COFFEE", Number: "1001", Name: "Ground Coffee 250g", CostPrice: decimal.RequireFromString("4.10"), SellingPrice: decimal.RequireFromString("6.50"), MinInventory: 10, MaxInventory: 80, ManageByLot: true},
		{ID: "P-MILK", Number: "1002", Name: "Whole Milk 1L", CostPrice: decimal.RequireFromString("0.85"), SellingPrice: decimal.RequireFromString("1.25"), MinInventory: 20, MaxInventory: 120, ManageByLot: true},
		{ID: "P-BREAD", Number: "1003", Name: "Sourdough Loaf", CostPrice: decimal.RequireFromString("1.90"), SellingPrice: decimal.RequireFromString("3.75"), MinInventory: 8, MaxInventory: 40, ManageByLot: true},
		{ID: "P-BAG", Number: "2001", Name: "Paper Bag", CostPrice: decimal.RequireFromString("0.05"), SellingPrice: decimal.RequireFromString("0.25"), OnHand: 300, MinInventory: 50, MaxInventory: 1000},
		{ID: "P-GIFTCARD", Number: "2002", Name: "Gift Wrap Service", CostPrice: decimal.Zero, SellingPrice: decimal.RequireFromString("2.00"), OnHand: 0},
	}
	for _, p := range products {
		s.products[p.ID] = p
	}

	lots := []domain.Batch{
		{ProductID: "P-COFFEE", LotName: "COF-A", ReceivedAt: now.AddDate(0, 0, -20), Remaining: 12},
		{ProductID: "P-COFFEE", LotName: "COF-B", ReceivedAt: now.AddDate(0, 0, -5), Remaining: 24},
		{ProductID: "P-MILK", LotName: "MLK-A", ReceivedAt: now.AddDate(0, 0, -3), Remaining: 30, ExpiryDate: ptrTime(now.AddDate(0, 0, 7))},
		{ProductID: "P-BREAD", LotName: "BRD-A", ReceivedAt: now.AddDate(0, 0, -1), Remaining: 6, ExpiryDate: ptrTime(now.AddDate(0, 0, 2))},
	}
	for _, lot := range lots {
		if _, err := s.CreateBatch(context.Background(), lot); err != nil {
			logger.Fatal("seed batch", zap.String("lot", lot.LotName), zap.Error(err))
		}
	}

	for _, c := range []domain.Customer{
		{ID: "C-0001", Name: "Ana Ruiz", TotalSpent: decimal.Zero},
		{ID: "C-0002", Name: "Tomas Berg", TotalSpent: decimal.Zero},
	} {
		s.customers[c.ID] = c
	}

	return s
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD and
// fall back to dev defaults with a warning.
func seedUsers(logger *zap.Logger) map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		logger.Warn("using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.MinCost)
		if err != nil {
			logger.Fatal("hash seed password", zap.String("username", u.username), zap.Error(err))
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) CreatePending(_ context.Context, txn domain.PendingTransaction) (*domain.PendingTransaction, error) {
	if txn.ID == "" || len(txn.Items) == 0 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.pending[txn.ID]; exists {
		return nil, store.ErrConflict
	}
	txn.Status = domain.PendingStatusPending
	txn.Settlement = nil
	s.pending[txn.ID] = clonePending(txn)

	created := clonePending(txn)
	return &created, nil
}

func (s *Store) GetPending(_ context.Context, id string) (*domain.PendingTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txn, ok := s.pending[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := clonePending(txn)
	return &out, nil
}

func (s *Store) ListPending(_ context.Context, limit int) ([]domain.PendingTransaction, error) {
	s.mu.RLock()
	result := make([]domain.PendingTransaction, 0, len(s.pending))
	for _, txn := range s.pending {
		result = append(result, clonePending(txn))
	}
	s.mu.RUnlock()

	slices.SortFunc(result, func(a, b domain.PendingTransaction) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) ClaimPending(_ context.Context, id string, journal domain.SettlementJournal, now time.Time) (*domain.PendingTransaction, *domain.SettlementJournal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn, ok := s.pending[id]
	if !ok {
		return nil, nil, store.ErrNotFound
	}

	var previous *domain.SettlementJournal
	if txn.Status == domain.PendingStatusSettling && txn.Settlement != nil {
		if !txn.Settlement.Expired(now) {
			return nil, nil, store.ErrAlreadySettled
		}
		previous = txn.Settlement.Clone()
	}

	txn.Status = domain.PendingStatusSettling
	txn.Settlement = journal.Clone()
	s.pending[id] = txn

	out := clonePending(txn)
	return &out, previous, nil
}

func (s *Store) SaveJournal(_ context.Context, id string, journal domain.SettlementJournal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn, ok := s.pending[id]
	if !ok || txn.Settlement == nil || txn.Settlement.Token != journal.Token {
		return store.ErrClaimLost
	}
	txn.Settlement = journal.Clone()
	s.pending[id] = txn
	return nil
}

func (s *Store) ReleaseClaim(_ context.Context, id string, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn, ok := s.pending[id]
	if !ok || txn.Settlement == nil || txn.Settlement.Token != token {
		return store.ErrClaimLost
	}
	txn.Status = domain.PendingStatusPending
	txn.Settlement = nil
	s.pending[id] = txn
	return nil
}

func (s *Store) DeletePending(_ context.Context, id string, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn, ok := s.pending[id]
	if !ok || txn.Settlement == nil || txn.Settlement.Token != token {
		return store.ErrClaimLost
	}
	delete(s.pending, id)
	return nil
}

func (s *Store) ListStaleClaims(_ context.Context, now time.Time, limit int) ([]domain.PendingTransaction, error) {
	s.mu.RLock()
	result := make([]domain.PendingTransaction, 0)
	for _, txn := range s.pending {
		if txn.Status == domain.PendingStatusSettling && txn.Settlement.Expired(now) {
			result = append(result, clonePending(txn))
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(result, func(a, b domain.PendingTransaction) int {
		return a.Settlement.ExpiresAt.Compare(b.Settlement.ExpiresAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateInvoice(_ context.Context, invoice domain.FinalizedInvoice) error {
	if invoice.ID == "" || invoice.OriginalTransactionID == "" {
		return store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.invoiceByTxn[invoice.OriginalTransactionID]; exists {
		return store.ErrAlreadySettled
	}
	if _, exists := s.invoices[invoice.ID]; exists {
		return store.ErrConflict
	}
	s.invoices[invoice.ID] = cloneInvoice(invoice)
	s.invoiceByTxn[invoice.OriginalTransactionID] = invoice.ID
	return nil
}

func (s *Store) DeleteInvoice(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	invoice, ok := s.invoices[id]
	if !ok {
		return nil
	}
	delete(s.invoices, id)
	delete(s.invoiceByTxn, invoice.OriginalTransactionID)
	return nil
}

func (s *Store) GetInvoice(_ context.Context, id string) (*domain.FinalizedInvoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	invoice, ok := s.invoices[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneInvoice(invoice)
	return &out, nil
}

func (s *Store) FindInvoiceByTransaction(ctx context.Context, transactionID string) (*domain.FinalizedInvoice, error) {
	s.mu.RLock()
	id, ok := s.invoiceByTxn[transactionID]
	s.mu.RUnlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.GetInvoice(ctx, id)
}

func (s *Store) ListInvoices(_ context.Context, from time.Time, to time.Time) ([]domain.FinalizedInvoice, error) {
	s.mu.RLock()
	result := make([]domain.FinalizedInvoice, 0, len(s.invoices))
	for _, invoice := range s.invoices {
		if inRange(invoice.CreatedAt, from, to) {
			result = append(result, cloneInvoice(invoice))
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(result, func(a, b domain.FinalizedInvoice) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return result, nil
}

func (s *Store) CreateVoided(_ context.Context, voided domain.VoidedTransaction) error {
	if voided.ID == "" || voided.OriginalTransactionID == "" {
		return store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.voidedByTxn[voided.OriginalTransactionID]; exists {
		return store.ErrAlreadySettled
	}
	if _, exists := s.voided[voided.ID]; exists {
		return store.ErrConflict
	}
	voided.Sale = voided.Sale.Clone()
	s.voided[voided.ID] = voided
	s.voidedByTxn[voided.OriginalTransactionID] = voided.ID
	return nil
}

func (s *Store) DeleteVoided(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	voided, ok := s.voided[id]
	if !ok {
		return nil
	}
	delete(s.voided, id)
	delete(s.voidedByTxn, voided.OriginalTransactionID)
	return nil
}

func (s *Store) FindVoidedByTransaction(_ context.Context, transactionID string) (*domain.VoidedTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.voidedByTxn[transactionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := s.voided[id]
	out.Sale = out.Sale.Clone()
	return &out, nil
}

func (s *Store) ListVoided(_ context.Context, from time.Time, to time.Time) ([]domain.VoidedTransaction, error) {
	s.mu.RLock()
	result := make([]domain.VoidedTransaction, 0, len(s.voided))
	for _, voided := range s.voided {
		if inRange(voided.VoidedAt, from, to) {
			voided.Sale = voided.Sale.Clone()
			result = append(result, voided)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(result, func(a, b domain.VoidedTransaction) int {
		return a.VoidedAt.Compare(b.VoidedAt)
	})
	return result, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	result := make([]domain.Product, 0, len(s.products))
	for _, product := range s.products {
		result = append(result, product)
	}
	s.mu.RUnlock()

	slices.SortFunc(result, func(a, b domain.Product) int {
		return strings.Compare(a.ID, b.ID)
	})
	return result, nil
}

func (s *Store) UpsertProduct(_ context.Context, product domain.Product) error {
	if product.ID == "" || product.Name == "" {
		return store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.products[product.ID]; ok && existing.ManageByLot {
		// on-hand of a lot product is owned by its batches
		product.OnHand = existing.OnHand
	}
	s.products[product.ID] = product
	return nil
}

func (s *Store) ListBatches(_ context.Context, productID string) ([]domain.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.products[productID]; !ok {
		return nil, store.ErrNotFound
	}
	lots := s.batches[productID]
	result := make([]domain.Batch, 0, len(lots))
	for _, lot := range lots {
		result = append(result, cloneBatch(lot))
	}
	slices.SortFunc(result, compareBatchFIFO)
	return result, nil
}

func (s *Store) CreateBatch(_ context.Context, batch domain.Batch) (*domain.Batch, error) {
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

	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[batch.ProductID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !product.ManageByLot {
		return nil, store.ErrValidation
	}
	s.batches[batch.ProductID] = append(s.batches[batch.ProductID], cloneBatch(batch))
	product.OnHand += batch.Remaining
	s.products[batch.ProductID] = product

	created := cloneBatch(batch)
	return &created, nil
}

func (s *Store) DebitBatches(_ context.Context, productID string, takes []domain.BatchConsumption) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[productID]
	if !ok {
		return store.ErrNotFound
	}
	lots := s.batches[productID]
	want, total, err := aggregateTakes(takes)
	if err != nil {
		return err
	}
	for batchID, qty := range want {
		idx := findBatch(lots, batchID)
		if idx < 0 || lots[idx].Remaining < qty {
			return store.ErrConflict
		}
	}
	for batchID, qty := range want {
		idx := findBatch(lots, batchID)
		lots[idx].Remaining -= qty
	}
	product.OnHand -= total
	s.products[productID] = product
	return nil
}

func (s *Store) CreditBatches(_ context.Context, productID string, takes []domain.BatchConsumption) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[productID]
	if !ok {
		return store.ErrNotFound
	}
	lots := s.batches[productID]
	want, total, err := aggregateTakes(takes)
	if err != nil {
		return err
	}
	for batchID, qty := range want {
		idx := findBatch(lots, batchID)
		if idx < 0 || lots[idx].Remaining+qty > lots[idx].Initial {
			return store.ErrConflict
		}
	}
	for batchID, qty := range want {
		idx := findBatch(lots, batchID)
		lots[idx].Remaining += qty
	}
	product.OnHand += total
	s.products[productID] = product
	return nil
}

func (s *Store) AdjustOnHand(_ context.Context, productID string, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[productID]
	if !ok {
		return 0, store.ErrNotFound
	}
	product.OnHand += delta
	s.products[productID] = product
	return product.OnHand, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, ok := s.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneCustomer(customer)
	return &out, nil
}

func (s *Store) UpsertCustomer(_ context.Context, customer domain.Customer) error {
	if customer.ID == "" {
		return store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.customers[customer.ID]; ok {
		// aggregates are only moved by purchases
		customer.TotalPurchases = existing.TotalPurchases
		customer.TotalSpent = existing.TotalSpent
		customer.LastPurchase = existing.LastPurchase
	}
	s.customers[customer.ID] = cloneCustomer(customer)
	return nil
}

func (s *Store) ApplyCustomerPurchase(_ context.Context, customerID string, invoiceID string, amount decimal.Decimal, at time.Time) (*time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	customer, ok := s.customers[customerID]
	if !ok {
		return nil, false, store.ErrNotFound
	}
	previous := copyTime(customer.LastPurchase)
	applied := s.appliedPurchases[customerID]
	if _, done := applied[invoiceID]; done {
		return previous, false, nil
	}
	if applied == nil {
		applied = make(map[string]struct{})
		s.appliedPurchases[customerID] = applied
	}

	customer.TotalPurchases++
	customer.TotalSpent = customer.TotalSpent.Add(amount)
	if customer.LastPurchase == nil || at.After(*customer.LastPurchase) {
		customer.LastPurchase = copyTime(&at)
	}
	s.customers[customerID] = customer
	applied[invoiceID] = struct{}{}
	return previous, true, nil
}

func (s *Store) RevertCustomerPurchase(_ context.Context, customerID string, invoiceID string, amount decimal.Decimal, previousLast *time.Time, appliedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	customer, ok := s.customers[customerID]
	if !ok {
		return store.ErrNotFound
	}
	applied := s.appliedPurchases[customerID]
	if _, done := applied[invoiceID]; !done {
		return nil
	}

	customer.TotalPurchases--
	customer.TotalSpent = customer.TotalSpent.Sub(amount)
	if customer.LastPurchase != nil && customer.LastPurchase.Equal(appliedAt) {
		customer.LastPurchase = copyTime(previousLast)
	}
	s.customers[customerID] = customer
	delete(applied, invoiceID)
	return nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	s.auditLogs = append(s.auditLogs, entry)
	s.mu.Unlock()
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		entry := s.auditLogs[i]
		if !inRange(entry.CreatedAt, from, to) {
			continue
		}
		result = append(result, entry)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || user.Password == "" {
		return store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	result := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		result = append(result, user)
	}
	s.mu.RUnlock()

	slices.SortFunc(result, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return result, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func aggregateTakes(takes []domain.BatchConsumption) (map[string]int, int, error) {
	want := make(map[string]int, len(takes))
	total := 0
	for _, take := range takes {
		if take.BatchID == "" || take.Quantity < 1 {
			return nil, 0, store.ErrValidation
		}
		want[take.BatchID] += take.Quantity
		total += take.Quantity
	}
	return want, total, nil
}

func findBatch(lots []domain.Batch, id string) int {
	for i := range lots {
		if lots[i].ID == id {
			return i
		}
	}
	return -1
}

func compareBatchFIFO(a domain.Batch, b domain.Batch) int {
	if c := a.ReceivedAt.Compare(b.ReceivedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func inRange(at time.Time, from time.Time, to time.Time) bool {
	if !from.IsZero() && at.Before(from) {
		return false
	}
	if !to.IsZero() && !at.Before(to) {
		return false
	}
	return true
}

func ptrTime(t time.Time) *time.Time {
	return &t
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func clonePending(src domain.PendingTransaction) domain.PendingTransaction {
	out := src
	out.Sale = src.Sale.Clone()
	out.Settlement = src.Settlement.Clone()
	return out
}

func cloneInvoice(src domain.FinalizedInvoice) domain.FinalizedInvoice {
	out := src
	out.Sale = src.Sale.Clone()
	out.StockDebits = make([]domain.StockDebit, len(src.StockDebits))
	for i, debit := range src.StockDebits {
		debit.Batches = append([]domain.BatchConsumption(nil), debit.Batches...)
		out.StockDebits[i] = debit
	}
	return out
}

func cloneBatch(src domain.Batch) domain.Batch {
	out := src
	out.ExpiryDate = copyTime(src.ExpiryDate)
	return out
}

func cloneCustomer(src domain.Customer) domain.Customer {
	out := src
	out.LastPurchase = copyTime(src.LastPurchase)
	return out
}
