package partner

// AInput is partner A's payload after validation succeeds.
type AInput struct {
	OrderID           string
	SkuID             string
	CustomerID        string
	Quantity          int64
	UnitPrice         float64
	TaxRate           float64
	TransactionTimeMs int64
	Metadata          map[string]any
}

// BInput is partner B's payload after validation succeeds.
type BInput struct {
	TransactionID string
	ItemCode      string
	ClientID      string
	Qty           int64
	Price         float64
	Tax           float64
	PurchaseTime  string
	Notes         string
	HasNotes      bool
}
