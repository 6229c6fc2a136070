package broker

// PriceType selects the broker's order pricing mode.
type PriceType string

const (
	PriceTypeLimit  PriceType = "limit"
	PriceTypeMarket PriceType = "piyasa"
)

// OrderRequest is a new-order submission. Direction accepts the platform's
// loose encodings (0/1, "buy", " SELL ") and is normalized before signing.
// Price and Lot stay strings: the signed body must carry the caller's exact
// decimal text, not a reformatted float.
type OrderRequest struct {
	Symbol     string
	Direction  any
	PriceType  PriceType
	Price      string // Decimal text; empty for market orders
	Lot        string // Positive integer text
	SMS        bool
	Email      bool
	SubAccount string
}

// ModifyRequest changes price and/or size of a resting order.
type ModifyRequest struct {
	OrderID    string
	Price      string
	Lot        string
	Viop       bool // Derivatives session order
	SubAccount string
}

// DeleteRequest cancels a resting order.
type DeleteRequest struct {
	OrderID    string
	SubAccount string
}

// OrderReceipt is the broker's acknowledgment of an accepted order.
type OrderReceipt struct {
	Reference string // Broker order reference
	Message   string // Broker message text, often Turkish
}

// SubAccount is one brokerage sub-account.
type SubAccount struct {
	Number     string `json:"number"`
	TradeLimit string `json:"tradeLimit"`
}

// Position is one instant-position row.
type Position struct {
	Code        string `json:"code"`        // Instrument code
	TotalStock  string `json:"totalstock"`  // Held quantity
	Cost        string `json:"cost"`        // Average cost
	UnitPrice   string `json:"unitprice"`   // Current price
	Profit      string `json:"profit"`      // Unrealized P/L
	Explanation string `json:"explanation"` // Broker annotation
	Type        string `json:"type"`        // Instrument class
}

// Transaction is one today's-transactions row. Status carries the broker's
// lifecycle word; WAITING rows are resting orders.
type Transaction struct {
	OrderRef     string `json:"atpref"`
	Symbol       string `json:"ticker"`
	Side         string `json:"buysell"`
	Size         string `json:"ordersize"`
	Remaining    string `json:"remainingsize"`
	Price        string `json:"price"`
	WaitingPrice string `json:"waitingprice"`
	Status       string `json:"equityStatusDescription"`
	Time         string `json:"transactiontime"`
}

// statusWaiting marks a resting (unfilled, uncancelled) order.
const statusWaiting = "WAITING"

// EquityInfo is the reference/quote record for one symbol.
type EquityInfo struct {
	Symbol  string `json:"name"`
	Floor   string `json:"flr"` // Daily lower price bound
	Ceiling string `json:"clg"` // Daily upper price bound
	Bid     string `json:"bid"`
	Ask     string `json:"ask"`
	Last    string `json:"lst"`
}
