package entry

// Intent is a request to append one ledger entry. The concrete variants are
// Tip, Refund, TopUp and PayOut; nothing outside this package implements it.
type Intent interface {
	Type() TransactionType
	// Draft returns the entry fields the caller controls. Sequence, hashes,
	// timestamp and post balances are filled in at append time.
	Draft() Entry
	// Effect returns the signed balance deltas the entry applies.
	Effect() Effect

	isIntent()
}

// Effect is the signed change an entry makes to the wallet of its user and
// to the aggregate of its media item.
type Effect struct {
	User  int64
	Media int64
}

// Refs are the optional references and display copies an entry may carry.
type Refs struct {
	MediaID     string
	PartyID     string
	BidID       string
	Username    string
	MediaTitle  string
	Description string
}

// Tip moves Amount from the user's wallet onto a media item.
type Tip struct {
	UserID string
	Amount int64
	Refs
}

func (Tip) Type() TransactionType { return TypeTip }
func (t Tip) Draft() Entry { return draft(TypeTip, t.UserID, t.Amount, t.Refs) }
func (t Tip) Effect() Effect { return Effect{User: -t.Amount, Media: t.Amount} }
func (Tip) isIntent() {}

// Refund returns Amount to the user's wallet, taking it back from the media
// item when one is referenced.
type Refund struct {
	UserID string
	Amount int64
	Refs
}

func (Refund) Type() TransactionType { return TypeRefund }
func (r Refund) Draft() Entry { return draft(TypeRefund, r.UserID, r.Amount, r.Refs) }
func (r Refund) Effect() Effect { return Effect{User: r.Amount, Media: -r.Amount} }
func (Refund) isIntent() {}

// TopUp credits the user's wallet after an external payment has settled.
type TopUp struct {
	UserID string
	Amount int64
	Refs
}

func (TopUp) Type() TransactionType { return TypeTopUp }
func (t TopUp) Draft() Entry { return draft(TypeTopUp, t.UserID, t.Amount, t.Refs) }
func (t TopUp) Effect() Effect { return Effect{User: t.Amount} }
func (TopUp) isIntent() {}

// PayOut records an artist escrow payout. It leaves the wallet untouched;
// the escrow debit happens in the same unit of work that appends it.
type PayOut struct {
	UserID string
	Amount int64
	Refs
}

func (PayOut) Type() TransactionType { return TypePayOut }
func (p PayOut) Draft() Entry { return draft(TypePayOut, p.UserID, p.Amount, p.Refs) }
func (PayOut) Effect() Effect { return Effect{} }
func (PayOut) isIntent() {}

func draft(t TransactionType, userID string, amount int64, r Refs) Entry {
	return Entry{
		Type:        t,
		Amount:      amount,
		UserID:      userID,
		MediaID:     r.MediaID,
		PartyID:     r.PartyID,
		BidID:       r.BidID,
		Username:    r.Username,
		MediaTitle:  r.MediaTitle,
		Description: r.Description,
	}
}

// RequiresMedia reports whether entries of type t must reference a media item.
func RequiresMedia(t TransactionType) bool {
	return t == TypeTip
}
