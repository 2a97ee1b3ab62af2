// Package ledger tracks public funds available to subsidy programs.
//
// A Ledger owns named Accounts. Each Account is split into sub-funds (for
// example one per jurisdiction) and keeps an append-only list of signed
// Transactions. Balances are always derived from the transaction list, so
// state is strictly additive: nothing is ever edited or deleted.
//
// The ledger performs no overdraft checks. Callers that spend from a sub-fund
// must compare against SubFundBalance before posting.
package ledger

import (
	"iter"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Metadata is free-form audit information attached to a transaction.
type Metadata struct {
	Year        int
	Description string
	Fields      map[string]string
}

// Transaction is an immutable signed movement of money within one sub-fund.
// IDs are name-based UUIDs of (account, sequence), so replaying the same
// postings reproduces the same IDs.
type Transaction struct {
	ID          uuid.UUID
	Amount      decimal.Decimal
	SubFund     string
	Year        int
	Description string
	fields      map[string]string
}

// Field returns one audit field.
func (t Transaction) Field(name string) (string, bool) {
	v, ok := t.fields[name]
	return v, ok
}

// Fields returns a copy of the audit fields.
func (t Transaction) Fields() map[string]string {
	return maps.Clone(t.fields)
}

// Account is a named fund.
type Account struct {
	name         string
	transactions []Transaction
	bySubFund    map[string]decimal.Decimal
}

func newAccount(name string) *Account {
	return &Account{
		name:      name,
		bySubFund: make(map[string]decimal.Decimal),
	}
}

// Name returns the account name.
func (a *Account) Name() string { return a.name }

// AddTransaction appends a signed transaction to subFund. It never fails; an
// unknown sub-fund is created with a zero starting balance.
func (a *Account) AddTransaction(amount decimal.Decimal, subFund string, meta Metadata) Transaction {
	tx := Transaction{
		ID:          uuid.NewSHA1(uuid.NameSpaceOID, []byte(a.name+"/"+strconv.Itoa(len(a.transactions)))),
		Amount:      amount,
		SubFund:     subFund,
		Year:        meta.Year,
		Description: meta.Description,
		fields:      maps.Clone(meta.Fields),
	}
	a.transactions = append(a.transactions, tx)
	a.bySubFund[subFund] = a.bySubFund[subFund].Add(amount)
	return tx
}

// SubFunds yields (key, current balance) for every sub-fund that has seen a
// transaction, in lexicographic key order. The sequence may be ranged over
// any number of times; each pass reflects the balances at the time it starts.
func (a *Account) SubFunds() iter.Seq2[string, decimal.Decimal] {
	return func(yield func(string, decimal.Decimal) bool) {
		keys := a.SubFundKeys()
		balances := maps.Clone(a.bySubFund)
		for _, k := range keys {
			if !yield(k, balances[k]) {
				return
			}
		}
	}
}

// SubFundKeys returns the sub-fund keys in processing order.
func (a *Account) SubFundKeys() []string {
	keys := maps.Keys(a.bySubFund)
	slices.Sort(keys)
	return keys
}

// TotalBySubFund returns the signed sum of transactions posted to key. Unknown
// keys have a zero total.
func (a *Account) TotalBySubFund(key string) decimal.Decimal {
	return a.bySubFund[key]
}

// Balance returns the signed sum of every transaction in the account.
func (a *Account) Balance() decimal.Decimal {
	total := decimal.Zero
	for _, v := range a.bySubFund {
		total = total.Add(v)
	}
	return total
}

// Transactions returns a copy of the transaction list in posting order.
func (a *Account) Transactions() []Transaction {
	return slices.Clone(a.transactions)
}

// TransactionsForYear returns the transactions posted with the given year.
func (a *Account) TransactionsForYear(year int) []Transaction {
	var out []Transaction
	for _, tx := range a.transactions {
		if tx.Year == year {
			out = append(out, tx)
		}
	}
	return out
}

// Ledger is the registry of named accounts for one run.
type Ledger struct {
	accounts map[string]*Account
}

// New returns an empty Ledger.
func New() *Ledger {
	return &Ledger{accounts: make(map[string]*Account)}
}

// Account returns the named account, creating it empty if needed.
func (l *Ledger) Account(name string) *Account {
	if acct, ok := l.accounts[name]; ok {
		return acct
	}
	acct := newAccount(name)
	l.accounts[name] = acct
	return acct
}

// Lookup returns the named account without creating it.
func (l *Ledger) Lookup(name string) (*Account, bool) {
	acct, ok := l.accounts[name]
	return acct, ok
}

// Names returns the account names in lexicographic order.
func (l *Ledger) Names() []string {
	names := maps.Keys(l.accounts)
	slices.Sort(names)
	return names
}

// FormatAmount renders an amount in whole cents for metadata and logs.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// IntField renders an integer audit field.
func IntField(v int) string { return strconv.Itoa(v) }
