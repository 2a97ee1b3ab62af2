package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestAccount_AddTransaction_UpdatesSubFundTotals(t *testing.T) {
	// GIVEN an empty account
	acct := New().Account("lump_sum")

	// WHEN a deposit and a signed withdrawal are posted
	acct.AddTransaction(d(1_000_000), "oakland", Metadata{Year: 2020, Description: "funding"})
	tx := acct.AddTransaction(d(-250_000), "oakland", Metadata{
		Year:        2020,
		Description: "Developing subsidized building",
		Fields:      map[string]string{"building_id": "12"},
	})

	// THEN the sub-fund total is the signed sum and metadata is kept
	assert.True(t, acct.TotalBySubFund("oakland").Equal(d(750_000)))
	assert.True(t, acct.Balance().Equal(d(750_000)))
	id, ok := tx.Field("building_id")
	require.True(t, ok)
	assert.Equal(t, "12", id)
	assert.Equal(t, 2020, tx.Year)
}

func TestAccount_UnknownSubFund_StartsAtZero(t *testing.T) {
	acct := New().Account("lump_sum")
	assert.True(t, acct.TotalBySubFund("nowhere").IsZero())

	// Overdrafts are the caller's concern; the ledger records them as-is.
	acct.AddTransaction(d(-5), "nowhere", Metadata{})
	assert.True(t, acct.TotalBySubFund("nowhere").Equal(d(-5)))
}

func TestAccount_SubFunds_OrderedAndRestartable(t *testing.T) {
	acct := New().Account("lump_sum")
	acct.AddTransaction(d(30), "sf", Metadata{})
	acct.AddTransaction(d(10), "alameda", Metadata{})
	acct.AddTransaction(d(20), "oakland", Metadata{})

	collect := func() ([]string, []string) {
		var keys, vals []string
		for k, v := range acct.SubFunds() {
			keys = append(keys, k)
			vals = append(vals, v.String())
		}
		return keys, vals
	}

	keys, vals := collect()
	assert.Equal(t, []string{"alameda", "oakland", "sf"}, keys)
	assert.Equal(t, []string{"10", "20", "30"}, vals)

	// A second pass sees the latest balances.
	acct.AddTransaction(d(-5), "oakland", Metadata{})
	_, vals = collect()
	assert.Equal(t, []string{"10", "15", "30"}, vals)
}

func TestAccount_SubFunds_EarlyBreak(t *testing.T) {
	acct := New().Account("a")
	acct.AddTransaction(d(1), "x", Metadata{})
	acct.AddTransaction(d(1), "y", Metadata{})
	n := 0
	for range acct.SubFunds() {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestAccount_Transactions_AreCopies(t *testing.T) {
	acct := New().Account("a")
	acct.AddTransaction(d(1), "x", Metadata{Year: 2021, Fields: map[string]string{"k": "v"}})

	txs := acct.Transactions()
	txs[0].Amount = d(999)
	fields := txs[0].Fields()
	fields["k"] = "changed"

	again := acct.Transactions()
	assert.True(t, again[0].Amount.Equal(d(1)))
	v, _ := again[0].Field("k")
	assert.Equal(t, "v", v)
	assert.Len(t, acct.TransactionsForYear(2021), 1)
	assert.Empty(t, acct.TransactionsForYear(2022))
}

func TestLedger_AccountIsGetOrCreate(t *testing.T) {
	l := New()
	a := l.Account("vmt_fund")
	b := l.Account("vmt_fund")
	assert.Same(t, a, b)

	_, ok := l.Lookup("missing")
	assert.False(t, ok)

	l.Account("lump_sum")
	assert.Equal(t, []string{"lump_sum", "vmt_fund"}, l.Names())
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "-1250.50", FormatAmount(decimal.RequireFromString("-1250.5")))
	assert.Equal(t, "7", IntField(7))
}

func TestTransaction_IDs_ReproducibleAndDistinct(t *testing.T) {
	post := func() []Transaction {
		acct := New().Account("lump_sum")
		acct.AddTransaction(d(100), "a", Metadata{})
		acct.AddTransaction(d(-40), "a", Metadata{})
		return acct.Transactions()
	}
	first, second := post(), post()

	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, first[1].ID, second[1].ID)
	assert.NotEqual(t, first[0].ID, first[1].ID)
	assert.NotEqual(t, first[0].ID, New().Account("other").AddTransaction(d(100), "a", Metadata{}).ID)
}
