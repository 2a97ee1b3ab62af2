// Package devlog is the parcel-level development output log consumed by
// reporting. It has no dependencies on sim/ and stores pure data types.
package devlog

// DevelopmentRecord captures one building realized in a simulated year.
type DevelopmentRecord struct {
	Year                int
	ParcelID            int64
	BuildingID          uint64
	Form                string
	ResidentialUnits    int
	NonResidentialSqft  float64
	BuildingSqft        float64
	DeedRestrictedUnits int
	Source              string // e.g. "market", "subsidized"
	Subsidized          bool
	PolicyName          string // program that paid for it, empty for market-rate
}

// AllocationRecord captures one sub-fund's allocation pass.
type AllocationRecord struct {
	Year         int
	Account      string
	SubFund      string
	StartBalance float64
	Candidates   int
	Admitted     int
	Realized     int
	Spent        float64 // positive dollars disbursed
	Skipped      bool
	Reason       string // why the sub-fund was skipped, if it was
}
