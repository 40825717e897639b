package housing

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/kacper-wojtaszczyk/jackfruit/etl-go/internal/table"
)

// LeaseRecord is the subset of a lease snapshot row used by the join.
type LeaseRecord struct {
	NISCode     string   `csv:"NISCode"`
	NameFre     string   `csv:"NameFre"`
	NameDut     string   `csv:"NameDut"`
	NameGer     string   `csv:"NameGer"`
	RentP50     *float64 `csv:"RentP50"`
	Date        string   `csv:"Date"`
	RentsNumber *float64 `csv:"RentsNumber"`
}

// TransactionRecord is the subset of a transaction snapshot row used by the join.
type TransactionRecord struct {
	NISCode       string   `csv:"NISCode"`
	NameFre       string   `csv:"NameFre"`
	NameDut       string   `csv:"NameDut"`
	NameGer       string   `csv:"NameGer"`
	PriceP50      *float64 `csv:"PriceP50"`
	Date          string   `csv:"Date"`
	ParcelsNumber *float64 `csv:"ParcelsNumber"`
}

// PriceRentRecord is one joined row per (NISCode, Date).
type PriceRentRecord struct {
	NISCode          string   `csv:"NISCode"`
	Date             string   `csv:"Date"`
	RentP50          *float64 `csv:"RentP50"`
	RentsNumber      *float64 `csv:"RentsNumber"`
	NameFre          string   `csv:"NameFre"`
	PriceP50         *float64 `csv:"PriceP50"`
	ParcelsNumber    *float64 `csv:"ParcelsNumber"`
	NameDut          string   `csv:"NameDut"`
	NameGer          string   `csv:"NameGer"`
	PriceToRentRatio *float64 `csv:"PriceToRentRatio"`
}

type groupKey struct {
	NISCode string
	Date    string
}

// mean and sum skip nulls; both are null when every input is null.
type accumulator struct {
	sum   float64
	count int
}

func (a *accumulator) add(v *float64) {
	if v != nil {
		a.sum += *v
		a.count++
	}
}

func (a accumulator) mean() *float64 {
	if a.count == 0 {
		return nil
	}
	m := a.sum / float64(a.count)
	return &m
}

func (a accumulator) total() *float64 {
	if a.count == 0 {
		return nil
	}
	s := a.sum
	return &s
}

type leaseGroup struct {
	rent, rents accumulator
	nameFre     string
}

type transactionGroup struct {
	price, parcels   accumulator
	nameDut, nameGer string
}

// PriceToRent aggregates lease and transaction snapshots per municipality
// and date, inner joins them and computes PriceP50 / RentP50.
func PriceToRent(leases, transactions *table.Table) ([]PriceRentRecord, error) {
	leaseRows, err := table.Decode[LeaseRecord](leases.Distinct())
	if err != nil {
		return nil, fmt.Errorf("decode leases: %w", err)
	}
	transactionRows, err := table.Decode[TransactionRecord](transactions.Distinct())
	if err != nil {
		return nil, fmt.Errorf("decode transactions: %w", err)
	}

	lg := make(map[groupKey]*leaseGroup)
	for _, r := range leaseRows {
		k := groupKey{r.NISCode, r.Date}
		g, ok := lg[k]
		if !ok {
			g = &leaseGroup{nameFre: r.NameFre}
			lg[k] = g
		}
		g.rent.add(r.RentP50)
		g.rents.add(r.RentsNumber)
	}

	tg := make(map[groupKey]*transactionGroup)
	for _, r := range transactionRows {
		k := groupKey{r.NISCode, r.Date}
		g, ok := tg[k]
		if !ok {
			g = &transactionGroup{nameDut: r.NameDut, nameGer: r.NameGer}
			tg[k] = g
		}
		g.price.add(r.PriceP50)
		g.parcels.add(r.ParcelsNumber)
	}

	out := make([]PriceRentRecord, 0, min(len(lg), len(tg)))
	for k, l := range lg {
		tr, ok := tg[k]
		if !ok {
			continue
		}
		rec := PriceRentRecord{
			NISCode:       k.NISCode,
			Date:          k.Date,
			RentP50:       l.rent.mean(),
			RentsNumber:   l.rents.total(),
			NameFre:       l.nameFre,
			PriceP50:      tr.price.mean(),
			ParcelsNumber: tr.parcels.total(),
			NameDut:       tr.nameDut,
			NameGer:       tr.nameGer,
		}
		rec.PriceToRentRatio = ratio(rec.PriceP50, rec.RentP50)
		out = append(out, rec)
	}

	slices.SortFunc(out, func(a, b PriceRentRecord) int {
		return cmp.Or(cmp.Compare(a.NISCode, b.NISCode), cmp.Compare(a.Date, b.Date))
	})
	return out, nil
}

func ratio(price, rent *float64) *float64 {
	if price == nil || rent == nil || *rent == 0 {
		return nil
	}
	r := *price / *rent
	return &r
}
