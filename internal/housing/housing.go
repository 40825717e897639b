// Package housing holds the Belgian real estate transforms: filtering the
// transaction snapshots, dating them, and joining sale prices with rents.
package housing

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kacper-wojtaszczyk/jackfruit/etl-go/internal/model"
	"github.com/kacper-wojtaszczyk/jackfruit/etl-go/internal/table"
)

// Separator used by the open data CSV files.
const Separator = ';'

// TextColumns are identifier columns kept as text during prefiltering.
var TextColumns = []string{
	"NISCode",
	"Fictious",
	"NameFre",
	"NameDut",
	"NameGer",
	"TransactionType",
	"ParcelNature",
}

const (
	// ParcelNatureHouse is the parcel nature code for a house.
	ParcelNatureHouse = "200"
	// TransactionPrivateSale is the transaction type of a private direct sale.
	TransactionPrivateSale = "VENTEIMMEUB"
)

// FilterSales keeps private direct sales of houses.
func FilterSales(t *table.Table) (*table.Table, error) {
	houses, err := t.Where("ParcelNature", ParcelNatureHouse)
	if err != nil {
		return nil, fmt.Errorf("filter parcel nature: %w", err)
	}
	sales, err := houses.Where("TransactionType", TransactionPrivateSale)
	if err != nil {
		return nil, fmt.Errorf("filter transaction type: %w", err)
	}
	return sales, nil
}

// SnapshotDate extracts the YYYY-MM-DD date from a file named like
// RegionalWideRealEstateTransactions_20190331.csv.
func SnapshotDate(path string) (string, error) {
	base := filepath.Base(path)
	stem, _, _ := strings.Cut(base, ".")
	i := strings.LastIndex(stem, "_")
	if i < 0 {
		return "", fmt.Errorf("no date suffix in %q", base)
	}
	return model.ParseDateEncoding(stem[i+1:])
}

// AddSnapshotDate sets column Date from the file name of path.
func AddSnapshotDate(t *table.Table, path string) (*table.Table, error) {
	date, err := SnapshotDate(path)
	if err != nil {
		return nil, err
	}
	return t.WithColumn("Date", date), nil
}
