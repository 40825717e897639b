package model

import (
	"fmt"
	"strings"
	"time"
)

// Default source URL templates. Placeholders are {color}, {file} and {date}.
const (
	DefaultTaxiURLTemplate         = "https://github.com/DataTalksClub/nyc-tlc-data/releases/download/{color}/{file}.csv.gz"
	DefaultTransactionsURLTemplate = "https://opendata.fin.belgium.be/download/datasets/89209670-51ca-11eb-beeb-3448ed25ad7c_{date}_csv_NA_01000.zip"
)

// Number of trailing local path segments kept in bucket object keys.
const (
	TaxiKeyDepth      = 1
	HousingKeyDepth   = 2
	PriceRentKeyDepth = 2
)

// PriceRentDataset is the warehouse dataset holding the joined price/rent tables.
const PriceRentDataset = "belgium_housing_transactions_rents"

// DateEncoding builds the YYYYMMDD snapshot string used by the Belgian open
// data archives. Snapshots are published at quarter ends, so the day is 31
// for March and December and 30 otherwise.
func DateEncoding(year, month int) string {
	day := 30
	if month == 3 || month == 12 {
		day = 31
	}
	return fmt.Sprintf("%04d%02d%02d", year, month, day)
}

// ParseDateEncoding converts a YYYYMMDD string into YYYY-MM-DD.
func ParseDateEncoding(s string) (string, error) {
	t, err := time.Parse("20060102", s)
	if err != nil {
		return "", fmt.Errorf("invalid date encoding %q: %w", s, err)
	}
	return t.Format("2006-01-02"), nil
}

// TaxiFile is the dataset file stem, e.g. yellow_tripdata_2019-02.
func TaxiFile(color Family, year, month int) string {
	return fmt.Sprintf("%s_tripdata_%04d-%02d", color, year, month)
}

// HousingFile is the per-snapshot file stem, e.g. RegionalWideRealEstateTransactions_20190331.
func HousingFile(file string, year, month int) string {
	return fmt.Sprintf("%s_%s", file, DateEncoding(year, month))
}

// ExpandURL fills a URL template.
func ExpandURL(template string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// TaxiTable is the warehouse destination for a taxi family.
func TaxiTable(color Family) string {
	return fmt.Sprintf("%s_trips_data.rides", color)
}

// HousingTable is the warehouse destination for a housing file group.
func HousingTable(action ActionType, file string) string {
	return fmt.Sprintf("belgium_housing_%s.%s_all", action, file)
}

// LeaseSourceTable is the lease table the price/rent join reads for filename.
func LeaseSourceTable(filename string) string {
	return HousingTable(Leases, filename+"Rents")
}

// TransactionSourceTable is the transaction table the price/rent join reads for filename.
func TransactionSourceTable(filename string) string {
	return HousingTable(Transactions, filename+"Transactions")
}

// PriceRentTable is the destination of the price/rent join.
func PriceRentTable(filename string) string {
	return PriceRentDataset + "." + filename
}
