package warehouse

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/kacper-wojtaszczyk/jackfruit/etl-go/internal/table"
)

func newMock(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgres(db, 2), mock
}

func rides() *table.Table {
	tbl := table.New("VendorID", "passenger_count")
	tbl.Append("1", "2")
	tbl.Append("2", "")
	tbl.Append("1", "0")
	return tbl
}

func TestPostgres_Write_Append(t *testing.T) {
	pg, mock := newMock(t)
	copyIn := pq.CopyInSchema("yellow_trips_data", "rides", "VendorID", "passenger_count")

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE SCHEMA IF NOT EXISTS "yellow_trips_data"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "yellow_trips_data"."rides" ("VendorID" TEXT, "passenger_count" TEXT)`).WillReturnResult(sqlmock.NewResult(0, 0))

	first := mock.ExpectPrepare(copyIn)
	first.ExpectExec().WithArgs("1", "2").WillReturnResult(sqlmock.NewResult(0, 1))
	first.ExpectExec().WithArgs("2", nil).WillReturnResult(sqlmock.NewResult(0, 1))
	first.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 0))

	second := mock.ExpectPrepare(copyIn)
	second.ExpectExec().WithArgs("1", "0").WillReturnResult(sqlmock.NewResult(0, 1))
	second.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectCommit()

	n, err := pg.Write(context.Background(), "yellow_trips_data.rides", rides(), Append)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if n != 3 {
		t.Fatalf("Write() = %d rows, want 3", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgres_Write_Replace(t *testing.T) {
	pg, mock := newMock(t)
	tbl := table.New("NISCode")
	tbl.Append("11001")

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE SCHEMA IF NOT EXISTS "belgium_housing_transactions_rents"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DROP TABLE IF EXISTS "belgium_housing_transactions_rents"."MunicipalityWideRealEstate"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "belgium_housing_transactions_rents"."MunicipalityWideRealEstate" ("NISCode" TEXT)`).WillReturnResult(sqlmock.NewResult(0, 0))
	prep := mock.ExpectPrepare(pq.CopyInSchema("belgium_housing_transactions_rents", "MunicipalityWideRealEstate", "NISCode"))
	prep.ExpectExec().WithArgs("11001").WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	if _, err := pg.Write(context.Background(), "belgium_housing_transactions_rents.MunicipalityWideRealEstate", tbl, Replace); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgres_Write_CopyErrorRollsBack(t *testing.T) {
	pg, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE SCHEMA IF NOT EXISTS "yellow_trips_data"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "yellow_trips_data"."rides" ("VendorID" TEXT, "passenger_count" TEXT)`).WillReturnResult(sqlmock.NewResult(0, 0))
	prep := mock.ExpectPrepare(pq.CopyInSchema("yellow_trips_data", "rides", "VendorID", "passenger_count"))
	prep.ExpectExec().WithArgs("1", "2").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	n, err := pg.Write(context.Background(), "yellow_trips_data.rides", rides(), Append)
	if err == nil {
		t.Fatal("expected error")
	}
	if n != 0 {
		t.Fatalf("expected 0 rows reported after rollback, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgres_Write_InvalidName(t *testing.T) {
	pg, _ := newMock(t)
	if _, err := pg.Write(context.Background(), "rides", rides(), Append); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
}

func TestPostgres_Read(t *testing.T) {
	pg, mock := newMock(t)
	mock.ExpectQuery(`SELECT * FROM "belgium_housing_leases"."MunicipalityWideRealEstateRents_all"`).
		WillReturnRows(sqlmock.NewRows([]string{"NISCode", "RentP50"}).
			AddRow("11001", "100").
			AddRow("11002", nil))

	tbl, err := pg.Read(context.Background(), "belgium_housing_leases.MunicipalityWideRealEstateRents_all")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if tbl.Len() != 2 {
		t.Fatalf("expected 2 rows, got %d", tbl.Len())
	}
	if n, _ := tbl.NullCount("RentP50"); n != 1 {
		t.Fatalf("expected 1 null RentP50, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
