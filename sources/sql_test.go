package sources

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

var testRecordMapping = RowMapping[testRecord]{
	Table:   "battery_state",
	Columns: []string{"device_id", "ts", "battery_level"},
	Values: func(r testRecord) []any {
		return []any{r.DeviceID, r.Timestamp, r.BatteryLevel}
	},
	Fields: func(r *testRecord) []any {
		return []any{&r.DeviceID, &r.Timestamp, &r.BatteryLevel}
	},
}

const (
	expectedInsert = "INSERT INTO battery_state (device_id, ts, battery_level) VALUES (?, ?, ?)"
	expectedSelect = "SELECT id, device_id, ts, battery_level FROM battery_state WHERE id > ? ORDER BY id LIMIT ?"
)

func TestSQLSourceSave(t *testing.T) {

	t.Log("given an sql source")
	{
		t.Log("\twhen record is saved")
		{
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatal("\t\tunable to set up sql mock", ballotX, err)
			}
			defer db.Close()

			mock.ExpectExec(regexp.QuoteMeta(expectedInsert)).
				WithArgs("dev-1", int64(1709294400000), int64(42)).
				WillReturnResult(sqlmock.NewResult(1, 1))

			s := NewSQLSource[testRecord](db, testRecordMapping, 10)
			err = s.Save(context.Background(), testRecord{DeviceID: "dev-1", Timestamp: 1709294400000, BatteryLevel: 42})

			msg := "\t\tno error must be returned"
			if err == nil {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, err)
			}

			msg = "\t\tinsert statement must have been executed with record's column values"
			if err := mock.ExpectationsWereMet(); err == nil {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, err)
			}
		}

		t.Log("\twhen insert fails")
		{
			db, mock, _ := sqlmock.New()
			defer db.Close()

			insertErr := errors.New("database is locked")
			mock.ExpectExec(regexp.QuoteMeta(expectedInsert)).WillReturnError(insertErr)

			s := NewSQLSource[testRecord](db, testRecordMapping, 10)
			err := s.Save(context.Background(), testRecord{DeviceID: "dev-1"})

			msg := "\t\terror must be returned"
			if errors.Is(err, insertErr) {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, err)
			}
		}
	}

}

func TestSQLSourceQuery(t *testing.T) {

	t.Log("given an sql source")
	{
		t.Log("\twhen table contains rows beyond cursor")
		{
			db, mock, _ := sqlmock.New()
			defer db.Close()

			rows := sqlmock.NewRows([]string{"id", "device_id", "ts", "battery_level"}).
				AddRow(int64(8), "dev-1", int64(1), int64(42)).
				AddRow(int64(9), "dev-2", int64(2), int64(17))
			mock.ExpectQuery(regexp.QuoteMeta(expectedSelect)).
				WithArgs(int64(7), int64(10)).
				WillReturnRows(rows)

			s := NewSQLSource[testRecord](db, testRecordMapping, 10)
			records, err := s.Query(context.Background(), 7)

			msg := "\t\tno error must be returned"
			if err == nil {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, err)
			}

			msg = "\t\trows must be returned with id as cursor and primary key as key"
			if len(records) == 2 && records[0].Cursor == 8 && records[1].Cursor == 9 && records[1].Key == "dev-2:2" && records[1].Payload.BatteryLevel == 17 {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, records)
			}

			msg = "\t\tquery must have been executed with cursor and batch size"
			if err := mock.ExpectationsWereMet(); err == nil {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, err)
			}
		}

		t.Log("\twhen query fails")
		{
			db, mock, _ := sqlmock.New()
			defer db.Close()

			queryErr := errors.New("no such table: battery_state")
			mock.ExpectQuery(regexp.QuoteMeta(expectedSelect)).WillReturnError(queryErr)

			s := NewSQLSource[testRecord](db, testRecordMapping, 10)
			_, err := s.Query(context.Background(), 0)

			msg := "\t\terror must be returned"
			if errors.Is(err, queryErr) {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, err)
			}
		}

		t.Log("\twhen row cannot be scanned")
		{
			db, mock, _ := sqlmock.New()
			defer db.Close()

			rows := sqlmock.NewRows([]string{"id", "device_id", "ts", "battery_level"}).
				AddRow(int64(1), "dev-1", "not-a-number", int64(42))
			mock.ExpectQuery(regexp.QuoteMeta(expectedSelect)).WillReturnRows(rows)

			s := NewSQLSource[testRecord](db, testRecordMapping, 10)
			records, err := s.Query(context.Background(), 0)

			msg := "\t\terror must be returned"
			if err != nil && records == nil {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, records)
			}
		}
	}

}
