package ledger

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestSQLState_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer func() { _ = db.Close() }()

	st := NewSQLState(db)
	mock.ExpectExec("INSERT INTO release_ledger").
		WithArgs("com.acme.lib", "1.0.0", `{"x":1}`, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := st.Create(context.Background(), "com.acme.lib", "1.0.0", []byte(`{"x":1}`)); err != nil {
		t.Errorf("error was not expected while creating record: %s", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %s", err)
	}
}

func TestSQLState_CreateConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("stub db: %s", err)
	}
	defer func() { _ = db.Close() }()

	st := NewSQLState(db)
	mock.ExpectExec("INSERT INTO release_ledger").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = st.Create(context.Background(), "com.acme.lib", "1.0.0", []byte(`{}`))
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestSQLState_ReadNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("stub db: %s", err)
	}
	defer func() { _ = db.Close() }()

	st := NewSQLState(db)
	mock.ExpectQuery("SELECT document, revision FROM release_ledger").
		WithArgs("com.acme.lib", "1.0.0").
		WillReturnError(sql.ErrNoRows)

	_, err = st.Read(context.Background(), "com.acme.lib", "1.0.0")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLState_UpdateRevisionConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("stub db: %s", err)
	}
	defer func() { _ = db.Close() }()

	st := NewSQLState(db)
	mock.ExpectExec("UPDATE release_ledger").
		WithArgs(`{"v":2}`, sqlmock.AnyArg(), "com.acme.lib", "1.0.0", uint64(1)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT document, revision FROM release_ledger").
		WithArgs("com.acme.lib", "1.0.0").
		WillReturnRows(sqlmock.NewRows([]string{"document", "revision"}).AddRow(`{"v":3}`, 2))

	err = st.Update(context.Background(), "com.acme.lib", "1.0.0", 1, []byte(`{"v":2}`))
	if !errors.Is(err, ErrRevisionConflict) {
		t.Fatalf("expected ErrRevisionConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %s", err)
	}
}

func TestSQLState_List(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("stub db: %s", err)
	}
	defer func() { _ = db.Close() }()

	st := NewSQLState(db)
	mock.ExpectQuery("SELECT document, revision FROM release_ledger WHERE package_id").
		WithArgs("com.acme.lib").
		WillReturnRows(sqlmock.NewRows([]string{"document", "revision"}).
			AddRow(`{"a":1}`, 1).
			AddRow(`{"b":2}`, 3))

	recs, err := st.List(context.Background(), "com.acme.lib")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 2 || recs[1].Revision != 3 || string(recs[0].Value) != `{"a":1}` {
		t.Fatalf("unexpected records: %+v", recs)
	}
}
