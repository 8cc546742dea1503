package directory

import (
	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type sqlMockFn = func() (string, *gorm.DB, sqlmock.Sqlmock, error)

var sqlMockFnList = []sqlMockFn{newGORMMySQLMock, newGORMPostgresMock}

func newGORMMySQLMock() (string, *gorm.DB, sqlmock.Sqlmock, error) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		return "", nil, nil, err
	}

	dialector := mysql.New(mysql.Config{
		Conn:                      mockDB,
		SkipInitializeWithVersion: true,
	})

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return "", nil, nil, err
	}

	return "mysql", db, mock, nil
}

func newGORMPostgresMock() (string, *gorm.DB, sqlmock.Sqlmock, error) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		return "", nil, nil, err
	}

	dialector := postgres.New(postgres.Config{
		Conn: mockDB,
	})

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return "", nil, nil, err
	}

	return "postgres", db, mock, nil
}

// expectInsert registers an INSERT into table. Postgres reads the generated id
// back with RETURNING, MySQL reports it through the exec result.
func expectInsert(dialect string, mock sqlmock.Sqlmock, table string, id int64) {
	query := "^INSERT INTO [`'\"]" + table + "[`'\"]"

	mock.ExpectBegin()
	if dialect == "postgres" {
		mock.ExpectQuery(query).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(id))
	} else {
		mock.ExpectExec(query).WillReturnResult(sqlmock.NewResult(id, 1))
	}
	mock.ExpectCommit()
}
