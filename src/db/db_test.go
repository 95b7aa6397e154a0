package db

import (
	"log"
	"rentals/src/models"
	"rentals/src/models/scopes"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func NewMockDB() (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		log.Fatalf("An error '%s' was not expected when opening a stub database connection", err)
	}

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{})
	if err != nil {
		log.Fatalf("An error '%s' was not expected when opening gorm database", err)
	}

	return gormDB, mock
}

func TestBookingRowLock(t *testing.T) {
	gormDB, mock := NewMockDB()
	id := uuid.New()

	mock.ExpectQuery(`SELECT \* FROM "bookings" WHERE id = \$1 .*FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).AddRow(id.String(), "CONFIRMED"))

	var booking models.Booking
	err := gormDB.Scopes(scopes.ForUpdate, scopes.WithID(id)).First(&booking).Error

	assert.NoError(t, err)
	assert.Equal(t, id, booking.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOverlapQuery(t *testing.T) {
	gormDB, _ := NewMockDB()
	stmt := gormDB.Session(&gorm.Session{DryRun: true}).
		Model(&models.Booking{}).
		Scopes(scopes.Overlapping("listing-1", models.Booking{}.StartDate, models.Booking{}.EndDate)).
		Find(&[]models.Booking{}).
		Statement

	sql := stmt.SQL.String()
	assert.Contains(t, sql, `listing_id = $1`)
	assert.Contains(t, sql, `start_date < $2 AND end_date > $3`)
	assert.Contains(t, sql, `status IN ($4,$5,$6,$7,$8,$9,$10)`)
}

func TestListingLockUpsert(t *testing.T) {
	gormDB, _ := NewMockDB()
	stmt := gormDB.Session(&gorm.Session{DryRun: true}).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.ListingLock{ListingID: "listing-1"}).
		Statement

	assert.Contains(t, stmt.SQL.String(), `ON CONFLICT DO NOTHING`)
}
