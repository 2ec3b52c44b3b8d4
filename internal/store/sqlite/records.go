package sqlite

import (
	"time"

	"gorm.io/gorm"
)

type venueRecord struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	NameKey   string `gorm:"not null;uniqueIndex"`
	Name      string `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (venueRecord) TableName() string { return "venues" }

type trainerRecord struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	NameKey   string `gorm:"not null;uniqueIndex"`
	FirstName string `gorm:"not null"`
	LastName  string `gorm:"not null;default:''"`
	Handle    string `gorm:"not null;uniqueIndex"`
	Contact   string `gorm:"not null"`
	Role      string `gorm:"not null;default:'trainer'"`
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

func (trainerRecord) TableName() string { return "trainers" }

type personRecord struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	ExternalID  string `gorm:"not null;uniqueIndex"`
	FirstName   string `gorm:"not null"`
	LastName    string `gorm:"not null;default:''"`
	Contact     string `gorm:"not null"`
	InitialNote string `gorm:"not null;default:''"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   gorm.DeletedAt `gorm:"index"`
}

func (personRecord) TableName() string { return "people" }

type eventRecord struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	ExternalID string    `gorm:"not null;uniqueIndex"`
	EventType  string    `gorm:"not null;default:''"`
	Content    string    `gorm:"not null;default:''"`
	OccurredAt time.Time `gorm:"not null"`
	TrainerID  int64     `gorm:"not null;index"`
	VenueID    int64     `gorm:"not null;index"`
	CreatedAt  time.Time
	UpdatedAt  time.Time

	Trainer *trainerRecord `gorm:"foreignKey:TrainerID;constraint:OnDelete:RESTRICT"`
	Venue   *venueRecord   `gorm:"foreignKey:VenueID;constraint:OnDelete:RESTRICT"`
}

func (eventRecord) TableName() string { return "events" }

type attendanceRecord struct {
	ID             int64  `gorm:"primaryKey;autoIncrement"`
	PersonID       int64  `gorm:"not null;uniqueIndex:attendance_person_event"`
	EventID        int64  `gorm:"not null;uniqueIndex:attendance_person_event;index"`
	NoteDuring     string `gorm:"not null;default:''"`
	CompletionNote string `gorm:"not null;default:''"`
	Status         string `gorm:"not null;default:'attended'"`
	CreatedAt      time.Time
	UpdatedAt      time.Time

	Person *personRecord `gorm:"foreignKey:PersonID;constraint:OnDelete:RESTRICT"`
	Event  *eventRecord  `gorm:"foreignKey:EventID;constraint:OnDelete:RESTRICT"`
}

func (attendanceRecord) TableName() string { return "attendance" }

// allRecords lists the tables in dependency order for AutoMigrate.
var allRecords = []interface{}{
	&venueRecord{},
	&trainerRecord{},
	&personRecord{},
	&eventRecord{},
	&attendanceRecord{},
}
