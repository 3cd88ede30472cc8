package model

import "time"

// Machine represents a machining centre (CU) whose controller writes the log files.
type Machine struct {
	ID          int64     `gorm:"primaryKey"`
	Name        string    `gorm:"uniqueIndex;size:100;not null"`
	Type        string    `gorm:"size:50;not null"`
	Description string    `gorm:"type:text"`
	Active      bool      `gorm:"not null;default:true"`
	CreatedAt   time.Time `gorm:"not null"`

	// Associations
	Sessions []Session `gorm:"foreignKey:MachineID"`
}

// TableName pins the table name used by the reporting side.
func (Machine) TableName() string { return "machine" }
