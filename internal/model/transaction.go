package model

import "time"

// Status is the terminal or in-flight disposition of a Transaction.
type Status string

const (
	StatusInitiated  Status = "initiated"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusDeleted    Status = "deleted"
	StatusNeedsReview Status = "needs_review"
)

// Transaction is created the moment the supervisor first confirms RFID
// contact for a refill, and ends in exactly one terminal status (I4, I5).
type Transaction struct {
	ID              int64     `json:"id"`
	Tag             Tag       `json:"tag"`
	FleetNumber     string    `json:"fleet_number"`
	StartMeter      Liters    `json:"start_meter"`
	DispensedLiters Liters    `json:"dispensed_liters"`
	MachineHours    float64   `json:"machine_hours"`
	CreatedAt       time.Time `json:"created_at"`
	Status          Status    `json:"status"`
}
