// internal/models/order.go
package models

// Order represents one payment intent made by a user. A negative total price
// denotes a refund. Orders are never deleted; every status change is recorded
// in an OrderAudit snapshot.
type Order struct {
	BaseModel
	UserID         uint        `json:"user_id" gorm:"not null;index"`
	ApplicationID  *uint       `json:"application_id" gorm:"index"`
	Status         OrderStatus `json:"status" gorm:"size:30;default:'created';index"`
	TotalPricePaid float64     `json:"total_price_paid" gorm:"type:decimal(20,2);not null"`

	// Relationships
	User        User                 `json:"-" gorm:"foreignKey:UserID"`
	Application *BootcampApplication `json:"-" gorm:"foreignKey:ApplicationID"`
	Lines       []Line               `json:"lines,omitempty" gorm:"foreignKey:OrderID"`
}

// Line is one priced entry within an Order.
type Line struct {
	BaseModel
	OrderID     uint    `json:"order_id" gorm:"not null;index"`
	RunKey      int     `json:"run_key" gorm:"not null;index"`
	Price       float64 `json:"price" gorm:"type:decimal(20,2);not null"`
	Description string  `json:"description" gorm:"type:text"`
}

// OrderAudit is an append-only before/after snapshot of an Order mutation,
// written in the same transaction as the mutation itself.
type OrderAudit struct {
	BaseModel
	OrderID      *uint `json:"order_id" gorm:"index"`
	ActingUserID *uint `json:"acting_user_id"`
	DataBefore   JSONB `json:"data_before" gorm:"type:jsonb"`
	DataAfter    JSONB `json:"data_after" gorm:"type:jsonb"`
}

// Receipt is the durable record of a raw inbound gateway callback, created
// before the callback is understood and immutable afterwards (except for the
// order link filled in once the reference number resolves).
type Receipt struct {
	BaseModel
	OrderID *uint `json:"order_id" gorm:"index"`
	Data    JSONB `json:"data" gorm:"type:jsonb"`
}
