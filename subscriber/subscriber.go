package subscriber

// Profile describes a user of the application. The table is owned by the
// account system; this service only ever reads from it.
type Profile struct {
	ID    string `json:"id" gorm:"primaryKey"`
	Email string `json:"email" gorm:"uniqueIndex"` // Billing email, used to attach checkout events to a user
}

// TableName matches the schema owned by the account system
func (Profile) TableName() string {
	return "profiles"
}
