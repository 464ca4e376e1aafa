package models

import "time"

// Role is the kind of account a profile belongs to
type Role string

const (
	RoleCustomer Role = "customer"
	RoleBusiness Role = "business"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	return r == RoleCustomer || r == RoleBusiness
}

// Profile represents an identity record, either a registered account or a guest
type Profile struct {
	ID                 string    `json:"id"`
	Email              string    `json:"email,omitempty"`
	FullName           string    `json:"full_name"`
	Role               Role      `json:"role"`
	Code               string    `json:"qr_code,omitempty"`
	AvatarURL          string    `json:"avatar_url,omitempty"`
	Phone              string    `json:"phone,omitempty"`
	PushToken          *string   `json:"push_token,omitempty"`
	EmailNotifications bool      `json:"email_notifications"`
	SMSNotifications   bool      `json:"sms_notifications"`
	IsGuest            bool      `json:"is_guest"`
	TicketNumber       string    `json:"ticket_number,omitempty"`
	PasswordHash       string    `json:"-"`
	CreatedAt          time.Time `json:"created_at"`
}

// DisplayName returns the name shown to staff, falling back to the email
func (p *Profile) DisplayName() string {
	if p.FullName != "" {
		return p.FullName
	}
	return p.Email
}

// Company represents a business owned by exactly one business profile
type Company struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	IsActive    bool      `json:"is_active"`
	Code        string    `json:"company_qr_code,omitempty"`
	JoinCode    string    `json:"join_code,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Queue represents a waiting line of a company
type Queue struct {
	ID                     string    `json:"id"`
	CompanyID              string    `json:"company_id"`
	Name                   string    `json:"name"`
	Description            string    `json:"description,omitempty"`
	MaxCapacity            *int      `json:"max_capacity,omitempty"`
	EstimatedTimePerPerson int       `json:"estimated_time_per_person"`
	IsActive               bool      `json:"is_active"`
	CreatedAt              time.Time `json:"created_at"`
}

// EstimatedWait returns the wait in minutes for someone at the given position
func (q *Queue) EstimatedWait(position int) int {
	return position * q.EstimatedTimePerPerson
}

// Principal is the authenticated caller of an operation
type Principal struct {
	UserID string
	Role   Role
}

// Authenticated reports whether the principal carries a user
func (p Principal) Authenticated() bool {
	return p.UserID != ""
}
