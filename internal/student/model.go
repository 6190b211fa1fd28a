package student

import "time"

type Student struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Email       string     `json:"email"`
	Phone       string     `json:"phone,omitempty"`
	DateOfBirth *time.Time `json:"date_of_birth,omitempty"`
	Address     string     `json:"address,omitempty"`
	Note        string     `json:"note,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type StudentInput struct {
	Name        string     `json:"name"`
	Email       string     `json:"email"`
	Phone       string     `json:"phone"`
	DateOfBirth *time.Time `json:"date_of_birth"`
	Address     string     `json:"address"`
	Note        string     `json:"note"`
}

// Page is the generic paginated wrapper returned by list endpoints.
type Page struct {
	Items      []Student `json:"items"`
	Total      int64     `json:"total"`
	PageNumber int       `json:"page"`
	PageSize   int       `json:"page_size"`
}
