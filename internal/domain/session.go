package domain

// SessionUser is the student view carried by a session token.
type SessionUser struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	University    string `json:"university"`
	Faculty       string `json:"faculty"`
	Department    string `json:"department,omitempty"`
	OrgCode       string `json:"org_code"`
	Timezone      string `json:"timezone"`
	Status        Status `json:"status"`
	DaysRemaining int    `json:"days_remaining"`
}

// Affiliation returns the academic target stored in the session.
func (s SessionUser) Affiliation() Affiliation {
	return Affiliation{University: s.University, Faculty: s.Faculty, Department: s.Department}
}

// SessionOrg is the organization view carried by a session token.
type SessionOrg struct {
	Code          string `json:"org_code"`
	Name          string `json:"org_name"`
	Timezone      string `json:"timezone"`
	FullDashboard bool   `json:"full_dashboard"`
}
