package domain

import (
	"strings"
	"time"
)

// DashboardTier selects which metrics an organization can see.
type DashboardTier string

const (
	TierBasic DashboardTier = "basic"
	TierFull  DashboardTier = "full"
)

// Organization represents a partner institution that students register under.
type Organization struct {
	Code         string
	Name         string
	PasswordHash string
	Timezone     string
	// FullDashboard enables submission activity metrics and drill-down.
	FullDashboard bool
	Universities  []University
	CreatedAt     time.Time
}

// Tier returns the dashboard tier enabled for the organization.
func (o Organization) Tier() DashboardTier {
	if o.FullDashboard {
		return TierFull
	}
	return TierBasic
}

// University is one entry of an organization's registration catalog.
type University struct {
	Name      string    `json:"name"`
	Faculties []Faculty `json:"faculties,omitempty"`
}

// Faculty lists the departments offered under a program or faculty.
type Faculty struct {
	Name        string   `json:"name"`
	Departments []string `json:"departments,omitempty"`
}

// Offers reports whether the catalog lists the affiliation. An empty catalog
// accepts any affiliation.
func (o Organization) Offers(a Affiliation) bool {
	if len(o.Universities) == 0 {
		return true
	}
	for _, u := range o.Universities {
		if !strings.EqualFold(u.Name, a.University) {
			continue
		}
		if len(u.Faculties) == 0 {
			return true
		}
		for _, f := range u.Faculties {
			if !strings.EqualFold(f.Name, a.Faculty) {
				continue
			}
			if a.Department == "" || len(f.Departments) == 0 {
				return true
			}
			for _, d := range f.Departments {
				if strings.EqualFold(d, a.Department) {
					return true
				}
			}
		}
	}
	return false
}
