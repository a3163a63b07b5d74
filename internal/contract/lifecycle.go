package contract

import (
	"time"
)

// ExpiringSoonDays est la fenêtre (en jours) du statut ExpiringSoon.
const ExpiringSoonDays = 30

// Status est la catégorie dérivée d'un contrat.
type Status string

const (
	StatusActive       Status = "active"
	StatusExpiringSoon Status = "expiring_soon"
	StatusExpired      Status = "expired"
)

// ParseStatus convertit un filtre textuel ; ok vaut false si inconnu.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusActive, StatusExpiringSoon, StatusExpired:
		return Status(s), true
	}
	return "", false
}

// StatusView est la vue calculée affichée par les écrans de liste et de détail.
type StatusView struct {
	Status             Status  `json:"status"`
	DaysLeft           int     `json:"daysLeft"`
	TimeProgressPct    float64 `json:"timeProgressPct"`
	ServiceProgressPct float64 `json:"serviceProgressPct"`
}

// Evaluate calcule statut et progression de c à l'instant now.
//
// Les jours sont comptés entre dates civiles UTC (minuit UTC), l'expiration
// compare les instants exacts. ServiceProgressPct peut dépasser 100.
//
// Un contrat dont la fin tombe le jour même (DaysLeft == 0) mais dont
// l'instant de fin n'est pas atteint reste ExpiringSoon, et non Active.
func Evaluate(c Contract, now time.Time) StatusView {
	daysLeft := DaysBetween(now, c.EndDate)

	var status Status
	switch {
	case c.EndDate.Before(now):
		status = StatusExpired
	case daysLeft <= ExpiringSoonDays:
		status = StatusExpiringSoon
	default:
		status = StatusActive
	}

	return StatusView{
		Status:             status,
		DaysLeft:           daysLeft,
		TimeProgressPct:    timeProgress(c.StartDate, c.EndDate, daysLeft),
		ServiceProgressPct: serviceProgress(c.ServicesUsed, c.ServicesTotal),
	}
}

// DaysBetween renvoie le nombre de jours civils UTC de from à to.
func DaysBetween(from, to time.Time) int {
	return int(civilDay(to).Sub(civilDay(from)) / (24 * time.Hour))
}

func civilDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func timeProgress(start, end time.Time, daysLeft int) float64 {
	totalDays := DaysBetween(start, end)
	if totalDays <= 0 {
		return 0
	}
	pct := float64(totalDays-daysLeft) / float64(totalDays) * 100
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	}
	return pct
}

func serviceProgress(used, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(used) / float64(total) * 100
}
