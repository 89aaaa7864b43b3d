package service

import (
	"strings"

	"github.com/noah-isme/seatwatch/internal/models"
	appErrors "github.com/noah-isme/seatwatch/pkg/errors"
)

// Evaluate computes the seats open for sub in data. Without a section
// criterion the best single section counts, never a sum. With a criterion,
// sections and their meetings are matched by trimmed, case-insensitive id;
// no match reports 0/0. A nil payload or a missing sections list is an
// evaluation error, not an empty course.
func Evaluate(sub models.Subscription, data *models.CourseData) (models.Availability, error) {
	if data == nil {
		return models.Availability{}, appErrors.Clone(appErrors.ErrEvaluation, "course data missing")
	}
	if data.Sections == nil {
		return models.Availability{}, appErrors.Clone(appErrors.ErrEvaluation, "course data has no sections list")
	}

	criterion := sub.Section()
	if criterion == "" {
		return bestSection(data.Sections), nil
	}

	for _, section := range data.Sections {
		if matchesID(section.ID, criterion) {
			return models.Availability{Available: section.Available, Total: section.Capacity}, nil
		}
		for _, meeting := range section.Meetings {
			if matchesID(meeting.ID, criterion) {
				return models.Availability{Available: meeting.Available, Total: meeting.Capacity}, nil
			}
		}
	}
	return models.Availability{}, nil
}

// bestSection picks the section with the most open seats; ties keep the first.
func bestSection(sections []models.Section) models.Availability {
	var best models.Availability
	for i, section := range sections {
		if i == 0 || section.Available > best.Available {
			best = models.Availability{Available: section.Available, Total: section.Capacity}
		}
	}
	return best
}

func matchesID(id, criterion string) bool {
	return strings.EqualFold(strings.TrimSpace(id), criterion)
}

// Decision is what a cycle does for one evaluated subscription.
type Decision struct {
	Dispatch bool
	Sent     bool
}

// Decide applies the edge-triggered policy: dispatch only when seats are open
// and the previous run had not already notified.
func Decide(previouslySent bool, available int) Decision {
	open := available > 0
	return Decision{
		Dispatch: open && !previouslySent,
		Sent:     open,
	}
}
