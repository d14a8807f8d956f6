package training

import (
	"fmt"
	"regexp"
	"strings"
)

type Kind string

const (
	KindSQL           Kind = "sql"
	KindDocumentation Kind = "documentation"
)

// Item is one piece of training material. For KindSQL items Name holds the
// question the SQL answers; for documentation it holds the table name.
type Item struct {
	Kind  Kind   `json:"kind"`
	Group string `json:"group"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Plan is an ordered, fully built set of training items.
type Plan struct {
	items []Item
}

func NewPlan(items ...Item) Plan {
	return Plan{items: append([]Item(nil), items...)}
}

func (p Plan) Items() []Item {
	return append([]Item(nil), p.items...)
}

func (p Plan) Len() int { return len(p.items) }

func (p Plan) CountByKind(kind Kind) int {
	count := 0
	for _, item := range p.items {
		if item.Kind == kind {
			count++
		}
	}
	return count
}

type ResourceID struct {
	Project string
	Dataset string
	Table   string
}

func (r ResourceID) Group() string { return r.Project + "." + r.Dataset }

func (r ResourceID) String() string { return r.Project + "." + r.Dataset + "." + r.Table }

func ParseResourceID(raw string) (ResourceID, error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 3 {
		return ResourceID{}, &InvalidResourceIDError{ResourceID: raw, Reason: "expected project.dataset.table"}
	}
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			return ResourceID{}, &InvalidResourceIDError{ResourceID: raw, Reason: "empty segment"}
		}
		if strings.ContainsAny(part, "`'\"\\") {
			return ResourceID{}, &InvalidResourceIDError{ResourceID: raw, Reason: "segment contains quote characters"}
		}
	}
	return ResourceID{Project: parts[0], Dataset: parts[1], Table: parts[2]}, nil
}

var locationPattern = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// ValidateLocation accepts an empty location or a region name such as
// "asia-southeast1" or "US". Locations are interpolated into identifiers.
func ValidateLocation(location string) error {
	location = strings.TrimSpace(location)
	if location == "" || locationPattern.MatchString(location) {
		return nil
	}
	return &InvalidLocationError{Location: location}
}

type InvalidLocationError struct {
	Location string
}

func (e *InvalidLocationError) Error() string {
	return fmt.Sprintf("invalid location %q: expected a region name of letters, digits and dashes", e.Location)
}

type InvalidResourceIDError struct {
	ResourceID string
	Reason     string
}

func (e *InvalidResourceIDError) Error() string {
	return fmt.Sprintf("invalid resource id %q: %s", e.ResourceID, e.Reason)
}

type MetadataNotFoundError struct {
	ResourceID string
	View       string
}

func (e *MetadataNotFoundError) Error() string {
	return fmt.Sprintf("no %s metadata found for %s; the table does not exist or is not accessible", e.View, e.ResourceID)
}
