package board

import (
	"fmt"
	"sort"
	"strings"

	"studio-board/internal/models"
)

// Tickets without a swimlane or status belong to these cells. The fallback
// applies everywhere a cell is computed.
const (
	DefaultSwimlaneID = "production"
	DefaultStatusID   = "todo"
)

const cellSeparator = "::"

// CellKey identifies one (swimlane, status) intersection of a board.
type CellKey struct {
	SwimlaneID string
	StatusID   string
}

// NewCellKey builds a key, substituting the default swimlane and status for
// empty values.
func NewCellKey(swimlaneID, statusID string) CellKey {
	if swimlaneID == "" {
		swimlaneID = DefaultSwimlaneID
	}
	if statusID == "" {
		statusID = DefaultStatusID
	}
	return CellKey{SwimlaneID: swimlaneID, StatusID: statusID}
}

// CellOf returns the cell a ticket is displayed in.
func CellOf(t models.Ticket) CellKey {
	return NewCellKey(t.SwimlaneID, t.StatusID)
}

func (k CellKey) String() string {
	k = NewCellKey(k.SwimlaneID, k.StatusID)
	return k.SwimlaneID + cellSeparator + k.StatusID
}

// ParseCellKey decodes "<swimlane>::<status>". Either side may be empty.
func ParseCellKey(s string) (CellKey, error) {
	swimlane, status, ok := strings.Cut(s, cellSeparator)
	if !ok {
		return CellKey{}, fmt.Errorf("invalid cell key %q", s)
	}
	return NewCellKey(swimlane, status), nil
}

func (k CellKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *CellKey) UnmarshalText(text []byte) error {
	parsed, err := ParseCellKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// SortByOrder returns a copy of tickets stable-sorted by ascending order.
func SortByOrder(tickets []models.Ticket) []models.Ticket {
	out := append([]models.Ticket(nil), tickets...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// CellTickets lists the tickets in one cell, top to bottom.
func CellTickets(tickets []models.Ticket, key CellKey) []models.Ticket {
	key = NewCellKey(key.SwimlaneID, key.StatusID)
	var out []models.Ticket
	for _, t := range SortByOrder(tickets) {
		if CellOf(t) == key {
			out = append(out, t)
		}
	}
	return out
}

// CountByCell counts tickets per cell.
func CountByCell(tickets []models.Ticket) map[CellKey]int {
	counts := make(map[CellKey]int)
	for _, t := range tickets {
		counts[CellOf(t)]++
	}
	return counts
}
