package board

import (
	"errors"

	"studio-board/internal/models"
)

var ErrTicketNotFound = errors.New("ticket is not on the board")

// Move is the outcome of a drag gesture. Indexes are zero-based positions in
// the cell's top-to-bottom list.
type Move struct {
	TicketID    string  `json:"ticketId"`
	Source      CellKey `json:"source"`
	SourceIndex int     `json:"sourceIndex"`
	Dest        CellKey `json:"dest"`
	DestIndex   int     `json:"destIndex"`
}

// IsNoop reports whether the ticket is dropped where it was picked up.
func (m Move) IsNoop() bool {
	return NewCellKey(m.Source.SwimlaneID, m.Source.StatusID) == NewCellKey(m.Dest.SwimlaneID, m.Dest.StatusID) &&
		m.SourceIndex == m.DestIndex
}

// Result is the board after a move. Moved is the dragged ticket's new
// record; Changed is false for no-op moves, in which case Tickets is the
// input unchanged.
type Result struct {
	Tickets []models.Ticket
	Moved   models.Ticket
	Changed bool
}

// Fields returns the partial update persisted for the moved ticket.
func (r Result) Fields() map[string]any {
	return map[string]any{
		"swimlaneId": r.Moved.SwimlaneID,
		"statusId":   r.Moved.StatusID,
		"order":      r.Moved.Order,
	}
}

// Reorder computes the board after m. Only the dragged ticket's record
// changes; its order becomes the clamped destination index and siblings keep
// their stored orders.
func Reorder(tickets []models.Ticket, m Move) (Result, error) {
	if m.IsNoop() {
		return Result{Tickets: tickets}, nil
	}

	sorted := SortByOrder(tickets)
	dragged := -1
	for i, t := range sorted {
		if t.ID == m.TicketID {
			dragged = i
			break
		}
	}
	if dragged < 0 {
		return Result{Tickets: tickets}, ErrTicketNotFound
	}

	dest := NewCellKey(m.Dest.SwimlaneID, m.Dest.StatusID)
	moved := sorted[dragged]

	var inDest, others []models.Ticket
	for i, t := range sorted {
		if i == dragged {
			continue
		}
		if CellOf(t) == dest {
			inDest = append(inDest, t)
		} else {
			others = append(others, t)
		}
	}

	index := m.DestIndex
	if index < 0 {
		index = 0
	}
	if index > len(inDest) {
		index = len(inDest)
	}

	moved.SwimlaneID = dest.SwimlaneID
	moved.StatusID = dest.StatusID
	moved.Order = index

	cell := make([]models.Ticket, 0, len(inDest)+1)
	cell = append(cell, inDest[:index]...)
	cell = append(cell, moved)
	cell = append(cell, inDest[index:]...)

	out := make([]models.Ticket, 0, len(tickets))
	out = append(out, others...)
	out = append(out, cell...)

	return Result{Tickets: out, Moved: moved, Changed: true}, nil
}
