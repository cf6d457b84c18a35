package board

import "studio-board/internal/models"

// Grid is a rendered board: one row per swimlane, one cell per status.
type Grid struct {
	Columns []models.ProjectStatus `json:"columns"`
	Rows    []Row                  `json:"rows"`
	// Unplaced counts tickets whose cell is not on the grid.
	Unplaced int `json:"unplaced"`
}

type Row struct {
	Swimlane models.Swimlane `json:"swimlane"`
	Cells    []Cell          `json:"cells"`
	Count    int             `json:"count"`
}

type Cell struct {
	Key     CellKey         `json:"key"`
	Shade   string          `json:"shade"`
	Tickets []models.Ticket `json:"tickets"`
	Count   int             `json:"count"`
}

// BuildBoard lays tickets out on the layout's grid.
func BuildBoard(layout Layout, tickets []models.Ticket) Grid {
	counts := CountByCell(tickets)
	grid := Grid{Columns: layout.Statuses, Rows: make([]Row, 0, len(layout.Swimlanes))}

	placed := 0
	for rowIndex, lane := range layout.Swimlanes {
		row := Row{Swimlane: lane, Cells: make([]Cell, 0, len(layout.Statuses))}
		for _, status := range layout.Statuses {
			key := NewCellKey(lane.ID, status.ID)
			cellTickets := CellTickets(tickets, key)
			if cellTickets == nil {
				cellTickets = []models.Ticket{}
			}
			row.Cells = append(row.Cells, Cell{
				Key:     key,
				Shade:   Shade(status.Color, rowIndex),
				Tickets: cellTickets,
				Count:   counts[key],
			})
			row.Count += counts[key]
		}
		placed += row.Count
		grid.Rows = append(grid.Rows, row)
	}
	grid.Unplaced = len(tickets) - placed
	return grid
}
