package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"studio-board/internal/board"
	"studio-board/internal/common"
	"studio-board/internal/models"
	"studio-board/internal/services"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Write sample clients, projects and tickets into the document store",
	Long: `Write sample data into the document store named by the configuration.

The server must not be running: the store file is locked while it is open.`,
	Args: cobra.NoArgs,
	RunE: runSeed,
}

var (
	seedClient   string
	seedProjects int
	seedTickets  int
)

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().StringVar(&seedClient, "client", "Sample Client", "Client name")
	seedCmd.Flags().IntVar(&seedProjects, "projects", 2, "Projects to create")
	seedCmd.Flags().IntVar(&seedTickets, "tickets", 8, "Tickets per project")
}

var sampleTitles = []string{
	"Storyboard review", "Casting call", "Location scout", "Rough cut",
	"Colour grade", "Sound design", "Music licensing", "Final delivery",
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := common.GetLogger()

	store, err := services.NewDocumentStore(&cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	repo := services.NewRepository(store, logger)

	client, err := repo.CreateClient(ctx, models.Client{Name: seedClient, CreatedBy: "studio-boardctl"})
	if err != nil {
		return err
	}

	for p := 0; p < seedProjects; p++ {
		project, err := seedProject(ctx, repo, client.ID, p)
		if err != nil {
			return err
		}
		fmt.Printf("Created project %s: %s (%d tickets)\n", project.ID, project.Name, seedTickets)
	}
	fmt.Printf("Seeded client %s: %s\n", client.ID, client.Name)
	return nil
}

// seedProject spreads tickets round-robin over the default cells.
func seedProject(ctx context.Context, repo *services.Repository, clientID string, n int) (*models.Project, error) {
	id := uuid.NewString()
	statuses := board.DefaultStatuses(id)
	swimlanes := board.DefaultSwimlanes(id)

	project, err := repo.CreateProject(ctx, models.Project{
		ID:        id,
		ClientID:  clientID,
		Name:      fmt.Sprintf("Campaign %d", n+1),
		Statuses:  statuses,
		Swimlanes: swimlanes,
		CreatedBy: "studio-boardctl",
	})
	if err != nil {
		return nil, err
	}

	orders := make(map[board.CellKey]int)
	for i := 0; i < seedTickets; i++ {
		key := board.NewCellKey(swimlanes[i%len(swimlanes)].ID, statuses[i%len(statuses)].ID)
		_, err := repo.CreateTicket(ctx, id, models.Ticket{
			Title:       sampleTitles[i%len(sampleTitles)],
			SwimlaneID:  key.SwimlaneID,
			StatusID:    key.StatusID,
			Order:       orders[key],
			Attachments: []models.Attachment{},
			Comments:    []models.Comment{},
			CreatedBy:   "studio-boardctl",
		})
		if err != nil {
			return nil, err
		}
		orders[key]++
	}
	return project, nil
}
